package entity

import "time"

// Address dirección nacional saudí (National Address). BuildingNumber tiene 4 dígitos.
type Address struct {
	Street         string
	BuildingNumber string
	District       string
	City           string
	PostalCode     string
	Country        string // ISO 3166-1 alfa-2, "SA" por defecto
}

// Company representa una organización/tenant del sistema (vendedor en la factura).
type Company struct {
	ID        string
	Name      string
	Address   Address
	Phone     string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
