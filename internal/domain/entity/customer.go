package entity

import "time"

// Customer representa un cliente de la empresa (comprador en la factura).
// VATNumber vacío identifica un comprador B2C (factura simplificada).
type Customer struct {
	ID        string
	CompanyID string
	Name      string
	VATNumber string
	Address   Address
	Email     string
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
