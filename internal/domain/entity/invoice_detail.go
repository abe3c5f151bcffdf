package entity

import "github.com/shopspring/decimal"

// InvoiceDetail representa una línea de detalle de la factura de origen.
type InvoiceDetail struct {
	ID          string
	InvoiceID   string
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	TaxRate     decimal.Decimal // fracción: 0.15 = 15%
	VATCategory string          // S, Z, E, O
	Subtotal    decimal.Decimal // Quantity * UnitPrice
}
