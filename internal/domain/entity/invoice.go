package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tipos de documento de origen en el módulo de facturación.
const (
	SourceKindInvoice    = "invoice"
	SourceKindCreditNote = "credit_note"
	SourceKindDebitNote  = "debit_note"
)

// Invoice factura de origen del módulo de facturación. Este servicio solo la lee.
type Invoice struct {
	ID               string
	CompanyID        string
	CustomerID       string
	Number           string
	Kind             string // ver SourceKind*
	BillingReference string // número de la factura original (notas crédito/débito)
	IssueDate        time.Time
	DueDate          *time.Time
	SupplyDate       *time.Time // fecha de entrega (cac:Delivery)
	Currency         string
	PaymentMethod    string
	NetTotal         decimal.Decimal
	TaxTotal         decimal.Decimal
	GrandTotal       decimal.Decimal
	Note             string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SourceInvoice agrega todo lo que el transformador necesita de la factura de origen.
type SourceInvoice struct {
	Invoice  *Invoice
	Details  []*InvoiceDetail
	Company  *Company
	Customer *Customer // nil = consumidor final sin datos
}
