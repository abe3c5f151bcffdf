package zatca

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
)

// Party vendedor o comprador del documento.
type Party struct {
	Name      string         `json:"name"`
	VATNumber string         `json:"vat_number,omitempty"`
	Address   entity.Address `json:"address"`
}

// DocumentLine línea con importes recalculados.
type DocumentLine struct {
	ID              int             `json:"id"`
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	LineExtension   decimal.Decimal `json:"line_extension"`
	VATCategory     string          `json:"vat_category"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	RoundingAmount  decimal.Decimal `json:"rounding_amount"`
	ExemptionCode   string          `json:"exemption_code,omitempty"`
	ExemptionReason string          `json:"exemption_reason,omitempty"`
}

// TaxSubtotal desglose de IVA por categoría y tasa.
type TaxSubtotal struct {
	Category        string          `json:"category"`
	Rate            decimal.Decimal `json:"rate"`
	TaxableAmount   decimal.Decimal `json:"taxable_amount"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	ExemptionCode   string          `json:"exemption_code,omitempty"`
	ExemptionReason string          `json:"exemption_reason,omitempty"`
}

// Document representación canónica de la factura ZATCA, independiente del XML.
// InvoiceNumber, UUID, Counter y PreviousHash los asigna el orquestador al encadenar.
type Document struct {
	Phase            string          `json:"phase"`
	InvoiceType      string          `json:"invoice_type"`
	TypeCode         string          `json:"type_code"`
	TypeName         string          `json:"type_name"`
	SourceNumber     string          `json:"source_number"`
	InvoiceNumber    string          `json:"invoice_number"`
	UUID             string          `json:"uuid"`
	Counter          int64           `json:"counter"`
	PreviousHash     string          `json:"previous_hash"`
	IssuedAt         time.Time       `json:"issued_at"`
	SupplyDate       *time.Time      `json:"supply_date,omitempty"`
	DueDate          *time.Time      `json:"due_date,omitempty"`
	Currency         string          `json:"currency"`
	PaymentMeansCode string          `json:"payment_means_code,omitempty"`
	BillingReference string          `json:"billing_reference,omitempty"`
	Note             string          `json:"note,omitempty"`
	Seller           Party           `json:"seller"`
	Buyer            *Party          `json:"buyer,omitempty"`
	Lines            []DocumentLine  `json:"lines"`
	TaxSubtotals     []TaxSubtotal   `json:"tax_subtotals"`
	LineExtension    decimal.Decimal `json:"line_extension"`
	TaxExclusive     decimal.Decimal `json:"tax_exclusive"`
	TaxTotal         decimal.Decimal `json:"tax_total"`
	TaxInclusive     decimal.Decimal `json:"tax_inclusive"`
	Payable          decimal.Decimal `json:"payable"`
}

// IsSimplified factura B2C (sin IVA del comprador); se reporta en lugar de ir a clearance.
func (d *Document) IsSimplified() bool {
	return strings.HasPrefix(d.TypeName, "02")
}

// QRData datos del QR a partir del documento. Los campos de firma los completa el firmador.
func (d *Document) QRData() QRData {
	return QRData{
		SellerName:   d.Seller.Name,
		VATNumber:    d.Seller.VATNumber,
		Timestamp:    d.IssuedAt,
		InvoiceTotal: d.TaxInclusive,
		VATTotal:     d.TaxTotal,
	}
}
