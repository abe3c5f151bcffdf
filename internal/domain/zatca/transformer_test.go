package zatca_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func phase1Config() *entity.ZatcaConfiguration {
	return &entity.ZatcaConfiguration{
		CompanyID:   "c1",
		Enabled:     true,
		Phase:       pkgzatca.Phase1,
		Environment: pkgzatca.EnvSandbox,
		APIEndpoint: "https://api.example.sa",
		APIKey:      "key",
		APISecret:   "secret",
		TaxNumber:   "310122393500003",
		BranchCode:  "001",
	}
}

func phase2Config() *entity.ZatcaConfiguration {
	issued := testNow.Add(-24 * time.Hour)
	cfg := phase1Config()
	cfg.Phase = pkgzatca.Phase2
	cfg.APIEndpoint = ""
	cfg.DeviceID = "123456"
	cfg.CertificatePath = "/keys/cert.pem"
	cfg.PrivateKeyPath = "/keys/key.pem"
	cfg.CSIDToken = "token"
	cfg.CSIDSecret = "secret"
	cfg.CSIDStatus = pkgzatca.CSIDIssued
	cfg.CSIDIssuedAt = &issued
	return cfg
}

// sourceInvoice factura de 100.00 + 15.00 de IVA.
func sourceInvoice() *entity.SourceInvoice {
	return &entity.SourceInvoice{
		Invoice: &entity.Invoice{
			ID:         "inv-1",
			CompanyID:  "c1",
			Number:     "F-0001",
			Kind:       entity.SourceKindInvoice,
			IssueDate:  testNow.Add(-time.Hour),
			Currency:   "SAR",
			NetTotal:   decimal.NewFromInt(100),
			TaxTotal:   decimal.NewFromInt(15),
			GrandTotal: decimal.NewFromInt(115),
		},
		Details: []*entity.InvoiceDetail{
			{Description: "Producto A", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(25), TaxRate: decimal.RequireFromString("0.15"), VATCategory: "S"},
			{Description: "Producto B", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(50), TaxRate: decimal.RequireFromString("0.15"), VATCategory: "S"},
		},
		Company: &entity.Company{ID: "c1", Name: "Bobs Records", Address: entity.Address{Street: "King Fahd Rd", City: "Riyadh", PostalCode: "12345"}},
	}
}

func TestTransform_Phase1Simplificada(t *testing.T) {
	doc, err := zatca.Transform(sourceInvoice(), phase1Config(), testNow)
	require.NoError(t, err)

	assert.Equal(t, pkgzatca.InvoiceTypeSimplified, doc.InvoiceType)
	assert.Equal(t, pkgzatca.TypeCodeInvoice, doc.TypeCode)
	assert.Equal(t, pkgzatca.TypeNameSimplified, doc.TypeName)
	assert.True(t, doc.IsSimplified())
	assert.Equal(t, "100.00", doc.TaxExclusive.StringFixed(2))
	assert.Equal(t, "15.00", doc.TaxTotal.StringFixed(2))
	assert.Equal(t, "115.00", doc.TaxInclusive.StringFixed(2))
	require.Len(t, doc.Lines, 2)
	require.Len(t, doc.TaxSubtotals, 1)
	assert.Empty(t, doc.PaymentMeansCode, "phase1 no incluye medio de pago")
	assert.Equal(t, "310122393500003", doc.Seller.VATNumber)
	assert.Equal(t, "SA", doc.Seller.Address.Country)
}

func TestTransform_Phase2Estandar(t *testing.T) {
	src := sourceInvoice()
	src.Invoice.PaymentMethod = "BANK_TRANSFER"
	supply := testNow.Add(-2 * time.Hour)
	src.Invoice.SupplyDate = &supply
	src.Customer = &entity.Customer{Name: "Comprador SA", VATNumber: "300000000000003", Address: entity.Address{City: "Jeddah"}}

	doc, err := zatca.Transform(src, phase2Config(), testNow)
	require.NoError(t, err)
	assert.Equal(t, pkgzatca.InvoiceTypeStandard, doc.InvoiceType)
	assert.Equal(t, pkgzatca.TypeNameStandard, doc.TypeName)
	assert.False(t, doc.IsSimplified())
	assert.Equal(t, "30", doc.PaymentMeansCode)
	require.NotNil(t, doc.Buyer)
	assert.Equal(t, "300000000000003", doc.Buyer.VATNumber)
	require.NotNil(t, doc.SupplyDate)
}

func TestTransform_NotaCreditoRequiereReferencia(t *testing.T) {
	src := sourceInvoice()
	src.Invoice.Kind = entity.SourceKindCreditNote
	_, err := zatca.Transform(src, phase1Config(), testNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invoice.billing_reference")

	src.Invoice.BillingReference = "F-0000"
	doc, err := zatca.Transform(src, phase1Config(), testNow)
	require.NoError(t, err)
	assert.Equal(t, pkgzatca.TypeCodeCreditNote, doc.TypeCode)
}

func TestTransform_ErroresDeValidacion(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*entity.SourceInvoice, *entity.ZatcaConfiguration)
		field  string
	}{
		{"tax number corto", func(_ *entity.SourceInvoice, c *entity.ZatcaConfiguration) { c.TaxNumber = "12345" }, "tax_number"},
		{"sin líneas", func(s *entity.SourceInvoice, _ *entity.ZatcaConfiguration) { s.Details = nil }, "lines"},
		{"cantidad cero", func(s *entity.SourceInvoice, _ *entity.ZatcaConfiguration) { s.Details[0].Quantity = decimal.Zero }, "lines[0].quantity"},
		{"totales no cuadran", func(s *entity.SourceInvoice, _ *entity.ZatcaConfiguration) { s.Invoice.GrandTotal = decimal.NewFromInt(200) }, "invoice.grand_total"},
		{"fecha futura", func(s *entity.SourceInvoice, _ *entity.ZatcaConfiguration) { s.Invoice.IssueDate = testNow.Add(time.Hour) }, "invoice.issue_date"},
		{"categoría inválida", func(s *entity.SourceInvoice, _ *entity.ZatcaConfiguration) { s.Details[1].VATCategory = "X" }, "lines[1].vat_category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, cfg := sourceInvoice(), phase1Config()
			tt.mutate(src, cfg)
			_, err := zatca.Transform(src, cfg, testNow)
			require.Error(t, err)

			var ve *zatca.ValidationError
			require.ErrorAs(t, err, &ve)
			fields := make([]string, 0, len(ve.Fields))
			for _, f := range ve.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestTransform_CategoriaExenta(t *testing.T) {
	src := sourceInvoice()
	src.Details[1].VATCategory = pkgzatca.VATCategoryExempt
	src.Invoice.TaxTotal = decimal.RequireFromString("7.50")
	src.Invoice.GrandTotal = decimal.RequireFromString("107.50")

	doc, err := zatca.Transform(src, phase1Config(), testNow)
	require.NoError(t, err)
	require.Len(t, doc.TaxSubtotals, 2)
	assert.Equal(t, "7.50", doc.TaxTotal.StringFixed(2))
	for _, st := range doc.TaxSubtotals {
		if st.Category == pkgzatca.VATCategoryExempt {
			assert.True(t, st.TaxAmount.IsZero())
			assert.NotEmpty(t, st.ExemptionCode)
		}
	}
}
