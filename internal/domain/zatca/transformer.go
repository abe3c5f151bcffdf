package zatca

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

// totalsTolerance diferencia máxima aceptada entre los totales de origen y los recalculados.
var totalsTolerance = decimal.RequireFromString("0.01")

// Transform convierte la factura de origen en el documento canónico de la fase configurada.
// Devuelve *ValidationError con todos los campos que fallan.
func Transform(src *entity.SourceInvoice, cfg *entity.ZatcaConfiguration, now time.Time) (*Document, error) {
	var errs ValidationErrors
	if src == nil || src.Invoice == nil {
		errs.Add("invoice", "factura de origen vacía")
		return nil, errs.Err()
	}
	if cfg == nil {
		errs.Add("configuration", "configuración ZATCA ausente")
		return nil, errs.Err()
	}
	inv := src.Invoice

	errs.Check("tax_number", pkgzatca.ValidateVATNumber(cfg.TaxNumber))
	errs.Check("branch_code", pkgzatca.ValidateBranchCode(cfg.BranchCode))
	if cfg.Phase == pkgzatca.Phase2 {
		errs.Check("device_id", pkgzatca.ValidateDeviceID(cfg.DeviceID))
	}
	if src.Company == nil || strings.TrimSpace(src.Company.Name) == "" {
		errs.Add("seller.name", "el nombre del vendedor es obligatorio")
	}
	if strings.TrimSpace(inv.Number) == "" {
		errs.Add("invoice.number", "el número de factura es obligatorio")
	}

	issued := inv.IssueDate
	if issued.IsZero() {
		issued = now
	}
	if issued.After(now) {
		errs.Add("invoice.issue_date", "la fecha de emisión no puede ser futura")
	}

	doc := &Document{
		Phase:            cfg.Phase,
		SourceNumber:     inv.Number,
		IssuedAt:         issued.UTC().Truncate(time.Second),
		Currency:         pkgzatca.CurrencySAR,
		BillingReference: inv.BillingReference,
		Note:             inv.Note,
	}
	if inv.Currency != "" {
		doc.Currency = strings.ToUpper(inv.Currency)
	}
	if src.Company != nil {
		doc.Seller = Party{Name: src.Company.Name, VATNumber: cfg.TaxNumber, Address: src.Company.Address}
	}

	buyerVAT := ""
	if src.Customer != nil {
		buyerVAT = strings.TrimSpace(src.Customer.VATNumber)
		if buyerVAT != "" {
			errs.Check("buyer.vat_number", pkgzatca.ValidateVATNumber(buyerVAT))
		}
	}
	doc.TypeName = pkgzatca.TypeNameSimplified
	doc.InvoiceType = pkgzatca.InvoiceTypeSimplified
	if buyerVAT != "" {
		doc.TypeName = pkgzatca.TypeNameStandard
		doc.InvoiceType = pkgzatca.InvoiceTypeStandard
	}

	switch inv.Kind {
	case "", entity.SourceKindInvoice:
		doc.TypeCode = pkgzatca.TypeCodeInvoice
	case entity.SourceKindCreditNote:
		doc.TypeCode = pkgzatca.TypeCodeCreditNote
		doc.InvoiceType = pkgzatca.InvoiceTypeCreditNote
	case entity.SourceKindDebitNote:
		doc.TypeCode = pkgzatca.TypeCodeDebitNote
		doc.InvoiceType = pkgzatca.InvoiceTypeDebitNote
	default:
		errs.Add("invoice.kind", fmt.Sprintf("tipo de documento desconocido %q", inv.Kind))
	}
	if doc.TypeCode != pkgzatca.TypeCodeInvoice && doc.TypeCode != "" && strings.TrimSpace(inv.BillingReference) == "" {
		errs.Add("invoice.billing_reference", "las notas crédito y débito deben referenciar la factura original")
	}

	if cfg.Phase == pkgzatca.Phase2 {
		if src.Customer != nil {
			doc.Buyer = &Party{Name: src.Customer.Name, VATNumber: buyerVAT, Address: src.Customer.Address}
			if doc.Buyer.Address.Country == "" {
				doc.Buyer.Address.Country = "SA"
			}
		}
		if doc.InvoiceType == pkgzatca.InvoiceTypeStandard && (doc.Buyer == nil || strings.TrimSpace(doc.Buyer.Name) == "") {
			errs.Add("buyer.name", "la factura estándar requiere el nombre del comprador")
		}
		doc.SupplyDate = utcPtr(inv.SupplyDate)
		doc.DueDate = utcPtr(inv.DueDate)
		doc.PaymentMeansCode = pkgzatca.PaymentMeansCode(inv.PaymentMethod)
	} else if src.Customer != nil && src.Customer.Name != "" {
		doc.Buyer = &Party{Name: src.Customer.Name}
	}
	if doc.Seller.Address.Country == "" {
		doc.Seller.Address.Country = "SA"
	}

	buildLines(doc, src.Details, &errs)

	if len(doc.Lines) > 0 {
		checkTotal(&errs, "invoice.net_total", inv.NetTotal, doc.TaxExclusive)
		checkTotal(&errs, "invoice.tax_total", inv.TaxTotal, doc.TaxTotal)
		checkTotal(&errs, "invoice.grand_total", inv.GrandTotal, doc.TaxInclusive)
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}

// buildLines recalcula líneas, desglose por categoría y totales del documento.
func buildLines(doc *Document, details []*entity.InvoiceDetail, errs *ValidationErrors) {
	if len(details) == 0 {
		errs.Add("lines", "la factura debe tener al menos una línea")
		return
	}
	subtotals := map[string]*TaxSubtotal{}
	for i, d := range details {
		field := fmt.Sprintf("lines[%d]", i)
		if d == nil {
			errs.Add(field, "línea vacía")
			continue
		}
		category := d.VATCategory
		if category == "" {
			category = pkgzatca.VATCategoryStandard
		}
		if !pkgzatca.ValidVATCategories[category] {
			errs.Add(field+".vat_category", fmt.Sprintf("categoría de IVA inválida %q", category))
			continue
		}
		if !d.Quantity.IsPositive() {
			errs.Add(field+".quantity", "la cantidad debe ser mayor que cero")
			continue
		}
		if d.UnitPrice.IsNegative() {
			errs.Add(field+".unit_price", "el precio unitario no puede ser negativo")
			continue
		}
		if strings.TrimSpace(d.Description) == "" {
			errs.Add(field+".description", "la descripción es obligatoria")
		}

		rate := RateForCategory(category, d.TaxRate)
		b := CalculateVAT(d.Quantity.Mul(d.UnitPrice), rate, false)
		code, reason := ExemptionReason(category)
		doc.Lines = append(doc.Lines, DocumentLine{
			ID:              len(doc.Lines) + 1,
			Description:     d.Description,
			Quantity:        d.Quantity,
			UnitPrice:       d.UnitPrice,
			LineExtension:   b.Net,
			VATCategory:     category,
			TaxRate:         rate,
			TaxAmount:       b.VAT,
			RoundingAmount:  b.Gross,
			ExemptionCode:   code,
			ExemptionReason: reason,
		})

		key := category + "/" + rate.String()
		st, ok := subtotals[key]
		if !ok {
			st = &TaxSubtotal{Category: category, Rate: rate, ExemptionCode: code, ExemptionReason: reason}
			subtotals[key] = st
		}
		st.TaxableAmount = st.TaxableAmount.Add(b.Net)
		st.TaxAmount = st.TaxAmount.Add(b.VAT)
		doc.LineExtension = doc.LineExtension.Add(b.Net)
		doc.TaxTotal = doc.TaxTotal.Add(b.VAT)
	}

	keys := make([]string, 0, len(subtotals))
	for k := range subtotals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		doc.TaxSubtotals = append(doc.TaxSubtotals, *subtotals[k])
	}
	doc.TaxExclusive = doc.LineExtension
	doc.TaxInclusive = doc.TaxExclusive.Add(doc.TaxTotal)
	doc.Payable = doc.TaxInclusive
}

func checkTotal(errs *ValidationErrors, field string, declared, computed decimal.Decimal) {
	if declared.Sub(computed).Abs().GreaterThan(totalsTolerance) {
		errs.Add(field, fmt.Sprintf("el total declarado %s no coincide con el calculado %s", declared.StringFixed(2), computed.StringFixed(2)))
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
