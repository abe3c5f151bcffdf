package zatca

import (
	"github.com/shopspring/decimal"

	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

// StandardRate tasa de IVA estándar (15%).
var StandardRate = decimal.RequireFromString("0.15")

// VATBreakdown desglose de un importe: base, IVA y total.
type VATBreakdown struct {
	Net   decimal.Decimal
	VAT   decimal.Decimal
	Gross decimal.Decimal
}

// CalculateVAT calcula el IVA de amount a la tasa rate (fracción). Con inclusive=true
// amount ya incluye el impuesto y se separa la base. Resultado redondeado a 2 decimales.
func CalculateVAT(amount, rate decimal.Decimal, inclusive bool) VATBreakdown {
	if inclusive {
		gross := amount.Round(2)
		net := amount.Div(decimal.NewFromInt(1).Add(rate)).Round(2)
		return VATBreakdown{Net: net, VAT: gross.Sub(net), Gross: gross}
	}
	net := amount.Round(2)
	vat := amount.Mul(rate).Round(2)
	return VATBreakdown{Net: net, VAT: vat, Gross: net.Add(vat)}
}

// RateForCategory tasa aplicable a la categoría. Z, E y O no generan impuesto.
func RateForCategory(category string, declared decimal.Decimal) decimal.Decimal {
	if category == pkgzatca.VATCategoryStandard {
		if declared.IsZero() {
			return StandardRate
		}
		return declared
	}
	return decimal.Zero
}

// ExemptionReason motivo obligatorio para categorías sin impuesto.
func ExemptionReason(category string) (code, reason string) {
	switch category {
	case pkgzatca.VATCategoryZero:
		return "VATEX-SA-32", "Export of goods"
	case pkgzatca.VATCategoryExempt:
		return "VATEX-SA-29", "Financial services mentioned in Article 29 of the VAT Regulations"
	case pkgzatca.VATCategoryOutScope:
		return "VATEX-SA-OOS", "Not subject to VAT"
	}
	return "", ""
}
