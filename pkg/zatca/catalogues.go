// Package zatca contiene catálogos y validaciones de formato alineados a las
// normas técnicas de facturación electrónica de ZATCA (Arabia Saudita, Fatoora).
package zatca

// =============================================================================
// Fases de integración
// =============================================================================

const (
	Phase1 = "phase1" // Generación: sin firma ni integración en tiempo real
	Phase2 = "phase2" // Integración: firma, CSID, clearance/reporting
)

// ValidPhases fases aceptadas en la configuración.
var ValidPhases = map[string]bool{Phase1: true, Phase2: true}

// =============================================================================
// Ambientes y URLs base del portal Fatoora
// =============================================================================

const (
	EnvSandbox    = "sandbox"
	EnvSimulation = "simulation"
	EnvProduction = "production"
)

// BaseURLs URL base de la API por ambiente.
var BaseURLs = map[string]string{
	EnvSandbox:    "https://gw-fatoora.zatca.gov.sa/e-invoicing/developer-portal",
	EnvSimulation: "https://gw-fatoora.zatca.gov.sa/e-invoicing/simulation",
	EnvProduction: "https://gw-fatoora.zatca.gov.sa/e-invoicing/core",
}

// BaseURLFor devuelve la URL del ambiente o la de sandbox si el ambiente no existe.
func BaseURLFor(env string) string {
	if u, ok := BaseURLs[env]; ok {
		return u
	}
	return BaseURLs[EnvSandbox]
}

// =============================================================================
// UNTDID 1001 - Tipos de documento (cbc:InvoiceTypeCode)
// =============================================================================

const (
	TypeCodeInvoice    = "388" // Factura tributaria
	TypeCodeDebitNote  = "383" // Nota débito
	TypeCodeCreditNote = "381" // Nota crédito
)

// Atributo name de cbc:InvoiceTypeCode: NNPNESB, los dos primeros dígitos distinguen
// factura estándar (01) de simplificada (02).
const (
	TypeNameStandard   = "0100000"
	TypeNameSimplified = "0200000"
)

// Tipos de factura persistidos en zatca_invoices.invoice_type.
const (
	InvoiceTypeStandard   = "standard"
	InvoiceTypeSimplified = "simplified"
	InvoiceTypeCreditNote = "credit_note"
	InvoiceTypeDebitNote  = "debit_note"
)

// =============================================================================
// UNTDID 4461 - Medios de pago (cbc:PaymentMeansCode)
// =============================================================================

var PaymentMeansCodes = map[string]string{
	"CASH":          "10",
	"BANK_TRANSFER": "30",
	"CREDIT_CARD":   "48",
	"DEBIT_CARD":    "48",
	"CHECK":         "20",
	"OTHER":         "1",
}

// PaymentMeansCode traduce el método de pago interno; desconocido = "1" (no definido).
func PaymentMeansCode(method string) string {
	if c, ok := PaymentMeansCodes[method]; ok {
		return c
	}
	return "1"
}

// =============================================================================
// UNTDID 5305 - Categorías de IVA
// =============================================================================

const (
	VATCategoryStandard = "S" // Tasa estándar 15%
	VATCategoryZero     = "Z" // Tasa cero
	VATCategoryExempt   = "E" // Exento
	VATCategoryOutScope = "O" // Fuera del alcance
)

// ValidVATCategories categorías aceptadas en las líneas.
var ValidVATCategories = map[string]bool{
	VATCategoryStandard: true,
	VATCategoryZero:     true,
	VATCategoryExempt:   true,
	VATCategoryOutScope: true,
}

// =============================================================================
// Estados del CSID (Cryptographic Stamp Identifier)
// =============================================================================

const (
	CSIDNotSet  = "NOT_SET"
	CSIDPending = "PENDING"
	CSIDIssued  = "ISSUED"
	CSIDExpired = "EXPIRED" // derivado de issued_at, no se persiste
)

// Moneda de la declaración de IVA.
const CurrencySAR = "SAR"
