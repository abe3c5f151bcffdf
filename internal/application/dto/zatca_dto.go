package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// ZatcaConfigurationRequest body para POST /api/zatca/configuration. Los campos CSID no se aceptan aquí.
type ZatcaConfigurationRequest struct {
	Enabled             bool   `json:"enabled"`
	Phase               string `json:"phase"`
	Environment         string `json:"environment,omitempty"`
	APIEndpoint         string `json:"api_endpoint,omitempty"`
	APIKey              string `json:"api_key,omitempty"`
	APISecret           string `json:"api_secret,omitempty"`
	CertificatePath     string `json:"certificate_path,omitempty"`
	PrivateKeyPath      string `json:"private_key_path,omitempty"`
	CertificatePassword string `json:"certificate_password,omitempty"`
	TaxNumber           string `json:"tax_number"`
	BranchCode          string `json:"branch_code"`
	DeviceID            string `json:"device_id,omitempty"`
	ComplianceCheck     bool   `json:"compliance_check"`
}

// ZatcaConfigurationResponse configuración sin secretos.
type ZatcaConfigurationResponse struct {
	ID              string     `json:"id"`
	CompanyID       string     `json:"company_id"`
	Enabled         bool       `json:"enabled"`
	Phase           string     `json:"phase"`
	Environment     string     `json:"environment"`
	APIEndpoint     string     `json:"api_endpoint,omitempty"`
	HasAPIKey       bool       `json:"has_api_key"`
	HasAPISecret    bool       `json:"has_api_secret"`
	CertificatePath string     `json:"certificate_path,omitempty"`
	PrivateKeyPath  string     `json:"private_key_path,omitempty"`
	TaxNumber       string     `json:"tax_number"`
	BranchCode      string     `json:"branch_code"`
	DeviceID        string     `json:"device_id,omitempty"`
	ComplianceCheck bool       `json:"compliance_check"`
	CSIDStatus      string     `json:"csid_status"`
	CSIDIssuedAt    *time.Time `json:"csid_issued_at,omitempty"`
	CSIDExpiresAt   *time.Time `json:"csid_expires_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TestConnectionResponse resultado de POST /api/zatca/test-connection.
type TestConnectionResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	LatencyMS  int64  `json:"latency_ms"`
}

// ValidateConfigurationResponse resultado de POST /api/zatca/validate-configuration.
type ValidateConfigurationResponse struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

// CSIDRequest body para solicitar o renovar el CSID. CSR opcional (PEM); si falta se genera
// con la llave del tenant y los datos de organización indicados.
type CSIDRequest struct {
	OTP              string `json:"otp"`
	CSR              string `json:"csr,omitempty"`
	OrganizationName string `json:"organization_name,omitempty"`
	BusinessCategory string `json:"business_category,omitempty"`
	Address          string `json:"address,omitempty"`
}

// CSIDStatusResponse estado del CSID del tenant.
type CSIDStatusResponse struct {
	Status      string     `json:"status"`
	Valid       bool       `json:"valid"`
	Message     string     `json:"message"`
	RequestID   string     `json:"request_id,omitempty"`
	Disposition string     `json:"disposition,omitempty"`
	IssuedAt    *time.Time `json:"issued_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// ZatcaInvoiceEventResponse transición registrada.
type ZatcaInvoiceEventResponse struct {
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ZatcaInvoiceResponse registro de cumplimiento en respuestas.
type ZatcaInvoiceResponse struct {
	ID              string                      `json:"id"`
	SourceInvoiceID string                      `json:"source_invoice_id"`
	ReplacesID      string                      `json:"replaces_id,omitempty"`
	UUID            string                      `json:"uuid"`
	InvoiceNumber   string                      `json:"invoice_number,omitempty"`
	InvoiceType     string                      `json:"invoice_type"`
	Phase           string                      `json:"phase"`
	Status          string                      `json:"status"`
	Counter         int64                       `json:"invoice_counter,omitempty"`
	InvoiceHash     string                      `json:"invoice_hash,omitempty"`
	PreviousHash    string                      `json:"previous_hash,omitempty"`
	QRCode          string                      `json:"qr_code,omitempty"`
	SubmissionKind  string                      `json:"submission_kind,omitempty"`
	Attempts        int                         `json:"attempts"`
	GrandTotal      decimal.Decimal             `json:"grand_total"`
	TaxTotal        decimal.Decimal             `json:"tax_total"`
	ErrorMessage    string                      `json:"error_message,omitempty"`
	SubmittedAt     *time.Time                  `json:"submitted_at,omitempty"`
	ValidatedAt     *time.Time                  `json:"validated_at,omitempty"`
	CreatedAt       time.Time                   `json:"created_at"`
	XML             string                      `json:"xml,omitempty"`
	Events          []ZatcaInvoiceEventResponse `json:"events,omitempty"`
}

// ZatcaInvoiceListResponse página de registros.
type ZatcaInvoiceListResponse struct {
	Items []ZatcaInvoiceResponse `json:"items"`
	Page  PageResponse           `json:"page"`
}

// GenerateResponse resultado de POST /api/zatca/invoices/generate/:invoiceId.
type GenerateResponse struct {
	ID            string `json:"id,omitempty"`
	Status        string `json:"status"`
	UUID          string `json:"uuid,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	QRCode        string `json:"qr_code,omitempty"`
	Queued        bool   `json:"queued,omitempty"`
}

// CancelRequest body para cancelar un registro.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// StatisticsResponse conteos del tenant.
type StatisticsResponse struct {
	Total               int            `json:"total"`
	ByStatus            map[string]int `json:"by_status"`
	SubmittedLast30Days int            `json:"submitted_last_30_days"`
	SuccessRate         float64        `json:"success_rate"`
}

// TaxReportRequest body para POST /api/zatca/reports/tax (fechas YYYY-MM-DD, fin inclusivo).
type TaxReportRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// VATBucket totales de un grupo de facturas.
type VATBucket struct {
	Count int             `json:"count"`
	Net   decimal.Decimal `json:"net"`
	VAT   decimal.Decimal `json:"vat"`
	Gross decimal.Decimal `json:"gross"`
}

// TaxReportLine factura incluida en el reporte.
type TaxReportLine struct {
	InvoiceNumber string          `json:"invoice_number"`
	InvoiceType   string          `json:"invoice_type"`
	IssuedAt      time.Time       `json:"issued_at"`
	BuyerName     string          `json:"buyer_name,omitempty"`
	Net           decimal.Decimal `json:"net"`
	VAT           decimal.Decimal `json:"vat"`
	Gross         decimal.Decimal `json:"gross"`
}

// TaxReportResponse resumen e IVA por categoría de un período.
type TaxReportResponse struct {
	StartDate string               `json:"start_date"`
	EndDate   string               `json:"end_date"`
	Summary   VATBucket            `json:"summary"`
	Breakdown map[string]VATBucket `json:"vat_breakdown"` // standard, zero_rated, exempt, out_of_scope
	Invoices  []TaxReportLine      `json:"invoices"`
}

// VATReturnRequest body para POST /api/zatca/reports/vat-return.
type VATReturnRequest struct {
	TaxPeriod string `json:"tax_period"` // YYYY-MM
}

// VATReturnResponse casillas de ventas de la declaración mensual.
type VATReturnResponse struct {
	TaxPeriod      string          `json:"tax_period"`
	TaxNumber      string          `json:"tax_number"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	StandardRated  VATBucket       `json:"domestic_standard_rate"`
	ZeroRated      VATBucket       `json:"domestic_zero_rate"`
	Exempt         VATBucket       `json:"exempt_supplies"`
	OutOfScope     VATBucket       `json:"out_of_scope"`
	TotalSupplies  decimal.Decimal `json:"total_supplies"`
	TotalOutputVAT decimal.Decimal `json:"total_output_vat"`
	NetVATDue      decimal.Decimal `json:"net_vat_due"`
}

// ComplianceCheckResult resultado de una verificación de la autoprueba de cumplimiento.
type ComplianceCheckResult struct {
	Name     string   `json:"name"`
	Passed   bool     `json:"passed"`
	Skipped  bool     `json:"skipped,omitempty"`
	Score    int      `json:"score"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ComplianceTestResponse resultado de POST /api/zatca/compliance/test.
type ComplianceTestResponse struct {
	ConfigID         string                  `json:"config_id"`
	CompanyID        string                  `json:"company_id"`
	Phase            string                  `json:"phase"`
	TestDate         time.Time               `json:"test_date"`
	OverallCompliant bool                    `json:"overall_compliant"`
	OverallScore     float64                 `json:"overall_score"`
	PassedTests      int                     `json:"passed_tests"`
	TotalTests       int                     `json:"total_tests"`
	Tests            []ComplianceCheckResult `json:"tests"`
	Errors           []string                `json:"errors"`
	Warnings         []string                `json:"warnings"`
	Recommendations  []string                `json:"recommendations"`
}

// ComplianceSummaryResponse resumen de GET /api/zatca/compliance/summary.
type ComplianceSummaryResponse struct {
	ConfigID             string    `json:"config_id"`
	CompanyID            string    `json:"company_id"`
	Phase                string    `json:"phase"`
	ComplianceStatus     string    `json:"compliance_status"` // COMPLIANT, NON_COMPLIANT
	OverallScore         float64   `json:"overall_score"`
	LastTestDate         time.Time `json:"last_test_date"`
	CriticalIssues       int       `json:"critical_issues"`
	Warnings             int       `json:"warnings"`
	RecommendationsCount int       `json:"recommendations_count"`
}
