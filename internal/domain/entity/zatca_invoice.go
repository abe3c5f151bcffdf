package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estados del pipeline de cumplimiento ZATCA.
const (
	ZatcaStatusDraft      = "draft"
	ZatcaStatusGenerating = "generating"
	ZatcaStatusHashed     = "hashed"
	ZatcaStatusSigned     = "signed"
	ZatcaStatusQRReady    = "qr_ready"
	ZatcaStatusSubmitted  = "submitted"
	ZatcaStatusValid      = "valid"
	ZatcaStatusInvalid    = "invalid"
	ZatcaStatusCancelled  = "cancelled"
)

// Tipos de llamada a la autoridad.
const (
	SubmissionCompliance = "compliance"
	SubmissionClearance  = "clearance"
	SubmissionReporting  = "reporting"
)

// ZatcaInvoice intento de cumplimiento de una factura de origen. Nunca se borra.
type ZatcaInvoice struct {
	ID              string
	CompanyID       string
	SourceInvoiceID string
	ReplacesID      string // registro rechazado al que este reemplaza
	UUID            string
	InvoiceNumber   string // {branch}-{device}-{YYYYMMDD}-{counter}
	InvoiceType     string // standard, simplified, credit_note, debit_note
	Phase           string
	Status          string
	InvoiceCounter  int64
	InvoiceHash     string
	PreviousHash    string
	XMLContent      string
	Data            []byte // documento canónico (JSON)
	Response        []byte // respuesta de la autoridad (JSON)
	QRCode          string
	Signature       string
	SubmissionKind  string
	Attempts        int
	GrandTotal      decimal.Decimal
	TaxTotal        decimal.Decimal
	ErrorMessage    string
	IssuedAt        time.Time // fecha de emisión: define el periodo fiscal
	SubmittedAt     *time.Time
	ValidatedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ZatcaInvoiceEvent transición registrada para auditoría.
type ZatcaInvoiceEvent struct {
	ID             string
	ZatcaInvoiceID string
	FromStatus     string
	ToStatus       string
	Message        string
	CreatedAt      time.Time
}

// ChainHead puntero de la cadena de hashes de un tenant.
type ChainHead struct {
	CompanyID string
	Counter   int64  // ICV de la última factura encadenada (0 = ninguna)
	LastHash  string // hash de la última factura encadenada
	UpdatedAt time.Time
}
