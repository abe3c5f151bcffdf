// Package compliance orquesta el pipeline de cumplimiento ZATCA: configuración por tenant,
// generación encadenada de facturas, firma, QR, envío a la autoridad, CSID y reportes.
package compliance

import (
	"context"
	"time"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/repository"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	infrazatca "github.com/jhoicas/zatca-einvoicing/internal/infrastructure/zatca"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/zatca/signer"
)

// ChainTxRunner ejecuta fn en una transacción con los repos de facturas y cadena.
type ChainTxRunner interface {
	RunChain(ctx context.Context, fn func(
		invoices repository.ZatcaInvoiceRepository,
		chain repository.ChainRepository,
	) error) error
}

// TenantLocker serializa operaciones por clave (tenant).
type TenantLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// XMLBuilder construye el UBL del documento.
type XMLBuilder interface {
	Build(doc *zatca.Document) ([]byte, error)
}

// Hasher calcula el hash de factura y embebe el QR.
type Hasher interface {
	Hash(xml []byte) (string, error)
	EmbedQR(xml []byte, qr string) ([]byte, error)
}

// InvoiceSigner firma el XML (phase2).
type InvoiceSigner interface {
	Sign(xml []byte, invoiceHash string, km *signer.KeyMaterial) (*signer.Result, error)
}

// KeyLoader carga la llave y el certificado del tenant.
type KeyLoader func(certPath, keyPath, password string) (*signer.KeyMaterial, error)

// Submitter cliente de la API de la autoridad.
type Submitter interface {
	Submit(ctx context.Context, creds infrazatca.Credentials, req infrazatca.SubmitRequest) (*infrazatca.SubmitResult, error)
	TestConnection(ctx context.Context, creds infrazatca.Credentials) infrazatca.HealthResult
}

// Onboarder emisión y renovación del CSID.
type Onboarder interface {
	RequestComplianceCSID(ctx context.Context, baseURL, otp string, csrPEM []byte) (*infrazatca.CSIDResponse, error)
	RenewCSID(ctx context.Context, creds infrazatca.Credentials, otp string, csrPEM []byte) (*infrazatca.CSIDResponse, error)
}

// Archive almacenamiento del XML final (opcional).
type Archive interface {
	PutXML(ctx context.Context, key string, xml []byte) error
}

// PDFGenerator representación impresa de la factura.
type PDFGenerator interface {
	GenerateInvoicePDF(ctx context.Context, doc *zatca.Document, qr string) ([]byte, error)
}

// Settings parámetros globales del pipeline.
type Settings struct {
	Environment    string        // ambiente por defecto si el tenant no indica uno
	BaseURL        string        // reemplaza la URL del ambiente (tests, proxies)
	ProcessTimeout time.Duration // límite de ProcessAsync y del onboarding del CSID
}
