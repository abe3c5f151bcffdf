package repository

import (
	"context"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
)

// SourceInvoiceRepository lectura de la factura de origen del módulo de facturación.
type SourceInvoiceRepository interface {
	// GetSource devuelve nil, nil si la factura no existe para el tenant.
	GetSource(ctx context.Context, companyID, invoiceID string) (*entity.SourceInvoice, error)
}
