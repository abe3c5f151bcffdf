package repository

import (
	"context"
	"time"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
)

// ZatcaInvoiceFilter filtros del listado de facturas ZATCA.
type ZatcaInvoiceFilter struct {
	CompanyID string
	Status    string // vacío = todos
	Limit     int
	Offset    int
}

// ZatcaInvoiceRepository define el puerto de persistencia de los registros de cumplimiento y su auditoría.
type ZatcaInvoiceRepository interface {
	Create(ctx context.Context, inv *entity.ZatcaInvoice) error
	// Update persiste estado, artefactos y error. UUID y número no cambian una vez asignados.
	Update(ctx context.Context, inv *entity.ZatcaInvoice) error
	// GetByID devuelve nil, nil si no existe o pertenece a otro tenant.
	GetByID(ctx context.Context, companyID, id string) (*entity.ZatcaInvoice, error)
	List(ctx context.Context, f ZatcaInvoiceFilter) ([]*entity.ZatcaInvoice, int, error)
	AppendEvent(ctx context.Context, ev *entity.ZatcaInvoiceEvent) error
	ListEvents(ctx context.Context, zatcaInvoiceID string) ([]*entity.ZatcaInvoiceEvent, error)
	CountByStatus(ctx context.Context, companyID string) (map[string]int, error)
	CountSubmittedSince(ctx context.Context, companyID string, since time.Time) (int, error)
	// ListPendingReporting facturas simplificadas en qr_ready de todos los tenants, más antiguas primero.
	ListPendingReporting(ctx context.Context, limit int) ([]*entity.ZatcaInvoice, error)
	// ListValidBetween facturas válidas del tenant validadas en [from, to).
	ListValidBetween(ctx context.Context, companyID string, from, to time.Time) ([]*entity.ZatcaInvoice, error)
}
