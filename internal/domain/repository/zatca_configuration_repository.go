package repository

import (
	"context"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
)

// ZatcaConfigurationRepository define el puerto de persistencia de la configuración ZATCA por tenant.
// La implementación vive en infrastructure.
type ZatcaConfigurationRepository interface {
	// GetByCompanyID devuelve nil, nil si el tenant no tiene configuración.
	GetByCompanyID(ctx context.Context, companyID string) (*entity.ZatcaConfiguration, error)
	// Upsert crea o actualiza los campos editables; nunca toca los campos CSID.
	Upsert(ctx context.Context, cfg *entity.ZatcaConfiguration) error
	// UpdateCSID persiste solo el estado del CSID.
	UpdateCSID(ctx context.Context, cfg *entity.ZatcaConfiguration) error
	ListEnabled(ctx context.Context) ([]*entity.ZatcaConfiguration, error)
}
