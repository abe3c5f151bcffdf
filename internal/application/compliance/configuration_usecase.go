package compliance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/zatca-einvoicing/internal/application/dto"
	"github.com/jhoicas/zatca-einvoicing/internal/domain"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/repository"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	infrazatca "github.com/jhoicas/zatca-einvoicing/internal/infrastructure/zatca"
)

// ConfigurationUseCase lectura, alta y validación de la configuración ZATCA del tenant.
type ConfigurationUseCase struct {
	repo     repository.ZatcaConfigurationRepository
	client   Submitter
	settings Settings
	now      func() time.Time
}

// NewConfigurationUseCase construye el caso de uso.
func NewConfigurationUseCase(repo repository.ZatcaConfigurationRepository, client Submitter, settings Settings) *ConfigurationUseCase {
	return &ConfigurationUseCase{repo: repo, client: client, settings: settings, now: time.Now}
}

// WithClock reemplaza el reloj (tests).
func (uc *ConfigurationUseCase) WithClock(now func() time.Time) *ConfigurationUseCase {
	uc.now = now
	return uc
}

// Get devuelve la configuración sin secretos o domain.ErrNotFound.
func (uc *ConfigurationUseCase) Get(ctx context.Context, companyID string) (*dto.ZatcaConfigurationResponse, error) {
	cfg, err := uc.load(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return toConfigurationResponse(cfg, uc.now()), nil
}

// Save valida y guarda la configuración. Los campos CSID nunca se escriben aquí y los
// secretos vacíos conservan el valor ya guardado.
func (uc *ConfigurationUseCase) Save(ctx context.Context, companyID string, in dto.ZatcaConfigurationRequest) (*dto.ZatcaConfigurationResponse, error) {
	now := uc.now()
	existing, err := uc.repo.GetByCompanyID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("configuración: leer: %w", err)
	}

	cfg := &entity.ZatcaConfiguration{
		ID:                  uuid.NewString(),
		CompanyID:           companyID,
		Enabled:             in.Enabled,
		Phase:               strings.ToLower(strings.TrimSpace(in.Phase)),
		Environment:         strings.ToLower(strings.TrimSpace(in.Environment)),
		APIEndpoint:         strings.TrimSpace(in.APIEndpoint),
		APIKey:              in.APIKey,
		APISecret:           in.APISecret,
		CertificatePath:     strings.TrimSpace(in.CertificatePath),
		PrivateKeyPath:      strings.TrimSpace(in.PrivateKeyPath),
		CertificatePassword: in.CertificatePassword,
		TaxNumber:           strings.TrimSpace(in.TaxNumber),
		BranchCode:          strings.TrimSpace(in.BranchCode),
		DeviceID:            strings.TrimSpace(in.DeviceID),
		ComplianceCheck:     in.ComplianceCheck,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if cfg.Environment == "" {
		cfg.Environment = uc.settings.Environment
	}
	if existing != nil {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
		if cfg.APIKey == "" {
			cfg.APIKey = existing.APIKey
		}
		if cfg.APISecret == "" {
			cfg.APISecret = existing.APISecret
		}
		if cfg.CertificatePassword == "" {
			cfg.CertificatePassword = existing.CertificatePassword
		}
		cfg.CSIDToken = existing.CSIDToken
		cfg.CSIDSecret = existing.CSIDSecret
		cfg.CSIDRequestID = existing.CSIDRequestID
		cfg.CSIDDisposition = existing.CSIDDisposition
		cfg.CSIDStatus = existing.CSIDStatus
		cfg.CSIDIssuedAt = existing.CSIDIssuedAt
	}

	if err := zatca.ValidateConfiguration(cfg, now, false); err != nil {
		return nil, err
	}
	if err := uc.repo.Upsert(ctx, cfg); err != nil {
		return nil, fmt.Errorf("configuración: guardar: %w", err)
	}
	return toConfigurationResponse(cfg, now), nil
}

// Validate revisa campos, credenciales y estado del CSID sin modificar nada.
func (uc *ConfigurationUseCase) Validate(ctx context.Context, companyID string) (*dto.ValidateConfigurationResponse, error) {
	cfg, err := uc.load(ctx, companyID)
	if err != nil {
		return nil, err
	}
	errs := []string{}
	if !cfg.Enabled {
		errs = append(errs, "enabled: la integración ZATCA está deshabilitada")
	}
	if err := zatca.ValidateConfiguration(cfg, uc.now(), true); err != nil {
		var ve *zatca.ValidationError
		if errors.As(err, &ve) {
			errs = append(errs, ve.Messages()...)
		} else {
			errs = append(errs, err.Error())
		}
	}
	return &dto.ValidateConfigurationResponse{Success: len(errs) == 0, Errors: errs}, nil
}

// TestConnection prueba la conectividad con la API de la autoridad usando las credenciales del tenant.
func (uc *ConfigurationUseCase) TestConnection(ctx context.Context, companyID string) (*dto.TestConnectionResponse, error) {
	cfg, err := uc.load(ctx, companyID)
	if err != nil {
		return nil, err
	}
	creds := infrazatca.CredentialsFor(cfg, uc.settings.Environment, uc.settings.BaseURL)
	res := uc.client.TestConnection(ctx, creds)
	return &dto.TestConnectionResponse{
		Success:    res.Success,
		Error:      res.Error,
		StatusCode: res.StatusCode,
		LatencyMS:  res.Latency.Milliseconds(),
	}, nil
}

// IsEnabled indica si el tenant tiene la integración configurada y activa.
func (uc *ConfigurationUseCase) IsEnabled(ctx context.Context, companyID string) (bool, error) {
	cfg, err := uc.repo.GetByCompanyID(ctx, companyID)
	if err != nil {
		return false, fmt.Errorf("configuración: leer: %w", err)
	}
	return cfg != nil && cfg.Enabled, nil
}

func (uc *ConfigurationUseCase) load(ctx context.Context, companyID string) (*entity.ZatcaConfiguration, error) {
	cfg, err := uc.repo.GetByCompanyID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("configuración: leer: %w", err)
	}
	if cfg == nil {
		return nil, domain.ErrNotFound
	}
	return cfg, nil
}

func toConfigurationResponse(c *entity.ZatcaConfiguration, now time.Time) *dto.ZatcaConfigurationResponse {
	return &dto.ZatcaConfigurationResponse{
		ID:              c.ID,
		CompanyID:       c.CompanyID,
		Enabled:         c.Enabled,
		Phase:           c.Phase,
		Environment:     c.Environment,
		APIEndpoint:     c.APIEndpoint,
		HasAPIKey:       c.APIKey != "",
		HasAPISecret:    c.APISecret != "",
		CertificatePath: c.CertificatePath,
		PrivateKeyPath:  c.PrivateKeyPath,
		TaxNumber:       c.TaxNumber,
		BranchCode:      c.BranchCode,
		DeviceID:        c.DeviceID,
		ComplianceCheck: c.ComplianceCheck,
		CSIDStatus:      zatca.CSIDStatus(c, now),
		CSIDIssuedAt:    c.CSIDIssuedAt,
		CSIDExpiresAt:   c.CSIDExpiresAt(),
		UpdatedAt:       c.UpdatedAt,
	}
}
