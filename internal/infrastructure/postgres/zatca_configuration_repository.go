package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/repository"
)

var _ repository.ZatcaConfigurationRepository = (*ZatcaConfigurationRepo)(nil)

// ZatcaConfigurationRepo implementación de ZatcaConfigurationRepository (usable con pool o tx).
type ZatcaConfigurationRepo struct {
	q Querier
}

// NewZatcaConfigurationRepository construye el adaptador. Pasar pool o tx (Querier).
func NewZatcaConfigurationRepository(q Querier) *ZatcaConfigurationRepo {
	return &ZatcaConfigurationRepo{q: q}
}

const zatcaConfigColumns = `
		id, company_id, enabled, phase, environment,
		COALESCE(api_endpoint, ''), COALESCE(api_key, ''), COALESCE(api_secret, ''),
		COALESCE(certificate_path, ''), COALESCE(private_key_path, ''), COALESCE(certificate_password, ''),
		tax_number, branch_code, COALESCE(device_id, ''), compliance_check,
		COALESCE(csid_token, ''), COALESCE(csid_secret, ''), COALESCE(csid_request_id, ''),
		COALESCE(csid_disposition, ''), csid_status, csid_issued_at,
		created_at, updated_at`

// GetByCompanyID obtiene la configuración del tenant; nil, nil si no existe.
func (r *ZatcaConfigurationRepo) GetByCompanyID(ctx context.Context, companyID string) (*entity.ZatcaConfiguration, error) {
	query := `SELECT` + zatcaConfigColumns + `
		FROM zatca_configurations WHERE company_id = $1`
	cfg, err := scanZatcaConfiguration(r.q.QueryRow(ctx, query, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get zatca configuration: %w", err)
	}
	return cfg, nil
}

// Upsert crea o actualiza los campos editables. Los campos CSID se inicializan en la
// creación y nunca se sobrescriben desde aquí.
func (r *ZatcaConfigurationRepo) Upsert(ctx context.Context, cfg *entity.ZatcaConfiguration) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	query := `
		INSERT INTO zatca_configurations (
			id, company_id, enabled, phase, environment, api_endpoint, api_key, api_secret,
			certificate_path, private_key_path, certificate_password,
			tax_number, branch_code, device_id, compliance_check, csid_status,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 'NOT_SET', $16, $17)
		ON CONFLICT (company_id) DO UPDATE SET
			enabled              = EXCLUDED.enabled,
			phase                = EXCLUDED.phase,
			environment          = EXCLUDED.environment,
			api_endpoint         = EXCLUDED.api_endpoint,
			api_key              = EXCLUDED.api_key,
			api_secret           = EXCLUDED.api_secret,
			certificate_path     = EXCLUDED.certificate_path,
			private_key_path     = EXCLUDED.private_key_path,
			certificate_password = EXCLUDED.certificate_password,
			tax_number           = EXCLUDED.tax_number,
			branch_code          = EXCLUDED.branch_code,
			device_id            = EXCLUDED.device_id,
			compliance_check     = EXCLUDED.compliance_check,
			updated_at           = EXCLUDED.updated_at
		RETURNING id, created_at`
	err := r.q.QueryRow(ctx, query,
		cfg.ID, cfg.CompanyID, cfg.Enabled, cfg.Phase, cfg.Environment,
		nullIfEmpty(cfg.APIEndpoint), nullIfEmpty(cfg.APIKey), nullIfEmpty(cfg.APISecret),
		nullIfEmpty(cfg.CertificatePath), nullIfEmpty(cfg.PrivateKeyPath), nullIfEmpty(cfg.CertificatePassword),
		cfg.TaxNumber, cfg.BranchCode, nullIfEmpty(cfg.DeviceID), cfg.ComplianceCheck,
		cfg.CreatedAt, cfg.UpdatedAt,
	).Scan(&cfg.ID, &cfg.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert zatca configuration: %w", err)
	}
	return nil
}

// UpdateCSID persiste solo el estado del CSID del tenant.
func (r *ZatcaConfigurationRepo) UpdateCSID(ctx context.Context, cfg *entity.ZatcaConfiguration) error {
	cfg.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE zatca_configurations
		SET csid_token       = $2,
		    csid_secret      = $3,
		    csid_request_id  = $4,
		    csid_disposition = $5,
		    csid_status      = $6,
		    csid_issued_at   = $7,
		    updated_at       = $8
		WHERE company_id = $1`
	tag, err := r.q.Exec(ctx, query,
		cfg.CompanyID,
		nullIfEmpty(cfg.CSIDToken), nullIfEmpty(cfg.CSIDSecret), nullIfEmpty(cfg.CSIDRequestID),
		nullIfEmpty(cfg.CSIDDisposition), cfg.CSIDStatus, nullTime(cfg.CSIDIssuedAt),
		cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update csid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update csid: configuración inexistente para %s", cfg.CompanyID)
	}
	return nil
}

// ListEnabled configuraciones habilitadas de todos los tenants (job de reporte).
func (r *ZatcaConfigurationRepo) ListEnabled(ctx context.Context) ([]*entity.ZatcaConfiguration, error) {
	query := `SELECT` + zatcaConfigColumns + `
		FROM zatca_configurations WHERE enabled = TRUE ORDER BY company_id`
	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list zatca configurations: %w", err)
	}
	defer rows.Close()

	var list []*entity.ZatcaConfiguration
	for rows.Next() {
		cfg, err := scanZatcaConfiguration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan zatca configuration: %w", err)
		}
		list = append(list, cfg)
	}
	return list, rows.Err()
}

func scanZatcaConfiguration(row pgx.Row) (*entity.ZatcaConfiguration, error) {
	var c entity.ZatcaConfiguration
	err := row.Scan(
		&c.ID, &c.CompanyID, &c.Enabled, &c.Phase, &c.Environment,
		&c.APIEndpoint, &c.APIKey, &c.APISecret,
		&c.CertificatePath, &c.PrivateKeyPath, &c.CertificatePassword,
		&c.TaxNumber, &c.BranchCode, &c.DeviceID, &c.ComplianceCheck,
		&c.CSIDToken, &c.CSIDSecret, &c.CSIDRequestID,
		&c.CSIDDisposition, &c.CSIDStatus, &c.CSIDIssuedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
