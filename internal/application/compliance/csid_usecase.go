package compliance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jhoicas/zatca-einvoicing/internal/application/dto"
	"github.com/jhoicas/zatca-einvoicing/internal/domain"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/repository"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	infrazatca "github.com/jhoicas/zatca-einvoicing/internal/infrastructure/zatca"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/zatca/signer"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

// CSIDUseCase emisión, renovación y consulta del CSID (Cryptographic Stamp Identifier).
// Un solo escritor por tenant: el locker serializa entre réplicas y singleflight une las
// llamadas repetidas con el mismo OTP.
type CSIDUseCase struct {
	repo     repository.ZatcaConfigurationRepository
	onboard  Onboarder
	locker   TenantLocker
	loadKey  KeyLoader
	settings Settings
	log      zerolog.Logger
	now      func() time.Time

	group singleflight.Group
}

// NewCSIDUseCase construye el caso de uso. loadKey nil usa signer.Load.
func NewCSIDUseCase(
	repo repository.ZatcaConfigurationRepository,
	onboard Onboarder,
	locker TenantLocker,
	loadKey KeyLoader,
	settings Settings,
	log zerolog.Logger,
) *CSIDUseCase {
	if loadKey == nil {
		loadKey = signer.Load
	}
	if settings.ProcessTimeout <= 0 {
		settings.ProcessTimeout = 2 * time.Minute
	}
	return &CSIDUseCase{
		repo:     repo,
		onboard:  onboard,
		locker:   locker,
		loadKey:  loadKey,
		settings: settings,
		log:      log,
		now:      time.Now,
	}
}

// WithClock reemplaza el reloj (tests).
func (uc *CSIDUseCase) WithClock(now func() time.Time) *CSIDUseCase {
	uc.now = now
	return uc
}

// Request solicita el CSID de cumplimiento: NOT_SET → PENDING → ISSUED, o de vuelta a
// NOT_SET con el mensaje de la autoridad si falla.
func (uc *CSIDUseCase) Request(ctx context.Context, companyID string, in dto.CSIDRequest) (*dto.CSIDStatusResponse, error) {
	return uc.once(ctx, "request", companyID, in, false)
}

// Renew renueva el CSID con las credenciales vigentes. Mientras la renovación está en curso
// el CSID actual sigue ISSUED y firmando; solo se reemplaza si la autoridad emite uno nuevo.
func (uc *CSIDUseCase) Renew(ctx context.Context, companyID string, in dto.CSIDRequest) (*dto.CSIDStatusResponse, error) {
	return uc.once(ctx, "renew", companyID, in, true)
}

// Status estado actual del CSID.
func (uc *CSIDUseCase) Status(ctx context.Context, companyID string) (*dto.CSIDStatusResponse, error) {
	cfg, err := uc.repo.GetByCompanyID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("csid: leer configuración: %w", err)
	}
	if cfg == nil {
		return nil, domain.ErrNotFound
	}
	return csidStatusResponse(cfg, uc.now()), nil
}

// once agrupa las llamadas concurrentes del mismo tenant con el mismo OTP. El trabajo
// compartido corre con su propio contexto: si quien llegó primero cancela, los demás
// siguen esperando el resultado.
func (uc *CSIDUseCase) once(ctx context.Context, op, companyID string, in dto.CSIDRequest, renew bool) (*dto.CSIDStatusResponse, error) {
	otp := strings.TrimSpace(in.OTP)
	if otp == "" {
		return nil, &zatca.ValidationError{Fields: []zatca.FieldError{{Field: "otp", Message: "el OTP del portal Fatoora es obligatorio"}}}
	}
	key := op + ":" + companyID + ":" + otp
	ch := uc.group.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.settings.ProcessTimeout)
		defer cancel()
		return uc.issue(callCtx, companyID, otp, in, renew)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*dto.CSIDStatusResponse), nil
	}
}

func (uc *CSIDUseCase) issue(ctx context.Context, companyID, otp string, in dto.CSIDRequest, renew bool) (*dto.CSIDStatusResponse, error) {
	unlock, err := uc.locker.Lock(ctx, "csid:"+companyID)
	if err != nil {
		return nil, fmt.Errorf("csid: bloqueo del tenant: %w", err)
	}
	defer unlock()

	cfg, err := uc.repo.GetByCompanyID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("csid: leer configuración: %w", err)
	}
	if cfg == nil {
		return nil, domain.ErrNotConfigured
	}
	if cfg.Phase != pkgzatca.Phase2 {
		return nil, &zatca.ValidationError{Fields: []zatca.FieldError{{Field: "phase", Message: "el CSID solo aplica a phase2"}}}
	}

	csr := []byte(strings.TrimSpace(in.CSR))
	if len(csr) == 0 {
		csr, err = uc.buildCSR(cfg, in)
		if err != nil {
			return nil, err
		}
	}

	log := uc.log.With().Str("tenant", companyID).Bool("renew", renew).Logger()
	prev := *cfg
	creds := infrazatca.CredentialsFor(cfg, uc.settings.Environment, uc.settings.BaseURL)

	// PENDING solo en la primera solicitud: una renovación no puede dejar al tenant sin CSID.
	if !renew {
		cfg.CSIDStatus = pkgzatca.CSIDPending
		cfg.CSIDDisposition = ""
		if err := uc.repo.UpdateCSID(ctx, cfg); err != nil {
			return nil, fmt.Errorf("csid: marcar PENDING: %w", err)
		}
	}

	var resp *infrazatca.CSIDResponse
	if renew {
		resp, err = uc.onboard.RenewCSID(ctx, creds, otp, csr)
	} else {
		resp, err = uc.onboard.RequestComplianceCSID(ctx, creds.BaseURL, otp, csr)
	}
	if err != nil {
		revert := prev
		if !renew {
			revert.CSIDToken = ""
			revert.CSIDSecret = ""
			revert.CSIDRequestID = ""
			revert.CSIDIssuedAt = nil
			revert.CSIDStatus = pkgzatca.CSIDNotSet
		}
		revert.CSIDDisposition = err.Error()
		if uerr := uc.repo.UpdateCSID(context.WithoutCancel(ctx), &revert); uerr != nil {
			log.Error().Err(uerr).Msg("no se pudo registrar el fallo del CSID")
		}
		log.Warn().Err(err).Msg("emisión de CSID fallida")
		return nil, err
	}

	issuedAt := uc.now().UTC()
	cfg.CSIDToken = resp.BinarySecurityToken
	cfg.CSIDSecret = resp.Secret
	cfg.CSIDRequestID = resp.RequestID
	cfg.CSIDDisposition = resp.DispositionMessage
	cfg.CSIDStatus = pkgzatca.CSIDIssued
	cfg.CSIDIssuedAt = &issuedAt
	if err := uc.repo.UpdateCSID(ctx, cfg); err != nil {
		return nil, fmt.Errorf("csid: guardar credenciales: %w", err)
	}
	log.Info().Str("request_id", resp.RequestID).Msg("CSID emitido")
	return csidStatusResponse(cfg, issuedAt), nil
}

// buildCSR genera el CSR con la llave del tenant cuando el cliente no envía uno.
func (uc *CSIDUseCase) buildCSR(cfg *entity.ZatcaConfiguration, in dto.CSIDRequest) ([]byte, error) {
	km, err := uc.loadKey(cfg.CertificatePath, cfg.PrivateKeyPath, cfg.CertificatePassword)
	if err != nil {
		return nil, asSignatureError("cargar llave para el CSR", err)
	}
	org := strings.TrimSpace(in.OrganizationName)
	if org == "" {
		org = cfg.TaxNumber
	}
	env := cfg.Environment
	if env == "" {
		env = uc.settings.Environment
	}
	return signer.GenerateCSR(km, signer.CSRInfo{
		CommonName:       fmt.Sprintf("EGS-%s-%s", cfg.BranchCode, cfg.DeviceID),
		OrganizationName: org,
		OrganizationUnit: cfg.BranchCode,
		VATNumber:        cfg.TaxNumber,
		DeviceSerial:     fmt.Sprintf("1-zatca-einvoicing|2-1.0|3-%s", cfg.DeviceID),
		InvoiceTypes:     "1100",
		Address:          in.Address,
		BusinessCategory: in.BusinessCategory,
		Environment:      env,
	})
}

func csidStatusResponse(cfg *entity.ZatcaConfiguration, now time.Time) *dto.CSIDStatusResponse {
	status := zatca.CSIDStatus(cfg, now)
	out := &dto.CSIDStatusResponse{
		Status:      status,
		Valid:       status == pkgzatca.CSIDIssued && cfg.HasValidCSID(now),
		RequestID:   cfg.CSIDRequestID,
		Disposition: cfg.CSIDDisposition,
		IssuedAt:    cfg.CSIDIssuedAt,
		ExpiresAt:   cfg.CSIDExpiresAt(),
	}
	switch status {
	case pkgzatca.CSIDNotSet:
		out.Message = "no se ha solicitado un CSID"
	case pkgzatca.CSIDPending:
		out.Message = "solicitud de CSID en curso"
	case pkgzatca.CSIDExpired:
		out.Message = "el CSID expiró; renuévelo con un OTP nuevo"
	case pkgzatca.CSIDIssued:
		out.Message = "CSID vigente"
		if out.ExpiresAt != nil {
			out.Message = fmt.Sprintf("CSID vigente hasta %s", out.ExpiresAt.Format("2006-01-02"))
		}
	default:
		out.Message = "estado de CSID desconocido"
	}
	return out
}
