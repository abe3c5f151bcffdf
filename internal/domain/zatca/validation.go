package zatca

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

// ValidateConfiguration valida la configuración del tenant. Con withCSID también exige
// un CSID emitido y vigente en phase2 (validate-configuration); la generación lo omite
// para que el paso de firma reporte SignatureError.
func ValidateConfiguration(cfg *entity.ZatcaConfiguration, now time.Time, withCSID bool) error {
	var errs ValidationErrors
	if cfg == nil {
		errs.Add("configuration", "configuración ZATCA ausente")
		return errs.Err()
	}
	if !pkgzatca.ValidPhases[cfg.Phase] {
		errs.Add("phase", fmt.Sprintf("fase inválida %q (phase1 o phase2)", cfg.Phase))
	}
	if cfg.Environment != "" {
		if _, ok := pkgzatca.BaseURLs[cfg.Environment]; !ok {
			errs.Add("environment", fmt.Sprintf("ambiente inválido %q", cfg.Environment))
		}
	}
	errs.Check("tax_number", pkgzatca.ValidateVATNumber(cfg.TaxNumber))
	errs.Check("branch_code", pkgzatca.ValidateBranchCode(cfg.BranchCode))
	if cfg.APIEndpoint != "" {
		errs.Check("api_endpoint", validateEndpoint(cfg.APIEndpoint))
	}

	switch cfg.Phase {
	case pkgzatca.Phase1:
		if cfg.APIEndpoint == "" {
			errs.Add("api_endpoint", "el endpoint de la API es obligatorio en phase1")
		}
		if cfg.APIKey == "" {
			errs.Add("api_key", "la API key es obligatoria en phase1")
		}
		if cfg.APISecret == "" {
			errs.Add("api_secret", "el API secret es obligatorio en phase1")
		}
	case pkgzatca.Phase2:
		errs.Check("device_id", pkgzatca.ValidateDeviceID(cfg.DeviceID))
		if cfg.CertificatePath == "" {
			errs.Add("certificate_path", "el certificado es obligatorio en phase2")
		}
		if cfg.PrivateKeyPath == "" && !IsPKCS12Path(cfg.CertificatePath) {
			errs.Add("private_key_path", "la llave privada es obligatoria en phase2")
		}
		if withCSID {
			if err := CheckCSID(cfg, now); err != nil {
				errs.Add("csid", err.Error())
			}
		}
	}
	return errs.Err()
}

// CSIDStatus estado efectivo del CSID en now: EXPIRED se deriva de la fecha de emisión.
func CSIDStatus(cfg *entity.ZatcaConfiguration, now time.Time) string {
	if cfg == nil || cfg.CSIDStatus == "" {
		return pkgzatca.CSIDNotSet
	}
	if cfg.CSIDStatus == pkgzatca.CSIDIssued {
		if exp := cfg.CSIDExpiresAt(); exp != nil && !now.Before(*exp) {
			return pkgzatca.CSIDExpired
		}
	}
	return cfg.CSIDStatus
}

// CheckCSID devuelve SignatureError si el tenant no tiene un CSID emitido y vigente.
func CheckCSID(cfg *entity.ZatcaConfiguration, now time.Time) error {
	status := CSIDStatus(cfg, now)
	if status != pkgzatca.CSIDIssued {
		return &SignatureError{Msg: fmt.Sprintf("el CSID está en estado %s; se requiere un CSID emitido y vigente", status)}
	}
	if !cfg.HasValidCSID(now) {
		return &SignatureError{Msg: fmt.Sprintf("el CSID está en estado %s pero faltan token o secret", status)}
	}
	return nil
}

// IsPKCS12Path indica si la ruta apunta a un contenedor PKCS#12 con llave incluida.
func IsPKCS12Path(path string) bool {
	p := strings.ToLower(path)
	return strings.HasSuffix(p, ".p12") || strings.HasSuffix(p, ".pfx")
}

func validateEndpoint(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return fmt.Errorf("URL inválida %q", raw)
	}
	return nil
}
