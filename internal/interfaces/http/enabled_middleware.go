package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/zatca-einvoicing/internal/application/dto"
)

// enabledChecker contrato mínimo para saber si el tenant tiene ZATCA activo.
// Lo implementa *compliance.ConfigurationUseCase.
type enabledChecker interface {
	IsEnabled(ctx context.Context, companyID string) (bool, error)
}

// RequireZatcaEnabled corta la petición si la empresa del token no tiene la integración
// configurada y activa. Debe usarse DESPUÉS de AuthMiddleware.
//
// Comportamiento:
//   - 403 Forbidden → integración deshabilitada o sin configurar.
//   - 503 Service Unavailable → fallo al consultar la configuración.
func RequireZatcaEnabled(checker enabledChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		companyID := GetCompanyID(c)
		if companyID == "" {
			return unauthorized(c)
		}
		enabled, err := checker.IsEnabled(c.UserContext(), companyID)
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
				Code:    "CONFIG_CHECK_FAILED",
				Message: "no se pudo verificar la configuración ZATCA, intente más tarde",
			})
		}
		if !enabled {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Code:    "ZATCA_DISABLED",
				Message: "la integración ZATCA no está activa para esta empresa",
			})
		}
		return c.Next()
	}
}
