package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/zatca-einvoicing/internal/application/dto"
)

// ConfigurationService configuración ZATCA del tenant. Lo implementa *compliance.ConfigurationUseCase.
type ConfigurationService interface {
	enabledChecker
	Get(ctx context.Context, companyID string) (*dto.ZatcaConfigurationResponse, error)
	Save(ctx context.Context, companyID string, in dto.ZatcaConfigurationRequest) (*dto.ZatcaConfigurationResponse, error)
	Validate(ctx context.Context, companyID string) (*dto.ValidateConfigurationResponse, error)
	TestConnection(ctx context.Context, companyID string) (*dto.TestConnectionResponse, error)
}

// ConfigurationHandler maneja la configuración ZATCA (protegido).
type ConfigurationHandler struct {
	svc ConfigurationService
}

// NewConfigurationHandler construye el handler.
func NewConfigurationHandler(svc ConfigurationService) *ConfigurationHandler {
	return &ConfigurationHandler{svc: svc}
}

// Get godoc
// @Summary      Obtener configuración ZATCA
// @Tags         zatca
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  dto.ZatcaConfigurationResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/zatca/configuration [get]
func (h *ConfigurationHandler) Get(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	out, err := h.svc.Get(c.UserContext(), companyID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// Save godoc
// @Summary      Crear o actualizar configuración ZATCA
// @Description  Los secretos vacíos conservan el valor guardado. Los campos CSID no se aceptan aquí.
// @Tags         zatca
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.ZatcaConfigurationRequest  true  "Configuración"
// @Success      200   {object}  dto.ZatcaConfigurationResponse
// @Failure      400   {object}  dto.PipelineErrorResponse
// @Router       /api/zatca/configuration [post]
func (h *ConfigurationHandler) Save(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	var in dto.ZatcaConfigurationRequest
	if err := c.BodyParser(&in); err != nil {
		return invalidBody(c)
	}
	out, err := h.svc.Save(c.UserContext(), companyID, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// Validate godoc
// @Summary      Validar configuración ZATCA
// @Tags         zatca
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  dto.ValidateConfigurationResponse
// @Router       /api/zatca/validate-configuration [post]
func (h *ConfigurationHandler) Validate(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	out, err := h.svc.Validate(c.UserContext(), companyID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// TestConnection godoc
// @Summary      Probar conexión con la API de la autoridad
// @Tags         zatca
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  dto.TestConnectionResponse
// @Router       /api/zatca/test-connection [post]
func (h *ConfigurationHandler) TestConnection(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	out, err := h.svc.TestConnection(c.UserContext(), companyID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}
