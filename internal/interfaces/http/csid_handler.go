package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/zatca-einvoicing/internal/application/dto"
)

// CSIDService ciclo de vida del CSID. Lo implementa *compliance.CSIDUseCase.
type CSIDService interface {
	Request(ctx context.Context, companyID string, in dto.CSIDRequest) (*dto.CSIDStatusResponse, error)
	Renew(ctx context.Context, companyID string, in dto.CSIDRequest) (*dto.CSIDStatusResponse, error)
	Status(ctx context.Context, companyID string) (*dto.CSIDStatusResponse, error)
}

// CSIDHandler emisión y consulta del CSID (protegido).
type CSIDHandler struct {
	svc CSIDService
}

// NewCSIDHandler construye el handler.
func NewCSIDHandler(svc CSIDService) *CSIDHandler {
	return &CSIDHandler{svc: svc}
}

// Status godoc
// @Summary      Estado del CSID
// @Tags         zatca
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  dto.CSIDStatusResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/zatca/csid [get]
func (h *CSIDHandler) Status(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	out, err := h.svc.Status(c.UserContext(), companyID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// Request godoc
// @Summary      Solicitar CSID de cumplimiento
// @Description  Requiere el OTP del portal Fatoora. Si no se envía CSR se genera con la llave del tenant.
// @Tags         zatca
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.CSIDRequest  true  "OTP y CSR opcional"
// @Success      200   {object}  dto.CSIDStatusResponse
// @Failure      400   {object}  dto.PipelineErrorResponse
// @Failure      422   {object}  dto.PipelineErrorResponse
// @Router       /api/zatca/csid [post]
func (h *CSIDHandler) Request(c *fiber.Ctx) error {
	return h.issue(c, h.svc.Request)
}

// Renew godoc
// @Summary      Renovar CSID
// @Tags         zatca
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.CSIDRequest  true  "OTP y CSR opcional"
// @Success      200   {object}  dto.CSIDStatusResponse
// @Failure      409   {object}  dto.PipelineErrorResponse
// @Router       /api/zatca/csid/renew [post]
func (h *CSIDHandler) Renew(c *fiber.Ctx) error {
	return h.issue(c, h.svc.Renew)
}

func (h *CSIDHandler) issue(c *fiber.Ctx, fn func(context.Context, string, dto.CSIDRequest) (*dto.CSIDStatusResponse, error)) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	var in dto.CSIDRequest
	if err := c.BodyParser(&in); err != nil {
		return invalidBody(c)
	}
	out, err := fn(c.UserContext(), companyID, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}
