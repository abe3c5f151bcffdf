package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/zatca-einvoicing/internal/application/dto"
)

// ComplianceTestService autoprueba del pipeline. Lo implementa *compliance.SelfTestUseCase.
type ComplianceTestService interface {
	Run(ctx context.Context, companyID string) (*dto.ComplianceTestResponse, error)
	Summary(ctx context.Context, companyID string) (*dto.ComplianceSummaryResponse, error)
}

// ComplianceHandler autoprueba de cumplimiento (protegido).
type ComplianceHandler struct {
	svc ComplianceTestService
}

// NewComplianceHandler construye el handler.
func NewComplianceHandler(svc ComplianceTestService) *ComplianceHandler {
	return &ComplianceHandler{svc: svc}
}

// Test godoc
// @Summary      Autoprueba de cumplimiento ZATCA
// @Description  Recorre el pipeline con una factura de muestra (no se persiste ni se envía).
// @Description  Devuelve el resultado y puntaje de cada verificación.
// @Tags         zatca-compliance
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  dto.ComplianceTestResponse
// @Failure      409  {object}  dto.PipelineErrorResponse
// @Router       /api/zatca/compliance/test [post]
func (h *ComplianceHandler) Test(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	out, err := h.svc.Run(c.UserContext(), companyID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// Summary godoc
// @Summary      Resumen de cumplimiento ZATCA
// @Tags         zatca-compliance
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  dto.ComplianceSummaryResponse
// @Failure      409  {object}  dto.PipelineErrorResponse
// @Router       /api/zatca/compliance/summary [get]
func (h *ComplianceHandler) Summary(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	out, err := h.svc.Summary(c.UserContext(), companyID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}
