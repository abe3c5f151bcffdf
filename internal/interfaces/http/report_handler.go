package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/zatca-einvoicing/internal/application/dto"
)

// ReportService consultas y reportes. Lo implementa *compliance.ReportUseCase.
type ReportService interface {
	ListInvoices(ctx context.Context, companyID, status string, page dto.PageRequest) (*dto.ZatcaInvoiceListResponse, error)
	GetInvoice(ctx context.Context, companyID, id string) (*dto.ZatcaInvoiceResponse, error)
	InvoicePDF(ctx context.Context, companyID, id string) ([]byte, string, error)
	Statistics(ctx context.Context, companyID string) (*dto.StatisticsResponse, error)
	TaxReport(ctx context.Context, companyID string, in dto.TaxReportRequest) (*dto.TaxReportResponse, error)
	VATReturn(ctx context.Context, companyID string, in dto.VATReturnRequest) (*dto.VATReturnResponse, error)
}

// ReportHandler estadísticas y reportes de IVA (protegido).
type ReportHandler struct {
	svc ReportService
}

// NewReportHandler construye el handler.
func NewReportHandler(svc ReportService) *ReportHandler {
	return &ReportHandler{svc: svc}
}

// Statistics godoc
// @Summary      Estadísticas de facturas ZATCA
// @Tags         zatca-reports
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  dto.StatisticsResponse
// @Router       /api/zatca/statistics [get]
func (h *ReportHandler) Statistics(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	out, err := h.svc.Statistics(c.UserContext(), companyID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// TaxReport godoc
// @Summary      Reporte de IVA por período
// @Tags         zatca-reports
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.TaxReportRequest  true  "Período (YYYY-MM-DD, fin inclusivo)"
// @Success      200   {object}  dto.TaxReportResponse
// @Failure      400   {object}  dto.PipelineErrorResponse
// @Router       /api/zatca/reports/tax [post]
func (h *ReportHandler) TaxReport(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	var in dto.TaxReportRequest
	if err := c.BodyParser(&in); err != nil {
		return invalidBody(c)
	}
	out, err := h.svc.TaxReport(c.UserContext(), companyID, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// VATReturn godoc
// @Summary      Casillas de ventas de la declaración de IVA
// @Tags         zatca-reports
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.VATReturnRequest  true  "Período YYYY-MM"
// @Success      200   {object}  dto.VATReturnResponse
// @Failure      400   {object}  dto.PipelineErrorResponse
// @Router       /api/zatca/reports/vat-return [post]
func (h *ReportHandler) VATReturn(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	var in dto.VATReturnRequest
	if err := c.BodyParser(&in); err != nil {
		return invalidBody(c)
	}
	out, err := h.svc.VATReturn(c.UserContext(), companyID, in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}
