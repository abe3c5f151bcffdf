package http

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/jhoicas/zatca-einvoicing/internal/application/dto"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
)

// InvoicePipeline generación, envío y cancelación. Lo implementa *compliance.Orchestrator.
type InvoicePipeline interface {
	Generate(ctx context.Context, companyID, sourceInvoiceID string) (*entity.ZatcaInvoice, error)
	Process(ctx context.Context, companyID, sourceInvoiceID string) (*entity.ZatcaInvoice, error)
	ProcessAsync(ctx context.Context, companyID, sourceInvoiceID string) (*entity.ZatcaInvoice, error)
	Submit(ctx context.Context, companyID, id string) (*entity.ZatcaInvoice, error)
	Cancel(ctx context.Context, companyID, id, reason string) (*entity.ZatcaInvoice, error)
}

// InvoiceHandler facturas ZATCA del tenant (protegido).
type InvoiceHandler struct {
	pipeline InvoicePipeline
	reports  ReportService
}

// NewInvoiceHandler construye el handler.
func NewInvoiceHandler(pipeline InvoicePipeline, reports ReportService) *InvoiceHandler {
	return &InvoiceHandler{pipeline: pipeline, reports: reports}
}

// Generate godoc
// @Summary      Generar factura ZATCA desde una factura de origen
// @Description  submit=true genera y envía. async=true valida y crea el registro en draft, responde 202 con su id
// @Description  y termina generación y envío en segundo plano; el estado se consulta en GET /api/zatca/invoices/{id}.
// @Tags         zatca
// @Security     Bearer
// @Produce      json
// @Param        invoiceId  path   string  true   "ID de la factura de origen"
// @Param        submit     query  bool    false  "Enviar a la autoridad tras generar"
// @Param        async      query  bool    false  "Procesar en segundo plano"
// @Success      201  {object}  dto.GenerateResponse
// @Success      202  {object}  dto.GenerateResponse
// @Failure      400  {object}  dto.PipelineErrorResponse
// @Failure      409  {object}  dto.PipelineErrorResponse
// @Router       /api/zatca/invoices/generate/{invoiceId} [post]
func (h *InvoiceHandler) Generate(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	// Params apunta al buffer de la petición, que fasthttp reutiliza.
	sourceID := utils.CopyString(c.Params("invoiceId"))
	if c.QueryBool("async") {
		rec, err := h.pipeline.ProcessAsync(c.UserContext(), companyID, sourceID)
		if err != nil {
			return writeRecordError(c, rec, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(dto.GenerateResponse{
			ID:     rec.ID,
			Status: rec.Status,
			UUID:   rec.UUID,
			Queued: true,
		})
	}

	run := h.pipeline.Generate
	if c.QueryBool("submit") {
		run = h.pipeline.Process
	}
	rec, err := run(c.UserContext(), companyID, sourceID)
	if err != nil {
		return writeRecordError(c, rec, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.GenerateResponse{
		ID:            rec.ID,
		Status:        rec.Status,
		UUID:          rec.UUID,
		InvoiceNumber: rec.InvoiceNumber,
		QRCode:        rec.QRCode,
	})
}

// Submit godoc
// @Summary      Enviar factura ZATCA a la autoridad
// @Description  Un registro invalid se regenera como un registro nuevo que lo reemplaza.
// @Tags         zatca
// @Security     Bearer
// @Produce      json
// @Param        zatcaInvoiceId  path  string  true  "ID del registro ZATCA"
// @Success      200  {object}  dto.ZatcaInvoiceResponse
// @Failure      422  {object}  dto.PipelineErrorResponse
// @Failure      502  {object}  dto.PipelineErrorResponse
// @Router       /api/zatca/invoices/submit/{zatcaInvoiceId} [post]
func (h *InvoiceHandler) Submit(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	rec, err := h.pipeline.Submit(c.UserContext(), companyID, c.Params("zatcaInvoiceId"))
	if err != nil {
		return writeRecordError(c, rec, err)
	}
	return h.respondRecord(c, companyID, rec.ID)
}

// Cancel godoc
// @Summary      Cancelar factura ZATCA no validada
// @Tags         zatca
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string              true   "ID del registro ZATCA"
// @Param        body  body  dto.CancelRequest   false  "Motivo"
// @Success      200  {object}  dto.ZatcaInvoiceResponse
// @Failure      409  {object}  dto.PipelineErrorResponse
// @Router       /api/zatca/invoices/{id}/cancel [post]
func (h *InvoiceHandler) Cancel(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	var in dto.CancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return invalidBody(c)
		}
	}
	rec, err := h.pipeline.Cancel(c.UserContext(), companyID, c.Params("id"), in.Reason)
	if err != nil {
		return writeRecordError(c, rec, err)
	}
	return h.respondRecord(c, companyID, rec.ID)
}

// List godoc
// @Summary      Listar facturas ZATCA
// @Tags         zatca
// @Security     Bearer
// @Produce      json
// @Param        status  query  string  false  "Filtrar por estado"
// @Param        limit   query  int     false  "Máximo 100"
// @Param        offset  query  int     false  "Desplazamiento"
// @Success      200  {object}  dto.ZatcaInvoiceListResponse
// @Router       /api/zatca/invoices [get]
func (h *InvoiceHandler) List(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	page := dto.PageRequest{Limit: c.QueryInt("limit", 20), Offset: c.QueryInt("offset", 0)}
	out, err := h.reports.ListInvoices(c.UserContext(), companyID, c.Query("status"), page)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// GetByID godoc
// @Summary      Detalle de factura ZATCA con XML y transiciones
// @Tags         zatca
// @Security     Bearer
// @Produce      json
// @Param        id   path  string  true  "ID del registro ZATCA"
// @Success      200  {object}  dto.ZatcaInvoiceResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/zatca/invoices/{id} [get]
func (h *InvoiceHandler) GetByID(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	return h.respondRecord(c, companyID, c.Params("id"))
}

// PDF godoc
// @Summary      Representación impresa con QR
// @Tags         zatca
// @Security     Bearer
// @Produce      application/pdf
// @Param        id   path  string  true  "ID del registro ZATCA"
// @Success      200  {file}    binary
// @Failure      409  {object}  dto.ErrorResponse
// @Router       /api/zatca/invoices/{id}/pdf [get]
func (h *InvoiceHandler) PDF(c *fiber.Ctx) error {
	companyID := GetCompanyID(c)
	if companyID == "" {
		return unauthorized(c)
	}
	pdf, filename, err := h.reports.InvoicePDF(c.UserContext(), companyID, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", filename))
	return c.Send(pdf)
}

func (h *InvoiceHandler) respondRecord(c *fiber.Ctx, companyID, id string) error {
	out, err := h.reports.GetInvoice(c.UserContext(), companyID, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}
