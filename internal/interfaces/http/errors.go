package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/zatca-einvoicing/internal/application/dto"
	"github.com/jhoicas/zatca-einvoicing/internal/domain"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
)

// errorStatus código HTTP y cuerpo para un error de los casos de uso.
func errorStatus(err error) (int, dto.PipelineErrorResponse) {
	body := dto.PipelineErrorResponse{Message: err.Error()}

	var ve *zatca.ValidationError
	var re *zatca.RejectionError
	switch {
	case errors.As(err, &ve):
		body.Code, body.Message, body.Errors = "VALIDATION", "datos inválidos", ve.Messages()
		return fiber.StatusBadRequest, body
	case errors.As(err, &re):
		body.Code, body.Errors = "REJECTED", re.Messages
		return fiber.StatusUnprocessableEntity, body
	case errors.Is(err, domain.ErrNotFound):
		body.Code = "NOT_FOUND"
		return fiber.StatusNotFound, body
	case errors.Is(err, domain.ErrNotConfigured):
		body.Code = "NOT_CONFIGURED"
		return fiber.StatusConflict, body
	case errors.Is(err, domain.ErrDisabled):
		body.Code = "DISABLED"
		return fiber.StatusConflict, body
	case errors.Is(err, domain.ErrConflict):
		body.Code = "CONFLICT"
		return fiber.StatusConflict, body
	}

	switch zatca.KindOf(err) {
	case zatca.KindSignature:
		body.Code = "SIGNATURE"
		return fiber.StatusConflict, body
	case zatca.KindConcurrency:
		body.Code = "CONCURRENCY"
		return fiber.StatusConflict, body
	case zatca.KindSubmission:
		body.Code = "SUBMISSION"
		return fiber.StatusBadGateway, body
	case zatca.KindChain:
		body.Code = "CHAIN"
	case zatca.KindEncoding:
		body.Code = "ENCODING"
	default:
		body.Code = "INTERNAL"
	}
	return fiber.StatusInternalServerError, body
}

func writeError(c *fiber.Ctx, err error) error {
	status, body := errorStatus(err)
	return c.Status(status).JSON(body)
}

// writeRecordError como writeError pero identifica el registro que quedó persistido.
func writeRecordError(c *fiber.Ctx, rec *entity.ZatcaInvoice, err error) error {
	status, body := errorStatus(err)
	if rec != nil {
		body.ID, body.Status = rec.ID, rec.Status
	}
	return c.Status(status).JSON(body)
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "company_id requerido"})
}

func invalidBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
}
