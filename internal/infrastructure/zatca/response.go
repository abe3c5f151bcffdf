package zatca

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// apiResponse forma común de las respuestas de la autoridad (éxito y error).
type apiResponse struct {
	ValidationResults *struct {
		Status          string       `json:"status"`
		InfoMessages    []apiMessage `json:"infoMessages"`
		WarningMessages []apiMessage `json:"warningMessages"`
		ErrorMessages   []apiMessage `json:"errorMessages"`
	} `json:"validationResults"`
	Errors          []apiMessage `json:"errors"`
	Message         string       `json:"message"`
	Code            string       `json:"code"`
	Status          string       `json:"status"`
	ClearanceStatus string       `json:"clearanceStatus"`
	ReportingStatus string       `json:"reportingStatus"`
	ClearedInvoice  string       `json:"clearedInvoice"`
}

type apiMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExtractErrorMessages obtiene los mensajes de error de la respuesta en orden de preferencia:
// validationResults.errorMessages, errors, message, code y por último un texto por status.
func ExtractErrorMessages(status int, body []byte) []string {
	var r apiResponse
	if len(body) > 0 && json.Unmarshal(body, &r) == nil {
		if r.ValidationResults != nil && len(r.ValidationResults.ErrorMessages) > 0 {
			return messages(r.ValidationResults.ErrorMessages)
		}
		if len(r.Errors) > 0 {
			return messages(r.Errors)
		}
		if r.Message != "" {
			return []string{r.Message}
		}
		if r.Code != "" {
			return []string{r.Code}
		}
	}
	return []string{fallbackMessage(status)}
}

func messages(in []apiMessage) []string {
	out := make([]string, 0, len(in))
	for _, m := range in {
		switch {
		case m.Message != "" && m.Code != "":
			out = append(out, m.Code+": "+m.Message)
		case m.Message != "":
			out = append(out, m.Message)
		case m.Code != "":
			out = append(out, m.Code)
		}
	}
	return out
}

func fallbackMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "solicitud inválida: la autoridad rechazó el documento"
	case http.StatusUnauthorized:
		return "credenciales inválidas o CSID no autorizado"
	case http.StatusForbidden:
		return "acceso denegado por la autoridad"
	case http.StatusNotFound:
		return "endpoint de la autoridad no encontrado"
	case http.StatusConflict:
		return "la factura ya fue enviada"
	case http.StatusTooManyRequests:
		return "límite de peticiones de la autoridad excedido"
	case http.StatusServiceUnavailable:
		return "servicio de la autoridad no disponible"
	}
	if status >= 500 {
		return fmt.Sprintf("error del servidor de la autoridad (HTTP %d)", status)
	}
	return fmt.Sprintf("respuesta inesperada de la autoridad (HTTP %d)", status)
}

func parseSubmitResponse(body []byte) *SubmitResult {
	res := &SubmitResult{}
	var r apiResponse
	if len(body) == 0 || json.Unmarshal(body, &r) != nil {
		return res
	}
	switch {
	case r.ClearanceStatus != "":
		res.Status = r.ClearanceStatus
	case r.ReportingStatus != "":
		res.Status = r.ReportingStatus
	case r.ValidationResults != nil && r.ValidationResults.Status != "":
		res.Status = r.ValidationResults.Status
	default:
		res.Status = strings.ToUpper(r.Status)
	}
	if r.ValidationResults != nil {
		res.Warnings = messages(r.ValidationResults.WarningMessages)
	}
	if r.ClearedInvoice != "" {
		if xml, err := base64.StdEncoding.DecodeString(r.ClearedInvoice); err == nil {
			res.ClearedXML = xml
		}
	}
	return res
}
