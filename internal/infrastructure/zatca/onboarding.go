package zatca

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

const (
	pathComplianceCSID = "/compliance"
	pathProductionCSID = "/production/csids"
	kindOnboarding     = "onboarding"
)

// CSIDResponse credenciales emitidas por la autoridad.
type CSIDResponse struct {
	BinarySecurityToken string
	Secret              string
	RequestID           string
	DispositionMessage  string
}

// RequestComplianceCSID solicita el CSID de cumplimiento con el OTP del portal Fatoora.
// csrPEM se envía en base64 tal como lo exige la API.
func (c *APIClient) RequestComplianceCSID(ctx context.Context, baseURL, otp string, csrPEM []byte) (*CSIDResponse, error) {
	creds := Credentials{Phase: pkgzatca.Phase2, BaseURL: baseURL}
	return c.csidCall(ctx, creds, http.MethodPost, pathComplianceCSID, otp, csrPEM)
}

// RenewCSID renueva el CSID de producción autenticando con las credenciales vigentes.
func (c *APIClient) RenewCSID(ctx context.Context, creds Credentials, otp string, csrPEM []byte) (*CSIDResponse, error) {
	if creds.Token == "" || creds.Secret == "" {
		return nil, &zatca.SignatureError{Msg: "no hay CSID vigente para renovar"}
	}
	return c.csidCall(ctx, creds, http.MethodPatch, pathProductionCSID, otp, csrPEM)
}

func (c *APIClient) csidCall(ctx context.Context, creds Credentials, method, path, otp string, csrPEM []byte) (*CSIDResponse, error) {
	if otp == "" {
		return nil, &zatca.ValidationError{Fields: []zatca.FieldError{{Field: "otp", Message: "es obligatorio"}}}
	}
	if len(csrPEM) == 0 {
		return nil, &zatca.ValidationError{Fields: []zatca.FieldError{{Field: "csr", Message: "es obligatorio"}}}
	}
	body, err := json.Marshal(map[string]string{"csr": base64.StdEncoding.EncodeToString(csrPEM)})
	if err != nil {
		return nil, fmt.Errorf("zatca: serializar CSR: %w", err)
	}

	// Sin reintentos: un 5xx tras consumir el OTP no debe reenviarlo.
	_, raw, err := c.DoOnce(ctx, kindOnboarding, creds, method, path, body, map[string]string{"OTP": otp})
	if err != nil {
		return nil, err
	}
	var payload struct {
		BinarySecurityToken string          `json:"binarySecurityToken"`
		Secret              string          `json:"secret"`
		RequestID           json.RawMessage `json:"requestID"`
		DispositionMessage  string          `json:"dispositionMessage"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("zatca: respuesta de CSID inválida: %w", err)
	}
	// requestID llega como número o como texto según el ambiente.
	out := CSIDResponse{
		BinarySecurityToken: payload.BinarySecurityToken,
		Secret:              payload.Secret,
		RequestID:           strings.Trim(string(payload.RequestID), `"`),
		DispositionMessage:  payload.DispositionMessage,
	}
	if out.BinarySecurityToken == "" || out.Secret == "" {
		return nil, &zatca.SignatureError{Msg: "la autoridad no devolvió token y secret del CSID: " + out.DispositionMessage}
	}
	return &out, nil
}
