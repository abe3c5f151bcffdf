// Package zatca contiene las reglas de dominio del cumplimiento ZATCA: máquina de
// estados, cadena de hashes, codificación TLV del QR, cálculo de IVA y la
// transformación de la factura de origen al documento canónico.
package zatca

import (
	"errors"
	"fmt"
	"strings"
)

// Categorías de error. Se persisten junto al mensaje y se usan para mapear códigos HTTP.
const (
	KindValidation  = "VALIDATION"
	KindChain       = "CHAIN"
	KindSignature   = "SIGNATURE"
	KindEncoding    = "ENCODING"
	KindRejection   = "REJECTION"
	KindSubmission  = "SUBMISSION"
	KindConcurrency = "CONCURRENCY"
	KindInternal    = "INTERNAL"
)

// FieldError error de un campo concreto.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError documento o configuración inválidos; el usuario puede corregirlo.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "validación: " + strings.Join(msgs, "; ")
}

// Messages devuelve los mensajes en el formato plano de la API.
func (e *ValidationError) Messages() []string {
	out := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		out = append(out, f.Field+": "+f.Message)
	}
	return out
}

// ValidationErrors acumula FieldError y devuelve nil si no hay ninguno.
type ValidationErrors []FieldError

// Add agrega un error de campo.
func (v *ValidationErrors) Add(field, msg string) {
	*v = append(*v, FieldError{Field: field, Message: msg})
}

// Check agrega err (si no es nil) bajo field.
func (v *ValidationErrors) Check(field string, err error) {
	if err != nil {
		v.Add(field, err.Error())
	}
}

// Err devuelve *ValidationError o nil.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return &ValidationError{Fields: v}
}

// ChainError falta el hash previo requerido; no debería ocurrir si el orquestador respeta sus invariantes.
type ChainError struct {
	CompanyID string
	Msg       string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("cadena de hashes (tenant %s): %s", e.CompanyID, e.Msg)
}

// SignatureError problemas de llave privada o CSID; requiere re-onboarding.
type SignatureError struct {
	Msg string
	Err error
}

func (e *SignatureError) Error() string {
	if e.Err != nil {
		return "firma: " + e.Msg + ": " + e.Err.Error()
	}
	return "firma: " + e.Msg
}

func (e *SignatureError) Unwrap() error { return e.Err }

// EncodingError un campo del QR excede 255 bytes.
type EncodingError struct {
	Tag    byte
	Length int
	Msg    string
}

func (e *EncodingError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("codificación TLV (tag %d): %s", e.Tag, e.Msg)
	}
	return fmt.Sprintf("codificación TLV: el tag %d mide %d bytes (máximo 255)", e.Tag, e.Length)
}

// RejectionError la autoridad rechazó el contenido (4xx). No se reintenta.
type RejectionError struct {
	StatusCode int
	Messages   []string
	Body       []byte
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("rechazada por ZATCA (HTTP %d): %s", e.StatusCode, strings.Join(e.Messages, "; "))
}

// SubmissionError red o 5xx tras agotar reintentos; se puede reintentar más tarde.
type SubmissionError struct {
	Attempts   int
	StatusCode int // 0 si fue error de red
	Err        error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("envío fallido tras %d intentos: %v", e.Attempts, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ConcurrencyError otro escritor avanzó la cadena del tenant; reintentar con el hash previo fresco.
type ConcurrencyError struct {
	CompanyID       string
	ExpectedCounter int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("conflicto de concurrencia en la cadena del tenant %s (contador esperado %d)", e.CompanyID, e.ExpectedCounter)
}

// KindOf clasifica err según la taxonomía; KindInternal si no pertenece a ninguna.
func KindOf(err error) string {
	var (
		ve *ValidationError
		ce *ChainError
		se *SignatureError
		ee *EncodingError
		re *RejectionError
		su *SubmissionError
		cc *ConcurrencyError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ce):
		return KindChain
	case errors.As(err, &se):
		return KindSignature
	case errors.As(err, &ee):
		return KindEncoding
	case errors.As(err, &re):
		return KindRejection
	case errors.As(err, &su):
		return KindSubmission
	case errors.As(err, &cc):
		return KindConcurrency
	default:
		return KindInternal
	}
}

// IsConcurrency atajo para el reintento del orquestador.
func IsConcurrency(err error) bool {
	var cc *ConcurrencyError
	return errors.As(err, &cc)
}
