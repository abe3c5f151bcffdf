package zatca

import (
	"encoding/base64"
	"fmt"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
)

// GenesisPreviousHash PIH de la primera factura de un tenant: base64(hex(sha256("0"))).
const GenesisPreviousHash = "NWZlY2ViNjZmZmM4NmYzOGQ5NTI3ODZjNmQ2OTZjNzljMmRiYzIzOWRkNGU5MWI0NjcyOWQ3M2EyN2ZiNTdlOQ=="

// ChainLink referencia que una factura nueva toma de la cabeza de la cadena.
type ChainLink struct {
	PreviousHash string
	Counter      int64 // ICV asignado a la nueva factura
	Expected     int64 // contador que la cabeza debe tener al persistir (CAS)
}

// Link calcula el hash previo y el contador de la siguiente factura del tenant.
// Una cabeza con contador > 0 y sin hash es un estado corrupto.
func Link(head entity.ChainHead, companyID string) (ChainLink, error) {
	if head.Counter < 0 {
		return ChainLink{}, &ChainError{CompanyID: companyID, Msg: fmt.Sprintf("contador negativo %d", head.Counter)}
	}
	if head.Counter == 0 {
		return ChainLink{PreviousHash: GenesisPreviousHash, Counter: 1, Expected: 0}, nil
	}
	if head.LastHash == "" {
		return ChainLink{}, &ChainError{CompanyID: companyID, Msg: fmt.Sprintf("la factura %d no tiene hash registrado", head.Counter)}
	}
	if !IsValidHashFormat(head.LastHash) {
		return ChainLink{}, &ChainError{CompanyID: companyID, Msg: "el último hash registrado no es un SHA-256 en Base64"}
	}
	return ChainLink{PreviousHash: head.LastHash, Counter: head.Counter + 1, Expected: head.Counter}, nil
}

// ChainEntry vista mínima de una factura encadenada para ValidateChain.
type ChainEntry struct {
	Counter      int64
	InvoiceHash  string
	PreviousHash string
}

// ValidateChain verifica una secuencia persistida ordenada por contador.
func ValidateChain(companyID string, entries []ChainEntry) error {
	for i, e := range entries {
		if !IsValidHashFormat(e.InvoiceHash) {
			return &ChainError{CompanyID: companyID, Msg: fmt.Sprintf("hash mal formado en la factura %d", e.Counter)}
		}
		if i == 0 {
			if e.Counter == 1 && e.PreviousHash != GenesisPreviousHash {
				return &ChainError{CompanyID: companyID, Msg: "la primera factura no referencia el hash génesis"}
			}
			continue
		}
		prev := entries[i-1]
		if e.Counter <= prev.Counter {
			return &ChainError{CompanyID: companyID, Msg: fmt.Sprintf("contador no creciente: %d después de %d", e.Counter, prev.Counter)}
		}
		if e.PreviousHash != prev.InvoiceHash {
			return &ChainError{CompanyID: companyID, Msg: fmt.Sprintf("la factura %d no referencia el hash de la factura %d", e.Counter, prev.Counter)}
		}
	}
	return nil
}

// IsValidHashFormat indica si s es Base64 estándar de 32 bytes (SHA-256).
func IsValidHashFormat(s string) bool {
	if s == GenesisPreviousHash {
		return true
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	return err == nil && len(raw) == 32
}
