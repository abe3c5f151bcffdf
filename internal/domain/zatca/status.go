package zatca

import (
	"fmt"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

// transitions grafo del pipeline. hashed→signed y hashed→qr_ready dependen de la fase (ver CanTransition).
var transitions = map[string][]string{
	entity.ZatcaStatusDraft:      {entity.ZatcaStatusGenerating},
	entity.ZatcaStatusGenerating: {entity.ZatcaStatusHashed},
	entity.ZatcaStatusHashed:     {entity.ZatcaStatusSigned, entity.ZatcaStatusQRReady},
	entity.ZatcaStatusSigned:     {entity.ZatcaStatusQRReady},
	entity.ZatcaStatusQRReady:    {entity.ZatcaStatusSubmitted},
	entity.ZatcaStatusSubmitted:  {entity.ZatcaStatusValid, entity.ZatcaStatusInvalid},
}

// CanTransition indica si from→to es legal para la fase dada.
// Cualquier estado no terminal puede pasar a invalid (error persistido) y cualquiera
// anterior a valid puede cancelarse.
func CanTransition(from, to, phase string) bool {
	switch to {
	case entity.ZatcaStatusCancelled:
		return from != entity.ZatcaStatusValid && from != entity.ZatcaStatusCancelled
	case entity.ZatcaStatusInvalid:
		if from == entity.ZatcaStatusInvalid {
			return false
		}
		return !IsTerminal(from)
	}
	if from == entity.ZatcaStatusHashed {
		if phase == pkgzatca.Phase2 {
			return to == entity.ZatcaStatusSigned
		}
		return to == entity.ZatcaStatusQRReady
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal valid, invalid y cancelled no avanzan más en el pipeline.
func IsTerminal(status string) bool {
	switch status {
	case entity.ZatcaStatusValid, entity.ZatcaStatusInvalid, entity.ZatcaStatusCancelled:
		return true
	}
	return false
}

// Transition aplica from→to sobre inv o devuelve error si no es legal.
func Transition(inv *entity.ZatcaInvoice, to string) error {
	if !CanTransition(inv.Status, to, inv.Phase) {
		return fmt.Errorf("zatca: transición inválida %s → %s (fase %s)", inv.Status, to, inv.Phase)
	}
	inv.Status = to
	return nil
}
