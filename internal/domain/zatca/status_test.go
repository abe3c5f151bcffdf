package zatca_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

func TestCanTransition_CaminoPhase1(t *testing.T) {
	path := []string{
		entity.ZatcaStatusDraft, entity.ZatcaStatusGenerating, entity.ZatcaStatusHashed,
		entity.ZatcaStatusQRReady, entity.ZatcaStatusSubmitted, entity.ZatcaStatusValid,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, zatca.CanTransition(path[i], path[i+1], pkgzatca.Phase1), "%s → %s", path[i], path[i+1])
	}
	assert.False(t, zatca.CanTransition(entity.ZatcaStatusHashed, entity.ZatcaStatusSigned, pkgzatca.Phase1),
		"phase1 no tiene paso de firma")
}

func TestCanTransition_CaminoPhase2(t *testing.T) {
	path := []string{
		entity.ZatcaStatusDraft, entity.ZatcaStatusGenerating, entity.ZatcaStatusHashed,
		entity.ZatcaStatusSigned, entity.ZatcaStatusQRReady, entity.ZatcaStatusSubmitted, entity.ZatcaStatusInvalid,
	}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, zatca.CanTransition(path[i], path[i+1], pkgzatca.Phase2), "%s → %s", path[i], path[i+1])
	}
	assert.False(t, zatca.CanTransition(entity.ZatcaStatusHashed, entity.ZatcaStatusQRReady, pkgzatca.Phase2),
		"phase2 no puede saltarse la firma")
}

func TestCanTransition_Monotonia(t *testing.T) {
	assert.False(t, zatca.CanTransition(entity.ZatcaStatusValid, entity.ZatcaStatusDraft, pkgzatca.Phase1))
	assert.False(t, zatca.CanTransition(entity.ZatcaStatusValid, entity.ZatcaStatusCancelled, pkgzatca.Phase1))
	assert.False(t, zatca.CanTransition(entity.ZatcaStatusValid, entity.ZatcaStatusInvalid, pkgzatca.Phase1))
	assert.False(t, zatca.CanTransition(entity.ZatcaStatusQRReady, entity.ZatcaStatusHashed, pkgzatca.Phase1))
	assert.False(t, zatca.CanTransition(entity.ZatcaStatusCancelled, entity.ZatcaStatusCancelled, pkgzatca.Phase1))
	assert.False(t, zatca.CanTransition(entity.ZatcaStatusInvalid, entity.ZatcaStatusSubmitted, pkgzatca.Phase1))
}

func TestCanTransition_CancelarAntesDeValid(t *testing.T) {
	for _, s := range []string{
		entity.ZatcaStatusDraft, entity.ZatcaStatusGenerating, entity.ZatcaStatusHashed, entity.ZatcaStatusSigned,
		entity.ZatcaStatusQRReady, entity.ZatcaStatusSubmitted, entity.ZatcaStatusInvalid,
	} {
		assert.True(t, zatca.CanTransition(s, entity.ZatcaStatusCancelled, pkgzatca.Phase2), s)
	}
}

func TestTransition_ActualizaEstado(t *testing.T) {
	inv := &entity.ZatcaInvoice{Status: entity.ZatcaStatusDraft, Phase: pkgzatca.Phase1}
	assert.NoError(t, zatca.Transition(inv, entity.ZatcaStatusGenerating))
	assert.Equal(t, entity.ZatcaStatusGenerating, inv.Status)

	err := zatca.Transition(inv, entity.ZatcaStatusValid)
	assert.Error(t, err)
	assert.Equal(t, entity.ZatcaStatusGenerating, inv.Status, "un error no debe mutar el estado")
}
