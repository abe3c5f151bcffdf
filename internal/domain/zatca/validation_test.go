package zatca_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

func TestValidateConfiguration_Valida(t *testing.T) {
	assert.NoError(t, zatca.ValidateConfiguration(phase1Config(), testNow, true))
	assert.NoError(t, zatca.ValidateConfiguration(phase2Config(), testNow, true))
}

func TestValidateConfiguration_Phase1SinCredenciales(t *testing.T) {
	cfg := phase1Config()
	cfg.APIKey = ""
	cfg.APISecret = ""
	cfg.TaxNumber = "31012239350000A"

	err := zatca.ValidateConfiguration(cfg, testNow, false)
	require.Error(t, err)
	var ve *zatca.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Fields, 3, "debe listar cada campo que falla")
}

func TestValidateConfiguration_CSIDSoloConWithCSID(t *testing.T) {
	cfg := phase2Config()
	cfg.CSIDStatus = pkgzatca.CSIDPending

	assert.NoError(t, zatca.ValidateConfiguration(cfg, testNow, false))
	err := zatca.ValidateConfiguration(cfg, testNow, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), pkgzatca.CSIDPending)
}

func TestCheckCSID(t *testing.T) {
	cfg := phase2Config()
	assert.NoError(t, zatca.CheckCSID(cfg, testNow))

	expired := testNow.Add(-400 * 24 * time.Hour)
	cfg.CSIDIssuedAt = &expired
	err := zatca.CheckCSID(cfg, testNow)
	require.Error(t, err)
	assert.Equal(t, zatca.KindSignature, zatca.KindOf(err))
	assert.Contains(t, err.Error(), pkgzatca.CSIDExpired)
	assert.Equal(t, pkgzatca.CSIDExpired, zatca.CSIDStatus(cfg, testNow))

	cfg = phase2Config()
	cfg.CSIDStatus = ""
	cfg.CSIDToken = ""
	err = zatca.CheckCSID(cfg, testNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), pkgzatca.CSIDNotSet)
}

func TestReportingDeadline(t *testing.T) {
	issued := testNow.Add(-23 * time.Hour)
	assert.True(t, zatca.ReportingDue(issued, testNow))
	assert.True(t, zatca.IsDeadlineMissed(testNow.Add(-25*time.Hour), testNow))
}
