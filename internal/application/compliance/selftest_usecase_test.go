package compliance_test

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/zatca-einvoicing/internal/application/compliance"
	"github.com/jhoicas/zatca-einvoicing/internal/application/dto"
	"github.com/jhoicas/zatca-einvoicing/internal/domain"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	infrazatca "github.com/jhoicas/zatca-einvoicing/internal/infrastructure/zatca"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

func newSelfTest(h *harness, withArchive bool) *compliance.SelfTestUseCase {
	deps := compliance.SelfTestDeps{
		Configs:  h.configs,
		Client:   h.client,
		Builder:  infrazatca.NewUBLBuilder(),
		Hasher:   infrazatca.NewHashChainer(),
		Signer:   h.signer,
		LoadKey:  fakeKeyLoader,
		Settings: compliance.Settings{Environment: pkgzatca.EnvSandbox, BaseURL: h.server.URL},
		Log:      zerolog.Nop(),
		Now:      func() time.Time { return testNow },
	}
	if withArchive {
		deps.Archive = h.archive
	}
	return compliance.NewSelfTestUseCase(deps)
}

func checkByName(t *testing.T, res *dto.ComplianceTestResponse, name string) dto.ComplianceCheckResult {
	t.Helper()
	for _, c := range res.Tests {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("verificación %s ausente", name)
	return dto.ComplianceCheckResult{}
}

func TestSelfTest_Phase1Cumple(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)

	res, err := newSelfTest(h, true).Run(context.Background(), "c1")
	require.NoError(t, err)

	assert.True(t, res.OverallCompliant, "%+v", res.Errors)
	assert.Equal(t, 100.0, res.OverallScore)
	assert.Equal(t, 9, res.TotalTests)
	assert.Equal(t, 9, res.PassedTests)
	assert.Empty(t, res.Errors)
	assert.True(t, checkByName(t, res, compliance.CheckSignatures).Skipped)
	assert.Equal(t, int32(0), h.signer.calls)
	assert.Equal(t, int32(1), h.serverHits(), "solo la conectividad llega a la red")
	require.Len(t, h.archive.keys, 1)
	assert.True(t, strings.HasPrefix(h.archive.keys[0], "autoprueba/c1/"))
	assert.Empty(t, h.store.invoices, "la factura de muestra no se persiste")
}

func TestSelfTest_Phase2Cumple(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), func(string) *entity.ZatcaConfiguration { return phase2Config() })

	res, err := newSelfTest(h, true).Run(context.Background(), "c1")
	require.NoError(t, err)

	assert.True(t, res.OverallCompliant, "%+v", res.Errors)
	assert.Equal(t, 9, res.PassedTests)
	assert.Equal(t, int32(1), h.signer.calls)
	certs := checkByName(t, res, compliance.CheckCertificates)
	assert.Equal(t, 80, certs.Score, "certificado aún no emitido: advertencia")
	assert.Equal(t, 97.78, res.OverallScore)
	assert.Equal(t, 100, checkByName(t, res, compliance.CheckBusinessRules).Score)
}

func TestSelfTest_APICaidaNoCumpleAunqueElPuntajeAlcance(t *testing.T) {
	h := newHarness(t, respond(http.StatusServiceUnavailable), phase1Config)

	res, err := newSelfTest(h, true).Run(context.Background(), "c1")
	require.NoError(t, err)

	api := checkByName(t, res, compliance.CheckAPIConnectivity)
	assert.False(t, api.Passed)
	assert.Equal(t, 0, api.Score)
	assert.Equal(t, 88.89, res.OverallScore)
	assert.False(t, res.OverallCompliant, "una verificación con errores impide cumplir")
	assert.Contains(t, res.Recommendations, "Verifique las credenciales de la API de ZATCA y la conectividad de red")
}

func TestSelfTest_CSIDSinEmitir(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), func(string) *entity.ZatcaConfiguration {
		cfg := phase2Config()
		cfg.CSIDStatus = pkgzatca.CSIDPending
		cfg.CSIDToken = ""
		return cfg
	})

	res, err := newSelfTest(h, false).Run(context.Background(), "c1")
	require.NoError(t, err)

	assert.False(t, res.OverallCompliant)
	assert.False(t, checkByName(t, res, compliance.CheckConfiguration).Passed)
	assert.False(t, checkByName(t, res, compliance.CheckCertificates).Passed)
	archive := checkByName(t, res, compliance.CheckArchiving)
	assert.True(t, archive.Passed)
	assert.Equal(t, []string{"el archivo de XML firmados no está configurado"}, archive.Warnings)
}

func TestSelfTest_FallaEnCascadaSinXML(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), func(url string) *entity.ZatcaConfiguration {
		cfg := phase1Config(url)
		cfg.TaxNumber = "12345"
		return cfg
	})

	res, err := newSelfTest(h, true).Run(context.Background(), "c1")
	require.NoError(t, err)

	assert.False(t, checkByName(t, res, compliance.CheckUBLGeneration).Passed)
	hashing := checkByName(t, res, compliance.CheckHashing)
	require.Len(t, hashing.Errors, 1)
	assert.Contains(t, hashing.Errors[0], compliance.CheckUBLGeneration)
	assert.False(t, checkByName(t, res, compliance.CheckBusinessRules).Passed)
	assert.Empty(t, h.archive.keys)
}

func TestSelfTest_SinConfiguracion(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)

	_, err := newSelfTest(h, false).Run(context.Background(), "otra")
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
}

func TestSelfTest_Resumen(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)

	sum, err := newSelfTest(h, false).Summary(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, compliance.ComplianceStatusCompliant, sum.ComplianceStatus)
	assert.Equal(t, "cfg-1", sum.ConfigID)
	assert.Equal(t, pkgzatca.Phase1, sum.Phase)
	assert.Equal(t, testNow, sum.LastTestDate)
	assert.Equal(t, 0, sum.CriticalIssues)
	assert.Equal(t, 3, sum.Warnings)
	assert.Equal(t, 3, sum.RecommendationsCount)
}
