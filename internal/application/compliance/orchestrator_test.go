package compliance_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/zatca-einvoicing/internal/domain"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

func TestProcess_Phase1_SinFirmaYCincoCampos(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)

	rec, err := h.orch.Process(context.Background(), "c1", "inv-1")
	require.NoError(t, err)

	assert.Equal(t, entity.ZatcaStatusValid, rec.Status)
	assert.Equal(t, entity.SubmissionReporting, rec.SubmissionKind)
	assert.Empty(t, rec.Signature)
	assert.Equal(t, int32(0), atomic.LoadInt32(&h.signer.calls), "phase1 nunca firma")

	fields, err := zatca.DecodeQR(rec.QRCode)
	require.NoError(t, err)
	require.Len(t, fields, 5)
	assert.Equal(t, "Bobs Records", string(fields[0].Value))
	assert.Equal(t, "310122393500003", string(fields[1].Value))
	assert.Equal(t, "100.00", string(fields[3].Value))
	assert.Contains(t, rec.XMLContent, rec.QRCode)

	assert.Equal(t, []string{
		entity.ZatcaStatusDraft,
		entity.ZatcaStatusGenerating,
		entity.ZatcaStatusHashed,
		entity.ZatcaStatusQRReady,
		entity.ZatcaStatusSubmitted,
		entity.ZatcaStatusValid,
	}, h.store.eventsFor(rec.ID))
	assert.Len(t, h.archive.keys, 1)
}

func TestProcess_Phase2_Firma(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), func(string) *entity.ZatcaConfiguration { return phase2Config() })

	rec, err := h.orch.Process(context.Background(), "c1", "inv-2")
	require.NoError(t, err)

	assert.Equal(t, entity.ZatcaStatusValid, rec.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&h.signer.calls))
	assert.Equal(t, "c2lnbmF0dXJl", rec.Signature)
	assert.Equal(t, "001-123456-20240510-000000001", rec.InvoiceNumber)

	fields, err := zatca.DecodeQR(rec.QRCode)
	require.NoError(t, err)
	require.Len(t, fields, 9)
	assert.Equal(t, rec.InvoiceHash, string(fields[5].Value))
	assert.Equal(t, rec.Signature, string(fields[6].Value))
	assert.Contains(t, h.store.eventsFor(rec.ID), entity.ZatcaStatusSigned)
}

func TestGenerate_Phase2CSIDNoEmitido(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), func(string) *entity.ZatcaConfiguration {
		cfg := phase2Config()
		cfg.CSIDStatus = pkgzatca.CSIDPending
		cfg.CSIDToken = ""
		cfg.CSIDSecret = ""
		return cfg
	})

	rec, err := h.orch.Process(context.Background(), "c1", "inv-1")
	require.Error(t, err)

	var se *zatca.SignatureError
	require.True(t, errors.As(err, &se))
	require.NotNil(t, rec)
	stored := h.store.get(rec.ID)
	assert.Equal(t, entity.ZatcaStatusInvalid, stored.Status)
	assert.Contains(t, stored.ErrorMessage, pkgzatca.CSIDPending)
	assert.Equal(t, int32(0), atomic.LoadInt32(&h.signer.calls))
	assert.Equal(t, int32(0), h.serverHits())
}

func TestGenerate_VATInvalidoAntesDeLaRed(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), func(url string) *entity.ZatcaConfiguration {
		cfg := phase1Config(url)
		cfg.TaxNumber = "12345"
		return cfg
	})

	rec, err := h.orch.Process(context.Background(), "c1", "inv-1")
	require.Error(t, err)
	assert.Nil(t, rec)

	var ve *zatca.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "tax_number", ve.Fields[0].Field)
	assert.Equal(t, int32(0), h.serverHits())
	assert.Empty(t, h.store.invoices, "no se persiste nada con la configuración inválida")
}

func TestProcess_503_503_200(t *testing.T) {
	h := newHarness(t, respond(http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusOK), phase1Config)

	rec, err := h.orch.Process(context.Background(), "c1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ZatcaStatusValid, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, int32(3), h.serverHits())
	require.NotNil(t, rec.ValidatedAt)
}

func TestProcess_400SinReintento(t *testing.T) {
	h := newHarness(t, respond(http.StatusBadRequest), phase1Config)

	rec, err := h.orch.Process(context.Background(), "c1", "inv-1")
	require.Error(t, err)

	var re *zatca.RejectionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, int32(1), h.serverHits())
	assert.Equal(t, entity.ZatcaStatusInvalid, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.Contains(t, rec.ErrorMessage, "BR-KSA-37")
	assert.NotEmpty(t, rec.Response)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Failures.WithLabelValues(zatca.KindRejection)))
}

func TestSubmit_ErrorDeRedQuedaEnQRReady(t *testing.T) {
	h := newHarness(t, respond(http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway, http.StatusOK), phase1Config)
	ctx := context.Background()

	rec, err := h.orch.Process(ctx, "c1", "inv-1")
	require.Error(t, err)
	var su *zatca.SubmissionError
	require.True(t, errors.As(err, &su))

	stored := h.store.get(rec.ID)
	assert.Equal(t, entity.ZatcaStatusQRReady, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
	assert.NotEmpty(t, stored.ErrorMessage)

	rec, err = h.orch.Submit(ctx, "c1", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ZatcaStatusValid, rec.Status)
	assert.Equal(t, 4, rec.Attempts)
	assert.Empty(t, rec.ErrorMessage)
}

func TestGenerate_EncadenaPIH(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)
	ctx := context.Background()

	var recs []*entity.ZatcaInvoice
	for _, id := range []string{"inv-1", "inv-2", "inv-3"} {
		rec, err := h.orch.Generate(ctx, "c1", id)
		require.NoError(t, err)
		assert.Equal(t, entity.ZatcaStatusQRReady, rec.Status)
		recs = append(recs, rec)
	}

	assert.Equal(t, zatca.GenesisPreviousHash, recs[0].PreviousHash)
	for i := 1; i < len(recs); i++ {
		assert.Equal(t, recs[i-1].InvoiceHash, recs[i].PreviousHash)
		assert.Equal(t, int64(i+1), recs[i].InvoiceCounter)
	}
	assert.Equal(t, "001-20240510-000000003", recs[2].InvoiceNumber)

	entries := make([]zatca.ChainEntry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, zatca.ChainEntry{Counter: r.InvoiceCounter, InvoiceHash: r.InvoiceHash, PreviousHash: r.PreviousHash})
	}
	assert.NoError(t, zatca.ValidateChain("c1", entries))

	head, err := h.store.GetHead(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), head.Counter)
	assert.Equal(t, recs[2].InvoiceHash, head.LastHash)
}

func TestGenerate_ConflictoSeReintentaUnaVez(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)
	h.store.conflicts = 1

	rec, err := h.orch.Generate(context.Background(), "c1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.InvoiceCounter)
	assert.Equal(t, foreignHash, rec.PreviousHash)
	assert.Equal(t, 2, h.store.advances)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ChainRetries))
}

func TestGenerate_ConflictoPersistente(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)
	h.store.conflicts = 2

	rec, err := h.orch.Generate(context.Background(), "c1", "inv-1")
	require.Error(t, err)
	assert.True(t, zatca.IsConcurrency(err))
	assert.Equal(t, zatca.KindConcurrency, zatca.KindOf(err))
	assert.Equal(t, entity.ZatcaStatusInvalid, h.store.get(rec.ID).Status)
	assert.Equal(t, 2, h.store.advances)
}

func TestGenerate_ConcurrentesNoCompartenPIH(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)

	var wg sync.WaitGroup
	recs := make([]*entity.ZatcaInvoice, 2)
	errs := make([]error, 2)
	for i, id := range []string{"inv-1", "inv-2"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			recs[i], errs[i] = h.orch.Generate(context.Background(), "c1", id)
		}(i, id)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, recs[0].PreviousHash, recs[1].PreviousHash)
	assert.ElementsMatch(t, []int64{1, 2}, []int64{recs[0].InvoiceCounter, recs[1].InvoiceCounter})

	first, second := recs[0], recs[1]
	if first.InvoiceCounter == 2 {
		first, second = second, first
	}
	assert.Equal(t, zatca.GenesisPreviousHash, first.PreviousHash)
	assert.Equal(t, first.InvoiceHash, second.PreviousHash)
}

func TestSubmit_InvalidaSeRegeneraComoReemplazo(t *testing.T) {
	h := newHarness(t, respond(http.StatusBadRequest, http.StatusOK), phase1Config)
	ctx := context.Background()

	old, err := h.orch.Process(ctx, "c1", "inv-1")
	require.Error(t, err)
	require.Equal(t, entity.ZatcaStatusInvalid, old.Status)

	rec, err := h.orch.Submit(ctx, "c1", old.ID)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, rec.ID)
	assert.NotEqual(t, old.UUID, rec.UUID)
	assert.Equal(t, old.ID, rec.ReplacesID)
	assert.Equal(t, entity.ZatcaStatusValid, rec.Status)
	assert.Equal(t, old.InvoiceHash, rec.PreviousHash)
	assert.Equal(t, entity.ZatcaStatusInvalid, h.store.get(old.ID).Status, "el registro rechazado no se modifica")
}

func TestSubmit_EstadoIncorrecto(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)
	ctx := context.Background()

	rec, err := h.orch.Process(ctx, "c1", "inv-1")
	require.NoError(t, err)

	_, err = h.orch.Submit(ctx, "c1", rec.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = h.orch.Submit(ctx, "c1", "no-existe")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancel(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)
	ctx := context.Background()

	ready, err := h.orch.Generate(ctx, "c1", "inv-1")
	require.NoError(t, err)
	cancelled, err := h.orch.Cancel(ctx, "c1", ready.ID, "emitida por error")
	require.NoError(t, err)
	assert.Equal(t, entity.ZatcaStatusCancelled, cancelled.Status)

	_, err = h.orch.Cancel(ctx, "c1", ready.ID, "")
	assert.ErrorIs(t, err, domain.ErrConflict)

	valid, err := h.orch.Process(ctx, "c1", "inv-2")
	require.NoError(t, err)
	_, err = h.orch.Cancel(ctx, "c1", valid.ID, "")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestGenerate_SinConfiguracionODeshabilitada(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)
	ctx := context.Background()

	_, err := h.orch.Generate(ctx, "otra", "inv-1")
	assert.ErrorIs(t, err, domain.ErrNotConfigured)

	h.configs.cfgs["c1"].Enabled = false
	_, err = h.orch.Generate(ctx, "c1", "inv-1")
	assert.ErrorIs(t, err, domain.ErrDisabled)
}

func TestGenerate_FacturaDeOrigenInexistente(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)

	_, err := h.orch.Generate(context.Background(), "c1", "inv-99")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProcessAsync(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)

	rec, err := h.orch.ProcessAsync(context.Background(), "c1", "inv-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NotEmpty(t, rec.ID)
	assert.NotEmpty(t, rec.UUID)
	assert.Equal(t, entity.ZatcaStatusDraft, rec.Status)
	h.orch.Wait()

	stored := h.store.get(rec.ID)
	assert.Equal(t, entity.ZatcaStatusValid, stored.Status)
	assert.Equal(t, rec.UUID, stored.UUID)
	assert.Equal(t, entity.ZatcaStatusDraft, rec.Status, "la copia devuelta no la toca la goroutine")
}

func TestProcessAsync_ErroresAntesDeEncolar(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)
	ctx := context.Background()

	rec, err := h.orch.ProcessAsync(ctx, "otra", "inv-1")
	assert.ErrorIs(t, err, domain.ErrNotConfigured)
	assert.Nil(t, rec)

	rec, err = h.orch.ProcessAsync(ctx, "c1", "inv-99")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Nil(t, rec)

	h.orch.Wait()
	assert.Empty(t, h.store.invoices)
	assert.Equal(t, int32(0), h.serverHits())
}

func TestProcess_Phase1_NumeroSinDispositivo(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), func(url string) *entity.ZatcaConfiguration {
		cfg := phase1Config(url)
		cfg.DeviceID = "123456"
		return cfg
	})

	rec, err := h.orch.Process(context.Background(), "c1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "001-20240510-000000001", rec.InvoiceNumber)
}

// pathRecorder registra las rutas pedidas en orden y contesta el código configurado por ruta (200 si no hay).
type pathRecorder struct {
	mu    sync.Mutex
	paths []string
	codes map[string]int
}

func (p *pathRecorder) handle(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.paths = append(p.paths, r.URL.Path)
	p.mu.Unlock()
	code, ok := p.codes[r.URL.Path]
	if !ok {
		code = http.StatusOK
	}
	respond(code)(w, r)
}

func complianceCheckConfig(string) *entity.ZatcaConfiguration {
	cfg := phase2Config()
	cfg.ComplianceCheck = true
	return cfg
}

func TestProcess_ComplianceCheckAprobado(t *testing.T) {
	rec := &pathRecorder{}
	h := newHarness(t, rec.handle, complianceCheckConfig)

	out, err := h.orch.Process(context.Background(), "c1", "inv-1")
	require.NoError(t, err)

	assert.Equal(t, entity.ZatcaStatusValid, out.Status)
	assert.Equal(t, []string{"/compliance/invoices", "/invoices/reporting/single"}, rec.paths)
}

func TestProcess_ComplianceCheckRechazadoNoEnvia(t *testing.T) {
	rec := &pathRecorder{codes: map[string]int{"/compliance/invoices": http.StatusBadRequest}}
	h := newHarness(t, rec.handle, complianceCheckConfig)

	out, err := h.orch.Process(context.Background(), "c1", "inv-1")
	require.Error(t, err)
	var rej *zatca.RejectionError
	require.ErrorAs(t, err, &rej)

	require.NotNil(t, out)
	assert.Equal(t, entity.ZatcaStatusInvalid, h.store.get(out.ID).Status)
	assert.Equal(t, []string{"/compliance/invoices"}, rec.paths, "el envío real no se intenta")
}

func TestProcess_SinComplianceCheckVaDirecto(t *testing.T) {
	rec := &pathRecorder{}
	h := newHarness(t, rec.handle, func(string) *entity.ZatcaConfiguration { return phase2Config() })

	_, err := h.orch.Process(context.Background(), "c1", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"/invoices/reporting/single"}, rec.paths)
}

func TestSubmit_UBLInvalidoNoSeEnvia(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)
	ctx := context.Background()

	rec, err := h.orch.Generate(ctx, "c1", "inv-1")
	require.NoError(t, err)
	tampered := h.store.get(rec.ID)
	tampered.XMLContent = strings.Replace(tampered.XMLContent, "<cbc:UBLVersionID>2.1<", "<cbc:UBLVersionID>2.0<", 1)
	require.NoError(t, h.store.Update(ctx, &tampered))

	_, err = h.orch.Submit(ctx, "c1", rec.ID)
	var ve *zatca.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "ubl.UBLVersionID", ve.Fields[0].Field)
	assert.Equal(t, entity.ZatcaStatusInvalid, h.store.get(rec.ID).Status)
	assert.Equal(t, int32(0), h.serverHits())
}

func TestDocument(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)

	rec, err := h.orch.Generate(context.Background(), "c1", "inv-2")
	require.NoError(t, err)
	doc, err := h.orch.Document(rec)
	require.NoError(t, err)
	assert.Equal(t, rec.InvoiceNumber, doc.InvoiceNumber)
	assert.Equal(t, rec.UUID, doc.UUID)
	assert.Equal(t, "230.00", doc.TaxInclusive.StringFixed(2))

	_, err = h.orch.Document(&entity.ZatcaInvoice{ID: "x"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}
