package compliance_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/zatca-einvoicing/internal/application/compliance"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
)

func generatePending(t *testing.T, h *harness, ids ...string) []string {
	t.Helper()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		rec, err := h.orch.Generate(context.Background(), "c1", id)
		require.NoError(t, err)
		require.Equal(t, entity.ZatcaStatusQRReady, rec.Status)
		require.Equal(t, entity.SubmissionReporting, rec.SubmissionKind)
		out = append(out, rec.ID)
	}
	return out
}

func TestAutoReporter_ReportaPendientes(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)
	ids := generatePending(t, h, "inv-1", "inv-2")

	r := compliance.NewAutoReporter(h.store, h.orch, h.metrics, zerolog.Nop(), 0).
		WithClock(func() time.Time { return testNow })
	sum, err := r.ReportDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, compliance.ReportSummary{Pending: 2, Reported: 2}, sum)
	for _, id := range ids {
		assert.Equal(t, entity.ZatcaStatusValid, h.store.get(id).Status)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Reported.WithLabelValues(compliance.ReportResultReported)))

	again, err := r.ReportDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Pending)
}

func TestAutoReporter_FueraDePlazoIgualSeReporta(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)
	ids := generatePending(t, h, "inv-1")

	r := compliance.NewAutoReporter(h.store, h.orch, h.metrics, zerolog.Nop(), 10).
		WithClock(func() time.Time { return testNow.Add(24 * time.Hour) })
	sum, err := r.ReportDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, compliance.ReportSummary{Pending: 1, Late: 1}, sum)
	assert.Equal(t, entity.ZatcaStatusValid, h.store.get(ids[0]).Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Reported.WithLabelValues(compliance.ReportResultLate)))
}

func TestAutoReporter_UnFalloNoDetieneElLote(t *testing.T) {
	h := newHarness(t, respond(http.StatusBadRequest), phase1Config)
	ids := generatePending(t, h, "inv-1", "inv-2")

	r := compliance.NewAutoReporter(h.store, h.orch, h.metrics, zerolog.Nop(), 0).
		WithClock(func() time.Time { return testNow })
	sum, err := r.ReportDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, compliance.ReportSummary{Pending: 2, Failed: 2}, sum)
	assert.Equal(t, int32(2), h.serverHits(), "los rechazos 4xx no se reintentan")
	for _, id := range ids {
		assert.Equal(t, entity.ZatcaStatusInvalid, h.store.get(id).Status)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Reported.WithLabelValues(compliance.ReportResultFailed)))
}

func TestAutoReporter_LosQueFallanNoAcaparanElLote(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK), phase1Config)
	ids := generatePending(t, h, "inv-1", "inv-2")
	ctx := context.Background()

	// inv-1 es más antigua pero ya acumuló envíos fallidos.
	stuck := h.store.get(ids[0])
	stuck.Attempts = 3
	stuck.CreatedAt = testNow.Add(-2 * time.Hour)
	require.NoError(t, h.store.Update(ctx, &stuck))
	fresh := h.store.get(ids[1])
	fresh.CreatedAt = testNow
	require.NoError(t, h.store.Update(ctx, &fresh))

	r := compliance.NewAutoReporter(h.store, h.orch, h.metrics, zerolog.Nop(), 1).
		WithClock(func() time.Time { return testNow })
	sum, err := r.ReportDue(ctx)
	require.NoError(t, err)

	assert.Equal(t, compliance.ReportSummary{Pending: 1, Reported: 1}, sum)
	assert.Equal(t, entity.ZatcaStatusValid, h.store.get(ids[1]).Status)
	assert.Equal(t, entity.ZatcaStatusQRReady, h.store.get(ids[0]).Status)
}
