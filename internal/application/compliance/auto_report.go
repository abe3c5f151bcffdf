package compliance

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/repository"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/metrics"
)

// Resultados del reporte automático (label "result" de la métrica).
const (
	ReportResultReported = "reported"
	ReportResultLate     = "late"
	ReportResultFailed   = "failed"
)

const defaultReportBatch = 100

// ReportSummary resultado de una corrida del reporte automático.
type ReportSummary struct {
	Pending  int
	Reported int
	Late     int // reportadas fuera del plazo de 24 h
	Failed   int
}

// AutoReporter envía las facturas simplificadas que quedaron en qr_ready.
// Las que ya vencieron el plazo igual se reportan y quedan registradas como tardías.
type AutoReporter struct {
	invoices repository.ZatcaInvoiceRepository
	orch     *Orchestrator
	metrics  *metrics.Metrics
	log      zerolog.Logger
	batch    int
	now      func() time.Time
}

// NewAutoReporter construye el reportador. batch <= 0 usa 100 facturas por corrida.
func NewAutoReporter(invoices repository.ZatcaInvoiceRepository, orch *Orchestrator, m *metrics.Metrics, log zerolog.Logger, batch int) *AutoReporter {
	if batch <= 0 {
		batch = defaultReportBatch
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &AutoReporter{invoices: invoices, orch: orch, metrics: m, log: log, batch: batch, now: time.Now}
}

// WithClock reemplaza el reloj (tests).
func (r *AutoReporter) WithClock(now func() time.Time) *AutoReporter {
	r.now = now
	return r
}

// ReportDue procesa un lote de pendientes. Un error en una factura no detiene el lote.
func (r *AutoReporter) ReportDue(ctx context.Context) (ReportSummary, error) {
	pending, err := r.invoices.ListPendingReporting(ctx, r.batch)
	if err != nil {
		return ReportSummary{}, err
	}
	sum := ReportSummary{Pending: len(pending)}
	now := r.now()
	for _, inv := range pending {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		issued := issuedAt(inv)
		late := zatca.IsDeadlineMissed(issued, now)
		log := r.log.With().Str("tenant", inv.CompanyID).Str("zatca_invoice", inv.ID).Time("issued_at", issued).Logger()
		if late {
			log.Warn().Msg("factura simplificada fuera del plazo de reporte de 24 h")
		}

		if _, err := r.orch.Submit(ctx, inv.CompanyID, inv.ID); err != nil {
			sum.Failed++
			r.metrics.Reported.WithLabelValues(ReportResultFailed).Inc()
			log.Error().Err(err).Str("kind", zatca.KindOf(err)).Msg("reporte automático fallido")
			continue
		}
		if late {
			sum.Late++
			r.metrics.Reported.WithLabelValues(ReportResultLate).Inc()
		} else {
			sum.Reported++
			r.metrics.Reported.WithLabelValues(ReportResultReported).Inc()
		}
	}
	if sum.Pending > 0 {
		r.log.Info().Int("pending", sum.Pending).Int("reported", sum.Reported).Int("late", sum.Late).Int("failed", sum.Failed).Msg("reporte automático")
	}
	return sum, nil
}

func issuedAt(inv *entity.ZatcaInvoice) time.Time {
	if !inv.IssuedAt.IsZero() {
		return inv.IssuedAt
	}
	if len(inv.Data) > 0 {
		if doc, err := decodeDocument(inv); err == nil && !doc.IssuedAt.IsZero() {
			return doc.IssuedAt
		}
	}
	return inv.CreatedAt
}
