// Package metrics expone las métricas Prometheus del pipeline ZATCA.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Resultados de una llamada a la autoridad.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeRetryable = "retryable"
	OutcomeExhausted = "exhausted"
	OutcomeOpen      = "breaker_open"
)

// Metrics colectores del servicio. Se registran en el Registerer recibido.
type Metrics struct {
	APICalls     *prometheus.CounterVec
	APILatency   *prometheus.HistogramVec
	APIRetries   *prometheus.CounterVec
	BreakerState *prometheus.GaugeVec
	Transitions  *prometheus.CounterVec
	Failures     *prometheus.CounterVec
	ChainRetries prometheus.Counter
	Reported     *prometheus.CounterVec
}

// New crea y registra los colectores.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		APICalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zatca",
			Name:      "api_calls_total",
			Help:      "Llamadas a la API de la autoridad por tipo y resultado.",
		}, []string{"kind", "outcome"}),
		APILatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "zatca",
			Name:      "api_call_duration_seconds",
			Help:      "Latencia de cada intento HTTP hacia la autoridad.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		APIRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zatca",
			Name:      "api_retries_total",
			Help:      "Reintentos por error de red o 5xx.",
		}, []string{"kind"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "zatca",
			Name:      "circuit_breaker_state",
			Help:      "Estado del circuit breaker por URL base (0 cerrado, 1 semiabierto, 2 abierto).",
		}, []string{"name"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zatca",
			Name:      "invoice_transitions_total",
			Help:      "Transiciones de estado de facturas ZATCA.",
		}, []string{"to"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zatca",
			Name:      "pipeline_errors_total",
			Help:      "Errores del pipeline por categoría.",
		}, []string{"kind"}),
		ChainRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zatca",
			Name:      "chain_conflicts_total",
			Help:      "Conflictos de concurrencia en la cadena de hashes.",
		}),
		Reported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zatca",
			Name:      "auto_report_total",
			Help:      "Resultados del job de reporte automático.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.APICalls, m.APILatency, m.APIRetries, m.BreakerState, m.Transitions, m.Failures, m.ChainRetries, m.Reported)
	return m
}

// NewNop métricas sobre un registro propio, para tests y herramientas.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
