package zatca

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/metrics"
	"github.com/jhoicas/zatca-einvoicing/pkg/config"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

// Rutas de la API por fase y tipo de envío.
const (
	pathPhase1Invoices = "/v1/invoices"
	pathCompliance     = "/compliance/invoices"
	pathClearance      = "/invoices/clearance/single"
	pathReporting      = "/invoices/reporting/single"
	pathHealth         = "/health"
	apiVersion         = "V2"
	maxResponseBytes   = 4 << 20
)

// Credentials credenciales y URL de un tenant para llamar a la autoridad.
type Credentials struct {
	Phase     string
	BaseURL   string
	APIKey    string // phase1
	APISecret string // phase1
	Token     string // phase2: binarySecurityToken del CSID
	Secret    string // phase2
}

// CredentialsFor arma las credenciales desde la configuración del tenant. defaultEnv se usa
// si la configuración no indica ambiente.
func CredentialsFor(cfg *entity.ZatcaConfiguration, defaultEnv, overrideURL string) Credentials {
	base := cfg.APIEndpoint
	if base == "" {
		base = overrideURL
	}
	if base == "" {
		env := cfg.Environment
		if env == "" {
			env = defaultEnv
		}
		base = pkgzatca.BaseURLFor(env)
	}
	return Credentials{
		Phase:     cfg.Phase,
		BaseURL:   strings.TrimRight(base, "/"),
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Token:     cfg.CSIDToken,
		Secret:    cfg.CSIDSecret,
	}
}

// SubmitRequest factura a enviar.
type SubmitRequest struct {
	Kind        string // compliance, clearance, reporting
	InvoiceHash string
	UUID        string
	XML         []byte
}

// SubmitResult respuesta aceptada por la autoridad (2xx).
type SubmitResult struct {
	StatusCode int
	Status     string // CLEARED, REPORTED, PASS, ACCEPTED...
	Warnings   []string
	ClearedXML []byte // XML sellado devuelto en clearance
	Body       []byte
	Attempts   int
}

// HealthResult resultado del test de conexión.
type HealthResult struct {
	Success    bool
	StatusCode int
	Latency    time.Duration
	Error      string
}

// RetryPolicy backoff exponencial con tope: base * 2^(n-1), máximo Cap.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

// Backoff espera antes del intento attempt+1 (attempt empieza en 1).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// errRetryable marca respuestas 5xx para el circuit breaker y el bucle de reintentos.
var errRetryable = errors.New("respuesta 5xx de la autoridad")

// APIClient cliente HTTP de la API Fatoora con reintentos, circuit breaker y rate limit.
type APIClient struct {
	httpClient *http.Client
	retry      RetryPolicy
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	log        zerolog.Logger
	sleep      func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewAPIClient construye el cliente con los parámetros de ZATCAConfig.
func NewAPIClient(cfg config.ZATCAConfig, m *metrics.Metrics, log zerolog.Logger) *APIClient {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &APIClient{
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		retry:      RetryPolicy{Attempts: attempts, Base: cfg.RetryBase, Cap: cfg.RetryCap},
		limiter:    limiter,
		metrics:    m,
		log:        log,
		sleep:      sleepContext,
		breakers:   map[string]*gobreaker.CircuitBreaker{},
	}
}

// WithSleep reemplaza la espera entre reintentos (tests).
func (c *APIClient) WithSleep(fn func(ctx context.Context, d time.Duration) error) *APIClient {
	c.sleep = fn
	return c
}

// Compliance envía la factura al chequeo de cumplimiento (phase2).
func (c *APIClient) Compliance(ctx context.Context, creds Credentials, req SubmitRequest) (*SubmitResult, error) {
	req.Kind = entity.SubmissionCompliance
	return c.Submit(ctx, creds, req)
}

// Clearance envía una factura estándar para su autorización previa (phase2).
func (c *APIClient) Clearance(ctx context.Context, creds Credentials, req SubmitRequest) (*SubmitResult, error) {
	req.Kind = entity.SubmissionClearance
	return c.Submit(ctx, creds, req)
}

// Reporting reporta una factura simplificada dentro de las 24 h (phase2).
func (c *APIClient) Reporting(ctx context.Context, creds Credentials, req SubmitRequest) (*SubmitResult, error) {
	req.Kind = entity.SubmissionReporting
	return c.Submit(ctx, creds, req)
}

// Submit envía la factura al endpoint de su fase y tipo.
// 4xx devuelve *zatca.RejectionError sin reintentar; red y 5xx se reintentan y al agotar
// los intentos devuelven *zatca.SubmissionError.
func (c *APIClient) Submit(ctx context.Context, creds Credentials, req SubmitRequest) (*SubmitResult, error) {
	path := submitPath(creds.Phase, req.Kind)
	body, err := json.Marshal(map[string]string{
		"invoiceHash": req.InvoiceHash,
		"uuid":        req.UUID,
		"invoice":     base64.StdEncoding.EncodeToString(req.XML),
	})
	if err != nil {
		return nil, fmt.Errorf("zatca: serializar envío: %w", err)
	}
	headers := map[string]string{}
	if req.Kind == entity.SubmissionClearance {
		headers["Clearance-Status"] = "1"
	}
	kind := req.Kind
	if kind == "" {
		kind = "phase1"
	}

	status, raw, attempts, err := c.Do(ctx, kind, creds, http.MethodPost, path, body, headers)
	if err != nil {
		return nil, err
	}
	res := parseSubmitResponse(raw)
	res.StatusCode = status
	res.Attempts = attempts
	res.Body = raw
	return res, nil
}

// Do ejecuta la llamada con reintentos. Devuelve status y cuerpo de una respuesta 2xx.
func (c *APIClient) Do(ctx context.Context, kind string, creds Credentials, method, path string, body []byte, headers map[string]string) (int, []byte, int, error) {
	return c.call(ctx, kind, creds, method, path, body, headers, c.retry.Attempts)
}

// DoOnce como Do pero con un único intento: para peticiones que no se pueden repetir
// (el OTP del onboarding es de un solo uso).
func (c *APIClient) DoOnce(ctx context.Context, kind string, creds Credentials, method, path string, body []byte, headers map[string]string) (int, []byte, error) {
	status, raw, _, err := c.call(ctx, kind, creds, method, path, body, headers, 1)
	return status, raw, err
}

func (c *APIClient) call(ctx context.Context, kind string, creds Credentials, method, path string, body []byte, headers map[string]string, maxAttempts int) (int, []byte, int, error) {
	url := creds.BaseURL + path
	cb := c.breaker(creds.BaseURL)
	var (
		lastErr    error
		lastStatus int
		made       int
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		made = attempt
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, attempt - 1, &zatca.SubmissionError{Attempts: attempt - 1, Err: err}
		}

		start := time.Now()
		out, err := cb.Execute(func() (interface{}, error) {
			status, raw, err := c.send(ctx, creds, method, url, body, headers)
			if err != nil {
				return nil, err
			}
			if status >= 500 {
				return httpResponse{status, raw}, errRetryable
			}
			return httpResponse{status, raw}, nil
		})
		c.metrics.APILatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.metrics.APICalls.WithLabelValues(kind, metrics.OutcomeOpen).Inc()
			return 0, nil, attempt, &zatca.SubmissionError{Attempts: attempt, Err: fmt.Errorf("circuit breaker abierto para %s: %w", creds.BaseURL, err)}
		}

		resp, _ := out.(httpResponse)
		switch {
		case err == nil && resp.status < 300:
			c.metrics.APICalls.WithLabelValues(kind, metrics.OutcomeAccepted).Inc()
			return resp.status, resp.body, attempt, nil
		case err == nil:
			c.metrics.APICalls.WithLabelValues(kind, metrics.OutcomeRejected).Inc()
			return resp.status, resp.body, attempt, &zatca.RejectionError{
				StatusCode: resp.status,
				Messages:   ExtractErrorMessages(resp.status, resp.body),
				Body:       resp.body,
			}
		}

		lastErr, lastStatus = err, resp.status
		if errors.Is(err, errRetryable) {
			lastErr = fmt.Errorf("HTTP %d: %s", resp.status, strings.Join(ExtractErrorMessages(resp.status, resp.body), "; "))
		}
		if ctx.Err() != nil {
			break
		}
		c.metrics.APICalls.WithLabelValues(kind, metrics.OutcomeRetryable).Inc()
		if attempt == maxAttempts {
			break
		}
		wait := c.retry.Backoff(attempt)
		c.log.Warn().Str("kind", kind).Int("attempt", attempt).Int("status", lastStatus).Dur("backoff", wait).Err(lastErr).Msg("zatca: reintentando envío")
		c.metrics.APIRetries.WithLabelValues(kind).Inc()
		if err := c.sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}
	c.metrics.APICalls.WithLabelValues(kind, metrics.OutcomeExhausted).Inc()
	return lastStatus, nil, made, &zatca.SubmissionError{Attempts: made, StatusCode: lastStatus, Err: lastErr}
}

// TestConnection hace un GET de salud al endpoint del tenant (sin reintentos).
func (c *APIClient) TestConnection(ctx context.Context, creds Credentials) HealthResult {
	start := time.Now()
	status, raw, err := c.send(ctx, creds, http.MethodGet, creds.BaseURL+pathHealth, nil, nil)
	res := HealthResult{StatusCode: status, Latency: time.Since(start)}
	switch {
	case err != nil:
		res.Error = err.Error()
	case status >= 200 && status < 300:
		res.Success = true
	default:
		res.Error = strings.Join(ExtractErrorMessages(status, raw), "; ")
	}
	return res
}

type httpResponse struct {
	status int
	body   []byte
}

func (c *APIClient) send(ctx context.Context, creds Credentials, method, url string, body []byte, headers map[string]string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("zatca: crear request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en")
	req.Header.Set("Accept-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	setAuth(req, creds)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, fmt.Errorf("zatca: timeout o cancelación: %w", ctx.Err())
		}
		return 0, nil, fmt.Errorf("zatca: llamada HTTP fallida: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("zatca: leer respuesta: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func setAuth(req *http.Request, creds Credentials) {
	if creds.Phase == pkgzatca.Phase2 {
		if creds.Token != "" {
			req.SetBasicAuth(creds.Token, creds.Secret)
		}
		return
	}
	if creds.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+creds.APIKey)
	}
	if creds.APISecret != "" {
		req.Header.Set("X-API-Secret", creds.APISecret)
	}
}

func (c *APIClient) breaker(name string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("zatca: cambio de estado del circuit breaker")
			c.metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	c.breakers[name] = cb
	return cb
}

func submitPath(phase, kind string) string {
	if phase != pkgzatca.Phase2 {
		return pathPhase1Invoices
	}
	switch kind {
	case entity.SubmissionClearance:
		return pathClearance
	case entity.SubmissionReporting:
		return pathReporting
	default:
		return pathCompliance
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
