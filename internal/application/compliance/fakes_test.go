package compliance_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/zatca-einvoicing/internal/application/compliance"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/repository"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/lock"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/metrics"
	infrazatca "github.com/jhoicas/zatca-einvoicing/internal/infrastructure/zatca"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/zatca/signer"
	"github.com/jhoicas/zatca-einvoicing/pkg/config"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

// ─── configuración ───────────────────────────────────────────────────────────

type fakeConfigs struct {
	mu   sync.Mutex
	cfgs map[string]*entity.ZatcaConfiguration
}

func newFakeConfigs(cfgs ...*entity.ZatcaConfiguration) *fakeConfigs {
	f := &fakeConfigs{cfgs: map[string]*entity.ZatcaConfiguration{}}
	for _, c := range cfgs {
		f.cfgs[c.CompanyID] = c
	}
	return f
}

func (f *fakeConfigs) GetByCompanyID(_ context.Context, companyID string) (*entity.ZatcaConfiguration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cfgs[companyID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConfigs) Upsert(_ context.Context, cfg *entity.ZatcaConfiguration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *cfg
	if prev, ok := f.cfgs[cfg.CompanyID]; ok {
		cp.CSIDToken, cp.CSIDSecret, cp.CSIDRequestID = prev.CSIDToken, prev.CSIDSecret, prev.CSIDRequestID
		cp.CSIDStatus, cp.CSIDDisposition, cp.CSIDIssuedAt = prev.CSIDStatus, prev.CSIDDisposition, prev.CSIDIssuedAt
	}
	f.cfgs[cfg.CompanyID] = &cp
	return nil
}

func (f *fakeConfigs) UpdateCSID(_ context.Context, cfg *entity.ZatcaConfiguration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, ok := f.cfgs[cfg.CompanyID]
	if !ok {
		return nil
	}
	prev.CSIDToken, prev.CSIDSecret, prev.CSIDRequestID = cfg.CSIDToken, cfg.CSIDSecret, cfg.CSIDRequestID
	prev.CSIDStatus, prev.CSIDDisposition, prev.CSIDIssuedAt = cfg.CSIDStatus, cfg.CSIDDisposition, cfg.CSIDIssuedAt
	return nil
}

func (f *fakeConfigs) ListEnabled(_ context.Context) ([]*entity.ZatcaConfiguration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.ZatcaConfiguration
	for _, c := range f.cfgs {
		if c.Enabled {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ─── facturas + cadena ───────────────────────────────────────────────────────

// fakeStore facturas, eventos y cabezas de cadena en memoria. RunChain restaura el
// estado si fn falla, como lo haría el rollback.
type fakeStore struct {
	mu       sync.Mutex
	invoices map[string]entity.ZatcaInvoice
	events   []entity.ZatcaInvoiceEvent
	heads    map[string]entity.ChainHead

	// conflicts cantidad de Advance que fallan simulando otro escritor
	conflicts int
	advances  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{invoices: map[string]entity.ZatcaInvoice{}, heads: map[string]entity.ChainHead{}}
}

func (s *fakeStore) Create(_ context.Context, inv *entity.ZatcaInvoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[inv.ID] = *inv
	return nil
}

func (s *fakeStore) Update(_ context.Context, inv *entity.ZatcaInvoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[inv.ID] = *inv
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, companyID, id string) (*entity.ZatcaInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok || inv.CompanyID != companyID {
		return nil, nil
	}
	return &inv, nil
}

func (s *fakeStore) List(_ context.Context, f repository.ZatcaInvoiceFilter) ([]*entity.ZatcaInvoice, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*entity.ZatcaInvoice
	for _, inv := range s.invoices {
		if inv.CompanyID != f.CompanyID || (f.Status != "" && inv.Status != f.Status) {
			continue
		}
		cp := inv
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].InvoiceCounter > all[j].InvoiceCounter })
	total := len(all)
	if f.Offset > len(all) {
		return nil, total, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (s *fakeStore) AppendEvent(_ context.Context, ev *entity.ZatcaInvoiceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	return nil
}

func (s *fakeStore) ListEvents(_ context.Context, id string) ([]*entity.ZatcaInvoiceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.ZatcaInvoiceEvent
	for _, ev := range s.events {
		if ev.ZatcaInvoiceID == id {
			cp := ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) CountByStatus(_ context.Context, companyID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for _, inv := range s.invoices {
		if inv.CompanyID == companyID {
			out[inv.Status]++
		}
	}
	return out, nil
}

func (s *fakeStore) CountSubmittedSince(_ context.Context, companyID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, inv := range s.invoices {
		if inv.CompanyID == companyID && inv.SubmittedAt != nil && !inv.SubmittedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ListPendingReporting(_ context.Context, limit int) ([]*entity.ZatcaInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.ZatcaInvoice
	for _, inv := range s.invoices {
		if inv.Status == entity.ZatcaStatusQRReady && inv.SubmissionKind == entity.SubmissionReporting {
			cp := inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Attempts != out[j].Attempts {
			return out[i].Attempts < out[j].Attempts
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) ListValidBetween(_ context.Context, companyID string, from, to time.Time) ([]*entity.ZatcaInvoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.ZatcaInvoice
	for _, inv := range s.invoices {
		if inv.CompanyID != companyID || inv.Status != entity.ZatcaStatusValid {
			continue
		}
		if inv.IssuedAt.Before(from) || !inv.IssuedAt.Before(to) {
			continue
		}
		cp := inv
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceCounter < out[j].InvoiceCounter })
	return out, nil
}

func (s *fakeStore) GetHead(_ context.Context, companyID string) (entity.ChainHead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.heads[companyID]
	if !ok {
		return entity.ChainHead{CompanyID: companyID}, nil
	}
	return h, nil
}

func (s *fakeStore) Advance(_ context.Context, expected int64, next entity.ChainHead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advances++
	if s.conflicts > 0 {
		s.conflicts--
		// otro escritor encadenó una factura entre la lectura y el CAS
		s.heads[next.CompanyID] = entity.ChainHead{CompanyID: next.CompanyID, Counter: expected + 1, LastHash: foreignHash}
		return &zatca.ConcurrencyError{CompanyID: next.CompanyID, ExpectedCounter: expected}
	}
	if s.heads[next.CompanyID].Counter != expected {
		return &zatca.ConcurrencyError{CompanyID: next.CompanyID, ExpectedCounter: expected}
	}
	s.heads[next.CompanyID] = next
	return nil
}

func (s *fakeStore) RunChain(_ context.Context, fn func(repository.ZatcaInvoiceRepository, repository.ChainRepository) error) error {
	s.mu.Lock()
	invoices := make(map[string]entity.ZatcaInvoice, len(s.invoices))
	for k, v := range s.invoices {
		invoices[k] = v
	}
	heads := make(map[string]entity.ChainHead, len(s.heads))
	for k, v := range s.heads {
		heads[k] = v
	}
	events := len(s.events)
	s.mu.Unlock()

	if err := fn(s, s); err != nil {
		s.mu.Lock()
		s.invoices = invoices
		// la cabeza del escritor concurrente sobrevive al rollback
		for k, v := range s.heads {
			if v.LastHash == foreignHash {
				heads[k] = v
			}
		}
		s.heads = heads
		s.events = s.events[:events]
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *fakeStore) get(id string) entity.ZatcaInvoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoices[id]
}

func (s *fakeStore) eventsFor(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, ev := range s.events {
		if ev.ZatcaInvoiceID == id {
			out = append(out, ev.ToStatus)
		}
	}
	return out
}

func repositoryFilter(companyID, status string) repository.ZatcaInvoiceFilter {
	return repository.ZatcaInvoiceFilter{CompanyID: companyID, Status: status}
}

// foreignHash hash de una factura encadenada por otro proceso.
var foreignHash = func() string {
	sum := sha256.Sum256([]byte("otro escritor"))
	return base64.StdEncoding.EncodeToString(sum[:])
}()

// ─── factura de origen ───────────────────────────────────────────────────────

type fakeSources struct {
	srcs map[string]*entity.SourceInvoice
}

func (f *fakeSources) GetSource(_ context.Context, companyID, invoiceID string) (*entity.SourceInvoice, error) {
	src, ok := f.srcs[invoiceID]
	if !ok || src.Invoice.CompanyID != companyID {
		return nil, nil
	}
	return src, nil
}

// ─── firma, archivo ──────────────────────────────────────────────────────────

type fakeSigner struct {
	calls int32
}

// fakeSignature contenido mínimo de ext:ExtensionContent de un XML firmado.
const fakeSignature = `<ext:ExtensionContent><sig:UBLDocumentSignatures xmlns:sig="urn:oasis:names:specification:ubl:schema:xsd:CommonSignatureComponents-2">` +
	`<ds:Signature xmlns:ds="http://www.w3.org/2000/09/xmldsig#"><ds:SignatureValue>c2lnbmF0dXJl</ds:SignatureValue></ds:Signature>` +
	`</sig:UBLDocumentSignatures></ext:ExtensionContent>`

func (s *fakeSigner) Sign(xml []byte, _ string, _ *signer.KeyMaterial) (*signer.Result, error) {
	atomic.AddInt32(&s.calls, 1)
	signed := bytes.Replace(xml, []byte("<ext:ExtensionContent></ext:ExtensionContent>"), []byte(fakeSignature), 1)
	signed = bytes.Replace(signed, []byte("<ext:ExtensionContent/>"), []byte(fakeSignature), 1)
	return &signer.Result{
		XML:                  signed,
		SignatureValue:       "c2lnbmF0dXJl",
		PublicKey:            []byte{0x30, 0x59, 0x30, 0x13},
		CertificateSignature: []byte{0x30, 0x45},
	}, nil
}

func fakeKeyLoader(string, string, string) (*signer.KeyMaterial, error) {
	return &signer.KeyMaterial{}, nil
}

type fakeArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *fakeArchive) PutXML(_ context.Context, key string, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return nil
}

// ─── datos ───────────────────────────────────────────────────────────────────

func phase1Config(endpoint string) *entity.ZatcaConfiguration {
	return &entity.ZatcaConfiguration{
		ID:          "cfg-1",
		CompanyID:   "c1",
		Enabled:     true,
		Phase:       pkgzatca.Phase1,
		Environment: pkgzatca.EnvSandbox,
		APIEndpoint: endpoint,
		APIKey:      "key",
		APISecret:   "secret",
		TaxNumber:   "310122393500003",
		BranchCode:  "001",
	}
}

func phase2Config() *entity.ZatcaConfiguration {
	issued := testNow.Add(-24 * time.Hour)
	cfg := phase1Config("")
	cfg.Phase = pkgzatca.Phase2
	cfg.DeviceID = "123456"
	cfg.CertificatePath = "/keys/cert.pem"
	cfg.PrivateKeyPath = "/keys/key.pem"
	cfg.CSIDToken = "token"
	cfg.CSIDSecret = "secret"
	cfg.CSIDStatus = pkgzatca.CSIDIssued
	cfg.CSIDIssuedAt = &issued
	return cfg
}

// sourceInvoice factura simplificada de una línea: net + 15 % de IVA.
func sourceInvoice(id, net string) *entity.SourceInvoice {
	netD := decimal.RequireFromString(net)
	tax := netD.Mul(decimal.RequireFromString("0.15")).Round(2)
	return &entity.SourceInvoice{
		Invoice: &entity.Invoice{
			ID:         id,
			CompanyID:  "c1",
			Number:     "F-" + id,
			Kind:       entity.SourceKindInvoice,
			IssueDate:  testNow.Add(-time.Hour),
			Currency:   "SAR",
			NetTotal:   netD,
			TaxTotal:   tax,
			GrandTotal: netD.Add(tax),
		},
		Details: []*entity.InvoiceDetail{
			{Description: "Servicio", Quantity: decimal.NewFromInt(1), UnitPrice: netD, TaxRate: decimal.RequireFromString("0.15"), VATCategory: "S"},
		},
		Company: &entity.Company{ID: "c1", Name: "Bobs Records", Address: entity.Address{Street: "King Fahd Rd", BuildingNumber: "1234", City: "Riyadh", PostalCode: "12345", Country: "SA"}},
	}
}

// ─── armado ──────────────────────────────────────────────────────────────────

type harness struct {
	orch    *compliance.Orchestrator
	configs *fakeConfigs
	store   *fakeStore
	sources *fakeSources
	signer  *fakeSigner
	archive *fakeArchive
	server  *httptest.Server
	client  *infrazatca.APIClient
	hits    *int32
	metrics *metrics.Metrics
}

// newHarness orquestador con repos en memoria, builder y hasher reales y un APIClient real
// contra handler. La configuración del tenant se ajusta con cfgFn (recibe la URL del servidor).
func newHarness(t *testing.T, handler http.HandlerFunc, cfgFn func(url string) *entity.ZatcaConfiguration) *harness {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	m := metrics.NewNop()
	client := infrazatca.NewAPIClient(config.ZATCAConfig{
		HTTPTimeout:   5 * time.Second,
		RetryAttempts: 3,
		RetryBase:     time.Second,
		RetryCap:      10 * time.Second,
	}, m, zerolog.Nop()).WithSleep(func(context.Context, time.Duration) error { return nil })

	h := &harness{
		configs: newFakeConfigs(cfgFn(srv.URL)),
		store:   newFakeStore(),
		sources: &fakeSources{srcs: map[string]*entity.SourceInvoice{}},
		signer:  &fakeSigner{},
		archive: &fakeArchive{},
		server:  srv,
		client:  client,
		hits:    &hits,
		metrics: m,
	}
	// inv-1 suma 100.00 con IVA
	h.sources.srcs["inv-1"] = sourceInvoice("inv-1", "86.96")
	h.sources.srcs["inv-2"] = sourceInvoice("inv-2", "200")
	h.sources.srcs["inv-3"] = sourceInvoice("inv-3", "300")
	h.orch = compliance.NewOrchestrator(compliance.OrchestratorDeps{
		Configs:  h.configs,
		Invoices: h.store,
		Chain:    h.store,
		Sources:  h.sources,
		Tx:       h.store,
		Locker:   lock.NewMemoryLocker(),
		Builder:  infrazatca.NewUBLBuilder(),
		Hasher:   infrazatca.NewHashChainer(),
		Signer:   h.signer,
		LoadKey:  fakeKeyLoader,
		Client:   client,
		Archive:  h.archive,
		Metrics:  m,
		Log:      zerolog.Nop(),
		Settings: compliance.Settings{Environment: pkgzatca.EnvSandbox, BaseURL: srv.URL},
		Now:      func() time.Time { return testNow },
	})
	return h
}

func (h *harness) serverHits() int32 { return atomic.LoadInt32(h.hits) }

// respond handler que contesta la secuencia de códigos y repite el último.
func respond(codes ...int) http.HandlerFunc {
	var n int32
	return func(w http.ResponseWriter, r *http.Request) {
		i := int(atomic.AddInt32(&n, 1)) - 1
		if i >= len(codes) {
			i = len(codes) - 1
		}
		code := codes[i]
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		switch {
		case code >= 200 && code < 300:
			_, _ = w.Write([]byte(`{"status":"accepted","reportingStatus":"REPORTED","validationResults":{"status":"PASS"}}`))
		case code >= 400 && code < 500:
			_, _ = w.Write([]byte(`{"validationResults":{"status":"ERROR","errorMessages":[{"code":"BR-KSA-37","message":"seller VAT inválido"}]}}`))
		}
	}
}
