package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jhoicas/zatca-einvoicing/internal/domain"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/repository"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/metrics"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/storage"
	infrazatca "github.com/jhoicas/zatca-einvoicing/internal/infrastructure/zatca"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/zatca/signer"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

// OrchestratorDeps dependencias del orquestador. Archive puede ser nil.
type OrchestratorDeps struct {
	Configs  repository.ZatcaConfigurationRepository
	Invoices repository.ZatcaInvoiceRepository
	Chain    repository.ChainRepository
	Sources  repository.SourceInvoiceRepository
	Tx       ChainTxRunner
	Locker   TenantLocker
	Builder  XMLBuilder
	Hasher   Hasher
	Signer   InvoiceSigner
	LoadKey  KeyLoader
	Client   Submitter
	Archive  Archive
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
	Settings Settings
	Now      func() time.Time
}

// Orchestrator conduce cada factura por el pipeline:
//
//	draft → generating → hashed → (signed) → qr_ready → submitted → valid | invalid
//
// La cadena de hashes de un tenant avanza bajo su bloqueo y con compare-and-set en la DB;
// un ConcurrencyError se reintenta una vez con la cabeza fresca.
type Orchestrator struct {
	configs  repository.ZatcaConfigurationRepository
	invoices repository.ZatcaInvoiceRepository
	chain    repository.ChainRepository
	sources  repository.SourceInvoiceRepository
	tx       ChainTxRunner
	locker   TenantLocker
	builder  XMLBuilder
	hasher   Hasher
	signer   InvoiceSigner
	loadKey  KeyLoader
	client   Submitter
	archive  Archive
	metrics  *metrics.Metrics
	log      zerolog.Logger
	settings Settings
	now      func() time.Time

	wg sync.WaitGroup
}

// NewOrchestrator construye el orquestador con todas sus dependencias.
func NewOrchestrator(d OrchestratorDeps) *Orchestrator {
	o := &Orchestrator{
		configs:  d.Configs,
		invoices: d.Invoices,
		chain:    d.Chain,
		sources:  d.Sources,
		tx:       d.Tx,
		locker:   d.Locker,
		builder:  d.Builder,
		hasher:   d.Hasher,
		signer:   d.Signer,
		loadKey:  d.LoadKey,
		client:   d.Client,
		archive:  d.Archive,
		metrics:  d.Metrics,
		log:      d.Log,
		settings: d.Settings,
		now:      d.Now,
	}
	if o.metrics == nil {
		o.metrics = metrics.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.loadKey == nil {
		o.loadKey = signer.Load
	}
	if o.settings.ProcessTimeout <= 0 {
		o.settings.ProcessTimeout = 2 * time.Minute
	}
	return o
}

// Generate lleva la factura de origen hasta qr_ready sin enviarla.
// Los errores de configuración se devuelven sin persistir nada; a partir de la creación del
// registro todo error queda persistido en estado invalid.
func (o *Orchestrator) Generate(ctx context.Context, companyID, sourceInvoiceID string) (*entity.ZatcaInvoice, error) {
	rec, _, err := o.generate(ctx, companyID, sourceInvoiceID, "")
	return rec, err
}

// Submit envía un registro en qr_ready. Un registro invalid se regenera como un registro
// nuevo que lo reemplaza (mismo origen, nuevo UUID y nuevo eslabón de la cadena).
func (o *Orchestrator) Submit(ctx context.Context, companyID, id string) (*entity.ZatcaInvoice, error) {
	rec, err := o.getRecord(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if rec.Status == entity.ZatcaStatusInvalid {
		return o.resubmit(ctx, rec)
	}
	if rec.Status != entity.ZatcaStatusQRReady {
		return rec, fmt.Errorf("%w: la factura está en estado %s", domain.ErrConflict, rec.Status)
	}
	cfg, err := o.loadConfig(ctx, companyID)
	if err != nil {
		return rec, err
	}
	return o.submit(ctx, cfg, rec)
}

// Process genera y envía en una sola llamada.
func (o *Orchestrator) Process(ctx context.Context, companyID, sourceInvoiceID string) (*entity.ZatcaInvoice, error) {
	d, err := o.createDraft(ctx, companyID, sourceInvoiceID, "")
	if err != nil {
		return nil, err
	}
	return o.buildAndSubmit(ctx, d)
}

// ProcessAsync valida la configuración y la factura de origen y crea el registro en draft
// de forma síncrona; generación y envío siguen en una goroutine con su propio contexto y
// timeout, desacoplados del ciclo HTTP. Devuelve una copia del registro recién creado para
// que el llamador pueda consultarlo. Wait espera a las goroutines pendientes.
func (o *Orchestrator) ProcessAsync(ctx context.Context, companyID, sourceInvoiceID string) (*entity.ZatcaInvoice, error) {
	d, err := o.createDraft(ctx, companyID, sourceInvoiceID, "")
	if err != nil {
		return nil, err
	}
	created := *d.rec

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		bctx, cancel := context.WithTimeout(context.Background(), o.settings.ProcessTimeout)
		defer cancel()
		rec, err := o.buildAndSubmit(bctx, d)
		if err != nil {
			ev := o.log.Warn().Err(err).Str("tenant", companyID).Str("source_invoice", sourceInvoiceID)
			if rec != nil {
				ev = ev.Str("zatca_invoice", rec.ID).Str("status", rec.Status)
			}
			ev.Msg("procesamiento en segundo plano terminó con error")
		}
	}()
	return &created, nil
}

// Wait bloquea hasta que terminen los ProcessAsync en curso.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Cancel anula un registro que aún no fue validado.
func (o *Orchestrator) Cancel(ctx context.Context, companyID, id, reason string) (*entity.ZatcaInvoice, error) {
	rec, err := o.getRecord(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	if !zatca.CanTransition(rec.Status, entity.ZatcaStatusCancelled, rec.Phase) {
		return rec, fmt.Errorf("%w: no se puede cancelar una factura en estado %s", domain.ErrConflict, rec.Status)
	}
	if strings.TrimSpace(reason) == "" {
		reason = "cancelada por el usuario"
	}
	if err := o.advance(ctx, rec, entity.ZatcaStatusCancelled, reason); err != nil {
		return rec, err
	}
	return rec, nil
}

// Document reconstruye el documento canónico persistido del registro.
func (o *Orchestrator) Document(rec *entity.ZatcaInvoice) (*zatca.Document, error) {
	if len(rec.Data) == 0 {
		return nil, fmt.Errorf("%w: la factura %s aún no tiene documento", domain.ErrConflict, rec.ID)
	}
	return decodeDocument(rec)
}

// ─── generación ──────────────────────────────────────────────────────────────

// draft registro recién creado con lo necesario para construirlo.
type draft struct {
	rec *entity.ZatcaInvoice
	cfg *entity.ZatcaConfiguration
	src *entity.SourceInvoice
	now time.Time
}

func (o *Orchestrator) generate(ctx context.Context, companyID, sourceID, replacesID string) (*entity.ZatcaInvoice, *entity.ZatcaConfiguration, error) {
	d, err := o.createDraft(ctx, companyID, sourceID, replacesID)
	if err != nil {
		return nil, nil, err
	}
	if err := o.build(ctx, d); err != nil {
		return d.rec, d.cfg, err
	}
	return d.rec, d.cfg, nil
}

func (o *Orchestrator) buildAndSubmit(ctx context.Context, d *draft) (*entity.ZatcaInvoice, error) {
	if err := o.build(ctx, d); err != nil {
		return d.rec, err
	}
	return o.submit(ctx, d.cfg, d.rec)
}

// createDraft valida configuración y factura de origen y persiste el registro en draft.
// Los errores de esta etapa no dejan nada persistido.
func (o *Orchestrator) createDraft(ctx context.Context, companyID, sourceID, replacesID string) (*draft, error) {
	now := o.now().UTC()

	cfg, err := o.loadConfig(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if err := zatca.ValidateConfiguration(cfg, now, false); err != nil {
		o.metrics.Failures.WithLabelValues(zatca.KindOf(err)).Inc()
		return nil, err
	}
	src, err := o.sources.GetSource(ctx, companyID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("compliance: leer factura de origen %s: %w", sourceID, err)
	}
	if src == nil || src.Invoice == nil {
		return nil, fmt.Errorf("factura de origen %s: %w", sourceID, domain.ErrNotFound)
	}

	rec := &entity.ZatcaInvoice{
		ID:              uuid.NewString(),
		CompanyID:       companyID,
		SourceInvoiceID: sourceID,
		ReplacesID:      replacesID,
		UUID:            uuid.NewString(),
		InvoiceType:     provisionalType(src),
		Phase:           cfg.Phase,
		Status:          entity.ZatcaStatusDraft,
		GrandTotal:      src.Invoice.GrandTotal,
		TaxTotal:        src.Invoice.TaxTotal,
		IssuedAt:        src.Invoice.IssueDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.invoices.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("compliance: crear registro: %w", err)
	}
	o.appendEvent(ctx, o.invoices, rec, "", "registro creado")
	o.metrics.Transitions.WithLabelValues(entity.ZatcaStatusDraft).Inc()
	return &draft{rec: rec, cfg: cfg, src: src, now: now}, nil
}

// build lleva un registro draft hasta qr_ready. Todo error queda persistido en estado invalid.
func (o *Orchestrator) build(ctx context.Context, d *draft) error {
	rec, cfg := d.rec, d.cfg
	log := o.log.With().Str("tenant", rec.CompanyID).Str("zatca_invoice", rec.ID).Logger()

	if err := o.advance(ctx, rec, entity.ZatcaStatusGenerating, ""); err != nil {
		return o.fail(ctx, rec, err)
	}
	doc, err := zatca.Transform(d.src, cfg, d.now)
	if err != nil {
		return o.fail(ctx, rec, err)
	}
	doc.UUID = rec.UUID
	rec.InvoiceType = doc.InvoiceType
	rec.GrandTotal = doc.Payable
	rec.TaxTotal = doc.TaxTotal
	rec.IssuedAt = doc.IssuedAt

	xmlBytes, hash, err := o.chainWithRetry(ctx, cfg, rec, doc)
	if err != nil {
		return o.fail(ctx, rec, err)
	}
	log.Debug().Int64("icv", rec.InvoiceCounter).Str("invoice_number", rec.InvoiceNumber).Msg("factura encadenada")

	qrData := doc.QRData()
	if cfg.Phase == pkgzatca.Phase2 {
		res, err := o.sign(cfg, xmlBytes, hash)
		if err != nil {
			return o.fail(ctx, rec, err)
		}
		xmlBytes = res.XML
		rec.XMLContent = string(res.XML)
		rec.Signature = res.SignatureValue
		if err := o.advance(ctx, rec, entity.ZatcaStatusSigned, ""); err != nil {
			return o.fail(ctx, rec, err)
		}
		qrData.InvoiceHash = hash
		qrData.Signature = res.SignatureValue
		qrData.PublicKey = res.PublicKey
		qrData.Stamp = res.CertificateSignature
	}

	qr, err := zatca.EncodeQR(qrData, cfg.Phase)
	if err != nil {
		return o.fail(ctx, rec, err)
	}
	withQR, err := o.hasher.EmbedQR(xmlBytes, qr)
	if err != nil {
		return o.fail(ctx, rec, fmt.Errorf("compliance: insertar QR: %w", err))
	}
	rec.QRCode = qr
	rec.XMLContent = string(withQR)
	rec.SubmissionKind = submissionKind(cfg.Phase, doc)
	if err := o.advance(ctx, rec, entity.ZatcaStatusQRReady, ""); err != nil {
		return o.fail(ctx, rec, err)
	}
	log.Info().Str("invoice_number", rec.InvoiceNumber).Str("kind", rec.SubmissionKind).Msg("factura lista para envío")
	return nil
}

// chainWithRetry encadena la factura y reintenta una sola vez ante ConcurrencyError.
func (o *Orchestrator) chainWithRetry(ctx context.Context, cfg *entity.ZatcaConfiguration, rec *entity.ZatcaInvoice, doc *zatca.Document) ([]byte, string, error) {
	xmlBytes, hash, err := o.chainOnce(ctx, cfg, rec, doc)
	if !zatca.IsConcurrency(err) {
		return xmlBytes, hash, err
	}
	o.metrics.ChainRetries.Inc()
	o.log.Warn().Err(err).Str("tenant", rec.CompanyID).Str("zatca_invoice", rec.ID).Msg("conflicto en la cadena, reintentando con la cabeza actual")
	xmlBytes, hash, err = o.chainOnce(ctx, cfg, rec, doc)
	if zatca.IsConcurrency(err) {
		o.metrics.ChainRetries.Inc()
	}
	return xmlBytes, hash, err
}

// chainOnce toma la cabeza de la cadena, construye y hashea el XML y persiste en una
// transacción el registro en hashed junto con la nueva cabeza.
func (o *Orchestrator) chainOnce(ctx context.Context, cfg *entity.ZatcaConfiguration, rec *entity.ZatcaInvoice, doc *zatca.Document) ([]byte, string, error) {
	unlock, err := o.locker.Lock(ctx, "chain:"+rec.CompanyID)
	if err != nil {
		return nil, "", fmt.Errorf("compliance: bloqueo de la cadena: %w", err)
	}
	defer unlock()

	head, err := o.chain.GetHead(ctx, rec.CompanyID)
	if err != nil {
		return nil, "", fmt.Errorf("compliance: leer cabeza de la cadena: %w", err)
	}
	link, err := zatca.Link(head, rec.CompanyID)
	if err != nil {
		return nil, "", err
	}

	doc.Counter = link.Counter
	doc.PreviousHash = link.PreviousHash
	doc.InvoiceNumber = zatca.FormatInvoiceNumber(cfg.BranchCode, deviceSegment(cfg), doc.IssuedAt, link.Counter)

	xmlBytes, err := o.builder.Build(doc)
	if err != nil {
		return nil, "", fmt.Errorf("compliance: construir XML: %w", err)
	}
	hash, err := o.hasher.Hash(xmlBytes)
	if err != nil {
		return nil, "", fmt.Errorf("compliance: hash del XML: %w", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, "", fmt.Errorf("compliance: serializar documento: %w", err)
	}

	snapshot := *rec
	rec.InvoiceNumber = doc.InvoiceNumber
	rec.InvoiceCounter = link.Counter
	rec.PreviousHash = link.PreviousHash
	rec.InvoiceHash = hash
	rec.XMLContent = string(xmlBytes)
	rec.Data = data

	err = o.tx.RunChain(ctx, func(invoices repository.ZatcaInvoiceRepository, chain repository.ChainRepository) error {
		if err := o.persistTransition(ctx, invoices, rec, entity.ZatcaStatusHashed, fmt.Sprintf("ICV %d", link.Counter)); err != nil {
			return err
		}
		return chain.Advance(ctx, link.Expected, entity.ChainHead{
			CompanyID: rec.CompanyID,
			Counter:   link.Counter,
			LastHash:  hash,
			UpdatedAt: o.now().UTC(),
		})
	})
	if err != nil {
		*rec = snapshot
		if errors.Is(err, domain.ErrDuplicate) {
			return nil, "", &zatca.ConcurrencyError{CompanyID: rec.CompanyID, ExpectedCounter: link.Expected}
		}
		return nil, "", err
	}
	o.metrics.Transitions.WithLabelValues(entity.ZatcaStatusHashed).Inc()
	return xmlBytes, hash, nil
}

// sign verifica el CSID y firma; todo error sale como SignatureError.
func (o *Orchestrator) sign(cfg *entity.ZatcaConfiguration, xmlBytes []byte, hash string) (*signer.Result, error) {
	if err := zatca.CheckCSID(cfg, o.now()); err != nil {
		return nil, err
	}
	km, err := o.loadKey(cfg.CertificatePath, cfg.PrivateKeyPath, cfg.CertificatePassword)
	if err != nil {
		return nil, asSignatureError("cargar llave del tenant", err)
	}
	res, err := o.signer.Sign(xmlBytes, hash, km)
	if err != nil {
		return nil, asSignatureError("firmar factura", err)
	}
	return res, nil
}

// ─── envío ───────────────────────────────────────────────────────────────────

func (o *Orchestrator) submit(ctx context.Context, cfg *entity.ZatcaConfiguration, rec *entity.ZatcaInvoice) (*entity.ZatcaInvoice, error) {
	unlock, err := o.locker.Lock(ctx, "submit:"+rec.ID)
	if err != nil {
		return rec, fmt.Errorf("compliance: bloqueo del envío: %w", err)
	}
	defer unlock()

	// otro envío pudo terminar mientras esperábamos el bloqueo
	fresh, err := o.invoices.GetByID(ctx, rec.CompanyID, rec.ID)
	if err != nil {
		return rec, fmt.Errorf("compliance: releer registro: %w", err)
	}
	if fresh != nil {
		rec = fresh
	}
	if rec.Status != entity.ZatcaStatusQRReady {
		return rec, fmt.Errorf("%w: la factura está en estado %s", domain.ErrConflict, rec.Status)
	}

	// Reglas de negocio UBL antes de gastar una llamada a la autoridad.
	rules := infrazatca.UBLRules{Phase: cfg.Phase, TaxNumber: cfg.TaxNumber}
	if err := infrazatca.ValidateUBL([]byte(rec.XMLContent), rules); err != nil {
		return rec, o.fail(ctx, rec, err)
	}

	creds := infrazatca.CredentialsFor(cfg, o.settings.Environment, o.settings.BaseURL)
	req := infrazatca.SubmitRequest{
		Kind:        rec.SubmissionKind,
		InvoiceHash: rec.InvoiceHash,
		UUID:        rec.UUID,
		XML:         []byte(rec.XMLContent),
	}
	if cfg.Phase == pkgzatca.Phase2 && cfg.ComplianceCheck {
		check := req
		check.Kind = entity.SubmissionCompliance
		if _, err := o.client.Submit(ctx, creds, check); err != nil {
			return o.recordOutcome(ctx, rec, nil, err)
		}
	}
	res, err := o.client.Submit(ctx, creds, req)
	return o.recordOutcome(ctx, rec, res, err)
}

// recordOutcome persiste el resultado del envío. Un SubmissionError deja el registro en
// qr_ready para reintentarlo más tarde; un rechazo lo lleva a invalid.
func (o *Orchestrator) recordOutcome(ctx context.Context, rec *entity.ZatcaInvoice, res *infrazatca.SubmitResult, callErr error) (*entity.ZatcaInvoice, error) {
	log := o.log.With().Str("tenant", rec.CompanyID).Str("zatca_invoice", rec.ID).Logger()

	var subErr *zatca.SubmissionError
	if errors.As(callErr, &subErr) {
		rec.Attempts += subErr.Attempts
		rec.ErrorMessage = callErr.Error()
		rec.UpdatedAt = o.now().UTC()
		if err := o.invoices.Update(context.WithoutCancel(ctx), rec); err != nil {
			log.Error().Err(err).Msg("no se pudo persistir el error de envío")
		}
		o.metrics.Failures.WithLabelValues(zatca.KindSubmission).Inc()
		log.Warn().Err(callErr).Int("attempts", rec.Attempts).Msg("envío fallido, la factura sigue en qr_ready")
		return rec, callErr
	}

	submittedAt := o.now().UTC()
	rec.SubmittedAt = &submittedAt
	if err := o.advance(ctx, rec, entity.ZatcaStatusSubmitted, rec.SubmissionKind); err != nil {
		return rec, o.fail(ctx, rec, err)
	}

	if callErr != nil {
		var rej *zatca.RejectionError
		if errors.As(callErr, &rej) {
			rec.Attempts++
			rec.Response = responseJSON(rej.Body)
		}
		return rec, o.fail(ctx, rec, callErr)
	}

	rec.Attempts += res.Attempts
	rec.Response = responseJSON(res.Body)
	rec.ErrorMessage = ""
	if len(res.ClearedXML) > 0 {
		rec.XMLContent = string(res.ClearedXML)
	}
	validatedAt := o.now().UTC()
	rec.ValidatedAt = &validatedAt
	msg := res.Status
	if len(res.Warnings) > 0 {
		msg += ": " + strings.Join(res.Warnings, "; ")
	}
	if err := o.advance(ctx, rec, entity.ZatcaStatusValid, msg); err != nil {
		return rec, err
	}
	log.Info().Str("zatca_status", res.Status).Int("attempts", rec.Attempts).Msg("factura aceptada por ZATCA")
	o.archiveXML(ctx, rec)
	return rec, nil
}

func (o *Orchestrator) resubmit(ctx context.Context, old *entity.ZatcaInvoice) (*entity.ZatcaInvoice, error) {
	rec, cfg, err := o.generate(ctx, old.CompanyID, old.SourceInvoiceID, old.ID)
	if err != nil {
		return rec, err
	}
	o.log.Info().Str("tenant", old.CompanyID).Str("replaces", old.ID).Str("zatca_invoice", rec.ID).Msg("reenvío de factura rechazada")
	return o.submit(ctx, cfg, rec)
}

func (o *Orchestrator) archiveXML(ctx context.Context, rec *entity.ZatcaInvoice) {
	if o.archive == nil {
		return
	}
	key := storage.ObjectKey(rec.CompanyID, rec.UUID, rec.CreatedAt.Format(time.RFC3339))
	if err := o.archive.PutXML(ctx, key, []byte(rec.XMLContent)); err != nil {
		o.log.Error().Err(err).Str("zatca_invoice", rec.ID).Str("key", key).Msg("no se pudo archivar el XML")
	}
}

// ─── estado ──────────────────────────────────────────────────────────────────

// advance aplica la transición, la persiste con su evento y cuenta la métrica.
func (o *Orchestrator) advance(ctx context.Context, rec *entity.ZatcaInvoice, to, msg string) error {
	if err := o.persistTransition(ctx, o.invoices, rec, to, msg); err != nil {
		return err
	}
	o.metrics.Transitions.WithLabelValues(to).Inc()
	return nil
}

func (o *Orchestrator) persistTransition(ctx context.Context, repo repository.ZatcaInvoiceRepository, rec *entity.ZatcaInvoice, to, msg string) error {
	from := rec.Status
	if err := zatca.Transition(rec, to); err != nil {
		return err
	}
	rec.UpdatedAt = o.now().UTC()
	if err := repo.Update(ctx, rec); err != nil {
		rec.Status = from
		return fmt.Errorf("compliance: persistir estado %s: %w", to, err)
	}
	if err := repo.AppendEvent(ctx, &entity.ZatcaInvoiceEvent{
		ID:             uuid.NewString(),
		ZatcaInvoiceID: rec.ID,
		FromStatus:     from,
		ToStatus:       to,
		Message:        msg,
		CreatedAt:      rec.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("compliance: registrar evento %s: %w", to, err)
	}
	return nil
}

// fail persiste cause en el registro y lo mueve a invalid. Devuelve cause.
func (o *Orchestrator) fail(ctx context.Context, rec *entity.ZatcaInvoice, cause error) error {
	kind := zatca.KindOf(cause)
	o.metrics.Failures.WithLabelValues(kind).Inc()
	log := o.log.With().Str("tenant", rec.CompanyID).Str("zatca_invoice", rec.ID).Str("kind", kind).Logger()

	rec.ErrorMessage = cause.Error()
	if !zatca.CanTransition(rec.Status, entity.ZatcaStatusInvalid, rec.Phase) {
		log.Error().Err(cause).Str("status", rec.Status).Msg("error sin transición posible a invalid")
		return cause
	}
	if err := o.advance(context.WithoutCancel(ctx), rec, entity.ZatcaStatusInvalid, rec.ErrorMessage); err != nil {
		log.Error().Err(err).Msg("no se pudo persistir el estado invalid")
	}
	log.Warn().Err(cause).Msg("factura invalidada")
	return cause
}

func (o *Orchestrator) appendEvent(ctx context.Context, repo repository.ZatcaInvoiceRepository, rec *entity.ZatcaInvoice, from, msg string) {
	if err := repo.AppendEvent(ctx, &entity.ZatcaInvoiceEvent{
		ID:             uuid.NewString(),
		ZatcaInvoiceID: rec.ID,
		FromStatus:     from,
		ToStatus:       rec.Status,
		Message:        msg,
		CreatedAt:      o.now().UTC(),
	}); err != nil {
		o.log.Error().Err(err).Str("zatca_invoice", rec.ID).Msg("no se pudo registrar el evento")
	}
}

func (o *Orchestrator) loadConfig(ctx context.Context, companyID string) (*entity.ZatcaConfiguration, error) {
	cfg, err := o.configs.GetByCompanyID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("compliance: leer configuración: %w", err)
	}
	if cfg == nil {
		return nil, domain.ErrNotConfigured
	}
	if !cfg.Enabled {
		return nil, domain.ErrDisabled
	}
	return cfg, nil
}

func (o *Orchestrator) getRecord(ctx context.Context, companyID, id string) (*entity.ZatcaInvoice, error) {
	rec, err := o.invoices.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, fmt.Errorf("compliance: leer factura %s: %w", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("factura %s: %w", id, domain.ErrNotFound)
	}
	return rec, nil
}

// deviceSegment el EGS solo forma parte del número en phase2.
func deviceSegment(cfg *entity.ZatcaConfiguration) string {
	if cfg.Phase != pkgzatca.Phase2 {
		return ""
	}
	return cfg.DeviceID
}

// submissionKind phase1 y simplificadas se reportan; las estándar de phase2 van a clearance.
func submissionKind(phase string, doc *zatca.Document) string {
	if phase == pkgzatca.Phase2 && !doc.IsSimplified() {
		return entity.SubmissionClearance
	}
	return entity.SubmissionReporting
}

// provisionalType tipo del registro antes de transformar (el transformador lo confirma).
func provisionalType(src *entity.SourceInvoice) string {
	switch src.Invoice.Kind {
	case entity.SourceKindCreditNote:
		return pkgzatca.InvoiceTypeCreditNote
	case entity.SourceKindDebitNote:
		return pkgzatca.InvoiceTypeDebitNote
	}
	if src.Customer != nil && strings.TrimSpace(src.Customer.VATNumber) != "" {
		return pkgzatca.InvoiceTypeStandard
	}
	return pkgzatca.InvoiceTypeSimplified
}

func asSignatureError(msg string, err error) error {
	var se *zatca.SignatureError
	if errors.As(err, &se) {
		return err
	}
	return &zatca.SignatureError{Msg: msg, Err: err}
}

// responseJSON la columna response es jsonb; un cuerpo que no es JSON se guarda envuelto.
func responseJSON(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return body
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(body)})
	if err != nil {
		return nil
	}
	return wrapped
}
