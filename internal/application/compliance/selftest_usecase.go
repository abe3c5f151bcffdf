package compliance

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/zatca-einvoicing/internal/application/dto"
	"github.com/jhoicas/zatca-einvoicing/internal/domain"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/repository"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	infrazatca "github.com/jhoicas/zatca-einvoicing/internal/infrastructure/zatca"
	"github.com/jhoicas/zatca-einvoicing/internal/infrastructure/zatca/signer"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

// Verificaciones de la autoprueba, en el orden en que se ejecutan.
const (
	CheckConfiguration   = "configuration"
	CheckCertificates    = "certificates"
	CheckAPIConnectivity = "api_connectivity"
	CheckUBLGeneration   = "ubl_generation"
	CheckHashing         = "hashing"
	CheckSignatures      = "signatures"
	CheckQRCodes         = "qr_codes"
	CheckBusinessRules   = "business_rules"
	CheckArchiving       = "archiving"
)

// Estado de cumplimiento del resumen.
const (
	ComplianceStatusCompliant    = "COMPLIANT"
	ComplianceStatusNonCompliant = "NON_COMPLIANT"
)

const (
	minCompliantScore = 70
	scoreWithWarnings = 80
	certExpiryNotice  = 30 * 24 * time.Hour
	slowAPI           = 5 * time.Second
)

// SelfTestDeps dependencias de la autoprueba. Archive es opcional.
type SelfTestDeps struct {
	Configs  repository.ZatcaConfigurationRepository
	Client   Submitter
	Builder  XMLBuilder
	Hasher   Hasher
	Signer   InvoiceSigner
	LoadKey  KeyLoader
	Archive  Archive
	Settings Settings
	Log      zerolog.Logger
	Now      func() time.Time
}

// SelfTestUseCase recorre el pipeline completo con una factura de muestra, sin persistirla
// ni tocar la cadena del tenant, y puntúa cada etapa. Solo la conectividad usa la red.
type SelfTestUseCase struct {
	configs  repository.ZatcaConfigurationRepository
	client   Submitter
	builder  XMLBuilder
	hasher   Hasher
	signer   InvoiceSigner
	loadKey  KeyLoader
	archive  Archive
	settings Settings
	log      zerolog.Logger
	now      func() time.Time
}

// NewSelfTestUseCase construye el caso de uso. LoadKey nil usa signer.Load.
func NewSelfTestUseCase(d SelfTestDeps) *SelfTestUseCase {
	if d.LoadKey == nil {
		d.LoadKey = signer.Load
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &SelfTestUseCase{
		configs:  d.Configs,
		client:   d.Client,
		builder:  d.Builder,
		hasher:   d.Hasher,
		signer:   d.Signer,
		loadKey:  d.LoadKey,
		archive:  d.Archive,
		settings: d.Settings,
		log:      d.Log,
		now:      d.Now,
	}
}

// selfTestRun artefactos que una verificación deja a las siguientes.
type selfTestRun struct {
	cfg    *entity.ZatcaConfiguration
	now    time.Time
	km     *signer.KeyMaterial
	doc    *zatca.Document
	xml    []byte
	hash   string
	signed *signer.Result
	final  []byte
}

type checkOutcome struct {
	errors   []string
	warnings []string
	skipped  bool
}

func (c *checkOutcome) fail(format string, args ...any) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

func (c *checkOutcome) warn(format string, args ...any) {
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

func (c *checkOutcome) failErr(err error) {
	var ve *zatca.ValidationError
	if errors.As(err, &ve) {
		c.errors = append(c.errors, ve.Messages()...)
		return
	}
	c.errors = append(c.errors, err.Error())
}

func (c *checkOutcome) missing(check string) {
	c.fail("no se puede verificar: falló %s", check)
}

// Run ejecuta todas las verificaciones. Un tenant sin configuración es domain.ErrNotConfigured.
func (uc *SelfTestUseCase) Run(ctx context.Context, companyID string) (*dto.ComplianceTestResponse, error) {
	cfg, err := uc.configs.GetByCompanyID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("autoprueba: leer configuración: %w", err)
	}
	if cfg == nil {
		return nil, domain.ErrNotConfigured
	}
	run := &selfTestRun{cfg: cfg, now: uc.now().UTC()}

	checks := []struct {
		name string
		fn   func(context.Context, *selfTestRun, *checkOutcome)
	}{
		{CheckConfiguration, uc.checkConfiguration},
		{CheckCertificates, uc.checkCertificates},
		{CheckAPIConnectivity, uc.checkAPI},
		{CheckUBLGeneration, uc.checkUBL},
		{CheckHashing, uc.checkHashing},
		{CheckSignatures, uc.checkSignatures},
		{CheckQRCodes, uc.checkQR},
		{CheckBusinessRules, uc.checkBusinessRules},
		{CheckArchiving, uc.checkArchive},
	}

	out := &dto.ComplianceTestResponse{
		ConfigID:        cfg.ID,
		CompanyID:       cfg.CompanyID,
		Phase:           cfg.Phase,
		TestDate:        run.now,
		Tests:           make([]dto.ComplianceCheckResult, 0, len(checks)),
		Errors:          []string{},
		Warnings:        []string{},
		Recommendations: []string{},
	}
	total := 0
	for _, c := range checks {
		var oc checkOutcome
		c.fn(ctx, run, &oc)
		res := dto.ComplianceCheckResult{
			Name:     c.name,
			Passed:   len(oc.errors) == 0,
			Skipped:  oc.skipped,
			Score:    outcomeScore(&oc),
			Errors:   nonNil(oc.errors),
			Warnings: nonNil(oc.warnings),
		}
		out.Tests = append(out.Tests, res)
		total += res.Score
		if res.Passed {
			out.PassedTests++
		}
		out.Errors = append(out.Errors, res.Errors...)
		out.Warnings = append(out.Warnings, res.Warnings...)
	}
	out.TotalTests = len(out.Tests)
	out.OverallScore = math.Round(float64(total)/float64(out.TotalTests)*100) / 100
	out.OverallCompliant = out.OverallScore >= minCompliantScore && out.PassedTests == out.TotalTests
	out.Recommendations = recommendations(out.Tests)

	uc.log.Info().
		Str("tenant", companyID).
		Float64("score", out.OverallScore).
		Bool("compliant", out.OverallCompliant).
		Int("errors", len(out.Errors)).
		Msg("autoprueba de cumplimiento")
	return out, nil
}

// Summary ejecuta la autoprueba y devuelve solo el resumen.
func (uc *SelfTestUseCase) Summary(ctx context.Context, companyID string) (*dto.ComplianceSummaryResponse, error) {
	res, err := uc.Run(ctx, companyID)
	if err != nil {
		return nil, err
	}
	status := ComplianceStatusNonCompliant
	if res.OverallCompliant {
		status = ComplianceStatusCompliant
	}
	return &dto.ComplianceSummaryResponse{
		ConfigID:             res.ConfigID,
		CompanyID:            res.CompanyID,
		Phase:                res.Phase,
		ComplianceStatus:     status,
		OverallScore:         res.OverallScore,
		LastTestDate:         res.TestDate,
		CriticalIssues:       len(res.Errors),
		Warnings:             len(res.Warnings),
		RecommendationsCount: len(res.Recommendations),
	}, nil
}

func (uc *SelfTestUseCase) checkConfiguration(_ context.Context, run *selfTestRun, oc *checkOutcome) {
	if !run.cfg.Enabled {
		oc.fail("la integración ZATCA está deshabilitada")
	}
	if err := zatca.ValidateConfiguration(run.cfg, run.now, run.cfg.Phase == pkgzatca.Phase2); err != nil {
		oc.failErr(err)
	}
}

func (uc *SelfTestUseCase) checkCertificates(_ context.Context, run *selfTestRun, oc *checkOutcome) {
	cfg := run.cfg
	if cfg.Phase != pkgzatca.Phase2 && cfg.CertificatePath == "" {
		oc.skipped = true
		oc.warn("phase1 no usa certificado")
		return
	}
	km, err := uc.loadKey(cfg.CertificatePath, cfg.PrivateKeyPath, cfg.CertificatePassword)
	if err != nil {
		oc.fail("no se pudo cargar el certificado: %v", err)
		return
	}
	run.km = km
	if km.Certificate == nil {
		oc.warn("el certificado aún no fue emitido por ZATCA")
	} else {
		expires := km.Certificate.NotAfter
		switch {
		case run.now.After(expires):
			oc.fail("el certificado venció el %s", expires.Format(time.DateOnly))
		case expires.Sub(run.now) < certExpiryNotice:
			oc.warn("el certificado vence el %s", expires.Format(time.DateOnly))
		}
	}
	if cfg.Phase == pkgzatca.Phase2 {
		if err := zatca.CheckCSID(cfg, run.now); err != nil {
			oc.fail("CSID: %v", err)
		}
	}
}

func (uc *SelfTestUseCase) checkAPI(ctx context.Context, run *selfTestRun, oc *checkOutcome) {
	creds := infrazatca.CredentialsFor(run.cfg, uc.settings.Environment, uc.settings.BaseURL)
	res := uc.client.TestConnection(ctx, creds)
	switch {
	case !res.Success:
		oc.fail("API de ZATCA no disponible: %s", res.Error)
	case res.Latency > slowAPI:
		oc.warn("la API de ZATCA respondió en %s", res.Latency.Round(time.Millisecond))
	}
}

// checkUBL arma el XML de una factura de muestra encadenada al génesis (ICV 1).
func (uc *SelfTestUseCase) checkUBL(_ context.Context, run *selfTestRun, oc *checkOutcome) {
	cfg := run.cfg
	doc, err := zatca.Transform(sampleSource(cfg, run.now), cfg, run.now)
	if err != nil {
		oc.failErr(err)
		return
	}
	doc.UUID = uuid.NewString()
	doc.Counter = 1
	doc.PreviousHash = zatca.GenesisPreviousHash
	doc.InvoiceNumber = zatca.FormatInvoiceNumber(cfg.BranchCode, deviceSegment(cfg), doc.IssuedAt, doc.Counter)
	xmlBytes, err := uc.builder.Build(doc)
	if err != nil {
		oc.fail("generar UBL: %v", err)
		return
	}
	run.doc, run.xml = doc, xmlBytes
}

func (uc *SelfTestUseCase) checkHashing(_ context.Context, run *selfTestRun, oc *checkOutcome) {
	if run.xml == nil {
		oc.missing(CheckUBLGeneration)
		return
	}
	first, err := uc.hasher.Hash(run.xml)
	if err != nil {
		oc.fail("calcular hash: %v", err)
		return
	}
	second, err := uc.hasher.Hash(run.xml)
	if err != nil || second != first {
		oc.fail("el hash no es determinista")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(first)
	if err != nil || len(raw) != sha256.Size {
		oc.fail("el hash no es un SHA-256 en Base64")
		return
	}
	run.hash = first
}

func (uc *SelfTestUseCase) checkSignatures(_ context.Context, run *selfTestRun, oc *checkOutcome) {
	if run.cfg.Phase != pkgzatca.Phase2 {
		oc.skipped = true
		oc.warn("phase1 no firma las facturas")
		return
	}
	switch {
	case run.hash == "":
		oc.missing(CheckHashing)
		return
	case run.km == nil:
		oc.missing(CheckCertificates)
		return
	}
	res, err := uc.signer.Sign(run.xml, run.hash, run.km)
	if err != nil {
		oc.fail("firmar factura de muestra: %v", err)
		return
	}
	if _, err := base64.StdEncoding.DecodeString(res.SignatureValue); err != nil || res.SignatureValue == "" {
		oc.fail("la firma no es Base64 válido")
		return
	}
	run.signed = res
}

func (uc *SelfTestUseCase) checkQR(_ context.Context, run *selfTestRun, oc *checkOutcome) {
	if run.hash == "" {
		oc.missing(CheckHashing)
		return
	}
	phase := run.cfg.Phase
	data := run.doc.QRData()
	xmlBytes := run.xml
	if phase == pkgzatca.Phase2 {
		if run.signed == nil {
			oc.missing(CheckSignatures)
			return
		}
		data.InvoiceHash = run.hash
		data.Signature = run.signed.SignatureValue
		data.PublicKey = run.signed.PublicKey
		data.Stamp = run.signed.CertificateSignature
		xmlBytes = run.signed.XML
	}
	qr, err := zatca.EncodeQR(data, phase)
	if err != nil {
		oc.fail("codificar QR: %v", err)
		return
	}
	if err := zatca.ValidateQR(qr, phase); err != nil {
		oc.fail("QR inválido: %v", err)
		return
	}
	withQR, err := uc.hasher.EmbedQR(xmlBytes, qr)
	if err != nil {
		oc.fail("insertar QR: %v", err)
		return
	}
	if h, err := uc.hasher.Hash(withQR); err != nil || h != run.hash {
		oc.fail("el hash cambia al insertar el QR")
		return
	}
	run.final = withQR
}

func (uc *SelfTestUseCase) checkBusinessRules(_ context.Context, run *selfTestRun, oc *checkOutcome) {
	if run.final == nil {
		oc.missing(CheckQRCodes)
		return
	}
	rules := infrazatca.UBLRules{Phase: run.cfg.Phase, TaxNumber: run.cfg.TaxNumber}
	if err := infrazatca.ValidateUBL(run.final, rules); err != nil {
		oc.failErr(err)
	}
}

func (uc *SelfTestUseCase) checkArchive(ctx context.Context, run *selfTestRun, oc *checkOutcome) {
	if uc.archive == nil {
		oc.warn("el archivo de XML firmados no está configurado")
		return
	}
	if run.final == nil {
		oc.missing(CheckQRCodes)
		return
	}
	key := fmt.Sprintf("autoprueba/%s/%s.xml", run.cfg.CompanyID, run.now.Format("20060102T150405Z"))
	if err := uc.archive.PutXML(ctx, key, run.final); err != nil {
		oc.fail("archivar XML de muestra: %v", err)
	}
}

// sampleSource factura simplificada de una línea (100 + 15 % de IVA) para la autoprueba.
func sampleSource(cfg *entity.ZatcaConfiguration, now time.Time) *entity.SourceInvoice {
	net := decimal.NewFromInt(100)
	rate := decimal.RequireFromString("0.15")
	tax := net.Mul(rate)
	return &entity.SourceInvoice{
		Invoice: &entity.Invoice{
			ID:         "autoprueba",
			CompanyID:  cfg.CompanyID,
			Number:     "AUTOPRUEBA-1",
			Kind:       entity.SourceKindInvoice,
			IssueDate:  now,
			Currency:   pkgzatca.CurrencySAR,
			NetTotal:   net,
			TaxTotal:   tax,
			GrandTotal: net.Add(tax),
		},
		Details: []*entity.InvoiceDetail{
			{Description: "Verificación de cumplimiento", Quantity: decimal.NewFromInt(1), UnitPrice: net, TaxRate: rate, VATCategory: pkgzatca.VATCategoryStandard},
		},
		Company: &entity.Company{ID: cfg.CompanyID, Name: "Autoprueba ZATCA", Address: entity.Address{Country: "SA"}},
	}
}

func outcomeScore(oc *checkOutcome) int {
	switch {
	case len(oc.errors) > 0:
		return 0
	case len(oc.warnings) > 0 && !oc.skipped:
		return scoreWithWarnings
	default:
		return 100
	}
}

var errorAdvice = map[string]string{
	CheckConfiguration:   "Complete la configuración ZATCA: número de IVA, sucursal y credenciales",
	CheckCertificates:    "Cargue el certificado y la llave emitidos por ZATCA y renueve el CSID antes de que venza",
	CheckAPIConnectivity: "Verifique las credenciales de la API de ZATCA y la conectividad de red",
}

// recommendations una por error (o una por verificación con consejo fijo) y una por advertencia, sin repetir.
func recommendations(tests []dto.ComplianceCheckResult) []string {
	seen := map[string]bool{}
	out := []string{}
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, t := range tests {
		for _, e := range t.Errors {
			if advice, ok := errorAdvice[t.Name]; ok {
				add(advice)
				continue
			}
			add(fmt.Sprintf("Revise %s: %s", t.Name, e))
		}
		for _, w := range t.Warnings {
			add(fmt.Sprintf("Considere atender %s: %s", t.Name, w))
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
