package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/zatca-einvoicing/internal/application/dto"
	"github.com/jhoicas/zatca-einvoicing/internal/domain"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/repository"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
	pkgzatca "github.com/jhoicas/zatca-einvoicing/pkg/zatca"
)

// Claves del desglose de IVA en reportes.
const (
	BucketStandard   = "standard"
	BucketZeroRated  = "zero_rated"
	BucketExempt     = "exempt"
	BucketOutOfScope = "out_of_scope"
)

const (
	dateLayout    = "2006-01-02"
	periodLayout  = "2006-01"
	maxPageLimit  = 100
	statsWindow   = 30 * 24 * time.Hour
	maxReportDays = 366
)

var bucketByCategory = map[string]string{
	pkgzatca.VATCategoryStandard: BucketStandard,
	pkgzatca.VATCategoryZero:     BucketZeroRated,
	pkgzatca.VATCategoryExempt:   BucketExempt,
	pkgzatca.VATCategoryOutScope: BucketOutOfScope,
}

// ReportUseCase consultas de facturas ZATCA, estadísticas, reportes de IVA y PDF.
type ReportUseCase struct {
	invoices  repository.ZatcaInvoiceRepository
	configs   repository.ZatcaConfigurationRepository
	generator PDFGenerator
	now       func() time.Time
}

// NewReportUseCase construye el caso de uso. generator puede ser nil si no se expone el PDF.
func NewReportUseCase(
	invoices repository.ZatcaInvoiceRepository,
	configs repository.ZatcaConfigurationRepository,
	generator PDFGenerator,
) *ReportUseCase {
	return &ReportUseCase{invoices: invoices, configs: configs, generator: generator, now: time.Now}
}

// WithClock reemplaza el reloj (tests).
func (uc *ReportUseCase) WithClock(now func() time.Time) *ReportUseCase {
	uc.now = now
	return uc
}

// ListInvoices lista los registros del tenant, más recientes primero.
func (uc *ReportUseCase) ListInvoices(ctx context.Context, companyID, status string, page dto.PageRequest) (*dto.ZatcaInvoiceListResponse, error) {
	page.DefaultPage()
	if page.Limit > maxPageLimit {
		page.Limit = maxPageLimit
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && !isKnownStatus(status) {
		return nil, &zatca.ValidationError{Fields: []zatca.FieldError{{Field: "status", Message: fmt.Sprintf("estado desconocido %q", status)}}}
	}
	list, total, err := uc.invoices.List(ctx, repository.ZatcaInvoiceFilter{
		CompanyID: companyID,
		Status:    status,
		Limit:     page.Limit,
		Offset:    page.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("reportes: listar facturas: %w", err)
	}
	items := make([]dto.ZatcaInvoiceResponse, 0, len(list))
	for _, inv := range list {
		items = append(items, *toInvoiceResponse(inv, false))
	}
	return &dto.ZatcaInvoiceListResponse{
		Items: items,
		Page:  dto.PageResponse{Limit: page.Limit, Offset: page.Offset, Total: total},
	}, nil
}

// GetInvoice devuelve el registro con su XML y sus transiciones.
func (uc *ReportUseCase) GetInvoice(ctx context.Context, companyID, id string) (*dto.ZatcaInvoiceResponse, error) {
	inv, err := uc.get(ctx, companyID, id)
	if err != nil {
		return nil, err
	}
	events, err := uc.invoices.ListEvents(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("reportes: listar eventos: %w", err)
	}
	out := toInvoiceResponse(inv, true)
	out.Events = make([]dto.ZatcaInvoiceEventResponse, 0, len(events))
	for _, ev := range events {
		out.Events = append(out.Events, dto.ZatcaInvoiceEventResponse{
			FromStatus: ev.FromStatus,
			ToStatus:   ev.ToStatus,
			Message:    ev.Message,
			CreatedAt:  ev.CreatedAt,
		})
	}
	return out, nil
}

// Statistics conteos por estado, envíos de los últimos 30 días y tasa de aceptación.
func (uc *ReportUseCase) Statistics(ctx context.Context, companyID string) (*dto.StatisticsResponse, error) {
	counts, err := uc.invoices.CountByStatus(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("reportes: contar por estado: %w", err)
	}
	recent, err := uc.invoices.CountSubmittedSince(ctx, companyID, uc.now().Add(-statsWindow))
	if err != nil {
		return nil, fmt.Errorf("reportes: contar envíos recientes: %w", err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	rate := 0.0
	if decided := counts[entity.ZatcaStatusValid] + counts[entity.ZatcaStatusInvalid]; decided > 0 {
		rate, _ = decimal.NewFromInt(int64(counts[entity.ZatcaStatusValid] * 100)).
			Div(decimal.NewFromInt(int64(decided))).Round(2).Float64()
	}
	return &dto.StatisticsResponse{
		Total:               total,
		ByStatus:            counts,
		SubmittedLast30Days: recent,
		SuccessRate:         rate,
	}, nil
}

// TaxReport resumen de IVA de las facturas validadas entre start y end (inclusive).
// Las notas crédito restan.
func (uc *ReportUseCase) TaxReport(ctx context.Context, companyID string, in dto.TaxReportRequest) (*dto.TaxReportResponse, error) {
	var errs zatca.ValidationErrors
	from, err := time.Parse(dateLayout, strings.TrimSpace(in.StartDate))
	if err != nil {
		errs.Add("start_date", "formato esperado YYYY-MM-DD")
	}
	to, err := time.Parse(dateLayout, strings.TrimSpace(in.EndDate))
	if err != nil {
		errs.Add("end_date", "formato esperado YYYY-MM-DD")
	}
	if len(errs) == 0 {
		if to.Before(from) {
			errs.Add("end_date", "debe ser igual o posterior a start_date")
		} else if to.Sub(from) > maxReportDays*24*time.Hour {
			errs.Add("end_date", fmt.Sprintf("el período no puede superar %d días", maxReportDays))
		}
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}

	agg, lines, err := uc.aggregate(ctx, companyID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	return &dto.TaxReportResponse{
		StartDate: from.Format(dateLayout),
		EndDate:   to.Format(dateLayout),
		Summary:   agg.summary,
		Breakdown: agg.buckets,
		Invoices:  lines,
	}, nil
}

// VATReturn casillas de ventas de la declaración del mes YYYY-MM.
func (uc *ReportUseCase) VATReturn(ctx context.Context, companyID string, in dto.VATReturnRequest) (*dto.VATReturnResponse, error) {
	period := strings.TrimSpace(in.TaxPeriod)
	from, err := time.Parse(periodLayout, period)
	if err != nil {
		return nil, &zatca.ValidationError{Fields: []zatca.FieldError{{Field: "tax_period", Message: "formato esperado YYYY-MM"}}}
	}
	cfg, err := uc.configs.GetByCompanyID(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("reportes: leer configuración: %w", err)
	}
	if cfg == nil {
		return nil, domain.ErrNotConfigured
	}
	to := from.AddDate(0, 1, 0)
	agg, _, err := uc.aggregate(ctx, companyID, from, to)
	if err != nil {
		return nil, err
	}

	out := &dto.VATReturnResponse{
		TaxPeriod:     period,
		TaxNumber:     cfg.TaxNumber,
		From:          from.Format(dateLayout),
		To:            to.AddDate(0, 0, -1).Format(dateLayout),
		StandardRated: agg.buckets[BucketStandard],
		ZeroRated:     agg.buckets[BucketZeroRated],
		Exempt:        agg.buckets[BucketExempt],
		OutOfScope:    agg.buckets[BucketOutOfScope],
	}
	out.TotalSupplies = out.StandardRated.Net.Add(out.ZeroRated.Net).Add(out.Exempt.Net).Add(out.OutOfScope.Net)
	out.TotalOutputVAT = agg.summary.VAT
	out.NetVATDue = out.TotalOutputVAT
	return out, nil
}

// InvoicePDF representación impresa del registro. Requiere que el QR ya exista.
func (uc *ReportUseCase) InvoicePDF(ctx context.Context, companyID, id string) ([]byte, string, error) {
	if uc.generator == nil {
		return nil, "", fmt.Errorf("reportes: generador de PDF no configurado")
	}
	inv, err := uc.get(ctx, companyID, id)
	if err != nil {
		return nil, "", err
	}
	if inv.QRCode == "" || len(inv.Data) == 0 {
		return nil, "", fmt.Errorf("%w: la factura en estado %s aún no tiene QR", domain.ErrConflict, inv.Status)
	}
	doc, err := decodeDocument(inv)
	if err != nil {
		return nil, "", err
	}
	pdf, err := uc.generator.GenerateInvoicePDF(ctx, doc, inv.QRCode)
	if err != nil {
		return nil, "", fmt.Errorf("reportes: generar PDF: %w", err)
	}
	return pdf, inv.InvoiceNumber + ".pdf", nil
}

type aggregation struct {
	summary dto.VATBucket
	buckets map[string]dto.VATBucket
}

// aggregate suma las facturas validadas en [from, to).
func (uc *ReportUseCase) aggregate(ctx context.Context, companyID string, from, to time.Time) (*aggregation, []dto.TaxReportLine, error) {
	list, err := uc.invoices.ListValidBetween(ctx, companyID, from, to)
	if err != nil {
		return nil, nil, fmt.Errorf("reportes: listar facturas válidas: %w", err)
	}
	agg := &aggregation{
		summary: zeroBucket(),
		buckets: map[string]dto.VATBucket{
			BucketStandard:   zeroBucket(),
			BucketZeroRated:  zeroBucket(),
			BucketExempt:     zeroBucket(),
			BucketOutOfScope: zeroBucket(),
		},
	}
	lines := make([]dto.TaxReportLine, 0, len(list))
	for _, inv := range list {
		doc, err := decodeDocument(inv)
		if err != nil {
			return nil, nil, err
		}
		sign := decimal.NewFromInt(1)
		if doc.InvoiceType == pkgzatca.InvoiceTypeCreditNote {
			sign = decimal.NewFromInt(-1)
		}
		net := doc.TaxExclusive.Mul(sign)
		vat := doc.TaxTotal.Mul(sign)
		gross := doc.TaxInclusive.Mul(sign)
		agg.summary = addBucket(agg.summary, net, vat, gross)

		seen := map[string]bool{}
		for _, st := range doc.TaxSubtotals {
			key, ok := bucketByCategory[st.Category]
			if !ok {
				continue
			}
			b := agg.buckets[key]
			stNet := st.TaxableAmount.Mul(sign)
			stVAT := st.TaxAmount.Mul(sign)
			b.Net = b.Net.Add(stNet)
			b.VAT = b.VAT.Add(stVAT)
			b.Gross = b.Gross.Add(stNet).Add(stVAT)
			if !seen[key] {
				b.Count++
				seen[key] = true
			}
			agg.buckets[key] = b
		}

		line := dto.TaxReportLine{
			InvoiceNumber: inv.InvoiceNumber,
			InvoiceType:   doc.InvoiceType,
			IssuedAt:      doc.IssuedAt,
			Net:           net,
			VAT:           vat,
			Gross:         gross,
		}
		if doc.Buyer != nil {
			line.BuyerName = doc.Buyer.Name
		}
		lines = append(lines, line)
	}
	return agg, lines, nil
}

func (uc *ReportUseCase) get(ctx context.Context, companyID, id string) (*entity.ZatcaInvoice, error) {
	inv, err := uc.invoices.GetByID(ctx, companyID, id)
	if err != nil {
		return nil, fmt.Errorf("reportes: leer factura: %w", err)
	}
	if inv == nil {
		return nil, domain.ErrNotFound
	}
	return inv, nil
}

func decodeDocument(inv *entity.ZatcaInvoice) (*zatca.Document, error) {
	var doc zatca.Document
	if err := json.Unmarshal(inv.Data, &doc); err != nil {
		return nil, fmt.Errorf("reportes: documento de %s ilegible: %w", inv.ID, err)
	}
	return &doc, nil
}

func zeroBucket() dto.VATBucket {
	return dto.VATBucket{Net: decimal.Zero, VAT: decimal.Zero, Gross: decimal.Zero}
}

func addBucket(b dto.VATBucket, net, vat, gross decimal.Decimal) dto.VATBucket {
	b.Count++
	b.Net = b.Net.Add(net)
	b.VAT = b.VAT.Add(vat)
	b.Gross = b.Gross.Add(gross)
	return b
}

func isKnownStatus(s string) bool {
	switch s {
	case entity.ZatcaStatusDraft, entity.ZatcaStatusGenerating, entity.ZatcaStatusHashed,
		entity.ZatcaStatusSigned, entity.ZatcaStatusQRReady, entity.ZatcaStatusSubmitted,
		entity.ZatcaStatusValid, entity.ZatcaStatusInvalid, entity.ZatcaStatusCancelled:
		return true
	}
	return false
}

func toInvoiceResponse(inv *entity.ZatcaInvoice, withXML bool) *dto.ZatcaInvoiceResponse {
	out := &dto.ZatcaInvoiceResponse{
		ID:              inv.ID,
		SourceInvoiceID: inv.SourceInvoiceID,
		ReplacesID:      inv.ReplacesID,
		UUID:            inv.UUID,
		InvoiceNumber:   inv.InvoiceNumber,
		InvoiceType:     inv.InvoiceType,
		Phase:           inv.Phase,
		Status:          inv.Status,
		Counter:         inv.InvoiceCounter,
		InvoiceHash:     inv.InvoiceHash,
		PreviousHash:    inv.PreviousHash,
		QRCode:          inv.QRCode,
		SubmissionKind:  inv.SubmissionKind,
		Attempts:        inv.Attempts,
		GrandTotal:      inv.GrandTotal,
		TaxTotal:        inv.TaxTotal,
		ErrorMessage:    inv.ErrorMessage,
		SubmittedAt:     inv.SubmittedAt,
		ValidatedAt:     inv.ValidatedAt,
		CreatedAt:       inv.CreatedAt,
	}
	if withXML {
		out.XML = inv.XMLContent
	}
	return out
}
