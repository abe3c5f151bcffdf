package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/zatca-einvoicing/internal/domain"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/repository"
)

var _ repository.ZatcaInvoiceRepository = (*ZatcaInvoiceRepo)(nil)

// ZatcaInvoiceRepo implementación de ZatcaInvoiceRepository (usable con pool o tx).
type ZatcaInvoiceRepo struct {
	q Querier
}

// NewZatcaInvoiceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewZatcaInvoiceRepository(q Querier) *ZatcaInvoiceRepo {
	return &ZatcaInvoiceRepo{q: q}
}

const zatcaInvoiceColumns = `
		id, company_id, source_invoice_id, COALESCE(replaces_id::text, ''), uuid,
		COALESCE(invoice_number, ''), invoice_type, phase, status, invoice_counter,
		COALESCE(invoice_hash, ''), COALESCE(previous_hash, ''), COALESCE(xml_content, ''),
		data, response, COALESCE(qr_code, ''), COALESCE(signature, ''),
		COALESCE(submission_kind, ''), attempts, grand_total, tax_total,
		COALESCE(error_message, ''), issued_at, submitted_at, validated_at, created_at, updated_at`

// Create persiste un registro nuevo (normalmente en draft).
func (r *ZatcaInvoiceRepo) Create(ctx context.Context, inv *entity.ZatcaInvoice) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = inv.CreatedAt
	if inv.IssuedAt.IsZero() {
		inv.IssuedAt = inv.CreatedAt
	}
	query := `
		INSERT INTO zatca_invoices (
			id, company_id, source_invoice_id, replaces_id, uuid, invoice_type, phase, status,
			grand_total, tax_total, issued_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.q.Exec(ctx, query,
		inv.ID, inv.CompanyID, inv.SourceInvoiceID, nullIfEmpty(inv.ReplacesID), inv.UUID,
		inv.InvoiceType, inv.Phase, inv.Status, inv.GrandTotal, inv.TaxTotal,
		inv.IssuedAt, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("zatca invoice uuid already exists: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("insert zatca invoice: %w", err)
	}
	return nil
}

// Update persiste estado, artefactos y error. UUID y número se conservan una vez asignados.
func (r *ZatcaInvoiceRepo) Update(ctx context.Context, inv *entity.ZatcaInvoice) error {
	inv.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE zatca_invoices
		SET invoice_number  = COALESCE(invoice_number, $3),
		    invoice_type    = $4,
		    status          = $5,
		    invoice_counter = $6,
		    invoice_hash    = $7,
		    previous_hash   = $8,
		    xml_content     = $9,
		    data            = COALESCE($10, data),
		    response        = COALESCE($11, response),
		    qr_code         = $12,
		    signature       = $13,
		    submission_kind = $14,
		    attempts        = $15,
		    grand_total     = $16,
		    tax_total       = $17,
		    error_message   = $18,
		    submitted_at    = $19,
		    validated_at    = $20,
		    updated_at      = $21,
		    issued_at       = COALESCE($22, issued_at)
		WHERE id = $1 AND company_id = $2`
	tag, err := r.q.Exec(ctx, query,
		inv.ID, inv.CompanyID,
		nullIfEmpty(inv.InvoiceNumber), inv.InvoiceType, inv.Status, inv.InvoiceCounter,
		nullIfEmpty(inv.InvoiceHash), nullIfEmpty(inv.PreviousHash), nullIfEmpty(inv.XMLContent),
		nullIfNilBytes(inv.Data), nullIfNilBytes(inv.Response),
		nullIfEmpty(inv.QRCode), nullIfEmpty(inv.Signature), nullIfEmpty(inv.SubmissionKind),
		inv.Attempts, inv.GrandTotal, inv.TaxTotal, nullIfEmpty(inv.ErrorMessage),
		nullTime(inv.SubmittedAt), nullTime(inv.ValidatedAt), inv.UpdatedAt,
		nullIfZeroTime(inv.IssuedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("zatca invoice number already exists: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("update zatca invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update zatca invoice %s: %w", inv.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID obtiene un registro del tenant; nil, nil si no existe.
func (r *ZatcaInvoiceRepo) GetByID(ctx context.Context, companyID, id string) (*entity.ZatcaInvoice, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	query := `SELECT` + zatcaInvoiceColumns + `
		FROM zatca_invoices WHERE id = $1 AND company_id = $2`
	inv, err := scanZatcaInvoice(r.q.QueryRow(ctx, query, id, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get zatca invoice: %w", err)
	}
	return inv, nil
}

// List devuelve la página pedida y el total de registros que cumplen el filtro.
func (r *ZatcaInvoiceRepo) List(ctx context.Context, f repository.ZatcaInvoiceFilter) ([]*entity.ZatcaInvoice, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM zatca_invoices WHERE company_id = $1 AND ($2 = '' OR status = $2)`
	if err := r.q.QueryRow(ctx, countQuery, f.CompanyID, f.Status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count zatca invoices: %w", err)
	}

	query := `SELECT` + zatcaInvoiceColumns + `
		FROM zatca_invoices
		WHERE company_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`
	list, err := r.queryInvoices(ctx, query, f.CompanyID, f.Status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// AppendEvent registra una transición de estado.
func (r *ZatcaInvoiceRepo) AppendEvent(ctx context.Context, ev *entity.ZatcaInvoiceEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO zatca_invoice_events (id, zatca_invoice_id, from_status, to_status, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.q.Exec(ctx, query,
		ev.ID, ev.ZatcaInvoiceID, ev.FromStatus, ev.ToStatus, nullIfEmpty(ev.Message), ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert zatca invoice event: %w", err)
	}
	return nil
}

// ListEvents historial de transiciones en orden cronológico.
func (r *ZatcaInvoiceRepo) ListEvents(ctx context.Context, zatcaInvoiceID string) ([]*entity.ZatcaInvoiceEvent, error) {
	query := `
		SELECT id, zatca_invoice_id, from_status, to_status, COALESCE(message, ''), created_at
		FROM zatca_invoice_events
		WHERE zatca_invoice_id = $1
		ORDER BY created_at, id`
	rows, err := r.q.Query(ctx, query, zatcaInvoiceID)
	if err != nil {
		return nil, fmt.Errorf("list zatca invoice events: %w", err)
	}
	defer rows.Close()

	var list []*entity.ZatcaInvoiceEvent
	for rows.Next() {
		var ev entity.ZatcaInvoiceEvent
		if err := rows.Scan(&ev.ID, &ev.ZatcaInvoiceID, &ev.FromStatus, &ev.ToStatus, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan zatca invoice event: %w", err)
		}
		list = append(list, &ev)
	}
	return list, rows.Err()
}

// CountByStatus número de registros del tenant por estado.
func (r *ZatcaInvoiceRepo) CountByStatus(ctx context.Context, companyID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM zatca_invoices WHERE company_id = $1 GROUP BY status`
	rows, err := r.q.Query(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("count zatca invoices by status: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// CountSubmittedSince registros enviados a la autoridad desde since.
func (r *ZatcaInvoiceRepo) CountSubmittedSince(ctx context.Context, companyID string, since time.Time) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM zatca_invoices WHERE company_id = $1 AND submitted_at >= $2`
	if err := r.q.QueryRow(ctx, query, companyID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count submitted zatca invoices: %w", err)
	}
	return n, nil
}

// ListPendingReporting facturas a reportar (qr_ready + reporting) de todos los tenants.
// Primero las de menos intentos: las que fallan de forma persistente no acaparan el lote.
func (r *ZatcaInvoiceRepo) ListPendingReporting(ctx context.Context, limit int) ([]*entity.ZatcaInvoice, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT` + zatcaInvoiceColumns + `
		FROM zatca_invoices
		WHERE status = 'qr_ready' AND submission_kind = 'reporting'
		ORDER BY attempts, created_at
		LIMIT $1`
	return r.queryInvoices(ctx, query, limit)
}

// ListValidBetween facturas válidas del tenant emitidas en [from, to).
// El periodo fiscal lo fija la fecha de emisión, no la de validación.
func (r *ZatcaInvoiceRepo) ListValidBetween(ctx context.Context, companyID string, from, to time.Time) ([]*entity.ZatcaInvoice, error) {
	query := `SELECT` + zatcaInvoiceColumns + `
		FROM zatca_invoices
		WHERE company_id = $1 AND status = 'valid' AND issued_at >= $2 AND issued_at < $3
		ORDER BY invoice_counter`
	return r.queryInvoices(ctx, query, companyID, from, to)
}

func (r *ZatcaInvoiceRepo) queryInvoices(ctx context.Context, query string, args ...any) ([]*entity.ZatcaInvoice, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list zatca invoices: %w", err)
	}
	defer rows.Close()

	var list []*entity.ZatcaInvoice
	for rows.Next() {
		inv, err := scanZatcaInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan zatca invoice: %w", err)
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

func scanZatcaInvoice(row pgx.Row) (*entity.ZatcaInvoice, error) {
	var inv entity.ZatcaInvoice
	err := row.Scan(
		&inv.ID, &inv.CompanyID, &inv.SourceInvoiceID, &inv.ReplacesID, &inv.UUID,
		&inv.InvoiceNumber, &inv.InvoiceType, &inv.Phase, &inv.Status, &inv.InvoiceCounter,
		&inv.InvoiceHash, &inv.PreviousHash, &inv.XMLContent,
		&inv.Data, &inv.Response, &inv.QRCode, &inv.Signature,
		&inv.SubmissionKind, &inv.Attempts, &inv.GrandTotal, &inv.TaxTotal,
		&inv.ErrorMessage, &inv.IssuedAt, &inv.SubmittedAt, &inv.ValidatedAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
