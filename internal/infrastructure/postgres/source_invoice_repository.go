package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/repository"
)

var _ repository.SourceInvoiceRepository = (*SourceInvoiceRepo)(nil)

// SourceInvoiceRepo lector de facturas del módulo de facturación (invoices, invoice_details,
// customers, companies). Solo lectura.
type SourceInvoiceRepo struct {
	q Querier
}

// NewSourceInvoiceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewSourceInvoiceRepository(q Querier) *SourceInvoiceRepo {
	return &SourceInvoiceRepo{q: q}
}

// GetSource carga cabecera, líneas, empresa y cliente; nil, nil si la factura no existe para el tenant.
func (r *SourceInvoiceRepo) GetSource(ctx context.Context, companyID, invoiceID string) (*entity.SourceInvoice, error) {
	if _, err := uuid.Parse(invoiceID); err != nil {
		return nil, nil
	}
	inv, err := r.getInvoice(ctx, companyID, invoiceID)
	if err != nil || inv == nil {
		return nil, err
	}
	details, err := r.getDetails(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	company, err := r.getCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	src := &entity.SourceInvoice{Invoice: inv, Details: details, Company: company}
	if inv.CustomerID != "" {
		src.Customer, err = r.getCustomer(ctx, companyID, inv.CustomerID)
		if err != nil {
			return nil, err
		}
	}
	return src, nil
}

func (r *SourceInvoiceRepo) getInvoice(ctx context.Context, companyID, id string) (*entity.Invoice, error) {
	query := `
		SELECT id, company_id, COALESCE(customer_id::text, ''), number, kind,
		       COALESCE(billing_reference, ''), issue_date, due_date, supply_date,
		       currency, COALESCE(payment_method, ''), net_total, tax_total, grand_total,
		       COALESCE(note, ''), created_at, updated_at
		FROM invoices WHERE id = $1 AND company_id = $2`
	var inv entity.Invoice
	err := r.q.QueryRow(ctx, query, id, companyID).Scan(
		&inv.ID, &inv.CompanyID, &inv.CustomerID, &inv.Number, &inv.Kind,
		&inv.BillingReference, &inv.IssueDate, &inv.DueDate, &inv.SupplyDate,
		&inv.Currency, &inv.PaymentMethod, &inv.NetTotal, &inv.TaxTotal, &inv.GrandTotal,
		&inv.Note, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get source invoice: %w", err)
	}
	return &inv, nil
}

func (r *SourceInvoiceRepo) getDetails(ctx context.Context, invoiceID string) ([]*entity.InvoiceDetail, error) {
	query := `
		SELECT id, invoice_id, description, quantity, unit_price, tax_rate, vat_category, subtotal
		FROM invoice_details WHERE invoice_id = $1 ORDER BY line_number, id`
	rows, err := r.q.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list source invoice details: %w", err)
	}
	defer rows.Close()

	var list []*entity.InvoiceDetail
	for rows.Next() {
		var d entity.InvoiceDetail
		if err := rows.Scan(&d.ID, &d.InvoiceID, &d.Description, &d.Quantity, &d.UnitPrice, &d.TaxRate, &d.VATCategory, &d.Subtotal); err != nil {
			return nil, fmt.Errorf("scan source invoice detail: %w", err)
		}
		list = append(list, &d)
	}
	return list, rows.Err()
}

func (r *SourceInvoiceRepo) getCompany(ctx context.Context, id string) (*entity.Company, error) {
	query := `
		SELECT id, name, COALESCE(street, ''), COALESCE(building_number, ''), COALESCE(district, ''),
		       COALESCE(city, ''), COALESCE(postal_code, ''), country,
		       COALESCE(phone, ''), COALESCE(email, ''), created_at, updated_at
		FROM companies WHERE id = $1`
	var c entity.Company
	err := r.q.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Address.Street, &c.Address.BuildingNumber, &c.Address.District,
		&c.Address.City, &c.Address.PostalCode, &c.Address.Country,
		&c.Phone, &c.Email, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get company: %w", err)
	}
	return &c, nil
}

func (r *SourceInvoiceRepo) getCustomer(ctx context.Context, companyID, id string) (*entity.Customer, error) {
	query := `
		SELECT id, company_id, name, COALESCE(vat_number, ''),
		       COALESCE(street, ''), COALESCE(building_number, ''), COALESCE(district, ''),
		       COALESCE(city, ''), COALESCE(postal_code, ''), country,
		       COALESCE(email, ''), COALESCE(phone, ''), created_at, updated_at
		FROM customers WHERE id = $1 AND company_id = $2`
	var c entity.Customer
	err := r.q.QueryRow(ctx, query, id, companyID).Scan(
		&c.ID, &c.CompanyID, &c.Name, &c.VATNumber,
		&c.Address.Street, &c.Address.BuildingNumber, &c.Address.District,
		&c.Address.City, &c.Address.PostalCode, &c.Address.Country,
		&c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}
