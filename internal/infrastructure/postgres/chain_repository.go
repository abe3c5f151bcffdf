package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/repository"
	"github.com/jhoicas/zatca-einvoicing/internal/domain/zatca"
)

var _ repository.ChainRepository = (*ChainRepo)(nil)

// ChainRepo cabeza de la cadena de hashes por tenant en zatca_chain_heads.
type ChainRepo struct {
	q Querier
}

// NewChainRepository construye el adaptador. Pasar pool o tx (Querier).
func NewChainRepository(q Querier) *ChainRepo {
	return &ChainRepo{q: q}
}

// GetHead devuelve la cabeza actual; contador 0 si el tenant no tiene fila.
func (r *ChainRepo) GetHead(ctx context.Context, companyID string) (entity.ChainHead, error) {
	head := entity.ChainHead{CompanyID: companyID}
	query := `
		SELECT counter, COALESCE(last_hash, ''), updated_at
		FROM zatca_chain_heads WHERE company_id = $1`
	err := r.q.QueryRow(ctx, query, companyID).Scan(&head.Counter, &head.LastHash, &head.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return head, nil
		}
		return head, fmt.Errorf("get chain head: %w", err)
	}
	return head, nil
}

// Advance compare-and-set: mueve la cabeza a next solo si el contador guardado sigue
// siendo expected. La primera factura del tenant crea la fila.
func (r *ChainRepo) Advance(ctx context.Context, expected int64, next entity.ChainHead) error {
	var (
		query string
		args  []any
	)
	if expected == 0 {
		query = `
			INSERT INTO zatca_chain_heads (company_id, counter, last_hash, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (company_id) DO UPDATE SET
				counter    = EXCLUDED.counter,
				last_hash  = EXCLUDED.last_hash,
				updated_at = EXCLUDED.updated_at
			WHERE zatca_chain_heads.counter = 0`
		args = []any{next.CompanyID, next.Counter, next.LastHash, next.UpdatedAt}
	} else {
		query = `
			UPDATE zatca_chain_heads
			SET counter = $3, last_hash = $4, updated_at = $5
			WHERE company_id = $1 AND counter = $2`
		args = []any{next.CompanyID, expected, next.Counter, next.LastHash, next.UpdatedAt}
	}

	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("advance chain head: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &zatca.ConcurrencyError{CompanyID: next.CompanyID, ExpectedCounter: expected}
	}
	return nil
}
