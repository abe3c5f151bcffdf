package repository

import (
	"context"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/entity"
)

// ChainRepository define el puerto de la cabeza de la cadena de hashes por tenant.
type ChainRepository interface {
	// GetHead devuelve la cabeza actual; contador 0 si el tenant aún no encadenó facturas.
	GetHead(ctx context.Context, companyID string) (entity.ChainHead, error)
	// Advance mueve la cabeza solo si su contador sigue siendo expected (compare-and-set).
	// Devuelve *zatca.ConcurrencyError si otro escritor la movió.
	Advance(ctx context.Context, expected int64, next entity.ChainHead) error
}
