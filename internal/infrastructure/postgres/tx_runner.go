package postgres

import (
	"context"
	"fmt"

	"github.com/jhoicas/zatca-einvoicing/internal/domain/repository"
)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	db Beginner
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(db Beginner) *TxRunner {
	return &TxRunner{db: db}
}

// RunChain inicia una transacción con los repos de facturas ZATCA y cadena de hashes,
// ejecuta fn y hace Commit o Rollback. Persistir el estado hashed y avanzar la cabeza
// de la cadena ocurren juntos o no ocurren.
func (r *TxRunner) RunChain(ctx context.Context, fn func(
	invoices repository.ZatcaInvoiceRepository,
	chain repository.ChainRepository,
) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	invoiceRepo := NewZatcaInvoiceRepository(tx)
	chainRepo := NewChainRepository(tx)

	if err := fn(invoiceRepo, chainRepo); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
