// Package dbx provides small database/sql helpers shared by the record store:
// the DBTX interface satisfied by both *sql.DB and *sql.Tx, a one-shot
// transaction runner, and Pending, a lazily opened transaction that collects
// mutations until an explicit commit.
package dbx

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is the subset of database/sql used by the store.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. Panics are rethrown.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}

// Pending keeps at most one open transaction. Writers call Writer to obtain
// it (beginning one on first use); readers call Reader so they observe
// uncommitted writes. Pending is not safe for concurrent use; the owner
// serializes access.
type Pending struct {
	db *sql.DB
	tx *sql.Tx
}

// NewPending wraps db.
func NewPending(db *sql.DB) *Pending {
	return &Pending{db: db}
}

// Writer returns the open transaction, beginning one if needed.
func (p *Pending) Writer(ctx context.Context) (DBTX, error) {
	if p.tx != nil {
		return p.tx, nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	p.tx = tx
	return tx, nil
}

// Reader returns the open transaction if there is one, otherwise the DB.
func (p *Pending) Reader() DBTX {
	if p.tx != nil {
		return p.tx
	}
	return p.db
}

// Dirty reports whether a transaction is open.
func (p *Pending) Dirty() bool {
	return p.tx != nil
}

// Commit commits the open transaction. With nothing pending it is a no-op.
func (p *Pending) Commit() error {
	if p.tx == nil {
		return nil
	}
	tx := p.tx
	p.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

