package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ariefcatur/marketplace-checkout/internal/store"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"

	defaultMaxAttempts = 3
)

// querier is the part of pgxpool.Pool and pgx.Tx the repositories use.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type txKey struct{}

type ambient struct {
	tx  pgx.Tx
	iso store.IsoLevel
}

// TxManager implements store.Transactor on a pgx pool. The open transaction
// travels in the context so repositories pick it up without being passed it.
type TxManager struct {
	Pool        *pgxpool.Pool
	MaxAttempts int
	Log         *zap.Logger
}

func NewTxManager(pool *pgxpool.Pool, maxAttempts int, log *zap.Logger) *TxManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &TxManager{Pool: pool, MaxAttempts: maxAttempts, Log: log}
}

func pgIso(l store.IsoLevel) pgx.TxIsoLevel {
	switch l {
	case store.Serializable:
		return pgx.Serializable
	case store.RepeatableRead:
		return pgx.RepeatableRead
	}
	return pgx.ReadCommitted
}

// Begin opens a transaction and returns a context carrying it.
func (m *TxManager) Begin(ctx context.Context, iso store.IsoLevel) (context.Context, pgx.Tx, error) {
	tx, err := m.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgIso(iso)})
	if err != nil {
		return ctx, nil, fmt.Errorf("begin %s: %w", iso, err)
	}
	return context.WithValue(ctx, txKey{}, &ambient{tx: tx, iso: iso}), tx, nil
}

func (m *TxManager) Commit(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback ignores the error of an already finished transaction.
func (m *TxManager) Rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		m.Log.Warn("rollback", zap.Error(err))
	}
}

// RunInTx runs fn in a transaction at iso. Inside an ambient transaction fn
// simply joins it. The outermost call retries serialization failures and
// deadlocks, so fn must be safe to run more than once.
func (m *TxManager) RunInTx(ctx context.Context, iso store.IsoLevel, fn func(ctx context.Context) error) error {
	if a, ok := ctx.Value(txKey{}).(*ambient); ok {
		if iso > a.iso {
			return fmt.Errorf("%w: have %s, want %s", store.ErrIsolationTooWeak, a.iso, iso)
		}
		return fn(ctx)
	}

	attempts := m.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = m.runOnce(ctx, iso, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		m.Log.Warn("transaction conflict, retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
		}
	}
	return err
}

func (m *TxManager) runOnce(ctx context.Context, iso store.IsoLevel, fn func(ctx context.Context) error) error {
	txCtx, tx, err := m.Begin(ctx, iso)
	if err != nil {
		return err
	}
	defer m.Rollback(ctx, tx)

	if err := fn(txCtx); err != nil {
		return err
	}
	return m.Commit(ctx, tx)
}

// conn returns the ambient transaction, or the pool outside one.
func (m *TxManager) conn(ctx context.Context) querier {
	if a, ok := ctx.Value(txKey{}).(*ambient); ok {
		return a.tx
	}
	return m.Pool
}

// IsRetryable reports whether err is a serialization failure or deadlock.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
	}
	return false
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation &&
		(constraint == "" || pgErr.ConstraintName == constraint)
}

var _ store.Transactor = (*TxManager)(nil)
