package repository

import "context"

// Tx is an opaque transaction handle. Its concrete type is defined by the
// storage backend (pgx.Tx for Postgres, *sql.Tx for SQLite).
type Tx interface{}

var NoTX Tx

// TransactionManager runs fn inside one database transaction. The handle is
// passed to fn and must be forwarded to every repository call that should
// take part in the transaction. Repositories accept a nil Tx and then run
// outside any transaction.
//
//	tm.WithTx(ctx, func(ctx context.Context, tx Tx) error {
//		if err := messages.Save(ctx, tx, msg); err != nil {
//			return err
//		}
//		return jobs.Enqueue(ctx, tx, job)
//	})
//
// If fn returns an error the transaction is rolled back.
type TransactionManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
