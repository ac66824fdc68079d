package database

import (
	"context"
	"database/sql"
)

// Querier is the statement surface shared by the pool and an open
// transaction. Repositories run against whichever the context supplies.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// QuerierFrom returns the transaction open on the context, or db when the
// caller did not open one. Lets a repository method participate in a
// service-owned transaction without owning its lifecycle.
func QuerierFrom(ctx context.Context, db DB) Querier {
	tx, ok := ctx.Value(txKey).(Tx)
	if ok && tx != nil && tx.IsOpen() {
		if status, ok := ctx.Value(txStatusKey).(string); ok && status == "open" {
			return tx
		}
	}
	return db
}
