package persistence

import (
	"context"
	"fmt"
)

// Locker takes locks that are shared by every process on the same database
// and outlive a single transaction.
type Locker interface {
	// TryLock returns acquired=false without blocking when another holder
	// owns key. unlock must be called once when acquired is true.
	TryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// LockingTransactor is a database that offers both transactions and locks.
type LockingTransactor interface {
	Transactor
	Locker
}

var _ LockingTransactor = (*PostgresDB)(nil)

// TryLock takes a session-level advisory lock on a dedicated pool connection.
// The connection stays checked out until unlock.
func (db *PostgresDB) TryLock(ctx context.Context, key int64) (func(), bool, error) {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection for advisory lock: %w", err)
	}

	acquired, err := tryAdvisoryLock(ctx, conn, key)
	if err != nil || !acquired {
		conn.Release()
		return nil, false, err
	}

	unlock := func() {
		if err := advisoryUnlock(context.Background(), conn, key); err != nil {
			db.logger.Error("Failed to release advisory lock, closing connection", "key", key, "error", err)
			// Closing the session drops every lock it holds.
			_ = conn.Conn().Close(context.Background())
		}
		conn.Release()
	}
	return unlock, true, nil
}

func tryAdvisoryLock(ctx context.Context, q Querier, key int64) (bool, error) {
	var acquired bool
	if err := q.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		return false, fmt.Errorf("failed to take advisory lock %d: %w", key, err)
	}
	return acquired, nil
}

func advisoryUnlock(ctx context.Context, q Querier, key int64) error {
	var released bool
	if err := q.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&released); err != nil {
		return fmt.Errorf("failed to release advisory lock %d: %w", key, err)
	}
	if !released {
		return fmt.Errorf("advisory lock %d was not held", key)
	}
	return nil
}
