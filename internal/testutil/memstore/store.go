// Package memstore is an in-process implementation of every repository and of
// persistence.LockingTransactor, for service and scenario tests that need the real
// store semantics (conditional status writes, idempotency keys, rollback)
// without a database.
//
// Transactions are serialized: ExecuteTx holds a store-wide lock for the
// duration of fn and restores a snapshot when fn fails.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/spei-ledger/internal/domain/account"
	"github.com/spei-ledger/internal/domain/outbox"
	"github.com/spei-ledger/internal/domain/reconciliation"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/spei-ledger/internal/domain/webhook"
	"github.com/spei-ledger/internal/platform/persistence"
)

var _ persistence.LockingTransactor = (*Store)(nil)

// memTx is handed to transaction callbacks. Repositories ignore it.
type memTx struct {
	pgx.Tx
}

type state struct {
	transactions map[uuid.UUID]transaction.Transaction
	stateLog     []transaction.StateLogEntry
	webhooks     []webhook.Record
	accounts     map[uuid.UUID]account.ClabeAccount
	outbox       []outbox.Message
	reports      map[uuid.UUID]reconciliation.Summary
	nextID       int64
}

func newState() *state {
	return &state{
		transactions: make(map[uuid.UUID]transaction.Transaction),
		accounts:     make(map[uuid.UUID]account.ClabeAccount),
		reports:      make(map[uuid.UUID]reconciliation.Summary),
	}
}

func (s *state) clone() *state {
	c := &state{
		transactions: make(map[uuid.UUID]transaction.Transaction, len(s.transactions)),
		stateLog:     append([]transaction.StateLogEntry(nil), s.stateLog...),
		webhooks:     append([]webhook.Record(nil), s.webhooks...),
		accounts:     make(map[uuid.UUID]account.ClabeAccount, len(s.accounts)),
		outbox:       append([]outbox.Message(nil), s.outbox...),
		reports:      make(map[uuid.UUID]reconciliation.Summary, len(s.reports)),
		nextID:       s.nextID,
	}
	for k, v := range s.transactions {
		c.transactions[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.reports {
		c.reports[k] = v
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store holds all ledger state in memory.
type Store struct {
	txMu sync.Mutex // serializes ExecuteTx
	mu   sync.Mutex // guards st
	st   *state

	locksMu sync.Mutex
	locks   map[int64]bool

	// FailNextCommit, when set, makes the next ExecuteTx roll back with this error
	// after fn succeeds.
	FailNextCommit error
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// TryLock takes key unless it is already held. Locks are not part of the
// snapshot, so a rolled back transaction keeps them.
func (s *Store) TryLock(ctx context.Context, key int64) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if s.locks == nil {
		s.locks = make(map[int64]bool)
	}
	if s.locks[key] {
		return nil, false, nil
	}
	s.locks[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			s.locksMu.Lock()
			delete(s.locks, key)
			s.locksMu.Unlock()
		})
	}, true, nil
}

// ExecuteTx runs fn atomically with respect to other ExecuteTx calls.
func (s *Store) ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	rollback := func() {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
	}

	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
	}()

	if err := fn(&memTx{}); err != nil {
		rollback()
		return err
	}

	if s.FailNextCommit != nil {
		commitErr := s.FailNextCommit
		s.FailNextCommit = nil
		rollback()
		return fmt.Errorf("failed to commit transaction: %w", commitErr)
	}
	return nil
}

func (s *Store) Transactions() transaction.Repository { return &transactionRepo{s: s} }

func (s *Store) StateLog() transaction.StateLogRepository { return &stateLogRepo{s: s} }

func (s *Store) Webhooks() webhook.Repository { return &webhookRepo{s: s} }

func (s *Store) Accounts() account.Repository { return &accountRepo{s: s} }

func (s *Store) Outbox() outbox.Repository { return &outboxRepo{s: s} }

func (s *Store) Reports() reconciliation.Repository { return &reportRepo{s: s} }

// TransactionCount returns the number of stored transactions.
func (s *Store) TransactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.transactions)
}

// WebhookRecords returns every processed webhook record in insertion order.
func (s *Store) WebhookRecords() []webhook.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webhook.Record(nil), s.st.webhooks...)
}

// OutboxMessages returns every outbox message in insertion order.
func (s *Store) OutboxMessages() []outbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Message(nil), s.st.outbox...)
}

// StateLogEntries returns the audit trail of one transaction.
func (s *Store) StateLogEntries(id uuid.UUID) []transaction.StateLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []transaction.StateLogEntry
	for _, e := range s.st.stateLog {
		if e.TransactionID == id {
			entries = append(entries, e)
		}
	}
	return entries
}
