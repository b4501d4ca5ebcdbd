package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/spei-ledger/internal/domain/transaction"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateLogRepository_Append(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &StateLogRepository{querier: mock, logger: newTestLogger()}
	at := time.Date(2026, 4, 2, 16, 0, 0, 0, time.UTC)
	previous := transaction.StatusSent

	t.Run("with metadata", func(t *testing.T) {
		entry := transaction.NewStateLogEntry(uuid.New(), &previous, transaction.StatusScattered,
			transaction.ActorWebhook, transaction.SourceWebhook, map[string]any{"opm_order_id": "8812"}, at)

		mock.ExpectQuery(regexp.QuoteMeta(appendStateLogQuery)).
			WithArgs(entry.TransactionID, &previous, transaction.StatusScattered, "webhook", transaction.SourceWebhook,
				[]byte(`{"opm_order_id":"8812"}`), at).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))

		require.NoError(t, repo.Append(ctx, entry))
		assert.Equal(t, int64(9), entry.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("creation entry without metadata", func(t *testing.T) {
		entry := transaction.NewStateLogEntry(uuid.New(), nil, transaction.StatusPendingConfirmation,
			"user-17", transaction.SourceAPI, nil, at)

		mock.ExpectQuery(regexp.QuoteMeta(appendStateLogQuery)).
			WithArgs(entry.TransactionID, (*transaction.Status)(nil), transaction.StatusPendingConfirmation, "user-17",
				transaction.SourceAPI, []byte(nil), at).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(10)))

		require.NoError(t, repo.Append(ctx, entry))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure", func(t *testing.T) {
		entry := transaction.NewStateLogEntry(uuid.New(), nil, transaction.StatusPendingConfirmation,
			"user-17", transaction.SourceAPI, nil, at)
		dbErr := errors.New("foreign key violation")

		mock.ExpectQuery(regexp.QuoteMeta(appendStateLogQuery)).
			WithArgs(entry.TransactionID, (*transaction.Status)(nil), transaction.StatusPendingConfirmation, "user-17",
				transaction.SourceAPI, []byte(nil), at).
			WillReturnError(dbErr)

		err := repo.Append(ctx, entry)
		assert.ErrorIs(t, err, dbErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStateLogRepository_ListByTransaction(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := &StateLogRepository{querier: mock, logger: newTestLogger()}
	id := uuid.New()
	at := time.Date(2026, 4, 2, 16, 0, 0, 0, time.UTC)
	pendingConfirmation := transaction.StatusPendingConfirmation

	rows := pgxmock.NewRows([]string{"id", "transaction_id", "previous_status", "new_status", "actor", "source", "metadata", "created_at"}).
		AddRow(int64(1), id, (*transaction.Status)(nil), transaction.StatusPendingConfirmation, "user-17", transaction.SourceAPI, []byte(nil), at).
		AddRow(int64(2), id, &pendingConfirmation, transaction.StatusCanceled, "user-17", transaction.SourceAPI, []byte(`{"reason":"user request"}`), at.Add(5*time.Second))

	mock.ExpectQuery(regexp.QuoteMeta(listStateLogQuery)).WithArgs(id).WillReturnRows(rows)

	entries, err := repo.ListByTransaction(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Nil(t, entries[0].PreviousStatus)
	assert.Nil(t, entries[0].Metadata)
	assert.Equal(t, transaction.StatusPendingConfirmation, *entries[1].PreviousStatus)
	assert.Equal(t, "user request", entries[1].Metadata["reason"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
