package services

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/coastbank/backend/internal/events"
	"github.com/coastbank/backend/internal/models"
)

func TestTransferService_Transfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewLedgerService(db)
	service := NewTransferService(db, ledger, events.NopPublisher{})

	holderID := uuid.New()

	// Fixed IDs so the lock order is deterministic: source sorts after
	// destination, forcing the destination lock first.
	source := testAccount(holderID, 10000)
	source.ID = uuid.MustParse("99999999-9999-9999-9999-999999999999")
	dest := testAccount(uuid.New(), 0)
	dest.ID = uuid.MustParse("11111111-1111-1111-1111-111111111111")

	t.Run("approved transfer writes both legs atomically", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE id = \$1 FOR UPDATE`).
			WithArgs(dest.ID).
			WillReturnRows(accountRows(dest))
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE id = \$1 FOR UPDATE`).
			WithArgs(source.ID).
			WillReturnRows(accountRows(source))
		mock.ExpectQuery(`WHERE to_account_id = \$1 AND type = 'credit' AND status = 'approved'`).
			WithArgs(source.ID).
			WillReturnRows(sumRows(10000))
		mock.ExpectQuery(`WHERE from_account_id = \$1 AND type = 'debit' AND status = 'approved'`).
			WithArgs(source.ID).
			WillReturnRows(sumRows(0))
		mock.ExpectQuery(`WHERE to_account_id = \$1 AND type = 'credit' AND status = 'approved'`).
			WithArgs(dest.ID).
			WillReturnRows(sumRows(500))
		mock.ExpectQuery(`WHERE from_account_id = \$1 AND type = 'debit' AND status = 'approved'`).
			WithArgs(dest.ID).
			WillReturnRows(sumRows(500))
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE accounts SET cached_balance_cents = \$1`).
			WithArgs(int64(7000), sqlmock.AnyArg(), source.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE accounts SET cached_balance_cents = \$1`).
			WithArgs(int64(3000), sqlmock.AnyArg(), dest.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		outcome, err := service.Transfer(context.Background(), holderID, source.ID, dest.ID, 3000, "dinner split")
		assert.NoError(t, err)
		assert.True(t, outcome.Approved)
		assert.NotNil(t, outcome.Debit)
		assert.NotNil(t, outcome.Credit)

		// Both legs share the pair id and the timestamp; each leg is
		// scoped to its own account.
		assert.Equal(t, outcome.TransferPairID, outcome.Debit.TransferPairID.UUID)
		assert.Equal(t, outcome.TransferPairID, outcome.Credit.TransferPairID.UUID)
		assert.Equal(t, outcome.Debit.CreatedAt, outcome.Credit.CreatedAt)
		assert.Equal(t, source.ID, outcome.Debit.FromAccountID.UUID)
		assert.False(t, outcome.Debit.ToAccountID.Valid)
		assert.Equal(t, dest.ID, outcome.Credit.ToAccountID.UUID)
		assert.False(t, outcome.Credit.FromAccountID.Valid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds commits one declined debit and no credit leg", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE id = \$1 FOR UPDATE`).
			WithArgs(dest.ID).
			WillReturnRows(accountRows(dest))
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE id = \$1 FOR UPDATE`).
			WithArgs(source.ID).
			WillReturnRows(accountRows(source))
		mock.ExpectQuery(`WHERE to_account_id = \$1 AND type = 'credit' AND status = 'approved'`).
			WithArgs(source.ID).
			WillReturnRows(sumRows(100))
		mock.ExpectQuery(`WHERE from_account_id = \$1 AND type = 'debit' AND status = 'approved'`).
			WithArgs(source.ID).
			WillReturnRows(sumRows(0))
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), models.TransactionTypeDebit, int64(3000),
				source.ID, nil, models.StatusDeclined, "dinner split", sqlmock.AnyArg(), nil, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		outcome, err := service.Transfer(context.Background(), holderID, source.ID, dest.ID, 3000, "dinner split")
		assert.NoError(t, err)
		assert.False(t, outcome.Approved)
		assert.Equal(t, models.StatusDeclined, outcome.Debit.Status)
		assert.Nil(t, outcome.Credit)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("same account transfer is rejected before any store work", func(t *testing.T) {
		_, err := service.Transfer(context.Background(), holderID, source.ID, source.ID, 100, "")
		assert.ErrorIs(t, err, ErrSameAccountTransfer)
	})

	t.Run("non-positive amount is rejected before any store work", func(t *testing.T) {
		_, err := service.Transfer(context.Background(), holderID, source.ID, dest.ID, -5, "")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("missing destination rolls everything back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE id = \$1 FOR UPDATE`).
			WithArgs(dest.ID).
			WillReturnRows(sqlmock.NewRows(accountTestColumns))
		mock.ExpectRollback()

		_, err := service.Transfer(context.Background(), holderID, source.ID, dest.ID, 100, "")
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("caller must own the source account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE id = \$1 FOR UPDATE`).
			WithArgs(dest.ID).
			WillReturnRows(accountRows(dest))
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE id = \$1 FOR UPDATE`).
			WithArgs(source.ID).
			WillReturnRows(accountRows(source))
		mock.ExpectRollback()

		_, err := service.Transfer(context.Background(), uuid.New(), source.ID, dest.ID, 100, "")
		assert.ErrorIs(t, err, ErrUnauthorizedAccess)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransferService_CreateTransfer(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewLedgerService(db)
	service := NewTransferService(db, ledger, events.NopPublisher{})

	t.Run("missing identity", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/transfers", bytes.NewBufferString("{}"))
		w := httptest.NewRecorder()

		service.CreateTransfer(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("same account rejected", func(t *testing.T) {
		accountID := uuid.New().String()
		body, _ := json.Marshal(TransferRequest{
			FromAccountID: accountID,
			ToAccountID:   accountID,
			AmountCents:   100,
		})
		r := httptest.NewRequest("POST", "/transfers", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.CreateTransfer(w, authedRequest(r, uuid.New()))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/transfers", bytes.NewBufferString(`{"amount":"100"}`))
		w := httptest.NewRecorder()

		service.CreateTransfer(w, authedRequest(r, uuid.New()))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
