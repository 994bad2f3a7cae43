package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/coastbank/backend/internal/models"
)

const accountColumns = `id, account_holder_id, account_type, account_number, cached_balance_cents, currency, is_active, created_at, updated_at`

// LedgerService owns the low-level ledger discipline: units of work
// with bounded lock waits, exclusive row locks acquired in a total
// order, balance computation from the append-only transaction log,
// and the cached-balance write that only happens under the row lock.
//
// Higher-level services (authorizer, transfer coordinator, statement
// aggregator) compose these primitives; nothing else in the codebase
// is allowed to write cached_balance_cents.
type LedgerService struct {
	db          *sql.DB
	lockTimeout time.Duration
}

func NewLedgerService(db *sql.DB) *LedgerService {
	viper.SetDefault("ledger.lock_timeout", 3*time.Second)
	return &LedgerService{
		db:          db,
		lockTimeout: viper.GetDuration("ledger.lock_timeout"),
	}
}

// Begin opens a unit of work with a bounded lock wait. A lock that
// cannot be acquired within the bound fails the whole unit of work
// with ErrLockTimeout — it never partially applies.
func (s *LedgerService) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	// SET LOCAL does not accept bind parameters; the value comes from
	// config, never from a request.
	if _, err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		tx.Rollback()
		return nil, err
	}
	return tx, nil
}

// lockAccount acquires the exclusive row lock for one account and
// returns its current state.
func (s *LedgerService) lockAccount(tx *sql.Tx, accountID uuid.UUID) (*models.Account, error) {
	row := tx.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, accountID)

	var a models.Account
	err := row.Scan(&a.ID, &a.AccountHolderID, &a.AccountType, &a.AccountNumber,
		&a.CachedBalanceCents, &a.Currency, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, accountNotFound(accountID)
	}
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return &a, nil
}

// LockAccounts locks any number of accounts in ascending UUID order.
// Every code path that locks more than one account must go through
// here: the total order is what makes concurrent transfers over
// overlapping account pairs deadlock-free.
func (s *LedgerService) LockAccounts(tx *sql.Tx, accountIDs ...uuid.UUID) (map[uuid.UUID]*models.Account, error) {
	ordered := make([]uuid.UUID, len(accountIDs))
	copy(ordered, accountIDs)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].String() < ordered[j].String()
	})

	accounts := make(map[uuid.UUID]*models.Account, len(ordered))
	for _, id := range ordered {
		account, err := s.lockAccount(tx, id)
		if err != nil {
			return nil, err
		}
		accounts[id] = account
	}
	return accounts, nil
}

// ComputeBalanceTx folds the account's approved transaction history:
// credits into the account add, debits out of it subtract. Declined
// rows contribute nothing. Runs inside the caller's unit of work so
// the read is consistent with the locks the caller holds.
func (s *LedgerService) ComputeBalanceTx(tx *sql.Tx, accountID uuid.UUID) (int64, error) {
	var credits int64
	err := tx.QueryRow(`
		SELECT COALESCE(SUM(amount_cents), 0) FROM transactions
		WHERE to_account_id = $1 AND type = 'credit' AND status = 'approved'`,
		accountID).Scan(&credits)
	if err != nil {
		return 0, classifyStoreError(err)
	}

	var debits int64
	err = tx.QueryRow(`
		SELECT COALESCE(SUM(amount_cents), 0) FROM transactions
		WHERE from_account_id = $1 AND type = 'debit' AND status = 'approved'`,
		accountID).Scan(&debits)
	if err != nil {
		return 0, classifyStoreError(err)
	}

	return credits - debits, nil
}

// CheckIntegrity compares the cached balance against the balance
// computed from the transaction log. Read-only; a mismatch is a
// diagnostic signal for operators, not an error.
func (s *LedgerService) CheckIntegrity(ctx context.Context, account *models.Account) (*models.BalanceCheck, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	computed, err := s.ComputeBalanceTx(tx, account.ID)
	if err != nil {
		return nil, err
	}

	return &models.BalanceCheck{
		AccountID:            account.ID,
		CachedBalanceCents:   account.CachedBalanceCents,
		ComputedBalanceCents: computed,
		Match:                account.CachedBalanceCents == computed,
		Currency:             account.Currency,
	}, nil
}

// updateCachedBalance refreshes the advisory cache. Callers must hold
// the account's row lock.
func (s *LedgerService) updateCachedBalance(tx *sql.Tx, accountID uuid.UUID, balanceCents int64) error {
	result, err := tx.Exec(`UPDATE accounts SET cached_balance_cents = $1, updated_at = $2 WHERE id = $3`,
		balanceCents, time.Now().UTC(), accountID)
	if err != nil {
		return classifyStoreError(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return accountNotFound(accountID)
	}
	return nil
}

// insertTransaction appends one immutable row to the ledger. There is
// no update or delete counterpart on purpose.
func (s *LedgerService) insertTransaction(tx *sql.Tx, txn *models.Transaction) error {
	_, err := tx.Exec(`
		INSERT INTO transactions (id, type, amount_cents, from_account_id, to_account_id, status, description, transfer_pair_id, card_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		txn.ID, txn.Type, txn.AmountCents, txn.FromAccountID, txn.ToAccountID,
		txn.Status, txn.Description, txn.TransferPairID, txn.CardID, txn.CreatedAt)
	return classifyStoreError(err)
}
