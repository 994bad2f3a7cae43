package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/coastbank/backend/internal/models"
)

// StatementService derives monthly statements from the transaction
// log. Nothing is persisted: the opening balance is recomputed from
// history every time, so a statement can never disagree with the
// ledger.
type StatementService struct {
	db     *sql.DB
	ledger *LedgerService
}

func NewStatementService(db *sql.DB, ledger *LedgerService) *StatementService {
	return &StatementService{db: db, ledger: ledger}
}

// GenerateStatement builds the statement for (account, year, month).
//
// Opening balance sums approved transactions strictly before the first
// instant of the month. The period list carries every transaction,
// declined included, in chronological order; the credit/debit totals
// count approved rows only. Closing = opening + credits - debits.
func (s *StatementService) GenerateStatement(
	ctx context.Context,
	holderID uuid.UUID,
	accountID uuid.UUID,
	year int,
	month int,
) (*models.Statement, error) {
	if month < 1 || month > 12 {
		return nil, ErrInvalidMonth
	}
	if year < 2000 || year > 2100 {
		return nil, ErrInvalidYear
	}

	if _, err := getOwnedAccount(ctx, s.db, accountID, holderID); err != nil {
		return nil, err
	}

	monthStart := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	var preCredits int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM transactions
		WHERE to_account_id = $1 AND status = 'approved' AND created_at < $2`,
		accountID, monthStart).Scan(&preCredits)
	if err != nil {
		return nil, classifyStoreError(err)
	}

	var preDebits int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM transactions
		WHERE from_account_id = $1 AND status = 'approved' AND created_at < $2`,
		accountID, monthStart).Scan(&preDebits)
	if err != nil {
		return nil, classifyStoreError(err)
	}

	openingBalance := preCredits - preDebits

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE (from_account_id = $1 OR to_account_id = $1)
		  AND created_at >= $2 AND created_at < $3
		ORDER BY created_at ASC`,
		accountID, monthStart, monthEnd)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	defer rows.Close()

	transactions := []*models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var totalCredits, totalDebits int64
	for _, t := range transactions {
		if t.Status != models.StatusApproved {
			continue
		}
		if t.ToAccountID.Valid && t.ToAccountID.UUID == accountID {
			totalCredits += t.AmountCents
		}
		if t.FromAccountID.Valid && t.FromAccountID.UUID == accountID {
			totalDebits += t.AmountCents
		}
	}

	return &models.Statement{
		AccountID:           accountID,
		Year:                year,
		Month:               month,
		OpeningBalanceCents: openingBalance,
		ClosingBalanceCents: openingBalance + totalCredits - totalDebits,
		TotalCreditsCents:   totalCredits,
		TotalDebitsCents:    totalDebits,
		TransactionCount:    len(transactions),
		Transactions:        transactions,
	}, nil
}

// GetStatement returns a monthly statement
// @Summary Get monthly account statement
// @Description Opening/closing balances and approved totals for the month, plus every transaction (declined included) in chronological order.
// @Tags statements
// @Produce json
// @Param accountId path string true "Account ID"
// @Param year query int true "Statement year"
// @Param month query int true "Statement month (1-12)"
// @Success 200 {object} models.Statement
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/statements [get]
func (s *StatementService) GetStatement(w http.ResponseWriter, r *http.Request) {
	holderID, ok := holderFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "accountId"))
	if err != nil {
		SendErrorResponse(w, "Invalid account ID", http.StatusBadRequest, nil)
		return
	}

	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		SendErrorResponse(w, "Missing or invalid year", http.StatusBadRequest, nil)
		return
	}
	month, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil {
		SendErrorResponse(w, "Missing or invalid month", http.StatusBadRequest, nil)
		return
	}

	statement, err := s.GenerateStatement(r.Context(), holderID, accountID, year, month)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	log.Printf("[STATEMENT] Generated %d-%02d statement for account %s (%d transactions)",
		year, month, accountID, statement.TransactionCount)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statement)
}
