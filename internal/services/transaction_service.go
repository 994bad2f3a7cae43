package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/coastbank/backend/internal/events"
	"github.com/coastbank/backend/internal/models"
)

// TransactionService authorizes single credits and debits against one
// account and records every outcome, approved or declined.
//
// The single most important contract here: a business decline is
// committed, a systemic failure is rolled back. A debit refused for
// insufficient funds persists a declined transaction and returns a
// declined outcome with a nil error. Only store-level failures (lock
// timeout, connectivity, constraint violations) return errors, and
// those leave nothing behind.
type TransactionService struct {
	db        *sql.DB
	ledger    *LedgerService
	publisher events.Publisher
	validator *ValidationHelper
}

// CreateTransactionRequest is the authorize-transaction payload.
type CreateTransactionRequest struct {
	Type        string `json:"type" validate:"required,oneof=credit debit"`
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Description string `json:"description" validate:"max=255"`
	CardID      string `json:"card_id,omitempty" validate:"omitempty,uuid"`
}

func NewTransactionService(db *sql.DB, ledger *LedgerService, publisher events.Publisher) *TransactionService {
	return &TransactionService{
		db:        db,
		ledger:    ledger,
		publisher: publisher,
		validator: NewValidationHelper(),
	}
}

// Authorize decides a single credit or debit and records the outcome.
//
// The account row is locked for the whole decision so the balance read
// and the ledger append are one serialized step. For a debit that
// exceeds the computed balance the declined row is committed — the
// audit record survives even though the caller sees a refusal.
func (ts *TransactionService) Authorize(
	ctx context.Context,
	holderID uuid.UUID,
	accountID uuid.UUID,
	txnType string,
	amountCents int64,
	description string,
	cardID uuid.NullUUID,
) (*models.TransactionOutcome, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if txnType != models.TransactionTypeCredit && txnType != models.TransactionTypeDebit {
		return nil, ErrInvalidAmount
	}
	// Cards are debit instruments. Rejected before any store work.
	if cardID.Valid && txnType == models.TransactionTypeCredit {
		return nil, ErrCardOnCredit
	}

	tx, err := ts.ledger.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	defer tx.Rollback()

	account, err := ts.ledger.lockAccount(tx, accountID)
	if err != nil {
		return nil, err
	}
	if account.AccountHolderID != holderID {
		return nil, ErrUnauthorizedAccess
	}

	if cardID.Valid {
		if err := ts.validateCard(tx, cardID.UUID, accountID); err != nil {
			return nil, err
		}
	}

	balance, err := ts.ledger.ComputeBalanceTx(tx, accountID)
	if err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		ID:          uuid.New(),
		Type:        txnType,
		AmountCents: amountCents,
		Description: description,
		CardID:      cardID,
		CreatedAt:   time.Now().UTC(),
	}

	if txnType == models.TransactionTypeDebit {
		txn.FromAccountID = uuid.NullUUID{UUID: accountID, Valid: true}

		if amountCents > balance {
			txn.Status = models.StatusDeclined
			if err := ts.ledger.insertTransaction(tx, txn); err != nil {
				return nil, err
			}
			// Commit-on-decline: the declined row is part of the
			// permanent audit trail.
			if err := tx.Commit(); err != nil {
				return nil, classifyStoreError(err)
			}
			log.Printf("[LEDGER] Declined debit of %d cents on account %s (balance %d)", amountCents, accountID, balance)
			ts.publishOutcome(ctx, "ledger.transaction.declined", txn)
			return &models.TransactionOutcome{Approved: false, Transaction: txn}, nil
		}

		balance -= amountCents
	} else {
		txn.ToAccountID = uuid.NullUUID{UUID: accountID, Valid: true}
		balance += amountCents
	}

	txn.Status = models.StatusApproved
	if err := ts.ledger.insertTransaction(tx, txn); err != nil {
		return nil, err
	}
	if err := ts.ledger.updateCachedBalance(tx, accountID, balance); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, classifyStoreError(err)
	}

	log.Printf("[LEDGER] Approved %s of %d cents on account %s", txnType, amountCents, accountID)
	ts.publishOutcome(ctx, "ledger.transaction.approved", txn)
	return &models.TransactionOutcome{Approved: true, Transaction: txn}, nil
}

// validateCard checks the card exists, belongs to the debited account
// and is active. Card misuse is a validation error, never a decline.
func (ts *TransactionService) validateCard(tx *sql.Tx, cardID, accountID uuid.UUID) error {
	var ownerAccountID uuid.UUID
	var isActive bool
	err := tx.QueryRow(`SELECT account_id, is_active FROM cards WHERE id = $1`, cardID).
		Scan(&ownerAccountID, &isActive)
	if err == sql.ErrNoRows {
		return ErrCardNotFound
	}
	if err != nil {
		return classifyStoreError(err)
	}
	if ownerAccountID != accountID {
		return ErrCardWrongAccount
	}
	if !isActive {
		return ErrCardInactive
	}
	return nil
}

func (ts *TransactionService) publishOutcome(ctx context.Context, routingKey string, txn *models.Transaction) {
	if ts.publisher == nil {
		return
	}
	if err := ts.publisher.Publish(ctx, routingKey, txn); err != nil {
		log.Printf("[LEDGER] Failed to publish %s event for transaction %s: %v", routingKey, txn.ID, err)
	}
}

const transactionColumns = `id, type, amount_cents, from_account_id, to_account_id, status, description, transfer_pair_id, card_id, created_at`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.Type, &t.AmountCents, &t.FromAccountID, &t.ToAccountID,
		&t.Status, &t.Description, &t.TransferPairID, &t.CardID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// fetchAccountTransactions lists transactions where the account is
// either leg, newest first, with optional status/type filters.
func (ts *TransactionService) fetchAccountTransactions(ctx context.Context, accountID uuid.UUID, statusFilter, typeFilter string, limit, offset int) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE (from_account_id = $1 OR to_account_id = $1)`
	args := []any{accountID}

	if statusFilter != "" {
		args = append(args, statusFilter)
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if typeFilter != "" {
		args = append(args, typeFilter)
		query += ` AND type = $` + strconv.Itoa(len(args))
	}
	args = append(args, limit, offset)
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := ts.db.QueryContext(ctx, query, args...)
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
	return transactions, rows.Err()
}

// CreateTransaction authorizes a credit or debit on an account
// @Summary Authorize a transaction
// @Description Authorize a single credit or debit. Insufficient funds yield a committed declined outcome, not an error.
// @Tags transactions
// @Accept json
// @Produce json
// @Param accountId path string true "Account ID"
// @Param request body CreateTransactionRequest true "Transaction request"
// @Success 201 {object} models.TransactionOutcome
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/transactions [post]
func (ts *TransactionService) CreateTransaction(w http.ResponseWriter, r *http.Request) {
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

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreateTransactionRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var cardID uuid.NullUUID
	if req.CardID != "" {
		id, err := uuid.Parse(req.CardID)
		if err != nil {
			SendErrorResponse(w, "Invalid card ID", http.StatusBadRequest, nil)
			return
		}
		cardID = uuid.NullUUID{UUID: id, Valid: true}
	}

	outcome, err := ts.Authorize(r.Context(), holderID, accountID, req.Type, req.AmountCents, req.Description, cardID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(outcome)
}

// ListTransactions lists an account's transactions
// @Summary List account transactions
// @Description List transactions touching an account, newest first. Declined entries are included.
// @Tags transactions
// @Produce json
// @Param accountId path string true "Account ID"
// @Param status query string false "Filter by status (approved|declined|pending)"
// @Param type query string false "Filter by type (credit|debit)"
// @Param limit query int false "Max results (default 50)"
// @Param offset query int false "Results to skip"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/transactions [get]
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
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

	if _, err := getOwnedAccount(r.Context(), ts.db, accountID, holderID); err != nil {
		writeDomainError(w, err)
		return
	}

	statusFilter := r.URL.Query().Get("status")
	typeFilter := r.URL.Query().Get("type")
	limit := parseIntQuery(r, "limit", 50, 1, 500)
	offset := parseIntQuery(r, "offset", 0, 0, 1<<30)

	transactions, err := ts.fetchAccountTransactions(r.Context(), accountID, statusFilter, typeFilter, limit, offset)
	if err != nil {
		log.Printf("[LEDGER] Failed to list transactions for account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// GetTransaction fetches one transaction scoped to an account
// @Summary Get transaction by ID
// @Tags transactions
// @Produce json
// @Param accountId path string true "Account ID"
// @Param txnId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/transactions/{txnId} [get]
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
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
	txnID, err := uuid.Parse(chi.URLParam(r, "txnId"))
	if err != nil {
		SendErrorResponse(w, "Invalid transaction ID", http.StatusBadRequest, nil)
		return
	}

	if _, err := getOwnedAccount(r.Context(), ts.db, accountID, holderID); err != nil {
		writeDomainError(w, err)
		return
	}

	row := ts.db.QueryRowContext(r.Context(), `SELECT `+transactionColumns+` FROM transactions
		WHERE id = $1 AND (from_account_id = $2 OR to_account_id = $2)`, txnID, accountID)
	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txn)
}

// AdminListTransactions lists every transaction in the system
// @Summary [Admin] List all transactions
// @Description Read-only, unscoped audit view over the full ledger.
// @Tags admin
// @Produce json
// @Param status query string false "Filter by status"
// @Param type query string false "Filter by type"
// @Param limit query int false "Max results (default 50)"
// @Param offset query int false "Results to skip"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Router /admin/transactions [get]
func (ts *TransactionService) AdminListTransactions(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	typeFilter := r.URL.Query().Get("type")
	limit := parseIntQuery(r, "limit", 50, 1, 500)
	offset := parseIntQuery(r, "offset", 0, 0, 1<<30)

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1=1`
	args := []any{}
	if statusFilter != "" {
		args = append(args, statusFilter)
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if typeFilter != "" {
		args = append(args, typeFilter)
		query += ` AND type = $` + strconv.Itoa(len(args))
	}
	args = append(args, limit, offset)
	query += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := ts.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	transactions := []*models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
			return
		}
		transactions = append(transactions, t)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// AdminGetTransaction fetches any transaction without ownership scoping
// @Summary [Admin] Get any transaction
// @Tags admin
// @Produce json
// @Param txnId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /admin/transactions/{txnId} [get]
func (ts *TransactionService) AdminGetTransaction(w http.ResponseWriter, r *http.Request) {
	txnID, err := uuid.Parse(chi.URLParam(r, "txnId"))
	if err != nil {
		SendErrorResponse(w, "Invalid transaction ID", http.StatusBadRequest, nil)
		return
	}

	row := ts.db.QueryRowContext(r.Context(), `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, txnID)
	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txn)
}

// AdminListAccountTransactions lists any account's transactions
// @Summary [Admin] List transactions for any account
// @Tags admin
// @Produce json
// @Param accountId path string true "Account ID"
// @Param limit query int false "Max results (default 50)"
// @Param offset query int false "Results to skip"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 404 {object} ErrorResponse
// @Router /admin/accounts/{accountId}/transactions [get]
func (ts *TransactionService) AdminListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "accountId"))
	if err != nil {
		SendErrorResponse(w, "Invalid account ID", http.StatusBadRequest, nil)
		return
	}

	var exists bool
	if err := ts.db.QueryRowContext(r.Context(), `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil || !exists {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	limit := parseIntQuery(r, "limit", 50, 1, 500)
	offset := parseIntQuery(r, "offset", 0, 0, 1<<30)

	transactions, err := ts.fetchAccountTransactions(r.Context(), accountID, "", "", limit, offset)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

func parseIntQuery(r *http.Request, key string, def, min, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return def
	}
	return v
}

// writeDomainError maps service-layer errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrTransactionNotFound),
		errors.Is(err, ErrCardNotFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, ErrUnauthorizedAccess):
		SendErrorResponse(w, err.Error(), http.StatusForbidden, nil)
	case errors.Is(err, ErrLockTimeout):
		SendErrorResponse(w, err.Error(), http.StatusServiceUnavailable, nil)
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSameAccountTransfer),
		errors.Is(err, ErrCardOnCredit),
		errors.Is(err, ErrCardWrongAccount),
		errors.Is(err, ErrCardInactive),
		errors.Is(err, ErrInvalidMonth),
		errors.Is(err, ErrInvalidYear):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, ErrDuplicateCard):
		SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	default:
		log.Printf("[LEDGER] Unexpected error: %v", err)
		SendErrorResponse(w, "An internal error occurred", http.StatusInternalServerError, nil)
	}
}
