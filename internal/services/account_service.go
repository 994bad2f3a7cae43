package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/coastbank/backend/internal/events"
	"github.com/coastbank/backend/internal/models"
)

// AccountService handles account lifecycle and ownership-scoped reads.
// Every member-facing query is scoped by the authenticated holder id;
// the unscoped Admin* variants are wired behind the admin-only
// middleware and never mutate anything.
type AccountService struct {
	db        *sql.DB
	ledger    *LedgerService
	publisher events.Publisher
	validator *ValidationHelper
}

// CreateAccountRequest is the open-account payload.
type CreateAccountRequest struct {
	AccountType string `json:"account_type" validate:"required,oneof=checking savings"`
}

func NewAccountService(db *sql.DB, ledger *LedgerService, publisher events.Publisher) *AccountService {
	return &AccountService{
		db:        db,
		ledger:    ledger,
		publisher: publisher,
		validator: NewValidationHelper(),
	}
}

// holderFromContext pulls the authenticated account holder id placed
// in the request context by the auth middleware.
func holderFromContext(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value("accountHolderID").(uuid.UUID)
	return id, ok
}

// getOwnedAccount fetches an account and verifies the holder owns it.
// Shared by every member-facing service that needs an ownership check
// without taking the row lock.
func getOwnedAccount(ctx context.Context, db *sql.DB, accountID, holderID uuid.UUID) (*models.Account, error) {
	account, err := fetchAccount(ctx, db, accountID)
	if err != nil {
		return nil, err
	}
	if account.AccountHolderID != holderID {
		return nil, ErrUnauthorizedAccess
	}
	return account, nil
}

func fetchAccount(ctx context.Context, db *sql.DB, accountID uuid.UUID) (*models.Account, error) {
	row := db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)

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

// generateAccountNumber returns a random 10-digit account number.
// Collisions are resolved by the caller's retry loop against the
// unique constraint.
func generateAccountNumber() string {
	const digits = "0123456789"
	b := make([]byte, 10)
	for i := range b {
		b[i] = digits[rand.Intn(len(digits))]
	}
	return string(b)
}

// CreateAccount opens a checking or savings account for the holder.
func (s *AccountService) Create(ctx context.Context, holderID uuid.UUID, accountType string) (*models.Account, error) {
	account := &models.Account{
		ID:              uuid.New(),
		AccountHolderID: holderID,
		AccountType:     accountType,
		Currency:        "USD",
		IsActive:        true,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}

	// Random 10-digit numbers collide effectively never; retry a few
	// times against the unique index anyway.
	var err error
	for attempt := 0; attempt < 10; attempt++ {
		account.AccountNumber = generateAccountNumber()
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO accounts (id, account_holder_id, account_type, account_number, cached_balance_cents, currency, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 0, $5, TRUE, $6, $7)`,
			account.ID, account.AccountHolderID, account.AccountType, account.AccountNumber,
			account.Currency, account.CreatedAt, account.UpdatedAt)
		if err == nil {
			return account, nil
		}
	}
	return nil, classifyStoreError(err)
}

// CreateAccount opens a new account
// @Summary Create a bank account
// @Tags accounts
// @Accept json
// @Produce json
// @Param request body CreateAccountRequest true "Account type"
// @Success 201 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Router /accounts [post]
func (s *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	holderID, ok := holderFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreateAccountRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account, err := s.Create(r.Context(), holderID, req.AccountType)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to create account for holder %s: %v", holderID, err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ACCOUNT] Created %s account %s for holder %s", account.AccountType, account.AccountNumber, holderID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// ListAccounts lists the holder's accounts
// @Summary List own accounts
// @Tags accounts
// @Produce json
// @Success 200 {object} object{accounts=[]models.Account,count=int}
// @Router /accounts [get]
func (s *AccountService) ListAccounts(w http.ResponseWriter, r *http.Request) {
	holderID, ok := holderFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := s.db.QueryContext(r.Context(),
		`SELECT `+accountColumns+` FROM accounts WHERE account_holder_id = $1 ORDER BY created_at`, holderID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts, err := collectAccounts(rows)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"accounts": accounts, "count": len(accounts)})
}

func collectAccounts(rows *sql.Rows) ([]*models.Account, error) {
	accounts := []*models.Account{}
	for rows.Next() {
		var a models.Account
		err := rows.Scan(&a.ID, &a.AccountHolderID, &a.AccountType, &a.AccountNumber,
			&a.CachedBalanceCents, &a.Currency, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

// GetAccount fetches one owned account
// @Summary Get account by ID
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} models.Account
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId} [get]
func (s *AccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
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

	account, err := getOwnedAccount(r.Context(), s.db, accountID, holderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// GetBalance reports cached vs computed balance
// @Summary Get account balance with integrity check
// @Description Returns the cached balance alongside the balance computed from approved transactions. A mismatch is diagnostic, not an error.
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} models.BalanceCheck
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/balance [get]
func (s *AccountService) GetBalance(w http.ResponseWriter, r *http.Request) {
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

	account, err := getOwnedAccount(r.Context(), s.db, accountID, holderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	check, err := s.ledger.CheckIntegrity(r.Context(), account)
	if err != nil {
		SendErrorResponse(w, "Failed to compute balance", http.StatusInternalServerError, nil)
		return
	}
	if !check.Match {
		log.Printf("[ACCOUNT] Balance mismatch on account %s: cached=%d computed=%d",
			accountID, check.CachedBalanceCents, check.ComputedBalanceCents)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(check)
}

// AdminListAccounts lists every account
// @Summary [Admin] List all accounts
// @Tags admin
// @Produce json
// @Success 200 {object} object{accounts=[]models.Account,count=int}
// @Router /admin/accounts [get]
func (s *AccountService) AdminListAccounts(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `SELECT `+accountColumns+` FROM accounts ORDER BY created_at`)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts, err := collectAccounts(rows)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"accounts": accounts, "count": len(accounts)})
}

// AdminGetAccount fetches any account
// @Summary [Admin] Get any account
// @Tags admin
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} models.Account
// @Failure 404 {object} ErrorResponse
// @Router /admin/accounts/{accountId} [get]
func (s *AccountService) AdminGetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "accountId"))
	if err != nil {
		SendErrorResponse(w, "Invalid account ID", http.StatusBadRequest, nil)
		return
	}

	account, err := fetchAccount(r.Context(), s.db, accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// AdminGetBalance reports any account's balance integrity
// @Summary [Admin] Get any account's balance check
// @Tags admin
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} models.BalanceCheck
// @Failure 404 {object} ErrorResponse
// @Router /admin/accounts/{accountId}/balance [get]
func (s *AccountService) AdminGetBalance(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "accountId"))
	if err != nil {
		SendErrorResponse(w, "Invalid account ID", http.StatusBadRequest, nil)
		return
	}

	account, err := fetchAccount(r.Context(), s.db, accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	check, err := s.ledger.CheckIntegrity(r.Context(), account)
	if err != nil {
		SendErrorResponse(w, "Failed to compute balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(check)
}
