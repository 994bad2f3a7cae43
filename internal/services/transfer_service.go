package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/coastbank/backend/internal/events"
	"github.com/coastbank/backend/internal/models"
)

// TransferService coordinates two-leg transfers. Both accounts are
// locked in ascending UUID order inside one unit of work, so two
// concurrent transfers over the same pair — in either direction —
// acquire locks in the same global order and cannot deadlock.
//
// Either both legs commit together with both cached balances, or (on
// insufficient funds) a single declined debit-shaped row commits on
// the source account and no credit leg ever exists.
type TransferService struct {
	db        *sql.DB
	ledger    *LedgerService
	publisher events.Publisher
	validator *ValidationHelper
}

// TransferRequest is the create-transfer payload.
type TransferRequest struct {
	FromAccountID string `json:"from_account_id" validate:"required,uuid"`
	ToAccountID   string `json:"to_account_id" validate:"required,uuid"`
	AmountCents   int64  `json:"amount_cents" validate:"required,gt=0"`
	Description   string `json:"description" validate:"max=255"`
}

func NewTransferService(db *sql.DB, ledger *LedgerService, publisher events.Publisher) *TransferService {
	return &TransferService{
		db:        db,
		ledger:    ledger,
		publisher: publisher,
		validator: NewValidationHelper(),
	}
}

// Transfer moves amountCents from one account to another atomically.
//
// The caller must own the source account; the destination may belong
// to anyone. Account existence is re-validated inside the unit of
// work — identity supplied by the caller is never trusted beyond a
// scoped query.
func (s *TransferService) Transfer(
	ctx context.Context,
	holderID uuid.UUID,
	fromAccountID uuid.UUID,
	toAccountID uuid.UUID,
	amountCents int64,
	description string,
) (*models.TransferOutcome, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if fromAccountID == toAccountID {
		return nil, ErrSameAccountTransfer
	}

	tx, err := s.ledger.Begin(ctx)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	defer tx.Rollback()

	accounts, err := s.ledger.LockAccounts(tx, fromAccountID, toAccountID)
	if err != nil {
		return nil, err
	}
	source := accounts[fromAccountID]
	if source.AccountHolderID != holderID {
		return nil, ErrUnauthorizedAccess
	}

	sourceBalance, err := s.ledger.ComputeBalanceTx(tx, fromAccountID)
	if err != nil {
		return nil, err
	}

	transferPairID := uuid.New()
	now := time.Now().UTC()

	debit := &models.Transaction{
		ID:             uuid.New(),
		Type:           models.TransactionTypeDebit,
		AmountCents:    amountCents,
		FromAccountID:  uuid.NullUUID{UUID: fromAccountID, Valid: true},
		Description:    description,
		TransferPairID: uuid.NullUUID{UUID: transferPairID, Valid: true},
		CreatedAt:      now,
	}

	if amountCents > sourceBalance {
		// Only the refused debit leg is recorded; the credit side of a
		// declined transfer never existed.
		debit.Status = models.StatusDeclined
		if err := s.ledger.insertTransaction(tx, debit); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, classifyStoreError(err)
		}
		log.Printf("[TRANSFER] Declined transfer of %d cents from %s to %s (balance %d)",
			amountCents, fromAccountID, toAccountID, sourceBalance)
		s.publishOutcome(ctx, "ledger.transfer.declined", &models.TransferOutcome{
			Approved: false, TransferPairID: transferPairID, Debit: debit,
		})
		return &models.TransferOutcome{Approved: false, TransferPairID: transferPairID, Debit: debit}, nil
	}

	destBalance, err := s.ledger.ComputeBalanceTx(tx, toAccountID)
	if err != nil {
		return nil, err
	}

	credit := &models.Transaction{
		ID:             uuid.New(),
		Type:           models.TransactionTypeCredit,
		AmountCents:    amountCents,
		ToAccountID:    uuid.NullUUID{UUID: toAccountID, Valid: true},
		Description:    description,
		TransferPairID: uuid.NullUUID{UUID: transferPairID, Valid: true},
		CreatedAt:      now,
	}

	debit.Status = models.StatusApproved
	credit.Status = models.StatusApproved

	if err := s.ledger.insertTransaction(tx, debit); err != nil {
		return nil, err
	}
	if err := s.ledger.insertTransaction(tx, credit); err != nil {
		return nil, err
	}
	if err := s.ledger.updateCachedBalance(tx, fromAccountID, sourceBalance-amountCents); err != nil {
		return nil, err
	}
	if err := s.ledger.updateCachedBalance(tx, toAccountID, destBalance+amountCents); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, classifyStoreError(err)
	}

	log.Printf("[TRANSFER] Approved transfer of %d cents from %s to %s (pair %s)",
		amountCents, fromAccountID, toAccountID, transferPairID)

	outcome := &models.TransferOutcome{
		Approved:       true,
		TransferPairID: transferPairID,
		Debit:          debit,
		Credit:         credit,
	}
	s.publishOutcome(ctx, "ledger.transfer.approved", outcome)
	return outcome, nil
}

func (s *TransferService) publishOutcome(ctx context.Context, routingKey string, outcome *models.TransferOutcome) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, routingKey, outcome); err != nil {
		log.Printf("[TRANSFER] Failed to publish %s event for pair %s: %v", routingKey, outcome.TransferPairID, err)
	}
}

// CreateTransfer executes an atomic two-leg transfer
// @Summary Transfer money between accounts
// @Description Atomically debit the source and credit the destination. Insufficient funds yield a committed declined debit and no credit leg.
// @Tags transfers
// @Accept json
// @Produce json
// @Param request body TransferRequest true "Transfer request"
// @Success 201 {object} models.TransferOutcome
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /transfers [post]
func (s *TransferService) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	holderID, ok := holderFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req TransferRequest
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

	fromID, err := uuid.Parse(req.FromAccountID)
	if err != nil {
		SendErrorResponse(w, "Invalid source account ID", http.StatusBadRequest, nil)
		return
	}
	toID, err := uuid.Parse(req.ToAccountID)
	if err != nil {
		SendErrorResponse(w, "Invalid destination account ID", http.StatusBadRequest, nil)
		return
	}

	outcome, err := s.Transfer(r.Context(), holderID, fromID, toID, req.AmountCents, req.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(outcome)
}
