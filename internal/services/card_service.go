package services

import (
	"crypto/aes"
	"crypto/cipher"
	cryptorand "crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/coastbank/backend/internal/models"
)

// CardService issues and serves debit cards. One card per account;
// PAN and CVV are AES-GCM encrypted at rest, only the last four
// digits stay in plaintext. Card usage rules (debit-only, must be
// active, must match the account) are enforced by the transaction
// authorizer at spend time.
type CardService struct {
	db        *sql.DB
	validator *ValidationHelper
}

// IssueCardRequest is the issue-card payload.
type IssueCardRequest struct {
	AccountID string `json:"account_id" validate:"required,uuid"`
}

func NewCardService(db *sql.DB) *CardService {
	return &CardService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// generateCardNumber returns a random Visa-like 16-digit PAN.
func generateCardNumber() string {
	const digits = "0123456789"
	b := make([]byte, 16)
	b[0] = '4'
	for i := 1; i < len(b); i++ {
		b[i] = digits[rand.Intn(len(digits))]
	}
	return string(b)
}

func generateCVV() string {
	return fmt.Sprintf("%03d", rand.Intn(1000))
}

func cardCipher() (cipher.AEAD, error) {
	secret := viper.GetString("cards.encryption_key")
	if secret == "" {
		return nil, errors.New("cards.encryption_key is not configured")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func encryptValue(plaintext string) (string, error) {
	gcm, err := cardCipher()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := cryptorand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func decryptValue(encoded string) (string, error) {
	gcm, err := cardCipher()
	if err != nil {
		return "", err
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(sealed) < gcm.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	plaintext, err := gcm.Open(nil, sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():], nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Issue creates the account's card. Fails with ErrDuplicateCard if
// one already exists.
func (cs *CardService) Issue(r *http.Request, accountID, holderID uuid.UUID) (*models.Card, error) {
	ctx := r.Context()
	if _, err := getOwnedAccount(ctx, cs.db, accountID, holderID); err != nil {
		return nil, err
	}

	var exists bool
	if err := cs.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM cards WHERE account_id = $1)`, accountID).Scan(&exists); err != nil {
		return nil, classifyStoreError(err)
	}
	if exists {
		return nil, ErrDuplicateCard
	}

	pan := generateCardNumber()
	encryptedPAN, err := encryptValue(pan)
	if err != nil {
		return nil, err
	}
	encryptedCVV, err := encryptValue(generateCVV())
	if err != nil {
		return nil, err
	}

	card := &models.Card{
		ID:                  uuid.New(),
		AccountID:           accountID,
		CardNumberEncrypted: encryptedPAN,
		CVVEncrypted:        encryptedCVV,
		LastFour:            pan[len(pan)-4:],
		IsActive:            true,
		ExpiresAt:           time.Now().UTC().AddDate(3, 0, 0),
		CreatedAt:           time.Now().UTC(),
	}

	_, err = cs.db.ExecContext(ctx, `
		INSERT INTO cards (id, account_id, card_number_encrypted, cvv_encrypted, card_number_last_four, is_active, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		card.ID, card.AccountID, card.CardNumberEncrypted, card.CVVEncrypted,
		card.LastFour, card.IsActive, card.ExpiresAt, card.CreatedAt)
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return card, nil
}

// IssueCard issues a debit card for an account
// @Summary Issue a card
// @Description Issue the account's debit card. Each account has at most one.
// @Tags cards
// @Accept json
// @Produce json
// @Param request body IssueCardRequest true "Target account"
// @Success 201 {object} models.Card
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /cards [post]
func (cs *CardService) IssueCard(w http.ResponseWriter, r *http.Request) {
	holderID, ok := holderFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req IssueCardRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := cs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		SendErrorResponse(w, "Invalid account ID", http.StatusBadRequest, nil)
		return
	}

	card, err := cs.Issue(r, accountID, holderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	log.Printf("[CARD] Issued card ending %s for account %s", card.LastFour, accountID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(card)
}

// GetCard fetches one of the holder's cards
// @Summary Get card by ID
// @Tags cards
// @Produce json
// @Param cardId path string true "Card ID"
// @Success 200 {object} models.Card
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /cards/{cardId} [get]
func (cs *CardService) GetCard(w http.ResponseWriter, r *http.Request) {
	holderID, ok := holderFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	cardID, err := uuid.Parse(chi.URLParam(r, "cardId"))
	if err != nil {
		SendErrorResponse(w, "Invalid card ID", http.StatusBadRequest, nil)
		return
	}

	var card models.Card
	err = cs.db.QueryRowContext(r.Context(), `
		SELECT id, account_id, card_number_encrypted, cvv_encrypted, card_number_last_four, is_active, expires_at, created_at
		FROM cards WHERE id = $1`, cardID).
		Scan(&card.ID, &card.AccountID, &card.CardNumberEncrypted, &card.CVVEncrypted,
			&card.LastFour, &card.IsActive, &card.ExpiresAt, &card.CreatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Card not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch card", http.StatusInternalServerError, nil)
		return
	}

	if _, err := getOwnedAccount(r.Context(), cs.db, card.AccountID, holderID); err != nil {
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(card)
}
