package services

import (
	"bytes"
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

// QRService generates short-lived receive-money codes: a QR image
// wrapping the account number so another holder can address a
// transfer without typing it. Codes are nonce-bound and expire from
// Redis after five minutes.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewQRService(db *sql.DB, redisClient *redis.Client) *QRService {
	return &QRService{db: db, redis: redisClient}
}

// GenerateReceiveCode builds the code payload and PNG for an account.
func (s *QRService) GenerateReceiveCode(ctx context.Context, account string, accountID uuid.UUID) (string, string, error) {
	payload := map[string]any{
		"account_number": account,
		"account_id":     accountID,
		"timestamp":      time.Now().Unix(),
		"nonce":          generateNonce(),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	if s.redis != nil {
		key := fmt.Sprintf("receive_qr:%s", code)
		if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
			return "", "", err
		}
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return code, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func generateNonce() string {
	b := make([]byte, 16)
	cryptorand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}

// ReceiveQR returns a receive-money QR code for an account
// @Summary Generate receive-money QR
// @Description Short-lived QR code carrying the account number, for addressing incoming transfers.
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} object{code=string,image_png_base64=string}
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/receive-qr [get]
func (s *QRService) ReceiveQR(w http.ResponseWriter, r *http.Request) {
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

	code, image, err := s.GenerateReceiveCode(r.Context(), account.AccountNumber, accountID)
	if err != nil {
		SendErrorResponse(w, "Failed to generate QR code", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"code":             code,
		"image_png_base64": image,
	})
}
