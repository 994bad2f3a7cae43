package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestQRService_GenerateReceiveCode(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewQRService(db, nil)
	accountID := uuid.New()

	code, image, err := service.GenerateReceiveCode(context.Background(), "1234567890", accountID)
	assert.NoError(t, err)
	assert.NotEmpty(t, image)

	// The code is a base64url JSON payload carrying the account number.
	decoded, err := base64.URLEncoding.DecodeString(code)
	assert.NoError(t, err)

	var payload map[string]any
	assert.NoError(t, json.Unmarshal(decoded, &payload))
	assert.Equal(t, "1234567890", payload["account_number"])
	assert.Equal(t, accountID.String(), payload["account_id"])
	assert.NotEmpty(t, payload["nonce"])

	// The image is a decodable PNG.
	imgBytes, err := base64.StdEncoding.DecodeString(image)
	assert.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(imgBytes[:4]))
}

func TestQRService_ReceiveQR(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewQRService(db, nil)

	router := chi.NewRouter()
	router.Get("/accounts/{accountId}/receive-qr", service.ReceiveQR)

	holderID := uuid.New()
	account := testAccount(holderID, 0)

	t.Run("owner gets a code", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE id = \$1`).
			WithArgs(account.ID).
			WillReturnRows(accountRows(account))

		r := httptest.NewRequest("GET", "/accounts/"+account.ID.String()+"/receive-qr", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, authedRequest(r, holderID))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]string
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.NotEmpty(t, resp["code"])
		assert.NotEmpty(t, resp["image_png_base64"])
	})

	t.Run("non-owner is forbidden", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE id = \$1`).
			WithArgs(account.ID).
			WillReturnRows(accountRows(account))

		r := httptest.NewRequest("GET", "/accounts/"+account.ID.String()+"/receive-qr", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, authedRequest(r, uuid.New()))

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
