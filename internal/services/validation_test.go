package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid struct passes", func(t *testing.T) {
		req := CreateTransactionRequest{Type: "credit", AmountCents: 100}
		assert.NoError(t, vh.ValidateStruct(&req))
	})

	t.Run("zero amount fails", func(t *testing.T) {
		req := CreateTransactionRequest{Type: "debit"}
		assert.Error(t, vh.ValidateStruct(&req))
	})

	t.Run("unknown type fails", func(t *testing.T) {
		req := CreateTransactionRequest{Type: "wire", AmountCents: 100}
		assert.Error(t, vh.ValidateStruct(&req))
	})

	t.Run("non-uuid card id fails", func(t *testing.T) {
		req := CreateTransactionRequest{Type: "debit", AmountCents: 100, CardID: "not-a-uuid"}
		assert.Error(t, vh.ValidateStruct(&req))
	})
}

func TestSendErrorResponse(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("plain error", func(t *testing.T) {
		w := httptest.NewRecorder()
		SendErrorResponse(w, "something broke", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var resp ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, "something broke", resp.Error)
		assert.Empty(t, resp.Details)
	})

	t.Run("validation failures carry field details", func(t *testing.T) {
		err := vh.ValidateStruct(&TransferRequest{AmountCents: -1})
		assert.Error(t, err)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)

		var resp ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Contains(t, resp.Details, "FromAccountID")
		assert.Contains(t, resp.Details, "AmountCents")
	})
}
