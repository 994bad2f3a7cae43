package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/coastbank/backend/internal/models"
)

func approvedTransferLegs(pairID uuid.UUID, fromID, toID uuid.UUID) (*models.Transaction, *models.Transaction) {
	now := time.Now().UTC()
	debit := &models.Transaction{
		ID: uuid.New(), Type: models.TransactionTypeDebit, AmountCents: 12550,
		FromAccountID:  uuid.NullUUID{UUID: fromID, Valid: true},
		Status:         models.StatusApproved,
		TransferPairID: uuid.NullUUID{UUID: pairID, Valid: true},
		CreatedAt:      now,
	}
	credit := &models.Transaction{
		ID: uuid.New(), Type: models.TransactionTypeCredit, AmountCents: 12550,
		ToAccountID:    uuid.NullUUID{UUID: toID, Valid: true},
		Status:         models.StatusApproved,
		TransferPairID: uuid.NullUUID{UUID: pairID, Valid: true},
		CreatedAt:      now,
	}
	return debit, credit
}

func TestISO20022Service_CreatePacs008(t *testing.T) {
	service := NewISO20022Service(nil)

	pairID := uuid.New()
	debit, _ := approvedTransferLegs(pairID, uuid.New(), uuid.New())

	doc := service.CreatePacs008(pairID, debit, "1111111111", "2222222222")
	xmlData, err := service.ConvertToXML(doc)
	assert.NoError(t, err)

	assert.Contains(t, xmlData, "<?xml")
	assert.Contains(t, xmlData, institutionBIC)
	assert.Contains(t, xmlData, pairID.String())
	// 12550 cents as a major-unit decimal amount.
	assert.Contains(t, xmlData, "125.5")
}

func TestISO20022Service_CreatePacs002(t *testing.T) {
	service := NewISO20022Service(nil)

	t.Run("approved is ACCP", func(t *testing.T) {
		txn := &models.Transaction{ID: uuid.New(), Status: models.StatusApproved}
		xmlData, err := service.ConvertToXML(service.CreatePacs002(txn))
		assert.NoError(t, err)
		assert.Contains(t, xmlData, "ACCP")
	})

	t.Run("declined is RJCT", func(t *testing.T) {
		txn := &models.Transaction{ID: uuid.New(), Status: models.StatusDeclined}
		xmlData, err := service.ConvertToXML(service.CreatePacs002(txn))
		assert.NoError(t, err)
		assert.Contains(t, xmlData, "RJCT")
	})
}

func TestISO20022Service_GetTransferSettlement(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewISO20022Service(db)

	router := chi.NewRouter()
	router.Get("/transfers/{pairId}/settlement", service.GetTransferSettlement)

	holderID := uuid.New()
	source := testAccount(holderID, 20000)

	t.Run("approved pair renders pacs.008", func(t *testing.T) {
		pairID := uuid.New()
		dest := testAccount(uuid.New(), 0)
		debit, credit := approvedTransferLegs(pairID, source.ID, dest.ID)

		mock.ExpectQuery(`FROM transactions WHERE transfer_pair_id = \$1`).
			WithArgs(pairID).
			WillReturnRows(transactionRows(debit, credit))
		mock.ExpectQuery(`SELECT account_number FROM accounts WHERE id = \$1`).
			WithArgs(source.ID).
			WillReturnRows(sqlmock.NewRows([]string{"account_number"}).AddRow(source.AccountNumber))
		mock.ExpectQuery(`SELECT account_number FROM accounts WHERE id = \$1`).
			WithArgs(dest.ID).
			WillReturnRows(sqlmock.NewRows([]string{"account_number"}).AddRow(dest.AccountNumber))
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE id = \$1`).
			WithArgs(source.ID).
			WillReturnRows(accountRows(source))

		r := httptest.NewRequest("GET", "/transfers/"+pairID.String()+"/settlement", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, authedRequest(r, holderID))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]string
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, "pacs.008.001.08", resp["message_type"])
		assert.Contains(t, resp["xml"], pairID.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("declined pair renders pacs.002 rejection", func(t *testing.T) {
		pairID := uuid.New()
		debit := &models.Transaction{
			ID: uuid.New(), Type: models.TransactionTypeDebit, AmountCents: 9000,
			FromAccountID:  uuid.NullUUID{UUID: source.ID, Valid: true},
			Status:         models.StatusDeclined,
			TransferPairID: uuid.NullUUID{UUID: pairID, Valid: true},
			CreatedAt:      time.Now().UTC(),
		}

		mock.ExpectQuery(`FROM transactions WHERE transfer_pair_id = \$1`).
			WithArgs(pairID).
			WillReturnRows(transactionRows(debit))
		mock.ExpectQuery(`SELECT account_number FROM accounts WHERE id = \$1`).
			WithArgs(source.ID).
			WillReturnRows(sqlmock.NewRows([]string{"account_number"}).AddRow(source.AccountNumber))
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE id = \$1`).
			WithArgs(source.ID).
			WillReturnRows(accountRows(source))

		r := httptest.NewRequest("GET", "/transfers/"+pairID.String()+"/settlement", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, authedRequest(r, holderID))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp map[string]string
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, "pacs.002.001.08", resp["message_type"])
		assert.Contains(t, resp["xml"], "RJCT")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown pair", func(t *testing.T) {
		pairID := uuid.New()
		mock.ExpectQuery(`FROM transactions WHERE transfer_pair_id = \$1`).
			WithArgs(pairID).
			WillReturnRows(sqlmock.NewRows(transactionTestColumns))

		r := httptest.NewRequest("GET", "/transfers/"+pairID.String()+"/settlement", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, authedRequest(r, holderID))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("non-owner of the source is forbidden", func(t *testing.T) {
		pairID := uuid.New()
		dest := testAccount(uuid.New(), 0)
		debit, credit := approvedTransferLegs(pairID, source.ID, dest.ID)

		mock.ExpectQuery(`FROM transactions WHERE transfer_pair_id = \$1`).
			WithArgs(pairID).
			WillReturnRows(transactionRows(debit, credit))
		mock.ExpectQuery(`SELECT account_number FROM accounts WHERE id = \$1`).
			WithArgs(source.ID).
			WillReturnRows(sqlmock.NewRows([]string{"account_number"}).AddRow(source.AccountNumber))
		mock.ExpectQuery(`SELECT account_number FROM accounts WHERE id = \$1`).
			WithArgs(dest.ID).
			WillReturnRows(sqlmock.NewRows([]string{"account_number"}).AddRow(dest.AccountNumber))
		mock.ExpectQuery(`SELECT (.+) FROM accounts WHERE id = \$1`).
			WithArgs(source.ID).
			WillReturnRows(accountRows(source))

		r := httptest.NewRequest("GET", "/transfers/"+pairID.String()+"/settlement", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, authedRequest(r, uuid.New()))

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestISO20022Service_CreatePacs008_AmountConversion(t *testing.T) {
	service := NewISO20022Service(nil)
	pairID := uuid.New()

	debit := &models.Transaction{
		ID: uuid.New(), Type: models.TransactionTypeDebit, AmountCents: 100,
		FromAccountID:  uuid.NullUUID{UUID: uuid.New(), Valid: true},
		Status:         models.StatusApproved,
		TransferPairID: uuid.NullUUID{UUID: pairID, Valid: true},
	}

	doc := service.CreatePacs008(pairID, debit, "1111111111", "2222222222")
	assert.Equal(t, float64(1), doc.GrpHdr.TtlIntrBkSttlmAmt.Value)
	assert.Equal(t, "1", string(doc.GrpHdr.NbOfTxs))
}
