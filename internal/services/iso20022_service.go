package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/coastbank/backend/internal/models"
)

const institutionBIC = "COASTBNK"

// ISO20022Service renders approved transfers as pacs.008 credit
// transfer messages and any ledger outcome as a pacs.002 status
// report. Message generation only — transmission to an external
// settlement network is out of scope.
type ISO20022Service struct {
	db *sql.DB
}

func NewISO20022Service(db *sql.DB) *ISO20022Service {
	return &ISO20022Service{db: db}
}

// transferPairLegs loads both legs of a transfer pair together with
// the account numbers they touch.
func (iso *ISO20022Service) transferPairLegs(ctx context.Context, pairID uuid.UUID) (debit, credit *models.Transaction, fromNumber, toNumber string, err error) {
	rows, err := iso.db.QueryContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE transfer_pair_id = $1`, pairID)
	if err != nil {
		return nil, nil, "", "", classifyStoreError(err)
	}
	defer rows.Close()

	for rows.Next() {
		t, scanErr := scanTransaction(rows)
		if scanErr != nil {
			return nil, nil, "", "", scanErr
		}
		switch t.Type {
		case models.TransactionTypeDebit:
			debit = t
		case models.TransactionTypeCredit:
			credit = t
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, "", "", err
	}
	if debit == nil {
		return nil, nil, "", "", ErrTransactionNotFound
	}

	if debit.FromAccountID.Valid {
		if err := iso.db.QueryRowContext(ctx, `SELECT account_number FROM accounts WHERE id = $1`, debit.FromAccountID.UUID).Scan(&fromNumber); err != nil {
			return nil, nil, "", "", classifyStoreError(err)
		}
	}
	if credit != nil && credit.ToAccountID.Valid {
		if err := iso.db.QueryRowContext(ctx, `SELECT account_number FROM accounts WHERE id = $1`, credit.ToAccountID.UUID).Scan(&toNumber); err != nil {
			return nil, nil, "", "", classifyStoreError(err)
		}
	}
	return debit, credit, fromNumber, toNumber, nil
}

// CreatePacs008 builds a pacs.008 FIToFICustomerCreditTransfer for an
// approved transfer pair.
func (iso *ISO20022Service) CreatePacs008(pairID uuid.UUID, debit *models.Transaction, fromNumber, toNumber string) *pacs_v08.FIToFICustomerCreditTransferV08 {
	msgID := uuid.New().String()
	now := time.Now()
	amount := float64(debit.AmountCents) / 100

	return &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(now),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode("USD"),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&now),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(debit.ID.String())}[0],
					EndToEndId: common.Max35Text(pairID.String()),
					TxId:       &[]common.Max35Text{common.Max35Text(debit.ID.String())}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode("USD"),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&now),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(institutionBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(fromNumber)}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(institutionBIC)}[0],
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(toNumber)}[0],
				},
			},
		},
	}
}

// CreatePacs002 builds a pacs.002 status report for one transaction:
// ACCP for approved rows, RJCT for declined ones.
func (iso *ISO20022Service) CreatePacs002(txn *models.Transaction) *pacs_v08.FIToFIPaymentStatusReportV08 {
	status := "ACCP"
	if txn.Status == models.StatusDeclined {
		status = "RJCT"
	}

	endToEnd := txn.ID.String()
	if txn.TransferPairID.Valid {
		endToEnd = txn.TransferPairID.UUID.String()
	}

	return &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(uuid.New().String()),
			CreDtTm: common.ISODateTime(time.Now()),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(txn.ID.String())}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(endToEnd)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(txn.ID.String())}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
			},
		},
	}
}

// ConvertToXML renders an ISO 20022 document as an XML string.
func (iso *ISO20022Service) ConvertToXML(doc any) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}

// GetTransferSettlement renders a transfer pair as pacs.008
// @Summary Get settlement message for a transfer
// @Description pacs.008 credit transfer XML for an approved transfer pair; declined pairs get a pacs.002 rejection report instead.
// @Tags transfers
// @Produce json
// @Param pairId path string true "Transfer pair ID"
// @Success 200 {object} object{message_type=string,xml=string}
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /transfers/{pairId}/settlement [get]
func (iso *ISO20022Service) GetTransferSettlement(w http.ResponseWriter, r *http.Request) {
	holderID, ok := holderFromContext(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	pairID, err := uuid.Parse(chi.URLParam(r, "pairId"))
	if err != nil {
		SendErrorResponse(w, "Invalid transfer pair ID", http.StatusBadRequest, nil)
		return
	}

	debit, credit, fromNumber, toNumber, err := iso.transferPairLegs(r.Context(), pairID)
	if errors.Is(err, ErrTransactionNotFound) {
		SendErrorResponse(w, "Transfer not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to load transfer", http.StatusInternalServerError, nil)
		return
	}

	// The debit leg carries the source account; only its owner may
	// pull settlement documents.
	if debit.FromAccountID.Valid {
		if _, err := getOwnedAccount(r.Context(), iso.db, debit.FromAccountID.UUID, holderID); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	var doc any
	messageType := "pacs.008.001.08"
	if credit == nil || debit.Status == models.StatusDeclined {
		doc = iso.CreatePacs002(debit)
		messageType = "pacs.002.001.08"
	} else {
		doc = iso.CreatePacs008(pairID, debit, fromNumber, toNumber)
	}

	xmlData, err := iso.ConvertToXML(doc)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message_type": messageType,
		"xml":          xmlData,
	})
}
