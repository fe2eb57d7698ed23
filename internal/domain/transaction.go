/**
 * @description
 * This file defines the append-only transaction record — the single source of
 * truth for every balance mutation in the ledger. A record is written inside
 * the same database transaction as the balance change it describes and is
 * never updated or deleted afterward.
 *
 * @notes
 * - A TransferEngine operation produces exactly two records (debit leg and
 *   credit leg) that share a TransferID.
 * - Amounts are always positive; direction is implied by Type.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType classifies a money movement.
type TransactionType string

const (
	TxContribution   TransactionType = "contribution"
	TxTransferDebit  TransactionType = "transfer_debit"
	TxTransferCredit TransactionType = "transfer_credit"
	TxLoanDisbursed  TransactionType = "loan_disbursement"
	TxLoanRepayment  TransactionType = "loan_repayment"
	TxInterestEarned TransactionType = "interest_earned"
	TxFine           TransactionType = "fine"
	TxPayout         TransactionType = "payout"
	TxDividend       TransactionType = "dividend"
	TxExternalCredit TransactionType = "external_credit"
	TxExternalDebit  TransactionType = "external_debit"
)

// PaymentMethod records how money entered or left the system.
type PaymentMethod string

const (
	MethodWallet       PaymentMethod = "wallet"
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodMobileMoney  PaymentMethod = "mobile_money"
)

// ValidPaymentMethod reports whether m is one of the known methods.
func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case MethodWallet, MethodCash, MethodBankTransfer, MethodMobileMoney:
		return true
	}
	return false
}

// TransactionStatus is the settlement state of a recorded movement.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxRejected  TransactionStatus = "rejected"
)

// TransactionRecord is one immutable entry in the ledger history.
type TransactionRecord struct {
	ID                uuid.UUID         `json:"id"`
	GroupID           *uuid.UUID        `json:"group_id,omitempty"`
	Type              TransactionType   `json:"type"`
	Amount            int64             `json:"amount"` // minor units, always positive
	AccountID         uuid.UUID         `json:"account_id"`
	AccountKind       AccountKind       `json:"account_kind"`
	ActorMemberID     *uuid.UUID        `json:"actor_member_id,omitempty"`
	Method            PaymentMethod     `json:"method"`
	Description       string            `json:"description"`
	ExternalReference *string           `json:"external_reference,omitempty"`
	VerifiedBy        *uuid.UUID        `json:"verified_by,omitempty"`
	TransferID        *uuid.UUID        `json:"transfer_id,omitempty"`
	Status            TransactionStatus `json:"status"`
	OccurredAt        time.Time         `json:"occurred_at"`
}

// DateRange bounds a history query. Zero values leave the bound open.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}
