/**
 * @description
 * Domain event payloads published to the message broker after ledger
 * operations commit. The notification service consumes these fire-and-forget;
 * the core never depends on delivery succeeding.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event routing keys on the ledger events exchange.
const (
	EventContributionRecorded = "ledger.contribution.recorded"
	EventTransferCompleted    = "ledger.transfer.completed"
	EventWalletFunded         = "ledger.wallet.funded"
	EventLoanApproved         = "ledger.loan.approved"
	EventLoanDisbursed        = "ledger.loan.disbursed"
	EventLoanRepayment        = "ledger.loan.repayment"
	EventFineApplied          = "ledger.loan.fine_applied"
	EventLoanDefaulted        = "ledger.loan.defaulted"
	EventPayoutExecuted       = "ledger.payout.executed"
)

// ContributionRecordedEvent is published after a contribution commits.
type ContributionRecordedEvent struct {
	GroupID    uuid.UUID     `json:"group_id"`
	MemberID   uuid.UUID     `json:"member_id"`
	Amount     int64         `json:"amount"`
	Method     PaymentMethod `json:"method"`
	NewTotal   int64         `json:"new_total"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// TransferCompletedEvent is published after both legs of a transfer commit.
type TransferCompletedEvent struct {
	TransferID    uuid.UUID `json:"transfer_id"`
	FromAccountID uuid.UUID `json:"from_account_id"`
	ToAccountID   uuid.UUID `json:"to_account_id"`
	Amount        int64     `json:"amount"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// LoanLifecycleEvent covers approval, disbursement, repayment, and default.
type LoanLifecycleEvent struct {
	LoanID     uuid.UUID  `json:"loan_id"`
	GroupID    *uuid.UUID `json:"group_id,omitempty"`
	BorrowerID uuid.UUID  `json:"borrower_id"`
	Amount     int64      `json:"amount"`
	Status     LoanStatus `json:"status"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// FineAppliedEvent is published once per late-fee assessment that changed
// anything.
type FineAppliedEvent struct {
	LoanID     uuid.UUID `json:"loan_id"`
	BorrowerID uuid.UUID `json:"borrower_id"`
	FeeTotal   int64     `json:"fee_total"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PayoutExecutedEvent is published after an archetype payout commits.
type PayoutExecutedEvent struct {
	GroupID     uuid.UUID  `json:"group_id"`
	RecipientID *uuid.UUID `json:"recipient_id,omitempty"`
	Amount      int64      `json:"amount"`
	PayoutKind  string     `json:"payout_kind"`
	Cycle       int        `json:"cycle,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// GatewayConfirmation is the inbound message consumed from the payment
// gateway's queue. It is a completed fact: the gateway has already verified
// the external transaction before publishing it.
type GatewayConfirmation struct {
	Direction         string    `json:"direction"` // "credit" or "debit"
	AccountID         uuid.UUID `json:"account_id"`
	Amount            int64     `json:"amount"`
	ExternalReference string    `json:"external_reference"`
	ConfirmedAt       time.Time `json:"confirmed_at"`
}
