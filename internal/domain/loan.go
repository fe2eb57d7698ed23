/**
 * @description
 * This file defines loans, their repayment schedules, and the guarantor
 * side-channel. A loan moves through a strict state machine:
 *
 *   pending -> approved -> disbursed -> active -> completed | defaulted
 *   pending -> rejected
 *
 * The schedule is computed at creation from the application date and
 * recomputed at disbursement from the real disbursement date. Once a loan is
 * completed or defaulted it is immutable.
 *
 * @notes
 * - InterestRate is an annual percentage in both interest models: the simple
 *   branch applies rate/100 * months/12 and the reducing-balance branch uses
 *   rate/100/12 as the monthly rate.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// InterestType selects the interest model for a loan.
type InterestType string

const (
	InterestSimple          InterestType = "simple"
	InterestReducingBalance InterestType = "reducing_balance"
)

// ValidInterestType reports whether t is a known interest model.
func ValidInterestType(t InterestType) bool {
	return t == InterestSimple || t == InterestReducingBalance
}

// LoanStatus is a loan's position in the lifecycle state machine.
type LoanStatus string

const (
	LoanPending   LoanStatus = "pending"
	LoanApproved  LoanStatus = "approved"
	LoanRejected  LoanStatus = "rejected"
	LoanDisbursed LoanStatus = "disbursed"
	LoanActive    LoanStatus = "active"
	LoanCompleted LoanStatus = "completed"
	LoanDefaulted LoanStatus = "defaulted"
)

// Terminal reports whether the status permits no further transitions.
func (s LoanStatus) Terminal() bool {
	return s == LoanRejected || s == LoanCompleted || s == LoanDefaulted
}

// Guarantor is a member co-signing a loan. Approval is recorded per
// guarantor; the loan cannot be approved until the policy's required count
// have approved.
type Guarantor struct {
	MemberID   uuid.UUID  `json:"member_id"`
	Approved   bool       `json:"approved"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
}

// Installment is one scheduled repayment.
type Installment struct {
	Number           int       `json:"number"` // 1-based
	DueDate          time.Time `json:"due_date"`
	Total            int64     `json:"total"`
	PrincipalPortion int64     `json:"principal_portion"`
	InterestPortion  int64     `json:"interest_portion"`
	Paid             bool      `json:"paid"`
	PaidAmount       int64     `json:"paid_amount"`
	LateFee          int64     `json:"late_fee"`
}

// Outstanding is the unpaid remainder of the installment including any
// assessed late fee.
func (i *Installment) Outstanding() int64 {
	return i.Total + i.LateFee - i.PaidAmount
}

// Loan is a credit extended to a member, either from a group's loan fund or
// as a personal loan disbursed straight into the borrower's wallet.
type Loan struct {
	ID            uuid.UUID    `json:"id"`
	GroupID       *uuid.UUID   `json:"group_id,omitempty"` // nil for personal loans
	BorrowerID    uuid.UUID    `json:"borrower_id"`
	Principal     int64        `json:"principal"`
	InterestRate  float64      `json:"interest_rate"` // annual percent
	InterestType  InterestType `json:"interest_type"`
	TermMonths    int          `json:"term_months"`
	ProcessingFee int64        `json:"processing_fee"`

	TotalRepayable int64         `json:"total_repayable"`
	AmountRepaid   int64         `json:"amount_repaid"`
	Status         LoanStatus    `json:"status"`
	Guarantors     []Guarantor   `json:"guarantors,omitempty"`
	Schedule       []Installment `json:"schedule,omitempty"`

	Version        int64      `json:"version"`
	AppliedAt      time.Time  `json:"applied_at"`
	DisbursedAt    *time.Time `json:"disbursed_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	NextPaymentDue *time.Time `json:"next_payment_due,omitempty"`
}

// ApprovedGuarantorCount counts guarantors who have signed off.
func (l *Loan) ApprovedGuarantorCount() int {
	n := 0
	for _, g := range l.Guarantors {
		if g.Approved {
			n++
		}
	}
	return n
}

// ScheduleTotal sums installment totals and late fees. It must always equal
// TotalRepayable.
func (l *Loan) ScheduleTotal() int64 {
	var sum int64
	for _, inst := range l.Schedule {
		sum += inst.Total + inst.LateFee
	}
	return sum
}

// PaidTotal sums installment paid amounts. It must always equal AmountRepaid.
func (l *Loan) PaidTotal() int64 {
	var sum int64
	for _, inst := range l.Schedule {
		sum += inst.PaidAmount
	}
	return sum
}

// FirstUnpaid returns the oldest unpaid installment, or nil when every
// installment is settled.
func (l *Loan) FirstUnpaid() *Installment {
	for i := range l.Schedule {
		if !l.Schedule[i].Paid {
			return &l.Schedule[i]
		}
	}
	return nil
}

// FullyRepaid reports whether every installment is settled.
func (l *Loan) FullyRepaid() bool {
	return l.FirstUnpaid() == nil
}

// LoanSettings carries the system-wide loan parameters resolved once by the
// caller at startup and passed explicitly into every loan operation. Nothing
// in the core consults mutable global settings mid-operation.
type LoanSettings struct {
	ProcessingFeePercent float64 // of principal, charged up front
	LateFeePercent       float64 // of an installment's unpaid remainder
	MinTermMonths        int
	MaxTermMonths        int
}
