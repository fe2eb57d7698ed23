/**
 * @description
 * This file defines the `Repository` interface: the persistence contract for
 * the ledger core. Every operation that touches more than one record —
 * transfers, contributions, disbursements, repayments, payouts — is exposed
 * as a single atomic method so the database transaction is scoped to exactly
 * the accounts and log rows one operation touches.
 *
 * The service layer computes new entity state and passes it here together
 * with the versions it read; implementations reject stale writers with
 * ErrConcurrencyConflict and enforce non-negative balances on every debit.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: Identifier handling.
 * - internal/domain: Entity models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/chamahub/ledger-service/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrAccountNotFound            = errors.New("account not found")
	ErrWalletNotFound             = errors.New("wallet not found")
	ErrGroupNotFound              = errors.New("group not found")
	ErrMemberNotFound             = errors.New("member not found")
	ErrLoanNotFound               = errors.New("loan not found")
	ErrAggregateNotFound          = errors.New("contribution aggregate not found")
	ErrInsufficientFunds          = errors.New("insufficient funds")
	ErrConcurrencyConflict        = errors.New("stale read: record changed since it was loaded")
	ErrDuplicateExternalReference = errors.New("external reference already recorded")
)

// CreditLeg directs part of an atomic write into one account.
type CreditLeg struct {
	AccountID uuid.UUID
	Kind      domain.AccountKind
	Amount    int64
}

// ContributionParams carries one contribution's complete effect: ledger
// credits, the wallet debit when the member pays from their wallet, the log
// records, and the history entry. Implementations apply all of it or none.
type ContributionParams struct {
	GroupID       uuid.UUID
	MemberID      uuid.UUID
	Amount        int64
	Method        domain.PaymentMethod
	Credits       []CreditLeg
	WalletDebit   *DebitLeg // set for wallet-funded contributions
	Records       []domain.TransactionRecord
	Entry         domain.ContributionEntry
	UpdateShares  bool  // sacco share sub-ledger
	ShareIncrease int64 // amount added to the member's share balance
}

// DebitLeg is the debit side of an atomic write, checked against the
// account's balance and version inside the transaction.
type DebitLeg struct {
	AccountID       uuid.UUID
	Amount          int64
	ExpectedVersion int64
}

// ContributionOutcome reports the committed aggregate state.
type ContributionOutcome struct {
	AggregateTotal int64
	Records        []domain.TransactionRecord
}

// TransferParams carries both legs of a transfer plus their linked records.
type TransferParams struct {
	TransferID      uuid.UUID
	FromAccountID   uuid.UUID
	ToAccountID     uuid.UUID
	Amount          int64
	ExpectedVersion int64 // version of the source account as loaded
	Records         [2]domain.TransactionRecord
}

// TransferOutcome returns the post-commit balances of both accounts.
type TransferOutcome struct {
	FromBalance int64
	ToBalance   int64
}

// DisbursementParams moves loan funds and persists the recomputed schedule
// in one transaction. SourceAccountID is nil for personal loans, whose funds
// are created directly in the borrower's wallet by the confirmed gateway
// deposit that precedes disbursement.
type DisbursementParams struct {
	Loan                *domain.Loan
	ExpectedLoanVersion int64
	SourceAccountID     *uuid.UUID
	DestinationWalletID uuid.UUID
	Amount              int64
	Records             []domain.TransactionRecord
}

// RepaymentParams persists an updated schedule alongside the money movement:
// the principal portion returns to the group loan account and the interest
// portion lands in interest-earned.
type RepaymentParams struct {
	Loan                *domain.Loan
	ExpectedLoanVersion int64
	PayerWalletDebit    *DebitLeg // nil for cash/mobile-money repayments
	Credits             []CreditLeg
	Records             []domain.TransactionRecord
}

// LateFeeParams persists a late-fee assessment: the adjusted schedule, the
// raised total, and the fines-account credit.
type LateFeeParams struct {
	Loan                *domain.Loan
	ExpectedLoanVersion int64
	FinesCredit         *CreditLeg
	Record              *domain.TransactionRecord
}

// RotationPayoutParams empties the pooled amount into the recipient's wallet
// and advances the group cycle, all in one transaction.
type RotationPayoutParams struct {
	GroupID         uuid.UUID
	FromAccountID   uuid.UUID
	ToWalletID      uuid.UUID
	Amount          int64
	ExpectedVersion int64
	FromCycle       int
	Records         [2]domain.TransactionRecord
}

// DividendParams debits the group account once and credits every member
// share in the same transaction.
type DividendParams struct {
	GroupID         uuid.UUID
	FromAccountID   uuid.UUID
	ExpectedVersion int64
	Credits         []CreditLeg
	Records         []domain.TransactionRecord
}

// ExternalMovementParams records a gateway-confirmed deposit or withdrawal.
// ExternalReference must be unique across the log; a duplicate returns
// ErrDuplicateExternalReference without any effect.
type ExternalMovementParams struct {
	AccountID         uuid.UUID
	Amount            int64
	ExternalReference string
	Record            domain.TransactionRecord
	Debit             bool
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Accounts and wallets
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	GetGroupAccount(ctx context.Context, groupID uuid.UUID, kind domain.AccountKind) (*domain.Account, error)
	FindWalletByUserID(ctx context.Context, userID uuid.UUID) (*domain.Account, error)
	CreateWallet(ctx context.Context, userID uuid.UUID, currency string) (*domain.Account, error)
	CreateGroupAccounts(ctx context.Context, groupID uuid.UUID, currency string) ([]domain.Account, error)

	// Groups and members
	GetGroup(ctx context.Context, groupID uuid.UUID) (*domain.Group, error)

	// Transaction log queries (statements, reconciliation)
	AccountHistory(ctx context.Context, accountID uuid.UUID, dateRange domain.DateRange) ([]domain.TransactionRecord, error)
	MemberHistory(ctx context.Context, memberID uuid.UUID) ([]domain.TransactionRecord, error)
	FindRecordByExternalReference(ctx context.Context, externalReference string) (*domain.TransactionRecord, error)

	// Contribution aggregates
	GetContributionAggregate(ctx context.Context, groupID, memberID uuid.UUID) (*domain.MemberContributionAggregate, error)
	ListMemberShares(ctx context.Context, groupID uuid.UUID) ([]domain.MemberContributionAggregate, error)

	// Atomic ledger operations
	RecordContributionAtomic(ctx context.Context, params ContributionParams) (*ContributionOutcome, error)
	ExecuteTransferAtomic(ctx context.Context, params TransferParams) (*TransferOutcome, error)
	ExecuteRotationPayoutAtomic(ctx context.Context, params RotationPayoutParams) (*TransferOutcome, error)
	DistributeDividendsAtomic(ctx context.Context, params DividendParams) error
	RecordExternalMovementAtomic(ctx context.Context, params ExternalMovementParams) (*domain.TransactionRecord, error)

	// Loans
	CreateLoan(ctx context.Context, loan *domain.Loan) error
	GetLoan(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error)
	ListLoansByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]domain.Loan, error)
	RecordGuarantorApproval(ctx context.Context, loanID, memberID uuid.UUID, approvedAt time.Time) (*domain.Loan, error)
	UpdateLoanStatus(ctx context.Context, loanID uuid.UUID, from, to domain.LoanStatus, expectedVersion int64, at time.Time) error
	DisburseLoanAtomic(ctx context.Context, params DisbursementParams) error
	ApplyRepaymentAtomic(ctx context.Context, params RepaymentParams) error
	SaveLateFeeAssessmentAtomic(ctx context.Context, params LateFeeParams) error
}
