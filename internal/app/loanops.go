/**
 * @description
 * Loan lifecycle orchestration: application, guarantor approval, rejection,
 * disbursement, repayment allocation, late-fee assessment, and the explicit
 * default transition. Schedule math lives in internal/loan; this file wires
 * it to policy checks, account movements, and the atomic store operations.
 *
 * State machine:
 *
 *   pending -> approved -> disbursed -> active -> completed | defaulted
 *   pending -> rejected
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/chamahub/ledger-service/internal/domain"
	loanmath "github.com/chamahub/ledger-service/internal/loan"
	"github.com/chamahub/ledger-service/internal/policy"
	"github.com/chamahub/ledger-service/internal/store"
	"github.com/google/uuid"
)

// LoanApplication is the caller-supplied shape for a new loan.
type LoanApplication struct {
	GroupID    *uuid.UUID // nil for personal loans
	BorrowerID uuid.UUID  // membership ID for group loans, user ID otherwise
	Principal  int64
	TermMonths int
	Guarantors []uuid.UUID

	// Rate and interest model for personal loans and auction-priced meeting
	// loans; group loans default to the archetype policy when zero.
	InterestRate float64
	InterestType domain.InterestType
}

// ApplyForLoan validates eligibility and creates a pending loan with a
// schedule computed from the application date. The schedule is recomputed at
// disbursement once the real disbursement date is known.
func (s *Service) ApplyForLoan(ctx context.Context, req LoanApplication) (*domain.Loan, error) {
	if req.Principal <= 0 {
		return nil, domain.NewValidationError("principal", "must be positive")
	}
	if req.TermMonths < s.loanSettings.MinTermMonths || req.TermMonths > s.loanSettings.MaxTermMonths {
		return nil, domain.NewValidationError("term_months", fmt.Sprintf(
			"must be between %d and %d", s.loanSettings.MinTermMonths, s.loanSettings.MaxTermMonths))
	}

	rate := req.InterestRate
	interestType := req.InterestType

	if req.GroupID != nil {
		group, err := s.repo.GetGroup(ctx, *req.GroupID)
		if err != nil {
			return nil, fmt.Errorf("failed to load group: %w", err)
		}
		groupPolicy, err := s.policies.PolicyFor(group.Archetype)
		if err != nil {
			return nil, err
		}

		// Eligibility is capped by the borrower's verified savings.
		var memberSavings int64
		aggregate, err := s.repo.GetContributionAggregate(ctx, group.ID, req.BorrowerID)
		if err == nil {
			memberSavings = aggregate.Total
		} else if err != store.ErrAggregateNotFound {
			return nil, fmt.Errorf("failed to load contribution aggregate: %w", err)
		}

		result, err := s.policies.Validate(group.Archetype, policy.OpLoanApplication, policy.Params{
			Amount:         req.Principal,
			MemberSavings:  memberSavings,
			GuarantorCount: len(req.Guarantors),
			TermMonths:     req.TermMonths,
		})
		if err != nil {
			return nil, err
		}
		if !result.Valid {
			return nil, policyViolation(group.Archetype, policy.OpLoanApplication, result)
		}

		if rate == 0 {
			rate = groupPolicy.AnnualInterestRate
		}
		if interestType == "" {
			interestType = groupPolicy.InterestType
		}
	}
	if interestType == "" {
		interestType = domain.InterestSimple
	}
	if !domain.ValidInterestType(interestType) {
		return nil, domain.NewValidationError("interest_type", fmt.Sprintf("unknown interest type %q", interestType))
	}

	processingFee := int64(float64(req.Principal) * s.loanSettings.ProcessingFeePercent / 100)
	appliedAt := s.now()

	schedule, totalRepayable, err := loanmath.CalculateSchedule(
		req.Principal, rate, interestType, req.TermMonths, processingFee, appliedAt)
	if err != nil {
		return nil, err
	}

	guarantors := make([]domain.Guarantor, 0, len(req.Guarantors))
	for _, memberID := range req.Guarantors {
		guarantors = append(guarantors, domain.Guarantor{MemberID: memberID})
	}

	newLoan := &domain.Loan{
		ID:             uuid.New(),
		GroupID:        req.GroupID,
		BorrowerID:     req.BorrowerID,
		Principal:      req.Principal,
		InterestRate:   rate,
		InterestType:   interestType,
		TermMonths:     req.TermMonths,
		ProcessingFee:  processingFee,
		TotalRepayable: totalRepayable,
		Status:         domain.LoanPending,
		Guarantors:     guarantors,
		Schedule:       schedule,
		Version:        1,
		AppliedAt:      appliedAt,
	}
	if err := s.repo.CreateLoan(ctx, newLoan); err != nil {
		return nil, fmt.Errorf("failed to create loan: %w", err)
	}
	return newLoan, nil
}

// ApproveGuarantor records one guarantor's sign-off on a pending loan.
func (s *Service) ApproveGuarantor(ctx context.Context, loanID, memberID uuid.UUID) (*domain.Loan, error) {
	ln, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if ln.Status.Terminal() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("cannot co-sign a %s loan", ln.Status))
	}
	return s.repo.RecordGuarantorApproval(ctx, loanID, memberID, s.now())
}

// ApproveLoan moves a pending loan to approved. When the group's archetype
// requires guarantors, approval is blocked until enough have signed off.
func (s *Service) ApproveLoan(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	ln, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if ln.Status != domain.LoanPending {
		return nil, &domain.InvalidTransitionError{From: ln.Status, To: domain.LoanApproved}
	}

	if ln.GroupID != nil {
		group, err := s.repo.GetGroup(ctx, *ln.GroupID)
		if err != nil {
			return nil, fmt.Errorf("failed to load group: %w", err)
		}
		groupPolicy, err := s.policies.PolicyFor(group.Archetype)
		if err != nil {
			return nil, err
		}
		if approved := ln.ApprovedGuarantorCount(); approved < groupPolicy.GuarantorsRequired {
			return nil, &domain.PolicyViolationError{
				Archetype: group.Archetype,
				Operation: "loan_approval",
				Violations: []string{fmt.Sprintf(
					"%d guarantor approvals required, %d recorded", groupPolicy.GuarantorsRequired, approved)},
			}
		}
	}

	if err := s.repo.UpdateLoanStatus(ctx, ln.ID, domain.LoanPending, domain.LoanApproved, ln.Version, s.now()); err != nil {
		return nil, err
	}
	ln.Status = domain.LoanApproved
	ln.Version++

	s.publish(ctx, domain.EventLoanApproved, domain.LoanLifecycleEvent{
		LoanID:     ln.ID,
		GroupID:    ln.GroupID,
		BorrowerID: ln.BorrowerID,
		Amount:     ln.Principal,
		Status:     ln.Status,
		OccurredAt: s.now(),
	})
	return ln, nil
}

// RejectLoan terminates a pending loan.
func (s *Service) RejectLoan(ctx context.Context, loanID uuid.UUID) error {
	ln, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}
	if ln.Status != domain.LoanPending {
		return &domain.InvalidTransitionError{From: ln.Status, To: domain.LoanRejected}
	}
	return s.repo.UpdateLoanStatus(ctx, ln.ID, domain.LoanPending, domain.LoanRejected, ln.Version, s.now())
}

// DisburseLoan pays out an approved loan. Group loans move funds from the
// group's loan account into the borrower's wallet; personal loans create the
// funds directly in the wallet. The schedule is recomputed from the real
// disbursement date, discarding the application-date schedule. The default
// amount is principal minus the processing fee, deducted up front.
func (s *Service) DisburseLoan(ctx context.Context, loanID uuid.UUID, amount *int64, initiatedBy *uuid.UUID) (*domain.Loan, error) {
	ln, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if ln.Status != domain.LoanApproved {
		return nil, &domain.InvalidTransitionError{From: ln.Status, To: domain.LoanDisbursed}
	}

	disburseAmount := ln.Principal - ln.ProcessingFee
	if amount != nil {
		disburseAmount = *amount
	}
	if disburseAmount <= 0 || disburseAmount > ln.Principal {
		return nil, domain.NewValidationError("amount", "must be positive and at most the principal")
	}

	now := s.now()

	// Recompute the schedule from the real disbursement date.
	schedule, totalRepayable, err := loanmath.CalculateSchedule(
		ln.Principal, ln.InterestRate, ln.InterestType, ln.TermMonths, ln.ProcessingFee, now)
	if err != nil {
		return nil, err
	}
	ln.Schedule = schedule
	ln.TotalRepayable = totalRepayable
	ln.Status = domain.LoanDisbursed
	ln.DisbursedAt = &now
	ln.NextPaymentDue = loanmath.NextPaymentDue(schedule)

	// Resolve the borrower's wallet, lazily creating it. For group loans the
	// borrower ID is the membership; the wallet belongs to the user.
	walletUserID := ln.BorrowerID
	currency := s.defaultCurrency
	var sourceAccountID *uuid.UUID
	if ln.GroupID != nil {
		group, err := s.repo.GetGroup(ctx, *ln.GroupID)
		if err != nil {
			return nil, fmt.Errorf("failed to load group: %w", err)
		}
		currency = group.Currency
		member := group.MemberByID(ln.BorrowerID)
		if member == nil {
			return nil, store.ErrMemberNotFound
		}
		walletUserID = member.UserID
		loanAccount, err := s.repo.GetGroupAccount(ctx, group.ID, domain.AccountLoan)
		if err != nil {
			return nil, fmt.Errorf("failed to load group loan account: %w", err)
		}
		if !loanAccount.CanDebit(disburseAmount) {
			return nil, store.ErrInsufficientFunds
		}
		sourceAccountID = &loanAccount.ID
	}

	wallet, err := s.repo.FindWalletByUserID(ctx, walletUserID)
	if err == store.ErrWalletNotFound {
		wallet, err = s.repo.CreateWallet(ctx, walletUserID, currency)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve borrower wallet: %w", err)
	}

	transferID := uuid.New()
	records := []domain.TransactionRecord{{
		ID:          uuid.New(),
		GroupID:     ln.GroupID,
		Type:        domain.TxLoanDisbursed,
		Amount:      disburseAmount,
		AccountID:   wallet.ID,
		AccountKind: domain.AccountWallet,
		Method:      domain.MethodWallet,
		Description: fmt.Sprintf("Loan %s disbursement", ln.ID),
		VerifiedBy:  initiatedBy,
		TransferID:  &transferID,
		Status:      domain.TxCompleted,
		OccurredAt:  now,
	}}
	if sourceAccountID != nil {
		records = append(records, domain.TransactionRecord{
			ID:          uuid.New(),
			GroupID:     ln.GroupID,
			Type:        domain.TxLoanDisbursed,
			Amount:      disburseAmount,
			AccountID:   *sourceAccountID,
			AccountKind: domain.AccountLoan,
			Method:      domain.MethodWallet,
			Description: fmt.Sprintf("Loan %s disbursement", ln.ID),
			VerifiedBy:  initiatedBy,
			TransferID:  &transferID,
			Status:      domain.TxCompleted,
			OccurredAt:  now,
		})
	}

	err = s.repo.DisburseLoanAtomic(ctx, store.DisbursementParams{
		Loan:                ln,
		ExpectedLoanVersion: ln.Version,
		SourceAccountID:     sourceAccountID,
		DestinationWalletID: wallet.ID,
		Amount:              disburseAmount,
		Records:             records,
	})
	if err != nil {
		return nil, err
	}
	ln.Version++

	s.publish(ctx, domain.EventLoanDisbursed, domain.LoanLifecycleEvent{
		LoanID:     ln.ID,
		GroupID:    ln.GroupID,
		BorrowerID: ln.BorrowerID,
		Amount:     disburseAmount,
		Status:     ln.Status,
		OccurredAt: now,
	})
	return ln, nil
}

// RepaymentResult reports what a repayment did.
type RepaymentResult struct {
	Applied     int64 `json:"applied"`
	FullyRepaid bool  `json:"fully_repaid"`
}

// ApplyLoanRepayment allocates an incoming amount across the schedule
// oldest-first and moves the money: the principal portion returns to the
// group's loan account and the interest portion lands in interest-earned.
// Wallet-funded repayments debit the borrower's wallet atomically.
func (s *Service) ApplyLoanRepayment(ctx context.Context, loanID uuid.UUID, amount int64, method domain.PaymentMethod, verifiedBy *uuid.UUID) (*RepaymentResult, error) {
	if amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	if !domain.ValidPaymentMethod(method) {
		return nil, domain.NewValidationError("method", fmt.Sprintf("unknown payment method %q", method))
	}

	ln, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if ln.Status != domain.LoanDisbursed && ln.Status != domain.LoanActive {
		return nil, &domain.InvalidTransitionError{From: ln.Status, To: domain.LoanActive}
	}

	var outstanding int64
	for _, inst := range ln.Schedule {
		outstanding += inst.Total - inst.PaidAmount
	}
	if amount > outstanding {
		return nil, domain.NewValidationError("amount", fmt.Sprintf(
			"exceeds outstanding balance of %d", outstanding))
	}

	// Snapshot paid principal before allocation so the interest/principal
	// split of this payment can be derived afterwards.
	principalBefore := paidPrincipal(ln.Schedule)

	allocation, err := loanmath.AllocateRepayment(ln.Schedule, amount)
	if err != nil {
		return nil, err
	}

	principalApplied := paidPrincipal(ln.Schedule) - principalBefore
	interestApplied := allocation.Applied - principalApplied

	now := s.now()
	ln.AmountRepaid += allocation.Applied
	ln.NextPaymentDue = loanmath.NextPaymentDue(ln.Schedule)
	expectedVersion := ln.Version
	if allocation.FullyRepaid {
		ln.Status = domain.LoanCompleted
		ln.CompletedAt = &now
	} else if ln.Status == domain.LoanDisbursed {
		ln.Status = domain.LoanActive
	}

	var credits []store.CreditLeg
	var records []domain.TransactionRecord
	var walletDebit *store.DebitLeg

	if ln.GroupID != nil {
		loanAccount, err := s.repo.GetGroupAccount(ctx, *ln.GroupID, domain.AccountLoan)
		if err != nil {
			return nil, fmt.Errorf("failed to load group loan account: %w", err)
		}
		if principalApplied > 0 {
			credits = append(credits, store.CreditLeg{AccountID: loanAccount.ID, Kind: domain.AccountLoan, Amount: principalApplied})
			records = append(records, repaymentRecord(ln, loanAccount.ID, domain.AccountLoan, domain.TxLoanRepayment, principalApplied, method, verifiedBy, now))
		}
		if interestApplied > 0 {
			interestAccount, err := s.repo.GetGroupAccount(ctx, *ln.GroupID, domain.AccountInterestEarned)
			if err != nil {
				return nil, fmt.Errorf("failed to load interest account: %w", err)
			}
			credits = append(credits, store.CreditLeg{AccountID: interestAccount.ID, Kind: domain.AccountInterestEarned, Amount: interestApplied})
			records = append(records, repaymentRecord(ln, interestAccount.ID, domain.AccountInterestEarned, domain.TxInterestEarned, interestApplied, method, verifiedBy, now))
		}
	} else {
		// Personal loans have no group accounts; the repayment only leaves
		// the borrower's wallet and the log row.
		records = append(records, repaymentRecord(ln, uuid.Nil, domain.AccountWallet, domain.TxLoanRepayment, allocation.Applied, method, verifiedBy, now))
	}

	if method == domain.MethodWallet {
		walletUserID, err := s.loanWalletUser(ctx, ln)
		if err != nil {
			return nil, err
		}
		wallet, err := s.repo.FindWalletByUserID(ctx, walletUserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load borrower wallet: %w", err)
		}
		if !wallet.CanDebit(amount) {
			return nil, store.ErrInsufficientFunds
		}
		walletDebit = &store.DebitLeg{AccountID: wallet.ID, Amount: amount, ExpectedVersion: wallet.Version}
		if ln.GroupID == nil && len(records) > 0 {
			records[0].AccountID = wallet.ID
		} else {
			// The wallet debit gets its own log row, linked to the credit
			// legs by a shared transfer ID.
			transferID := uuid.New()
			for i := range records {
				records[i].TransferID = &transferID
			}
			debit := repaymentRecord(ln, wallet.ID, domain.AccountWallet, domain.TxLoanRepayment, amount, method, verifiedBy, now)
			debit.TransferID = &transferID
			records = append(records, debit)
		}
	}

	err = s.repo.ApplyRepaymentAtomic(ctx, store.RepaymentParams{
		Loan:                ln,
		ExpectedLoanVersion: expectedVersion,
		PayerWalletDebit:    walletDebit,
		Credits:             credits,
		Records:             records,
	})
	if err != nil {
		return nil, err
	}
	ln.Version++

	s.publish(ctx, domain.EventLoanRepayment, domain.LoanLifecycleEvent{
		LoanID:     ln.ID,
		GroupID:    ln.GroupID,
		BorrowerID: ln.BorrowerID,
		Amount:     allocation.Applied,
		Status:     ln.Status,
		OccurredAt: now,
	})

	return &RepaymentResult{Applied: allocation.Applied, FullyRepaid: allocation.FullyRepaid}, nil
}

// paidPrincipal sums the principal covered so far. Within an installment the
// principal portion fills before interest, so the split of any payment is
// deterministic.
func paidPrincipal(schedule []domain.Installment) int64 {
	var sum int64
	for _, inst := range schedule {
		if inst.PaidAmount >= inst.PrincipalPortion {
			sum += inst.PrincipalPortion
		} else {
			sum += inst.PaidAmount
		}
	}
	return sum
}

func repaymentRecord(ln *domain.Loan, accountID uuid.UUID, kind domain.AccountKind, txType domain.TransactionType, amount int64, method domain.PaymentMethod, verifiedBy *uuid.UUID, at time.Time) domain.TransactionRecord {
	return domain.TransactionRecord{
		ID:          uuid.New(),
		GroupID:     ln.GroupID,
		Type:        txType,
		Amount:      amount,
		AccountID:   accountID,
		AccountKind: kind,
		Method:      method,
		Description: fmt.Sprintf("Loan %s repayment", ln.ID),
		VerifiedBy:  verifiedBy,
		Status:      domain.TxCompleted,
		OccurredAt:  at,
	}
}

// loanWalletUser resolves the user whose wallet funds a loan's movements.
func (s *Service) loanWalletUser(ctx context.Context, ln *domain.Loan) (uuid.UUID, error) {
	if ln.GroupID == nil {
		return ln.BorrowerID, nil
	}
	group, err := s.repo.GetGroup(ctx, *ln.GroupID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to load group: %w", err)
	}
	member := group.MemberByID(ln.BorrowerID)
	if member == nil {
		return uuid.Nil, store.ErrMemberNotFound
	}
	return member.UserID, nil
}

// AssessLoanLateFees charges the configured late fee on every overdue unpaid
// installment that has not been assessed before. The fee raises the loan's
// total repayable and credits the group's fines account. Re-running with no
// intervening payments changes nothing and writes nothing.
func (s *Service) AssessLoanLateFees(ctx context.Context, loanID uuid.UUID, asOf time.Time) (int64, error) {
	ln, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return 0, err
	}
	if ln.Status != domain.LoanDisbursed && ln.Status != domain.LoanActive {
		return 0, domain.NewValidationError("status", fmt.Sprintf("cannot assess fees on a %s loan", ln.Status))
	}

	total, err := loanmath.AssessLateFees(ln.Schedule, asOf, s.loanSettings.LateFeePercent)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}

	// Fees extend what the borrower owes but stay out of installment totals:
	// total repayable is always sum(installment totals) + sum(late fees).
	ln.TotalRepayable += total

	var finesCredit *store.CreditLeg
	var record *domain.TransactionRecord
	if ln.GroupID != nil {
		finesAccount, err := s.repo.GetGroupAccount(ctx, *ln.GroupID, domain.AccountFines)
		if err != nil {
			return 0, fmt.Errorf("failed to load fines account: %w", err)
		}
		finesCredit = &store.CreditLeg{AccountID: finesAccount.ID, Kind: domain.AccountFines, Amount: total}
		rec := domain.TransactionRecord{
			ID:          uuid.New(),
			GroupID:     ln.GroupID,
			Type:        domain.TxFine,
			Amount:      total,
			AccountID:   finesAccount.ID,
			AccountKind: domain.AccountFines,
			Method:      domain.MethodWallet,
			Description: fmt.Sprintf("Late fees on loan %s", ln.ID),
			Status:      domain.TxCompleted,
			OccurredAt:  asOf,
		}
		record = &rec
	}

	err = s.repo.SaveLateFeeAssessmentAtomic(ctx, store.LateFeeParams{
		Loan:                ln,
		ExpectedLoanVersion: ln.Version,
		FinesCredit:         finesCredit,
		Record:              record,
	})
	if err != nil {
		return 0, err
	}
	ln.Version++

	s.publish(ctx, domain.EventFineApplied, domain.FineAppliedEvent{
		LoanID:     ln.ID,
		BorrowerID: ln.BorrowerID,
		FeeTotal:   total,
		OccurredAt: asOf,
	})
	return total, nil
}

// MarkLoanDefaulted is the explicit operator transition out of a delinquent
// loan. It is never triggered automatically by late fees.
func (s *Service) MarkLoanDefaulted(ctx context.Context, loanID uuid.UUID) error {
	ln, err := s.repo.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}
	if ln.Status != domain.LoanDisbursed && ln.Status != domain.LoanActive {
		return &domain.InvalidTransitionError{From: ln.Status, To: domain.LoanDefaulted}
	}
	if err := s.repo.UpdateLoanStatus(ctx, ln.ID, ln.Status, domain.LoanDefaulted, ln.Version, s.now()); err != nil {
		return err
	}

	var outstanding int64
	for i := range ln.Schedule {
		outstanding += ln.Schedule[i].Outstanding()
	}
	s.publish(ctx, domain.EventLoanDefaulted, domain.LoanLifecycleEvent{
		LoanID:     ln.ID,
		GroupID:    ln.GroupID,
		BorrowerID: ln.BorrowerID,
		Amount:     outstanding,
		Status:     domain.LoanDefaulted,
		OccurredAt: s.now(),
	})
	return nil
}

// GetLoan returns a loan with its schedule and guarantors.
func (s *Service) GetLoan(ctx context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	return s.repo.GetLoan(ctx, loanID)
}
