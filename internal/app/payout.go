/**
 * @description
 * Archetype payouts: the rotation payout that empties the pool into one
 * member's wallet, pro-rata dividend distribution for saccos, the
 * table-banking meeting disbursement at an auctioned rate, and the
 * investment-club market placement. Each operation asks the policy engine to
 * compute the effect, then applies it through one atomic store call.
 */

package app

import (
	"context"
	"fmt"

	"github.com/chamahub/ledger-service/internal/domain"
	"github.com/chamahub/ledger-service/internal/policy"
	"github.com/chamahub/ledger-service/internal/store"
	"github.com/google/uuid"
)

// PayoutResult reports what an archetype payout moved.
type PayoutResult struct {
	GroupID     uuid.UUID  `json:"group_id"`
	RecipientID *uuid.UUID `json:"recipient_id,omitempty"`
	Amount      int64      `json:"amount"`
	Cycle       int        `json:"cycle,omitempty"`
}

// ExecuteRotationPayout pays the pooled savings to the member whose turn it
// is this cycle and advances the group's cycle counter. A concurrent payout
// for the same cycle loses on the cycle guard and changes nothing.
func (s *Service) ExecuteRotationPayout(ctx context.Context, groupID uuid.UUID, initiatedBy *uuid.UUID) (*PayoutResult, error) {
	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	groupPolicy, err := s.policies.PolicyFor(group.Archetype)
	if err != nil {
		return nil, err
	}
	if groupPolicy.PayoutSystem != policy.PayoutRotation {
		return nil, &domain.PolicyViolationError{
			Archetype:  group.Archetype,
			Operation:  string(policy.OpPayout),
			Violations: []string{"archetype does not pay out by rotation"},
		}
	}

	pool, err := s.repo.GetGroupAccount(ctx, group.ID, domain.AccountSavings)
	if err != nil {
		return nil, fmt.Errorf("failed to load pool account: %w", err)
	}

	effect, err := s.policies.ApplyBusinessLogic(group.Archetype, group, policy.EffectParams{
		PoolBalance: pool.Balance,
	})
	if err != nil {
		return nil, err
	}
	if effect == nil {
		// Empty pool: nothing to pay this cycle.
		return &PayoutResult{GroupID: group.ID, Cycle: group.CurrentCycle}, nil
	}
	payout := effect.RotationPayout

	wallet, err := s.repo.FindWalletByUserID(ctx, payout.RecipientUserID)
	if err == store.ErrWalletNotFound {
		wallet, err = s.repo.CreateWallet(ctx, payout.RecipientUserID, group.Currency)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipient wallet: %w", err)
	}

	now := s.now()
	transferID := uuid.New()
	records := [2]domain.TransactionRecord{
		{
			ID:            uuid.New(),
			GroupID:       &group.ID,
			Type:          domain.TxPayout,
			Amount:        payout.Amount,
			AccountID:     pool.ID,
			AccountKind:   pool.Kind,
			ActorMemberID: &payout.RecipientMemberID,
			Method:        domain.MethodWallet,
			Description:   fmt.Sprintf("Rotation payout, cycle %d", payout.Cycle),
			VerifiedBy:    initiatedBy,
			TransferID:    &transferID,
			Status:        domain.TxCompleted,
			OccurredAt:    now,
		},
		{
			ID:            uuid.New(),
			GroupID:       &group.ID,
			Type:          domain.TxPayout,
			Amount:        payout.Amount,
			AccountID:     wallet.ID,
			AccountKind:   domain.AccountWallet,
			ActorMemberID: &payout.RecipientMemberID,
			Method:        domain.MethodWallet,
			Description:   fmt.Sprintf("Rotation payout, cycle %d", payout.Cycle),
			VerifiedBy:    initiatedBy,
			TransferID:    &transferID,
			Status:        domain.TxCompleted,
			OccurredAt:    now,
		},
	}

	_, err = s.repo.ExecuteRotationPayoutAtomic(ctx, store.RotationPayoutParams{
		GroupID:         group.ID,
		FromAccountID:   pool.ID,
		ToWalletID:      wallet.ID,
		Amount:          payout.Amount,
		ExpectedVersion: pool.Version,
		FromCycle:       payout.Cycle,
		Records:         records,
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventPayoutExecuted, domain.PayoutExecutedEvent{
		GroupID:     group.ID,
		RecipientID: &payout.RecipientMemberID,
		Amount:      payout.Amount,
		PayoutKind:  string(policy.EffectRotationPayout),
		Cycle:       payout.Cycle,
		OccurredAt:  now,
	})

	return &PayoutResult{
		GroupID:     group.ID,
		RecipientID: &payout.RecipientMemberID,
		Amount:      payout.Amount,
		Cycle:       payout.Cycle,
	}, nil
}

// DistributeDividends splits a dividend at ratePercent of each member's share
// balance, paid from the group's interest-earned account into member wallets.
// Rounding remainders stay in the group account.
func (s *Service) DistributeDividends(ctx context.Context, groupID uuid.UUID, ratePercent float64, initiatedBy *uuid.UUID) (*PayoutResult, error) {
	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	groupPolicy, err := s.policies.PolicyFor(group.Archetype)
	if err != nil {
		return nil, err
	}
	if groupPolicy.PayoutSystem != policy.PayoutDividend {
		return nil, &domain.PolicyViolationError{
			Archetype:  group.Archetype,
			Operation:  string(policy.OpPayout),
			Violations: []string{"archetype does not pay out dividends"},
		}
	}

	aggregates, err := s.repo.ListMemberShares(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load member shares: %w", err)
	}
	shares := make([]policy.MemberShare, 0, len(aggregates))
	for _, a := range aggregates {
		shares = append(shares, policy.MemberShare{MemberID: a.MemberID, ShareBalance: a.ShareBalance})
	}

	source, err := s.repo.GetGroupAccount(ctx, group.ID, domain.AccountInterestEarned)
	if err != nil {
		return nil, fmt.Errorf("failed to load interest account: %w", err)
	}

	effect, err := s.policies.ApplyBusinessLogic(group.Archetype, group, policy.EffectParams{
		PoolBalance:         source.Balance,
		DividendRatePercent: ratePercent,
		Shares:              shares,
	})
	if err != nil {
		return nil, err
	}
	if effect == nil {
		return &PayoutResult{GroupID: group.ID}, nil
	}

	var total int64
	for _, share := range effect.DividendShares {
		total += share.Amount
	}
	if !source.CanDebit(total) {
		return nil, store.ErrInsufficientFunds
	}

	now := s.now()
	credits := make([]store.CreditLeg, 0, len(effect.DividendShares))
	records := make([]domain.TransactionRecord, 0, len(effect.DividendShares)+1)
	records = append(records, domain.TransactionRecord{
		ID:          uuid.New(),
		GroupID:     &group.ID,
		Type:        domain.TxDividend,
		Amount:      total,
		AccountID:   source.ID,
		AccountKind: source.Kind,
		Method:      domain.MethodWallet,
		Description: fmt.Sprintf("Dividend distribution at %.2f%%", ratePercent),
		VerifiedBy:  initiatedBy,
		Status:      domain.TxCompleted,
		OccurredAt:  now,
	})

	for _, share := range effect.DividendShares {
		member := group.MemberByID(share.MemberID)
		if member == nil {
			return nil, store.ErrMemberNotFound
		}
		wallet, err := s.repo.FindWalletByUserID(ctx, member.UserID)
		if err == store.ErrWalletNotFound {
			wallet, err = s.repo.CreateWallet(ctx, member.UserID, group.Currency)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve wallet for member %s: %w", member.ID, err)
		}
		credits = append(credits, store.CreditLeg{AccountID: wallet.ID, Kind: domain.AccountWallet, Amount: share.Amount})
		memberID := share.MemberID
		records = append(records, domain.TransactionRecord{
			ID:            uuid.New(),
			GroupID:       &group.ID,
			Type:          domain.TxDividend,
			Amount:        share.Amount,
			AccountID:     wallet.ID,
			AccountKind:   domain.AccountWallet,
			ActorMemberID: &memberID,
			Method:        domain.MethodWallet,
			Description:   fmt.Sprintf("Dividend at %.2f%% of shares", ratePercent),
			VerifiedBy:    initiatedBy,
			Status:        domain.TxCompleted,
			OccurredAt:    now,
		})
	}

	err = s.repo.DistributeDividendsAtomic(ctx, store.DividendParams{
		GroupID:         group.ID,
		FromAccountID:   source.ID,
		ExpectedVersion: source.Version,
		Credits:         credits,
		Records:         records,
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventPayoutExecuted, domain.PayoutExecutedEvent{
		GroupID:    group.ID,
		Amount:     total,
		PayoutKind: string(policy.EffectDividendSplit),
		OccurredAt: now,
	})

	return &PayoutResult{GroupID: group.ID, Amount: total}, nil
}

// ExecuteMeetingDisbursement runs the table-banking flow: the meeting auctions
// a loan at the winning rate and the funds leave immediately. The loan is
// created pre-approved (the meeting itself is the approval) and disbursed in
// the same call.
func (s *Service) ExecuteMeetingDisbursement(ctx context.Context, groupID, borrowerMemberID uuid.UUID, amount int64, auctionAnnualRate float64, termMonths int, initiatedBy *uuid.UUID) (*domain.Loan, error) {
	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	groupPolicy, err := s.policies.PolicyFor(group.Archetype)
	if err != nil {
		return nil, err
	}
	if groupPolicy.PayoutSystem != policy.PayoutImmediateLending {
		return nil, &domain.PolicyViolationError{
			Archetype:  group.Archetype,
			Operation:  string(policy.OpPayout),
			Violations: []string{"archetype does not lend at meetings"},
		}
	}

	effect, err := s.policies.ApplyBusinessLogic(group.Archetype, group, policy.EffectParams{
		BorrowerID:        borrowerMemberID,
		RequestedAmount:   amount,
		AuctionAnnualRate: auctionAnnualRate,
	})
	if err != nil {
		return nil, err
	}
	auction := effect.AuctionDisbursement

	ln, err := s.ApplyForLoan(ctx, LoanApplication{
		GroupID:      &group.ID,
		BorrowerID:   auction.BorrowerID,
		Principal:    auction.Amount,
		TermMonths:   termMonths,
		InterestRate: auction.AuctionAnnualRate,
		InterestType: domain.InterestSimple,
	})
	if err != nil {
		return nil, err
	}

	// The meeting vote stands in for the usual approval step.
	if err := s.repo.UpdateLoanStatus(ctx, ln.ID, domain.LoanPending, domain.LoanApproved, ln.Version, s.now()); err != nil {
		return nil, err
	}

	return s.DisburseLoan(ctx, ln.ID, nil, initiatedBy)
}

// ApproveInvestment authorizes a market placement for an investment club and
// moves the funds out of the ledger as an external debit referenced by the
// brokerage order ID.
func (s *Service) ApproveInvestment(ctx context.Context, groupID uuid.UUID, amount int64, orderReference string, initiatedBy *uuid.UUID) (*domain.TransactionRecord, error) {
	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}

	pool, err := s.repo.GetGroupAccount(ctx, group.ID, domain.AccountSavings)
	if err != nil {
		return nil, fmt.Errorf("failed to load pool account: %w", err)
	}

	result, err := s.policies.Validate(group.Archetype, policy.OpInvestment, policy.Params{
		Amount:      amount,
		PoolBalance: pool.Balance,
	})
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, policyViolation(group.Archetype, policy.OpInvestment, result)
	}

	now := s.now()
	record := domain.TransactionRecord{
		ID:                uuid.New(),
		GroupID:           &group.ID,
		Type:              domain.TxExternalDebit,
		Amount:            amount,
		AccountID:         pool.ID,
		AccountKind:       pool.Kind,
		Method:            domain.MethodBankTransfer,
		Description:       "Market investment placement",
		ExternalReference: &orderReference,
		VerifiedBy:        initiatedBy,
		Status:            domain.TxCompleted,
		OccurredAt:        now,
	}

	return s.repo.RecordExternalMovementAtomic(ctx, store.ExternalMovementParams{
		AccountID:         pool.ID,
		Amount:            amount,
		ExternalReference: orderReference,
		Record:            record,
		Debit:             true,
	})
}
