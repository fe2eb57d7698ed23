/**
 * @description
 * ContributionRecorder: records a member's payment into their group, by
 * wallet, cash, or mobile money. Wallet-funded contributions may split across
 * several destination accounts; the split must sum to the contribution amount
 * exactly or nothing is written.
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

// ContributionRequest is the caller-supplied shape for one contribution.
type ContributionRequest struct {
	GroupID           uuid.UUID
	MemberID          uuid.UUID
	Amount            int64
	Method            domain.PaymentMethod
	VerifiedBy        *uuid.UUID
	ExternalReference *string

	// Allocations splits a wallet-funded contribution across destination
	// account kinds. Empty means the full amount goes to savings.
	Allocations []domain.Allocation
}

// RecordContribution validates the payment against the group's policy,
// applies the ledger credits, the log rows, and the aggregate update in one
// atomic store operation, and publishes ContributionRecorded after commit.
func (s *Service) RecordContribution(ctx context.Context, req ContributionRequest) (*domain.ContributionReceipt, error) {
	// 1. Basic input validation, before anything is loaded.
	if req.Amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	if !domain.ValidPaymentMethod(req.Method) {
		return nil, domain.NewValidationError("method", fmt.Sprintf("unknown payment method %q", req.Method))
	}

	group, err := s.repo.GetGroup(ctx, req.GroupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}
	member := group.MemberByUserID(req.MemberID)
	if member == nil {
		// Callers may pass the membership ID directly.
		for i := range group.Members {
			if group.Members[i].ID == req.MemberID {
				member = &group.Members[i]
				break
			}
		}
	}
	if member == nil {
		return nil, store.ErrMemberNotFound
	}

	// 2. Policy validation: equal-contribution archetypes reject amounts
	//    that do not match the group's fixed schedule.
	result, err := s.policies.Validate(group.Archetype, policy.OpContribution, policy.Params{
		Amount:               req.Amount,
		ExpectedContribution: group.ContributionAmount,
	})
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, policyViolation(group.Archetype, policy.OpContribution, result)
	}

	// 3. Resolve the allocation split. The default is everything to savings.
	allocations := req.Allocations
	if len(allocations) == 0 {
		allocations = []domain.Allocation{{Kind: domain.AccountSavings, Amount: req.Amount}}
	}
	if sum := domain.SumAllocations(allocations); sum != req.Amount {
		return nil, &domain.AllocationMismatchError{Expected: req.Amount, Got: sum}
	}
	for _, a := range allocations {
		if a.Amount <= 0 {
			return nil, domain.NewValidationError("allocations", "each allocation must be positive")
		}
		if !domain.ValidAccountKind(a.Kind) || a.Kind == domain.AccountWallet {
			return nil, domain.NewValidationError("allocations", fmt.Sprintf("invalid destination kind %q", a.Kind))
		}
	}

	// 4. Build the credit legs and log rows.
	now := s.now()
	credits := make([]store.CreditLeg, 0, len(allocations))
	records := make([]domain.TransactionRecord, 0, len(allocations))
	for _, a := range allocations {
		account, err := s.repo.GetGroupAccount(ctx, group.ID, a.Kind)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s account: %w", a.Kind, err)
		}
		credits = append(credits, store.CreditLeg{AccountID: account.ID, Kind: a.Kind, Amount: a.Amount})
		records = append(records, domain.TransactionRecord{
			ID:                uuid.New(),
			GroupID:           &group.ID,
			Type:              domain.TxContribution,
			Amount:            a.Amount,
			AccountID:         account.ID,
			AccountKind:       a.Kind,
			ActorMemberID:     &member.ID,
			Method:            req.Method,
			Description:       fmt.Sprintf("Contribution to %s", a.Kind),
			ExternalReference: req.ExternalReference,
			VerifiedBy:        req.VerifiedBy,
			Status:            domain.TxCompleted,
			OccurredAt:        now,
		})
	}

	// 5. Wallet-funded contributions debit the member's wallet in the same
	//    transaction. The debit is a balance mutation like any other, so it
	//    gets its own log row, linked to the destination credits by a shared
	//    transfer ID.
	var walletDebit *store.DebitLeg
	if req.Method == domain.MethodWallet {
		wallet, err := s.repo.FindWalletByUserID(ctx, member.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load contributor wallet: %w", err)
		}
		if !wallet.CanDebit(req.Amount) {
			return nil, store.ErrInsufficientFunds
		}
		walletDebit = &store.DebitLeg{
			AccountID:       wallet.ID,
			Amount:          req.Amount,
			ExpectedVersion: wallet.Version,
		}
		transferID := uuid.New()
		for i := range records {
			records[i].TransferID = &transferID
		}
		records = append(records, domain.TransactionRecord{
			ID:                uuid.New(),
			GroupID:           &group.ID,
			Type:              domain.TxContribution,
			Amount:            req.Amount,
			AccountID:         wallet.ID,
			AccountKind:       domain.AccountWallet,
			ActorMemberID:     &member.ID,
			Method:            req.Method,
			Description:       "Contribution paid from wallet",
			ExternalReference: req.ExternalReference,
			VerifiedBy:        req.VerifiedBy,
			TransferID:        &transferID,
			Status:            domain.TxCompleted,
			OccurredAt:        now,
		})
	}

	entry := domain.ContributionEntry{
		ID:                uuid.New(),
		Amount:            req.Amount,
		OccurredAt:        now,
		Method:            req.Method,
		VerifiedBy:        req.VerifiedBy,
		Status:            domain.TxCompleted,
		ExternalReference: req.ExternalReference,
	}

	// For sacco groups the contribution also grows the member's share
	// sub-ledger, which dividend runs distribute against.
	updateShares := group.Archetype == domain.ArchetypeSacco

	outcome, err := s.repo.RecordContributionAtomic(ctx, store.ContributionParams{
		GroupID:       group.ID,
		MemberID:      member.ID,
		Amount:        req.Amount,
		Method:        req.Method,
		Credits:       credits,
		WalletDebit:   walletDebit,
		Records:       records,
		Entry:         entry,
		UpdateShares:  updateShares,
		ShareIncrease: req.Amount,
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventContributionRecorded, domain.ContributionRecordedEvent{
		GroupID:    group.ID,
		MemberID:   member.ID,
		Amount:     req.Amount,
		Method:     req.Method,
		NewTotal:   outcome.AggregateTotal,
		OccurredAt: now,
	})

	return &domain.ContributionReceipt{
		GroupID:        group.ID,
		MemberID:       member.ID,
		Amount:         req.Amount,
		Method:         req.Method,
		Allocations:    allocations,
		Records:        outcome.Records,
		AggregateTotal: outcome.AggregateTotal,
		RecordedAt:     now,
	}, nil
}

// ContributionStanding returns a member's aggregate with history for
// statements and reconciliation.
func (s *Service) ContributionStanding(ctx context.Context, groupID, memberID uuid.UUID) (*domain.MemberContributionAggregate, error) {
	return s.repo.GetContributionAggregate(ctx, groupID, memberID)
}
