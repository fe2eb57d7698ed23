/**
 * @description
 * TransferEngine: moves money between two ledger accounts as one atomic unit
 * of two linked transaction records. A failed debit aborts with zero effect;
 * there is no half-applied transfer.
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/chamahub/ledger-service/internal/domain"
	"github.com/chamahub/ledger-service/internal/store"
	"github.com/google/uuid"
)

// TransferResult reports the post-commit balances of both accounts.
type TransferResult struct {
	TransferID  uuid.UUID `json:"transfer_id"`
	FromBalance int64     `json:"from_balance"`
	ToBalance   int64     `json:"to_balance"`
}

// Transfer debits fromAccount and credits toAccount in one atomic store
// operation, writing a linked debit-leg and credit-leg record. It fails with
// store.ErrInsufficientFunds when the source balance is too low, leaving
// every account and the log unchanged.
func (s *Service) Transfer(ctx context.Context, fromAccountID, toAccountID uuid.UUID, amount int64, verifiedBy *uuid.UUID) (*TransferResult, error) {
	if amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	if fromAccountID == toAccountID {
		return nil, domain.NewValidationError("to_account", "must differ from source account")
	}

	from, err := s.repo.GetAccount(ctx, fromAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load source account: %w", err)
	}
	to, err := s.repo.GetAccount(ctx, toAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load destination account: %w", err)
	}
	if !from.CanDebit(amount) {
		return nil, store.ErrInsufficientFunds
	}

	transferID := uuid.New()
	now := s.now()
	records := [2]domain.TransactionRecord{
		s.transferLeg(transferID, from, domain.TxTransferDebit, amount, verifiedBy, now),
		s.transferLeg(transferID, to, domain.TxTransferCredit, amount, verifiedBy, now),
	}

	outcome, err := s.repo.ExecuteTransferAtomic(ctx, store.TransferParams{
		TransferID:      transferID,
		FromAccountID:   from.ID,
		ToAccountID:     to.ID,
		Amount:          amount,
		ExpectedVersion: from.Version,
		Records:         records,
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventTransferCompleted, domain.TransferCompletedEvent{
		TransferID:    transferID,
		FromAccountID: from.ID,
		ToAccountID:   to.ID,
		Amount:        amount,
		OccurredAt:    now,
	})

	return &TransferResult{
		TransferID:  transferID,
		FromBalance: outcome.FromBalance,
		ToBalance:   outcome.ToBalance,
	}, nil
}

func (s *Service) transferLeg(transferID uuid.UUID, account *domain.Account, legType domain.TransactionType, amount int64, verifiedBy *uuid.UUID, at time.Time) domain.TransactionRecord {
	description := "Transfer out"
	if legType == domain.TxTransferCredit {
		description = "Transfer in"
	}
	return domain.TransactionRecord{
		ID:          uuid.New(),
		GroupID:     account.GroupID,
		Type:        legType,
		Amount:      amount,
		AccountID:   account.ID,
		AccountKind: account.Kind,
		Method:      domain.MethodWallet,
		Description: description,
		VerifiedBy:  verifiedBy,
		TransferID:  &transferID,
		Status:      domain.TxCompleted,
		OccurredAt:  at,
	}
}

// FundWallet moves amount from a group account into a user's personal
// wallet, lazily creating the wallet when the user has none yet.
func (s *Service) FundWallet(ctx context.Context, groupID, userID uuid.UUID, amount int64, fromAccountID uuid.UUID, initiatedBy *uuid.UUID) (*TransferResult, error) {
	if amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}

	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load group: %w", err)
	}

	wallet, err := s.repo.FindWalletByUserID(ctx, userID)
	if err == store.ErrWalletNotFound {
		wallet, err = s.repo.CreateWallet(ctx, userID, group.Currency)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination wallet: %w", err)
	}

	result, err := s.Transfer(ctx, fromAccountID, wallet.ID, amount, initiatedBy)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventWalletFunded, domain.TransferCompletedEvent{
		TransferID:    result.TransferID,
		FromAccountID: fromAccountID,
		ToAccountID:   wallet.ID,
		Amount:        amount,
		OccurredAt:    s.now(),
	})
	return result, nil
}

// Balance returns an account's current balance.
func (s *Service) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// AccountStatement returns an account's append-only history within a range.
func (s *Service) AccountStatement(ctx context.Context, accountID uuid.UUID, dateRange domain.DateRange) ([]domain.TransactionRecord, error) {
	return s.repo.AccountHistory(ctx, accountID, dateRange)
}

// MemberStatement returns every movement a member initiated.
func (s *Service) MemberStatement(ctx context.Context, memberID uuid.UUID) ([]domain.TransactionRecord, error) {
	return s.repo.MemberHistory(ctx, memberID)
}
