package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chamahub/ledger-service/internal/domain"
	"github.com/chamahub/ledger-service/internal/store"
)

func TestRecordContribution_CashCreditsSavings(t *testing.T) {
	f := newFixture()
	group := f.seedGroup(domain.ArchetypeChama, 3, 500)
	member := group.Members[0]

	receipt, err := f.service.RecordContribution(context.Background(), ContributionRequest{
		GroupID:  group.ID,
		MemberID: member.UserID,
		Amount:   500,
		Method:   domain.MethodCash,
	})
	if err != nil {
		t.Fatalf("RecordContribution returned error: %v", err)
	}

	savings := f.groupAccount(group.ID, domain.AccountSavings)
	if savings.Balance != 500 {
		t.Fatalf("expected savings balance 500, got %d", savings.Balance)
	}
	if receipt.AggregateTotal != 500 {
		t.Fatalf("expected aggregate total 500, got %d", receipt.AggregateTotal)
	}
	if len(receipt.Records) != 1 || receipt.Records[0].Type != domain.TxContribution {
		t.Fatalf("unexpected records %+v", receipt.Records)
	}
	if !f.publisher.published(domain.EventContributionRecorded) {
		t.Fatal("expected ContributionRecorded event")
	}
}

func TestRecordContribution_EqualArchetypeRejectsWrongAmount(t *testing.T) {
	f := newFixture()
	group := f.seedGroup(domain.ArchetypeChama, 3, 500)

	_, err := f.service.RecordContribution(context.Background(), ContributionRequest{
		GroupID:  group.ID,
		MemberID: group.Members[0].UserID,
		Amount:   600,
		Method:   domain.MethodCash,
	})
	var policyErr *domain.PolicyViolationError
	if !errors.As(err, &policyErr) {
		t.Fatalf("expected PolicyViolationError, got %v", err)
	}

	// Nothing moved and nothing was logged.
	if got := f.groupAccount(group.ID, domain.AccountSavings).Balance; got != 0 {
		t.Fatalf("expected untouched savings, got %d", got)
	}
	if f.repo.recordCount() != 0 {
		t.Fatalf("expected empty log, got %d records", f.repo.recordCount())
	}
}

func TestRecordContribution_AllocationMismatchRejected(t *testing.T) {
	f := newFixture()
	group := f.seedGroup(domain.ArchetypeSacco, 2, 0)
	member := group.Members[0]
	f.setBalance(f.wallet(member.UserID).ID, 1_000)

	_, err := f.service.RecordContribution(context.Background(), ContributionRequest{
		GroupID:  group.ID,
		MemberID: member.UserID,
		Amount:   1_000,
		Method:   domain.MethodWallet,
		Allocations: []domain.Allocation{
			{Kind: domain.AccountSavings, Amount: 600},
			{Kind: domain.AccountFines, Amount: 300}, // sums to 900, not 1000
		},
	})
	var mismatch *domain.AllocationMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected AllocationMismatchError, got %v", err)
	}
	if mismatch.Expected != 1_000 || mismatch.Got != 900 {
		t.Fatalf("unexpected mismatch detail %+v", mismatch)
	}
}

func TestRecordContribution_WalletSplitAcrossDestinations(t *testing.T) {
	f := newFixture()
	group := f.seedGroup(domain.ArchetypeSacco, 2, 0)
	member := group.Members[0]
	wallet := f.wallet(member.UserID)
	f.setBalance(wallet.ID, 1_000)

	receipt, err := f.service.RecordContribution(context.Background(), ContributionRequest{
		GroupID:  group.ID,
		MemberID: member.UserID,
		Amount:   1_000,
		Method:   domain.MethodWallet,
		Allocations: []domain.Allocation{
			{Kind: domain.AccountSavings, Amount: 700},
			{Kind: domain.AccountFines, Amount: 300},
		},
	})
	if err != nil {
		t.Fatalf("RecordContribution returned error: %v", err)
	}

	if got := f.repo.balance(wallet.ID); got != 0 {
		t.Fatalf("expected wallet drained, got %d", got)
	}
	if got := f.groupAccount(group.ID, domain.AccountSavings).Balance; got != 700 {
		t.Fatalf("expected savings 700, got %d", got)
	}
	if got := f.groupAccount(group.ID, domain.AccountFines).Balance; got != 300 {
		t.Fatalf("expected fines 300, got %d", got)
	}
	if len(receipt.Records) != 3 {
		t.Fatalf("expected one record per destination plus the wallet debit, got %d", len(receipt.Records))
	}

	// Sacco contributions grow the share sub-ledger.
	standing, err := f.service.ContributionStanding(context.Background(), group.ID, member.ID)
	if err != nil {
		t.Fatalf("ContributionStanding returned error: %v", err)
	}
	if standing.ShareBalance != 1_000 {
		t.Fatalf("expected share balance 1000, got %d", standing.ShareBalance)
	}
}

func TestRecordContribution_WalletDebitIsLogged(t *testing.T) {
	f := newFixture()
	group := f.seedGroup(domain.ArchetypeSacco, 2, 0)
	member := group.Members[0]
	wallet := f.wallet(member.UserID)
	f.setBalance(wallet.ID, 1_000)

	_, err := f.service.RecordContribution(context.Background(), ContributionRequest{
		GroupID:  group.ID,
		MemberID: member.UserID,
		Amount:   600,
		Method:   domain.MethodWallet,
	})
	if err != nil {
		t.Fatalf("RecordContribution returned error: %v", err)
	}
	if got := f.repo.balance(wallet.ID); got != 400 {
		t.Fatalf("expected wallet at 400, got %d", got)
	}

	// The wallet mutation must appear in the log so a wallet statement
	// reconciles to its balance.
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	var walletRecords, creditRecords []domain.TransactionRecord
	for _, rec := range f.repo.records {
		if rec.AccountID == wallet.ID {
			walletRecords = append(walletRecords, rec)
		} else {
			creditRecords = append(creditRecords, rec)
		}
	}
	if len(walletRecords) != 1 {
		t.Fatalf("wallet balance mutated but %d records reference the wallet", len(walletRecords))
	}
	debit := walletRecords[0]
	if debit.Amount != 600 || debit.AccountKind != domain.AccountWallet || debit.Type != domain.TxContribution {
		t.Fatalf("unexpected wallet debit record %+v", debit)
	}
	if len(creditRecords) != 1 || debit.TransferID == nil || creditRecords[0].TransferID == nil ||
		*debit.TransferID != *creditRecords[0].TransferID {
		t.Fatal("expected the wallet debit and the savings credit to share a transfer ID")
	}
}

func TestRecordContribution_WalletInsufficientFundsIsZeroEffect(t *testing.T) {
	f := newFixture()
	group := f.seedGroup(domain.ArchetypeSacco, 2, 0)
	member := group.Members[0]
	wallet := f.wallet(member.UserID)
	f.setBalance(wallet.ID, 200)

	_, err := f.service.RecordContribution(context.Background(), ContributionRequest{
		GroupID:  group.ID,
		MemberID: member.UserID,
		Amount:   500,
		Method:   domain.MethodWallet,
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := f.repo.balance(wallet.ID); got != 200 {
		t.Fatalf("expected wallet untouched, got %d", got)
	}
	if f.repo.recordCount() != 0 {
		t.Fatalf("expected empty log, got %d records", f.repo.recordCount())
	}
}

func TestRecordContribution_ConcurrentContributionsBothLand(t *testing.T) {
	f := newFixture()
	group := f.seedGroup(domain.ArchetypeChama, 2, 500)
	savingsID := f.groupAccount(group.ID, domain.AccountSavings).ID
	f.setBalance(savingsID, 1_000)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.RecordContribution(context.Background(), ContributionRequest{
				GroupID:  group.ID,
				MemberID: group.Members[i].UserID,
				Amount:   500,
				Method:   domain.MethodCash,
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("contribution %d failed: %v", i, err)
		}
	}
	if got := f.repo.balance(savingsID); got != 2_000 {
		t.Fatalf("expected both credits to land, balance %d want 2000", got)
	}
}
