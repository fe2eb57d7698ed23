package app

import (
	"context"
	"sync"
	"time"

	"github.com/chamahub/ledger-service/internal/domain"
	"github.com/chamahub/ledger-service/internal/policy"
	"github.com/chamahub/ledger-service/internal/store"
	"github.com/google/uuid"
)

// stubRepo is an in-memory Repository for service tests. Atomic methods take
// one lock for their whole body, mirroring the transactional guarantee of the
// real store.
type stubRepo struct {
	store.Repository

	mu         sync.Mutex
	accounts   map[uuid.UUID]*domain.Account
	wallets    map[uuid.UUID]uuid.UUID // user ID -> wallet account ID
	groups     map[uuid.UUID]*domain.Group
	loans      map[uuid.UUID]*domain.Loan
	aggregates map[uuid.UUID]*domain.MemberContributionAggregate // member ID
	records    []domain.TransactionRecord
	refs       map[string]uuid.UUID // external reference -> record ID
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		accounts:   make(map[uuid.UUID]*domain.Account),
		wallets:    make(map[uuid.UUID]uuid.UUID),
		groups:     make(map[uuid.UUID]*domain.Group),
		loans:      make(map[uuid.UUID]*domain.Loan),
		aggregates: make(map[uuid.UUID]*domain.MemberContributionAggregate),
		refs:       make(map[string]uuid.UUID),
	}
}

func (r *stubRepo) addAccount(a domain.Account) *domain.Account {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Version == 0 {
		a.Version = 1
	}
	stored := a
	r.accounts[a.ID] = &stored
	if a.Kind == domain.AccountWallet && a.OwnerID != nil {
		r.wallets[*a.OwnerID] = a.ID
	}
	return &stored
}

func (r *stubRepo) balance(id uuid.UUID) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[id].Balance
}

func (r *stubRepo) recordCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func copyAccount(a *domain.Account) *domain.Account {
	c := *a
	return &c
}

func copyLoan(l *domain.Loan) *domain.Loan {
	c := *l
	c.Guarantors = append([]domain.Guarantor(nil), l.Guarantors...)
	c.Schedule = append([]domain.Installment(nil), l.Schedule...)
	return &c
}

func (r *stubRepo) debitLocked(id uuid.UUID, amount int64) error {
	account, ok := r.accounts[id]
	if !ok {
		return store.ErrAccountNotFound
	}
	if account.Balance < amount {
		return store.ErrInsufficientFunds
	}
	account.Balance -= amount
	account.Version++
	return nil
}

func (r *stubRepo) creditLocked(id uuid.UUID, amount int64) error {
	account, ok := r.accounts[id]
	if !ok {
		return store.ErrAccountNotFound
	}
	account.Balance += amount
	account.Version++
	return nil
}

func (r *stubRepo) GetAccount(_ context.Context, accountID uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return copyAccount(account), nil
}

func (r *stubRepo) GetGroupAccount(_ context.Context, groupID uuid.UUID, kind domain.AccountKind) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.GroupID != nil && *account.GroupID == groupID && account.Kind == kind {
			return copyAccount(account), nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (r *stubRepo) FindWalletByUserID(_ context.Context, userID uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.wallets[userID]
	if !ok {
		return nil, store.ErrWalletNotFound
	}
	return copyAccount(r.accounts[id]), nil
}

func (r *stubRepo) CreateWallet(_ context.Context, userID uuid.UUID, currency string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner := userID
	wallet := r.addAccount(domain.Account{
		OwnerID:  &owner,
		Kind:     domain.AccountWallet,
		Currency: currency,
	})
	return copyAccount(wallet), nil
}

func (r *stubRepo) GetGroup(_ context.Context, groupID uuid.UUID) (*domain.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	group, ok := r.groups[groupID]
	if !ok {
		return nil, store.ErrGroupNotFound
	}
	c := *group
	c.Members = append([]domain.Member(nil), group.Members...)
	return &c, nil
}

func (r *stubRepo) GetContributionAggregate(_ context.Context, _ uuid.UUID, memberID uuid.UUID) (*domain.MemberContributionAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	aggregate, ok := r.aggregates[memberID]
	if !ok {
		return nil, store.ErrAggregateNotFound
	}
	c := *aggregate
	c.History = append([]domain.ContributionEntry(nil), aggregate.History...)
	return &c, nil
}

func (r *stubRepo) ListMemberShares(_ context.Context, groupID uuid.UUID) ([]domain.MemberContributionAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.MemberContributionAggregate
	for _, aggregate := range r.aggregates {
		if aggregate.GroupID == groupID {
			out = append(out, *aggregate)
		}
	}
	return out, nil
}

func (r *stubRepo) RecordContributionAtomic(_ context.Context, params store.ContributionParams) (*store.ContributionOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if params.WalletDebit != nil {
		if err := r.debitLocked(params.WalletDebit.AccountID, params.WalletDebit.Amount); err != nil {
			return nil, err
		}
	}
	for _, credit := range params.Credits {
		if err := r.creditLocked(credit.AccountID, credit.Amount); err != nil {
			return nil, err
		}
	}
	r.records = append(r.records, params.Records...)

	aggregate, ok := r.aggregates[params.MemberID]
	if !ok {
		aggregate = &domain.MemberContributionAggregate{GroupID: params.GroupID, MemberID: params.MemberID}
		r.aggregates[params.MemberID] = aggregate
	}
	aggregate.History = append(aggregate.History, params.Entry)
	aggregate.Total += params.Amount
	if params.UpdateShares {
		aggregate.ShareBalance += params.ShareIncrease
	}

	return &store.ContributionOutcome{
		AggregateTotal: aggregate.Total,
		Records:        params.Records,
	}, nil
}

func (r *stubRepo) ExecuteTransferAtomic(_ context.Context, params store.TransferParams) (*store.TransferOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.debitLocked(params.FromAccountID, params.Amount); err != nil {
		return nil, err
	}
	if err := r.creditLocked(params.ToAccountID, params.Amount); err != nil {
		return nil, err
	}
	r.records = append(r.records, params.Records[0], params.Records[1])
	return &store.TransferOutcome{
		FromBalance: r.accounts[params.FromAccountID].Balance,
		ToBalance:   r.accounts[params.ToAccountID].Balance,
	}, nil
}

func (r *stubRepo) ExecuteRotationPayoutAtomic(_ context.Context, params store.RotationPayoutParams) (*store.TransferOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	group, ok := r.groups[params.GroupID]
	if !ok {
		return nil, store.ErrGroupNotFound
	}
	if group.CurrentCycle != params.FromCycle {
		return nil, store.ErrConcurrencyConflict
	}
	if err := r.debitLocked(params.FromAccountID, params.Amount); err != nil {
		return nil, err
	}
	if err := r.creditLocked(params.ToWalletID, params.Amount); err != nil {
		return nil, err
	}
	group.CurrentCycle++
	r.records = append(r.records, params.Records[0], params.Records[1])
	return &store.TransferOutcome{
		FromBalance: r.accounts[params.FromAccountID].Balance,
		ToBalance:   r.accounts[params.ToWalletID].Balance,
	}, nil
}

func (r *stubRepo) DistributeDividendsAtomic(_ context.Context, params store.DividendParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, credit := range params.Credits {
		total += credit.Amount
	}
	if err := r.debitLocked(params.FromAccountID, total); err != nil {
		return err
	}
	for _, credit := range params.Credits {
		if err := r.creditLocked(credit.AccountID, credit.Amount); err != nil {
			return err
		}
	}
	r.records = append(r.records, params.Records...)
	return nil
}

func (r *stubRepo) RecordExternalMovementAtomic(_ context.Context, params store.ExternalMovementParams) (*domain.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.refs[params.ExternalReference]; exists {
		return nil, store.ErrDuplicateExternalReference
	}
	if params.Debit {
		if err := r.debitLocked(params.AccountID, params.Amount); err != nil {
			return nil, err
		}
	} else {
		if err := r.creditLocked(params.AccountID, params.Amount); err != nil {
			return nil, err
		}
	}
	r.records = append(r.records, params.Record)
	r.refs[params.ExternalReference] = params.Record.ID
	committed := params.Record
	return &committed, nil
}

func (r *stubRepo) FindRecordByExternalReference(_ context.Context, externalReference string) (*domain.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.refs[externalReference]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	for i := range r.records {
		if r.records[i].ID == id {
			c := r.records[i]
			return &c, nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (r *stubRepo) CreateLoan(_ context.Context, loan *domain.Loan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loans[loan.ID] = copyLoan(loan)
	return nil
}

func (r *stubRepo) GetLoan(_ context.Context, loanID uuid.UUID) (*domain.Loan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	loan, ok := r.loans[loanID]
	if !ok {
		return nil, store.ErrLoanNotFound
	}
	return copyLoan(loan), nil
}

func (r *stubRepo) RecordGuarantorApproval(_ context.Context, loanID, memberID uuid.UUID, approvedAt time.Time) (*domain.Loan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	loan, ok := r.loans[loanID]
	if !ok {
		return nil, store.ErrLoanNotFound
	}
	for i := range loan.Guarantors {
		if loan.Guarantors[i].MemberID == memberID {
			loan.Guarantors[i].Approved = true
			at := approvedAt
			loan.Guarantors[i].ApprovedAt = &at
			return copyLoan(loan), nil
		}
	}
	return nil, store.ErrMemberNotFound
}

func (r *stubRepo) UpdateLoanStatus(_ context.Context, loanID uuid.UUID, from, to domain.LoanStatus, expectedVersion int64, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	loan, ok := r.loans[loanID]
	if !ok {
		return store.ErrLoanNotFound
	}
	if loan.Status != from || loan.Version != expectedVersion {
		return store.ErrConcurrencyConflict
	}
	loan.Status = to
	loan.Version++
	return nil
}

func (r *stubRepo) DisburseLoanAtomic(_ context.Context, params store.DisbursementParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.loans[params.Loan.ID]
	if !ok {
		return store.ErrLoanNotFound
	}
	if stored.Version != params.ExpectedLoanVersion {
		return store.ErrConcurrencyConflict
	}
	if params.SourceAccountID != nil {
		if err := r.debitLocked(*params.SourceAccountID, params.Amount); err != nil {
			return err
		}
	}
	if err := r.creditLocked(params.DestinationWalletID, params.Amount); err != nil {
		return err
	}
	updated := copyLoan(params.Loan)
	updated.Version = params.ExpectedLoanVersion + 1
	r.loans[updated.ID] = updated
	r.records = append(r.records, params.Records...)
	return nil
}

func (r *stubRepo) ApplyRepaymentAtomic(_ context.Context, params store.RepaymentParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.loans[params.Loan.ID]
	if !ok {
		return store.ErrLoanNotFound
	}
	if stored.Version != params.ExpectedLoanVersion {
		return store.ErrConcurrencyConflict
	}
	if params.PayerWalletDebit != nil {
		if err := r.debitLocked(params.PayerWalletDebit.AccountID, params.PayerWalletDebit.Amount); err != nil {
			return err
		}
	}
	for _, credit := range params.Credits {
		if err := r.creditLocked(credit.AccountID, credit.Amount); err != nil {
			return err
		}
	}
	updated := copyLoan(params.Loan)
	updated.Version = params.ExpectedLoanVersion + 1
	r.loans[updated.ID] = updated
	r.records = append(r.records, params.Records...)
	return nil
}

func (r *stubRepo) SaveLateFeeAssessmentAtomic(_ context.Context, params store.LateFeeParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.loans[params.Loan.ID]
	if !ok {
		return store.ErrLoanNotFound
	}
	if stored.Version != params.ExpectedLoanVersion {
		return store.ErrConcurrencyConflict
	}
	if params.FinesCredit != nil {
		if err := r.creditLocked(params.FinesCredit.AccountID, params.FinesCredit.Amount); err != nil {
			return err
		}
	}
	updated := copyLoan(params.Loan)
	updated.Version = params.ExpectedLoanVersion + 1
	r.loans[updated.ID] = updated
	if params.Record != nil {
		r.records = append(r.records, *params.Record)
	}
	return nil
}

// stubPublisher records exchanges and routing keys so tests can assert on
// emitted events.
type stubPublisher struct {
	mu        sync.Mutex
	exchanges []string
	keys      []string
}

func (p *stubPublisher) Publish(_ context.Context, exchange, routingKey string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchanges = append(p.exchanges, exchange)
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *stubPublisher) Close() {}

func (p *stubPublisher) published(routingKey string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range p.keys {
		if k == routingKey {
			return true
		}
	}
	return false
}

func (p *stubPublisher) lastExchange() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.exchanges) == 0 {
		return ""
	}
	return p.exchanges[len(p.exchanges)-1]
}

// fixture assembles a service over the stub repo with a fixed clock.
type fixture struct {
	repo      *stubRepo
	publisher *stubPublisher
	service   *Service
	now       time.Time
}

func newFixture() *fixture {
	repo := newStubRepo()
	publisher := &stubPublisher{}
	svc := NewService(repo, policy.NewEngine(), publisher, domain.LoanSettings{
		ProcessingFeePercent: 1,
		LateFeePercent:       5,
		MinTermMonths:        1,
		MaxTermMonths:        36,
	}, "", "")
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return &fixture{repo: repo, publisher: publisher, service: svc, now: now}
}

// seedGroup creates a group with its five accounts and a wallet per member.
func (f *fixture) seedGroup(archetype domain.Archetype, memberCount int, contributionAmount int64) *domain.Group {
	group := &domain.Group{
		ID:                 uuid.New(),
		Name:               "test group",
		Archetype:          archetype,
		Currency:           "KES",
		CurrentCycle:       1,
		ContributionAmount: contributionAmount,
	}
	for i := 0; i < memberCount; i++ {
		member := domain.Member{
			ID:       uuid.New(),
			GroupID:  group.ID,
			UserID:   uuid.New(),
			Role:     domain.RoleMember,
			Position: i,
		}
		group.Members = append(group.Members, member)
		owner := member.UserID
		f.repo.addAccount(domain.Account{OwnerID: &owner, Kind: domain.AccountWallet, Currency: group.Currency})
	}
	for _, kind := range domain.GroupAccountKinds {
		gid := group.ID
		f.repo.addAccount(domain.Account{GroupID: &gid, Kind: kind, Currency: group.Currency})
	}
	f.repo.groups[group.ID] = group
	return group
}

func (f *fixture) groupAccount(groupID uuid.UUID, kind domain.AccountKind) *domain.Account {
	account, err := f.repo.GetGroupAccount(context.Background(), groupID, kind)
	if err != nil {
		panic(err)
	}
	return account
}

func (f *fixture) wallet(userID uuid.UUID) *domain.Account {
	wallet, err := f.repo.FindWalletByUserID(context.Background(), userID)
	if err != nil {
		panic(err)
	}
	return wallet
}

func (f *fixture) setBalance(accountID uuid.UUID, balance int64) {
	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	f.repo.accounts[accountID].Balance = balance
}
