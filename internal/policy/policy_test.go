package policy

import (
	"testing"
	"time"

	"github.com/chamahub/ledger-service/internal/domain"
	"github.com/google/uuid"
)

func testGroup(archetype domain.Archetype, memberCount, cycle int) *domain.Group {
	group := &domain.Group{
		ID:           uuid.New(),
		Name:         "test group",
		Archetype:    archetype,
		Currency:     "KES",
		CurrentCycle: cycle,
		CreatedAt:    time.Now(),
	}
	for i := 0; i < memberCount; i++ {
		group.Members = append(group.Members, domain.Member{
			ID:       uuid.New(),
			GroupID:  group.ID,
			UserID:   uuid.New(),
			Role:     domain.RoleMember,
			Position: i,
		})
	}
	return group
}

func TestValidate_EqualContributionEnforced(t *testing.T) {
	engine := NewEngine()

	result, err := engine.Validate(domain.ArchetypeChama, OpContribution, Params{
		Amount:               600,
		ExpectedContribution: 500,
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Valid {
		t.Fatal("expected unequal contribution to be rejected for chama")
	}

	result, err = engine.Validate(domain.ArchetypeChama, OpContribution, Params{
		Amount:               500,
		ExpectedContribution: 500,
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected matching contribution to pass, violations: %v", result.Violations)
	}
}

func TestValidate_FlexibleContributionAllowsAnyPositiveAmount(t *testing.T) {
	engine := NewEngine()
	result, err := engine.Validate(domain.ArchetypeSacco, OpContribution, Params{
		Amount:               123,
		ExpectedContribution: 500,
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected sacco to accept flexible amounts, violations: %v", result.Violations)
	}
}

func TestValidate_LoanApplicationLimits(t *testing.T) {
	engine := NewEngine()

	// Chama caps at 3x savings and requires 2 guarantors.
	result, err := engine.Validate(domain.ArchetypeChama, OpLoanApplication, Params{
		Amount:         40_000,
		MemberSavings:  10_000,
		GuarantorCount: 1,
		TermMonths:     6,
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Valid {
		t.Fatal("expected over-limit under-guaranteed application to fail")
	}
	if len(result.Violations) != 2 {
		t.Fatalf("expected 2 violations (multiplier, guarantors), got %v", result.Violations)
	}

	result, err = engine.Validate(domain.ArchetypeChama, OpLoanApplication, Params{
		Amount:         30_000,
		MemberSavings:  10_000,
		GuarantorCount: 2,
		TermMonths:     6,
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected application at exactly 3x to pass, violations: %v", result.Violations)
	}
}

func TestValidate_InvestmentCap(t *testing.T) {
	engine := NewEngine()

	// Club cap is 25% of the pool.
	result, err := engine.Validate(domain.ArchetypeInvestmentClub, OpInvestment, Params{
		Amount:      30_000,
		PoolBalance: 100_000,
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Valid {
		t.Fatal("expected investment above the 25% cap to fail")
	}

	result, err = engine.Validate(domain.ArchetypeInvestmentClub, OpInvestment, Params{
		Amount:      25_000,
		PoolBalance: 100_000,
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected investment at the cap to pass, violations: %v", result.Violations)
	}

	// Only the club archetype invests.
	result, err = engine.Validate(domain.ArchetypeChama, OpInvestment, Params{
		Amount:      100,
		PoolBalance: 100_000,
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Valid {
		t.Fatal("expected non-club investment to fail")
	}
}

func TestApplyOverrides(t *testing.T) {
	engine := NewEngine()
	err := engine.ApplyOverrides([]Override{
		{Archetype: domain.ArchetypeChama, MaxLoanMultiplier: 5, AnnualInterestRate: 24},
	})
	if err != nil {
		t.Fatalf("ApplyOverrides returned error: %v", err)
	}

	p, err := engine.PolicyFor(domain.ArchetypeChama)
	if err != nil {
		t.Fatalf("PolicyFor returned error: %v", err)
	}
	if p.MaxLoanMultiplier != 5 || p.AnnualInterestRate != 24 {
		t.Fatalf("override not applied: %+v", p)
	}
	if p.GuarantorsRequired != 2 {
		t.Fatalf("zero-valued override clobbered default guarantors: %d", p.GuarantorsRequired)
	}

	if err := engine.ApplyOverrides([]Override{{Archetype: "bogus"}}); err == nil {
		t.Fatal("expected unknown archetype override to fail")
	}
}

func TestRotationPayout_RecipientByPosition(t *testing.T) {
	engine := NewEngine()
	group := testGroup(domain.ArchetypeChama, 5, 1)

	effect, err := engine.ApplyBusinessLogic(domain.ArchetypeChama, group, EffectParams{PoolBalance: 2_500})
	if err != nil {
		t.Fatalf("ApplyBusinessLogic returned error: %v", err)
	}
	if effect == nil || effect.Kind != EffectRotationPayout {
		t.Fatalf("expected rotation payout effect, got %+v", effect)
	}
	payout := effect.RotationPayout
	if payout.RecipientMemberID != group.Members[0].ID {
		t.Fatalf("cycle 1 should pay position 0, got member %s", payout.RecipientMemberID)
	}
	if payout.Amount != 2_500 || payout.Cycle != 1 || payout.NextCycle != 2 {
		t.Fatalf("unexpected payout %+v", payout)
	}

	// Cycle 7 in a 5-member group wraps to position 1.
	group.CurrentCycle = 7
	effect, err = engine.ApplyBusinessLogic(domain.ArchetypeChama, group, EffectParams{PoolBalance: 100})
	if err != nil {
		t.Fatalf("ApplyBusinessLogic returned error: %v", err)
	}
	if effect.RotationPayout.RecipientMemberID != group.Members[1].ID {
		t.Fatalf("cycle 7 should pay position 1, got member %s", effect.RotationPayout.RecipientMemberID)
	}
}

func TestRotationPayout_EmptyPoolIsNoop(t *testing.T) {
	engine := NewEngine()
	group := testGroup(domain.ArchetypeChama, 3, 1)

	effect, err := engine.ApplyBusinessLogic(domain.ArchetypeChama, group, EffectParams{PoolBalance: 0})
	if err != nil {
		t.Fatalf("ApplyBusinessLogic returned error: %v", err)
	}
	if effect != nil {
		t.Fatalf("expected nil effect for an empty pool, got %+v", effect)
	}
}

func TestDividendSplit_ProRataWithRemainderRetained(t *testing.T) {
	engine := NewEngine()
	group := testGroup(domain.ArchetypeSacco, 3, 1)

	effect, err := engine.ApplyBusinessLogic(domain.ArchetypeSacco, group, EffectParams{
		DividendRatePercent: 10,
		Shares: []MemberShare{
			{MemberID: group.Members[0].ID, ShareBalance: 1_005},
			{MemberID: group.Members[1].ID, ShareBalance: 2_000},
			{MemberID: group.Members[2].ID, ShareBalance: 0},
		},
	})
	if err != nil {
		t.Fatalf("ApplyBusinessLogic returned error: %v", err)
	}
	if effect == nil || effect.Kind != EffectDividendSplit {
		t.Fatalf("expected dividend split effect, got %+v", effect)
	}
	if len(effect.DividendShares) != 2 {
		t.Fatalf("expected 2 shares (zero balances skipped), got %d", len(effect.DividendShares))
	}
	// 10% of 1005 truncates to 100; the half-unit remainder stays in the group.
	if effect.DividendShares[0].Amount != 100 {
		t.Fatalf("expected truncated dividend 100, got %d", effect.DividendShares[0].Amount)
	}
	if effect.DividendShares[1].Amount != 200 {
		t.Fatalf("expected dividend 200, got %d", effect.DividendShares[1].Amount)
	}
}

func TestAuctionDisbursement_BoundedByMeetingPool(t *testing.T) {
	engine := NewEngine()
	group := testGroup(domain.ArchetypeTableBanking, 4, 1)
	group.MeetingPool = 5_000
	borrower := group.Members[2].ID

	if _, err := engine.ApplyBusinessLogic(domain.ArchetypeTableBanking, group, EffectParams{
		BorrowerID:        borrower,
		RequestedAmount:   6_000,
		AuctionAnnualRate: 120,
	}); err == nil {
		t.Fatal("expected request above the meeting pool to fail")
	}

	effect, err := engine.ApplyBusinessLogic(domain.ArchetypeTableBanking, group, EffectParams{
		BorrowerID:        borrower,
		RequestedAmount:   5_000,
		AuctionAnnualRate: 120,
	})
	if err != nil {
		t.Fatalf("ApplyBusinessLogic returned error: %v", err)
	}
	if effect.Kind != EffectAuctionDisbursement || effect.AuctionDisbursement.Amount != 5_000 {
		t.Fatalf("unexpected effect %+v", effect)
	}
}
