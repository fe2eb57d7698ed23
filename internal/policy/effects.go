/**
 * @description
 * Archetype-specific business effects. Handlers compute *what should happen*
 * — who receives the rotation pool, how a dividend splits across share
 * balances, whether a meeting auction disbursement is allowed — and return it
 * as a value. The caller applies the effect through the transfer and
 * contribution services; nothing here mutates state.
 *
 * Dispatch is a small archetype -> handler map rather than a type hierarchy.
 */

package policy

import (
	"fmt"

	"github.com/chamahub/ledger-service/internal/domain"
	"github.com/google/uuid"
)

// EffectKind tags which archetype effect was computed.
type EffectKind string

const (
	EffectRotationPayout      EffectKind = "rotation_payout"
	EffectDividendSplit       EffectKind = "dividend_split"
	EffectAuctionDisbursement EffectKind = "auction_disbursement"
	EffectInvestmentApproval  EffectKind = "investment_approval"
)

// RotationPayout names the member due the pooled amount this cycle.
type RotationPayout struct {
	RecipientMemberID uuid.UUID
	RecipientUserID   uuid.UUID
	Amount            int64
	Cycle             int
	NextCycle         int
}

// DividendShare is one member's cut of a dividend distribution.
type DividendShare struct {
	MemberID uuid.UUID
	Amount   int64
}

// AuctionDisbursement authorizes an immediate meeting loan at the auctioned
// rate for table-banking groups.
type AuctionDisbursement struct {
	BorrowerID        uuid.UUID
	Amount            int64
	AuctionAnnualRate float64
}

// InvestmentApproval authorizes a single market investment within the cap.
type InvestmentApproval struct {
	Amount int64
	Cap    int64
}

// Effect is the tagged union returned by ApplyBusinessLogic. Exactly one
// pointer field matching Kind is set.
type Effect struct {
	Kind                EffectKind
	RotationPayout      *RotationPayout
	DividendShares      []DividendShare
	AuctionDisbursement *AuctionDisbursement
	InvestmentApproval  *InvestmentApproval
}

// EffectParams carries the caller-supplied inputs for effect computation.
type EffectParams struct {
	PoolBalance int64

	// Dividend distribution inputs (sacco).
	DividendRatePercent float64
	Shares              []MemberShare

	// Auction lending inputs (table banking).
	BorrowerID        uuid.UUID
	RequestedAmount   int64
	AuctionAnnualRate float64
}

// MemberShare is a member's share balance used for pro-rata dividends.
type MemberShare struct {
	MemberID     uuid.UUID
	ShareBalance int64
}

type effectHandler func(p GroupPolicy, group *domain.Group, params EffectParams) (*Effect, error)

var effectHandlers = map[domain.Archetype]effectHandler{
	domain.ArchetypeChama:          computeRotationPayout,
	domain.ArchetypeSacco:          computeDividendSplit,
	domain.ArchetypeTableBanking:   computeAuctionDisbursement,
	domain.ArchetypeInvestmentClub: computeInvestmentApproval,
}

// ApplyBusinessLogic computes the archetype's payout effect for a group. A
// nil effect with nil error means the archetype has nothing to do for the
// given inputs (e.g. an empty dividend run).
func (e *Engine) ApplyBusinessLogic(archetype domain.Archetype, group *domain.Group, params EffectParams) (*Effect, error) {
	p, err := e.PolicyFor(archetype)
	if err != nil {
		return nil, err
	}
	handler, ok := effectHandlers[archetype]
	if !ok {
		return nil, fmt.Errorf("no effect handler for archetype %q", archetype)
	}
	return handler(p, group, params)
}

// computeRotationPayout identifies the member due the pooled amount this
// cycle: the one whose position equals (cycle-1) mod memberCount. The cycle
// advances once the payout is applied.
func computeRotationPayout(_ GroupPolicy, group *domain.Group, params EffectParams) (*Effect, error) {
	memberCount := len(group.Members)
	if memberCount == 0 {
		return nil, fmt.Errorf("group %s has no members to rotate through", group.ID)
	}
	cycle := group.CurrentCycle
	if cycle < 1 {
		cycle = 1
	}
	position := (cycle - 1) % memberCount
	recipient := group.MemberAt(position)
	if recipient == nil {
		return nil, fmt.Errorf("no member at rotation position %d in group %s", position, group.ID)
	}
	if params.PoolBalance <= 0 {
		return nil, nil
	}
	return &Effect{
		Kind: EffectRotationPayout,
		RotationPayout: &RotationPayout{
			RecipientMemberID: recipient.ID,
			RecipientUserID:   recipient.UserID,
			Amount:            params.PoolBalance,
			Cycle:             cycle,
			NextCycle:         cycle + 1,
		},
	}, nil
}

// computeDividendSplit distributes the dividend rate across members
// proportional to share balance. Remainder minor units from rounding stay in
// the group account rather than being invented.
func computeDividendSplit(_ GroupPolicy, _ *domain.Group, params EffectParams) (*Effect, error) {
	if params.DividendRatePercent <= 0 {
		return nil, fmt.Errorf("dividend rate must be positive, got %f", params.DividendRatePercent)
	}
	var shares []DividendShare
	for _, s := range params.Shares {
		if s.ShareBalance <= 0 {
			continue
		}
		amount := int64(float64(s.ShareBalance) * params.DividendRatePercent / 100)
		if amount <= 0 {
			continue
		}
		shares = append(shares, DividendShare{MemberID: s.MemberID, Amount: amount})
	}
	if len(shares) == 0 {
		return nil, nil
	}
	return &Effect{Kind: EffectDividendSplit, DividendShares: shares}, nil
}

// computeAuctionDisbursement authorizes the table-banking meeting loan: the
// requested amount must fit inside the meeting pool, and the auctioned rate
// replaces the archetype default.
func computeAuctionDisbursement(_ GroupPolicy, group *domain.Group, params EffectParams) (*Effect, error) {
	if params.RequestedAmount <= 0 {
		return nil, fmt.Errorf("auction disbursement amount must be positive")
	}
	if params.RequestedAmount > group.MeetingPool {
		return nil, fmt.Errorf("auction disbursement %d exceeds meeting pool %d",
			params.RequestedAmount, group.MeetingPool)
	}
	if params.AuctionAnnualRate <= 0 {
		return nil, fmt.Errorf("auction rate must be positive")
	}
	return &Effect{
		Kind: EffectAuctionDisbursement,
		AuctionDisbursement: &AuctionDisbursement{
			BorrowerID:        params.BorrowerID,
			Amount:            params.RequestedAmount,
			AuctionAnnualRate: params.AuctionAnnualRate,
		},
	}, nil
}

// computeInvestmentApproval enforces the single-investment cap for clubs.
func computeInvestmentApproval(p GroupPolicy, _ *domain.Group, params EffectParams) (*Effect, error) {
	cap := int64(float64(params.PoolBalance) * p.MaxSingleInvestmentRatio)
	if params.RequestedAmount <= 0 {
		return nil, fmt.Errorf("investment amount must be positive")
	}
	if params.RequestedAmount > cap {
		return nil, fmt.Errorf("investment %d exceeds single-investment cap %d", params.RequestedAmount, cap)
	}
	return &Effect{
		Kind:               EffectInvestmentApproval,
		InvestmentApproval: &InvestmentApproval{Amount: params.RequestedAmount, Cap: cap},
	}, nil
}
