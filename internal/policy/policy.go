/**
 * @description
 * This file defines the per-archetype policy records and the validation
 * entry point every other component consults before moving money. Policies
 * are immutable configuration: four tagged records, one per group archetype,
 * with numeric defaults that config may override at startup but never during
 * an operation.
 *
 * @notes
 * - Interest rates are normalized to annual percent. The customary monthly
 *   rates of 5% (chama), 1.5% (sacco) and 10% (table banking) are stored as
 *   60, 18 and 120 respectively; the investment club's 12%/yr stays 12.
 */

package policy

import (
	"fmt"

	"github.com/chamahub/ledger-service/internal/domain"
)

// ContributionModel says whether members must contribute the group's fixed
// amount or may contribute freely.
type ContributionModel string

const (
	ContributionEqual    ContributionModel = "equal"
	ContributionFlexible ContributionModel = "flexible"
)

// PayoutSystem identifies how pooled funds leave the group.
type PayoutSystem string

const (
	PayoutRotation         PayoutSystem = "rotation"
	PayoutDividend         PayoutSystem = "dividend"
	PayoutImmediateLending PayoutSystem = "immediate_lending"
	PayoutMarketReturn     PayoutSystem = "market_return"
)

// Operation names a policy-governed action.
type Operation string

const (
	OpContribution    Operation = "contribution"
	OpLoanApplication Operation = "loan_application"
	OpPayout          Operation = "payout"
	OpInvestment      Operation = "investment"
)

// GroupPolicy is the immutable rule set for one archetype.
type GroupPolicy struct {
	Archetype          domain.Archetype
	ContributionModel  ContributionModel
	PartialAllowed     bool
	MaxLoanMultiplier  float64 // loan ceiling as a multiple of member savings
	GuarantorsRequired int
	AnnualInterestRate float64
	InterestType       domain.InterestType
	PayoutSystem       PayoutSystem
	AccountSet         []domain.AccountKind

	// MaxSingleInvestmentRatio caps one investment as a fraction of the pool
	// balance. Only meaningful for the investment-club archetype.
	MaxSingleInvestmentRatio float64
}

// defaultPolicies holds the built-in archetype records. Overrides from config
// are applied once at startup via ApplyOverrides.
var defaultPolicies = map[domain.Archetype]GroupPolicy{
	domain.ArchetypeChama: {
		Archetype:          domain.ArchetypeChama,
		ContributionModel:  ContributionEqual,
		PartialAllowed:     false,
		MaxLoanMultiplier:  3,
		GuarantorsRequired: 2,
		AnnualInterestRate: 60, // 5% per month
		InterestType:       domain.InterestSimple,
		PayoutSystem:       PayoutRotation,
		AccountSet:         domain.GroupAccountKinds,
	},
	domain.ArchetypeSacco: {
		Archetype:          domain.ArchetypeSacco,
		ContributionModel:  ContributionFlexible,
		PartialAllowed:     true,
		MaxLoanMultiplier:  4,
		GuarantorsRequired: 3,
		AnnualInterestRate: 18, // 1.5% per month
		InterestType:       domain.InterestReducingBalance,
		PayoutSystem:       PayoutDividend,
		AccountSet:         domain.GroupAccountKinds,
	},
	domain.ArchetypeTableBanking: {
		Archetype:          domain.ArchetypeTableBanking,
		ContributionModel:  ContributionEqual,
		PartialAllowed:     false,
		MaxLoanMultiplier:  2,
		GuarantorsRequired: 0, // loans are group-guaranteed at the meeting
		AnnualInterestRate: 120, // 10% per month
		InterestType:       domain.InterestSimple,
		PayoutSystem:       PayoutImmediateLending,
		AccountSet:         domain.GroupAccountKinds,
	},
	domain.ArchetypeInvestmentClub: {
		Archetype:                domain.ArchetypeInvestmentClub,
		ContributionModel:        ContributionFlexible,
		PartialAllowed:           true,
		MaxLoanMultiplier:        2,
		GuarantorsRequired:       2,
		AnnualInterestRate:       12, // 12% per year
		InterestType:             domain.InterestReducingBalance,
		PayoutSystem:             PayoutMarketReturn,
		AccountSet:               domain.GroupAccountKinds,
		MaxSingleInvestmentRatio: 0.25,
	},
}

// Engine is the policy lookup consulted by the ledger services. It holds the
// resolved (default + override) records and never mutates them afterward.
type Engine struct {
	policies map[domain.Archetype]GroupPolicy
}

// NewEngine returns an engine with the built-in archetype records.
func NewEngine() *Engine {
	policies := make(map[domain.Archetype]GroupPolicy, len(defaultPolicies))
	for k, v := range defaultPolicies {
		policies[k] = v
	}
	return &Engine{policies: policies}
}

// Override adjusts selected numeric parameters for one archetype. Zero-valued
// fields leave the default untouched. Called only during startup wiring.
type Override struct {
	Archetype          domain.Archetype
	MaxLoanMultiplier  float64
	GuarantorsRequired int
	AnnualInterestRate float64
}

// ApplyOverrides folds config-supplied overrides into the engine's records.
func (e *Engine) ApplyOverrides(overrides []Override) error {
	for _, o := range overrides {
		p, ok := e.policies[o.Archetype]
		if !ok {
			return fmt.Errorf("unknown archetype %q in policy override", o.Archetype)
		}
		if o.MaxLoanMultiplier > 0 {
			p.MaxLoanMultiplier = o.MaxLoanMultiplier
		}
		if o.GuarantorsRequired > 0 {
			p.GuarantorsRequired = o.GuarantorsRequired
		}
		if o.AnnualInterestRate > 0 {
			p.AnnualInterestRate = o.AnnualInterestRate
		}
		e.policies[o.Archetype] = p
	}
	return nil
}

// PolicyFor returns the rule record for an archetype.
func (e *Engine) PolicyFor(archetype domain.Archetype) (GroupPolicy, error) {
	p, ok := e.policies[archetype]
	if !ok {
		return GroupPolicy{}, fmt.Errorf("no policy for archetype %q", archetype)
	}
	return p, nil
}

// Params carries the operation-specific numbers Validate inspects.
type Params struct {
	Amount               int64
	ExpectedContribution int64 // the group's fixed per-cycle contribution
	MemberSavings        int64 // borrower's verified savings, loan ceiling base
	GuarantorCount       int   // guarantors attached to a loan application
	TermMonths           int
	PoolBalance          int64
}

// ValidationResult reports whether an operation is permitted and, if not,
// every rule it violated.
type ValidationResult struct {
	Valid      bool
	Violations []string
}

// Validate checks an operation's parameters against the archetype's rules.
// It never mutates anything; callers turn a failed result into a
// PolicyViolationError before touching the ledger.
func (e *Engine) Validate(archetype domain.Archetype, op Operation, params Params) (ValidationResult, error) {
	p, err := e.PolicyFor(archetype)
	if err != nil {
		return ValidationResult{}, err
	}

	var violations []string
	switch op {
	case OpContribution:
		if params.Amount <= 0 {
			violations = append(violations, "contribution amount must be positive")
		}
		if p.ContributionModel == ContributionEqual && params.ExpectedContribution > 0 &&
			params.Amount != params.ExpectedContribution {
			violations = append(violations, fmt.Sprintf(
				"archetype requires the fixed contribution of %d, got %d",
				params.ExpectedContribution, params.Amount))
		}
	case OpLoanApplication:
		if params.Amount <= 0 {
			violations = append(violations, "loan principal must be positive")
		}
		limit := int64(float64(params.MemberSavings) * p.MaxLoanMultiplier)
		if params.Amount > limit {
			violations = append(violations, fmt.Sprintf(
				"principal %d exceeds limit %d (%.1fx savings of %d)",
				params.Amount, limit, p.MaxLoanMultiplier, params.MemberSavings))
		}
		if params.GuarantorCount < p.GuarantorsRequired {
			violations = append(violations, fmt.Sprintf(
				"%d guarantors required, %d attached",
				p.GuarantorsRequired, params.GuarantorCount))
		}
		if params.TermMonths <= 0 {
			violations = append(violations, "term must be at least one month")
		}
	case OpPayout:
		if params.Amount <= 0 {
			violations = append(violations, "payout amount must be positive")
		}
		if params.Amount > params.PoolBalance {
			violations = append(violations, "payout exceeds pooled balance")
		}
	case OpInvestment:
		if p.PayoutSystem != PayoutMarketReturn {
			violations = append(violations, "archetype does not support market investments")
		}
		cap := int64(float64(params.PoolBalance) * p.MaxSingleInvestmentRatio)
		if params.Amount <= 0 {
			violations = append(violations, "investment amount must be positive")
		} else if params.Amount > cap {
			violations = append(violations, fmt.Sprintf(
				"investment %d exceeds single-investment cap %d", params.Amount, cap))
		}
	default:
		return ValidationResult{}, fmt.Errorf("unknown policy operation %q", op)
	}

	return ValidationResult{Valid: len(violations) == 0, Violations: violations}, nil
}
