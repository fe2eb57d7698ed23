/**
 * @description
 * This file defines member contribution records: the per-member running
 * aggregate, its verified history entries, the multi-destination allocation
 * shape for wallet-funded contributions, and the receipt returned to callers.
 *
 * @notes
 * - The aggregate invariant is Total == sum of history entries whose status
 *   is completed. The store recomputes Total inside the same transaction
 *   that appends an entry, so the two can never drift.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ContributionEntry is one verified (or pending/rejected) payment in a
// member's contribution history.
type ContributionEntry struct {
	ID                uuid.UUID         `json:"id"`
	Amount            int64             `json:"amount"`
	OccurredAt        time.Time         `json:"occurred_at"`
	Method            PaymentMethod     `json:"method"`
	VerifiedBy        *uuid.UUID        `json:"verified_by,omitempty"`
	Status            TransactionStatus `json:"status"`
	ExternalReference *string           `json:"external_reference,omitempty"`
}

// MemberContributionAggregate is a member's contribution standing in one group.
type MemberContributionAggregate struct {
	GroupID  uuid.UUID           `json:"group_id"`
	MemberID uuid.UUID           `json:"member_id"`
	Total    int64               `json:"total"`
	History  []ContributionEntry `json:"history,omitempty"`

	// ShareBalance is the sacco share/savings sub-ledger entry, maintained
	// only for cooperative groups. Dividends are distributed pro rata on it.
	ShareBalance int64 `json:"share_balance"`

	UpdatedAt time.Time `json:"updated_at"`
}

// VerifiedTotal sums the completed history entries. It must always equal
// Total; reconciliation compares the two.
func (a *MemberContributionAggregate) VerifiedTotal() int64 {
	var sum int64
	for _, e := range a.History {
		if e.Status == TxCompleted {
			sum += e.Amount
		}
	}
	return sum
}

// Allocation directs part of a wallet-funded contribution to one destination
// account kind.
type Allocation struct {
	Kind   AccountKind `json:"kind"`
	Amount int64       `json:"amount"`
}

// SumAllocations totals a set of allocations.
func SumAllocations(allocations []Allocation) int64 {
	var sum int64
	for _, a := range allocations {
		sum += a.Amount
	}
	return sum
}

// ContributionReceipt summarizes a recorded contribution for the caller.
type ContributionReceipt struct {
	GroupID        uuid.UUID           `json:"group_id"`
	MemberID       uuid.UUID           `json:"member_id"`
	Amount         int64               `json:"amount"`
	Method         PaymentMethod       `json:"method"`
	Allocations    []Allocation        `json:"allocations"`
	Records        []TransactionRecord `json:"records"`
	AggregateTotal int64               `json:"aggregate_total"`
	RecordedAt     time.Time           `json:"recorded_at"`
}
