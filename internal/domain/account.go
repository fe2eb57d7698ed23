/**
 * @description
 * This file defines the account entities for the ledger core. Every pool of
 * money in the system — a group's savings, its loan fund, fines, interest
 * earned, the general-purpose float, and each member's personal wallet — is an
 * Account with a non-negative balance held in the smallest currency unit.
 *
 * @notes
 * - Balances are `int64` minor units (cents/kobo equivalent) to avoid
 *   floating-point inaccuracies with financial data.
 * - Version carries the optimistic-concurrency token; every balance write in
 *   the store increments it and rejects stale writers.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AccountKind identifies which named balance an account represents.
type AccountKind string

const (
	AccountSavings        AccountKind = "savings"
	AccountLoan           AccountKind = "loan"
	AccountInterestEarned AccountKind = "interest_earned"
	AccountFines          AccountKind = "fines"
	AccountGroupGeneral   AccountKind = "group_general"
	AccountWallet         AccountKind = "wallet"
)

// GroupAccountKinds is the fixed set of balances created for every group.
var GroupAccountKinds = []AccountKind{
	AccountSavings,
	AccountLoan,
	AccountInterestEarned,
	AccountFines,
	AccountGroupGeneral,
}

// ValidAccountKind reports whether k is one of the known account kinds.
func ValidAccountKind(k AccountKind) bool {
	switch k {
	case AccountSavings, AccountLoan, AccountInterestEarned, AccountFines,
		AccountGroupGeneral, AccountWallet:
		return true
	}
	return false
}

// Account is a single named balance. Group-owned accounts carry a GroupID and
// no OwnerID; wallets carry the owning member's ID and no GroupID.
type Account struct {
	ID        uuid.UUID   `json:"id"`
	GroupID   *uuid.UUID  `json:"group_id,omitempty"`
	OwnerID   *uuid.UUID  `json:"owner_id,omitempty"`
	Kind      AccountKind `json:"kind"`
	Balance   int64       `json:"balance"` // minor units, never negative
	Currency  string      `json:"currency"`
	Version   int64       `json:"version"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// IsWallet reports whether the account is a member's personal wallet.
func (a *Account) IsWallet() bool {
	return a.Kind == AccountWallet
}

// CanDebit reports whether the account holds at least amount.
func (a *Account) CanDebit(amount int64) bool {
	return amount > 0 && a.Balance >= amount
}
