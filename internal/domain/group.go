/**
 * @description
 * This file defines groups and memberships. A group is one pooled-savings
 * circle; its archetype selects the policy record that governs contributions,
 * loans, and payouts. Member ordering matters: a member's position is their
 * slot in the rotation payout order.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Archetype identifies which of the four group models a group runs under.
type Archetype string

const (
	ArchetypeChama          Archetype = "rotating_savings" // chama
	ArchetypeSacco          Archetype = "cooperative"      // sacco
	ArchetypeTableBanking   Archetype = "meeting_lending"  // table banking
	ArchetypeInvestmentClub Archetype = "pooled_investment"
)

// ValidArchetype reports whether a is one of the four supported archetypes.
func ValidArchetype(a Archetype) bool {
	switch a {
	case ArchetypeChama, ArchetypeSacco, ArchetypeTableBanking, ArchetypeInvestmentClub:
		return true
	}
	return false
}

// MemberRole distinguishes ordinary members from officials who can verify
// payments and approve loans.
type MemberRole string

const (
	RoleMember    MemberRole = "member"
	RoleTreasurer MemberRole = "treasurer"
	RoleChair     MemberRole = "chairperson"
)

// Member is one person's membership in a group. Position is the member's
// zero-based slot in the payout rotation.
type Member struct {
	ID       uuid.UUID  `json:"id"`
	GroupID  uuid.UUID  `json:"group_id"`
	UserID   uuid.UUID  `json:"user_id"`
	Role     MemberRole `json:"role"`
	Position int        `json:"position"`
	JoinedAt time.Time  `json:"joined_at"`
}

// Group is a pooled-savings circle.
type Group struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Archetype Archetype `json:"archetype"`
	Currency  string    `json:"currency"`
	Members   []Member  `json:"members,omitempty"` // ordered by Position

	// CurrentCycle is the 1-based rotation cycle for chama groups.
	CurrentCycle int `json:"current_cycle"`

	// ContributionAmount is the fixed per-cycle contribution for
	// equal-contribution archetypes; zero means not yet set.
	ContributionAmount int64 `json:"contribution_amount"`

	// MeetingPool is the running total collected at the current meeting for
	// table-banking groups; it is re-lent before the meeting closes.
	MeetingPool int64 `json:"meeting_pool"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemberAt returns the member occupying the given rotation position, or nil.
func (g *Group) MemberAt(position int) *Member {
	for i := range g.Members {
		if g.Members[i].Position == position {
			return &g.Members[i]
		}
	}
	return nil
}

// MemberByID returns the member with the given membership ID, or nil.
func (g *Group) MemberByID(memberID uuid.UUID) *Member {
	for i := range g.Members {
		if g.Members[i].ID == memberID {
			return &g.Members[i]
		}
	}
	return nil
}

// MemberByUserID returns the membership for a user, or nil.
func (g *Group) MemberByUserID(userID uuid.UUID) *Member {
	for i := range g.Members {
		if g.Members[i].UserID == userID {
			return &g.Members[i]
		}
	}
	return nil
}
