/**
 * @description
 * This file defines the `Service` struct: the stateless orchestration layer
 * for every ledger operation. It validates against the group policy engine,
 * computes new entity state, hands the complete effect to the repository's
 * atomic operations, and publishes domain events after commit.
 *
 * Key features:
 * - Implements the main use cases: contributions, transfers, wallet funding,
 *   the loan lifecycle, archetype payouts, and gateway-confirmed movements.
 * - Operates on explicitly passed entities and returns updated values; no
 *   behavior is attached to persisted records.
 * - Loan settings are resolved once at construction and passed through,
 *   never fetched mid-operation.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/policy, internal/store: Domain models, policy
 *   engine, and data access.
 * - pkg/rabbitmq: Event publishing.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/chamahub/ledger-service/internal/domain"
	"github.com/chamahub/ledger-service/internal/policy"
	"github.com/chamahub/ledger-service/internal/store"
	"github.com/chamahub/ledger-service/pkg/rabbitmq"
)

// Fallbacks when config leaves the knobs blank.
const (
	// LedgerEventsExchange is the default topic exchange for domain events.
	LedgerEventsExchange = "ledger.events"
	// DefaultCurrency is the currency for wallets created outside a group.
	DefaultCurrency = "KES"
)

// Service provides the core business logic for the pooled-savings ledger.
type Service struct {
	repo            store.Repository
	policies        *policy.Engine
	eventProducer   rabbitmq.Publisher
	loanSettings    domain.LoanSettings
	idempotency     IdempotencyGuard
	eventsExchange  string
	defaultCurrency string

	// now is swappable in tests.
	now func() time.Time
}

// NewService creates a new ledger service instance. Blank exchange or
// currency fall back to the package defaults.
func NewService(repo store.Repository, policies *policy.Engine, producer rabbitmq.Publisher, loanSettings domain.LoanSettings, eventsExchange, defaultCurrency string) *Service {
	if eventsExchange == "" {
		eventsExchange = LedgerEventsExchange
	}
	if defaultCurrency == "" {
		defaultCurrency = DefaultCurrency
	}
	return &Service{
		repo:            repo,
		policies:        policies,
		eventProducer:   producer,
		loanSettings:    loanSettings,
		eventsExchange:  eventsExchange,
		defaultCurrency: defaultCurrency,
		now:             time.Now,
	}
}

// SetIdempotencyGuard installs the optional distributed guard for gateway
// confirmations. Without one, the store's unique external-reference index is
// the only duplicate protection, which is still correct.
func (s *Service) SetIdempotencyGuard(guard IdempotencyGuard) {
	s.idempotency = guard
}

// publish sends a domain event fire-and-forget. Ledger operations never fail
// because notification delivery did.
func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, s.eventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=ledger_service msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// policyViolation wraps a failed validation into the typed error callers
// surface to users.
func policyViolation(archetype domain.Archetype, op policy.Operation, result policy.ValidationResult) error {
	return &domain.PolicyViolationError{
		Archetype:  archetype,
		Operation:  string(op),
		Violations: result.Violations,
	}
}
