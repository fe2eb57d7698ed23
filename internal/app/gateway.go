/**
 * @description
 * Gateway-confirmed external movements: deposits into and withdrawals out of
 * ledger accounts, driven by confirmations the payment gateway publishes
 * after it has verified the external transaction. Each confirmation carries a
 * unique external reference; processing the same reference twice changes
 * nothing after the first commit.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/chamahub/ledger-service/internal/domain"
	"github.com/chamahub/ledger-service/internal/store"
	"github.com/google/uuid"
)

const (
	GatewayDirectionCredit = "credit"
	GatewayDirectionDebit  = "debit"
)

// ProcessGatewayConfirmation applies one confirmed external movement. It is
// safe to call repeatedly with the same confirmation: the Redis guard drops
// redeliveries cheaply and the store's unique external-reference index
// rejects anything that slips past it.
func (s *Service) ProcessGatewayConfirmation(ctx context.Context, conf domain.GatewayConfirmation) (*domain.TransactionRecord, error) {
	// 1. Validate the message before touching anything.
	if conf.Amount <= 0 {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	if strings.TrimSpace(conf.ExternalReference) == "" {
		return nil, domain.NewValidationError("external_reference", "must not be empty")
	}
	if conf.Direction != GatewayDirectionCredit && conf.Direction != GatewayDirectionDebit {
		return nil, domain.NewValidationError("direction", fmt.Sprintf("unknown direction %q", conf.Direction))
	}

	// 2. Reserve the reference. A lost reservation means another consumer has
	//    this confirmation; treat it as already handled.
	if s.idempotency != nil {
		reserved, err := s.idempotency.Reserve(ctx, conf.ExternalReference)
		if err != nil {
			// Degrade to the database index rather than failing the message.
			log.Printf("level=warn component=ledger_service msg=\"idempotency guard unavailable\" reference=%s err=%v",
				conf.ExternalReference, err)
		} else if !reserved {
			log.Printf("level=info component=ledger_service msg=\"duplicate gateway confirmation dropped\" reference=%s",
				conf.ExternalReference)
			return s.repo.FindRecordByExternalReference(ctx, conf.ExternalReference)
		}
	}

	account, err := s.repo.GetAccount(ctx, conf.AccountID)
	if err != nil {
		s.releaseReservation(ctx, conf.ExternalReference)
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	txType := domain.TxExternalCredit
	if conf.Direction == GatewayDirectionDebit {
		txType = domain.TxExternalDebit
		if !account.CanDebit(conf.Amount) {
			s.releaseReservation(ctx, conf.ExternalReference)
			return nil, store.ErrInsufficientFunds
		}
	}

	reference := conf.ExternalReference
	record := domain.TransactionRecord{
		ID:                uuid.New(),
		GroupID:           account.GroupID,
		Type:              txType,
		Amount:            conf.Amount,
		AccountID:         account.ID,
		AccountKind:       account.Kind,
		Method:            domain.MethodMobileMoney,
		Description:       fmt.Sprintf("Gateway-confirmed %s", conf.Direction),
		ExternalReference: &reference,
		Status:            domain.TxCompleted,
		OccurredAt:        conf.ConfirmedAt,
	}

	// 3. Apply atomically. A duplicate reference here means the first
	//    delivery committed; return its record instead of an error.
	committed, err := s.repo.RecordExternalMovementAtomic(ctx, store.ExternalMovementParams{
		AccountID:         account.ID,
		Amount:            conf.Amount,
		ExternalReference: conf.ExternalReference,
		Record:            record,
		Debit:             conf.Direction == GatewayDirectionDebit,
	})
	if err == store.ErrDuplicateExternalReference {
		return s.repo.FindRecordByExternalReference(ctx, conf.ExternalReference)
	}
	if err != nil {
		s.releaseReservation(ctx, conf.ExternalReference)
		return nil, err
	}

	if conf.Direction == GatewayDirectionCredit {
		s.publish(ctx, domain.EventWalletFunded, domain.TransferCompletedEvent{
			TransferID:    committed.ID,
			ToAccountID:   account.ID,
			Amount:        conf.Amount,
			OccurredAt:    conf.ConfirmedAt,
			FromAccountID: uuid.Nil,
		})
	}
	return committed, nil
}

// releaseReservation frees the idempotency slot after a failed attempt so a
// redelivery can try again.
func (s *Service) releaseReservation(ctx context.Context, reference string) {
	if s.idempotency == nil {
		return
	}
	if err := s.idempotency.Release(ctx, reference); err != nil {
		log.Printf("level=warn component=ledger_service msg=\"failed to release idempotency reservation\" reference=%s err=%v",
			reference, err)
	}
}
