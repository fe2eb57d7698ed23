package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/chamahub/ledger-service/internal/domain"
	"github.com/chamahub/ledger-service/internal/store"
	"github.com/google/uuid"
)

// GatewayConfirmationConsumer processes payment-gateway confirmations from
// the broker and applies them through the service. Returning false from
// HandleMessage nacks the delivery for a retry; malformed payloads are acked
// so they do not loop forever.
type GatewayConfirmationConsumer struct {
	service *Service
}

func NewGatewayConfirmationConsumer(service *Service) *GatewayConfirmationConsumer {
	return &GatewayConfirmationConsumer{service: service}
}

func (c *GatewayConfirmationConsumer) HandleMessage(body []byte) bool {
	var conf domain.GatewayConfirmation
	if err := json.Unmarshal(body, &conf); err != nil {
		log.Printf("gateway-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	conf.Direction = strings.TrimSpace(strings.ToLower(conf.Direction))

	if strings.TrimSpace(conf.ExternalReference) == "" {
		log.Printf("gateway-consumer: missing external reference in confirmation %+v", conf)
		return true
	}
	if conf.AccountID == uuid.Nil {
		log.Printf("gateway-consumer: missing account id for reference %s", conf.ExternalReference)
		return true
	}
	if conf.ConfirmedAt.IsZero() {
		conf.ConfirmedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processConfirmation(ctx, conf); err != nil {
		log.Printf("gateway-consumer: processing error for reference %s: %v", conf.ExternalReference, err)
		return false
	}

	return true
}

func (c *GatewayConfirmationConsumer) processConfirmation(ctx context.Context, conf domain.GatewayConfirmation) error {
	_, err := c.service.ProcessGatewayConfirmation(ctx, conf)
	if err == nil {
		return nil
	}

	// Permanent failures are acked after logging; retrying cannot fix them.
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		log.Printf("gateway-consumer: rejecting invalid confirmation %s: %v", conf.ExternalReference, err)
		return nil
	}
	if errors.Is(err, store.ErrAccountNotFound) {
		log.Printf("gateway-consumer: no account %s for reference %s; acknowledging", conf.AccountID, conf.ExternalReference)
		return nil
	}
	if errors.Is(err, store.ErrDuplicateExternalReference) {
		return nil
	}
	return err
}
