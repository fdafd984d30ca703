package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/wepaysam/payout-service/internal/domain"
)

// GatewayEventConsumer adapts broker deliveries of gateway status events to
// the reconciler. The returned bool follows the broker contract: true acks
// the delivery, false nacks it back onto the queue.
type GatewayEventConsumer struct {
	reconciler *StatusReconciler
}

func NewGatewayEventConsumer(reconciler *StatusReconciler) *GatewayEventConsumer {
	return &GatewayEventConsumer{reconciler: reconciler}
}

func (c *GatewayEventConsumer) HandleMessage(body []byte) bool {
	var event domain.GatewayStatusEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("gateway-consumer: failed to unmarshal payload: %v", err)
		return true
	}

	if event.TransactionID == "" && event.ReferenceID == "" && event.GatewayTransactionID == "" {
		log.Printf("gateway-consumer: event carries no transaction reference, dropping (event_id=%s gateway=%s)", event.EventID, event.Gateway)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := c.reconciler.ApplyStatusEvent(ctx, event); err != nil {
		if errors.Is(err, ErrEventUnmatched) {
			// Likely a payout owned by another environment; re-queuing
			// would loop forever.
			log.Printf("gateway-consumer: no transaction for event %s (gateway=%s reference=%s), dropping", event.EventID, event.Gateway, event.ReferenceID)
			return true
		}
		log.Printf("gateway-consumer: processing error for event %s: %v", event.EventID, err)
		return false
	}

	return true
}
