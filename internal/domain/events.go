package domain

import "time"

// GatewayStatusEvent represents an asynchronous status update for a payout,
// delivered either by a provider webhook or over the message broker. The
// reference fields identify the transaction; either the internal id, the
// caller reference, or the gateway's own transaction id may be present.
type GatewayStatusEvent struct {
	EventID              string    `json:"event_id"`
	Gateway              string    `json:"gateway"`
	TransactionID        string    `json:"transaction_id"`
	ReferenceID          string    `json:"reference_id"`
	GatewayTransactionID string    `json:"gateway_transaction_id"`
	Status               string    `json:"status"`
	UTR                  string    `json:"utr"`
	Reason               string    `json:"reason"`
	OccurredAt           time.Time `json:"occurred_at"`
}
