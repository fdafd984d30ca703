/**
 * @description
 * This package contains the payment-gateway adapters used by the settlement
 * pipeline. Every supported payout network (AeronPay UPI, SevaPay IMPS/NEFT,
 * Katla DMT, P2I UPI) gets one adapter that translates a normalized payout
 * request into the provider's wire format and normalizes the response into a
 * tri-state outcome. All provider-specific parsing stays inside the adapter
 * boundary; the orchestrator only ever sees NormalizedPayoutResult values.
 *
 * @notes
 * - A provider status is trusted as non-FAILED only when the HTTP call
 *   succeeded AND the provider's embedded status field says success/pending.
 *   A 2xx response alone is never sufficient evidence of success.
 * - Network-level failures (timeout, connection error, malformed body) are
 *   returned as errors; the orchestrator treats any adapter error exactly
 *   like an explicit FAILED outcome.
 */
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Outcome is the normalized tri-state result of a gateway call.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomePending Outcome = "PENDING"
	OutcomeFailed  Outcome = "FAILED"
)

// NormalizedPayoutRequest is the provider-independent payout instruction.
// The ReferenceID doubles as the provider-side dedupe key so a retried call
// against the same reference cannot double-spend at the provider.
type NormalizedPayoutRequest struct {
	Network         string
	BeneficiaryName string
	AccountNumber   string
	IFSC            string
	VPA             string
	Amount          int64 // in paise
	Remark          string
	ReferenceID     string
}

// NormalizedPayoutResult is the normalized response from any provider.
type NormalizedPayoutResult struct {
	Outcome              Outcome
	GatewayTransactionID string
	UTR                  string
	RawMessage           string
}

// PayoutGateway is the common interface implemented by all payout adapters.
type PayoutGateway interface {
	// Name returns the unique gateway identifier (e.g. "aeronpay", "sevapay").
	Name() string

	// Payout sends the payout to the provider and normalizes its response.
	Payout(ctx context.Context, req NormalizedPayoutRequest) (*NormalizedPayoutResult, error)

	// CheckStatus queries the provider for the current state of a payout,
	// identified by the reference we originally sent.
	CheckStatus(ctx context.Context, referenceID string) (*NormalizedPayoutResult, error)
}

// Registry resolves gateway adapters by name.
type Registry struct {
	gateways map[string]PayoutGateway
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(gateways ...PayoutGateway) *Registry {
	m := make(map[string]PayoutGateway, len(gateways))
	for _, g := range gateways {
		m[strings.ToLower(g.Name())] = g
	}
	return &Registry{gateways: m}
}

// Lookup returns the adapter registered under the given name.
func (r *Registry) Lookup(name string) (PayoutGateway, bool) {
	g, ok := r.gateways[strings.ToLower(strings.TrimSpace(name))]
	return g, ok
}

// Names lists the registered gateway identifiers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	return names
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// doJSON executes an HTTP request with a JSON body and returns the status
// code and raw response body. Callers parse the body themselves because each
// provider has its own envelope.
func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, payload interface{}) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

func httpSuccess(status int) bool {
	return status >= 200 && status < 300
}
