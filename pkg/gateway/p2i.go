package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// P2ICredentials holds the client credentials for the P2I UPI network.
type P2ICredentials struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

// P2I is the payout adapter for P2I's UPI transfer API.
type P2I struct {
	creds      P2ICredentials
	httpClient *http.Client
}

// NewP2I creates a new P2I adapter with a bounded request timeout.
func NewP2I(creds P2ICredentials, timeout time.Duration) *P2I {
	return &P2I{
		creds:      creds,
		httpClient: newHTTPClient(timeout),
	}
}

func (p *P2I) Name() string { return "p2i" }

type p2iPayoutRequest struct {
	PayeeVPA    string `json:"payeeVpa"`
	PayeeName   string `json:"payeeName"`
	Amount      int64  `json:"amount"`
	RequestID   string `json:"requestId"`
	Description string `json:"description"`
}

type p2iResponse struct {
	Code    string `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		PayoutID string `json:"payoutId"`
		RRN      string `json:"rrn"`
	} `json:"data"`
}

func (p *P2I) headers() map[string]string {
	return map[string]string{
		"X-Client-Id":     p.creds.ClientID,
		"X-Client-Secret": p.creds.ClientSecret,
	}
}

// Payout sends a UPI payout through P2I. The request id forwards our
// reference so retries dedupe at the provider.
func (p *P2I) Payout(ctx context.Context, req NormalizedPayoutRequest) (*NormalizedPayoutResult, error) {
	payload := p2iPayoutRequest{
		PayeeVPA:    req.VPA,
		PayeeName:   req.BeneficiaryName,
		Amount:      req.Amount,
		RequestID:   req.ReferenceID,
		Description: req.Remark,
	}

	status, body, err := doJSON(ctx, p.httpClient, http.MethodPost, p.creds.BaseURL+"/v1/payouts/upi", p.headers(), payload)
	if err != nil {
		return nil, fmt.Errorf("p2i payout: %w", err)
	}
	return p.normalize(status, body)
}

// CheckStatus queries P2I for the state of a previously submitted payout.
func (p *P2I) CheckStatus(ctx context.Context, referenceID string) (*NormalizedPayoutResult, error) {
	url := p.creds.BaseURL + "/v1/payouts/" + referenceID + "/status"
	status, body, err := doJSON(ctx, p.httpClient, http.MethodGet, url, p.headers(), nil)
	if err != nil {
		return nil, fmt.Errorf("p2i status check: %w", err)
	}
	return p.normalize(status, body)
}

func (p *P2I) normalize(httpStatus int, body []byte) (*NormalizedPayoutResult, error) {
	var resp p2iResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("p2i: failed to decode response (status %d): %w", httpStatus, err)
	}

	result := &NormalizedPayoutResult{
		GatewayTransactionID: resp.Data.PayoutID,
		UTR:                  resp.Data.RRN,
		RawMessage:           resp.Message,
	}

	if !httpSuccess(httpStatus) {
		result.Outcome = OutcomeFailed
		if result.RawMessage == "" {
			result.RawMessage = fmt.Sprintf("p2i returned status %d", httpStatus)
		}
		return result, nil
	}

	switch strings.ToUpper(strings.TrimSpace(resp.Status)) {
	case "SUCCESS", "SETTLED":
		result.Outcome = OutcomeSuccess
	case "PENDING", "QUEUED", "PROCESSING":
		result.Outcome = OutcomePending
	default:
		result.Outcome = OutcomeFailed
	}
	return result, nil
}
