package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AeronpayCredentials holds the provider-issued secrets for the AeronPay UPI
// network. They come from process configuration and are injected at
// construction; adapters never read the environment themselves.
type AeronpayCredentials struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

// Aeronpay is the payout adapter for AeronPay's UPI transfer API.
type Aeronpay struct {
	creds      AeronpayCredentials
	httpClient *http.Client
}

// NewAeronpay creates a new AeronPay adapter with a bounded request timeout.
func NewAeronpay(creds AeronpayCredentials, timeout time.Duration) *Aeronpay {
	return &Aeronpay{
		creds:      creds,
		httpClient: newHTTPClient(timeout),
	}
}

func (a *Aeronpay) Name() string { return "aeronpay" }

type aeronpayPayoutRequest struct {
	Amount            int64  `json:"amount"`
	VPA               string `json:"vpa"`
	BeneficiaryName   string `json:"beneficiaryName"`
	Remarks           string `json:"remarks"`
	ClientReferenceID string `json:"client_referenceId"`
	TransferMode      string `json:"transferMode"`
}

type aeronpayResponse struct {
	StatusCode int    `json:"statusCode"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	Data       struct {
		TransactionID string `json:"transactionId"`
		UTR           string `json:"utr"`
	} `json:"data"`
}

func (a *Aeronpay) headers() map[string]string {
	return map[string]string{
		"client-id":     a.creds.ClientID,
		"client-secret": a.creds.ClientSecret,
	}
}

// Payout sends a UPI payout through AeronPay.
func (a *Aeronpay) Payout(ctx context.Context, req NormalizedPayoutRequest) (*NormalizedPayoutResult, error) {
	payload := aeronpayPayoutRequest{
		Amount:            req.Amount,
		VPA:               req.VPA,
		BeneficiaryName:   req.BeneficiaryName,
		Remarks:           req.Remark,
		ClientReferenceID: req.ReferenceID,
		TransferMode:      "upi",
	}

	status, body, err := doJSON(ctx, a.httpClient, http.MethodPost, a.creds.BaseURL+"/api/payout/upi", a.headers(), payload)
	if err != nil {
		return nil, fmt.Errorf("aeronpay payout: %w", err)
	}
	return a.normalize(status, body)
}

// CheckStatus queries AeronPay for the state of a previously submitted payout.
func (a *Aeronpay) CheckStatus(ctx context.Context, referenceID string) (*NormalizedPayoutResult, error) {
	payload := map[string]string{"client_referenceId": referenceID}
	status, body, err := doJSON(ctx, a.httpClient, http.MethodPost, a.creds.BaseURL+"/api/payout/statuscheck", a.headers(), payload)
	if err != nil {
		return nil, fmt.Errorf("aeronpay status check: %w", err)
	}
	return a.normalize(status, body)
}

// normalize maps AeronPay's envelope onto the tri-state outcome. Both the
// HTTP status and the embedded status field must agree before the result is
// treated as non-FAILED.
func (a *Aeronpay) normalize(httpStatus int, body []byte) (*NormalizedPayoutResult, error) {
	var resp aeronpayResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("aeronpay: failed to decode response (status %d): %w", httpStatus, err)
	}

	result := &NormalizedPayoutResult{
		GatewayTransactionID: resp.Data.TransactionID,
		UTR:                  resp.Data.UTR,
		RawMessage:           resp.Message,
	}

	if !httpSuccess(httpStatus) {
		result.Outcome = OutcomeFailed
		if result.RawMessage == "" {
			result.RawMessage = fmt.Sprintf("aeronpay returned status %d", httpStatus)
		}
		return result, nil
	}

	switch strings.ToUpper(strings.TrimSpace(resp.Status)) {
	case "SUCCESS", "SUCCESSFUL":
		result.Outcome = OutcomeSuccess
	case "PENDING", "PROCESSING", "INPROGRESS":
		result.Outcome = OutcomePending
	default:
		result.Outcome = OutcomeFailed
	}
	return result, nil
}
