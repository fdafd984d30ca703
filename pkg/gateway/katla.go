package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// KatlaCredentials holds the bearer token for the Katla DMT network.
type KatlaCredentials struct {
	BaseURL  string
	APIToken string
}

// Katla is the payout adapter for Katla's domestic money transfer (DMT) API.
type Katla struct {
	creds      KatlaCredentials
	httpClient *http.Client
}

// NewKatla creates a new Katla adapter with a bounded request timeout.
func NewKatla(creds KatlaCredentials, timeout time.Duration) *Katla {
	return &Katla{
		creds:      creds,
		httpClient: newHTTPClient(timeout),
	}
}

func (k *Katla) Name() string { return "katla" }

type katlaPayoutRequest struct {
	BeneficiaryAccount string `json:"beneAccount"`
	BeneficiaryIFSC    string `json:"beneIfsc"`
	BeneficiaryName    string `json:"beneName"`
	Amount             int64  `json:"amount"`
	Mode               string `json:"mode"`
	ReferenceID        string `json:"referenceId"`
	Remarks            string `json:"remarks"`
}

type katlaResponse struct {
	ResponseCode int    `json:"responseCode"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	TxnID        string `json:"txnId"`
	UTR          string `json:"utr"`
}

func (k *Katla) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + k.creds.APIToken}
}

// Payout sends a DMT payout through Katla.
func (k *Katla) Payout(ctx context.Context, req NormalizedPayoutRequest) (*NormalizedPayoutResult, error) {
	payload := katlaPayoutRequest{
		BeneficiaryAccount: req.AccountNumber,
		BeneficiaryIFSC:    req.IFSC,
		BeneficiaryName:    req.BeneficiaryName,
		Amount:             req.Amount,
		Mode:               "IMPS",
		ReferenceID:        req.ReferenceID,
		Remarks:            req.Remark,
	}

	status, body, err := doJSON(ctx, k.httpClient, http.MethodPost, k.creds.BaseURL+"/dmt/v1/payout", k.headers(), payload)
	if err != nil {
		return nil, fmt.Errorf("katla payout: %w", err)
	}
	return k.normalize(status, body)
}

// CheckStatus queries Katla for the state of a previously submitted payout.
func (k *Katla) CheckStatus(ctx context.Context, referenceID string) (*NormalizedPayoutResult, error) {
	url := k.creds.BaseURL + "/dmt/v1/payout/status/" + referenceID
	status, body, err := doJSON(ctx, k.httpClient, http.MethodGet, url, k.headers(), nil)
	if err != nil {
		return nil, fmt.Errorf("katla status check: %w", err)
	}
	return k.normalize(status, body)
}

func (k *Katla) normalize(httpStatus int, body []byte) (*NormalizedPayoutResult, error) {
	var resp katlaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("katla: failed to decode response (status %d): %w", httpStatus, err)
	}

	result := &NormalizedPayoutResult{
		GatewayTransactionID: resp.TxnID,
		UTR:                  resp.UTR,
		RawMessage:           resp.Message,
	}

	if !httpSuccess(httpStatus) {
		result.Outcome = OutcomeFailed
		if result.RawMessage == "" {
			result.RawMessage = fmt.Sprintf("katla returned status %d", httpStatus)
		}
		return result, nil
	}

	// Katla reports both a numeric response code and a status string; the
	// string is authoritative, the code only disambiguates empty statuses.
	statusStr := strings.ToUpper(strings.TrimSpace(resp.Status))
	if statusStr == "" && resp.ResponseCode == 0 {
		statusStr = "SUCCESS"
	}

	switch statusStr {
	case "SUCCESS", "COMPLETED":
		result.Outcome = OutcomeSuccess
	case "PENDING", "PROCESSING", "ACCEPTED":
		result.Outcome = OutcomePending
	default:
		result.Outcome = OutcomeFailed
	}
	return result, nil
}
