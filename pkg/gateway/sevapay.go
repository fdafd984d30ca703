package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SevapayCredentials holds the merchant credentials for the SevaPay/Ketla
// IMPS and NEFT networks. SecretKey is used to sign every request.
type SevapayCredentials struct {
	BaseURL    string
	MerchantID string
	SecretKey  string
}

// Sevapay is the payout adapter for SevaPay's IMPS/NEFT transfer API. Every
// request carries an HMAC-SHA256 signature over the pipe-joined request
// fields, keyed with the merchant secret.
type Sevapay struct {
	creds      SevapayCredentials
	httpClient *http.Client
}

// NewSevapay creates a new SevaPay adapter with a bounded request timeout.
func NewSevapay(creds SevapayCredentials, timeout time.Duration) *Sevapay {
	return &Sevapay{
		creds:      creds,
		httpClient: newHTTPClient(timeout),
	}
}

func (s *Sevapay) Name() string { return "sevapay" }

type sevapayPayoutRequest struct {
	MerchantID      string `json:"merchantId"`
	ReferenceID     string `json:"referenceId"`
	AccountNumber   string `json:"accountNumber"`
	IFSC            string `json:"ifsc"`
	BeneficiaryName string `json:"beneficiaryName"`
	Amount          int64  `json:"amount"`
	TransferMode    string `json:"transferMode"` // IMPS or NEFT
	Remarks         string `json:"remarks"`
	Token           string `json:"token"`
}

type sevapayResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		TxnID string `json:"txnId"`
		UTR   string `json:"utr"`
	} `json:"data"`
}

// sign computes the request token: HMAC-SHA256 over the pipe-joined fields,
// hex encoded.
func (s *Sevapay) sign(fields ...string) string {
	mac := hmac.New(sha256.New, []byte(s.creds.SecretKey))
	mac.Write([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}

// Payout sends an IMPS or NEFT payout through SevaPay.
func (s *Sevapay) Payout(ctx context.Context, req NormalizedPayoutRequest) (*NormalizedPayoutResult, error) {
	mode := strings.ToUpper(req.Network)
	if mode != "NEFT" {
		mode = "IMPS"
	}

	amount := strconv.FormatInt(req.Amount, 10)
	payload := sevapayPayoutRequest{
		MerchantID:      s.creds.MerchantID,
		ReferenceID:     req.ReferenceID,
		AccountNumber:   req.AccountNumber,
		IFSC:            req.IFSC,
		BeneficiaryName: req.BeneficiaryName,
		Amount:          req.Amount,
		TransferMode:    mode,
		Remarks:         req.Remark,
		Token:           s.sign(s.creds.MerchantID, req.ReferenceID, req.AccountNumber, req.IFSC, amount),
	}

	status, body, err := doJSON(ctx, s.httpClient, http.MethodPost, s.creds.BaseURL+"/api/v2/payout/transfer", nil, payload)
	if err != nil {
		return nil, fmt.Errorf("sevapay payout: %w", err)
	}
	return s.normalize(status, body)
}

// CheckStatus queries SevaPay for the state of a previously submitted payout.
func (s *Sevapay) CheckStatus(ctx context.Context, referenceID string) (*NormalizedPayoutResult, error) {
	payload := map[string]string{
		"merchantId":  s.creds.MerchantID,
		"referenceId": referenceID,
		"token":       s.sign(s.creds.MerchantID, referenceID),
	}
	status, body, err := doJSON(ctx, s.httpClient, http.MethodPost, s.creds.BaseURL+"/api/v2/payout/status", nil, payload)
	if err != nil {
		return nil, fmt.Errorf("sevapay status check: %w", err)
	}
	return s.normalize(status, body)
}

func (s *Sevapay) normalize(httpStatus int, body []byte) (*NormalizedPayoutResult, error) {
	var resp sevapayResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("sevapay: failed to decode response (status %d): %w", httpStatus, err)
	}

	result := &NormalizedPayoutResult{
		GatewayTransactionID: resp.Data.TxnID,
		UTR:                  resp.Data.UTR,
		RawMessage:           resp.Message,
	}

	if !httpSuccess(httpStatus) {
		result.Outcome = OutcomeFailed
		if result.RawMessage == "" {
			result.RawMessage = fmt.Sprintf("sevapay returned status %d", httpStatus)
		}
		return result, nil
	}

	switch strings.ToUpper(strings.TrimSpace(resp.Status)) {
	case "SUCCESS", "TXN_SUCCESS":
		result.Outcome = OutcomeSuccess
	case "PENDING", "TXN_PENDING", "INITIATED":
		result.Outcome = OutcomePending
	default:
		result.Outcome = OutcomeFailed
	}
	return result, nil
}
