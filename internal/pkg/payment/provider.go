package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inviteku/inviteku/internal/pkg/env"
)

const defaultInvoiceAPIBaseURL = "https://invoice-api.example.id/v2"

// InvoiceClient talks to the external invoicing provider. The provider is
// the payment oracle: we create invoices against it and trust its webhook
// callbacks once authenticated.
type InvoiceClient struct {
	APIKey     string
	APIBaseURL string

	SuccessRedirectURL string
	FailureRedirectURL string
	Currency           string
	InvoiceDuration    time.Duration

	HTTPClient *http.Client
}

// CreateInvoiceRequest is the outbound invoice creation payload.
type CreateInvoiceRequest struct {
	ExternalID         string `json:"external_id"`
	Amount             int64  `json:"amount"`
	Currency           string `json:"currency"`
	Description        string `json:"description"`
	PayerEmail         string `json:"payer_email,omitempty"`
	SuccessRedirectURL string `json:"success_redirect_url,omitempty"`
	FailureRedirectURL string `json:"failure_redirect_url,omitempty"`
	InvoiceDuration    int64  `json:"invoice_duration,omitempty"`
}

// ProviderInvoice is the provider's response to invoice creation.
type ProviderInvoice struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	InvoiceURL string `json:"invoice_url"`
	ExpiryDate string `json:"expiry_date"`
}

// NewInvoiceClientFromEnv builds a client from environment configuration.
func NewInvoiceClientFromEnv() *InvoiceClient {
	durationSecs := int64(24 * 60 * 60)
	if raw := strings.TrimSpace(env.GetEnv("PAYMENT_INVOICE_DURATION", "")); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			durationSecs = int64(parsed.Seconds())
		}
	}

	return &InvoiceClient{
		APIKey:             strings.TrimSpace(env.GetEnv("PAYMENT_API_KEY", "")),
		APIBaseURL:         strings.TrimRight(env.GetEnv("PAYMENT_API_BASE_URL", defaultInvoiceAPIBaseURL), "/"),
		SuccessRedirectURL: strings.TrimSpace(env.GetEnv("PAYMENT_SUCCESS_REDIRECT_URL", "")),
		FailureRedirectURL: strings.TrimSpace(env.GetEnv("PAYMENT_FAILURE_REDIRECT_URL", "")),
		Currency:           strings.TrimSpace(env.GetEnv("PAYMENT_CURRENCY", "IDR")),
		InvoiceDuration:    time.Duration(durationSecs) * time.Second,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateInvoice creates a remote invoice keyed by the order's external id and
// returns the checkout URL plus the provider-assigned invoice id.
func (c *InvoiceClient) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*ProviderInvoice, error) {
	if strings.TrimSpace(c.APIKey) == "" {
		return nil, errors.New("PAYMENT_API_KEY is not configured")
	}
	if strings.TrimSpace(req.ExternalID) == "" {
		return nil, errors.New("external_id is required")
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("invalid invoice amount: %d", req.Amount)
	}

	if req.Currency == "" {
		req.Currency = c.Currency
	}
	if req.SuccessRedirectURL == "" {
		req.SuccessRedirectURL = c.SuccessRedirectURL
	}
	if req.FailureRedirectURL == "" {
		req.FailureRedirectURL = c.FailureRedirectURL
	}
	if req.InvoiceDuration == 0 {
		req.InvoiceDuration = int64(c.InvoiceDuration.Seconds())
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/invoices", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(c.APIKey, "")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("invoice creation request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("invoice creation failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var out ProviderInvoice
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("invoice creation response missing invoice id")
	}
	if strings.TrimSpace(out.InvoiceURL) == "" {
		return nil, errors.New("invoice creation response missing invoice_url")
	}
	return &out, nil
}
