package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testInvoiceClient(baseURL string) *InvoiceClient {
	return &InvoiceClient{
		APIKey:             "test-key",
		APIBaseURL:         baseURL,
		SuccessRedirectURL: "https://inviteku.example.id/checkout/success",
		FailureRedirectURL: "https://inviteku.example.id/checkout/failed",
		Currency:           "IDR",
		InvoiceDuration:    24 * time.Hour,
		HTTPClient:         &http.Client{Timeout: 5 * time.Second},
	}
}

func TestCreateInvoiceSuccess(t *testing.T) {
	var captured CreateInvoiceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/invoices" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		user, _, ok := r.BasicAuth()
		if !ok || user != "test-key" {
			t.Errorf("missing or wrong basic auth user: %q", user)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ProviderInvoice{
			ID:         "inv_123",
			ExternalID: captured.ExternalID,
			Status:     "PENDING",
			InvoiceURL: "https://checkout.example.id/inv_123",
		})
	}))
	defer srv.Close()

	client := testInvoiceClient(srv.URL)
	invoice, err := client.CreateInvoice(context.Background(), CreateInvoiceRequest{
		ExternalID:  "ord_abc",
		Amount:      150000,
		Description: "Invitation package: Premium",
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	if invoice.ID != "inv_123" {
		t.Fatalf("invoice id = %q", invoice.ID)
	}
	if invoice.InvoiceURL == "" {
		t.Fatal("missing invoice url")
	}
	if captured.Currency != "IDR" {
		t.Fatalf("currency = %q, want client default", captured.Currency)
	}
	if captured.SuccessRedirectURL == "" || captured.FailureRedirectURL == "" {
		t.Fatal("redirect URLs were not filled from client defaults")
	}
	if captured.InvoiceDuration != int64((24 * time.Hour).Seconds()) {
		t.Fatalf("invoice_duration = %d", captured.InvoiceDuration)
	}
}

func TestCreateInvoiceErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"duplicate external_id"}`))
	}))
	defer srv.Close()

	client := testInvoiceClient(srv.URL)
	_, err := client.CreateInvoice(context.Background(), CreateInvoiceRequest{
		ExternalID: "ord_dup",
		Amount:     100,
	})
	if err == nil {
		t.Fatal("expected error for non-2xx status")
	}
	if !strings.Contains(err.Error(), "status=422") {
		t.Fatalf("error missing status detail: %v", err)
	}
}

func TestCreateInvoiceMissingFieldsInResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"PENDING"}`))
	}))
	defer srv.Close()

	client := testInvoiceClient(srv.URL)
	_, err := client.CreateInvoice(context.Background(), CreateInvoiceRequest{
		ExternalID: "ord_abc",
		Amount:     100,
	})
	if err == nil {
		t.Fatal("expected error for response without invoice id")
	}
}

func TestCreateInvoiceRejectsBadInput(t *testing.T) {
	client := testInvoiceClient("http://127.0.0.1:0")

	if _, err := client.CreateInvoice(context.Background(), CreateInvoiceRequest{Amount: 100}); err == nil {
		t.Fatal("expected error for missing external id")
	}
	if _, err := client.CreateInvoice(context.Background(), CreateInvoiceRequest{ExternalID: "ord_x", Amount: 0}); err == nil {
		t.Fatal("expected error for non-positive amount")
	}

	client.APIKey = ""
	if _, err := client.CreateInvoice(context.Background(), CreateInvoiceRequest{ExternalID: "ord_x", Amount: 100}); err == nil {
		t.Fatal("expected error for unconfigured api key")
	}
}
