package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tokopos/backend/internal/service"
	"tokopos/backend/internal/store/memory"
)

// newTestAPI builds the full API over an in-memory store with a real
// AuthManager and Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, 5*time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func loginToken(t *testing.T, handler http.Handler) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login body: %v", err)
	}
	if body.AccessToken == "" {
		t.Fatalf("empty access token")
	}
	return body.AccessToken
}

func authedRequest(t *testing.T, token string, method string, target string, body any) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	handler := newTestAPI(t).Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestHandleSales_CreateAndReplay(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler)

	sale := map[string]any{
		"lines": []map[string]any{
			{"sku": "SKU-MIE-01", "tier": "retail", "qty": 2},
		},
		"payment_method":    "cash",
		"amount_paid_cents": 10000,
	}

	req := authedRequest(t, token, http.MethodPost, "/api/v1/sales", sale)
	req.Header.Set("Idempotency-Key", "http-sale-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Transaction struct {
			ID            string `json:"id"`
			InvoiceNumber string `json:"invoice_number"`
			TotalCents    int64  `json:"total_cents"`
		} `json:"transaction"`
		ChangeCents int64 `json:"change_cents"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if created.Transaction.TotalCents != 7000 || created.ChangeCents != 3000 {
		t.Fatalf("total=%d change=%d", created.Transaction.TotalCents, created.ChangeCents)
	}
	if created.Transaction.InvoiceNumber == "" {
		t.Fatalf("missing invoice number")
	}

	// Same Idempotency-Key replays the original record with a 200.
	req = authedRequest(t, token, http.MethodPost, "/api/v1/sales", sale)
	req.Header.Set("Idempotency-Key", "http-sale-1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var replay struct {
		Transaction struct {
			ID string `json:"id"`
		} `json:"transaction"`
		Duplicate bool `json:"duplicate"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&replay); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if !replay.Duplicate || replay.Transaction.ID != created.Transaction.ID {
		t.Fatalf("replay = %+v, want duplicate of %s", replay, created.Transaction.ID)
	}
}

func TestHandleSales_TransferWithoutBankRef(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler)

	sale := map[string]any{
		"lines": []map[string]any{
			{"sku": "SKU-MIE-01", "tier": "retail", "qty": 1},
		},
		"payment_method":    "transfer",
		"amount_paid_cents": 3500,
	}
	req := authedRequest(t, token, http.MethodPost, "/api/v1/sales", sale)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleSales_UnknownFieldRejected(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler)

	req := authedRequest(t, token, http.MethodPost, "/api/v1/sales", map[string]any{
		"lines":          []map[string]any{{"sku": "SKU-MIE-01", "tier": "retail", "qty": 1}},
		"payment_method": "cash", "amount_paid_cents": 3500,
		"surprise": true,
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestHandleSalePayments(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler)

	sale := map[string]any{
		"lines": []map[string]any{
			{"sku": "SKU-GULA-01", "tier": "retail", "qty": 2},
		},
		"payment_method":    "deferred",
		"amount_paid_cents": 0,
	}
	req := authedRequest(t, token, http.MethodPost, "/api/v1/sales", sale)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open deferred sale: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Transaction struct {
			ID string `json:"id"`
		} `json:"transaction"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	req = authedRequest(t, token, http.MethodPost, "/api/v1/sales/"+created.Transaction.ID+"/payments",
		map[string]any{"amount_cents": 14800})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("installment: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var updated struct {
		PaymentStatus   string `json:"payment_status"`
		AmountPaidCents int64  `json:"amount_paid_cents"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.PaymentStatus != "partial" || updated.AmountPaidCents != 14800 {
		t.Fatalf("after installment: %+v", updated)
	}

	// An installment above the outstanding balance is rejected.
	req = authedRequest(t, token, http.MethodPost, "/api/v1/sales/"+created.Transaction.ID+"/payments",
		map[string]any{"amount_cents": 999999})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("oversized installment: expected 422, got %d", rec.Code)
	}
}

func TestHandleStockOpname_NoChange(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler)

	req := authedRequest(t, token, http.MethodPost, "/api/v1/stock/opname",
		map[string]any{"sku": "SKU-SUSU-01", "final_count": 60})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for matching count, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		NoChange bool `json:"no_change"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.NoChange {
		t.Fatalf("expected no_change:true")
	}
}

func TestHandleStockAdjustments_BadReason(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler)

	req := authedRequest(t, token, http.MethodPost, "/api/v1/stock/adjustments", map[string]any{
		"sku": "SKU-MIE-01", "direction": "decrease", "qty": 1,
		"reason": map[string]any{"code": "surplus_found"},
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for increase-only reason, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleSaleReturns(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler)

	sale := map[string]any{
		"lines": []map[string]any{
			{"sku": "SKU-SUSU-01", "tier": "retail", "qty": 3},
		},
		"payment_method":    "cash",
		"amount_paid_cents": 56700,
	}
	req := authedRequest(t, token, http.MethodPost, "/api/v1/sales", sale)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created struct {
		Transaction struct {
			ID string `json:"id"`
		} `json:"transaction"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	returnsPath := "/api/v1/sales/" + created.Transaction.ID + "/returns"
	req = authedRequest(t, token, http.MethodPost, returnsPath, map[string]any{
		"lines": []map[string]any{{"sku": "SKU-SUSU-01", "qty": 2}},
	})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create return: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Over-return of the single remaining unit plus one more is refused.
	req = authedRequest(t, token, http.MethodPost, returnsPath, map[string]any{
		"lines": []map[string]any{{"sku": "SKU-SUSU-01", "qty": 2}},
	})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("over-return: expected 422, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	req = authedRequest(t, token, http.MethodGet, returnsPath, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("return history: %d", rec.Code)
	}
	var history struct {
		TotalReturnedCents int64 `json:"total_returned_cents"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if history.TotalReturnedCents != 37800 {
		t.Fatalf("total returned = %d, want 37800", history.TotalReturnedCents)
	}
}

func TestHandleReceivables(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler)

	sale := map[string]any{
		"customer_id": "cst-warung-sari",
		"lines": []map[string]any{
			{"sku": "SKU-BERAS-01", "tier": "wholesale", "qty": 2},
		},
		"payment_method":    "deferred",
		"amount_paid_cents": 28000,
	}
	req := authedRequest(t, token, http.MethodPost, "/api/v1/sales", sale)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: %d (body: %s)", rec.Code, rec.Body.String())
	}

	req = authedRequest(t, token, http.MethodGet, "/api/v1/balances/receivables", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("receivables: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		OutstandingCents int64 `json:"outstanding_cents"`
		RecordCount      int   `json:"record_count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RecordCount != 1 || body.OutstandingCents != 100000 {
		t.Fatalf("receivables = %+v, want one record owing 100000", body)
	}
}

func TestHandleUnsupportedMethod(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler)

	req := authedRequest(t, token, http.MethodDelete, "/api/v1/sales", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
