package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rasoipos/backend/internal/cache"
	"rasoipos/backend/internal/service"
	"rasoipos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopTaxGroupCache{}, "main-business", 5*time.Minute, 3)
	auth := NewAuthManager("test-secret-key", time.Hour, "main-business", repo)

	return New(svc, auth, "*")
}

func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d (body: %s)", username, rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login body: %v", err)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatalf("expected access_token in login response")
	}
	return token
}

func fetchCSRFToken(t *testing.T, handler http.Handler) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf body: %v", err)
	}
	token, _ := body["csrf_token"].(string)
	if token == "" {
		t.Fatalf("expected csrf_token in response")
	}
	return token
}

func authedRequest(t *testing.T, handler http.Handler, method, path, token, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

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

func TestTaxGroupsRequireAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tax-groups", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestCreateTaxGroupEndToEnd(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "admin", "admin123")
	csrf := fetchCSRFToken(t, handler)

	rec := authedRequest(t, handler, http.MethodPost, "/api/v1/tax-groups", token, csrf, map[string]any{
		"name":       "GST 12%",
		"total_rate": "12",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = authedRequest(t, handler, http.MethodGet, "/api/v1/tax-groups?active=true", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		TaxGroups []map[string]any `json:"tax_groups"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	found := false
	for _, group := range body.TaxGroups {
		if group["name"] == "GST 12%" {
			found = true
		}
	}
	if !found {
		t.Fatalf("created group missing from active list")
	}
}

func TestCreateTaxGroupForbiddenForCashier(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, handler)

	rec := authedRequest(t, handler, http.MethodPost, "/api/v1/tax-groups", token, csrf, map[string]any{
		"name":       "GST 12%",
		"total_rate": "12",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestMutationRejectedWithoutCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "admin", "admin123")

	rec := authedRequest(t, handler, http.MethodPost, "/api/v1/tax-groups", token, "", map[string]any{
		"name":       "GST 12%",
		"total_rate": "12",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}
}

func TestValidateTaxGroupReturnsFieldErrors(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "admin", "admin123")
	csrf := fetchCSRFToken(t, handler)

	rec := authedRequest(t, handler, http.MethodPost, "/api/v1/tax-groups/validate", token, csrf, map[string]any{
		"name":       "GST 18%",
		"total_rate": "150",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 (dry run never persists), got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var result struct {
		IsValid bool `json:"is_valid"`
		Errors  []struct {
			Field string `json:"field"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.IsValid || len(result.Errors) == 0 {
		t.Fatalf("expected invalid result with field errors, got %+v", result)
	}
}

func TestCreateBillEndToEnd(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, handler)

	rec := authedRequest(t, handler, http.MethodPost, "/api/v1/bills", token, csrf, map[string]any{
		"lines": []map[string]any{
			{"product_id": "prod-filter-coffee", "quantity": 2, "unit_price": "100.00"},
		},
		"service_charge": map[string]any{"enabled": false, "rate": "0"},
		"payment_method": "UPI",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		Bill struct {
			ID          string      `json:"id"`
			Subtotal    json.Number `json:"subtotal"`
			TaxAmount   json.Number `json:"tax_amount"`
			TotalAmount json.Number `json:"total_amount"`
		} `json:"bill"`
		Items []map[string]any `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode bill response: %v", err)
	}
	if resp.Bill.TotalAmount.String() != "236" {
		t.Fatalf("expected total 236, got %s", resp.Bill.TotalAmount)
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(resp.Items))
	}

	rec = authedRequest(t, handler, http.MethodGet, "/api/v1/bills/"+resp.Bill.ID, token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching bill, got %d", rec.Code)
	}
}

func TestCreateBillUnknownProductReturns404(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, handler)

	rec := authedRequest(t, handler, http.MethodPost, "/api/v1/bills", token, csrf, map[string]any{
		"lines": []map[string]any{
			{"product_id": "prod-nope", "quantity": 1},
		},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestResaleOnInactiveGroupReturns409(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	admin := loginAs(t, handler, "admin", "admin123")
	cashier := loginAs(t, handler, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, handler)

	rec := authedRequest(t, handler, http.MethodPatch, "/api/v1/tax-groups/txg-gst18", admin, csrf, map[string]any{
		"is_active": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deactivation must succeed, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = authedRequest(t, handler, http.MethodPost, "/api/v1/bills", cashier, csrf, map[string]any{
		"lines": []map[string]any{
			{"product_id": "prod-filter-coffee", "quantity": 1},
		},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on resale, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestDeleteTaxGroupDeactivates(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	admin := loginAs(t, handler, "admin", "admin123")
	csrf := fetchCSRFToken(t, handler)

	rec := authedRequest(t, handler, http.MethodDelete, "/api/v1/tax-groups/txg-gst18", admin, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		TaxGroup struct {
			IsActive bool `json:"is_active"`
		} `json:"tax_group"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.TaxGroup.IsActive {
		t.Fatalf("expected group to be inactive after delete")
	}
}

func TestReassignCategoryEndpoint(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	admin := loginAs(t, handler, "admin", "admin123")
	csrf := fetchCSRFToken(t, handler)

	rec := authedRequest(t, handler, http.MethodPost, "/api/v1/categories/cat-beverages/tax-group", admin, csrf, map[string]any{
		"tax_group_id": "txg-gst5-incl",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		UpdatedCount int `json:"updated_count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.UpdatedCount != 3 {
		t.Fatalf("expected 3 products updated, got %d", resp.UpdatedCount)
	}
}

func TestAuditLogsAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	cashier := loginAs(t, handler, "cashier", "cashier123")

	rec := authedRequest(t, handler, http.MethodGet, "/api/v1/audit-logs", cashier, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	var last int
	for i := 0; i < 7; i++ {
		payload, _ := json.Marshal(map[string]string{
			"username": "admin",
			"password": fmt.Sprintf("wrong-%d", i),
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.9:4444"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", last)
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("", 50, 500); got != 50 {
		t.Fatalf("expected fallback 50, got %d", got)
	}
	if got := parsePositiveLimit("9999", 50, 500); got != 500 {
		t.Fatalf("expected cap 500, got %d", got)
	}
	if got := parsePositiveLimit("25", 50, 500); got != 25 {
		t.Fatalf("expected 25, got %d", got)
	}
	if got := parsePositiveLimit("-3", 50, 500); got != 50 {
		t.Fatalf("expected fallback for negative, got %d", got)
	}
}
