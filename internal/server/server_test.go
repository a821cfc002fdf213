package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/seatswap/seatswap/internal/config"
	"github.com/seatswap/seatswap/internal/payment"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "development",
		LogLevel:          "error",
		PublicBaseURL:     "http://localhost:8080",
		ServiceFeeBps:     config.DefaultServiceFeeBps,
		HoldTTL:           config.DefaultHoldTTL,
		ReclaimBatchLimit: config.DefaultReclaimBatchLimit,
		ApprovalCooldown:  config.DefaultApprovalCooldown,
		EventReleaseDelay: config.DefaultEventReleaseDelay,
		CronSecret:        "cron-secret",
	}
}

// newTestServer creates a server with in-memory stores and a fake provider
func newTestServer(t *testing.T) (*Server, *payment.FakeProvider) {
	t.Helper()
	fake := payment.NewFakeProvider()
	s, err := New(testConfig(), WithProvider(fake))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s, fake
}

func doRequest(s *Server, method, path, actor, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if actor != "" {
		req.Header.Set("X-Actor-Token", actor)
	}
	s.router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, "GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, "GET", "/health/live", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpointNotReadyBeforeRun(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, "GET", "/health/ready", "", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 before Run, got %d", w.Code)
	}

	s.ready.Store(true)
	w = doRequest(s, "GET", "/health/ready", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 after ready, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, "GET", "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Auth wiring tests
// ---------------------------------------------------------------------------

func TestProtectedRouteRequiresActorToken(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, "POST", "/v1/tickets", "", `{"eventId":"evt_1","priceCents":5000}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
}

func TestPublicTicketRouteNoAuth(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, "GET", "/v1/tickets/tkt_missing", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing ticket, got %d", w.Code)
	}
}

func TestCronRouteRequiresSecret(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, "POST", "/v1/cron/release-stale-holds", "", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without cron secret, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/cron/release-stale-holds", nil)
	req.Header.Set("X-Cron-Secret", "cron-secret")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 with cron secret, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// End-to-end checkout flow over HTTP
// ---------------------------------------------------------------------------

func TestCheckoutFlowOverHTTP(t *testing.T) {
	s, fake := newTestServer(t)

	// Seller lists a ticket. In dev mode the actor token is the user id.
	w := doRequest(s, "POST", "/v1/tickets", "seller-1", `{"eventId":"evt_1","priceCents":5000}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 creating ticket, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Ticket struct {
			ID string `json:"id"`
		} `json:"ticket"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("Failed to parse ticket: %v", err)
	}

	// Buyer checks out.
	w = doRequest(s, "POST", "/v1/checkout", "buyer-1", `{"ticketId":"`+created.Ticket.ID+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 on checkout, got %d: %s", w.Code, w.Body.String())
	}
	var checkout struct {
		Order struct {
			ID            string `json:"id"`
			ProviderToken string `json:"providerToken"`
		} `json:"order"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &checkout); err != nil {
		t.Fatalf("Failed to parse checkout response: %v", err)
	}
	orderID := checkout.Order.ID

	// Script the provider capture, then confirm.
	fake.SetOutcome(checkout.Order.ProviderToken, payment.OutcomeApproved, "paid")
	w = doRequest(s, "POST", "/v1/payments/confirm", "buyer-1", `{"orderId":"`+orderID+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 on confirm, got %d: %s", w.Code, w.Body.String())
	}

	// Seller may read the order too.
	w = doRequest(s, "GET", "/v1/orders/"+orderID, "seller-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 reading order as seller, got %d", w.Code)
	}
	var got struct {
		Order struct {
			Status string `json:"status"`
		} `json:"order"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("Failed to parse order: %v", err)
	}
	if got.Order.Status != "held" {
		t.Errorf("Expected order held after capture, got %q", got.Order.Status)
	}

	// A stranger may not.
	w = doRequest(s, "GET", "/v1/orders/"+orderID, "other-user", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-participant, got %d", w.Code)
	}
}

func TestRequestIDHeaderSet(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(s, "GET", "/health", "", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header to be set")
	}
}
