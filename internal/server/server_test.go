package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	autorefillservice "github.com/veracify/veracify/internal/autorefill/service"
	checkoutdomain "github.com/veracify/veracify/internal/checkout/domain"
	"github.com/veracify/veracify/internal/checkout/poller"
	checkoutservice "github.com/veracify/veracify/internal/checkout/service"
	"github.com/veracify/veracify/internal/clock"
	appconfig "github.com/veracify/veracify/internal/config"
	"github.com/veracify/veracify/internal/events"
	ledgerservice "github.com/veracify/veracify/internal/ledger/service"
	meteringservice "github.com/veracify/veracify/internal/metering/service"
	plandomain "github.com/veracify/veracify/internal/plan/domain"
	planservice "github.com/veracify/veracify/internal/plan/service"
	tenantservice "github.com/veracify/veracify/internal/tenant/service"
	"github.com/veracify/veracify/internal/testdb"
)

type stubProvider struct {
	sessions int
}

func (p *stubProvider) CreateCheckout(ctx context.Context, req checkoutdomain.CheckoutRequest) (*checkoutdomain.ProviderSession, error) {
	p.sessions++
	id := fmt.Sprintf("cs_test_%d", p.sessions)
	return &checkoutdomain.ProviderSession{ID: id, URL: "https://checkout.example.com/" + id}, nil
}

func (p *stubProvider) SessionState(ctx context.Context, providerSessionID string) (*checkoutdomain.ProviderState, error) {
	return &checkoutdomain.ProviderState{
		Status:        checkoutdomain.ProviderStatusComplete,
		PaymentStatus: checkoutdomain.ProviderPaymentPaid,
	}, nil
}

func (p *stubProvider) ChargeSavedMethod(ctx context.Context, req checkoutdomain.ChargeRequest) error {
	return nil
}

func newTestEngine(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testdb.Open(t)
	node := testdb.NewIDNode(t)
	outbox := events.NewOutbox(db, node)
	log := zap.NewNop()

	rows := []any{
		&plandomain.Plan{ID: "free", Name: "Free", MonthlyAllowance: 50},
		&plandomain.Plan{ID: "starter", Name: "Starter", MonthlyAllowance: 500},
		&plandomain.PlanPrice{PlanID: "starter", Currency: "usd", BillingCycle: "monthly", UnitAmount: 2900},
		&plandomain.CreditPack{ID: "pack_small", Name: "Small Pack", Credits: 100},
		&plandomain.CreditPackPrice{PackID: "pack_small", Currency: "usd", UnitAmount: 1000},
	}
	for _, row := range rows {
		if err := db.Create(row).Error; err != nil {
			t.Fatalf("seed catalog: %v", err)
		}
	}

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: log, GenID: node, Clock: clock.SystemClock{}, Outbox: outbox,
	})
	plans := planservice.NewService(planservice.Params{DB: db, Log: log})
	refills := autorefillservice.NewService(autorefillservice.Params{
		DB: db, Log: log, GenID: node, Clock: clock.SystemClock{}, Outbox: outbox, Ledger: ledger, Plans: plans,
	})
	metering := meteringservice.NewService(meteringservice.Params{
		DB: db, Log: log, GenID: node, Clock: clock.SystemClock{}, Ledger: ledger,
	})
	checkout := checkoutservice.NewService(checkoutservice.Params{
		DB: db, Log: log, GenID: node, Clock: clock.SystemClock{}, Outbox: outbox,
		Ledger: ledger, Plans: plans, Provider: &stubProvider{},
	})
	tenants := tenantservice.NewService(tenantservice.Params{
		DB: db, Log: log, GenID: node, Clock: clock.SystemClock{}, Outbox: outbox,
		Ledger: ledger, Plans: plans, Refills: refills,
	})
	statusPoller := poller.New(poller.Config{Interval: time.Millisecond, Attempts: 3}, log, checkout, nil)

	srv := NewServer(Params{
		Config:   appconfig.Config{Environment: "test"},
		DB:       db,
		Log:      log,
		Ledger:   ledger,
		Metering: metering,
		Plans:    plans,
		Refills:  refills,
		Checkout: checkout,
		Poller:   statusPoller,
		Tenants:  tenants,
	})

	engine := gin.New()
	srv.RegisterRoutes(engine)
	return engine, db
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, apiKey string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	var decoded map[string]any
	if len(rec.Body.Bytes()) > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func provisionTenant(t *testing.T, engine *gin.Engine, slug string) string {
	t.Helper()
	rec, body := doJSON(t, engine, http.MethodPost, "/api/tenants", "", map[string]any{
		"name":            "Acme Media",
		"slug":            slug,
		"portal_password": "correct-horse-battery",
		"plan_id":         "starter",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("provision returned %d: %s", rec.Code, rec.Body.String())
	}
	key, _ := body["api_key"].(string)
	if key == "" {
		t.Fatal("provision response missing api_key")
	}
	return key
}

func TestProvisionAndBalanceFlow(t *testing.T) {
	engine, _ := newTestEngine(t)
	key := provisionTenant(t, engine, "acme")

	rec, body := doJSON(t, engine, http.MethodGet, "/api/credits/balance", key, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance returned %d: %s", rec.Code, rec.Body.String())
	}
	if got := body["credits_balance"].(float64); got != 500 {
		t.Fatalf("expected starter allowance 500, got %v", got)
	}
	if got := body["plan"].(string); got != "starter" {
		t.Fatalf("expected plan starter, got %v", got)
	}
	if got := body["plan_name"].(string); got != "Starter" {
		t.Fatalf("expected plan name Starter, got %v", got)
	}
}

func TestRequestsWithoutKeyAreRejected(t *testing.T) {
	engine, _ := newTestEngine(t)

	rec, body := doJSON(t, engine, http.MethodGet, "/api/credits/balance", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if body["code"] != "unauthorized" {
		t.Fatalf("unexpected error code %v", body["code"])
	}

	rec, _ = doJSON(t, engine, http.MethodGet, "/api/credits/balance", "vk_bogus", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bogus key, got %d", rec.Code)
	}
}

func TestRecordUsageChargesCredits(t *testing.T) {
	engine, _ := newTestEngine(t)
	key := provisionTenant(t, engine, "acme")

	rec, body := doJSON(t, engine, http.MethodPost, "/api/usage/record", key, map[string]any{
		"action_kind": "content_generation",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("record returned %d: %s", rec.Code, rec.Body.String())
	}
	if got := body["credits"].(float64); got != 5 {
		t.Fatalf("expected content_generation to cost 5, got %v", got)
	}
	if got := body["balance_after"].(float64); got != 495 {
		t.Fatalf("expected balance 495 after charge, got %v", got)
	}
}

func TestRecordUsageUnknownActionFailsClosed(t *testing.T) {
	engine, _ := newTestEngine(t)
	key := provisionTenant(t, engine, "acme")

	rec, body := doJSON(t, engine, http.MethodPost, "/api/usage/record", key, map[string]any{
		"action_kind": "video_generation",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["code"] != "unknown_action_kind" {
		t.Fatalf("unexpected error code %v", body["code"])
	}

	rec, balance := doJSON(t, engine, http.MethodGet, "/api/credits/balance", key, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance returned %d", rec.Code)
	}
	if got := balance["credits_balance"].(float64); got != 500 {
		t.Fatalf("unknown action must not charge, balance %v", got)
	}
}

func TestRecordUsageInsufficientCredits(t *testing.T) {
	engine, db := newTestEngine(t)
	key := provisionTenant(t, engine, "acme")

	// Leave fewer credits than image_generation costs.
	if err := db.Exec(`UPDATE credit_accounts SET balance = 3`).Error; err != nil {
		t.Fatalf("drain balance: %v", err)
	}

	rec, body := doJSON(t, engine, http.MethodPost, "/api/usage/record", key, map[string]any{
		"action_kind": "image_generation",
	})
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["code"] != "insufficient_credits" {
		t.Fatalf("unexpected error code %v", body["code"])
	}
}

func TestPurchaseCreditsOpensSession(t *testing.T) {
	engine, _ := newTestEngine(t)
	key := provisionTenant(t, engine, "acme")

	rec, body := doJSON(t, engine, http.MethodPost, "/api/credits/purchase", key, map[string]any{
		"pack_id": "pack_small",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("purchase returned %d: %s", rec.Code, rec.Body.String())
	}
	if body["status"] != "pending" {
		t.Fatalf("expected pending session, got %v", body["status"])
	}
	sessionID, _ := body["session_id"].(string)
	if sessionID == "" {
		t.Fatal("purchase response missing session_id")
	}

	// The stub provider reports the session paid on the first check.
	rec, status := doJSON(t, engine, http.MethodPost, "/api/payments/checkout/confirm/"+sessionID, key, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm returned %d: %s", rec.Code, rec.Body.String())
	}
	if status["outcome"] != "paid" || status["payment_status"] != "paid" {
		t.Fatalf("unexpected confirm response: %v", status)
	}

	rec, balance := doJSON(t, engine, http.MethodGet, "/api/credits/balance", key, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance returned %d", rec.Code)
	}
	if got := balance["credits_balance"].(float64); got != 600 {
		t.Fatalf("expected 500+100 credits after purchase, got %v", got)
	}
}

func TestSubscriptionCheckoutOpensSession(t *testing.T) {
	engine, _ := newTestEngine(t)
	key := provisionTenant(t, engine, "acme")

	rec, body := doJSON(t, engine, http.MethodPost, "/api/subscriptions/checkout", key, map[string]any{
		"package_id":    "starter",
		"billing_cycle": "monthly",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout returned %d: %s", rec.Code, rec.Body.String())
	}
	if url, _ := body["url"].(string); url == "" {
		t.Fatal("checkout response missing url")
	}
	if body["status"] != "pending" {
		t.Fatalf("expected pending session, got %v", body["status"])
	}

	// Only monthly is priced in the seed, so yearly has no price row.
	rec, _ = doJSON(t, engine, http.MethodPost, "/api/subscriptions/checkout", key, map[string]any{
		"package_id":    "starter",
		"billing_cycle": "yearly",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unpriced cycle, got %d", rec.Code)
	}

	rec, body = doJSON(t, engine, http.MethodPost, "/api/subscriptions/checkout", key, map[string]any{
		"package_id":    "starter",
		"billing_cycle": "weekly",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bogus cycle, got %d", rec.Code)
	}
	if body["code"] != "invalid_billing_cycle" {
		t.Fatalf("unexpected error code %v", body["code"])
	}

	rec, _ = doJSON(t, engine, http.MethodPost, "/api/subscriptions/checkout", key, map[string]any{
		"plan_id": "starter",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without package_id, got %d", rec.Code)
	}
}

func TestCheckoutSessionScopedToTenant(t *testing.T) {
	engine, _ := newTestEngine(t)
	owner := provisionTenant(t, engine, "acme")
	intruder := provisionTenant(t, engine, "rival")

	rec, body := doJSON(t, engine, http.MethodPost, "/api/credits/purchase", owner, map[string]any{
		"pack_id": "pack_small",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("purchase returned %d", rec.Code)
	}
	sessionID := body["session_id"].(string)

	rec, _ = doJSON(t, engine, http.MethodGet, "/api/payments/checkout/status/"+sessionID, intruder, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign session, got %d", rec.Code)
	}
}

func TestAutoRefillSettingsRoundTrip(t *testing.T) {
	engine, _ := newTestEngine(t)
	key := provisionTenant(t, engine, "acme")

	rec, body := doJSON(t, engine, http.MethodGet, "/api/credits/auto-refill/settings", key, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get settings returned %d: %s", rec.Code, rec.Body.String())
	}
	if body["enabled"] != false {
		t.Fatalf("expected refill disabled by default, got %v", body["enabled"])
	}

	rec, body = doJSON(t, engine, http.MethodPut, "/api/credits/auto-refill/settings", key, map[string]any{
		"enabled":               true,
		"threshold_credits":     100,
		"refill_pack_id":        "pack_small",
		"max_refills_per_month": 3,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update settings returned %d: %s", rec.Code, rec.Body.String())
	}
	if body["enabled"] != true || body["threshold_credits"].(float64) != 100 {
		t.Fatalf("unexpected settings: %v", body)
	}
}

func TestDuplicateSlugConflicts(t *testing.T) {
	engine, _ := newTestEngine(t)
	provisionTenant(t, engine, "acme")

	rec, body := doJSON(t, engine, http.MethodPost, "/api/tenants", "", map[string]any{
		"name":            "Acme Again",
		"slug":            "acme",
		"portal_password": "another-password-1",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if body["code"] != "tenant_slug_taken" {
		t.Fatalf("unexpected error code %v", body["code"])
	}
}
