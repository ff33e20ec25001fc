package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estatia/backend/internal/admin"
	"github.com/estatia/backend/internal/gate"
	"github.com/estatia/backend/internal/invoker"
	"github.com/estatia/backend/internal/middleware"
	"github.com/estatia/backend/internal/registry"
	"github.com/estatia/backend/internal/usagelog"
	"github.com/estatia/backend/internal/wallet"
)

type testEnv struct {
	router  *mux.Router
	reg     *registry.ToolRegistry
	wallets *wallet.WalletStore
}

func newTestEnv(t *testing.T, defaultBalance int, executor invoker.RemoteExecutor) *testEnv {
	t.Helper()

	reg := registry.NewToolRegistry(nil)
	wallets := wallet.NewWalletStore(wallet.NewMemoryStore(), defaultBalance)
	sink := usagelog.NewMemorySink()
	usage := usagelog.NewLogger(sink, 64)
	t.Cleanup(usage.Close)

	ti := invoker.NewToolInvoker(invoker.Config{
		Gate:     gate.NewCreditGate(reg, wallets, nil),
		Wallets:  wallets,
		TxStore:  invoker.NewMemoryTransactionStore(),
		Usage:    usage,
		Executor: executor,
		Timeout:  time.Second,
	})
	cs := admin.NewControlSurface(reg, wallets, sink, nil)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.UserMiddleware)
	api.HandleFunc("/tools", HandleListTools(reg)).Methods("GET")
	api.HandleFunc("/tools/{toolName}/invoke", HandleInvokeTool(ti)).Methods("POST")
	api.HandleFunc("/tools/{toolName}/access", HandleCheckAccess(ti)).Methods("GET")
	api.HandleFunc("/wallet", HandleGetWallet(wallets)).Methods("GET")
	api.HandleFunc("/wallet/topup", HandleTopUpWallet(wallets, nil)).Methods("POST")
	api.HandleFunc("/admin/tools/{toolName}/enabled", HandleSetToolEnabled(cs)).Methods("PUT")
	api.HandleFunc("/admin/usage/{toolName}", HandleUsageSummary(cs)).Methods("GET")

	return &testEnv{router: router, reg: reg, wallets: wallets}
}

func (e *testEnv) request(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestInvokeToolSuccess(t *testing.T) {
	e := newTestEnv(t, 100, &invoker.StubExecutor{Output: json.RawMessage(`{"caption":"sunny terrace"}`)})

	rec := e.request(t, "POST", "/api/v1/tools/photo_caption/invoke", "seller-1", `{"photo_id":"p1"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "photo_caption", body["tool_name"])
	assert.Equal(t, float64(5), body["credits_spent"])
	assert.Equal(t, float64(95), body["balance_after"])
	assert.NotEmpty(t, body["transaction_id"])
}

func TestInvokeRequiresIdentity(t *testing.T) {
	e := newTestEnv(t, 100, &invoker.StubExecutor{})

	rec := e.request(t, "POST", "/api/v1/tools/photo_caption/invoke", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInvokeUnknownToolIs404(t *testing.T) {
	e := newTestEnv(t, 100, &invoker.StubExecutor{})

	rec := e.request(t, "POST", "/api/v1/tools/time_machine/invoke", "seller-1", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "tool_not_found", decode(t, rec)["error"])
}

func TestInvokeInsufficientCreditsIs402(t *testing.T) {
	e := newTestEnv(t, 10, &invoker.StubExecutor{})

	rec := e.request(t, "POST", "/api/v1/tools/brochure_parser/invoke", "seller-1", `{}`)
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "insufficient_credits", body["error"])
	assert.Equal(t, float64(30), body["required"])
	assert.Equal(t, float64(10), body["balance"])
	assert.Equal(t, float64(20), body["shortfall"])
}

func TestInvokeDisabledToolIs403(t *testing.T) {
	e := newTestEnv(t, 100, &invoker.StubExecutor{})
	require.NoError(t, e.reg.SetEnabled("brochure_parser", false))

	rec := e.request(t, "POST", "/api/v1/tools/brochure_parser/invoke", "seller-1", `{}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "tool_disabled", decode(t, rec)["error"])
}

func TestInvokeRemoteFailureIs502(t *testing.T) {
	e := newTestEnv(t, 100, &invoker.StubExecutor{Err: errors.New("model overloaded")})

	rec := e.request(t, "POST", "/api/v1/tools/brochure_parser/invoke", "seller-1", `{}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "remote_execution_error", decode(t, rec)["error"])

	// Credits were refunded: the next attempt is not short on balance
	rec = e.request(t, "GET", "/api/v1/wallet", "seller-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(100), decode(t, rec)["balance"])
}

func TestInvokeRejectsInvalidJSON(t *testing.T) {
	e := newTestEnv(t, 100, &invoker.StubExecutor{})

	rec := e.request(t, "POST", "/api/v1/tools/photo_caption/invoke", "seller-1", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckAccessEndpoint(t *testing.T) {
	e := newTestEnv(t, 10, &invoker.StubExecutor{})

	rec := e.request(t, "GET", "/api/v1/tools/brochure_parser/access", "seller-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, false, body["can_access"])
	assert.Equal(t, "insufficient_credits", body["denial"])
	assert.Equal(t, float64(30), body["credits_required"])
}

func TestWalletAndTopUp(t *testing.T) {
	e := newTestEnv(t, 100, &invoker.StubExecutor{})

	rec := e.request(t, "GET", "/api/v1/wallet", "seller-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(100), decode(t, rec)["balance"])

	rec = e.request(t, "POST", "/api/v1/wallet/topup", "seller-1", `{"amount":50}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(150), decode(t, rec)["balance"])

	rec = e.request(t, "POST", "/api/v1/wallet/topup", "seller-1", `{"amount":-5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListToolsEndpoint(t *testing.T) {
	e := newTestEnv(t, 100, &invoker.StubExecutor{})

	rec := e.request(t, "GET", "/api/v1/tools", "seller-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(5), decode(t, rec)["count"])
}

func TestAdminSetEnabledEndpoint(t *testing.T) {
	e := newTestEnv(t, 100, &invoker.StubExecutor{})

	rec := e.request(t, "PUT", "/api/v1/admin/tools/seo_metadata/enabled", "admin-1", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	def, err := e.reg.GetDefinition("seo_metadata")
	require.NoError(t, err)
	assert.False(t, def.Enabled)

	rec = e.request(t, "PUT", "/api/v1/admin/tools/nope/enabled", "admin-1", `{"enabled":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminUsageSummaryValidation(t *testing.T) {
	e := newTestEnv(t, 100, &invoker.StubExecutor{})

	rec := e.request(t, "GET", "/api/v1/admin/usage/brochure_parser?from=yesterday", "admin-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.request(t, "GET", "/api/v1/admin/usage/brochure_parser", "admin-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
