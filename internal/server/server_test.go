package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"custodia/internal/chain"
	"custodia/internal/config"
	"custodia/internal/escrow"
	"custodia/internal/hmacauth"
	"custodia/internal/metrics"
	"custodia/internal/oracle"
	"custodia/internal/registry"
	"custodia/internal/submit"
)

const opsSecret = "ops-secret"

func newTestServer(t *testing.T, secret string) (*Server, *chain.FakeClient, *escrow.Manager) {
	t.Helper()

	cfg := &config.AppConfig{
		Service: config.ServiceConfig{
			HTTPPort:     0,
			OpsSecret:    secret,
			OpsClockSkew: time.Minute,
		},
	}

	set := metrics.New()
	fake := chain.NewFakeClient()
	store := escrow.NewMemoryStore()
	sub := submit.New(fake,
		submit.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		submit.Config{
			GasLimit:                300_000,
			FeeCeiling:              big.NewInt(100_000_000_000),
			SafetyMultiplierPercent: 120,
			Confirmations:           1,
		},
		set, zerolog.Nop())
	mgr := escrow.NewManager(store, sub, fake, escrow.Config{Currency: "BRLX", Decimals: 8}, set, zerolog.Nop())

	deps := Deps{
		Metrics:  set,
		Chain:    fake,
		Store:    store,
		Escrow:   mgr,
		Oracle:   oracle.NewEvaluator(nil, nil, nil, set, zerolog.Nop()),
		Registry: registry.NewManager(sub, fake, zerolog.Nop()),
	}
	return NewServer(cfg, deps, zerolog.Nop()), fake, mgr
}

func signedRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("X-Ops-Timestamp", ts)
	req.Header.Set("X-Ops-Signature", hmacauth.Sign(opsSecret, ts, req.URL.Path))
	return req
}

func TestHealthReportsHealthy(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.Status != "healthy" {
		t.Fatalf("expected healthy, got %q", resp.Status)
	}
}

func TestHealthDegradesOnFailingProbe(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	srv.rpcHealthFn = func(context.Context) error {
		return errors.New("rpc unreachable")
	}

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
		RPC    struct {
			Connected bool   `json:"connected"`
			Error     string `json:"error"`
		} `json:"rpc"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp.Status != "degraded" || resp.RPC.Connected {
		t.Fatalf("expected degraded rpc, got %+v", resp)
	}
}

func TestMetricsEndpointRequiresSignature(t *testing.T) {
	srv, _, _ := newTestServer(t, opsSecret)

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unsigned request, got %d", rec.Code)
	}

	rec2 := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec2, signedRequest(http.MethodGet, "/metrics", ""))
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 for signed request, got %d", rec2.Code)
	}
}

func TestEscrowStatusEndpoint(t *testing.T) {
	srv, _, mgr := newTestServer(t, opsSecret)

	created, err := mgr.Create(context.Background(), escrow.CreateRequest{
		ExternalContractID: "CT-OPS-1",
		Amount:             decimal.NewFromInt(10),
		Parties: escrow.Parties{
			DepositorAddress:   "0x1111111111111111111111111111111111111111",
			BeneficiaryAddress: "0x2222222222222222222222222222222222222222",
		},
	})
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, signedRequest(http.MethodGet, "/ops/escrows/"+created.ID, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var got escrow.Escrow
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode escrow: %v", err)
	}
	if got.ID != created.ID || got.Status != escrow.StatusPending {
		t.Fatalf("unexpected record: %+v", got)
	}

	rec2 := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec2, signedRequest(http.MethodGet, "/ops/escrows/does-not-exist", ""))
	if rec2.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown escrow, got %d", rec2.Code)
	}
}

func TestOracleCheckRejectsUnknownCondition(t *testing.T) {
	srv, _, _ := newTestServer(t, opsSecret)

	body := `{"escrowId":"esc-1","condition":{"type":"PHASE_OF_MOON"}}`
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, signedRequest(http.MethodPost, "/ops/oracle/check", body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown condition, got %d", rec.Code)
	}
}

func TestDocumentVerifyEndpoint(t *testing.T) {
	srv, fake, _ := newTestServer(t, opsSecret)

	contentHash := "0x4141414141414141414141414141414141414141414141414141414141414141"
	stored, err := chain.Bytes32FromHex(contentHash)
	if err != nil {
		t.Fatalf("decode hash: %v", err)
	}
	fake.SetReadFn(func(call chain.Call, out *[]any) error {
		*out = []any{stored, big.NewInt(1_700_000_000), common.HexToAddress("0x3333333333333333333333333333333333333333")}
		return nil
	})

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, signedRequest(http.MethodGet, "/ops/documents/CT-OPS-2/verify?hash="+contentHash, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var result registry.Verification
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode verification: %v", err)
	}
	if !result.IsVerified {
		t.Fatalf("matching hash must verify, got %+v", result)
	}
}
