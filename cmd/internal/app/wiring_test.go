package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	playapi "playgate/cmd/internal/play/api"
	"playgate/cmd/internal/play/asset"
	"playgate/cmd/internal/play/billing"
	"playgate/cmd/internal/play/session"
	"playgate/cmd/internal/realtime"
)

const (
	seedPrincipal = "6f1c2d7e-8a9b-4c3d-9e0f-112233445566"
	seedResource  = "0a1b2c3d-4e5f-4a6b-8c7d-8e9fa0b1c2d3"
	seedAsset     = "a3c0e4f1-2b7d-4c9e-8f10-5d6e7f8a9b33"
)

func writeSeed(t *testing.T, dir string) string {
	t.Helper()

	seed := `{
  "principals": [{"id": "` + seedPrincipal + `"}],
  "resources":  [{"id": "` + seedResource + `", "title": "Demo", "active": true}],
  "assets":     [{"id": "` + seedAsset + `", "resourceId": "` + seedResource + `", "path": "demo/level.bin", "sizeBytes": 20}]
}`
	path := filepath.Join(dir, "seed.json")
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("WriteFile(seed): %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "assets", "demo"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "assets", "demo", "level.bin"), []byte("abcdefghijklmnopqrst"), 0o644); err != nil {
		t.Fatalf("WriteFile(asset): %v", err)
	}
	return path
}

func newTestApp(t *testing.T, mutate func(*Config)) *App {
	t.Helper()

	dir := t.TempDir()
	cfg := Config{
		HTTPAddr:         "127.0.0.1:0",
		MetricsNamespace: "playgate",
		CatalogSeed:      writeSeed(t, dir),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	assetCfg := asset.DefaultConfig()
	assetCfg.StorageRoot = filepath.Join(dir, "assets")
	comp := Components{
		Session:  session.DefaultConfig(),
		Billing:  billing.DefaultConfig(),
		Asset:    assetCfg,
		API:      playapi.DefaultConfig(),
		Realtime: realtime.DefaultConfig(),
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), cfg, comp, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.close() })
	return a
}

func serve(a *App, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	return rec
}

func startSession(t *testing.T, a *App) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/play/start", strings.NewReader(`{"resourceId":"`+seedResource+`"}`))
	req.Header.Set("X-User-Id", seedPrincipal)
	rec := serve(a, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status=%d body=%s", rec.Code, rec.Body.String())
	}
	var out struct {
		SessionToken string `json:"sessionToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	return out.SessionToken
}

func TestApp_MemoryStoreServesPlayFlow(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, nil)
	if a.backends.kind != storeMemory {
		t.Fatalf("store kind=%q, want memory", a.backends.kind)
	}

	tok := startSession(t, a)

	req := httptest.NewRequest(http.MethodGet, "/assets/"+seedAsset, nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Range", "bytes=5-9")
	rec := serve(a, req)
	if rec.Code != http.StatusPartialContent || rec.Body.String() != "fghij" {
		t.Fatalf("asset status=%d body=%q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("security headers missing on asset response: %q", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/play/stop", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	if rec := serve(a, req); rec.Code != http.StatusNoContent {
		t.Fatalf("stop status=%d", rec.Code)
	}

	rec = serve(a, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"playgate_session_transitions_total", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestApp_SQLiteStore(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, func(c *Config) {
		c.SQLitePath = filepath.Join(t.TempDir(), "playgate.db")
	})
	if a.backends.kind != storeSQLite {
		t.Fatalf("store kind=%q, want sqlite", a.backends.kind)
	}

	_ = startSession(t, a)

	rec := serve(a, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz status=%d", rec.Code)
	}
}

func TestApp_Probes(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, nil)
	if rec := serve(a, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rec.Code)
	}
	if rec := serve(a, httptest.NewRequest(http.MethodGet, "/readyz", nil)); rec.Code != http.StatusOK {
		t.Fatalf("readyz status=%d", rec.Code)
	}

	strict := newTestApp(t, func(c *Config) { c.ReadinessRequireDB = true })
	if rec := serve(strict, httptest.NewRequest(http.MethodGet, "/readyz", nil)); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz without db status=%d, want 503", rec.Code)
	}
}

func TestNew_RequiresTokenKeyWhenConfigured(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	comp := Components{
		Session:  session.DefaultConfig(),
		Billing:  billing.DefaultConfig(),
		Asset:    asset.DefaultConfig(),
		API:      playapi.DefaultConfig(),
		Realtime: realtime.DefaultConfig(),
	}
	_, err := New(context.Background(), Config{RequireTokenKey: true}, comp, log)
	if err == nil || !strings.Contains(err.Error(), "PLAYGATE_PASETO_V4_SECRET_KEY_HEX") {
		t.Fatalf("expected token key policy error, got %v", err)
	}
}
