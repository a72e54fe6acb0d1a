package playapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("PLAYGATE_API_PRINCIPAL_HEADER", "x-player-id")
	t.Setenv("PLAYGATE_API_HEARTBEAT_WINDOW", "30s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.PrincipalHeader != "X-Player-Id" {
		t.Fatalf("expected canonical header, got %q", cfg.PrincipalHeader)
	}
	if cfg.HeartbeatLimit != 2 || cfg.HeartbeatWindow != 30*time.Second {
		t.Fatalf("unexpected heartbeat limit: %d per %v", cfg.HeartbeatLimit, cfg.HeartbeatWindow)
	}
	if cfg.AssetLimit != 100 || cfg.MaxBodyBytes != 64<<10 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfigFromEnv_RejectsZeroLimit(t *testing.T) {
	t.Setenv("PLAYGATE_API_ASSET_LIMIT", "0")

	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestWriteRateLimited_RoundsRetryAfterUp(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   time.Duration
		want string
	}{
		{in: 0, want: "1"},
		{in: 200 * time.Millisecond, want: "1"},
		{in: time.Second, want: "1"},
		{in: 1500 * time.Millisecond, want: "2"},
		{in: 40 * time.Second, want: "40"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeRateLimited(rec, tc.in)
		if got := rec.Header().Get("Retry-After"); got != tc.want {
			t.Fatalf("Retry-After(%v)=%q want=%q", tc.in, got, tc.want)
		}
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("status=%d want 429", rec.Code)
		}
	}
}
