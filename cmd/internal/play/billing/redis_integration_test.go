package billing

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

func mustRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	addr := strings.TrimSpace(os.Getenv("PLAYGATE_REDIS_ADDR"))
	if addr == "" {
		t.Skip("PLAYGATE_REDIS_ADDR not set; skipping redis integration tests")
	}
	client, err := NewRedisClient(addr, os.Getenv("PLAYGATE_REDIS_PASSWORD"), 0)
	if err != nil {
		t.Skipf("redis not reachable (%v); skipping", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisGate_VerdictsAndStreams(t *testing.T) {
	client := mustRedisClient(t)
	ctx := context.Background()

	suffix := time.Now().UTC().Format("20060102150405.000000000")
	principal := "it-principal-" + suffix
	sid := "it-session-" + suffix
	t.Cleanup(func() {
		_ = client.Del(context.Background(), redisPrincipalPrefix+principal, redisStreamPrefix+sid).Err()
	})

	g := NewRedisGate(client, VerdictOK, time.Minute)

	if v, err := g.Check(ctx, principal); err != nil || v != VerdictOK {
		t.Fatalf("expected default verdict for missing key, got %v %v", v, err)
	}
	if err := client.Set(ctx, redisPrincipalPrefix+principal, "INSUFFICIENT", time.Minute).Err(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, err := g.Check(ctx, principal); err != nil || v != VerdictInsufficient {
		t.Fatalf("Check: %v %v", v, err)
	}

	if v, err := g.CheckStream(ctx, sid); err != nil || v != VerdictStopped {
		t.Fatalf("expected missing stream STOPPED, got %v %v", v, err)
	}
	if err := g.StartStream(ctx, sid, principal); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if v, err := g.CheckStream(ctx, sid); err != nil || v != VerdictOK {
		t.Fatalf("CheckStream: %v %v", v, err)
	}
	if ttl := client.TTL(ctx, redisStreamPrefix+sid).Val(); ttl <= 0 {
		t.Fatalf("expected stream key TTL, got %v", ttl)
	}

	if err := client.HSet(ctx, redisStreamPrefix+sid, "verdict", "STOPPED").Err(); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	if v, _ := g.CheckStream(ctx, sid); v != VerdictStopped {
		t.Fatalf("expected provider-set STOPPED, got %v", v)
	}

	if err := g.StopStream(ctx, sid); err != nil {
		t.Fatalf("StopStream: %v", err)
	}
	if n := client.Exists(ctx, redisStreamPrefix+sid).Val(); n != 0 {
		t.Fatalf("expected stream key deleted")
	}
}
