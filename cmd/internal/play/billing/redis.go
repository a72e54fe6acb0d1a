package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	redisPrincipalPrefix = "playgate:billing:principal:"
	redisStreamPrefix    = "playgate:billing:stream:"
)

// RedisGate reads verdicts from Redis, where the billing system publishes them:
//
//	playgate:billing:principal:<id>  string verdict; missing means the default verdict
//	playgate:billing:stream:<sid>    hash {principal_id, verdict, started_at}; missing means STOPPED
//
// StartStream registers the hash with verdict OK and StopStream deletes it.
type RedisGate struct {
	client    goredis.UniversalClient
	def       Verdict
	streamTTL time.Duration
}

// NewRedisGate wraps an existing client. The client is owned by the caller.
func NewRedisGate(client goredis.UniversalClient, def Verdict, streamTTL time.Duration) *RedisGate {
	if def == "" {
		def = VerdictOK
	}
	return &RedisGate{client: client, def: def, streamTTL: streamTTL}
}

// NewRedisClient dials Redis and verifies the connection.
func NewRedisClient(addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("billing: redis ping: %w", err)
	}
	return client, nil
}

func (g *RedisGate) Check(ctx context.Context, principalID string) (Verdict, error) {
	val, err := g.client.Get(ctx, redisPrincipalPrefix+principalID).Result()
	if errors.Is(err, goredis.Nil) {
		return g.def, nil
	}
	if err != nil {
		return VerdictUnknown, fmt.Errorf("billing: %s: %w", OpCheck, err)
	}
	return ParseVerdict(val)
}

func (g *RedisGate) CheckStream(ctx context.Context, sessionID string) (Verdict, error) {
	val, err := g.client.HGet(ctx, redisStreamPrefix+sessionID, "verdict").Result()
	if errors.Is(err, goredis.Nil) {
		return VerdictStopped, nil
	}
	if err != nil {
		return VerdictUnknown, fmt.Errorf("billing: %s: %w", OpCheckStream, err)
	}
	return ParseVerdict(val)
}

func (g *RedisGate) StartStream(ctx context.Context, sessionID, principalID string) error {
	key := redisStreamPrefix + sessionID
	_, err := g.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, key,
			"principal_id", principalID,
			"verdict", string(VerdictOK),
			"started_at", time.Now().UTC().Format(time.RFC3339Nano),
		)
		if g.streamTTL > 0 {
			p.Expire(ctx, key, g.streamTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("billing: %s: %w", OpStartStream, err)
	}
	return nil
}

func (g *RedisGate) StopStream(ctx context.Context, sessionID string) error {
	if err := g.client.Del(ctx, redisStreamPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("billing: %s: %w", OpStopStream, err)
	}
	return nil
}
