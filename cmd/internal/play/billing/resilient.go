package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"playgate/cmd/internal/telemetry"
)

// Observer receives one sample per gate call, retries included.
type Observer interface {
	ObserveBilling(op, verdict, outcome string, d time.Duration)
}

// Policy bounds how long a single gate call may take.
type Policy struct {
	Timeout     time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (p Policy) normalized() Policy {
	if p.Timeout <= 0 {
		p.Timeout = 2 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = 100 * time.Millisecond
	}
	if p.BackoffMax < p.BackoffBase {
		p.BackoffMax = p.BackoffBase
	}
	return p
}

// Resilient decorates a Gate with timeouts, retries, metrics and spans.
// Errors it returns wrap ErrUnavailable.
type Resilient struct {
	next   Gate
	policy Policy
	obs    Observer
	log    *slog.Logger
	tracer trace.Tracer
	sleep  func(context.Context, time.Duration) error
}

func NewResilient(next Gate, policy Policy, obs Observer, log *slog.Logger) *Resilient {
	if log == nil {
		log = slog.Default()
	}
	return &Resilient{
		next:   next,
		policy: policy.normalized(),
		obs:    obs,
		log:    log,
		tracer: telemetry.Tracer("billing"),
		sleep:  sleepCtx,
	}
}

func (r *Resilient) Check(ctx context.Context, principalID string) (Verdict, error) {
	return r.call(ctx, OpCheck, func(ctx context.Context) (Verdict, error) {
		return r.next.Check(ctx, principalID)
	})
}

func (r *Resilient) CheckStream(ctx context.Context, sessionID string) (Verdict, error) {
	return r.call(ctx, OpCheckStream, func(ctx context.Context) (Verdict, error) {
		return r.next.CheckStream(ctx, sessionID)
	})
}

func (r *Resilient) StartStream(ctx context.Context, sessionID, principalID string) error {
	_, err := r.call(ctx, OpStartStream, func(ctx context.Context) (Verdict, error) {
		return "", r.next.StartStream(ctx, sessionID, principalID)
	})
	return err
}

func (r *Resilient) StopStream(ctx context.Context, sessionID string) error {
	_, err := r.call(ctx, OpStopStream, func(ctx context.Context) (Verdict, error) {
		return "", r.next.StopStream(ctx, sessionID)
	})
	return err
}

func (r *Resilient) call(ctx context.Context, op string, fn func(context.Context) (Verdict, error)) (Verdict, error) {
	ctx, span := r.tracer.Start(ctx, "billing."+op)
	defer span.End()

	start := time.Now()
	var (
		lastErr  error
		attempts int
	)
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, ExponentialBackoff(attempt-1, r.policy.BackoffBase, r.policy.BackoffMax)); err != nil {
				break
			}
		}
		attempts++

		actx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
		v, err := fn(actx)
		cancel()

		if err == nil {
			span.SetAttributes(attribute.String("billing.verdict", string(v)), attribute.Int("billing.attempts", attempts))
			r.observe(op, string(v), "ok", time.Since(start))
			return v, nil
		}
		lastErr = err
		if ctx.Err() != nil || !Retryable(err) {
			break
		}
		r.log.Warn("billing.retry", "op", op, "attempt", attempts, "err", err)
	}

	span.SetAttributes(attribute.Int("billing.attempts", attempts))
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, op+" failed")
	r.observe(op, string(VerdictUnknown), "error", time.Since(start))
	r.log.Error("billing."+op+".fail", "attempts", attempts, "err", lastErr)

	return VerdictUnknown, fmt.Errorf("%w: %s: %w", ErrUnavailable, op, lastErr)
}

func (r *Resilient) observe(op, verdict, outcome string, d time.Duration) {
	if r.obs == nil {
		return
	}
	if verdict == "" {
		verdict = "none"
	}
	r.obs.ObserveBilling(op, verdict, outcome, d)
}

// ExponentialBackoff doubles base per attempt, capped at cap.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
