package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxSweepRounds bounds how many full batches one tick drains.
const maxSweepRounds = 16

// SweepResult summarizes one CleanupExpired pass.
type SweepResult struct {
	Expired int
	Skipped int
	Failed  int
}

// CleanupExpired expires up to one batch of ACTIVE sessions whose expiry is
// before now. Sessions are processed concurrently and independently: a
// failure is logged and counted, and never stops the rest of the batch.
func (m *Manager) CleanupExpired(ctx context.Context, now time.Time) (SweepResult, error) {
	now = normalizeNow(now)

	batch, err := m.store.ListExpired(ctx, now, m.cfg.SweepBatch)
	if err != nil {
		return SweepResult{}, err
	}

	var expired, skipped, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(m.cfg.SweepConcurrency)

	for _, sess := range batch {
		sess := sess
		g.Go(func() error {
			done, err := m.expireOne(ctx, now, sess)
			switch {
			case err != nil:
				failed.Add(1)
				m.log.Error("sweep.expire.fail", "session_id", sess.ID, "err", err)
			case done:
				expired.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return SweepResult{
		Expired: int(expired.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}, nil
}

func (m *Manager) expireOne(ctx context.Context, now time.Time, sess Session) (bool, error) {
	expired, err := m.store.Transition(ctx, now, sess.ID, StateExpired, "")
	if errors.Is(err, ErrStale) || errors.Is(err, ErrNotFound) {
		// Renewed or ended since it was listed.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.stopStream(ctx, expired.ID)
	m.emit(ctx, EventExpired, expired, "ttl", now)
	return true, nil
}

// StartSweeper runs CleanupExpired every interval until ctx is done.
// A tick that fills whole batches keeps draining, up to maxSweepRounds.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = m.cfg.SweepInterval
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweepTick(ctx)
			}
		}
	}()
}

func (m *Manager) sweepTick(ctx context.Context) {
	start := time.Now()
	var total SweepResult
	for round := 0; round < maxSweepRounds; round++ {
		res, err := m.CleanupExpired(ctx, time.Now())
		if err != nil {
			if ctx.Err() == nil {
				m.log.Error("sweep.fail", "err", err)
			}
			break
		}
		total.Expired += res.Expired
		total.Skipped += res.Skipped
		total.Failed += res.Failed
		if res.Expired+res.Skipped+res.Failed < m.cfg.SweepBatch || res.Expired == 0 {
			break
		}
	}
	if m.metrics != nil {
		m.metrics.ObserveSweep(time.Since(start))
	}
	if total.Expired > 0 || total.Failed > 0 {
		m.log.Info("sweep.done",
			"expired", total.Expired,
			"skipped", total.Skipped,
			"failed", total.Failed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
