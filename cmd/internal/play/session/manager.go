package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"playgate/cmd/identity"
	"playgate/cmd/identity/ids"
	"playgate/cmd/internal/catalog"
	"playgate/cmd/internal/play/billing"
	"playgate/cmd/internal/telemetry"
	"playgate/cmd/security/token"
)

// Observer receives lifecycle metrics.
type Observer interface {
	ObserveTransition(state, reason string)
	ObserveSweep(d time.Duration)
}

// Deps are the collaborators of a Manager. Notifier and Metrics are optional.
type Deps struct {
	Store      Store
	Tokens     TokenIssuer
	Billing    billing.Gate
	Principals identity.Directory
	Resources  catalog.ResourceCatalog
	Notifier   Notifier
	Metrics    Observer
	Logger     *slog.Logger
}

// Grant is what a client receives from Start and Heartbeat.
type Grant struct {
	SessionID            string
	Token                string
	TokenExpiresAt       time.Time
	SessionExpiresAt     time.Time
	HeartbeatIntervalSec int
}

// Manager owns the session state machine and the single-active-session rule.
type Manager struct {
	cfg        Config
	store      Store
	tokens     TokenIssuer
	billing    billing.Gate
	principals identity.Directory
	resources  catalog.ResourceCatalog
	notifier   Notifier
	metrics    Observer
	log        *slog.Logger
	tracer     trace.Tracer

	newID func(time.Time) (string, error)
}

// NewManager validates the timing settings and wires the collaborators.
// Key material is not required here; it belongs to the TokenIssuer.
func NewManager(cfg Config, d Deps) (*Manager, error) {
	if d.Store == nil || d.Tokens == nil || d.Billing == nil || d.Principals == nil || d.Resources == nil {
		return nil, fmt.Errorf("%w: missing manager dependency", ErrConfig)
	}
	if cfg.SessionTTL <= 0 || cfg.HeartbeatInterval <= 0 || cfg.HeartbeatInterval >= cfg.SessionTTL {
		return nil, fmt.Errorf("%w: ttl/heartbeat", ErrConfig)
	}
	if cfg.MaxRenewals < 0 {
		return nil, fmt.Errorf("%w: max renewals", ErrConfig)
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = DefaultConfig().SweepBatch
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = DefaultConfig().SweepConcurrency
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:        cfg,
		store:      d.Store,
		tokens:     d.Tokens,
		billing:    d.Billing,
		principals: d.Principals,
		resources:  d.Resources,
		notifier:   d.Notifier,
		metrics:    d.Metrics,
		log:        log,
		tracer:     telemetry.Tracer("session"),
		newID:      ids.NewULID,
	}, nil
}

// Tokens returns the issuer used to sign session tokens.
func (m *Manager) Tokens() TokenIssuer { return m.tokens }

// Start opens a session for (principalID, resourceID), ending the principal's
// previous ACTIVE session if any.
func (m *Manager) Start(ctx context.Context, now time.Time, principalID, resourceID string) (Grant, error) {
	ctx, span := m.tracer.Start(ctx, "session.Start")
	defer span.End()
	now = normalizeNow(now)

	g, err := m.start(ctx, now, principalID, resourceID)
	if err != nil {
		spanFail(span, err)
		return Grant{}, err
	}
	span.SetAttributes(attribute.String("session.id", g.SessionID))
	return g, nil
}

func (m *Manager) start(ctx context.Context, now time.Time, principalID, resourceID string) (Grant, error) {
	p, err := m.principals.FindByID(ctx, principalID)
	switch {
	case identity.IsNotFound(err), identity.IsInvalidInput(err):
		return Grant{}, fmt.Errorf("%w: %v", ErrPrincipalNotFound, err)
	case err != nil:
		return Grant{}, fmt.Errorf("session: principal lookup: %w", err)
	case p.Blocked():
		return Grant{}, ErrPrincipalBlocked
	}
	principalID = p.ID

	r, err := m.resources.FindActiveByID(ctx, resourceID)
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, catalog.ErrInvalidID):
		return Grant{}, ErrResourceNotFound
	case err != nil:
		return Grant{}, fmt.Errorf("session: resource lookup: %w", err)
	}
	resourceID = r.ID

	verdict, err := m.billing.Check(ctx, principalID)
	if err != nil {
		return Grant{}, fmt.Errorf("%w: %v", ErrBillingUnavailable, err)
	}
	if !verdict.OK() {
		m.log.Warn("session.start.denied", "principal_id", principalID, "verdict", verdict.String())
		return Grant{}, BillingDeniedError{Verdict: verdict}
	}

	id, err := m.newID(now)
	if err != nil {
		return Grant{}, err
	}
	hb := now
	sess := Session{
		ID:              id,
		PrincipalID:     principalID,
		ResourceID:      resourceID,
		State:           StateActive,
		ExpiresAt:       now.Add(m.cfg.SessionTTL),
		LastHeartbeatAt: &hb,
		BillingState:    billing.VerdictOK.String(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	ended, err := m.store.Supersede(ctx, now, sess)
	if err != nil {
		return Grant{}, fmt.Errorf("session: supersede: %w", err)
	}
	for _, prev := range ended {
		m.stopStream(ctx, prev.ID)
		m.emit(ctx, EventEnded, prev, "superseded", now)
	}

	if err := m.billing.StartStream(ctx, sess.ID, principalID); err != nil {
		m.log.Error("session.start.stream.fail", "session_id", sess.ID, "err", err)
		if endedSess, terr := m.store.Transition(ctx, now, sess.ID, StateEnded, ""); terr == nil {
			m.emit(ctx, EventEnded, endedSess, "start_failed", now)
		} else {
			m.log.Error("session.start.rollback.fail", "session_id", sess.ID, "err", terr)
		}
		return Grant{}, fmt.Errorf("%w: start stream: %v", ErrBillingUnavailable, err)
	}

	g, err := m.grant(sess, now)
	if err != nil {
		if endedSess, terr := m.store.Transition(ctx, now, sess.ID, StateEnded, ""); terr == nil {
			m.stopStream(ctx, sess.ID)
			m.emit(ctx, EventEnded, endedSess, "start_failed", now)
		}
		return Grant{}, err
	}

	m.emit(ctx, EventStarted, sess, "start", now)
	m.log.Info("session.start",
		"session_id", sess.ID,
		"principal_id", principalID,
		"resource_id", resourceID,
		"superseded", len(ended),
		"token_fp", token.Fingerprint(g.Token),
	)
	return g, nil
}

// Heartbeat renews a live session and returns a freshly signed token.
func (m *Manager) Heartbeat(ctx context.Context, now time.Time, sessionID, principalID, resourceID string) (Grant, error) {
	ctx, span := m.tracer.Start(ctx, "session.Heartbeat", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()
	now = normalizeNow(now)

	g, err := m.heartbeat(ctx, now, sessionID, principalID, resourceID)
	if err != nil {
		spanFail(span, err)
		return Grant{}, err
	}
	return g, nil
}

func (m *Manager) heartbeat(ctx context.Context, now time.Time, sessionID, principalID, resourceID string) (Grant, error) {
	sess, err := m.live(ctx, now, sessionID, principalID, resourceID)
	if err != nil {
		return Grant{}, err
	}

	if m.cfg.MaxRenewals > 0 && sess.RenewalCount >= m.cfg.MaxRenewals {
		m.revoke(ctx, now, sess.ID, billing.VerdictStopped.String(), "renewal_limit")
		return Grant{}, RenewalLimitError{SessionID: sess.ID, Count: sess.RenewalCount, Max: m.cfg.MaxRenewals}
	}

	if err := m.checkStream(ctx, now, sess.ID); err != nil {
		return Grant{}, err
	}

	// Expiry only moves forward, even if the wall clock stepped back, and
	// always into a later second so the embedded token expiry grows too.
	newExp := now.Add(m.cfg.SessionTTL)
	if floor := sess.ExpiresAt.Truncate(time.Second).Add(time.Second); newExp.Before(floor) {
		newExp = floor
	}

	renewed, err := m.store.Renew(ctx, now, sess.ID, newExp)
	if errors.Is(err, ErrStale) || errors.Is(err, ErrNotFound) {
		return Grant{}, ErrSessionInactive
	}
	if err != nil {
		return Grant{}, fmt.Errorf("session: renew: %w", err)
	}

	g, err := m.grant(renewed, now)
	if err != nil {
		return Grant{}, err
	}
	m.emit(ctx, EventRenewed, renewed, "heartbeat", now)
	m.log.Debug("session.renew",
		"session_id", renewed.ID,
		"renewal_count", renewed.RenewalCount,
		"token_fp", token.Fingerprint(g.Token),
	)
	return g, nil
}

// Stop ends the principal's session. It is a no-op when no ACTIVE session
// matches, so repeated calls never fail.
func (m *Manager) Stop(ctx context.Context, now time.Time, sessionID, principalID string) error {
	now = normalizeNow(now)

	sess, err := m.store.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: stop: %w", err)
	}
	if sess.State != StateActive || !sess.Matches(principalID, "") {
		return nil
	}

	ended, err := m.store.Transition(ctx, now, sess.ID, StateEnded, "")
	if errors.Is(err, ErrStale) || errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: stop: %w", err)
	}

	m.stopStream(ctx, ended.ID)
	m.emit(ctx, EventEnded, ended, "stop", now)
	m.log.Info("session.stop", "session_id", ended.ID, "principal_id", ended.PrincipalID)
	return nil
}

// AssertActive is the gate in front of every privileged action. It checks the
// session and its billing stream without renewing anything.
func (m *Manager) AssertActive(ctx context.Context, now time.Time, sessionID, principalID, resourceID string) (Session, error) {
	ctx, span := m.tracer.Start(ctx, "session.AssertActive", trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()
	now = normalizeNow(now)

	sess, err := m.live(ctx, now, sessionID, principalID, resourceID)
	if err != nil {
		spanFail(span, err)
		return Session{}, err
	}
	if err := m.checkStream(ctx, now, sess.ID); err != nil {
		spanFail(span, err)
		return Session{}, err
	}
	return sess, nil
}

// Revoke moves a session in any state to REVOKED with reason as its billing
// state and stops its stream. Absent or already revoked sessions are ignored.
func (m *Manager) Revoke(ctx context.Context, now time.Time, sessionID, reason string) error {
	now = normalizeNow(now)

	revoked, err := m.store.Revoke(ctx, now, sessionID, reason)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case errors.Is(err, ErrStale):
		m.stopStream(ctx, sessionID)
		return nil
	case err != nil:
		return fmt.Errorf("session: revoke: %w", err)
	}
	m.revoked(ctx, now, revoked, reason)
	return nil
}

// revoke is the compensating action for a denied billing check. Only an
// ACTIVE session is moved; a session that already left ACTIVE keeps its state.
func (m *Manager) revoke(ctx context.Context, now time.Time, sessionID, billingState, reason string) {
	revoked, err := m.store.Transition(ctx, now, sessionID, StateRevoked, billingState)
	switch {
	case errors.Is(err, ErrNotFound):
		return
	case errors.Is(err, ErrStale):
		m.stopStream(ctx, sessionID)
		return
	case err != nil:
		m.log.Error("session.revoke.fail", "session_id", sessionID, "err", err)
		return
	}
	m.revoked(ctx, now, revoked, reason)
}

func (m *Manager) revoked(ctx context.Context, now time.Time, s Session, reason string) {
	m.stopStream(ctx, s.ID)
	m.emit(ctx, EventRevoked, s, reason, now)
	m.log.Warn("session.revoke", "session_id", s.ID, "principal_id", s.PrincipalID, "reason", reason)
}

// live loads the session and requires it to match, be ACTIVE and unexpired.
func (m *Manager) live(ctx context.Context, now time.Time, sessionID, principalID, resourceID string) (Session, error) {
	if sessionID == "" || principalID == "" || resourceID == "" {
		return Session{}, ErrSessionInactive
	}
	sess, err := m.store.Get(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return Session{}, ErrSessionInactive
	}
	if err != nil {
		return Session{}, fmt.Errorf("session: load: %w", err)
	}
	if !sess.Matches(principalID, resourceID) || !sess.Live(now) {
		return Session{}, ErrSessionInactive
	}
	return sess, nil
}

// checkStream revokes on a non-OK verdict. Provider errors leave the session alone.
func (m *Manager) checkStream(ctx context.Context, now time.Time, sessionID string) error {
	verdict, err := m.billing.CheckStream(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBillingUnavailable, err)
	}
	if verdict.OK() {
		return nil
	}
	m.revoke(ctx, now, sessionID, verdict.String(), verdict.String())
	return BillingDeniedError{SessionID: sessionID, Verdict: verdict}
}

func (m *Manager) grant(s Session, now time.Time) (Grant, error) {
	hb := m.cfg.HeartbeatIntervalSec()
	tok, exp, err := m.tokens.Sign(Payload{
		SessionID:            s.ID,
		PrincipalID:          s.PrincipalID,
		ResourceID:           s.ResourceID,
		HeartbeatIntervalSec: hb,
	}, s.ExpiresAt.Sub(now), now)
	if err != nil {
		return Grant{}, fmt.Errorf("session: sign token: %w", err)
	}
	return Grant{
		SessionID:            s.ID,
		Token:                tok,
		TokenExpiresAt:       exp,
		SessionExpiresAt:     s.ExpiresAt,
		HeartbeatIntervalSec: hb,
	}, nil
}

// stopStream is best effort: the session row is already terminal.
func (m *Manager) stopStream(ctx context.Context, sessionID string) {
	if err := m.billing.StopStream(ctx, sessionID); err != nil {
		m.log.Error("session.stream.stop.fail", "session_id", sessionID, "err", err)
	}
}

func (m *Manager) emit(ctx context.Context, t EventType, s Session, reason string, now time.Time) {
	if m.metrics != nil {
		m.metrics.ObserveTransition(string(s.State), reason)
	}
	if m.notifier != nil {
		m.notifier.Publish(ctx, newEvent(t, s, reason, now))
	}
}

// normalizeNow drops sub-millisecond precision so every store compares the
// same instants.
func normalizeNow(now time.Time) time.Time {
	if now.IsZero() {
		now = time.Now()
	}
	return now.UTC().Truncate(time.Millisecond)
}

func spanFail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
