package playapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"playgate/cmd/internal/play/session"
)

// AuditEntry is one row of the audit trail.
type AuditEntry struct {
	Action      string
	PrincipalID string
	SessionID   string
	IP          net.IP
	UserAgent   string
	Meta        map[string]any
}

// AuditSink records audit entries. Record is best effort and never fails the
// caller's request.
type AuditSink interface {
	Record(ctx context.Context, e AuditEntry)
}

var auditIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresAudit writes to <schema>.audit_log.
type PostgresAudit struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

// NewPostgresAudit targets schema.audit_log; an empty schema means "playgate".
func NewPostgresAudit(pool *pgxpool.Pool, schema string, log *slog.Logger) (*PostgresAudit, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil audit pool", ErrConfig)
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "playgate"
	}
	if !auditIdentRe.MatchString(schema) {
		return nil, fmt.Errorf("%w: invalid audit schema", ErrConfig)
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAudit{pool: pool, table: pgx.Identifier{schema, "audit_log"}.Sanitize(), log: log}, nil
}

func (a *PostgresAudit) Record(ctx context.Context, e AuditEntry) {
	action := strings.TrimSpace(e.Action)
	if a == nil || action == "" {
		return
	}

	var ipVal any
	if e.IP != nil {
		ipVal = e.IP.String()
	}

	var metaVal *string
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO `+a.table+` (
			action, principal_id, session_id, ip, user_agent, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, now())
	`, action, trimOrNil(e.PrincipalID), trimOrNil(e.SessionID), ipVal, trimOrNil(e.UserAgent), metaVal)
	if err != nil {
		a.log.Error("audit.insert.fail", "err", err, "action", action)
	}
}

// LogAudit writes audit entries to the structured log. It is the sink when no
// Postgres database is configured.
type LogAudit struct {
	Log *slog.Logger
}

func (a LogAudit) Record(_ context.Context, e AuditEntry) {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"action", e.Action, "principal_id", e.PrincipalID, "session_id", e.SessionID}
	if e.IP != nil {
		attrs = append(attrs, "ip", e.IP.String())
	}
	if len(e.Meta) > 0 {
		attrs = append(attrs, "meta", e.Meta)
	}
	log.Info("audit", attrs...)
}

// AuditNotifier records the transitions no request is around to audit:
// revocations and expiries.
type AuditNotifier struct {
	Sink    AuditSink
	Timeout time.Duration
}

func (n AuditNotifier) Publish(ctx context.Context, ev session.Event) {
	if n.Sink == nil {
		return
	}
	if ev.Type != session.EventRevoked && ev.Type != session.EventExpired {
		return
	}
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	n.Sink.Record(ctx, AuditEntry{
		Action:      "play." + strings.TrimPrefix(string(ev.Type), "session."),
		PrincipalID: ev.PrincipalID,
		SessionID:   ev.SessionID,
		Meta: map[string]any{
			"resource_id": ev.ResourceID,
			"reason":      ev.Reason,
		},
	})
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
