package playapi

import (
	"context"
	"testing"

	"playgate/cmd/internal/play/session"
)

func TestAuditNotifier_RecordsOnlyUnattendedTransitions(t *testing.T) {
	t.Parallel()

	sink := &recordingAudit{}
	n := AuditNotifier{Sink: sink}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, typ := range []session.EventType{
		session.EventStarted,
		session.EventRenewed,
		session.EventEnded,
		session.EventRevoked,
		session.EventExpired,
	} {
		n.Publish(ctx, session.Event{Type: typ, SessionID: "s1", PrincipalID: principalA, Reason: "STOPPED"})
	}

	got := sink.actions()
	if len(got) != 2 || got[0] != "play.revoked" || got[1] != "play.expired" {
		t.Fatalf("unexpected audit actions: %v", got)
	}
	if sink.entries[0].Meta["reason"] != "STOPPED" {
		t.Fatalf("reason not recorded: %+v", sink.entries[0])
	}
}

func TestAuditNotifier_NilSink(t *testing.T) {
	t.Parallel()

	AuditNotifier{}.Publish(context.Background(), session.Event{Type: session.EventRevoked})
}
