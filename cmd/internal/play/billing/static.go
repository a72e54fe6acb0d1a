package billing

import (
	"context"
	"sync"
)

// StaticGate answers with configured verdicts. Per-principal and per-stream
// overrides and injected faults make it the test double for every gate
// behaviour; each instance is independent.
type StaticGate struct {
	mu         sync.Mutex
	def        Verdict
	principals map[string]Verdict
	streams    map[string]Verdict
	faults     map[string]error

	active  map[string]string
	started []string
	stopped []string
}

// NewStaticGate returns a gate answering def for everything. An empty def means OK.
func NewStaticGate(def Verdict) *StaticGate {
	if def == "" {
		def = VerdictOK
	}
	return &StaticGate{
		def:        def,
		principals: make(map[string]Verdict),
		streams:    make(map[string]Verdict),
		faults:     make(map[string]error),
		active:     make(map[string]string),
	}
}

func (g *StaticGate) SetDefault(v Verdict) {
	g.mu.Lock()
	g.def = v
	g.mu.Unlock()
}

func (g *StaticGate) SetPrincipal(principalID string, v Verdict) {
	g.mu.Lock()
	g.principals[principalID] = v
	g.mu.Unlock()
}

func (g *StaticGate) SetStream(sessionID string, v Verdict) {
	g.mu.Lock()
	g.streams[sessionID] = v
	g.mu.Unlock()
}

// Fail makes op return err until cleared with a nil err.
func (g *StaticGate) Fail(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.faults, op)
		return
	}
	g.faults[op] = err
}

func (g *StaticGate) Check(ctx context.Context, principalID string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return VerdictUnknown, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.faults[OpCheck]; err != nil {
		return VerdictUnknown, err
	}
	if v, ok := g.principals[principalID]; ok {
		return v, nil
	}
	return g.def, nil
}

func (g *StaticGate) CheckStream(ctx context.Context, sessionID string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return VerdictUnknown, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.faults[OpCheckStream]; err != nil {
		return VerdictUnknown, err
	}
	if v, ok := g.streams[sessionID]; ok {
		return v, nil
	}
	return g.def, nil
}

func (g *StaticGate) StartStream(ctx context.Context, sessionID, principalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.faults[OpStartStream]; err != nil {
		return err
	}
	g.active[sessionID] = principalID
	g.started = append(g.started, sessionID)
	return nil
}

func (g *StaticGate) StopStream(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.faults[OpStopStream]; err != nil {
		return err
	}
	delete(g.active, sessionID)
	g.stopped = append(g.stopped, sessionID)
	return nil
}

// Started returns the session ids passed to StartStream, in call order.
func (g *StaticGate) Started() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.started...)
}

// Stopped returns the session ids passed to StopStream, in call order.
func (g *StaticGate) Stopped() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.stopped...)
}

// Streaming reports whether sessionID has a started, not yet stopped stream.
func (g *StaticGate) Streaming(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[sessionID]
	return ok
}
