package identity

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-process Directory for dev mode and tests.
type MemoryDirectory struct {
	mu         sync.RWMutex
	principals map[string]Principal
}

// NewMemoryDirectory constructs an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{principals: make(map[string]Principal)}
}

// Put adds or replaces a principal.
func (d *MemoryDirectory) Put(p Principal) error {
	norm, err := NormalizePrincipalID(p.ID)
	if err != nil {
		return err
	}
	p.ID = norm
	if p.Status == "" {
		p.Status = StatusActive
	}
	if !p.Status.Valid() {
		return invalid("identity.MemoryDirectory.Put", "unknown status "+string(p.Status))
	}

	d.mu.Lock()
	d.principals[norm] = p
	d.mu.Unlock()
	return nil
}

// FindByID loads a principal by id.
func (d *MemoryDirectory) FindByID(ctx context.Context, id string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	norm, err := NormalizePrincipalID(id)
	if err != nil {
		return Principal{}, err
	}

	d.mu.RLock()
	p, ok := d.principals[norm]
	d.mu.RUnlock()
	if !ok {
		return Principal{}, notFound("identity.FindByID")
	}
	return p, nil
}
