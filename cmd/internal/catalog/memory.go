package catalog

import (
	"context"
	"sync"
)

// MemoryCatalog is an in-process catalog for dev runs and tests.
type MemoryCatalog struct {
	mu        sync.RWMutex
	resources map[string]Resource
	assets    map[string]Asset
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		resources: make(map[string]Resource),
		assets:    make(map[string]Asset),
	}
}

func (c *MemoryCatalog) PutResource(r Resource) error {
	norm, err := NormalizeID(r.ID)
	if err != nil {
		return err
	}
	r.ID = norm

	c.mu.Lock()
	c.resources[norm] = r
	c.mu.Unlock()
	return nil
}

func (c *MemoryCatalog) PutAsset(a Asset) error {
	id, err := NormalizeID(a.ID)
	if err != nil {
		return err
	}
	rid, err := NormalizeID(a.ResourceID)
	if err != nil {
		return err
	}
	a.ID, a.ResourceID = id, rid
	a.MimeType = a.ContentType()

	c.mu.Lock()
	c.assets[id] = a
	c.mu.Unlock()
	return nil
}

func (c *MemoryCatalog) FindActiveByID(ctx context.Context, id string) (Resource, error) {
	if err := ctx.Err(); err != nil {
		return Resource{}, err
	}
	norm, err := NormalizeID(id)
	if err != nil {
		return Resource{}, err
	}

	c.mu.RLock()
	r, ok := c.resources[norm]
	c.mu.RUnlock()
	if !ok || !r.Active {
		return Resource{}, ErrNotFound
	}
	return r, nil
}

func (c *MemoryCatalog) FindAsset(ctx context.Context, id string) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}
	norm, err := NormalizeID(id)
	if err != nil {
		return Asset{}, ErrNotFound
	}

	c.mu.RLock()
	a, ok := c.assets[norm]
	c.mu.RUnlock()
	if !ok {
		return Asset{}, ErrNotFound
	}
	return a, nil
}
