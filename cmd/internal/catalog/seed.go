package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Seed is the JSON document accepted by PLAYGATE_CATALOG_SEED.
//
//	{
//	  "principals": [{"id": "...", "blocked": false}],
//	  "resources":  [{"id": "...", "title": "...", "active": true}],
//	  "assets":     [{"id": "...", "resourceId": "...", "path": "g1/a.bin", "sizeBytes": 20, "mimeType": "..."}]
//	}
type Seed struct {
	Principals []SeedPrincipal `json:"principals"`
	Resources  []SeedResource  `json:"resources"`
	Assets     []SeedAsset     `json:"assets"`
}

type SeedPrincipal struct {
	ID      string `json:"id"`
	Blocked bool   `json:"blocked"`
}

type SeedResource struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

type SeedAsset struct {
	ID         string `json:"id"`
	ResourceID string `json:"resourceId"`
	Path       string `json:"path"`
	SizeBytes  int64  `json:"sizeBytes"`
	MimeType   string `json:"mimeType"`
}

// LoadSeedFile reads and decodes a seed file.
func LoadSeedFile(path string) (Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("catalog: read seed: %w", err)
	}
	var s Seed
	if err := json.Unmarshal(b, &s); err != nil {
		return Seed{}, fmt.Errorf("catalog: decode seed: %w", err)
	}
	return s, nil
}

// Apply loads the seed's resources and assets into c.
func (s Seed) Apply(c *MemoryCatalog) error {
	for _, r := range s.Resources {
		if err := c.PutResource(Resource{ID: r.ID, Title: r.Title, Active: r.Active}); err != nil {
			return fmt.Errorf("catalog: seed resource %q: %w", r.ID, err)
		}
	}
	for _, a := range s.Assets {
		if err := c.PutAsset(Asset{
			ID:         a.ID,
			ResourceID: a.ResourceID,
			Path:       a.Path,
			SizeBytes:  a.SizeBytes,
			MimeType:   a.MimeType,
		}); err != nil {
			return fmt.Errorf("catalog: seed asset %q: %w", a.ID, err)
		}
	}
	return nil
}

// ApplySQLite loads the seed's resources and assets into an SQLite catalog.
func (s Seed) ApplySQLite(ctx context.Context, c *SQLiteCatalog) error {
	for _, r := range s.Resources {
		if err := c.PutResource(ctx, Resource{ID: r.ID, Title: r.Title, Active: r.Active}); err != nil {
			return fmt.Errorf("catalog: seed resource %q: %w", r.ID, err)
		}
	}
	for _, a := range s.Assets {
		if err := c.PutAsset(ctx, Asset{
			ID:         a.ID,
			ResourceID: a.ResourceID,
			Path:       a.Path,
			SizeBytes:  a.SizeBytes,
			MimeType:   a.MimeType,
		}); err != nil {
			return fmt.Errorf("catalog: seed asset %q: %w", a.ID, err)
		}
	}
	return nil
}
