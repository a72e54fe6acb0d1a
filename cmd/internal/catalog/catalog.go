// Package catalog provides read access to playable resources and their asset
// records. Ingestion of either lives outside this service.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound reports a missing or inactive resource, or a missing asset.
	ErrNotFound = errors.New("catalog: not found")
	// ErrInvalidID reports a resource or asset id that is not a UUID.
	ErrInvalidID = errors.New("catalog: invalid id")
)

const defaultMimeType = "application/octet-stream"

// Resource is a game or content package a session can be opened for.
type Resource struct {
	ID        string
	Title     string
	Active    bool
	CreatedAt time.Time
}

// Asset is a read-only record of one file belonging to a resource.
// Path is relative to the asset storage root.
type Asset struct {
	ID         string
	ResourceID string
	Path       string
	SizeBytes  int64
	MimeType   string
}

// ResourceCatalog resolves active resources.
type ResourceCatalog interface {
	FindActiveByID(ctx context.Context, id string) (Resource, error)
}

// AssetCatalog resolves asset records.
type AssetCatalog interface {
	FindAsset(ctx context.Context, id string) (Asset, error)
}

// Catalog is both lookups, as every backing store provides them together.
type Catalog interface {
	ResourceCatalog
	AssetCatalog
}

// NormalizeID parses a UUID and returns its canonical lowercase form.
func NormalizeID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, raw)
	}
	return id.String(), nil
}

// ContentType is the stored MIME type, or application/octet-stream when unset.
func (a Asset) ContentType() string {
	if strings.TrimSpace(a.MimeType) == "" {
		return defaultMimeType
	}
	return a.MimeType
}
