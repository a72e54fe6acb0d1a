// Package asset streams resource files to holders of an active play session.
package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"playgate/cmd/internal/catalog"
	"playgate/cmd/internal/play/session"
	"playgate/cmd/internal/telemetry"
)

// ErrNotFound covers a missing asset, a missing file and an asset that
// belongs to another resource. Callers cannot tell them apart.
var ErrNotFound = errors.New("asset not found")

// SessionGate is the active-session check run before any byte is read.
type SessionGate interface {
	AssertActive(ctx context.Context, now time.Time, sessionID, principalID, resourceID string) (session.Session, error)
}

// Observer receives per-response metrics.
type Observer interface {
	ObserveAsset(status int, bytes int64)
}

type Deps struct {
	Assets   catalog.AssetCatalog
	Sessions SessionGate
	Metrics  Observer
	Logger   *slog.Logger
}

// File is what the gateway needs from an opened asset.
type File interface {
	io.ReadSeekCloser
	Stat() (fs.FileInfo, error)
}

// Gateway serves asset bytes with range and conditional request support.
type Gateway struct {
	assets      catalog.AssetCatalog
	sessions    SessionGate
	metrics     Observer
	log         *slog.Logger
	tracer      trace.Tracer
	root        string
	strictRange bool

	open func(name string) (File, error)
}

func NewGateway(cfg Config, d Deps) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d.Assets == nil || d.Sessions == nil {
		return nil, fmt.Errorf("%w: missing gateway dependency", ErrConfig)
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		assets:      d.Assets,
		sessions:    d.Sessions,
		metrics:     d.Metrics,
		log:         log,
		tracer:      telemetry.Tracer("asset"),
		root:        filepath.Clean(cfg.StorageRoot),
		strictRange: cfg.StrictRange,
		open:        func(name string) (File, error) { return os.Open(name) },
	}, nil
}

// Resolve loads an asset and requires it to belong to resourceID.
func (g *Gateway) Resolve(ctx context.Context, assetID, resourceID string) (catalog.Asset, error) {
	id, err := catalog.NormalizeID(assetID)
	if err != nil {
		return catalog.Asset{}, ErrNotFound
	}
	a, err := g.assets.FindAsset(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) || errors.Is(err, catalog.ErrInvalidID) {
		return catalog.Asset{}, ErrNotFound
	}
	if err != nil {
		return catalog.Asset{}, fmt.Errorf("asset: find: %w", err)
	}
	if !strings.EqualFold(a.ResourceID, strings.TrimSpace(resourceID)) {
		return catalog.Asset{}, ErrNotFound
	}
	return a, nil
}

// SafePath maps the asset's relative path under the storage root. Parent
// segments are resolved against a virtual "/" first, so the result can never
// climb above the root.
func (g *Gateway) SafePath(a catalog.Asset) (string, error) {
	return safeJoin(g.root, a.Path)
}

func safeJoin(root, rel string) (string, error) {
	rel = strings.ReplaceAll(strings.TrimSpace(rel), `\`, "/")
	clean := filepath.Clean("/" + filepath.FromSlash(rel))
	if clean == string(filepath.Separator) {
		return "", ErrNotFound
	}
	return filepath.Join(root, clean), nil
}

// Serve answers GET /assets/{id} for the session in p. It returns an error
// only while nothing has been written yet; the caller maps it to a status.
// Once the status line is out, an I/O failure aborts the connection.
func (g *Gateway) Serve(w http.ResponseWriter, r *http.Request, now time.Time, p session.Payload, assetID string) error {
	ctx, span := g.tracer.Start(r.Context(), "asset.Serve", trace.WithAttributes(
		attribute.String("asset.id", assetID),
		attribute.String("session.id", p.SessionID),
	))
	defer span.End()

	status, n, err := g.serve(ctx, w, r, now, p, assetID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("http.status_code", status), attribute.Int64("asset.bytes", n))
	return nil
}

func (g *Gateway) serve(ctx context.Context, w http.ResponseWriter, r *http.Request, now time.Time, p session.Payload, assetID string) (int, int64, error) {
	if _, err := g.sessions.AssertActive(ctx, now, p.SessionID, p.PrincipalID, p.ResourceID); err != nil {
		return 0, 0, err
	}
	a, err := g.Resolve(ctx, assetID, p.ResourceID)
	if err != nil {
		return 0, 0, err
	}
	path, err := g.SafePath(a)
	if err != nil {
		return 0, 0, err
	}

	f, err := g.open(path)
	if errors.Is(err, fs.ErrNotExist) {
		g.log.Error("asset.file.missing", "asset_id", a.ID, "path", path)
		return 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("asset: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("asset: stat: %w", err)
	}
	if fi.IsDir() {
		return 0, 0, ErrNotFound
	}

	size := fi.Size()
	etag := Validator(fi)
	h := w.Header()

	if etagMatch(r.Header.Get("If-None-Match"), etag) {
		h.Set("ETag", etag)
		h.Set("Cache-Control", "private, no-store")
		w.WriteHeader(http.StatusNotModified)
		g.observe(http.StatusNotModified, 0)
		return http.StatusNotModified, 0, nil
	}

	rangeHeader := r.Header.Get("Range")
	rng, partial := ParseRange(rangeHeader, size)
	if !partial && rangeHeader != "" && g.strictRange {
		h.Set("Content-Range", "bytes */"+strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		g.observe(http.StatusRequestedRangeNotSatisfiable, 0)
		return http.StatusRequestedRangeNotSatisfiable, 0, nil
	}

	status, length := http.StatusOK, size
	if partial {
		status, length = http.StatusPartialContent, rng.Length()
		if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
			return 0, 0, fmt.Errorf("asset: seek: %w", err)
		}
		h.Set("Content-Range", rng.ContentRange())
	}

	h.Set("Accept-Ranges", "bytes")
	h.Set("Cache-Control", "private, no-store")
	h.Set("ETag", etag)
	h.Set("Content-Type", a.ContentType())
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	n, err := io.CopyN(w, f, length)
	g.observe(status, n)
	if err != nil {
		if ctx.Err() != nil {
			g.log.Debug("asset.stream.cancel", "asset_id", a.ID, "bytes", n)
			return status, n, nil
		}
		g.log.Error("asset.stream.fail", "asset_id", a.ID, "bytes", n, "want", length, "err", err)
		panic(http.ErrAbortHandler)
	}
	return status, n, nil
}

func (g *Gateway) observe(status int, n int64) {
	if g.metrics != nil {
		g.metrics.ObserveAsset(status, n)
	}
}

// etagMatch accepts a single tag or a comma separated list, comparing weakly.
func etagMatch(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
