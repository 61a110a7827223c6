package storage

import (
	"context"
	"encoding/hex"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"docqa-engine/internal/domain"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/adapter"
	"docqa-engine/internal/infra/logging"
	"docqa-engine/internal/infra/metrics"
)

// Digest identifies uploaded content.
type Digest string

func digestOf(data []byte, mimeType string) Digest {
	sum := blake3.Sum256(data)
	return Digest(mimeType + ":" + hex.EncodeToString(sum[:]))
}

type upload struct {
	ref     model.FileRef
	expires time.Time
}

// UploadRegistry remembers provider uploads by content digest until the
// provider would expire them.
type UploadRegistry struct {
	uploader adapter.FileUploader
	ttl      time.Duration
	now      func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	known map[Digest]upload
}

func NewUploadRegistry(uploader adapter.FileUploader, ttl time.Duration) *UploadRegistry {
	if ttl <= 0 {
		ttl = 47 * time.Hour
	}
	return &UploadRegistry{uploader: uploader, ttl: ttl, now: time.Now, known: map[Digest]upload{}}
}

// Upload returns the existing reference for identical bytes or uploads them.
// The returned ref always carries the display name of this call.
func (r *UploadRegistry) Upload(ctx context.Context, data []byte, mimeType, displayName string) (model.FileRef, error) {
	d := digestOf(data, mimeType)
	now := r.now()

	r.mu.Lock()
	u, ok := r.known[d]
	if ok && now.Before(u.expires) {
		r.mu.Unlock()
		metrics.IncCacheRequest("uploads", "hit")
		ref := u.ref
		ref.DisplayName = displayName
		return ref, nil
	}
	r.mu.Unlock()
	metrics.IncCacheRequest("uploads", "miss")

	v, err := shared(ctx, &r.group, string(d), func(ctx context.Context) (interface{}, error) {
		r.mu.Lock()
		if u, ok := r.known[d]; ok && now.Before(u.expires) {
			r.mu.Unlock()
			return u.ref, nil
		}
		r.mu.Unlock()
		ref, err := r.uploader.Upload(ctx, data, mimeType, displayName)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.known[d] = upload{ref: ref, expires: now.Add(r.ttl)}
		for k, u := range r.known {
			if !now.Before(u.expires) {
				delete(r.known, k)
			}
		}
		r.mu.Unlock()
		return ref, nil
	})
	if err != nil {
		return model.FileRef{}, err
	}
	ref := v.(model.FileRef)
	ref.DisplayName = displayName
	return ref, nil
}

func (r *UploadRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.known)
}

var _ adapter.FileResolver = (*Resolver)(nil)
var _ adapter.RegionResolver = (*Resolver)(nil)

// Resolver downloads catalog items and registers them with the provider.
type Resolver struct {
	fetcher     adapter.ObjectFetcher
	uploads     *UploadRegistry
	renderer    adapter.RegionRenderer
	concurrency int
	log         *zerolog.Logger
}

func NewResolver(fetcher adapter.ObjectFetcher, uploads *UploadRegistry, renderer adapter.RegionRenderer, concurrency int, logger *zerolog.Logger) *Resolver {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Resolver{
		fetcher:     fetcher,
		uploads:     uploads,
		renderer:    renderer,
		concurrency: concurrency,
		log:         logging.Component(logger, "Resolver"),
	}
}

// ResolveFiles fetches and uploads the requested items with bounded
// parallelism. References come back in request order, one per distinct id.
func (r *Resolver) ResolveFiles(ctx context.Context, catalog *model.ContextCatalog, items []model.FileRequest) ([]model.FileRef, error) {
	var wanted []model.CatalogItem
	seen := map[string]bool{}
	for _, it := range items {
		if seen[it.ContextItemID] {
			continue
		}
		seen[it.ContextItemID] = true
		ci, ok := catalog.Lookup(it.ContextItemID)
		if !ok {
			return nil, &domain.ResolutionError{Action: string(model.ActionRequestFiles), ItemID: it.ContextItemID, Err: domain.ErrNotFound}
		}
		wanted = append(wanted, ci)
	}

	refs := make([]model.FileRef, len(wanted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, ci := range wanted {
		g.Go(func() error {
			ref, err := r.resolveOne(gctx, ci)
			if err != nil {
				return &domain.ResolutionError{Action: string(model.ActionRequestFiles), ItemID: ci.ContextItemID, Err: err}
			}
			refs[i] = ref
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logging.With(ctx, r.log).Debug().Int("files", len(refs)).Msg("files resolved")
	return refs, nil
}

func (r *Resolver) resolveOne(ctx context.Context, ci model.CatalogItem) (model.FileRef, error) {
	src := ci.Source()
	if src == "" {
		return model.FileRef{}, fmt.Errorf("item has no storage location")
	}
	data, mimeType, err := r.fetcher.Fetch(ctx, src)
	if err != nil {
		return model.FileRef{}, err
	}
	if ci.MIMEType != "" {
		mimeType = ci.MIMEType
	}
	ref, err := r.uploads.Upload(ctx, data, mimeType, displayName(ci))
	if err != nil {
		return model.FileRef{}, fmt.Errorf("upload: %w", err)
	}
	ref.ContextItemID = ci.ContextItemID
	ref.IsROI = false
	return ref, nil
}

// ResolveRegion renders region of the source item and uploads it as a PNG.
func (r *Resolver) ResolveRegion(ctx context.Context, source model.CatalogItem, region model.BBox, dpi int) (model.FileRef, error) {
	if r.renderer == nil {
		return model.FileRef{}, domain.ErrResolverUnavailable
	}
	if !region.Valid() {
		return model.FileRef{}, fmt.Errorf("%w: bbox %+v", domain.ErrInvalidArgument, region)
	}
	src := source.Source()
	if src == "" {
		return model.FileRef{}, fmt.Errorf("item has no storage location")
	}
	data, mimeType, err := r.fetcher.Fetch(ctx, src)
	if err != nil {
		return model.FileRef{}, err
	}
	if source.MIMEType != "" {
		mimeType = source.MIMEType
	}
	page := source.Page
	if page <= 0 {
		page = 1
	}

	start := time.Now()
	png, err := r.renderer.Render(ctx, data, mimeType, page, region, dpi)
	if err != nil {
		return model.FileRef{}, fmt.Errorf("render: %w", err)
	}
	logging.With(ctx, r.log).Debug().
		Str("context_item_id", source.ContextItemID).
		Int("dpi", dpi).
		Int("bytes", len(png)).
		Dur("took", time.Since(start)).
		Msg("region rendered")

	ref, err := r.uploads.Upload(ctx, png, "image/png", model.ROIDisplayName(source.ContextItemID, dpi))
	if err != nil {
		return model.FileRef{}, fmt.Errorf("upload: %w", err)
	}
	ref.ContextItemID = source.ContextItemID
	ref.IsROI = true
	return ref, nil
}

func displayName(ci model.CatalogItem) string {
	if ci.Title != "" {
		return ci.Title
	}
	if base := path.Base(ci.Source()); base != "." && base != "/" {
		return base
	}
	return ci.ContextItemID
}
