package adapter

import (
	"context"

	"docqa-engine/internal/domain/model"
)

// FileResolver turns catalog items into provider file references.
type FileResolver interface {
	ResolveFiles(ctx context.Context, catalog *model.ContextCatalog, items []model.FileRequest) ([]model.FileRef, error)
}

// RegionResolver renders a region of a source document and registers the
// image as a file reference.
type RegionResolver interface {
	ResolveRegion(ctx context.Context, source model.CatalogItem, region model.BBox, dpi int) (model.FileRef, error)
}

// ObjectFetcher downloads an object by storage key or absolute URL.
type ObjectFetcher interface {
	Fetch(ctx context.Context, source string) (data []byte, mimeType string, err error)
}

// FileUploader registers bytes with the model provider.
type FileUploader interface {
	Upload(ctx context.Context, data []byte, mimeType, displayName string) (model.FileRef, error)
}

// RegionRenderer rasterizes region of page (1-based) at dpi into a PNG.
type RegionRenderer interface {
	Render(ctx context.Context, src []byte, mimeType string, page int, region model.BBox, dpi int) ([]byte, error)
}
