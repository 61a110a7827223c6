// Package render rasterizes regions of evidence documents for the model.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"docqa-engine/internal/config"
	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/adapter"
	"docqa-engine/internal/infra/metrics"
)

var ErrUnsupportedSource = errors.New("unsupported source type for region rendering")

var _ adapter.RegionRenderer = (*Renderer)(nil)

// Renderer dispatches to the PDF or raster renderer by media type.
type Renderer struct {
	pdf   adapter.RegionRenderer
	image adapter.RegionRenderer
}

func New(cfg config.RenderConfig) *Renderer {
	return &Renderer{
		pdf:   NewPDFRenderer(cfg.PdftoppmPath, cfg.MaxPixels),
		image: NewImageRenderer(cfg.MaxPixels),
	}
}

func (r *Renderer) Render(ctx context.Context, src []byte, mimeType string, page int, region model.BBox, dpi int) ([]byte, error) {
	kind := sourceKind(mimeType, src)
	var impl adapter.RegionRenderer
	switch kind {
	case "pdf":
		impl = r.pdf
	case "image":
		impl = r.image
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, mimeType)
	}

	start := time.Now()
	out, err := impl.Render(ctx, src, mimeType, page, region, dpi)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ObserveRender(kind, outcome, time.Since(start))
	return out, err
}

func sourceKind(mimeType string, src []byte) string {
	mt := strings.ToLower(mimeType)
	switch {
	case mt == "application/pdf":
		return "pdf"
	case strings.HasPrefix(mt, "image/"):
		return "image"
	case bytes.HasPrefix(src, []byte("%PDF-")):
		return "pdf"
	}
	return ""
}

// pixelRect maps fractional bbox onto a w×h raster.
func pixelRect(w, h int, b model.BBox) (x, y, cw, ch int) {
	x0 := int(math.Floor(b.X1 * float64(w)))
	y0 := int(math.Floor(b.Y1 * float64(h)))
	x1 := int(math.Ceil(b.X2 * float64(w)))
	y1 := int(math.Ceil(b.Y2 * float64(h)))
	x0, x1 = clampInt(x0, 0, w), clampInt(x1, 0, w)
	y0, y1 = clampInt(y0, 0, h), clampInt(y1, 0, h)
	return x0, y0, x1 - x0, y1 - y0
}

// fitPixels shrinks w×h uniformly until it holds at most maxPixels.
func fitPixels(w, h, maxPixels int) (int, int) {
	if maxPixels <= 0 || w*h <= maxPixels {
		return w, h
	}
	f := math.Sqrt(float64(maxPixels) / float64(w*h))
	return max(1, int(float64(w)*f)), max(1, int(float64(h)*f))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
