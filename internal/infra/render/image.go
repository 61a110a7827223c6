package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"docqa-engine/internal/domain/model"
)

// ImageBaseDPI is the resolution assumed for raster sources, which carry no
// physical size of their own.
const ImageBaseDPI = 150

// ImageRenderer crops and rescales raster sources.
type ImageRenderer struct {
	maxPixels int
}

func NewImageRenderer(maxPixels int) *ImageRenderer {
	return &ImageRenderer{maxPixels: maxPixels}
}

// Render ignores page; a raster source has exactly one.
func (r *ImageRenderer) Render(ctx context.Context, src []byte, mimeType string, page int, region model.BBox, dpi int) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mimeType, err)
	}
	b := img.Bounds()
	x, y, cw, ch := pixelRect(b.Dx(), b.Dy(), region)
	if cw <= 0 || ch <= 0 {
		return nil, fmt.Errorf("region %+v is empty on a %dx%d image", region, b.Dx(), b.Dy())
	}
	crop := image.Rect(b.Min.X+x, b.Min.Y+y, b.Min.X+x+cw, b.Min.Y+y+ch)

	scale := float64(dpi) / ImageBaseDPI
	w, h := fitPixels(max(1, int(float64(cw)*scale)), max(1, int(float64(ch)*scale)), r.maxPixels)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	scaler := draw.Interpolator(draw.CatmullRom)
	if w < cw {
		scaler = draw.ApproxBiLinear
	}
	scaler.Scale(dst, dst.Bounds(), img, crop, draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode %s crop: %w", format, err)
	}
	return buf.Bytes(), nil
}
