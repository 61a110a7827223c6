package render

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"

	"github.com/ledongthuc/pdf"

	"docqa-engine/internal/domain/model"
)

// PageSize is a page's displayed size in points, after /Rotate.
type PageSize struct {
	Width, Height float64
}

// PageGeometry reads page (1-based) dimensions from a PDF.
func PageGeometry(src []byte, page int) (size PageSize, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("malformed pdf: %v", rec)
		}
	}()

	rd, err := pdf.NewReader(bytes.NewReader(src), int64(len(src)))
	if err != nil {
		return PageSize{}, fmt.Errorf("open pdf: %w", err)
	}
	if page < 1 || page > rd.NumPage() {
		return PageSize{}, fmt.Errorf("page %d out of range (document has %d)", page, rd.NumPage())
	}
	p := rd.Page(page)
	if p.V.IsNull() {
		return PageSize{}, fmt.Errorf("page %d not found", page)
	}

	box := inherited(p.V, "MediaBox")
	if box.Kind() != pdf.Array || box.Len() != 4 {
		return PageSize{}, fmt.Errorf("page %d has no media box", page)
	}
	w := math.Abs(box.Index(2).Float64() - box.Index(0).Float64())
	h := math.Abs(box.Index(3).Float64() - box.Index(1).Float64())
	if w <= 0 || h <= 0 {
		return PageSize{}, fmt.Errorf("page %d has an empty media box", page)
	}

	rot := inherited(p.V, "Rotate").Int64() % 360
	if rot < 0 {
		rot += 360
	}
	if rot == 90 || rot == 270 {
		w, h = h, w
	}
	return PageSize{Width: w, Height: h}, nil
}

func inherited(v pdf.Value, key string) pdf.Value {
	for depth := 0; depth < 32 && !v.IsNull(); depth++ {
		if k := v.Key(key); !k.IsNull() {
			return k
		}
		v = v.Key("Parent")
	}
	return pdf.Value{}
}

type runFunc func(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)

// PDFRenderer crops a page region through poppler's pdftoppm.
type PDFRenderer struct {
	bin       string
	maxPixels int
	run       runFunc
}

func NewPDFRenderer(bin string, maxPixels int) *PDFRenderer {
	if bin == "" {
		bin = "pdftoppm"
	}
	return &PDFRenderer{bin: bin, maxPixels: maxPixels, run: execRun}
}

func (r *PDFRenderer) Render(ctx context.Context, src []byte, mimeType string, page int, region model.BBox, dpi int) ([]byte, error) {
	size, err := PageGeometry(src, page)
	if err != nil {
		return nil, err
	}
	dpi = r.fitDPI(size, region, dpi)
	args := cropArgs(size, page, region, dpi)
	if args == nil {
		return nil, fmt.Errorf("region %+v is empty on page %d", region, page)
	}

	out, err := r.run(ctx, r.bin, args, src)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s produced no image for page %d", r.bin, page)
	}
	return out, nil
}

// fitDPI lowers dpi until the crop fits the pixel budget.
func (r *PDFRenderer) fitDPI(size PageSize, region model.BBox, dpi int) int {
	if r.maxPixels <= 0 {
		return dpi
	}
	_, _, cw, ch := pixelRect(pagePixels(size.Width, dpi), pagePixels(size.Height, dpi), region)
	if cw*ch <= r.maxPixels {
		return dpi
	}
	f := math.Sqrt(float64(r.maxPixels) / float64(cw*ch))
	return max(1, int(float64(dpi)*f))
}

func cropArgs(size PageSize, page int, region model.BBox, dpi int) []string {
	x, y, cw, ch := pixelRect(pagePixels(size.Width, dpi), pagePixels(size.Height, dpi), region)
	if cw <= 0 || ch <= 0 {
		return nil
	}
	p := strconv.Itoa(page)
	return []string{
		"-f", p, "-l", p,
		"-r", strconv.Itoa(dpi),
		"-x", strconv.Itoa(x), "-y", strconv.Itoa(y),
		"-W", strconv.Itoa(cw), "-H", strconv.Itoa(ch),
		"-png", "-singlefile",
		"-",
	}
}

func pagePixels(points float64, dpi int) int {
	return int(math.Round(points / 72 * float64(dpi)))
}

func execRun(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
