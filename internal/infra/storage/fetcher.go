// Package storage downloads evidence objects and registers them with the
// model provider.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"docqa-engine/internal/domain/ports/adapter"
)

// MaxObjectBytes caps a single download.
const MaxObjectBytes = 256 << 20

var ErrObjectTooLarge = errors.New("object exceeds size limit")

var _ adapter.ObjectFetcher = (*HTTPFetcher)(nil)

// HTTPFetcher reads objects either from an absolute URL or from a storage key
// resolved against a public bucket URL.
type HTTPFetcher struct {
	client  *http.Client
	baseURL string
}

func NewHTTPFetcher(publicBaseURL string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPFetcher{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// URLFor resolves a catalog source into a downloadable URL.
func (f *HTTPFetcher) URLFor(source string) (string, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return source, nil
	}
	if f.baseURL == "" {
		return "", fmt.Errorf("no public base url configured for key %q", source)
	}
	segs := strings.Split(strings.TrimLeft(source, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return f.baseURL + "/" + strings.Join(segs, "/"), nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, source string) ([]byte, string, error) {
	u, err := f.URLFor(source)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", fmt.Errorf("download %s: unexpected status %d", source, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxObjectBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", source, err)
	}
	if len(data) > MaxObjectBytes {
		return nil, "", fmt.Errorf("download %s: %w", source, ErrObjectTooLarge)
	}
	return data, detectMIME(resp.Header.Get("Content-Type"), source, data), nil
}

func detectMIME(header, source string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "" && mt != "application/octet-stream" {
		return mt
	}
	if mt := mime.TypeByExtension(strings.ToLower(path.Ext(source))); mt != "" {
		mt, _, _ = mime.ParseMediaType(mt)
		return mt
	}
	return http.DetectContentType(data)
}
