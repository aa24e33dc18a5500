// Package storage fetches media bytes from wherever the backend put them:
// plain HTTP(S) URLs, DigitalOcean Spaces/S3 objects, or local files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

var ErrUnsupportedURL = errors.New("storage: unsupported media url")

// Object is an open media stream. Callers must close Body.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Object, error)
}

// LocalFetcher serves file:// URLs and bare paths below a root directory.
type LocalFetcher struct {
	root string
}

func NewLocalFetcher(root string) *LocalFetcher {
	return &LocalFetcher{root: root}
}

func (lf *LocalFetcher) Fetch(_ context.Context, rawURL string) (*Object, error) {
	p := strings.TrimPrefix(rawURL, "file://")
	if !filepath.IsAbs(p) {
		p = filepath.Join(lf.root, p)
	}
	p = filepath.Clean(p)
	if lf.root != "" {
		root, _ := filepath.Abs(lf.root)
		abs, _ := filepath.Abs(p)
		if !strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return nil, fmt.Errorf("%w: %s is outside %s", ErrUnsupportedURL, rawURL, lf.root)
		}
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open media file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat media file: %w", err)
	}
	return &Object{Body: f, ContentType: getContentType(p), Size: st.Size()}, nil
}

// Router picks a fetcher by URL scheme. Spaces-hosted URLs (s3:// or the
// configured CDN prefix) go to the Spaces fetcher when one is configured.
type Router struct {
	HTTP   Fetcher
	Spaces *SpacesFetcher
	Local  Fetcher
}

func (r *Router) Fetch(ctx context.Context, rawURL string) (*Object, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedURL, err)
	}

	var f Fetcher
	switch {
	case u.Scheme == "s3":
		if r.Spaces == nil {
			return nil, fmt.Errorf("%w: %s (spaces not configured)", ErrUnsupportedURL, rawURL)
		}
		f = r.Spaces
	case (u.Scheme == "http" || u.Scheme == "https") && r.Spaces != nil && r.Spaces.Owns(rawURL):
		f = r.Spaces
	case u.Scheme == "http" || u.Scheme == "https":
		f = r.HTTP
	case u.Scheme == "file" || u.Scheme == "":
		f = r.Local
	}
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedURL, rawURL)
	}

	obj, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if obj.ContentType == "" || obj.ContentType == "application/octet-stream" {
		obj.ContentType = getContentType(u.Path)
	}
	log.Debug().Str("url", rawURL).Str("content_type", obj.ContentType).Int64("size", obj.Size).Msg("media fetch started")
	return obj, nil
}

func getContentType(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".avi":
		return "video/x-msvideo"
	case ".mov":
		return "video/quicktime"
	default:
		return "application/octet-stream"
	}
}
