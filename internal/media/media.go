// Package media attaches a course image to an imported content item.
//
// Attachment is best-effort: the importer logs a failure as a warning and
// still counts the course as imported.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lms-course-sync/internal/httpx"
)

// MetaThumbnailURL holds the public image URL on the content item.
const MetaThumbnailURL = "_thumbnail_url"

// MaxImageBytes caps downloaded images.
const MaxImageBytes = 10 << 20

var ErrNotImage = errors.New("media: response is not an image")

// Uploader stores an image and returns where it was written.
type Uploader interface {
	Upload(ctx context.Context, r io.Reader, name string) (string, error)
}

// MetaWriter is the slice of the content store the attacher needs.
type MetaWriter interface {
	SetMeta(ctx context.Context, id int64, key, value string) error
}

type Attacher struct {
	HTTP  *http.Client
	Retry httpx.RetryConfig

	meta MetaWriter
	up   Uploader
	// publicBase prefixes uploaded names. Empty means the uploader's path
	// is already public.
	publicBase string
	log        zerolog.Logger
}

// NewAttacher returns an attacher. With a nil uploader the remote image
// URL is recorded as-is and nothing is downloaded.
func NewAttacher(meta MetaWriter, up Uploader, publicBase string, log zerolog.Logger) *Attacher {
	return &Attacher{
		HTTP:       &http.Client{Timeout: 30 * time.Second},
		Retry:      httpx.RetryConfig{MaxAttempts: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 2 * time.Second, Retry5xx: true, MaxBodyBytes: MaxImageBytes},
		meta:       meta,
		up:         up,
		publicBase: strings.TrimRight(publicBase, "/"),
		log:        log,
	}
}

// Attach stores the image for remoteID and records its URL on localID.
// An empty imageURL is a no-op.
func (a *Attacher) Attach(ctx context.Context, localID, remoteID int64, imageURL string) (string, error) {
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		return "", nil
	}
	if a.up == nil {
		if err := a.meta.SetMeta(ctx, localID, MetaThumbnailURL, imageURL); err != nil {
			return "", err
		}
		return imageURL, nil
	}

	data, contentType, err := a.download(ctx, imageURL)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("course-%d%s", remoteID, extension(imageURL, contentType))
	stored, err := a.up.Upload(ctx, bytes.NewReader(data), name)
	if err != nil {
		return "", fmt.Errorf("media: upload %s: %w", name, err)
	}

	public := stored
	if a.publicBase != "" {
		public = a.publicBase + "/" + name
	}
	if err := a.meta.SetMeta(ctx, localID, MetaThumbnailURL, public); err != nil {
		return "", err
	}
	a.log.Debug().Int64("local_id", localID).Str("image", public).Int("bytes", len(data)).Msg("course image attached")
	return public, nil
}

func (a *Attacher) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	resp, body, err := httpx.DoWithRetry(ctx, a.HTTP, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	}, a.Retry)
	if err != nil {
		return nil, "", fmt.Errorf("media: download: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(body)
	}
	if !strings.HasPrefix(ct, "image/") {
		return nil, "", fmt.Errorf("%w: %s", ErrNotImage, ct)
	}
	return body, ct, nil
}

var extByType = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

func extension(imageURL, contentType string) string {
	if u, err := url.Parse(imageURL); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	mt, _, _ := strings.Cut(contentType, ";")
	if ext, ok := extByType[strings.TrimSpace(mt)]; ok {
		return ext
	}
	return ".img"
}

// DirUploader writes images into a local directory served by the site.
type DirUploader struct {
	Dir string
}

func (d DirUploader) Upload(ctx context.Context, r io.Reader, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("media: mkdir %s: %w", d.Dir, err)
	}
	target := filepath.Join(d.Dir, filepath.Base(name))
	tmp, err := os.CreateTemp(d.Dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("media: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("media: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("media: rename %s: %w", name, err)
	}
	return target, nil
}
