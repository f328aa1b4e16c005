// Package images materializes remote cover images into the content-addressable
// store: validate, download, transform, hash, upload. Storage outages degrade
// to a CDN-transform URL; an unreachable or invalid source image is a hard
// failure so callers can substitute a placeholder.
package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"newsingest/internal/apperr"
	"newsingest/internal/blob"
	"newsingest/internal/slug"
)

const downloadUserAgent = "newsingest-imagebot/1.0"

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".tiff": true, ".avif": true,
}

// ProcessOptions are the transform parameters for one image.
type ProcessOptions struct {
	Width   int
	Height  int
	Quality int
	Format  string // jpeg|png|webp
}

// Result is the outcome of a successful Process call. Fallback marks results
// that point at the CDN-transform URL because the upload failed.
type Result struct {
	URL         string
	Path        string
	Width       int
	Height      int
	MimeType    string
	ContentHash string
	Filesize    int64
	Fallback    bool
}

// Pipeline downloads, transforms and uploads article images.
type Pipeline struct {
	http       *resty.Client
	store      blob.Store
	cdnBaseURL string
	// replacements is an ordered pattern→URL list applied before validation,
	// used to swap known filler images for curated ones.
	replacements [][2]string
	log          zerolog.Logger
}

// Config wires a Pipeline.
type Config struct {
	Store        blob.Store
	CDNBaseURL   string
	Replacements [][2]string
	Timeout      time.Duration
}

// NewPipeline builds the image pipeline.
func NewPipeline(cfg Config, log zerolog.Logger) *Pipeline {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Pipeline{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", downloadUserAgent).
			SetHeader("Accept", "image/*"),
		store:        cfg.Store,
		cdnBaseURL:   strings.TrimSuffix(cfg.CDNBaseURL, "/"),
		replacements: cfg.Replacements,
		log:          log.With().Str("component", "images").Logger(),
	}
}

// Process runs the full pipeline for one image URL. Only validation and
// download failures return an error; an upload failure degrades to the
// CDN-transform fallback URL so the caller still gets a usable image.
func (p *Pipeline) Process(ctx context.Context, imageURL, title string, opts ProcessOptions) (*Result, error) {
	imageURL = p.substitute(imageURL)

	if err := validateURL(imageURL); err != nil {
		return nil, err
	}

	raw, err := p.download(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	srcW, srcH := decodeConfig(raw)

	encoded, w, h, err := transform(raw, opts.Width, opts.Height, opts.Quality, opts.Format)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(encoded)
	hash := hex.EncodeToString(sum[:])
	key := fmt.Sprintf("%s-%s.%s", slug.Make(title), hash[:8], extensions[opts.Format])

	result := &Result{
		Path:        key,
		Width:       w,
		Height:      h,
		MimeType:    mimeTypes[opts.Format],
		ContentHash: hash,
		Filesize:    int64(len(encoded)),
	}

	metadata := map[string]string{
		"original-url": imageURL,
		"processed-at": time.Now().UTC().Format(time.RFC3339),
		"width":        strconv.Itoa(w),
		"height":       strconv.Itoa(h),
	}
	if err := p.store.Set(ctx, key, encoded, result.MimeType, metadata); err != nil {
		// The source image was reachable and valid; a storage outage must
		// not lose it. Serve the original through the CDN transform instead.
		p.log.Warn().
			Err(err).
			Str("key", key).
			Str("image_url", imageURL).
			Msg("image upload failed, falling back to CDN transform URL")
		result.URL = p.FallbackURL(imageURL, opts)
		result.Path = ""
		result.Fallback = true
		return result, nil
	}

	p.log.Debug().
		Str("key", key).
		Int("src_width", srcW).
		Int("src_height", srcH).
		Int("width", w).
		Int("height", h).
		Int64("bytes", result.Filesize).
		Msg("image uploaded")

	result.URL = p.store.PublicURL(key)
	return result, nil
}

// FallbackURL builds a direct CDN-transform URL for the original image with
// the same transform parameters. Without a configured CDN base the original
// URL passes through untouched.
func (p *Pipeline) FallbackURL(imageURL string, opts ProcessOptions) string {
	if p.cdnBaseURL == "" {
		return imageURL
	}
	return fmt.Sprintf("%s/cdn-cgi/image/width=%d,height=%d,quality=%d,format=%s/%s",
		p.cdnBaseURL, opts.Width, opts.Height, opts.Quality, opts.Format, imageURL)
}

// substitute applies the configured filler-image replacements. The first
// matching pattern wins; an empty replacement keeps the original URL.
func (p *Pipeline) substitute(imageURL string) string {
	for _, pair := range p.replacements {
		if strings.Contains(imageURL, pair[0]) && pair[1] != "" {
			return pair[1]
		}
	}
	return imageURL
}

func (p *Pipeline) download(ctx context.Context, imageURL string) ([]byte, error) {
	resp, err := p.http.R().SetContext(ctx).Get(imageURL)
	if err != nil {
		return nil, &apperr.ImageFetchError{URL: imageURL, Err: err}
	}
	if resp.StatusCode() != 200 {
		return nil, &apperr.ImageFetchError{URL: imageURL, Err: fmt.Errorf("status %d", resp.StatusCode())}
	}

	contentType := resp.Header().Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, &apperr.InvalidImageTypeError{URL: imageURL, Reason: "content-type " + contentType}
	}
	if len(resp.Body()) == 0 {
		return nil, &apperr.ImageFetchError{URL: imageURL, Err: fmt.Errorf("empty body")}
	}
	return resp.Body(), nil
}

// validateURL rejects non-http(s) URLs outright and applies a loose image
// heuristic to the rest, so obviously wrong URLs never trigger a download.
func validateURL(imageURL string) error {
	u, err := url.Parse(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &apperr.InvalidImageTypeError{URL: imageURL, Reason: "not an http(s) URL"}
	}

	if imageExtensions[strings.ToLower(path.Ext(u.Path))] {
		return nil
	}
	// No recognized extension: accept URLs that plausibly serve images
	// (media paths, transform endpoints, format hints in the query).
	lower := strings.ToLower(u.Path + "?" + u.RawQuery)
	for _, hint := range []string{"image", "img", "media", "photo", "upload", "format=", "cdn"} {
		if strings.Contains(lower, hint) {
			return nil
		}
	}
	return &apperr.InvalidImageTypeError{URL: imageURL, Reason: "no image extension or hint"}
}
