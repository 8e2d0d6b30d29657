// Package media provides best-effort photo compression for offline
// submissions.
package media

import (
	"bytes"
	"context"
	"fmt"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/kimhsiao/storysync/internal/logging"
)

// Compressor shrinks a photo before it is stored for later upload.
type Compressor interface {
	Compress(ctx context.Context, data []byte) ([]byte, error)
}

// Noop returns photos unchanged.
type Noop struct{}

// Compress returns data as is.
func (Noop) Compress(_ context.Context, data []byte) ([]byte, error) {
	return data, nil
}

// Options bounds the output of ImagingCompressor.
type Options struct {
	// MaxDimension caps both width and height, in pixels.
	MaxDimension int
	// MaxBytes is the target size. Quality is lowered until the output fits
	// or MinQuality is reached.
	MaxBytes int
	// Quality is the initial JPEG quality (1-100).
	Quality int
	// MinQuality is the lowest JPEG quality tried.
	MinQuality int
}

// DefaultOptions are 1920px, 1 MiB, quality 85.
func DefaultOptions() Options {
	return Options{
		MaxDimension: 1920,
		MaxBytes:     1 << 20,
		Quality:      85,
		MinQuality:   45,
	}
}

// ImagingCompressor resizes and re-encodes photos as JPEG.
type ImagingCompressor struct {
	opts Options
}

// NewImagingCompressor creates an ImagingCompressor. Zero fields take their
// DefaultOptions value.
func NewImagingCompressor(opts Options) *ImagingCompressor {
	def := DefaultOptions()
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = def.MaxDimension
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = def.MaxBytes
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = def.Quality
	}
	if opts.MinQuality <= 0 || opts.MinQuality > opts.Quality {
		opts.MinQuality = min(def.MinQuality, opts.Quality)
	}
	return &ImagingCompressor{opts: opts}
}

// Compress returns a smaller rendition of data. Photos already within both
// limits are returned unchanged, as is any result that would not be
// smaller than the input.
func (c *ImagingCompressor) Compress(ctx context.Context, data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	if len(data) <= c.opts.MaxBytes && b.Dx() <= c.opts.MaxDimension && b.Dy() <= c.opts.MaxDimension {
		return data, nil
	}

	if b.Dx() > c.opts.MaxDimension || b.Dy() > c.opts.MaxDimension {
		img = imaging.Fit(img, c.opts.MaxDimension, c.opts.MaxDimension, imaging.Lanczos)
	}

	var out []byte
	for q := c.opts.Quality; q >= c.opts.MinQuality; q -= 10 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
		out = buf.Bytes()
		if len(out) <= c.opts.MaxBytes {
			break
		}
	}

	if len(out) >= len(data) {
		return data, nil
	}
	return out, nil
}

// BestEffort runs c and falls back to the original photo on any failure.
func BestEffort(ctx context.Context, c Compressor, data []byte) []byte {
	if c == nil {
		return data
	}
	out, err := c.Compress(ctx, data)
	if err != nil || len(out) == 0 {
		fields := map[string]interface{}{"size": len(data)}
		if err != nil {
			fields["error"] = err.Error()
		}
		logging.Warn("Image compression failed, using original", fields)
		return data
	}
	return out
}
