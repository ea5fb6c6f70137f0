// Package transcode normalizes downloaded images into the canonical format
// and width buckets.
package transcode

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"sort"

	// Registered source formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gen2brain/webp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/JakeFAU/geohints-scraper/internal/pipeline"
)

// Defaults mirror the published renditions.
const (
	DefaultOriginalQuality = 95
	DefaultVariantQuality  = 82
	DefaultMaxPixels       = 64_000_000
)

// DefaultWidths are the published width buckets.
var DefaultWidths = []int{400, 800, 1200}

// Encoder writes an image in one output format.
type Encoder interface {
	Encode(w io.Writer, img image.Image, quality int) error
	Extension() string
	ContentType() string
}

// WebPEncoder encodes lossy WEBP.
type WebPEncoder struct {
	// Method trades speed for size, 0 (fast) to 6 (slow).
	Method int
}

// Encode implements Encoder.
func (e WebPEncoder) Encode(w io.Writer, img image.Image, quality int) error {
	if err := webp.Encode(w, img, webp.Options{Quality: quality, Method: e.Method}); err != nil {
		return fmt.Errorf("webp encode: %w", err)
	}
	return nil
}

// Extension implements Encoder.
func (WebPEncoder) Extension() string { return "webp" }

// ContentType implements Encoder.
func (WebPEncoder) ContentType() string { return "image/webp" }

// Config controls output quality and sizes.
type Config struct {
	OriginalQuality int
	VariantQuality  int
	Widths          []int
	// MaxPixels rejects sources larger than this before decoding them.
	MaxPixels int
}

// Transcoder implements pipeline.Transcoder.
type Transcoder struct {
	cfg     Config
	encoder Encoder
}

// New builds a Transcoder. A nil encoder selects WEBP.
func New(cfg Config, encoder Encoder) *Transcoder {
	if cfg.OriginalQuality <= 0 {
		cfg.OriginalQuality = DefaultOriginalQuality
	}
	if cfg.VariantQuality <= 0 {
		cfg.VariantQuality = DefaultVariantQuality
	}
	if len(cfg.Widths) == 0 {
		cfg.Widths = DefaultWidths
	}
	cfg.Widths = append([]int(nil), cfg.Widths...)
	sort.Ints(cfg.Widths)
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	if encoder == nil {
		encoder = WebPEncoder{Method: 4}
	}
	return &Transcoder{cfg: cfg, encoder: encoder}
}

// Extension returns the output file extension.
func (t *Transcoder) Extension() string { return t.encoder.Extension() }

// ContentType returns the output MIME type.
func (t *Transcoder) ContentType() string { return t.encoder.ContentType() }

// Widths returns the configured width buckets in ascending order.
func (t *Transcoder) Widths() []int { return append([]int(nil), t.cfg.Widths...) }

// Variants lists every rendition Process produces.
func (t *Transcoder) Variants() []pipeline.Variant {
	out := []pipeline.Variant{pipeline.VariantOriginal}
	for _, w := range t.cfg.Widths {
		out = append(out, pipeline.VariantForWidth(w))
	}
	return out
}

// Process decodes data and encodes the original plus one rendition per width
// bucket. A bucket wider than the source is encoded at the source width.
func (t *Transcoder) Process(data []byte) (pipeline.ProcessedImage, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return pipeline.ProcessedImage{}, &pipeline.ImageError{Message: "read image header", Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return pipeline.ProcessedImage{}, &pipeline.ImageError{Message: fmt.Sprintf("invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}
	if cfg.Width*cfg.Height > t.cfg.MaxPixels {
		return pipeline.ProcessedImage{}, &pipeline.ImageError{
			Message: fmt.Sprintf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, t.cfg.MaxPixels),
		}
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return pipeline.ProcessedImage{}, &pipeline.ImageError{Message: "decode " + format, Err: err}
	}
	bounds := src.Bounds()

	out := pipeline.ProcessedImage{
		Variants: make(map[pipeline.Variant][]byte, len(t.cfg.Widths)),
		Metadata: pipeline.Metadata{Width: bounds.Dx(), Height: bounds.Dy(), Format: format},
	}

	out.Original, err = t.encode(src, t.cfg.OriginalQuality)
	if err != nil {
		return pipeline.ProcessedImage{}, &pipeline.ImageError{Message: "encode original", Err: err}
	}

	for _, bucket := range t.cfg.Widths {
		resized := Resize(src, bucket)
		encoded, err := t.encode(resized, t.cfg.VariantQuality)
		if err != nil {
			return pipeline.ProcessedImage{}, &pipeline.ImageError{Message: fmt.Sprintf("encode %dw", bucket), Err: err}
		}
		out.Variants[pipeline.VariantForWidth(bucket)] = encoded
	}
	return out, nil
}

func (t *Transcoder) encode(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.encoder.Encode(&buf, img, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TargetSize returns the dimensions of a rendition for a width bucket. The
// width never exceeds the source width and the height keeps the aspect
// ratio, rounded to the nearest pixel and at least 1.
func TargetSize(srcW, srcH, bucket int) (int, int) {
	w := bucket
	if w > srcW {
		w = srcW
	}
	h := (srcH*w + srcW/2) / srcW
	if h < 1 {
		h = 1
	}
	return w, h
}

// Resize scales src to the bucket width with Catmull-Rom resampling. Sources
// no wider than the bucket are returned unchanged.
func Resize(src image.Image, bucket int) image.Image {
	b := src.Bounds()
	w, h := TargetSize(b.Dx(), b.Dy(), bucket)
	if w == b.Dx() && h == b.Dy() {
		return src
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}
