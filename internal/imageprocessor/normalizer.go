package imageprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

var (
	// ErrDecode reports an upload that is not a readable JPEG or PNG image.
	ErrDecode = errors.New("imageprocessor: cannot decode image")
	// ErrTooLarge reports a readable image whose dimensions exceed the pixel budget.
	ErrTooLarge = errors.New("imageprocessor: image exceeds pixel limit")
	// ErrConfiguration reports an invalid normalizer setting.
	ErrConfiguration = errors.New("imageprocessor: invalid configuration")
)

// Layout is the axis order of a normalized tensor.
type Layout string

const (
	// LayoutNHWC is batch, height, width, channel (Keras).
	LayoutNHWC Layout = "nhwc"
	// LayoutNCHW is batch, channel, height, width.
	LayoutNCHW Layout = "nchw"
)

// DefaultEdge is the side length the deployed model was trained on.
const DefaultEdge = 128

// DefaultMaxPixels bounds the decoded size of an upload.
const DefaultMaxPixels = 40_000_000

const channels = 3

var supportedFormats = map[string]bool{"jpeg": true, "png": true}

var allowedExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Tensor is a single-element batch of RGB values scaled to [0,1].
type Tensor struct {
	Shape  []int64
	Data   []float32
	Layout Layout
}

// Edge returns the spatial side length of the tensor.
func (t *Tensor) Edge() int {
	if len(t.Shape) != 4 {
		return 0
	}
	if t.Layout == LayoutNCHW {
		return int(t.Shape[2])
	}
	return int(t.Shape[1])
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLayout sets the tensor axis order.
func WithLayout(layout Layout) Option {
	return func(n *Normalizer) { n.layout = layout }
}

// WithMaxPixels sets the largest width*height accepted by Decode.
func WithMaxPixels(max int) Option {
	return func(n *Normalizer) { n.maxPixels = max }
}

// Normalizer turns uploaded images into fixed-size tensors. Resampling is
// bilinear and does not depend on input size, so equal inputs always yield
// equal tensors.
type Normalizer struct {
	edge      int
	layout    Layout
	maxPixels int
}

// NewNormalizer builds a normalizer producing edge x edge tensors.
func NewNormalizer(edge int, opts ...Option) (*Normalizer, error) {
	n := &Normalizer{edge: edge, layout: LayoutNHWC, maxPixels: DefaultMaxPixels}
	for _, opt := range opts {
		opt(n)
	}
	if n.edge <= 0 {
		return nil, fmt.Errorf("%w: edge must be positive, got %d", ErrConfiguration, n.edge)
	}
	if n.layout != LayoutNHWC && n.layout != LayoutNCHW {
		return nil, fmt.Errorf("%w: unknown layout %q", ErrConfiguration, n.layout)
	}
	if n.maxPixels <= 0 {
		return nil, fmt.Errorf("%w: max pixels must be positive, got %d", ErrConfiguration, n.maxPixels)
	}
	return n, nil
}

// Edge returns the configured side length.
func (n *Normalizer) Edge() int { return n.edge }

// Layout returns the configured axis order.
func (n *Normalizer) Layout() Layout { return n.layout }

// Shape returns the tensor shape produced by Normalize.
func (n *Normalizer) Shape() []int64 {
	e := int64(n.edge)
	if n.layout == LayoutNCHW {
		return []int64{1, channels, e, e}
	}
	return []int64{1, e, e, channels}
}

// Decode reads a JPEG or PNG upload, applying EXIF orientation. The header is
// checked against the pixel budget before any pixel data is decoded; images
// over it fail with ErrTooLarge, not ErrDecode.
func (n *Normalizer) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if !supportedFormats[format] {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrDecode, format)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if cfg.Width*cfg.Height > n.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, n.maxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// Normalize drops alpha, resizes img to edge x edge and scales channels to
// [0,1]. Alpha is discarded before resampling; colour is never composited.
func (n *Normalizer) Normalize(img image.Image) (*Tensor, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrDecode)
	}

	rgb := imaging.Clone(img)
	for i := 3; i < len(rgb.Pix); i += 4 {
		rgb.Pix[i] = 0xff
	}
	size := uint(n.edge)
	resized := resize.Resize(size, size, rgb, resize.Bilinear)

	bounds := resized.Bounds()
	plane := n.edge * n.edge
	data := make([]float32, channels*plane)
	for y := 0; y < n.edge; y++ {
		for x := 0; x < n.edge; x++ {
			c := color.NRGBAModel.Convert(resized.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			r := float32(c.R) / 255.0
			g := float32(c.G) / 255.0
			b := float32(c.B) / 255.0

			pixel := y*n.edge + x
			if n.layout == LayoutNCHW {
				data[pixel] = r
				data[plane+pixel] = g
				data[2*plane+pixel] = b
				continue
			}
			base := pixel * channels
			data[base] = r
			data[base+1] = g
			data[base+2] = b
		}
	}

	return &Tensor{Shape: n.Shape(), Data: data, Layout: n.layout}, nil
}

// NormalizeBytes decodes and normalizes an upload in one step.
func (n *Normalizer) NormalizeBytes(data []byte) (*Tensor, error) {
	img, err := n.Decode(data)
	if err != nil {
		return nil, err
	}
	return n.Normalize(img)
}

// AllowedExtension reports whether filename carries an accepted image extension.
func AllowedExtension(filename string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(filename))]
}
