// Package imaging decodes, resizes and re-encodes images.
//
// JPEG sources are re-encoded as JPEG with the requested quality, everything
// else is re-encoded as PNG.
package imaging

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"math"

	errs "github.com/jmgilman/go/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxSourcePixels = 50_000_000
	MaxDimension           = 16384

	ContentTypePNG  = "image/png"
	ContentTypeJPEG = "image/jpeg"
)

type Params struct {
	// Width and Height of the result, zero means "derive from
	// the other dimension preserving the aspect ratio"
	Width  uint32
	Height uint32

	// Quality of the JPEG encoder, 1 to 100
	Quality int
}

type Result struct {
	Data           []byte
	ContentType    string
	OriginalWidth  int
	OriginalHeight int
}

type Processor interface {
	Process(ctx context.Context, raw []byte, params Params) (*Result, error)
}

type Resizer struct {
	maxSourcePixels int
}

type Option func(resizer *Resizer)

func WithMaxSourcePixels(maxSourcePixels int) Option {
	return func(resizer *Resizer) {
		resizer.maxSourcePixels = maxSourcePixels
	}
}

func New(opts ...Option) *Resizer {
	resizer := &Resizer{
		maxSourcePixels: DefaultMaxSourcePixels,
	}

	for _, opt := range opts {
		opt(resizer)
	}

	return resizer
}

func (resizer *Resizer) Process(ctx context.Context, raw []byte, params Params) (*Result, error) {
	// Check the dimensions first to avoid allocating memory for decompression bombs
	config, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeInvalidInput, "failed to recognize the image")
	}

	if resizer.maxSourcePixels > 0 && config.Width*config.Height > resizer.maxSourcePixels {
		return nil, errs.Newf(errs.CodeInvalidInput, "image of %dx%d pixels is larger than %d pixels",
			config.Width, config.Height, resizer.maxSourcePixels)
	}

	width, height, err := targetDimensions(config.Width, config.Height, params)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errs.Wrapf(err, errs.CodeInvalidInput, "failed to decode %s image", format)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	contentType := ContentTypePNG

	switch format {
	case "jpeg":
		contentType = ContentTypeJPEG

		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: params.Quality})
	default:
		err = png.Encode(&buf, dst)
	}
	if err != nil {
		return nil, errs.Wrapf(err, errs.CodeExecutionFailed, "failed to encode the resized image as %s",
			contentType)
	}

	return &Result{
		Data:           buf.Bytes(),
		ContentType:    contentType,
		OriginalWidth:  config.Width,
		OriginalHeight: config.Height,
	}, nil
}

func targetDimensions(srcWidth int, srcHeight int, params Params) (int, int, error) {
	if params.Width == 0 && params.Height == 0 {
		return 0, 0, errs.New(errs.CodeExecutionFailed, "invalid target dimensions: "+
			"at least one of width and height should be non-zero")
	}

	if srcWidth == 0 || srcHeight == 0 {
		return 0, 0, errs.Newf(errs.CodeExecutionFailed, "cannot resize an image of %dx%d pixels",
			srcWidth, srcHeight)
	}

	width, height := int(params.Width), int(params.Height)

	switch {
	case width == 0:
		width = max(1, int(math.Round(float64(srcWidth)*float64(height)/float64(srcHeight))))
	case height == 0:
		height = max(1, int(math.Round(float64(srcHeight)*float64(width)/float64(srcWidth))))
	}

	if width > MaxDimension || height > MaxDimension {
		return 0, 0, errs.Newf(errs.CodeExecutionFailed, "invalid target dimensions %dx%d: "+
			"maximum is %d pixels per side", width, height, MaxDimension)
	}

	return width, height, nil
}
