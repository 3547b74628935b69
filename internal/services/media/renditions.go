package media

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/valyala/bytebufferpool"
	_ "golang.org/x/image/webp"
)

const (
	PreviewWidth = 300
	SquareSize   = 300

	renditionQuality = 85

	// MaxStillPixels bounds width*height before a still is decoded.
	MaxStillPixels = 40_000_000
)

// Rendition is one encoded derived image. Its buffer comes from a pool and
// is only valid until the owning RenditionSet is released.
type Rendition struct {
	Width  int
	Height int
	buf    *bytebufferpool.ByteBuffer
}

func (r *Rendition) Bytes() []byte {
	if r == nil || r.buf == nil {
		return nil
	}
	return r.buf.B
}

func (r *Rendition) Reader() *bytes.Reader {
	return bytes.NewReader(r.Bytes())
}

func (r *Rendition) release() {
	if r == nil || r.buf == nil {
		return
	}
	bytebufferpool.Put(r.buf)
	r.buf = nil
}

// RenditionSet holds the decoded still and its derived renditions for the
// duration of one ingestion.
type RenditionSet struct {
	Original      image.Image
	Preview       *Rendition
	SquarePreview *Rendition
}

func (s *RenditionSet) Width() int {
	if s == nil || s.Original == nil {
		return 0
	}
	return s.Original.Bounds().Dx()
}

func (s *RenditionSet) Height() int {
	if s == nil || s.Original == nil {
		return 0
	}
	return s.Original.Bounds().Dy()
}

// Release returns the encoded buffers to the pool. Safe to call twice.
func (s *RenditionSet) Release() {
	if s == nil {
		return
	}
	s.Preview.release()
	s.SquarePreview.release()
	s.Original = nil
}

// Released reports whether every pooled buffer has been returned.
func (s *RenditionSet) Released() bool {
	if s == nil {
		return true
	}
	return s.Original == nil && s.Preview.Bytes() == nil && s.SquarePreview.Bytes() == nil
}

// DeriveStill decodes JPEG, PNG, GIF (first frame), BMP, TIFF or WebP bytes.
// Images whose header declares more than MaxStillPixels are rejected before
// any pixel data is allocated.
func DeriveStill(r io.Reader) (image.Image, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil image stream", ErrStreamUnreadable)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read still: %v", ErrStreamUnreadable, err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode still header: %v", ErrUnsupportedMedia, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: still has no pixels (%dx%d)", ErrUnsupportedMedia, cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxStillPixels {
		return nil, fmt.Errorf("%w: still is %dx%d, limit is %d pixels", ErrUnsupportedMedia, cfg.Width, cfg.Height, MaxStillPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decode still: %v", ErrUnsupportedMedia, err)
	}
	return img, nil
}

// BuildPreview scales img to PreviewWidth keeping the aspect ratio. Narrower
// sources are copied as they are.
func BuildPreview(img image.Image) *image.NRGBA {
	if img.Bounds().Dx() <= PreviewWidth {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, PreviewWidth, 0, imaging.Lanczos)
}

// BuildSquarePreview crops the center of an already scaled preview to
// SquareSize x SquareSize.
func BuildSquarePreview(preview image.Image) *image.NRGBA {
	return imaging.Fill(preview, SquareSize, SquareSize, imaging.Center, imaging.Lanczos)
}

func Render(still image.Image) (*RenditionSet, error) {
	if still == nil {
		return nil, fmt.Errorf("%w: nil still image", ErrUnsupportedMedia)
	}
	if still.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty still image", ErrUnsupportedMedia)
	}

	set := &RenditionSet{Original: still}

	preview := BuildPreview(still)
	encoded, err := encodeRendition(preview)
	if err != nil {
		set.Release()
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	set.Preview = encoded

	encoded, err = encodeRendition(BuildSquarePreview(preview))
	if err != nil {
		set.Release()
		return nil, fmt.Errorf("encode square preview: %w", err)
	}
	set.SquarePreview = encoded

	return set, nil
}

func encodeRendition(img *image.NRGBA) (*Rendition, error) {
	buf := bytebufferpool.Get()
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(renditionQuality)); err != nil {
		bytebufferpool.Put(buf)
		return nil, err
	}
	return &Rendition{
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
		buf:    buf,
	}, nil
}
