package crop

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register WebP decoder
)

// MaxSourcePixels bounds the decoded size of a source image.
const MaxSourcePixels = 80_000_000

// SourceImage is a decoded photo with its natural size. The pixel data is
// never modified after construction.
type SourceImage struct {
	img    image.Image
	format string
	width  int
	height int
}

// LoadSource decodes an image from r, applying the EXIF orientation so the
// natural size matches what the user sees.
func LoadSource(r io.Reader) (*SourceImage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read image: %v", ErrSourceUnavailable, err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image header: %v", ErrSourceUnavailable, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrSourceUnavailable, cfg.Width, cfg.Height)
	}
	if cfg.Width*cfg.Height > MaxSourcePixels {
		return nil, fmt.Errorf("%w: image too large (%dx%d)", ErrSourceUnavailable, cfg.Width, cfg.Height)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode image: %v", ErrSourceUnavailable, err)
	}

	src := NewSource(img)
	src.format = format
	return src, nil
}

// LoadSourceFile opens and decodes the image at path.
func LoadSourceFile(path string) (*SourceImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open file %s: %v", ErrSourceUnavailable, path, err)
	}
	defer f.Close()
	return LoadSource(f)
}

// NewSource wraps an already decoded image.
func NewSource(img image.Image) *SourceImage {
	b := img.Bounds()
	return &SourceImage{
		img:    img,
		width:  b.Dx(),
		height: b.Dy(),
	}
}

func (s *SourceImage) Width() int {
	return s.width
}

func (s *SourceImage) Height() int {
	return s.height
}

// Format is the name of the decoder that read the image, e.g. "jpeg".
// It is empty for images built with NewSource.
func (s *SourceImage) Format() string {
	return s.format
}

// Image returns the decoded pixels. Callers must not modify them.
func (s *SourceImage) Image() image.Image {
	return s.img
}
