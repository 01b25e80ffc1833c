package crop

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

// Bitmap is a standalone cropped image together with its encoded bytes.
// It shares no memory with the source it was cut from.
type Bitmap struct {
	Image  *image.NRGBA
	Data   []byte
	Format imaging.Format
}

func (b *Bitmap) Width() int {
	return b.Image.Bounds().Dx()
}

func (b *Bitmap) Height() int {
	return b.Image.Bounds().Dy()
}

func (b *Bitmap) MIMEType() string {
	switch b.Format {
	case imaging.PNG:
		return "image/png"
	case imaging.GIF:
		return "image/gif"
	case imaging.TIFF:
		return "image/tiff"
	case imaging.BMP:
		return "image/bmp"
	default:
		return "image/jpeg"
	}
}

// DataURI returns the encoded bitmap as a base64 data URI.
func (b *Bitmap) DataURI() string {
	return "data:" + b.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(b.Data)
}

// Rasterizer cuts crop rectangles out of source images.
type Rasterizer struct {
	// Format of the encoded bitmap. Zero value is JPEG.
	Format imaging.Format
	// Quality is the JPEG quality. Zero means 90.
	Quality int
}

func NewRasterizer() *Rasterizer {
	return &Rasterizer{Format: imaging.JPEG, Quality: 90}
}

// Rasterize copies rect out of src at 1:1 scale and encodes the result.
func (r *Rasterizer) Rasterize(ctx context.Context, src *SourceImage, rect Rect) (*Bitmap, error) {
	if src == nil || src.img == nil {
		return nil, fmt.Errorf("%w: no source image", ErrSourceUnavailable)
	}
	if !rect.Within(src.width, src.height) {
		return nil, fmt.Errorf("%w: %s outside %dx%d", ErrInvalidRegion, rect, src.width, src.height)
	}

	// imaging.Crop works in the image's own coordinate space
	region := rect.Image().Add(src.img.Bounds().Min)
	cropped := imaging.Crop(src.img, region)
	// Crop intersects region with the image bounds, so a source whose
	// recorded size disagrees with its pixels comes back short.
	if cropped.Bounds().Dx() != rect.Width || cropped.Bounds().Dy() != rect.Height {
		return nil, fmt.Errorf("%w: cropped region is not %dx%d", ErrEncodingUnavailable, rect.Width, rect.Height)
	}

	format := r.Format
	quality := r.Quality
	if quality <= 0 {
		quality = 90
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, cropped, format, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingUnavailable, err)
	}

	log.Ctx(ctx).Debug().
		Stringer("rect", rect).
		Int("bytes", buf.Len()).
		Msg("rasterized crop")

	return &Bitmap{
		Image:  cropped,
		Data:   buf.Bytes(),
		Format: format,
	}, nil
}

// Start runs Rasterize in the background. A panic while drawing or encoding
// resolves the job with ErrEncodingUnavailable.
func (r *Rasterizer) Start(ctx context.Context, src *SourceImage, rect Rect) *Job {
	job := &Job{done: make(chan struct{})}
	go func() {
		defer close(job.done)
		var pc panics.Catcher
		pc.Try(func() {
			job.bitmap, job.err = r.Rasterize(ctx, src, rect)
		})
		if rec := pc.Recovered(); rec != nil {
			job.bitmap = nil
			job.err = fmt.Errorf("%w: %v", ErrEncodingUnavailable, rec.AsError())
		}
	}()
	return job
}

// Job is a single pending rasterization.
type Job struct {
	done   chan struct{}
	bitmap *Bitmap
	err    error
}

// Done is closed once the job has finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx is done. Giving up on ctx does
// not stop the job.
func (j *Job) Wait(ctx context.Context) (*Bitmap, error) {
	select {
	case <-j.done:
		return j.bitmap, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
