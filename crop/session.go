package crop

import (
	"context"
	"sync"
)

// Session holds the pan/zoom state of one crop interaction over a single
// source image. The crop rectangle is recomputed on every mutation, so
// CropRect always reflects the latest ViewState.
//
// A Session is safe for concurrent use; mutations are serialized.
type Session struct {
	mu     sync.Mutex
	source *SourceImage
	aspect float64

	view ViewState
	rect Rect

	// generation changes on Reset so a job started before it cannot
	// publish its result afterwards.
	generation uint64
	pending    *Job
	result     *Bitmap
}

// NewSession starts a crop session over src. It panics if src is nil or the
// aspect ratio is not positive.
func NewSession(src *SourceImage, aspect float64) *Session {
	if src == nil {
		panic("crop: nil source image")
	}
	mustValidate(src.width, src.height, aspect)
	s := &Session{
		source: src,
		aspect: aspect,
		view:   DefaultViewState(),
	}
	s.recompute()
	return s
}

func (s *Session) Source() *SourceImage {
	return s.source
}

func (s *Session) Aspect() float64 {
	return s.aspect
}

// SetPan moves the window to pan. Values past an edge are clamped.
func (s *Session) SetPan(pan Point) Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Pan = pan
	s.recompute()
	return s.rect
}

// PanBy moves the window by delta, as reported by a drag gesture.
func (s *Session) PanBy(delta Point) Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Pan = Point{X: s.view.Pan.X + finite(delta.X), Y: s.view.Pan.Y + finite(delta.Y)}
	s.recompute()
	return s.rect
}

// SetZoom sets the zoom level, clamped to [MinZoom, MaxZoom].
func (s *Session) SetZoom(zoom float64) Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Zoom = zoom
	s.recompute()
	return s.rect
}

// ZoomBy changes the zoom level by delta, as reported by a wheel.
func (s *Session) ZoomBy(delta float64) Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Zoom += finite(delta)
	s.recompute()
	return s.rect
}

func (s *Session) ViewState() ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Session) CropRect() Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rect
}

// Reset restores the default view and drops any confirmed or pending crop.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = DefaultViewState()
	s.recompute()
	s.generation++
	s.pending = nil
	s.result = nil
}

// Result returns the bitmap of the last successful Confirm.
func (s *Session) Result() (*Bitmap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil, ErrNoConfirmedCrop
	}
	return s.result, nil
}

// Confirm rasterizes the current crop rectangle and waits for the result.
// Only one rasterization may run at a time; a Confirm issued while another
// is pending fails with ErrRasterizeInProgress. A failed or abandoned
// Confirm leaves the previous result in place.
func (s *Session) Confirm(ctx context.Context, r *Rasterizer) (*Bitmap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return nil, ErrRasterizeInProgress
	}
	job := r.Start(ctx, s.source, s.rect)
	s.pending = job
	gen := s.generation
	s.mu.Unlock()

	bmp, err := job.Wait(ctx)
	if err == nil {
		s.settle(job, gen, bmp)
		return bmp, nil
	}

	select {
	case <-job.Done():
		s.settle(job, gen, nil)
	default:
		// caller gave up; release the slot once the job finishes
		go func() {
			<-job.Done()
			s.settle(job, gen, nil)
		}()
	}
	return nil, err
}

// settle clears job from the pending slot and publishes bmp, if any, unless
// the session was reset in the meantime.
func (s *Session) settle(job *Job, gen uint64, bmp *Bitmap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == job {
		s.pending = nil
	}
	if bmp != nil && gen == s.generation {
		s.result = bmp
	}
}

func (s *Session) recompute() {
	s.view.Zoom = ClampZoom(s.view.Zoom)
	s.view.Pan = ClampPan(s.source.width, s.source.height, s.aspect, s.view.Zoom, s.view.Pan)
	s.rect = Resolve(s.source.width, s.source.height, s.aspect, s.view.Zoom, s.view.Pan)
}
