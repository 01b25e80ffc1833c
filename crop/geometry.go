package crop

import (
	"fmt"
	"image"
	"math"
)

// Zoom limits exposed to the editor's slider.
const (
	MinZoom  = 1.0
	MaxZoom  = 1.5
	ZoomStep = 0.01
)

// CardPhotoAspect is the width/height ratio of the photo slot on the card.
const CardPhotoAspect = 3.0 / 4.0

// Point is a normalized 2D offset. For pan values one unit equals the full
// natural width (X) or height (Y) of the source image.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ViewState is the transient pan/zoom state of a crop session.
type ViewState struct {
	Pan  Point   `json:"pan"`
	Zoom float64 `json:"zoom"`
}

func DefaultViewState() ViewState {
	return ViewState{Zoom: MinZoom}
}

// Rect is a crop rectangle in source image pixels.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

func (r Rect) Aspect() float64 {
	if r.Height == 0 {
		return 0
	}
	return float64(r.Width) / float64(r.Height)
}

// Within reports whether r is non-empty and fully inside a w×h image.
func (r Rect) Within(w, h int) bool {
	return r.Width > 0 && r.Height > 0 &&
		r.X >= 0 && r.Y >= 0 &&
		r.X+r.Width <= w && r.Y+r.Height <= h
}

func (r Rect) String() string {
	return fmt.Sprintf("rect(x=%d,y=%d,w=%d,h=%d)", r.X, r.Y, r.Width, r.Height)
}

// ClampZoom limits z to [MinZoom, MaxZoom]. NaN maps to MinZoom.
func ClampZoom(z float64) float64 {
	if math.IsNaN(z) || z < MinZoom {
		return MinZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}

// Resolve computes the crop rectangle for a naturalWidth×naturalHeight image
// viewed through a window of the given aspect ratio at the given zoom and pan.
//
// The window starts as the largest aspect-correct rectangle inscribed in the
// image, shrinks by 1/zoom and is moved by pan, measured in fractions of the
// natural size. The result is clamped per axis so that it always lies inside
// the image; panning past an edge pins the window to that edge.
//
// Resolve panics if the dimensions or the aspect are not positive.
func Resolve(naturalWidth, naturalHeight int, aspect, zoom float64, pan Point) Rect {
	mustValidate(naturalWidth, naturalHeight, aspect)

	width, height := windowSize(naturalWidth, naturalHeight, aspect, ClampZoom(zoom))

	cx := float64(naturalWidth)/2 + finite(pan.X)*float64(naturalWidth)
	cy := float64(naturalHeight)/2 + finite(pan.Y)*float64(naturalHeight)

	return Rect{
		X:      clampInt(int(math.Round(cx-float64(width)/2)), 0, naturalWidth-width),
		Y:      clampInt(int(math.Round(cy-float64(height)/2)), 0, naturalHeight-height),
		Width:  width,
		Height: height,
	}
}

// ClampPan limits pan to the range in which moving it still moves the crop
// window. Beyond that range Resolve pins the window to the image edge anyway,
// so a clamped pan resolves to the same rectangle as the raw one.
func ClampPan(naturalWidth, naturalHeight int, aspect, zoom float64, pan Point) Point {
	mustValidate(naturalWidth, naturalHeight, aspect)

	width, height := windowSize(naturalWidth, naturalHeight, aspect, ClampZoom(zoom))
	maxX := float64(naturalWidth-width) / (2 * float64(naturalWidth))
	maxY := float64(naturalHeight-height) / (2 * float64(naturalHeight))

	return Point{
		X: clampFloat(finite(pan.X), -maxX, maxX),
		Y: clampFloat(finite(pan.Y), -maxY, maxY),
	}
}

// aspectTolerance is how far a resolved window's width/height ratio may
// drift from the requested aspect.
const aspectTolerance = 1e-3

// windowSize returns the integer size of the zoomed crop window. The width is
// rounded first and the height derived from it. On small images that pair
// can miss the aspect; then the best fitting pair with a width within three
// pixels of the float window is used instead.
func windowSize(naturalWidth, naturalHeight int, aspect, zoom float64) (int, int) {
	baseW, baseH := float64(naturalWidth), float64(naturalHeight)
	if baseW/baseH > aspect {
		baseW = baseH * aspect
	} else {
		baseH = baseW / aspect
	}

	fw := baseW / zoom
	width := clampInt(int(math.Round(fw)), 1, naturalWidth)
	height := int(math.Round(float64(width) / aspect))
	if height > naturalHeight {
		height = naturalHeight
		width = clampInt(int(math.Round(float64(height)*aspect)), 1, naturalWidth)
	}
	if height < 1 {
		height = 1
	}

	bestErr := aspectError(width, height, aspect)
	if bestErr <= aspectTolerance {
		return width, height
	}

	bestDist := math.Abs(float64(width) - fw)
	center := int(math.Round(fw))
	for w := center - 3; w <= center+3; w++ {
		h := int(math.Round(float64(w) / aspect))
		if w < 1 || h < 1 || w > naturalWidth || h > naturalHeight {
			continue
		}
		e, d := aspectError(w, h, aspect), math.Abs(float64(w)-fw)
		if e < bestErr-1e-12 || (e <= bestErr+1e-12 && d < bestDist) {
			width, height, bestErr, bestDist = w, h, e, d
		}
	}
	return width, height
}

func aspectError(w, h int, aspect float64) float64 {
	return math.Abs(float64(w)/float64(h) - aspect)
}

func mustValidate(naturalWidth, naturalHeight int, aspect float64) {
	if naturalWidth <= 0 || naturalHeight <= 0 {
		panic(fmt.Sprintf("crop: invalid source size %dx%d", naturalWidth, naturalHeight))
	}
	if !(aspect > 0) || math.IsInf(aspect, 0) {
		panic(fmt.Sprintf("crop: invalid aspect ratio %v", aspect))
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	// large but finite, so the arithmetic above still clamps to an edge
	return clampFloat(v, -1e6, 1e6)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
