package crop

import "errors"

var (
	// ErrInvalidRegion is returned when a crop rectangle does not fit inside
	// the source image.
	ErrInvalidRegion = errors.New("invalid crop region")
	// ErrSourceUnavailable is returned when the source image cannot be read
	// or decoded.
	ErrSourceUnavailable = errors.New("source image unavailable")
	// ErrEncodingUnavailable is returned when the cropped bitmap cannot be
	// produced or encoded.
	ErrEncodingUnavailable = errors.New("encoding unavailable")

	ErrRasterizeInProgress = errors.New("rasterize already in progress")
	ErrNoConfirmedCrop     = errors.New("no confirmed crop")
)
