package card

import (
	"fmt"
	"image"

	qrcode "github.com/skip2/go-qrcode"
)

// contactCode renders content as a borderless QR code of roughly size
// pixels per side.
func contactCode(content string, size int) (image.Image, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	q.DisableBorder = true
	return q.Image(size), nil
}
