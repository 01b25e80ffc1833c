package main

import (
	"image"

	"ttpcard/card"
	"ttpcard/crop"
)

type cardRenderResult struct {
	fields  card.Fields
	surface image.Image
}

// renderSurface draws the card with the cropped photo, or with the
// placeholder tile when photo is nil.
func renderSurface(c *card.Composer, fields card.Fields, photo *crop.Bitmap) (image.Image, error) {
	var img image.Image
	if photo != nil && photo.Image != nil {
		img = photo.Image
	}
	return c.Render(fields, img)
}

func pdfInfo(fields card.Fields) card.PDFInfo {
	info := card.PDFInfo{
		Title:   "Karta TTP",
		Subject: "TTP - Thrombotic Thrombocytopenic Purpura",
		Creator: "ttpcard",
	}
	if name := fields.Normalize().PatientName; name != "" {
		info.Title += " - " + name
	}
	return info
}
