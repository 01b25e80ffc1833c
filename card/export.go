package card

import (
	"errors"
	"fmt"
	"image"
	"io"

	"seehuhn.de/go/geom/matrix"
	"seehuhn.de/go/pdf"
	"seehuhn.de/go/pdf/document"
	pdfimage "seehuhn.de/go/pdf/graphics/image"
)

// DefaultFileName is the name offered for the downloaded PDF.
const DefaultFileName = "ttp-card.pdf"

const pointsPerMM = 72 / 25.4

// PageSize returns the card footprint in PDF points, landscape.
func PageSize() *pdf.Rectangle {
	return &pdf.Rectangle{URx: WidthMM * pointsPerMM, URy: HeightMM * pointsPerMM}
}

// PDFInfo is written to the document information dictionary.
type PDFInfo struct {
	Title   string
	Subject string
	Creator string
}

// ExportPDF writes a single page PDF of exactly card size with surface
// stretched over the whole page.
func ExportPDF(w io.Writer, surface image.Image, info PDFInfo) error {
	if surface == nil || surface.Bounds().Empty() {
		return errors.New("empty card surface")
	}

	size := PageSize()
	page, err := document.WriteSinglePage(w, size, pdf.V1_7, nil)
	if err != nil {
		return fmt.Errorf("failed to start pdf: %w", err)
	}
	page.Out.GetMeta().Info = &pdf.Info{
		Title:   pdf.TextString(info.Title),
		Subject: pdf.TextString(info.Subject),
		Creator: pdf.TextString(info.Creator),
	}

	img := &pdfimage.PNG{Data: surface}

	page.PushGraphicsState()
	page.Transform(matrix.Scale(size.URx, size.URy))
	page.DrawXObject(img)
	page.PopGraphicsState()

	if err := page.Close(); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}
