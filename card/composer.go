package card

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

// Physical card size, ISO/IEC 7810 ID-1.
const (
	WidthMM  = 85.6
	HeightMM = 53.98
)

// DefaultDPI is the raster resolution used for previews and PDF export.
const DefaultDPI = 300

// Layout, in millimetres.
const (
	borderMM    = 0.3
	radiusMM    = 2.0
	padTopMM    = 2.0
	padSideMM   = 4.0
	headerMM    = 18.0
	headerGapMM = 2.0
	dropletMM   = 10.0
	photoMaxMM  = 18.0
	bodyPadMM   = 3.0
	groupGapMM  = 2.0
)

// Size of the placeholder tile shown until a photo is confirmed.
const (
	placeholderW = 350
	placeholderH = 450
)

var (
	red       = gg.RGB(1, 0, 0)
	black     = gg.RGB(0, 0, 0)
	grayTile  = gg.Hex("#cccccc")
	grayLabel = gg.Hex("#969696")
)

// Composer lays the card out on a raster surface.
type Composer struct {
	// DPI of the rendered surface. Zero means DefaultDPI.
	DPI float64
	// ContactQR draws a QR code dialing the family contact in the left
	// half of the body.
	ContactQR bool

	regular *text.FontSource
	bold    *text.FontSource
}

// NewComposer parses the embedded Go fonts.
func NewComposer(dpi float64) (*Composer, error) {
	regular, err := text.NewFontSource(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to load regular font: %w", err)
	}
	bold, err := text.NewFontSource(gobold.TTF)
	if err != nil {
		_ = regular.Close()
		return nil, fmt.Errorf("failed to load bold font: %w", err)
	}
	return &Composer{
		DPI:       dpi,
		ContactQR: true,
		regular:   regular,
		bold:      bold,
	}, nil
}

func (c *Composer) Close() error {
	return errors.Join(c.regular.Close(), c.bold.Close())
}

// SurfaceSize returns the pixel size of a rendered card.
func (c *Composer) SurfaceSize() (int, int) {
	s := c.scale()
	return int(math.Round(WidthMM * s)), int(math.Round(HeightMM * s))
}

func (c *Composer) scale() float64 {
	dpi := c.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return dpi / 25.4
}

// Render draws the card with the given fields. A nil photo is replaced by a
// placeholder tile.
func (c *Composer) Render(fields Fields, photo image.Image) (image.Image, error) {
	fields = fields.Normalize()
	if err := fields.Validate(); err != nil {
		return nil, err
	}

	w, h := c.SurfaceSize()
	dc := gg.NewContext(w, h)
	defer dc.Close()

	p := &painter{dc: dc, s: c.scale(), regular: c.regular, bold: c.bold}
	p.background()
	p.header(photo)
	p.body(fields)
	if c.ContactQR {
		p.contactQR(fields.FamilyPhone)
	}
	if p.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, p.err)
	}
	return dc.Image(), nil
}

// painter draws in millimetres and keeps the first drawing error.
type painter struct {
	dc      *gg.Context
	s       float64
	regular *text.FontSource
	bold    *text.FontSource
	err     error
}

func (p *painter) px(mm float64) float64 {
	return mm * p.s
}

func (p *painter) check(err error) {
	if p.err == nil && err != nil {
		p.err = err
	}
}

func (p *painter) background() {
	dc := p.dc
	dc.ClearWithColor(gg.White)

	inset := p.px(borderMM) / 2
	dc.SetColor(black.Color())
	dc.SetLineWidth(p.px(borderMM))
	dc.DrawRoundedRectangle(inset, inset, p.px(WidthMM)-2*inset, p.px(HeightMM)-2*inset, p.px(radiusMM))
	p.check(dc.Stroke())
}

var titles = []struct {
	text   string
	sizeMM float64
	bold   bool
	color  gg.RGBA
}{
	{"CHORUJĘ NA TTP", 6, true, red},
	{"I suffer from TTP", 3, true, red},
	{"TTP - zakrzepowa plamica małopłytkowa", 2, true, black},
	{"TTP - Thrombotic Thrombocytopenic Purpura", 1.5, true, black},
}

func (p *painter) header(photo image.Image) {
	left, right := padSideMM, WidthMM-padSideMM
	top := padTopMM

	// three columns: 1fr, title block, 1fr
	var titleW, titleH float64
	for _, t := range titles {
		titleW = math.Max(titleW, p.measure(t.text, t.sizeMM, t.bold))
		titleH += t.sizeMM
	}
	maxTitleW := right - left - 2*headerGapMM - 2*dropletMM
	titleW = math.Min(titleW, maxTitleW)
	sideW := (right - left - titleW - 2*headerGapMM) / 2

	p.droplet(left+sideW/2, top+(headerMM-dropletMM)/2, dropletMM)

	cx := left + sideW + headerGapMM + titleW/2
	y := top + (headerMM-titleH)/2
	for _, t := range titles {
		p.textLine(t.text, cx, y, t.sizeMM, t.bold, t.color, 0.5, titleW)
		y += t.sizeMM
	}

	slotX := right - sideW
	p.photo(photo, slotX, top, sideW, headerMM)
}

// droplet draws a teardrop of the given height with its apex at (cx, top).
func (p *painter) droplet(cx, top, height float64) {
	dc := p.dc
	r := height * 0.36
	cy := top + height - r
	k := r * 0.6

	dc.SetColor(red.Color())
	dc.MoveTo(p.px(cx), p.px(top))
	dc.CubicTo(p.px(cx+r*0.1), p.px(top+height*0.25), p.px(cx+r), p.px(cy-k), p.px(cx+r), p.px(cy))
	dc.LineTo(p.px(cx-r), p.px(cy))
	dc.CubicTo(p.px(cx-r), p.px(cy-k), p.px(cx-r*0.1), p.px(top+height*0.25), p.px(cx), p.px(top))
	dc.ClosePath()
	p.check(dc.Fill())

	dc.DrawCircle(p.px(cx), p.px(cy), p.px(r))
	p.check(dc.Fill())
}

// photo fits img into the slot keeping its aspect ratio, centered, no
// taller than photoMaxMM.
func (p *painter) photo(img image.Image, x, y, w, h float64) {
	iw, ih := float64(placeholderW), float64(placeholderH)
	if img != nil {
		b := img.Bounds()
		iw, ih = float64(b.Dx()), float64(b.Dy())
	}
	if iw <= 0 || ih <= 0 {
		return
	}
	scale := math.Min(w/iw, math.Min(h, photoMaxMM)/ih)
	dw, dh := iw*scale, ih*scale
	dx, dy := x+(w-dw)/2, y+(h-dh)/2

	if img == nil {
		p.placeholder(dx, dy, dw, dh)
		return
	}
	p.dc.DrawImageEx(gg.ImageBufFromImage(img), gg.DrawImageOptions{
		X:             p.px(dx),
		Y:             p.px(dy),
		DstWidth:      p.px(dw),
		DstHeight:     p.px(dh),
		Interpolation: gg.InterpBilinear,
		Opacity:       1,
		BlendMode:     gg.BlendNormal,
	})
}

func (p *painter) placeholder(x, y, w, h float64) {
	dc := p.dc
	dc.SetColor(grayTile.Color())
	dc.DrawRectangle(p.px(x), p.px(y), p.px(w), p.px(h))
	p.check(dc.Fill())

	label := fmt.Sprintf("%d×%d", placeholderW, placeholderH)
	size := w / 5
	p.textLine(label, x+w/2, y+(h-size)/2, size, false, grayLabel, 0.5, w*0.9)
}

type labelGroup struct {
	label   string
	english string
	values  []valueLine
}

type valueLine struct {
	text   string
	sizeMM float64
	color  gg.RGBA
}

func (p *painter) body(f Fields) {
	groups := []labelGroup{
		{"IMIĘ I NAZWISKO PACJENTA", "Patient Name", []valueLine{
			{f.PatientName, 3, red},
		}},
		{"LEKARZ PROWADZĄCY", "Consultant Name", []valueLine{
			{f.ConsultantName, 2.5, red},
			{f.ConsultantPhone, 2.5, black},
		}},
		{"KONTAKT DO RODZINY", "Family Contact No", []valueLine{
			{f.FamilyPhone, 2.5, black},
		}},
	}

	left, right := p.bodyColumns()
	colW := right - left
	y := padTopMM + headerMM + bodyPadMM
	for i, g := range groups {
		if i > 0 {
			y += groupGapMM
		}
		p.textLine(g.label, right, y, 2.5, true, black, 1, colW)
		y += 2.5
		p.textLine(g.english, right, y, 2, false, black, 1, colW)
		y += 2
		for _, v := range g.values {
			p.textLine(v.text, right, y, v.sizeMM, true, v.color, 1, colW)
			y += v.sizeMM
		}
	}
}

// bodyColumns returns the horizontal extent of the right half of the body.
func (p *painter) bodyColumns() (float64, float64) {
	left := padSideMM + bodyPadMM
	right := WidthMM - padSideMM - bodyPadMM
	return left + (right-left)/2, right
}

func (p *painter) contactQR(phone string) {
	uri := dialURI(phone)
	if uri == "" {
		return
	}
	left := padSideMM + bodyPadMM
	mid, _ := p.bodyColumns()
	top := padTopMM + headerMM + bodyPadMM
	bottom := HeightMM - padTopMM - bodyPadMM
	side := math.Min(mid-left-groupGapMM, bottom-top)

	qr, err := contactCode(uri, int(math.Ceil(p.px(side))))
	if err != nil {
		p.check(err)
		return
	}
	p.dc.DrawImageEx(gg.ImageBufFromImage(qr), gg.DrawImageOptions{
		X:             p.px(left),
		Y:             p.px(bottom - side),
		DstWidth:      p.px(side),
		DstHeight:     p.px(side),
		Interpolation: gg.InterpNearest,
		Opacity:       1,
		BlendMode:     gg.BlendNormal,
	})
}

func (p *painter) face(sizeMM float64, bold bool) text.Face {
	if bold {
		return p.bold.Face(p.px(sizeMM))
	}
	return p.regular.Face(p.px(sizeMM))
}

// measure returns the width of s in millimetres.
func (p *painter) measure(s string, sizeMM float64, bold bool) float64 {
	p.dc.SetFont(p.face(sizeMM, bold))
	w, _ := p.dc.MeasureString(s)
	return w / p.s
}

// textLine draws one line whose top edge is at y. ax anchors x: 0 left,
// 0.5 center, 1 right. Text wider than maxW is scaled down to fit.
func (p *painter) textLine(s string, x, y, sizeMM float64, bold bool, col gg.RGBA, ax, maxW float64) {
	if s == "" {
		return
	}
	size := sizeMM
	if w := p.measure(s, size, bold); w > maxW && maxW > 0 {
		size *= maxW / w
	}
	p.dc.SetFont(p.face(size, bold))
	p.dc.SetColor(col.Color())
	w, _ := p.dc.MeasureString(s)
	// baseline sits at the ascent of a 100% line height box
	p.dc.DrawString(s, p.px(x)-w*ax, p.px(y+sizeMM*0.8+(sizeMM-size)/2))
}
