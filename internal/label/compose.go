package label

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/nfnt/resize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Text rendering: the bitmap face is drawn at 1x then upscaled, which
// keeps edges crisp after the 1-bit conversion on the print head.
const (
	textScale     = 4
	lineHeight    = 16 // basicfont line advance at 1x
	marginX       = 8
	barcodeHeight = 90
)

// Label is a text label: product name, price, optional CODE128 barcode
// and an optional footer line. Empty fields are skipped.
type Label struct {
	Name      string
	PriceText string
	Barcode   string
	Footer    string
}

// Compose renders the label as an image sized for the 62mm head.
func Compose(l Label) (image.Image, error) {
	baseWidth := printableWidth / textScale

	var lines []string
	if l.Name != "" {
		lines = append(lines, l.Name)
	}
	if l.PriceText != "" {
		lines = append(lines, l.PriceText)
	}

	textHeight := (len(lines) + 1) * lineHeight
	canvas := image.NewRGBA(image.Rect(0, 0, baseWidth, textHeight))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
	}
	y := lineHeight
	for _, line := range lines {
		d.Dot = fixed.P(marginX/textScale+centerOffset(d, line, baseWidth), y)
		d.DrawString(line)
		y += lineHeight
	}

	out := resize.Resize(printableWidth, 0, canvas, resize.NearestNeighbor)

	if l.Barcode != "" {
		bc, err := renderBarcode(l.Barcode)
		if err != nil {
			return nil, err
		}
		out = stackVertically(out, bc)
	}

	if l.Footer != "" {
		footer := renderFooterLine(l.Footer)
		out = stackVertically(out, footer)
	}

	return out, nil
}

func renderBarcode(data string) (image.Image, error) {
	bc, err := code128.Encode(data)
	if err != nil {
		return nil, fmt.Errorf("encode barcode: %w", err)
	}
	scaled, err := barcode.Scale(bc, printableWidth-2*marginX, barcodeHeight)
	if err != nil {
		return nil, fmt.Errorf("scale barcode: %w", err)
	}
	return scaled, nil
}

// renderFooterLine draws the footer at half the title scale.
func renderFooterLine(text string) image.Image {
	scale := textScale / 2
	baseWidth := printableWidth / scale
	canvas := image.NewRGBA(image.Rect(0, 0, baseWidth, 2*lineHeight))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
	}
	d.Dot = fixed.P(centerOffset(d, text, baseWidth), lineHeight)
	d.DrawString(text)
	return resize.Resize(printableWidth, 0, canvas, resize.NearestNeighbor)
}

func centerOffset(d *font.Drawer, s string, width int) int {
	w := d.MeasureString(s).Ceil()
	if w >= width {
		return 0
	}
	return (width - w) / 2
}

// stackVertically pastes b below a on a white background, each centered.
func stackVertically(a, b image.Image) image.Image {
	aw, ah := a.Bounds().Dx(), a.Bounds().Dy()
	bw, bh := b.Bounds().Dx(), b.Bounds().Dy()
	width := aw
	if bw > width {
		width = bw
	}
	out := image.NewRGBA(image.Rect(0, 0, width, ah+bh+lineHeight))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(out, image.Rect((width-aw)/2, 0, (width-aw)/2+aw, ah), a, a.Bounds().Min, draw.Over)
	draw.Draw(out, image.Rect((width-bw)/2, ah+lineHeight, (width-bw)/2+bw, ah+lineHeight+bh), b, b.Bounds().Min, draw.Over)
	return out
}
