package escpos

import (
	"fmt"
	"image"
	"image/color"

	"github.com/koyachi/go-atkinson"
	"github.com/nfnt/resize"
	qrcode "github.com/skip2/go-qrcode"
)

// gs8lMaxY is the tallest block GS 8 L accepts in one function-112 call.
const gs8lMaxY = 831

// logoMaxWidth bounds logo rasters to the printable area of an 80mm head.
const logoMaxWidth = 512

// Converter turns an image into 1-bit packed raster lines.
type Converter struct {
	// The maximum line width of the printer, in dots.
	MaxWidth int

	// The threshold between white and black dots.
	Threshold float64

	// Dither runs Atkinson error diffusion before thresholding, which keeps
	// midtones legible on thermal paper.
	Dither bool
}

// Print rasterizes img and sends it through the printer, picking the GS v 0
// bit-image mode for short images and banded GS 8 L graphics otherwise.
func (c *Converter) Print(img image.Image, p *Printer) error {
	if c.Dither {
		dithered, err := atkinson.Dither(img)
		if err != nil {
			return fmt.Errorf("dithering image: %w", err)
		}
		img = dithered
	}

	data, rw, bw := c.ToRaster(img)

	mode := "bitImage"
	if img.Bounds().Size().Y >= gs8lMaxY {
		mode = "graphics"
	}

	p.Raster(rw, img.Bounds().Size().Y, bw, data, mode)
	return nil
}

// ToRaster packs img into one bit per dot, truncating lines at MaxWidth.
func (c *Converter) ToRaster(img image.Image) (data []byte, imageWidth, bytesWidth int) {
	sz := img.Bounds().Size()

	imageWidth = sz.X
	if imageWidth > c.MaxWidth {
		imageWidth = c.MaxWidth
	}

	bytesWidth = imageWidth / 8
	if imageWidth%8 != 0 {
		bytesWidth++
	}

	data = make([]byte, bytesWidth*sz.Y)

	for y := 0; y < sz.Y; y++ {
		for x := 0; x < imageWidth; x++ {
			if lightness(img.At(x, y)) <= c.Threshold {
				data[y*bytesWidth+x/8] |= 0x80 >> uint(x%8)
			}
		}
	}

	return
}

const (
	lumR, lumG, lumB = 55, 182, 18
)

func lightness(c color.Color) float64 {
	r, g, b, _ := c.RGBA()
	return float64(lumR*r+lumG*g+lumB*b) / float64(0xffff*(lumR+lumG+lumB))
}

// PrintImage centers and prints an image, downscaling anything wider than
// the printable area.
func (p *Printer) PrintImage(img image.Image) error {
	if img.Bounds().Dx() > logoMaxWidth {
		img = resize.Resize(logoMaxWidth, 0, img, resize.Lanczos3)
	}

	conv := &Converter{
		MaxWidth:  logoMaxWidth,
		Threshold: 0.5,
	}
	if err := p.SetAlign("center"); err != nil {
		return err
	}
	if err := conv.Print(img, p); err != nil {
		return err
	}
	return p.SetAlign("left")
}

// PrintQR renders content as a QR code and prints it centered. size is the
// edge length in dots.
func (p *Printer) PrintQR(content string, size int) error {
	if size <= 0 {
		size = 164
	}
	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("encoding qr code: %w", err)
	}
	if err := p.SetAlign("center"); err != nil {
		return err
	}
	conv := &Converter{
		MaxWidth:  logoMaxWidth,
		Threshold: 0.5,
	}
	if err := conv.Print(code.Image(size), p); err != nil {
		return err
	}
	return p.SetAlign("left")
}

// Raster writes a rasterized black and white image to the printer with the
// specified width, height, and lineWidth bytes per line.
func (p *Printer) Raster(width, height, lineWidth int, imgBw []byte, printingType string) {
	switch printingType {
	case "bitImage":
		densityByte := byte(0)
		header := []byte{0x1d, 0x76, 0x30} // GS v 0 m xL xH yL yH d1...dk
		header = append(header, densityByte)
		header = append(header, intLowHigh((width+7)>>3, 2)...)
		header = append(header, intLowHigh(height, 2)...)

		p.Write(append(header, imgBw...))

	case "graphics":
		for l := 0; l < height; {
			lines := gs8lMaxY
			if lines > height-l {
				lines = height - l
			}

			f112P := 10 + lines*lineWidth

			p.Write([]byte{
				0x1d, 0x38, 0x4c, // GS 8 L, store graphics data (raster format)
				byte(f112P), byte(f112P >> 8), byte(f112P >> 16), byte(f112P >> 24),
				0x30, 0x70, 0x30, // function 112
				0x01, 0x01, // bx, by zoom
				0x31,                          // c single-color
				byte(width), byte(width >> 8), // horizontal dots
				byte(lines), byte(lines >> 8), // vertical dots
			})

			p.Write(imgBw[l*lineWidth : (l+lines)*lineWidth])

			// function 50: print the buffered graphics
			p.Write([]byte{0x1d, 0x28, 0x4c, 0x02, 0x00, 0x30, 0x32})

			l += lines
		}
	}
}
