package label

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"os"

	"github.com/koyachi/go-atkinson"
	"github.com/nfnt/resize"
)

// printableWidth is the dot width of a 62mm endless label on the QL-800.
const printableWidth = 696

// PrepareImage loads an image file and rewrites it as a printer-ready
// temporary PNG: alpha flattened onto white, downscaled to the label
// width, dithered to 1-bit. The caller removes the returned file.
func PrepareImage(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	prepared, err := prepare(img, printableWidth)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "sticker-*.png")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if err := png.Encode(tmp, prepared); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("encode png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func prepare(img image.Image, width int) (image.Image, error) {
	img = flattenOnWhite(img)
	if img.Bounds().Dx() > width {
		img = resize.Resize(uint(width), 0, img, resize.Lanczos3)
	}
	dithered, err := atkinson.Dither(img)
	if err != nil {
		return nil, fmt.Errorf("dither image: %w", err)
	}
	return dithered, nil
}

// flattenOnWhite composites transparency onto a white background so
// transparent regions print blank instead of black.
func flattenOnWhite(img image.Image) image.Image {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(out, b, img, b.Min, draw.Over)
	return out
}
