// Package label prints product labels and sticker images on a Brother
// QL-800 through the brother_ql command line tool.
package label

import (
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"strings"
)

const (
	defaultDevice    = "/dev/usb/brother_ql800"
	defaultModel     = "QL-800"
	defaultBackend   = "linux_kernel"
	defaultLabelSize = "62"
)

// BrotherQL shells out to the brother_ql tool. Zero values fall back to
// the QL-800 on its usual udev path, overridable through the
// STICKER_PRINTER_DEVICE and BROTHER_QL_PATH environment variables.
type BrotherQL struct {
	Binary    string
	Model     string
	Backend   string
	Device    string
	LabelSize string
}

// LabelOptions carries a text label print request.
type LabelOptions struct {
	Name       string
	PriceText  string
	Barcode    string
	Footer     string
	DevicePath string
}

// StickerImageOptions carries an image sticker print request.
type StickerImageOptions struct {
	ImagePath  string
	DevicePath string
}

// PrintLabel composes a text label and prints it.
func PrintLabel(opts LabelOptions) error {
	img, err := Compose(Label{
		Name:      opts.Name,
		PriceText: opts.PriceText,
		Barcode:   opts.Barcode,
		Footer:    opts.Footer,
	})
	if err != nil {
		return fmt.Errorf("composing label: %w", err)
	}

	tmp, err := os.CreateTemp("", "label-*.png")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding label: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	ql := BrotherQL{Device: opts.DevicePath}
	return ql.PrintFile(tmp.Name())
}

// PrintStickerImage prepares an image file and prints it as a sticker.
func PrintStickerImage(opts StickerImageOptions) error {
	prepared, err := PrepareImage(opts.ImagePath)
	if err != nil {
		return fmt.Errorf("preparing sticker: %w", err)
	}
	defer os.Remove(prepared)

	ql := BrotherQL{Device: opts.DevicePath}
	return ql.PrintFile(prepared)
}

// PrintFile sends an already prepared image file to brother_ql.
//
// brother_ql sometimes exits non-zero after a successful print when it
// fails to read back the status; a "Total:" line on stdout means the
// raster made it to the device, so that counts as success too.
func (q BrotherQL) PrintFile(path string) error {
	cmd := exec.Command(q.binary(),
		"--backend", q.backend(),
		"--model", q.model(),
		"--printer", q.device(),
		"print", "-l", q.labelSize(),
		path,
	)
	out, err := cmd.CombinedOutput()
	if err != nil && !strings.Contains(string(out), "Total:") {
		return fmt.Errorf("brother_ql failed: %w - %s", err, string(out))
	}
	return nil
}

func (q BrotherQL) binary() string {
	if q.Binary != "" {
		return q.Binary
	}
	return envOrDefault("BROTHER_QL_PATH", "brother_ql")
}

func (q BrotherQL) model() string {
	if q.Model != "" {
		return q.Model
	}
	return defaultModel
}

func (q BrotherQL) backend() string {
	if q.Backend != "" {
		return q.Backend
	}
	return defaultBackend
}

func (q BrotherQL) device() string {
	if q.Device != "" {
		return q.Device
	}
	return envOrDefault("STICKER_PRINTER_DEVICE", defaultDevice)
}

func (q BrotherQL) labelSize() string {
	if q.LabelSize != "" {
		return q.LabelSize
	}
	return defaultLabelSize
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
