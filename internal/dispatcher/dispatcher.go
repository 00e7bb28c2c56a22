// Package dispatcher routes leased print jobs to the matching printer
// driver, serializing access per device.
package dispatcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storeprint/print-agent/internal/api"
	"github.com/storeprint/print-agent/internal/label"
	"github.com/storeprint/print-agent/internal/receipt"
	"github.com/storeprint/print-agent/internal/registry"
)

// maxImageDownload caps sticker artwork downloads.
const maxImageDownload = 10 * 1024 * 1024

// Config holds dispatcher tuning.
type Config struct {
	MaxRetries int
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
	}
}

// Dispatcher executes jobs against local printers. One mutex per printer
// keeps concurrent jobs from interleaving bytes on the same device.
type Dispatcher struct {
	config   Config
	registry *registry.Registry
	logger   *zap.Logger

	mu      sync.RWMutex
	mutexes map[string]*sync.Mutex
}

func New(reg *registry.Registry, logger *zap.Logger) *Dispatcher {
	return NewWithConfig(reg, logger, DefaultConfig())
}

func NewWithConfig(reg *registry.Registry, logger *zap.Logger, config Config) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		config:   config,
		registry: reg,
		logger:   logger,
		mutexes:  make(map[string]*sync.Mutex),
	}
}

// Dispatch runs a job on its printer, retrying transient failures with
// exponential backoff. Payload and routing errors are not retried.
func (d *Dispatcher) Dispatch(job api.Job) error {
	printer, err := d.resolvePrinter(job)
	if err != nil {
		return fmt.Errorf("resolving printer: %w", err)
	}
	if !printer.Available {
		return fmt.Errorf("printer %s is not available", printer.ID)
	}

	mutex := d.getMutex(printer.ID)
	mutex.Lock()
	defer mutex.Unlock()

	var lastErr error
	for attempt := 1; attempt <= d.config.MaxRetries; attempt++ {
		lastErr = d.dispatchOnce(job, printer)
		if lastErr == nil {
			return nil
		}
		if isNonRetryable(lastErr) {
			return lastErr
		}
		d.logger.Warn("dispatch attempt failed",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		if attempt < d.config.MaxRetries {
			time.Sleep(d.retryDelay(attempt))
		}
	}
	return fmt.Errorf("after %d attempts: %w", d.config.MaxRetries, lastErr)
}

func (d *Dispatcher) dispatchOnce(job api.Job, printer *registry.PrinterInfo) error {
	switch job.Type {
	case api.JobTypeReceipt:
		return d.dispatchReceipt(job, printer)
	case api.JobTypeLabel:
		return d.dispatchLabel(job)
	case api.JobTypeStickerImage:
		return d.dispatchStickerImage(job, printer)
	case api.JobTypeOpenDrawer:
		return d.dispatchOpenDrawer(printer)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	return d.config.RetryDelay * time.Duration(1<<uint(attempt-1))
}

// isNonRetryable matches errors that will fail identically on retry.
func isNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "parsing") ||
		strings.Contains(msg, "unknown job type") ||
		strings.Contains(msg, "no image data")
}

// resolvePrinter picks the job's named printer, or the first available
// one of the matching type.
func (d *Dispatcher) resolvePrinter(job api.Job) (*registry.PrinterInfo, error) {
	if job.PrinterCode() != "" {
		return d.registry.Get(job.PrinterCode())
	}
	switch job.Type {
	case api.JobTypeReceipt, api.JobTypeOpenDrawer:
		return d.registry.GetByType(registry.PrinterTypeReceipt)
	case api.JobTypeLabel, api.JobTypeStickerImage:
		return d.registry.GetByType(registry.PrinterTypeLabel)
	default:
		return nil, fmt.Errorf("cannot determine printer type for job type: %s", job.Type)
	}
}

func (d *Dispatcher) getMutex(printerID string) *sync.Mutex {
	d.mu.RLock()
	mutex, ok := d.mutexes[printerID]
	d.mu.RUnlock()
	if ok {
		return mutex
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if mutex, ok := d.mutexes[printerID]; ok {
		return mutex
	}
	mutex = &sync.Mutex{}
	d.mutexes[printerID] = mutex
	return mutex
}

func (d *Dispatcher) dispatchReceipt(job api.Job, printer *registry.PrinterInfo) error {
	payload, err := job.ParseReceiptPayload()
	if err != nil {
		return fmt.Errorf("parsing receipt payload: %w", err)
	}

	if payload.Type == "put_aside" {
		return d.dispatchPutAside(job, printer)
	}

	items := make([]receipt.Item, len(payload.Items))
	for i, item := range payload.Items {
		items[i] = receipt.Item{
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}

	r := receipt.Receipt{
		StoreAddress1: payload.StoreAddress1,
		StoreAddress2: payload.StoreAddress2,
		StorePhone:    payload.StorePhone,
		StoreVAT:      payload.StoreVAT,
		StoreSocial:   payload.StoreSocial,
		StoreWebsite:  payload.StoreWebsite,
		Barcode:       payload.Barcode,
		Items:         items,
		Payments:      payload.Payments,
		CreatedAt:     time.Now(),
	}

	p := receipt.NewPrinter(printer.DevicePath)
	p.Logger = d.logger
	return p.PrintReceipt(r)
}

func (d *Dispatcher) dispatchPutAside(job api.Job, printer *registry.PrinterInfo) error {
	payload, err := job.ParsePutAsidePayload()
	if err != nil {
		return fmt.Errorf("parsing put_aside payload: %w", err)
	}

	pa := receipt.PutAside{
		CustomerName:   payload.CustomerName,
		CustomerPhone:  payload.CustomerPhone,
		ProductName:    payload.ProductName,
		ProductBarcode: payload.ProductBarcode,
		Quantity:       payload.Quantity,
		OrderBarcode:   payload.OrderBarcode,
		OrderDate:      payload.OrderDate,
	}

	p := receipt.NewPrinter(printer.DevicePath)
	p.Logger = d.logger
	return p.PrintPutAside(pa)
}

func (d *Dispatcher) dispatchLabel(job api.Job) error {
	payload, err := job.ParseLabelPayload()
	if err != nil {
		return fmt.Errorf("parsing label payload: %w", err)
	}

	return label.PrintLabel(label.LabelOptions{
		Name:      payload.Name,
		PriceText: payload.PriceText,
		Barcode:   payload.Barcode,
		Footer:    payload.Footer,
	})
}

func (d *Dispatcher) dispatchStickerImage(job api.Job, printer *registry.PrinterInfo) error {
	payload, err := job.ParseStickerImagePayload()
	if err != nil {
		return fmt.Errorf("parsing sticker image payload: %w", err)
	}

	var imagePath string
	var cleanup func()

	switch {
	case payload.ImageData != "":
		decoded, err := base64.StdEncoding.DecodeString(payload.ImageData)
		if err != nil {
			return fmt.Errorf("decoding base64 image: %w", err)
		}
		imagePath = filepath.Join(TempImageDir(), "sticker-"+uuid.NewString()+".png")
		if err := os.WriteFile(imagePath, decoded, 0o644); err != nil {
			return fmt.Errorf("writing temp file: %w", err)
		}
		cleanup = func() { os.Remove(imagePath) }

	case payload.ImageURL != "":
		path, c, err := downloadImage(payload.ImageURL)
		if err != nil {
			return fmt.Errorf("downloading image: %w", err)
		}
		imagePath = path
		cleanup = c

	default:
		return fmt.Errorf("no image data or URL provided")
	}
	defer cleanup()

	return label.PrintStickerImage(label.StickerImageOptions{
		ImagePath:  imagePath,
		DevicePath: printer.DevicePath,
	})
}

func (d *Dispatcher) dispatchOpenDrawer(printer *registry.PrinterInfo) error {
	p := receipt.NewPrinter(printer.DevicePath)
	p.Logger = d.logger
	return p.OpenDrawer()
}

// downloadImage fetches sticker artwork into a temp file, picking the
// extension from the Content-Type or the URL. The download is capped at
// 10MB.
func downloadImage(imageURL string) (string, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("creating request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	ext := imageExtension(resp.Header.Get("Content-Type"), imageURL)
	tmpPath := filepath.Join(TempImageDir(), "sticker-"+uuid.NewString()+ext)
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return "", nil, fmt.Errorf("creating temp file: %w", err)
	}

	if _, err := io.Copy(tmpFile, io.LimitReader(resp.Body, maxImageDownload)); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", nil, fmt.Errorf("saving image: %w", err)
	}
	tmpFile.Close()

	return tmpPath, func() { os.Remove(tmpPath) }, nil
}

func imageExtension(contentType, imageURL string) string {
	switch {
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return ".jpg"
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "gif"):
		return ".gif"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	}
	lower := strings.ToLower(imageURL)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return ".jpg"
	case strings.HasSuffix(lower, ".gif"):
		return ".gif"
	case strings.HasSuffix(lower, ".webp"):
		return ".webp"
	}
	return ".png"
}

// TempImageDir is where downloaded artwork is staged.
func TempImageDir() string {
	dir := filepath.Join(os.TempDir(), "print-agent")
	os.MkdirAll(dir, 0o755)
	return dir
}
