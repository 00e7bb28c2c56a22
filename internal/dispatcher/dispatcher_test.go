package dispatcher

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storeprint/print-agent/internal/api"
	"github.com/storeprint/print-agent/internal/registry"
)

func newTestRegistry() *registry.Registry {
	reg := registry.New()
	reg.Register(registry.PrinterInfo{
		ID:         "epson-receipt",
		Type:       registry.PrinterTypeReceipt,
		DevicePath: "/dev/usb/epson_tmt20iii",
		Available:  true,
	})
	reg.Register(registry.PrinterInfo{
		ID:         "brother-label",
		Type:       registry.PrinterTypeLabel,
		DevicePath: "/dev/usb/brother_ql800",
		Available:  true,
	})
	return reg
}

func TestResolvePrinterByCode(t *testing.T) {
	d := New(newTestRegistry(), zap.NewNop())

	job := api.Job{Type: api.JobTypeLabel, Printer: api.JobPrinter{Code: "epson-receipt"}}
	printer, err := d.resolvePrinter(job)
	require.NoError(t, err)
	// an explicit code wins even over the type mapping
	assert.Equal(t, "epson-receipt", printer.ID)
}

func TestResolvePrinterByType(t *testing.T) {
	d := New(newTestRegistry(), zap.NewNop())

	tests := []struct {
		jobType api.JobType
		want    string
	}{
		{api.JobTypeReceipt, "epson-receipt"},
		{api.JobTypeOpenDrawer, "epson-receipt"},
		{api.JobTypeLabel, "brother-label"},
		{api.JobTypeStickerImage, "brother-label"},
	}
	for _, tt := range tests {
		printer, err := d.resolvePrinter(api.Job{Type: tt.jobType})
		require.NoError(t, err, "job type %s", tt.jobType)
		assert.Equal(t, tt.want, printer.ID)
	}
}

func TestResolvePrinterNotFound(t *testing.T) {
	d := New(newTestRegistry(), zap.NewNop())

	_, err := d.resolvePrinter(api.Job{Type: api.JobTypeReceipt, Printer: api.JobPrinter{Code: "ghost"}})
	assert.Error(t, err)

	_, err = d.resolvePrinter(api.Job{Type: api.JobType("a4_document")})
	assert.Error(t, err)
}

func TestDispatchUnknownJobType(t *testing.T) {
	d := New(newTestRegistry(), zap.NewNop())

	err := d.Dispatch(api.Job{Type: api.JobType("fax"), Printer: api.JobPrinter{Code: "epson-receipt"}})
	assert.ErrorContains(t, err, "unknown job type")
}

func TestDispatchUnavailablePrinter(t *testing.T) {
	reg := registry.New()
	reg.Register(registry.PrinterInfo{
		ID:   "epson-receipt",
		Type: registry.PrinterTypeReceipt,
	})
	d := New(reg, zap.NewNop())

	err := d.Dispatch(api.Job{Type: api.JobTypeReceipt, Printer: api.JobPrinter{Code: "epson-receipt"}})
	assert.ErrorContains(t, err, "not available")
}

func TestDispatchBadPayloadNotRetried(t *testing.T) {
	config := Config{MaxRetries: 3, RetryDelay: time.Hour}
	d := NewWithConfig(newTestRegistry(), zap.NewNop(), config)

	// a retry with an hour delay would hang the test, so a fast return
	// proves the parse error short-circuits the retry loop
	done := make(chan error, 1)
	go func() {
		done <- d.Dispatch(api.Job{
			Type:    api.JobTypeLabel,
			Payload: []byte("{not json"),
			Printer: api.JobPrinter{Code: "brother-label"},
		})
	}()

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "parsing")
	case <-time.After(2 * time.Second):
		t.Fatal("parse failure was retried")
	}
}

func TestGetMutexPerPrinter(t *testing.T) {
	d := New(newTestRegistry(), zap.NewNop())

	m1 := d.getMutex("epson-receipt")
	m2 := d.getMutex("epson-receipt")
	m3 := d.getMutex("brother-label")

	assert.Same(t, m1, m2)
	assert.NotSame(t, m1, m3)
}

func TestGetMutexConcurrent(t *testing.T) {
	d := New(newTestRegistry(), zap.NewNop())

	var wg sync.WaitGroup
	mutexes := make([]*sync.Mutex, 20)
	for i := range mutexes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mutexes[i] = d.getMutex("epson-receipt")
		}(i)
	}
	wg.Wait()

	for _, m := range mutexes {
		assert.Same(t, mutexes[0], m)
	}
}

func TestRetryDelayGrowsExponentially(t *testing.T) {
	d := NewWithConfig(newTestRegistry(), zap.NewNop(), Config{MaxRetries: 4, RetryDelay: 2 * time.Second})

	assert.Equal(t, 2*time.Second, d.retryDelay(1))
	assert.Equal(t, 4*time.Second, d.retryDelay(2))
	assert.Equal(t, 8*time.Second, d.retryDelay(3))
}

func TestIsNonRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("parsing receipt payload: unexpected end of JSON input"), true},
		{errors.New("unknown job type: fax"), true},
		{errors.New("no image data or URL provided"), true},
		{errors.New("open /dev/usb/lp0: no such file or directory"), false},
		{fmt.Errorf("printing: %w", errors.New("device busy")), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isNonRetryable(tt.err), "%v", tt.err)
	}
}

func TestDownloadImage(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(payload)
	}))
	defer server.Close()

	path, cleanup, err := downloadImage(server.URL + "/art")
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, ".png", filepath.Ext(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadImageExtensionFromURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// no usable content type, the URL suffix decides
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("jpegdata"))
	}))
	defer server.Close()

	path, cleanup, err := downloadImage(server.URL + "/sticker.JPG")
	require.NoError(t, err)
	defer cleanup()
	assert.Equal(t, ".jpg", filepath.Ext(path))
}

func TestDownloadImageServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, _, err := downloadImage(server.URL + "/missing.png")
	assert.ErrorContains(t, err, "unexpected status code")
}

func TestImageExtension(t *testing.T) {
	tests := []struct {
		contentType string
		url         string
		want        string
	}{
		{"image/png", "http://x/a", ".png"},
		{"image/jpeg", "http://x/a", ".jpg"},
		{"image/gif", "http://x/a", ".gif"},
		{"image/webp", "http://x/a", ".webp"},
		{"", "http://x/a.jpeg", ".jpg"},
		{"", "http://x/a.webp", ".webp"},
		{"", "http://x/a", ".png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, imageExtension(tt.contentType, tt.url), "%s %s", tt.contentType, tt.url)
	}
}

func TestTempImageDir(t *testing.T) {
	dir := TempImageDir()
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, "print-agent", filepath.Base(dir))
}
