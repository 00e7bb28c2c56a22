package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	reg := New()

	reg.Register(PrinterInfo{
		ID:         "test-printer",
		Type:       PrinterTypeReceipt,
		DevicePath: "/dev/test",
		Available:  true,
	})

	got, err := reg.Get("test-printer")
	require.NoError(t, err)
	assert.Equal(t, "test-printer", got.ID)
	assert.Equal(t, PrinterTypeReceipt, got.Type)
	assert.Equal(t, "/dev/test", got.DevicePath)
}

func TestGetNotFound(t *testing.T) {
	reg := New()
	_, err := reg.Get("nonexistent")
	assert.Error(t, err)
}

func TestGetByType(t *testing.T) {
	reg := New()
	reg.Register(PrinterInfo{ID: "receipt-1", Type: PrinterTypeReceipt, DevicePath: "/dev/r1"})
	reg.Register(PrinterInfo{ID: "receipt-2", Type: PrinterTypeReceipt, DevicePath: "/dev/r2", Available: true})
	reg.Register(PrinterInfo{ID: "label-1", Type: PrinterTypeLabel, DevicePath: "/dev/l1", Available: true})

	got, err := reg.GetByType(PrinterTypeReceipt)
	require.NoError(t, err)
	assert.Equal(t, "receipt-2", got.ID, "unavailable printers must be skipped")

	got, err = reg.GetByType(PrinterTypeLabel)
	require.NoError(t, err)
	assert.Equal(t, "label-1", got.ID)

	_, err = reg.GetByType(PrinterTypeA4)
	assert.Error(t, err)
}

func TestListAndAvailable(t *testing.T) {
	reg := New()
	reg.Register(PrinterInfo{ID: "a", Type: PrinterTypeReceipt, Available: true})
	reg.Register(PrinterInfo{ID: "b", Type: PrinterTypeLabel, Available: false})

	assert.Len(t, reg.List(), 2)
	available := reg.Available()
	require.Len(t, available, 1)
	assert.Equal(t, "a", available[0].ID)
}

func TestRegisterReplaces(t *testing.T) {
	reg := New()
	reg.Register(PrinterInfo{ID: "p", DevicePath: "/dev/old"})
	reg.Register(PrinterInfo{ID: "p", DevicePath: "/dev/new"})

	got, err := reg.Get("p")
	require.NoError(t, err)
	assert.Equal(t, "/dev/new", got.DevicePath)
	assert.Len(t, reg.List(), 1)
}

func TestClear(t *testing.T) {
	reg := New()
	reg.Register(PrinterInfo{ID: "p", Type: PrinterTypeReceipt})
	reg.Clear()
	assert.Empty(t, reg.List())
}

func TestChangesChanged(t *testing.T) {
	assert.False(t, Changes{}.Changed())
	assert.True(t, Changes{Added: []*PrinterInfo{{ID: "x"}}}.Changed())
	assert.True(t, Changes{Removed: []*PrinterInfo{{ID: "x"}}}.Changed())
}

func TestRefreshAvailabilityMarksMissingDevices(t *testing.T) {
	reg := New()
	reg.Register(PrinterInfo{
		ID:         "ghost",
		Type:       PrinterTypeReceipt,
		DevicePath: "/nonexistent/device",
		Available:  true,
	})

	reg.RefreshAvailability()

	got, err := reg.Get("ghost")
	require.NoError(t, err)
	assert.False(t, got.Available)
}

func TestScanCandidatesIncludesKnownDevices(t *testing.T) {
	ids := make(map[string]bool)
	for _, c := range scanCandidates() {
		ids[c.id] = true
	}
	assert.True(t, ids["epson-receipt"])
	assert.True(t, ids["brother-label"])
}
