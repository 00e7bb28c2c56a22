// Package registry tracks the printer devices attached to the host and
// their availability over time.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// PrinterType classifies a printer by the jobs it can take.
type PrinterType string

const (
	PrinterTypeReceipt PrinterType = "receipt"
	PrinterTypeLabel   PrinterType = "label"
	PrinterTypeA4      PrinterType = "a4"
)

// PrinterInfo describes one registered printer.
type PrinterInfo struct {
	ID         string      `json:"id"`
	Type       PrinterType `json:"type"`
	DevicePath string      `json:"device_path"`
	Available  bool        `json:"available"`
}

// Changes lists printers that appeared or disappeared between two scans.
type Changes struct {
	Added   []*PrinterInfo
	Removed []*PrinterInfo
}

// Changed reports whether the scan saw any difference.
func (c Changes) Changed() bool {
	return len(c.Added) > 0 || len(c.Removed) > 0
}

// candidate is a device path under a stable ID, before probing.
type candidate struct {
	id    string
	path  string
	ptype PrinterType
}

// knownDevices are the udev-aliased paths the store hosts use. Generic
// /dev/usb/lp* and /dev/lp* nodes are picked up dynamically, deduplicated
// against these through symlink resolution.
var knownDevices = []candidate{
	{"epson-receipt", "/dev/usb/epson_tmt20iii", PrinterTypeReceipt},
	{"brother-label", "/dev/usb/brother_ql800", PrinterTypeLabel},
}

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	printers  map[string]*PrinterInfo
	lastAvail map[string]bool
}

func New() *Registry {
	return &Registry{
		printers:  make(map[string]*PrinterInfo),
		lastAvail: make(map[string]bool),
	}
}

// Register adds or replaces a printer.
func (r *Registry) Register(info PrinterInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printers[info.ID] = &info
}

// Get retrieves a printer by ID.
func (r *Registry) Get(id string) (*PrinterInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.printers[id]
	if !ok {
		return nil, fmt.Errorf("printer not found: %s", id)
	}
	return p, nil
}

// GetByType returns the first available printer of the given type.
func (r *Registry) GetByType(t PrinterType) (*PrinterInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.printers {
		if p.Type == t && p.Available {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no available printer of type: %s", t)
}

// List returns all registered printers.
func (r *Registry) List() []*PrinterInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PrinterInfo, 0, len(r.printers))
	for _, p := range r.printers {
		out = append(out, p)
	}
	return out
}

// Available returns the printers that currently accept jobs.
func (r *Registry) Available() []*PrinterInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PrinterInfo, 0)
	for _, p := range r.printers {
		if p.Available {
			out = append(out, p)
		}
	}
	return out
}

// RefreshAvailability re-probes every registered device.
func (r *Registry) RefreshAvailability() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.printers {
		p.Available = deviceWritable(p.DevicePath)
	}
}

// Clear drops all printers and scan history.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.printers = make(map[string]*PrinterInfo)
	r.lastAvail = make(map[string]bool)
}

// Detect scans the host for printer devices and registers any that are
// not yet known.
func (r *Registry) Detect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range scanCandidates() {
		if _, exists := r.printers[c.id]; exists {
			continue
		}
		r.printers[c.id] = &PrinterInfo{
			ID:         c.id,
			Type:       c.ptype,
			DevicePath: c.path,
			Available:  deviceWritable(c.path),
		}
	}
}

// DetectChanges rescans the host and reports printers that came up or
// went away since the previous scan. Removed printers stay registered
// with Available set to false.
func (r *Registry) DetectChanges() Changes {
	r.mu.Lock()
	defer r.mu.Unlock()

	var changes Changes
	current := make(map[string]bool)

	for _, c := range scanCandidates() {
		available := deviceWritable(c.path)
		current[c.id] = available
		if !available {
			continue
		}
		p, ok := r.printers[c.id]
		if !ok {
			p = &PrinterInfo{ID: c.id, Type: c.ptype, DevicePath: c.path}
			r.printers[c.id] = p
		}
		p.Available = true
		if !r.lastAvail[c.id] {
			changes.Added = append(changes.Added, p)
		}
	}

	for id, wasAvailable := range r.lastAvail {
		if !wasAvailable || current[id] {
			continue
		}
		if p, ok := r.printers[id]; ok {
			p.Available = false
			changes.Removed = append(changes.Removed, p)
		}
	}

	r.lastAvail = current
	return changes
}

// scanCandidates returns the known aliased devices plus any generic line
// printer nodes that do not resolve to one of them.
func scanCandidates() []candidate {
	candidates := make([]candidate, len(knownDevices))
	copy(candidates, knownDevices)

	seen := make(map[string]bool)
	for _, c := range knownDevices {
		seen[c.path] = true
		if resolved, err := filepath.EvalSymlinks(c.path); err == nil {
			seen[resolved] = true
		}
	}

	for _, scan := range []struct {
		pattern string
		prefix  string
	}{
		{"/dev/usb/lp*", "usb-lp"},
		{"/dev/lp*", "lp"},
	} {
		matches, _ := filepath.Glob(scan.pattern)
		for i, path := range matches {
			resolved, _ := filepath.EvalSymlinks(path)
			if seen[path] || seen[resolved] {
				continue
			}
			candidates = append(candidates, candidate{
				id:    fmt.Sprintf("%s%d", scan.prefix, i),
				path:  path,
				ptype: PrinterTypeReceipt,
			})
		}
	}
	return candidates
}

func deviceWritable(path string) bool {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
