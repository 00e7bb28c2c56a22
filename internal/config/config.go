// Package config loads agent settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/storeprint/print-agent/internal/registry"
)

// Agent holds everything the run command needs.
type Agent struct {
	APIURL       string
	APIKey       string
	APISecret    string
	PollInterval time.Duration
	PingInterval time.Duration
	SyncInterval time.Duration
	HealthAddr   string
}

// Load reads the .env file at path ("" means ./.env) and then the
// process environment. A missing .env file is not an error; deployed
// hosts set real environment variables instead.
func Load(path string) Agent {
	if path == "" {
		path = ".env"
	}
	_ = godotenv.Load(path)

	return Agent{
		APIURL:       os.Getenv("PRINT_AGENT_API_URL"),
		APIKey:       os.Getenv("PRINT_AGENT_API_KEY"),
		APISecret:    os.Getenv("PRINT_AGENT_API_SECRET"),
		PollInterval: DurationEnv("PRINT_AGENT_POLL_INTERVAL", 2*time.Second),
		PingInterval: DurationEnv("PRINT_AGENT_PING_INTERVAL", 30*time.Second),
		SyncInterval: DurationEnv("PRINT_AGENT_SYNC_INTERVAL", 10*time.Second),
		HealthAddr:   os.Getenv("PRINT_AGENT_HEALTH_ADDR"),
	}
}

// StringEnv returns the variable or the fallback when unset or empty.
func StringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// DurationEnv parses the variable as a Go duration, falling back on
// absence or parse failure.
func DurationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// ResolveReceiptDevice picks the receipt printer device: the explicit
// flag wins, then RECEIPT_PRINTER_DEVICE, then a host scan, then the
// udev name the printer gets on our tills.
func ResolveReceiptDevice(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("RECEIPT_PRINTER_DEVICE"); env != "" {
		return env
	}
	reg := registry.New()
	reg.Detect()
	if p, err := reg.GetByType(registry.PrinterTypeReceipt); err == nil {
		return p.DevicePath
	}
	return "/dev/usb/epson_tmt20iii"
}
