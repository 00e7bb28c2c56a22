package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringEnv(t *testing.T) {
	t.Setenv("CONFIG_TEST_STRING", "set")
	assert.Equal(t, "set", StringEnv("CONFIG_TEST_STRING", "fallback"))
	assert.Equal(t, "fallback", StringEnv("CONFIG_TEST_UNSET", "fallback"))

	t.Setenv("CONFIG_TEST_EMPTY", "")
	assert.Equal(t, "fallback", StringEnv("CONFIG_TEST_EMPTY", "fallback"))
}

func TestDurationEnv(t *testing.T) {
	t.Setenv("CONFIG_TEST_DURATION", "1m30s")
	assert.Equal(t, 90*time.Second, DurationEnv("CONFIG_TEST_DURATION", time.Second))

	assert.Equal(t, time.Second, DurationEnv("CONFIG_TEST_DURATION_UNSET", time.Second))

	t.Setenv("CONFIG_TEST_DURATION_BAD", "soon")
	assert.Equal(t, time.Second, DurationEnv("CONFIG_TEST_DURATION_BAD", time.Second))
}

func TestLoadFromEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "PRINT_AGENT_API_URL=https://api.example\n" +
		"PRINT_AGENT_API_KEY=key-1\n" +
		"PRINT_AGENT_API_SECRET=secret-1\n" +
		"PRINT_AGENT_POLL_INTERVAL=5s\n" +
		"PRINT_AGENT_HEALTH_ADDR=:8931\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	// godotenv does not override variables already present
	for _, key := range []string{
		"PRINT_AGENT_API_URL", "PRINT_AGENT_API_KEY", "PRINT_AGENT_API_SECRET",
		"PRINT_AGENT_POLL_INTERVAL", "PRINT_AGENT_HEALTH_ADDR",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := Load(envFile)
	assert.Equal(t, "https://api.example", cfg.APIURL)
	assert.Equal(t, "key-1", cfg.APIKey)
	assert.Equal(t, "secret-1", cfg.APISecret)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, ":8931", cfg.HealthAddr)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.SyncInterval)
}

func TestLoadMissingEnvFile(t *testing.T) {
	t.Setenv("PRINT_AGENT_API_URL", "https://env.example")

	cfg := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.Equal(t, "https://env.example", cfg.APIURL)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
}

func TestResolveReceiptDeviceFlagWins(t *testing.T) {
	t.Setenv("RECEIPT_PRINTER_DEVICE", "/dev/usb/lp7")
	assert.Equal(t, "/dev/ttyUSB0", ResolveReceiptDevice("/dev/ttyUSB0"))
}

func TestResolveReceiptDeviceFromEnv(t *testing.T) {
	t.Setenv("RECEIPT_PRINTER_DEVICE", "/dev/usb/lp7")
	assert.Equal(t, "/dev/usb/lp7", ResolveReceiptDevice(""))
}
