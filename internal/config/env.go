package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment keys understood by devicepool.
const (
	EnvDBPath           = "DEVICEPOOL_DB_PATH"
	EnvProbeTimeout     = "PROBE_TIMEOUT"
	EnvProbeConcurrency = "PROBE_CONCURRENCY"
	EnvDeviceAllowlist  = "DEVICE_ALLOWLIST"
	EnvRemotePath       = "REMOTE_WD_PATH"
	EnvWebBrowser       = "WEB_BROWSER"
	EnvWorkerInput      = "DEVICEPOOL_WORKER_INPUT"

	EnvPerfectoCloudURL     = "PERFECTO_CLOUD_URL"
	EnvPerfectoToken        = "PERFECTO_SECURITY_TOKEN"
	EnvPerfectoUser         = "PERFECTO_USER"
	EnvPerfectoTimeout      = "PERFECTO_TIMEOUT"
	EnvPerfectoMachineLabel = "PERFECTO_MACHINE_LABEL"

	EnvLedgerAppToken = "LEDGER_BITABLE_APP_TOKEN"
	EnvLedgerTableID  = "LEDGER_BITABLE_TABLE_ID"
)

// String returns the trimmed variable or fallback when unset.
func String(key, fallback string) string {
	_ = Ensure()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Duration parses a Go duration, falling back on absence or parse errors.
func Duration(key string, fallback time.Duration) time.Duration {
	_ = Ensure()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// Int parses an integer, falling back on absence or parse errors.
func Int(key string, fallback int) int {
	_ = Ensure()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// Bool accepts 1/true/yes and 0/false/no.
func Bool(key string, fallback bool) bool {
	_ = Ensure()
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes":
			return true
		case "0", "false", "no":
			return false
		}
	}
	return fallback
}
