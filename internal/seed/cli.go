package seed

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/okian/vault/pkg/logger"
)

const logFilePermission = 0o600

// SetupLogging initializes the global logger writing to stdout and a log
// file. If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string, verbose bool) (io.Closer, error) {
	if logFile == "" {
		logFile = "seed_" + time.Now().Format("20060102_150405") + ".log"
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}
	if err := logger.Init(logger.WithOutput(io.MultiWriter(os.Stdout, file))); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	return file, nil
}

// ShowHelp prints usage information for the seed tool.
func ShowHelp(w io.Writer) {
	_, _ = io.WriteString(w, `Vault Seed Tool
===============

Generates encrypted pageview traffic for a running vault, submits it and
reads the resulting statistics back. Account keys are written to the key
directory the service reads from.

Usage:
  go run ./cmd/seed-events [options]

Options:
  -url string        Base URL of the service (default "http://localhost:9080")
  -keys string       Key ring directory shared with the service (default "keys")
  -accounts int      Number of accounts (default 3)
  -users int         Users per account (default 20)
  -events int        Events per account (default 1000)
  -days int          Spread events over this many days (default 7)
  -anonymous float   Share of anonymous events (default 0.1)
  -batch int         Events per request (default 100)
  -workers int       Concurrent submitters (default CPU cores * 2)
  -timeout duration  HTTP request timeout (default 30s)
  -settle duration   Wait for events to be processed (default 30s)
  -seed uint         Random seed (default 1)
  -output string     Write generated traffic to this JSON file
  -log string        Log file (default: seed_TIMESTAMP.log)
  -verbose           Enable verbose logging
  -help              Show this help message

Examples:
  go run ./cmd/seed-events -accounts 10 -events 50000 -workers 16
  go run ./cmd/seed-events -url http://localhost:8080 -keys /var/lib/vault/keys
`)
}
