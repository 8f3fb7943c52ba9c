// Command seed-events fills a running vault with generated encrypted traffic.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/vault/internal/seed"
)

const (
	defaultAccounts  = 3
	defaultUsers     = 20
	defaultEvents    = 1000
	defaultDays      = 7
	defaultAnonymous = 0.1
	defaultBatch     = 100
	defaultWorkers   = 2 // multiplier for runtime.NumCPU()
	defaultTimeout   = 30 * time.Second
	defaultSettle    = 30 * time.Second
	runTimeout       = 10 * time.Minute
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:9080", "Base URL of the service")
		keyDir    = flag.String("keys", "keys", "Key ring directory shared with the service")
		accounts  = flag.Int("accounts", defaultAccounts, "Number of accounts")
		users     = flag.Int("users", defaultUsers, "Users per account")
		events    = flag.Int("events", defaultEvents, "Events per account")
		days      = flag.Int("days", defaultDays, "Spread events over this many days")
		anonymous = flag.Float64("anonymous", defaultAnonymous, "Share of anonymous events")
		batchSize = flag.Int("batch", defaultBatch, "Events per request")
		workers   = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Concurrent submitters")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		settle    = flag.Duration("settle", defaultSettle, "Wait for events to be processed")
		seedValue = flag.Uint64("seed", 1, "Random seed")
		output    = flag.String("output", "", "Write generated traffic to this JSON file")
		logFile   = flag.String("log", "", "Log file (default: seed_TIMESTAMP.log)")
		verbose   = flag.Bool("verbose", false, "Enable verbose logging")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		seed.ShowHelp(os.Stdout)
		return
	}

	closer, err := seed.SetupLogging(*logFile, *verbose)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = closer.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := &seed.Config{
		BaseURL:    *baseURL,
		KeyDir:     *keyDir,
		Accounts:   *accounts,
		Users:      *users,
		Events:     *events,
		Days:       *days,
		Anonymous:  *anonymous,
		BatchSize:  *batchSize,
		Workers:    *workers,
		Timeout:    *timeout,
		Settle:     *settle,
		Seed:       *seedValue,
		OutputFile: *output,
		LogFile:    *logFile,
		Verbose:    *verbose,
	}
	if _, err := seed.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Seed failed: " + err.Error() + "\n")
		return
	}
}
