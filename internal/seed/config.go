// Package seed generates encrypted analytics traffic for a running vault
// and reads the resulting statistics back.
package seed

import (
	"time"

	"github.com/okian/vault/internal/domain/model"
)

// Config holds configuration for a seed run.
type Config struct {
	BaseURL    string        // Base URL of the service
	KeyDir     string        // Key ring directory shared with the service
	Accounts   int           // Number of accounts to create
	Users      int           // Number of users per account
	Events     int           // Number of events per account
	Days       int           // Events are spread over this many days before now
	Anonymous  float64       // Share of events sent without a user secret
	BatchSize  int           // Events per POST /events request
	Workers    int           // Number of concurrent submitters
	Timeout    time.Duration // HTTP request timeout
	Seed       uint64        // Random seed; runs with the same seed generate the same pages
	Settle     time.Duration // How long to wait for queued events to show up in stats
	OutputFile string        // Optional file the generated traffic is written to
	LogFile    string        // Log file for the run
	Verbose    bool          // Enable verbose logging
}

// Account is the generated traffic of one account.
type Account struct {
	ID      string                  `json:"accountId"`
	Secrets []model.EncryptedSecret `json:"secrets"`
	Events  []model.EncryptedEvent  `json:"events"`

	// Pageviews counts the identified events, the ones stats report.
	Pageviews int `json:"-"`
}

// Traffic is everything a seed run generated.
type Traffic struct {
	Accounts []Account `json:"accounts"`
}

// Stats holds run statistics.
type Stats struct {
	EventsGenerated  int
	EventsSubmitted  int
	EventsAccepted   int
	EventsDuplicate  int
	EventsFailed     int
	SecretsSubmitted int
	StatsRetrieved   int
	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
}
