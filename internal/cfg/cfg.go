// Package cfg holds the server's flag-bound configuration and its
// validation rules.
package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds engine-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	DatabaseURL           string

	// integration platforms
	NACEndpoint   string
	NACUsername   string
	NACPassword   string
	DLPEndpoint   string
	DLPToken      string
	ScoreEndpoint string

	SlackWebhookURL string

	// tuning files; empty means built-in defaults
	ThresholdsFile  string
	DriftFieldsFile string

	// dispatcher retry knobs
	MaxAttempts     int
	BaseDelayMillis int

	// batch defaults
	BatchSize      int
	MaxConcurrency int

	// scoring queue drain interval
	PendingDrainSeconds int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests (empty = no auth)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.NACEndpoint, "nac-endpoint", "", "network access control API base URL")
	fs.StringVar(&c.NACUsername, "nac-username", "", "NAC API username")
	fs.StringVar(&c.NACPassword, "nac-password", "", "NAC API password")
	fs.StringVar(&c.DLPEndpoint, "dlp-endpoint", "", "data loss prevention API base URL")
	fs.StringVar(&c.DLPToken, "dlp-token", "", "DLP API token")
	fs.StringVar(&c.ScoreEndpoint, "score-endpoint", "", "anomaly-model inference API base URL (empty = ingest pre-scored events only)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for SOC notifications and escalations")
	fs.StringVar(&c.ThresholdsFile, "thresholds-file", "", "YAML severity threshold table (empty = built-in table)")
	fs.StringVar(&c.DriftFieldsFile, "drift-fields-file", "", "YAML drift field sensitivity map (empty = built-in map)")
	fs.IntVar(&c.MaxAttempts, "max-attempts", 4, "attempts per remediation action, first try included (1..10)")
	fs.IntVar(&c.BaseDelayMillis, "base-delay-ms", 500, "initial retry backoff in milliseconds (1..60000)")
	fs.IntVar(&c.BatchSize, "batch-size", 100, "default endpoints per batch chunk (1..10000)")
	fs.IntVar(&c.MaxConcurrency, "max-concurrency", 10, "default chunks in flight per batch (1..100)")
	fs.IntVar(&c.PendingDrainSeconds, "pending-drain-seconds", 30, "interval between scoring-queue drain attempts (1..3600)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// NAC credentials travel together
	if c.NACEndpoint != "" && (c.NACUsername == "" || c.NACPassword == "") {
		errs = append(errs, errors.New("NAC_ENDPOINT requires NAC_USERNAME and NAC_PASSWORD"))
	}
	if c.NACEndpoint == "" && (c.NACUsername != "" || c.NACPassword != "") {
		errs = append(errs, errors.New("NAC credentials set without NAC_ENDPOINT"))
	}

	// so does the DLP token
	if c.DLPEndpoint != "" && c.DLPToken == "" {
		errs = append(errs, errors.New("DLP_ENDPOINT requires DLP_TOKEN"))
	}
	if c.DLPEndpoint == "" && c.DLPToken != "" {
		errs = append(errs, errors.New("DLP_TOKEN set without DLP_ENDPOINT"))
	}

	if c.MaxAttempts <= 0 || c.MaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("invalid MAX_ATTEMPTS %d (must be 1..10)", c.MaxAttempts))
	}
	if c.BaseDelayMillis <= 0 || c.BaseDelayMillis > 60000 {
		errs = append(errs, fmt.Errorf("invalid BASE_DELAY_MS %d (must be 1..60000)", c.BaseDelayMillis))
	}

	if c.BatchSize <= 0 || c.BatchSize > 10000 {
		errs = append(errs, fmt.Errorf("invalid BATCH_SIZE %d (must be 1..10000)", c.BatchSize))
	}
	if c.MaxConcurrency <= 0 || c.MaxConcurrency > 100 {
		errs = append(errs, fmt.Errorf("invalid MAX_CONCURRENCY %d (must be 1..100)", c.MaxConcurrency))
	}

	if c.PendingDrainSeconds <= 0 || c.PendingDrainSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid PENDING_DRAIN_SECONDS %d (must be 1..3600)", c.PendingDrainSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
