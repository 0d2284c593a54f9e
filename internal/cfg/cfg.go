package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"time"
)

// Config holds application settings. Each field maps to a flag and to a
// QUEUEWATCH_ environment variable filled by go-core cfg.FillFromEnv.
type Config struct {
	DrainSeconds           int
	ShutdownBudgetSeconds  int
	APIPort                int
	CollectorURL           string
	RefreshIntervalSeconds int
	FetchTimeoutMS         int
	AttentionLimit         int
	APIToken               string
	DatabaseURL            string
	JournalRetention       int
	SlackWebhookURL        string
	ClaudeAPIKey           string
	ClaudeModel            string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.CollectorURL, "collector-url", "", "base URL of the EMS queue collector")
	fs.IntVar(&c.RefreshIntervalSeconds, "refresh-interval-seconds", 300, "seconds between automatic refreshes (1..86400)")
	fs.IntVar(&c.FetchTimeoutMS, "fetch-timeout-ms", 3000, "timeout for one refresh fetch in milliseconds (100..60000)")
	fs.IntVar(&c.AttentionLimit, "attention-limit", 12, "attention entries shown before collapsing into a count (1..500)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required for acknowledgements and manual refreshes (empty = open)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the journal (empty = in-memory journal)")
	fs.IntVar(&c.JournalRetention, "journal-retention", 500, "entries kept per kind by the in-memory journal (1..100000)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for escalations (empty = disabled)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for Claude shift briefings (empty = disabled)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model used for shift briefings")
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

	if c.CollectorURL == "" {
		errs = append(errs, errors.New("COLLECTOR_URL is required"))
	} else if u, err := url.Parse(c.CollectorURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid COLLECTOR_URL %q (must be an absolute http(s) URL)", c.CollectorURL))
	}

	if c.RefreshIntervalSeconds <= 0 || c.RefreshIntervalSeconds > 86400 {
		errs = append(errs, fmt.Errorf("invalid REFRESH_INTERVAL_SECONDS %d (must be 1..86400)", c.RefreshIntervalSeconds))
	}
	if c.FetchTimeoutMS < 100 || c.FetchTimeoutMS > 60000 {
		errs = append(errs, fmt.Errorf("invalid FETCH_TIMEOUT_MS %d (must be 100..60000)", c.FetchTimeoutMS))
	}

	// A fetch must finish well inside one refresh interval
	if c.RefreshIntervalSeconds > 0 && c.FetchTimeoutMS >= c.RefreshIntervalSeconds*1000 {
		errs = append(errs, fmt.Errorf("FETCH_TIMEOUT_MS %d must be less than REFRESH_INTERVAL_SECONDS %d", c.FetchTimeoutMS, c.RefreshIntervalSeconds))
	}

	if c.AttentionLimit <= 0 || c.AttentionLimit > 500 {
		errs = append(errs, fmt.Errorf("invalid ATTENTION_LIMIT %d (must be 1..500)", c.AttentionLimit))
	}
	if c.JournalRetention <= 0 || c.JournalRetention > 100000 {
		errs = append(errs, fmt.Errorf("invalid JOURNAL_RETENTION %d (must be 1..100000)", c.JournalRetention))
	}

	// Briefings need a model once a key is set
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// RefreshInterval is the countdown between automatic refreshes.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// FetchTimeout bounds one refresh fetch.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMS) * time.Millisecond
}

// BriefingEnabled reports whether shift briefings should be generated.
func (c *Config) BriefingEnabled() bool {
	return c.ClaudeAPIKey != ""
}
