package journal

import (
	"time"

	"github.com/linnemanlabs/queuewatch/internal/board"
)

// Trigger names what started a refresh.
type Trigger string

const (
	// TriggerTimer is the countdown reaching zero
	TriggerTimer Trigger = "timer"

	// TriggerManual is an operator asking for a refresh
	TriggerManual Trigger = "manual"

	// TriggerStartup is the initial load when the session starts
	TriggerStartup Trigger = "startup"
)

// RefreshRecord is one refresh attempt.
type RefreshRecord struct {
	ID             string        `json:"id"`
	Generation     uint64        `json:"generation"`
	Trigger        Trigger       `json:"trigger"`
	Outcome        board.Outcome `json:"outcome"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Duration       float64       `json:"duration_seconds"`
	RecordCount    int           `json:"record_count"`
	QueueCount     int           `json:"queue_count"`
	AttentionCount int           `json:"attention_count"`
	Added          int           `json:"added"`
	Dropped        int           `json:"dropped"`
	Escalated      int           `json:"escalated"`
	Error          string        `json:"error,omitempty"`
}

// AckRecord is one acknowledgement toggle.
type AckRecord struct {
	ID           string    `json:"id"`
	QueueID      string    `json:"queue_id"`
	ServerName   string    `json:"server_name"`
	QueueName    string    `json:"queue_name"`
	Acknowledged bool      `json:"acknowledged"`
	Severity     string    `json:"severity"`
	At           time.Time `json:"at"`
}
