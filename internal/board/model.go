package board

import "time"

// Severity is the health classification of a queue.
type Severity string

const (
	// SeverityOK means the queue is healthy
	SeverityOK Severity = "ok"

	// SeverityWarning means the queue should be checked soon
	SeverityWarning Severity = "warning"

	// SeverityCritical means the queue needs immediate attention
	SeverityCritical Severity = "critical"

	// SeverityOff is reserved for connectivity loss. Classify never returns it.
	SeverityOff Severity = "off"
)

// Weight orders severities for triage, higher first.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityWarning:
		return 3
	case SeverityOff:
		return 2
	case SeverityOK:
		return 1
	default:
		return 0
	}
}

// NeedsAttention reports whether the severity is warning or critical.
func (s Severity) NeedsAttention() bool {
	return s == SeverityWarning || s == SeverityCritical
}

// MaxEvents caps the per-queue event log.
const MaxEvents = 50

// Event is one entry in a queue's event log.
type Event struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Key identifies a queue across refreshes.
type Key struct {
	Server string
	Queue  string
}

// RawQueueRecord is one queue as reported by the collector, after decoding.
// MessageCount has already been coerced to a number.
type RawQueueRecord struct {
	ServerName   string
	QueueName    string
	MessageCount int64
	Status       string
}

// Queue is the canonical monitored state of one queue.
type Queue struct {
	ID           string    `json:"id"`
	ServerName   string    `json:"server_name"`
	QueueName    string    `json:"queue_name"`
	DisplayName  string    `json:"display_name"`
	MessageCount int64     `json:"message_count"`
	Status       string    `json:"status,omitempty"`
	Severity     Severity  `json:"severity"`
	Acknowledged bool      `json:"acknowledged"`
	LastEventAt  time.Time `json:"last_event_at"`
	Events       []Event   `json:"events,omitempty"`
}

// Key returns the identity used to carry state across refreshes.
func (q *Queue) Key() Key {
	return Key{Server: q.ServerName, Queue: q.QueueName}
}

// clone returns a deep copy so callers never share the registry's slices.
func (q *Queue) clone() Queue {
	cp := *q
	if q.Events != nil {
		cp.Events = make([]Event, len(q.Events))
		copy(cp.Events, q.Events)
	}
	return cp
}

// prependEvent adds e at the head of the log and enforces MaxEvents.
func (q *Queue) prependEvent(e Event) {
	events := make([]Event, 0, min(len(q.Events)+1, MaxEvents))
	events = append(events, e)
	events = append(events, q.Events...)
	if len(events) > MaxEvents {
		events = events[:MaxEvents]
	}
	q.Events = events
	if e.Time.After(q.LastEventAt) {
		q.LastEventAt = e.Time
	}
}

// ServerStatus is the reachability reported by the configured-servers feed.
type ServerStatus string

const (
	ServerUnknown     ServerStatus = "unknown"
	ServerReachable   ServerStatus = "reachable"
	ServerUnreachable ServerStatus = "unreachable"
)

// ConfiguredServer is one entry from the configured-servers feed.
type ConfiguredServer struct {
	Name   string       `json:"name"`
	Status ServerStatus `json:"status"`
}

// ServerTile is the per-server summary shown on the board.
type ServerTile struct {
	Name         string       `json:"name"`
	Status       ServerStatus `json:"status"`
	Unreachable  bool         `json:"unreachable"`
	QueueIDs     []string     `json:"queue_ids,omitempty"`
	QueueCount   int          `json:"queue_count"`
	ErrorCount   int          `json:"error_count"`
	WarningCount int          `json:"warning_count"`
}
