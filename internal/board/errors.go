package board

import "errors"

var (
	// ErrFetchFailed covers network errors, timeouts, bad status codes and
	// undecodable bodies from the collector.
	ErrFetchFailed = errors.New("telemetry fetch failed")

	// ErrEmptyResult means the collector answered with zero queues.
	ErrEmptyResult = errors.New("telemetry returned no queues")

	// ErrNotFound means a queue id does not reference a live queue.
	ErrNotFound = errors.New("queue not found")

	// ErrStaleGeneration means a refresh older than the applied one tried to
	// replace the registry.
	ErrStaleGeneration = errors.New("stale refresh generation")
)

// Outcome is the result class of one refresh attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeEmpty   Outcome = "empty"
	OutcomeFailed  Outcome = "failed"
	OutcomeStale   Outcome = "stale"
)

// OutcomeOf classifies the error returned by a refresh attempt.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrEmptyResult):
		return OutcomeEmpty
	case errors.Is(err, ErrStaleGeneration):
		return OutcomeStale
	default:
		return OutcomeFailed
	}
}
