// Package board is the queue health core of queuewatch. It classifies queue
// telemetry into severities, holds the current set of queues in a Registry
// that is swapped wholesale on every refresh (carrying acknowledgement state
// and event history forward by server/queue key), and derives the triage and
// per-server views the API serves.
package board
