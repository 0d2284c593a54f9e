package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/queuewatch/internal/board"
	"github.com/linnemanlabs/queuewatch/internal/journal"
)

const (
	// DefaultInterval is the countdown between automatic refreshes.
	DefaultInterval = 300 * time.Second

	// DefaultFetchTimeout bounds one refresh attempt.
	DefaultFetchTimeout = 3 * time.Second
)

// State is the scheduler's fetch state.
type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
)

// FetchFunc performs one refresh attempt. The context carries the fetch
// timeout.
type FetchFunc func(ctx context.Context, trigger journal.Trigger) error

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	State               State         `json:"state"`
	SecondsUntilRefresh int           `json:"seconds_until_refresh"`
	LastAttemptAt       time.Time     `json:"last_attempt_at,omitzero"`
	LastSuccessAt       time.Time     `json:"last_success_at,omitzero"`
	LastOutcome         board.Outcome `json:"last_outcome,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
}

// Scheduler runs the refresh countdown and guarantees at most one fetch in
// flight. Countdown expiry and manual triggers both go through the same
// compare-and-set on the fetching flag.
type Scheduler struct {
	fetch    FetchFunc
	interval int
	timeout  time.Duration
	logger   log.Logger
	now      func() time.Time

	fetching atomic.Bool
	inflight sync.WaitGroup

	mu          sync.Mutex
	remaining   int
	lastAttempt time.Time
	lastSuccess time.Time
	lastOutcome board.Outcome
	lastErr     string
}

// NewScheduler creates an idle scheduler. Non-positive durations fall back
// to the defaults; the interval is counted in whole seconds.
func NewScheduler(fetch FetchFunc, interval, timeout time.Duration, logger log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Nop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	secs := max(int(interval/time.Second), 1)
	return &Scheduler{
		fetch:     fetch,
		interval:  secs,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
		remaining: secs,
	}
}

// Tick advances the countdown by one second. At zero it starts a timer
// refresh in the background and reports true. The countdown holds while a
// fetch is in flight.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if s.fetching.Load() {
		return false
	}
	s.mu.Lock()
	s.remaining--
	expired := s.remaining <= 0
	s.mu.Unlock()

	if !expired {
		return false
	}
	return s.Trigger(ctx, journal.TriggerTimer)
}

// Trigger starts a background refresh unless one is already running, in
// which case it returns false and changes nothing. The refresh outlives the
// caller's context; only the fetch timeout bounds it.
func (s *Scheduler) Trigger(ctx context.Context, trigger journal.Trigger) bool {
	if !s.fetching.CompareAndSwap(false, true) {
		return false
	}
	s.resetCountdown()

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.attempt(context.WithoutCancel(ctx), trigger)
	}()
	return true
}

// TryRefresh runs a refresh synchronously. ok is false when another fetch
// was already in flight.
func (s *Scheduler) TryRefresh(ctx context.Context, trigger journal.Trigger) (outcome board.Outcome, ok bool) {
	if !s.fetching.CompareAndSwap(false, true) {
		return "", false
	}
	s.resetCountdown()
	return s.attempt(ctx, trigger), true
}

// attempt must only be called while holding the fetching flag.
func (s *Scheduler) attempt(ctx context.Context, trigger journal.Trigger) board.Outcome {
	fctx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.fetch(fctx, trigger)
	if err != nil && errors.Is(fctx.Err(), context.DeadlineExceeded) && !errors.Is(err, board.ErrFetchFailed) {
		err = fmt.Errorf("%w: %w", board.ErrFetchFailed, err)
	}
	cancel()

	outcome := board.OutcomeOf(err)
	now := s.now()

	s.mu.Lock()
	s.remaining = s.interval
	s.lastAttempt = now
	s.lastOutcome = outcome
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	} else {
		s.lastSuccess = now
	}
	s.mu.Unlock()

	s.fetching.Store(false)
	return outcome
}

func (s *Scheduler) resetCountdown() {
	s.mu.Lock()
	s.remaining = s.interval
	s.mu.Unlock()
}

// Run ticks once per second until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	s.logger.Info(ctx, "refresh scheduler started", "interval_seconds", s.interval, "fetch_timeout", s.timeout.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "refresh scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Wait blocks until background refreshes started by Trigger have finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// Fetching reports whether a refresh is in flight.
func (s *Scheduler) Fetching() bool {
	return s.fetching.Load()
}

// Status returns the current scheduler state.
func (s *Scheduler) Status() SchedulerStatus {
	state := StateIdle
	if s.fetching.Load() {
		state = StateFetching
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStatus{
		State:               state,
		SecondsUntilRefresh: s.remaining,
		LastAttemptAt:       s.lastAttempt,
		LastSuccessAt:       s.lastSuccess,
		LastOutcome:         s.lastOutcome,
		LastError:           s.lastErr,
	}
}
