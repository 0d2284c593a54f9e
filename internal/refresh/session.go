package refresh

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/queuewatch/internal/board"
	"github.com/linnemanlabs/queuewatch/internal/journal"
	"github.com/linnemanlabs/queuewatch/internal/journal/memstore"
)

var tracer = otel.Tracer("github.com/linnemanlabs/queuewatch/internal/refresh")

// Source is the telemetry the session reads from.
type Source interface {
	Queues(ctx context.Context) ([]board.RawQueueRecord, error)
	ConfiguredServers(ctx context.Context) ([]board.ConfiguredServer, error)
	ServerQueues(ctx context.Context, serverName string) ([]board.RawQueueRecord, error)
}

// Notifier delivers escalations for queues that just became critical.
type Notifier interface {
	NotifyEscalations(ctx context.Context, queues []board.Queue) error
}

// Briefer writes a short shift summary of the attention list.
type Briefer interface {
	Brief(ctx context.Context, page board.AttentionPage, counts board.Counts) (string, error)
}

// RefreshEvent describes a finished refresh attempt.
type RefreshEvent struct {
	Generation uint64
	Trigger    journal.Trigger
	Outcome    board.Outcome
	Duration   float64
	Records    int
	Escalated  int
}

// Hooks are optional callbacks the session fires as state changes.
type Hooks struct {
	OnRefresh  func(e *RefreshEvent)
	OnBoard    func(c board.Counts, attention int)
	OnAck      func(acknowledged bool)
	OnNotify   func(err error)
	OnBriefing func(err error)
}

// Options configures a Session. Zero values pick defaults.
type Options struct {
	Interval       time.Duration
	FetchTimeout   time.Duration
	AttentionLimit int
	Store          journal.Store
	Notifier       Notifier
	Briefer        Briefer
	Hooks          Hooks
	Logger         log.Logger
}

// Briefing is the latest shift summary.
type Briefing struct {
	Text       string    `json:"text"`
	Generation uint64    `json:"generation"`
	Attention  int       `json:"attention"`
	CreatedAt  time.Time `json:"created_at"`
}

// Status is the session view served to operators.
type Status struct {
	SchedulerStatus
	Generation uint64 `json:"generation"`
	Queues     int    `json:"queues"`
	Servers    int    `json:"servers"`
}

// noAttentionBriefing is stored without calling the briefer.
const noAttentionBriefing = "All queues are healthy or acknowledged. Nothing needs attention."

// Session owns the queue registry and everything that changes it: the
// refresh scheduler, acknowledgements and the journal.
type Session struct {
	source         Source
	registry       *board.Registry
	scheduler      *Scheduler
	store          journal.Store
	notifier       Notifier
	briefer        Briefer
	hooks          Hooks
	logger         log.Logger
	attentionLimit int
	fetchTimeout   time.Duration
	now            func() time.Time

	gen atomic.Uint64
	bg  sync.WaitGroup

	mu       sync.RWMutex
	servers  []board.ConfiguredServer
	briefing *Briefing
}

// NewSession creates a session reading from source.
func NewSession(source Source, opts Options) *Session {
	if source == nil {
		panic(xerrors.New("telemetry source is required"))
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Store == nil {
		opts.Store = memstore.New(memstore.DefaultRetention)
	}
	if opts.AttentionLimit <= 0 {
		opts.AttentionLimit = board.DefaultAttentionLimit
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}

	s := &Session{
		source:         source,
		registry:       board.NewRegistry(),
		store:          opts.Store,
		notifier:       opts.Notifier,
		briefer:        opts.Briefer,
		hooks:          opts.Hooks,
		logger:         opts.Logger,
		attentionLimit: opts.AttentionLimit,
		fetchTimeout:   opts.FetchTimeout,
		now:            time.Now,
	}
	s.scheduler = NewScheduler(s.Refresh, opts.Interval, opts.FetchTimeout, opts.Logger)
	return s
}

// Registry returns the live queue registry.
func (s *Session) Registry() *board.Registry { return s.registry }

// Run performs the startup refresh and then drives the countdown until ctx
// is cancelled.
func (s *Session) Run(ctx context.Context) {
	s.scheduler.TryRefresh(ctx, journal.TriggerStartup)
	s.scheduler.Run(ctx)
}

// Trigger starts a manual refresh. It returns false when one is already
// in flight.
func (s *Session) Trigger(ctx context.Context) bool {
	return s.scheduler.Trigger(ctx, journal.TriggerManual)
}

// Wait blocks until in-flight refreshes and their follow-up work finish.
func (s *Session) Wait() {
	s.scheduler.Wait()
	s.bg.Wait()
}

// Refresh fetches telemetry and swaps the registry. On any error the
// registry is left as it was. It is the scheduler's FetchFunc and is
// normally not called directly.
func (s *Session) Refresh(ctx context.Context, trigger journal.Trigger) error {
	gen := s.gen.Add(1)
	start := s.now()

	ctx, span := tracer.Start(ctx, "refresh.run", trace.WithAttributes(
		attribute.Int64("queuewatch.refresh.generation", int64(gen)), //nolint:gosec // generation never approaches MaxInt64
		attribute.String("queuewatch.refresh.trigger", string(trigger)),
	))
	defer span.End()

	L := s.logger.With("generation", gen, "trigger", string(trigger))

	rec := &journal.RefreshRecord{
		ID:         ulid.Make().String(),
		Generation: gen,
		Trigger:    trigger,
		StartedAt:  start,
	}

	res, err := s.refresh(ctx, gen, rec)

	rec.FinishedAt = s.now()
	rec.Duration = rec.FinishedAt.Sub(start).Seconds()
	rec.Outcome = board.OutcomeOf(err)
	if err != nil {
		rec.Error = err.Error()
	}

	span.SetAttributes(
		attribute.String("queuewatch.refresh.outcome", string(rec.Outcome)),
		attribute.Int("queuewatch.refresh.records", rec.RecordCount),
		attribute.Int("queuewatch.refresh.queues", rec.QueueCount),
	)

	switch rec.Outcome {
	case board.OutcomeSuccess:
		L.Info(ctx, "refresh applied",
			"records", rec.RecordCount,
			"queues", rec.QueueCount,
			"attention", rec.AttentionCount,
			"added", rec.Added,
			"dropped", rec.Dropped,
			"escalated", rec.Escalated,
			"duration", rec.Duration,
		)
	case board.OutcomeEmpty:
		L.Warn(ctx, "refresh returned no queues, keeping previous board")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "refresh failed, keeping previous board")
	}

	// the fetch context may already be past its deadline
	if jerr := s.store.PutRefresh(context.WithoutCancel(ctx), rec); jerr != nil {
		L.Error(ctx, jerr, "failed to journal refresh")
	}

	if s.hooks.OnRefresh != nil {
		s.hooks.OnRefresh(&RefreshEvent{
			Generation: gen,
			Trigger:    trigger,
			Outcome:    rec.Outcome,
			Duration:   rec.Duration,
			Records:    rec.RecordCount,
			Escalated:  rec.Escalated,
		})
	}

	if res != nil {
		s.afterApply(context.WithoutCancel(ctx), res)
	}
	return err
}

func (s *Session) refresh(ctx context.Context, gen uint64, rec *journal.RefreshRecord) (*board.ReplaceResult, error) {
	var (
		records    []board.RawQueueRecord
		servers    []board.ConfiguredServer
		serversErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := s.source.Queues(gctx)
		if err != nil {
			return err
		}
		records = r
		return nil
	})
	g.Go(func() error {
		// a failed or timed out server list keeps the previous one and
		// does not fail the refresh
		sv, err := s.source.ConfiguredServers(gctx)
		if err != nil {
			serversErr = err
			return nil
		}
		servers = sv
		return nil
	})
	// only the queue fetch decides the outcome; records that arrived before
	// the deadline are applied even if the server list ran out of time
	if err := g.Wait(); err != nil {
		return nil, fetchFailed(err)
	}

	if serversErr != nil {
		s.logger.Warn(ctx, "configured servers unavailable, keeping previous list", "error", serversErr.Error())
	} else {
		s.mu.Lock()
		s.servers = servers
		s.mu.Unlock()
	}

	rec.RecordCount = len(records)
	if len(records) == 0 {
		return nil, board.ErrEmptyResult
	}

	res, err := s.registry.Replace(gen, board.Normalize(gen, records, s.now()))
	if err != nil {
		return nil, err
	}

	counts := s.registry.Counts()
	attention := len(s.registry.Attention())
	rec.QueueCount = counts.Total
	rec.AttentionCount = attention
	rec.Added = res.Added
	rec.Dropped = res.Dropped
	rec.Escalated = len(res.Escalated)

	if s.hooks.OnBoard != nil {
		s.hooks.OnBoard(counts, attention)
	}
	if res.Duplicates > 0 {
		s.logger.Warn(ctx, "collector reported duplicate queues", "duplicates", res.Duplicates)
	}
	return &res, nil
}

func fetchFailed(err error) error {
	if errors.Is(err, board.ErrFetchFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", board.ErrFetchFailed, err)
}

// afterApply sends escalations and refreshes the briefing in the background.
func (s *Session) afterApply(ctx context.Context, res *board.ReplaceResult) {
	if s.notifier != nil && len(res.Escalated) > 0 {
		escalated := res.Escalated
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			err := s.notifier.NotifyEscalations(ctx, escalated)
			if err != nil {
				s.logger.Error(ctx, err, "failed to send escalation", "queues", len(escalated))
			}
			if s.hooks.OnNotify != nil {
				s.hooks.OnNotify(err)
			}
		}()
	}

	if s.briefer != nil {
		gen := res.Generation
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.brief(ctx, gen)
		}()
	}
}

func (s *Session) brief(ctx context.Context, gen uint64) {
	page := s.registry.AttentionPage(s.attentionLimit)
	b := &Briefing{
		Generation: gen,
		Attention:  page.Total,
		CreatedAt:  s.now(),
		Text:       noAttentionBriefing,
	}

	if page.Total > 0 {
		text, err := s.briefer.Brief(ctx, page, s.registry.Counts())
		if s.hooks.OnBriefing != nil {
			s.hooks.OnBriefing(err)
		}
		if err != nil {
			s.logger.Error(ctx, err, "failed to write shift briefing", "generation", gen)
			return
		}
		b.Text = text
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.briefing == nil || s.briefing.Generation <= gen {
		s.briefing = b
	}
}

// Ack toggles the acknowledgement of queue id and journals it.
func (s *Session) Ack(ctx context.Context, id string) (board.Queue, error) {
	q, err := s.registry.ToggleAck(id)
	if err != nil {
		return board.Queue{}, err
	}

	rec := &journal.AckRecord{
		ID:           ulid.Make().String(),
		QueueID:      q.ID,
		ServerName:   q.ServerName,
		QueueName:    q.QueueName,
		Acknowledged: q.Acknowledged,
		Severity:     string(q.Severity),
		At:           q.LastEventAt,
	}
	if err := s.store.PutAck(ctx, rec); err != nil {
		s.logger.Error(ctx, err, "failed to journal acknowledgement", "queue_id", id)
	}

	s.logger.Info(ctx, "acknowledgement toggled",
		"queue_id", q.ID,
		"queue", q.DisplayName,
		"acknowledged", q.Acknowledged,
	)

	if s.hooks.OnAck != nil {
		s.hooks.OnAck(q.Acknowledged)
	}
	if s.hooks.OnBoard != nil {
		s.hooks.OnBoard(s.registry.Counts(), len(s.registry.Attention()))
	}
	return q, nil
}

// Queues returns the all-queues view narrowed by f.
func (s *Session) Queues(f board.Filter) []board.Queue {
	return s.registry.All(f)
}

// Queue returns one queue with its event log.
func (s *Session) Queue(id string) (board.Queue, bool) {
	return s.registry.Get(id)
}

// Attention returns the attention page. A limit <= 0 uses the configured
// attention limit.
func (s *Session) Attention(limit int) board.AttentionPage {
	if limit <= 0 {
		limit = s.attentionLimit
	}
	return s.registry.AttentionPage(limit)
}

// Counts tallies the current queues by severity.
func (s *Session) Counts() board.Counts {
	return s.registry.Counts()
}

// ConfiguredServers returns the last known configured server list.
func (s *Session) ConfiguredServers() []board.ConfiguredServer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.servers)
}

// Servers returns the per-server tiles for the current registry.
func (s *Session) Servers() []board.ServerTile {
	return board.ServerTiles(s.ConfiguredServers(), s.registry.Snapshot())
}

// ServerQueues fetches a live listing of one server's queues, bounded by the
// fetch timeout, filtered by search. It does not touch the registry.
func (s *Session) ServerQueues(ctx context.Context, serverName string, mode board.SortMode, search string) ([]board.ServerQueueRow, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	records, err := s.source.ServerQueues(ctx, serverName)
	if err != nil {
		return nil, fetchFailed(err)
	}
	return board.ServerQueueRows(records, mode, search), nil
}

// Status reports scheduler state together with the registry generation.
func (s *Session) Status() Status {
	s.mu.RLock()
	servers := len(s.servers)
	s.mu.RUnlock()
	return Status{
		SchedulerStatus: s.scheduler.Status(),
		Generation:      s.registry.Generation(),
		Queues:          s.registry.Len(),
		Servers:         servers,
	}
}

// Refreshes returns the most recent journaled refresh attempts.
func (s *Session) Refreshes(ctx context.Context, limit int) ([]journal.RefreshRecord, error) {
	return s.store.ListRefreshes(ctx, limit)
}

// Acks returns the most recent journaled acknowledgement toggles.
func (s *Session) Acks(ctx context.Context, limit int) ([]journal.AckRecord, error) {
	return s.store.ListAcks(ctx, limit)
}

// Briefing returns the latest shift briefing, if any.
func (s *Session) Briefing() (Briefing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.briefing == nil {
		return Briefing{}, false
	}
	return *s.briefing, true
}
