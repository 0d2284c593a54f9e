package refresh

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/queuewatch/internal/board"
	"github.com/linnemanlabs/queuewatch/internal/journal"
	"github.com/linnemanlabs/queuewatch/internal/journal/memstore"
	"github.com/linnemanlabs/queuewatch/internal/telemetry"
)

type fakeSource struct {
	mu           sync.Mutex
	queues       []board.RawQueueRecord
	queuesErr    error
	servers      []board.ConfiguredServer
	serversErr   error
	block        bool
	blockServers bool
}

func (f *fakeSource) set(queues []board.RawQueueRecord, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues, f.queuesErr = queues, err
}

func (f *fakeSource) Queues(ctx context.Context) ([]board.RawQueueRecord, error) {
	f.mu.Lock()
	block, queues, err := f.block, f.queues, f.queuesErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return queues, err
}

func (f *fakeSource) ConfiguredServers(ctx context.Context) ([]board.ConfiguredServer, error) {
	f.mu.Lock()
	block, servers, err := f.blockServers, f.servers, f.serversErr
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return servers, err
}

func (f *fakeSource) ServerQueues(_ context.Context, name string) ([]board.RawQueueRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queuesErr != nil {
		return nil, f.queuesErr
	}
	var out []board.RawQueueRecord
	for _, q := range f.queues {
		if q.ServerName == name {
			out = append(out, q)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls [][]board.Queue
	err   error
}

func (n *fakeNotifier) NotifyEscalations(_ context.Context, queues []board.Queue) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, queues)
	return n.err
}

type fakeBriefer struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (b *fakeBriefer) Brief(_ context.Context, page board.AttentionPage, _ board.Counts) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.text, b.err
}

func TestNewSession_NilSourcePanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil source")
		}
	}()
	NewSession(nil, Options{})
}

func TestSession_EndToEnd(t *testing.T) {
	t.Parallel()

	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/queues":
			_, _ = w.Write([]byte(`[{"serverName":"EMS1","queueName":"Q.A","messageCount":"12000"}]`))
		case "/api/configured-servers":
			_, _ = w.Write([]byte(`[{"name":"EMS1","status":"OK"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer collector.Close()

	s := NewSession(telemetry.New(collector.URL), Options{Logger: log.Nop()})
	ctx := context.Background()

	if err := s.Refresh(ctx, journal.TriggerStartup); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	reg := s.Registry()
	if reg.Len() != 1 {
		t.Fatalf("registry has %d queues, want 1", reg.Len())
	}
	q := reg.Snapshot()[0]
	if q.Severity != board.SeverityCritical {
		t.Errorf("severity = %q, want critical", q.Severity)
	}
	if att := reg.Attention(); len(att) != 1 || att[0].ID != q.ID {
		t.Fatalf("attention = %+v, want the queue", att)
	}

	if _, err := s.Ack(ctx, q.ID); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if att := reg.Attention(); len(att) != 0 {
		t.Errorf("acknowledged queue still in attention: %+v", att)
	}
	if all := reg.All(board.Filter{Key: board.FilterAll}); len(all) != 1 || !all[0].Acknowledged {
		t.Errorf("all view = %+v, want the acknowledged queue", all)
	}

	tiles := s.Servers()
	if len(tiles) != 1 || tiles[0].ErrorCount != 1 || tiles[0].Status != board.ServerReachable {
		t.Errorf("tiles = %+v", tiles)
	}
}

func TestSession_EmptyResultKeepsRegistry(t *testing.T) {
	t.Parallel()

	src := &fakeSource{queues: []board.RawQueueRecord{{ServerName: "a", QueueName: "q", MessageCount: 6000}}}
	s := NewSession(src, Options{})
	ctx := context.Background()

	if out, ok := s.scheduler.TryRefresh(ctx, journal.TriggerStartup); !ok || out != board.OutcomeSuccess {
		t.Fatalf("first refresh = %q, %v", out, ok)
	}
	before := s.Registry().Snapshot()

	for range 10 {
		s.scheduler.Tick(ctx)
	}
	src.set([]board.RawQueueRecord{}, nil)
	out, ok := s.scheduler.TryRefresh(ctx, journal.TriggerTimer)
	if !ok || out != board.OutcomeEmpty {
		t.Fatalf("empty refresh = %q, %v", out, ok)
	}

	after := s.Registry().Snapshot()
	if len(after) != 1 || after[0].ID != before[0].ID {
		t.Errorf("registry changed on empty result: %+v", after)
	}
	if st := s.Status(); st.SecondsUntilRefresh != 300 || st.State != StateIdle {
		t.Errorf("status = %+v, want idle with countdown 300", st)
	}
}

func TestSession_TimeoutKeepsRegistry(t *testing.T) {
	t.Parallel()

	src := &fakeSource{queues: []board.RawQueueRecord{{ServerName: "a", QueueName: "q"}}}
	s := NewSession(src, Options{FetchTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	if out, _ := s.scheduler.TryRefresh(ctx, journal.TriggerStartup); out != board.OutcomeSuccess {
		t.Fatalf("first refresh = %q", out)
	}
	gen := s.Registry().Generation()

	src.mu.Lock()
	src.block = true
	src.mu.Unlock()

	out, _ := s.scheduler.TryRefresh(ctx, journal.TriggerManual)
	if out != board.OutcomeFailed {
		t.Fatalf("timed out refresh = %q, want failed", out)
	}
	if s.Registry().Generation() != gen || s.Registry().Len() != 1 {
		t.Error("registry changed after a timed out refresh")
	}
	if st := s.Status(); st.State != StateIdle {
		t.Errorf("state = %q, want idle", st.State)
	}

	recs, err := s.Refreshes(ctx, 1)
	if err != nil || len(recs) != 1 {
		t.Fatalf("Refreshes = %v, %v", recs, err)
	}
	if recs[0].Outcome != board.OutcomeFailed || recs[0].Error == "" {
		t.Errorf("journaled record = %+v", recs[0])
	}
}

func TestSession_FetchErrorIsFetchFailed(t *testing.T) {
	t.Parallel()

	src := &fakeSource{queuesErr: errors.New("connection refused")}
	s := NewSession(src, Options{})

	err := s.Refresh(context.Background(), journal.TriggerManual)
	if !errors.Is(err, board.ErrFetchFailed) {
		t.Fatalf("err = %v, want ErrFetchFailed", err)
	}
}

func TestSession_ConfiguredServersFailureKeepsList(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		queues:  []board.RawQueueRecord{{ServerName: "a", QueueName: "q"}},
		servers: []board.ConfiguredServer{{Name: "a", Status: board.ServerReachable}},
	}
	s := NewSession(src, Options{})
	ctx := context.Background()

	if err := s.Refresh(ctx, journal.TriggerStartup); err != nil {
		t.Fatal(err)
	}

	src.mu.Lock()
	src.servers, src.serversErr = nil, errors.New("down")
	src.mu.Unlock()

	if err := s.Refresh(ctx, journal.TriggerTimer); err != nil {
		t.Fatalf("refresh failed because of the server list: %v", err)
	}
	if got := s.ConfiguredServers(); len(got) != 1 || got[0].Name != "a" {
		t.Errorf("configured servers = %+v, want the previous list", got)
	}
}

func TestSession_SlowConfiguredServersStillAppliesQueues(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		queues:  []board.RawQueueRecord{{ServerName: "EMS1", QueueName: "Q.A", MessageCount: 12000}},
		servers: []board.ConfiguredServer{{Name: "EMS1", Status: board.ServerReachable}},
	}
	s := NewSession(src, Options{FetchTimeout: 100 * time.Millisecond})
	ctx := context.Background()

	if out, _ := s.scheduler.TryRefresh(ctx, journal.TriggerStartup); out != board.OutcomeSuccess {
		t.Fatalf("first refresh = %q", out)
	}

	src.mu.Lock()
	src.blockServers = true
	src.queues = append(src.queues, board.RawQueueRecord{ServerName: "EMS1", QueueName: "Q.B", MessageCount: 6000})
	src.mu.Unlock()

	out, _ := s.scheduler.TryRefresh(ctx, journal.TriggerManual)
	if out != board.OutcomeSuccess {
		t.Fatalf("refresh with a hanging server list = %q, want success (last error %q)", out, s.Status().LastError)
	}
	if got := s.Registry().Len(); got != 2 {
		t.Errorf("registry len = %d, want 2", got)
	}
	if got := s.ConfiguredServers(); len(got) != 1 || got[0].Name != "EMS1" {
		t.Errorf("configured servers = %+v, want the previous list", got)
	}
	if st := s.Status(); st.LastError != "" || st.State != StateIdle {
		t.Errorf("status = %+v, want idle without error", st)
	}
}

func TestSession_AckJournalsAndFiresHooks(t *testing.T) {
	t.Parallel()

	store := memstore.New(10)
	var (
		mu       sync.Mutex
		acks     []bool
		lastAttn = -1
	)
	hooks := Hooks{
		OnAck: func(acknowledged bool) {
			mu.Lock()
			defer mu.Unlock()
			acks = append(acks, acknowledged)
		},
		OnBoard: func(_ board.Counts, attention int) {
			mu.Lock()
			defer mu.Unlock()
			lastAttn = attention
		},
	}
	src := &fakeSource{queues: []board.RawQueueRecord{{ServerName: "a", QueueName: "q", Status: "warning"}}}
	s := NewSession(src, Options{Store: store, Hooks: hooks})
	ctx := context.Background()

	if err := s.Refresh(ctx, journal.TriggerStartup); err != nil {
		t.Fatal(err)
	}
	id := s.Registry().Snapshot()[0].ID

	q, err := s.Ack(ctx, id)
	if err != nil || !q.Acknowledged {
		t.Fatalf("Ack = %+v, %v", q, err)
	}

	recs, err := s.Acks(ctx, 10)
	if err != nil || len(recs) != 1 {
		t.Fatalf("Acks = %v, %v", recs, err)
	}
	if recs[0].QueueID != id || !recs[0].Acknowledged || recs[0].Severity != "warning" || recs[0].ID == "" {
		t.Errorf("ack record = %+v", recs[0])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(acks) != 1 || !acks[0] {
		t.Errorf("ack hook calls = %v", acks)
	}
	if lastAttn != 0 {
		t.Errorf("attention after ack = %d, want 0", lastAttn)
	}
}

func TestSession_AckUnknownID(t *testing.T) {
	t.Parallel()

	s := NewSession(&fakeSource{}, Options{})
	if _, err := s.Ack(context.Background(), "g9-q9"); !errors.Is(err, board.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSession_EscalationAndBriefing(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	briefer := &fakeBriefer{text: "One critical queue on EMS1."}
	src := &fakeSource{queues: []board.RawQueueRecord{
		{ServerName: "EMS1", QueueName: "Q.A", MessageCount: 12000},
		{ServerName: "EMS1", QueueName: "Q.B", MessageCount: 1},
	}}
	s := NewSession(src, Options{Notifier: notifier, Briefer: briefer})
	ctx := context.Background()

	if err := s.Refresh(ctx, journal.TriggerStartup); err != nil {
		t.Fatal(err)
	}
	s.Wait()

	notifier.mu.Lock()
	if len(notifier.calls) != 1 || len(notifier.calls[0]) != 1 || notifier.calls[0][0].QueueName != "Q.A" {
		t.Errorf("notifications = %+v", notifier.calls)
	}
	notifier.mu.Unlock()

	b, ok := s.Briefing()
	if !ok || b.Text != briefer.text || b.Attention != 1 {
		t.Errorf("briefing = %+v, %v", b, ok)
	}

	// unchanged board: no new escalation
	if err := s.Refresh(ctx, journal.TriggerTimer); err != nil {
		t.Fatal(err)
	}
	s.Wait()
	notifier.mu.Lock()
	if len(notifier.calls) != 1 {
		t.Errorf("notifications after unchanged refresh = %d, want 1", len(notifier.calls))
	}
	notifier.mu.Unlock()
}

func TestSession_BriefingSkipsLLMWhenNothingNeedsAttention(t *testing.T) {
	t.Parallel()

	briefer := &fakeBriefer{text: "unused"}
	src := &fakeSource{queues: []board.RawQueueRecord{{ServerName: "a", QueueName: "q"}}}
	s := NewSession(src, Options{Briefer: briefer})

	if err := s.Refresh(context.Background(), journal.TriggerStartup); err != nil {
		t.Fatal(err)
	}
	s.Wait()

	b, ok := s.Briefing()
	if !ok || b.Text != noAttentionBriefing {
		t.Errorf("briefing = %+v, %v", b, ok)
	}
	briefer.mu.Lock()
	defer briefer.mu.Unlock()
	if briefer.calls != 0 {
		t.Errorf("briefer called %d times, want 0", briefer.calls)
	}
}

func TestSession_BriefingFailureKeepsPrevious(t *testing.T) {
	t.Parallel()

	briefer := &fakeBriefer{text: "first"}
	src := &fakeSource{queues: []board.RawQueueRecord{{ServerName: "a", QueueName: "q", Status: "critical"}}}
	s := NewSession(src, Options{Briefer: briefer})
	ctx := context.Background()

	if err := s.Refresh(ctx, journal.TriggerStartup); err != nil {
		t.Fatal(err)
	}
	s.Wait()

	briefer.mu.Lock()
	briefer.err = errors.New("rate limited")
	briefer.mu.Unlock()

	if err := s.Refresh(ctx, journal.TriggerTimer); err != nil {
		t.Fatal(err)
	}
	s.Wait()

	if b, _ := s.Briefing(); b.Text != "first" || b.Generation != 1 {
		t.Errorf("briefing = %+v, want the first one", b)
	}
}

func TestSession_ServerQueues(t *testing.T) {
	t.Parallel()

	src := &fakeSource{queues: []board.RawQueueRecord{
		{ServerName: "a", QueueName: "z", MessageCount: 1},
		{ServerName: "a", QueueName: "y", MessageCount: 9000},
		{ServerName: "a", QueueName: "PMS.FCWEB.CACHE", MessageCount: 20000},
		{ServerName: "b", QueueName: "x"},
	}}
	s := NewSession(src, Options{})

	rows, err := s.ServerQueues(context.Background(), "a", board.SortByCountDesc, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].QueueName != "y" || rows[0].Severity != board.SeverityWarning {
		t.Errorf("rows = %+v", rows)
	}

	rows, err = s.ServerQueues(context.Background(), "a", board.SortByName, "Z")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].QueueName != "z" {
		t.Errorf("searched rows = %+v", rows)
	}
	if s.Registry().Len() != 0 {
		t.Error("per-server listing touched the registry")
	}

	src.set(nil, errors.New("boom"))
	if _, err := s.ServerQueues(context.Background(), "a", board.SortByName, ""); !errors.Is(err, board.ErrFetchFailed) {
		t.Errorf("err = %v, want ErrFetchFailed", err)
	}
}

func TestSession_StaleGenerationRejected(t *testing.T) {
	t.Parallel()

	src := &fakeSource{queues: []board.RawQueueRecord{{ServerName: "a", QueueName: "q"}}}
	s := NewSession(src, Options{})
	ctx := context.Background()

	if err := s.Refresh(ctx, journal.TriggerStartup); err != nil {
		t.Fatal(err)
	}
	// a newer generation lands first
	if _, err := s.Registry().Replace(100, board.Normalize(100, []board.RawQueueRecord{{ServerName: "a", QueueName: "new"}}, time.Now())); err != nil {
		t.Fatal(err)
	}

	err := s.Refresh(ctx, journal.TriggerManual)
	if board.OutcomeOf(err) != board.OutcomeStale {
		t.Fatalf("err = %v, want stale", err)
	}
	if s.Registry().Generation() != 100 {
		t.Errorf("generation = %d, want 100", s.Registry().Generation())
	}
}

func TestMetrics_Hooks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	src := &fakeSource{queues: []board.RawQueueRecord{
		{ServerName: "a", QueueName: "1", Status: "critical"},
		{ServerName: "a", QueueName: "2"},
	}}
	s := NewSession(src, Options{Hooks: m.Hooks()})
	if err := s.Refresh(context.Background(), journal.TriggerStartup); err != nil {
		t.Fatal(err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				got[mf.GetName()] += metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				got[mf.GetName()] += metric.GetGauge().GetValue()
			}
		}
	}

	if got["queuewatch_refreshes_total"] != 1 {
		t.Errorf("refreshes_total = %v, want 1", got["queuewatch_refreshes_total"])
	}
	if got["queuewatch_queues"] != 2 {
		t.Errorf("queues = %v, want 2", got["queuewatch_queues"])
	}
	if got["queuewatch_attention_queues"] != 1 {
		t.Errorf("attention = %v, want 1", got["queuewatch_attention_queues"])
	}
	if got["queuewatch_escalations_total"] != 1 {
		t.Errorf("escalations = %v, want 1", got["queuewatch_escalations_total"])
	}
	if got["queuewatch_registry_generation"] != 1 {
		t.Errorf("generation = %v, want 1", got["queuewatch_registry_generation"])
	}
}

func TestRefresh_CreatesSpan(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	src := &fakeSource{queues: []board.RawQueueRecord{{ServerName: "a", QueueName: "q", Status: "warning"}}}
	s := NewSession(src, Options{})
	if err := s.Refresh(context.Background(), journal.TriggerManual); err != nil {
		t.Fatal(err)
	}

	var found bool
	for _, span := range exporter.GetSpans() {
		if span.Name != "refresh.run" {
			continue
		}
		found = true
		attrs := make(map[string]any)
		for _, a := range span.Attributes {
			attrs[string(a.Key)] = a.Value.AsInterface()
		}
		if attrs["queuewatch.refresh.trigger"] != "manual" {
			t.Errorf("trigger attr = %v", attrs["queuewatch.refresh.trigger"])
		}
		if attrs["queuewatch.refresh.outcome"] != "success" {
			t.Errorf("outcome attr = %v", attrs["queuewatch.refresh.outcome"])
		}
		if attrs["queuewatch.refresh.queues"] != int64(1) {
			t.Errorf("queues attr = %v", attrs["queuewatch.refresh.queues"])
		}
	}
	if !found {
		t.Error("no refresh.run span recorded")
	}
}
