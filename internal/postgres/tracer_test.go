package postgres

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestCompactSQL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"single line", "SELECT 1", "SELECT 1"},
		{"multi line", "SELECT id,\n\t\tname\n FROM t", "SELECT id, name FROM t"},
		{"empty", "", ""},
		{"only whitespace", " \n\t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := compactSQL(tt.in); got != tt.want {
				t.Errorf("compactSQL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestWithHTTPMethod_EmptyIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if got := WithHTTPMethod(ctx, ""); got != ctx {
		t.Error("WithHTTPMethod with empty method should return the same context")
	}
}

func TestQuerySource(t *testing.T) {
	t.Parallel()

	if got := querySource(context.Background()); got != "background" {
		t.Errorf("querySource(background) = %q, want %q", got, "background")
	}

	var got string
	r := chi.NewRouter()
	r.Get("/api/v1/refreshes", func(_ http.ResponseWriter, req *http.Request) {
		got = querySource(WithHTTPMethod(req.Context(), req.Method))
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/refreshes", http.NoBody)
	r.ServeHTTP(httptest.NewRecorder(), req)

	if got != "GET /api/v1/refreshes" {
		t.Errorf("querySource(route) = %q, want %q", got, "GET /api/v1/refreshes")
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
	sources  []string
}

func (o *recordingObserver) ObserveQuery(_ context.Context, source, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources = append(o.sources, source)
	o.outcomes = append(o.outcomes, outcome)
}

// Not parallel: swaps the global query observer.
func TestLoggingTracer_ObservesQueries(t *testing.T) {
	obs := &recordingObserver{}
	SetQueryObserver(obs)
	defer SetQueryObserver(nil)

	tr := wrapQueryTracer(nil)
	ctx := tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	ctx = tr.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "INSERT"})
	tr.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.outcomes) != 2 {
		t.Fatalf("observed %d queries, want 2", len(obs.outcomes))
	}
	if obs.outcomes[0] != "ok" || obs.outcomes[1] != "error" {
		t.Errorf("outcomes = %v, want [ok error]", obs.outcomes)
	}
	if obs.sources[0] != "background" {
		t.Errorf("source = %q, want background", obs.sources[0])
	}
}

// Not parallel: swaps the global query observer.
func TestSetQueryObserver_Nil(t *testing.T) {
	SetQueryObserver(QueryObserverFunc(func(context.Context, string, string, time.Duration) {}))
	SetQueryObserver(nil)
	if getQueryObserver() != nil {
		t.Error("observer should be cleared")
	}
}
