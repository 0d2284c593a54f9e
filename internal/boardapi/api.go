// Package boardapi serves the queue board over HTTP: the all-queues and
// attention views, server tiles, acknowledgements, manual refreshes and the
// refresh journal.
package boardapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/queuewatch/internal/authmw"
	"github.com/linnemanlabs/queuewatch/internal/board"
	"github.com/linnemanlabs/queuewatch/internal/journal"
	"github.com/linnemanlabs/queuewatch/internal/refresh"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// BoardService defines the board operations the API needs.
type BoardService interface {
	Queues(f board.Filter) []board.Queue
	Queue(id string) (board.Queue, bool)
	Attention(limit int) board.AttentionPage
	Counts() board.Counts
	Servers() []board.ServerTile
	ServerQueues(ctx context.Context, serverName string, mode board.SortMode, search string) ([]board.ServerQueueRow, error)
	Ack(ctx context.Context, id string) (board.Queue, error)
	Trigger(ctx context.Context) bool
	Status() refresh.Status
	Refreshes(ctx context.Context, limit int) ([]journal.RefreshRecord, error)
	Acks(ctx context.Context, limit int) ([]journal.AckRecord, error)
	Briefing() (refresh.Briefing, bool)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    BoardService
	token  string
}

// New creates a new API handler. A non-empty token is required on
// acknowledgements and manual refreshes.
func New(logger log.Logger, svc BoardService, token string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("board service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
		token:  token,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/queues", a.handleListQueues)
		r.Get("/queues/{id}", a.handleGetQueue)
		r.Get("/attention", a.handleAttention)
		r.Get("/counts", a.handleCounts)
		r.Get("/servers", a.handleServers)
		r.Get("/servers/{name}/queues", a.handleServerQueues)
		r.Get("/status", a.handleStatus)
		r.Get("/refreshes", a.handleRefreshes)
		r.Get("/acks", a.handleAcks)
		r.Get("/briefing", a.handleBriefing)

		r.Group(func(r chi.Router) {
			r.Use(authmw.RequireToken(a.token))
			r.Post("/queues/{id}/ack", a.handleAck)
			r.Post("/refresh", a.handleRefresh)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

// limitParam reads ?limit=, falling back to def for missing or invalid
// values and clamping to maxLimit.
func limitParam(r *http.Request, def, maxLimit int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, maxLimit)
}
