package boardapi

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/queuewatch/internal/board"
)

type queueList struct {
	Queues []board.Queue `json:"queues"`
	Count  int           `json:"count"`
}

func (a *API) handleListQueues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := board.Filter{
		Key:    board.ParseFilterKey(q.Get("filter")),
		Search: q.Get("q"),
		Server: q.Get("server"),
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("queuewatch.filter", string(f.Key)))

	queues := a.svc.Queues(f)
	writeJSON(w, http.StatusOK, queueList{Queues: queues, Count: len(queues)})
}

func (a *API) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("queuewatch.queue.id", id))

	q, ok := a.svc.Queue(id)
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (a *API) handleAck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("queuewatch.queue.id", id))

	q, err := a.svc.Ack(r.Context(), id)
	if errors.Is(err, board.ErrNotFound) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to toggle acknowledgement", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	span.SetAttributes(attribute.Bool("queuewatch.queue.acknowledged", q.Acknowledged))
	writeJSON(w, http.StatusOK, q)
}

func (a *API) handleAttention(w http.ResponseWriter, r *http.Request) {
	// 0 lets the service apply its configured limit
	limit := limitParam(r, 0, maxHistoryLimit)
	page := a.svc.Attention(limit)

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.Int("queuewatch.attention.total", page.Total),
		attribute.Int("queuewatch.attention.more", page.More),
	)
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleCounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Counts())
}

type serverList struct {
	Servers []board.ServerTile `json:"servers"`
}

func (a *API) handleServers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, serverList{Servers: a.svc.Servers()})
}

type serverQueues struct {
	Server string                 `json:"server"`
	Sort   board.SortMode         `json:"sort"`
	Search string                 `json:"search,omitempty"`
	Queues []board.ServerQueueRow `json:"queues"`
}

func (a *API) handleServerQueues(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil || name == "" {
		http.Error(w, `{"error":"invalid server name"}`, http.StatusBadRequest)
		return
	}
	mode := board.ParseSortMode(r.URL.Query().Get("sort"))
	search := r.URL.Query().Get("q")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("queuewatch.server", name),
		attribute.String("queuewatch.sort", string(mode)),
	)

	rows, err := a.svc.ServerQueues(r.Context(), name, mode, search)
	if err != nil {
		a.logger.Warn(r.Context(), "failed to load server queues", "server", name, "error", err.Error())
		http.Error(w, `{"error":"error loading queues"}`, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, serverQueues{Server: name, Sort: mode, Search: search, Queues: rows})
}
