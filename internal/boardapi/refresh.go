package boardapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/queuewatch/internal/journal"
)

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	started := a.svc.Trigger(r.Context())

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Bool("queuewatch.refresh.started", started))

	if !started {
		http.Error(w, `{"error":"refresh already in progress"}`, http.StatusConflict)
		return
	}
	a.logger.Info(r.Context(), "manual refresh started")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Status())
}

type refreshList struct {
	Refreshes []journal.RefreshRecord `json:"refreshes"`
}

func (a *API) handleRefreshes(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, defaultHistoryLimit, maxHistoryLimit)
	recs, err := a.svc.Refreshes(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list refreshes")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, refreshList{Refreshes: recs})
}

type ackList struct {
	Acks []journal.AckRecord `json:"acks"`
}

func (a *API) handleAcks(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, defaultHistoryLimit, maxHistoryLimit)
	recs, err := a.svc.Acks(r.Context(), limit)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list acknowledgements")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ackList{Acks: recs})
}

func (a *API) handleBriefing(w http.ResponseWriter, _ *http.Request) {
	b, ok := a.svc.Briefing()
	if !ok {
		http.Error(w, `{"error":"no briefing available"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
