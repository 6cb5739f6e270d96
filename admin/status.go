package admin

import (
	"errors"
	"net/http"

	"github.com/maxpert/credmirror/mirror"
	"github.com/rs/zerolog/log"
)

func reportJSON(rep mirror.Report) map[string]interface{} {
	failed := rep.Failed
	if failed == nil {
		failed = []string{}
	}
	return map[string]interface{}{
		"seen":        rep.Seen,
		"inserted":    rep.Inserted,
		"updated":     rep.Updated,
		"deleted":     rep.Deleted,
		"unchanged":   rep.Unchanged,
		"pruned":      rep.Pruned,
		"failed":      failed,
		"duration_ms": rep.Duration.Milliseconds(),
	}
}

// handleStatus returns engine, store, sink and inbound state
func (h *AdminHandlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	records, err := h.config.Records.Count(ctx)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	documents, err := h.config.Docs.Count(ctx)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	st := h.config.Mirror.Status()
	response := map[string]interface{}{
		"node_id": h.config.NodeID,
		"mirror": map[string]interface{}{
			"running":     st.Running,
			"processed":   st.Processed,
			"last_sync":   formatTime(st.LastSync),
			"last_error":  st.LastError,
			"last_report": reportJSON(st.LastReport),
		},
		"records":   records,
		"documents": documents,
	}

	if h.config.Sinks != nil {
		response["sinks"] = h.config.Sinks.Status()
	}
	if h.config.Inbound != nil {
		response["inbound"] = map[string]interface{}{
			"state":    h.config.Inbound.State().String(),
			"received": h.config.Inbound.Received(),
		}
	}

	writeJSONResponse(w, response, false, "")
}

// handleSync runs a full sync and returns its report. Per-record failures
// still produce a report, with the joined error alongside.
func (h *AdminHandlers) handleSync(w http.ResponseWriter, r *http.Request) {
	rep, err := h.config.Mirror.TriggerSync(r.Context())
	if errors.Is(err, mirror.ErrEngineStopped) {
		writeErrorResponse(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	response := reportJSON(rep)
	if err != nil {
		log.Warn().Err(err).Int("failed", len(rep.Failed)).Msg("Admin-triggered sync finished with errors")
		response["error"] = err.Error()
	}
	writeJSONResponse(w, response, false, "")
}
