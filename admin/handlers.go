package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/maxpert/credmirror/docstore"
	"github.com/maxpert/credmirror/mirror"
	"github.com/maxpert/credmirror/publisher"
	"github.com/maxpert/credmirror/replica"
	"github.com/rs/zerolog/log"
)

// Mirror is the engine surface the admin API drives
type Mirror interface {
	Status() mirror.Status
	TriggerSync(ctx context.Context) (mirror.Report, error)
}

// Counter reports how many records a store holds
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// SinkReporter reports publisher sink progress
type SinkReporter interface {
	Status() []publisher.SinkStatus
}

// InboundReporter reports the inbound source state
type InboundReporter interface {
	State() replica.SourceState
	Received() uint64
}

// HandlerConfig wires the admin handlers to running components.
// Sinks and Inbound are optional.
type HandlerConfig struct {
	NodeID  uint64
	Mirror  Mirror
	Records Counter
	Docs    docstore.Store
	Sinks   SinkReporter
	Inbound InboundReporter
}

// AdminHandlers handles admin API endpoints
type AdminHandlers struct {
	config HandlerConfig
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(config HandlerConfig) (*AdminHandlers, error) {
	if config.Mirror == nil {
		return nil, fmt.Errorf("mirror engine is required")
	}
	if config.Records == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if config.Docs == nil {
		return nil, fmt.Errorf("document store is required")
	}
	return &AdminHandlers{config: config}, nil
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, hasMore bool, lastKey string) {
	response := map[string]interface{}{
		"data": data,
	}

	if hasMore || lastKey != "" {
		response["has_more"] = hasMore
		if lastKey != "" {
			response["last_key"] = lastKey
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	response := map[string]interface{}{
		"error": message,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}

// parseLimit parses limit parameter with defaults
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 256, nil // default
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %w", err)
	}

	if limit < 1 {
		return 0, fmt.Errorf("limit must be positive")
	}

	if limit > 1024 {
		return 0, fmt.Errorf("limit cannot exceed 1024")
	}

	return limit, nil
}

// parseFrom parses from parameter for pagination
func parseFrom(r *http.Request) string {
	return r.URL.Query().Get("from")
}

// formatTime renders t as RFC 3339, empty for the zero time
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
