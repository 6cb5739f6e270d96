package admin

import (
	"errors"
	"net/http"
	"net/url"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/maxpert/credmirror/docstore"
	"github.com/maxpert/credmirror/document"
	"github.com/maxpert/credmirror/id"
)

const redacted = "********"

// handleListDocuments pages through document ids in order
func (h *AdminHandlers) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	from := parseFrom(r)

	ids, err := h.config.Docs.IDs(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	// from is exclusive
	start := 0
	if from != "" {
		start = sort.SearchStrings(ids, from)
		if start < len(ids) && ids[start] == from {
			start++
		}
	}
	end := min(start+limit, len(ids))
	page := ids[start:end]

	hasMore := end < len(ids)
	lastKey := ""
	if hasMore && len(page) > 0 {
		lastKey = page[len(page)-1]
	}
	writeJSONResponse(w, page, hasMore, lastKey)
}

// handleGetDocument returns one document with its secret redacted
func (h *AdminHandlers) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "*")
	// Ids carry '/' from form targets, so they arrive percent-encoded
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(docID)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "invalid document id encoding")
			return
		}
		docID = unescaped
	}

	origin, kind, value, err := id.Parse(docID)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.config.Docs.Get(r.Context(), docID)
	if errors.Is(err, docstore.ErrNotFound) {
		writeErrorResponse(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSONResponse(w, map[string]interface{}{
		"origin":        origin,
		"kind":          kind,
		"discriminator": value,
		"document":      redact(doc),
	}, false, "")
}

func redact(doc document.Document) document.Document {
	if doc.Secret != "" {
		doc.Secret = redacted
	}
	return doc
}
