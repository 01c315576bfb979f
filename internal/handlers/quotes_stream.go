package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"marketdash/backend-go/internal/models"
)

type quoteTick struct {
	TsISO string            `json:"tsISO"`
	Quote models.QuoteTable `json:"quote"`
}

// Quotes answers one timer tick of the quote panel.
func (a *API) Quotes(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, quoteTick{TsISO: nowISO(), Quote: a.dash.Quotes()})
}

// StreamQuotes pushes a quote tick over SSE on every interval until the
// client goes away.
func (a *API) StreamQuotes(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusBadRequest)
		return
	}

	def := int(a.cfg.QuoteInterval.Milliseconds())
	if def <= 0 {
		def = 1000
	}
	intervalMs := parseIntParam(r.URL.Query().Get("intervalMs"), def, 250, 60000)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	send := func() {
		data, _ := json.Marshal(quoteTick{TsISO: nowISO(), Quote: a.dash.Quotes()})
		_, _ = fmt.Fprintf(w, "event: quote\ndata: %s\n\n", data)
		flusher.Flush()
	}

	send()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			send()
		}
	}
}
