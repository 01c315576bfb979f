package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"marketdash/backend-go/internal/models"
)

// Select applies a new instrument selection and answers with the combined
// view update.
func (a *API) Select(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	sel, err := parseSelection(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid selection body"})
		return
	}
	if sel.Symbol == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "symbol required"})
		return
	}

	ctx := r.Context()
	if a.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.RequestTimeout)
		defer cancel()
	}
	update, err := a.dash.Select(ctx, sel)
	if err != nil {
		writeError(w, err)
		return
	}
	if update.Stale {
		a.log.Debug("selection superseded", "symbol", update.Symbol, "generation", update.Generation)
	}
	writeJSON(w, http.StatusOK, update)
}

// View returns the last applied view update.
func (a *API) View(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, a.dash.View())
}

// parseSelection accepts a JSON body, or symbol/start/end query parameters.
func parseSelection(r *http.Request) (models.Selection, error) {
	q := r.URL.Query()
	sel := models.Selection{
		Symbol:    strings.TrimSpace(q.Get("symbol")),
		StartYear: parseIntParam(q.Get("start"), 0, 0, 9999),
		EndYear:   parseIntParam(q.Get("end"), 0, 0, 9999),
	}
	if r.Body == nil || !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return sel, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		return sel, err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return sel, nil
	}
	var fromBody models.Selection
	if err := json.Unmarshal(body, &fromBody); err != nil {
		return sel, err
	}
	fromBody.Symbol = strings.TrimSpace(fromBody.Symbol)
	return fromBody, nil
}
