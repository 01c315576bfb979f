package handlers

import (
	"bytes"
	"errors"
	"net/http"

	"marketdash/backend-go/internal/render"
)

// ChartPNG renders the applied chart server side.
func (a *API) ChartPNG(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	view := a.dash.View()
	q := r.URL.Query()
	opts := render.ChartOptions{
		Title:  view.Symbol,
		Width:  parseIntParam(q.Get("w"), 960, 320, 2400),
		Height: parseIntParam(q.Get("h"), 420, 200, 1600),
	}

	var buf bytes.Buffer
	if err := render.ChartPNG(&buf, view.Chart, opts); err != nil {
		if errors.Is(err, render.ErrEmptyChart) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "no chart data"})
			return
		}
		a.log.Error("chart render failed", "symbol", view.Symbol, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "chart_render_failed"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}
