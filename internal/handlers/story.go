package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// Story reads, opens or closes the story panel: GET returns it, POST opens the
// story of a news row, DELETE hides it.
func (a *API) Story(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.dash.Story())
	case http.MethodPost:
		row, ok := parseRow(r)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "row required"})
			return
		}
		panel, err := a.dash.OpenStory(r.Context(), row)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, panel)
	case http.MethodDelete:
		writeJSON(w, http.StatusOK, a.dash.CloseStory())
	default:
		allowMethods(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func parseRow(r *http.Request) (int, bool) {
	if v := r.URL.Query().Get("row"); v != "" {
		row := parseIntParam(v, -1, -1, 1<<20)
		return row, row >= 0
	}
	if r.Body == nil || !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return 0, false
	}
	var body struct {
		Row *int `json:"row"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&body); err != nil || body.Row == nil {
		return 0, false
	}
	return *body.Row, *body.Row >= 0
}
