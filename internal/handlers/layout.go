package handlers

import (
	"net/http"

	"marketdash/backend-go/internal/models"
)

// Layout describes the widgets the page should build for the active profile.
func (a *API) Layout(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	p := a.dash.Profile()
	writeJSON(w, http.StatusOK, models.LayoutResponse{
		Title:        p.Title,
		Profile:      p.Name,
		Universe:     p.Universe,
		MinYear:      p.MinYear,
		MaxYear:      p.MaxYear,
		NewsColumns:  p.NewsColumns,
		ESGColumns:   p.ESGLabels,
		StreamFields: p.StreamFields,
		Features:     p.Features,
		QuoteEveryMs: a.cfg.QuoteInterval.Milliseconds(),
	})
}
