package handlers

import (
	"context"
	"net/http"
	"os"
	"time"

	"marketdash/backend-go/internal/models"
)

func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := []string{}
	missing := []string{}
	depsStatus := map[string]models.DepStatus{}
	if a.rdp != nil {
		if err := a.rdp.Health(ctx); err != nil {
			missing = append(missing, "rdp_unreachable")
			depsStatus["rdp"] = models.DepStatus{Ok: false, Error: err.Error()}
		} else {
			deps = append(deps, "rdp")
			depsStatus["rdp"] = models.DepStatus{Ok: true}
		}
	}
	if a.cache != nil {
		deps = append(deps, "cache:"+a.cache.Name())
		depsStatus["cache"] = models.DepStatus{Ok: true}
	}

	quotes := a.dash.Quotes()
	profile := a.dash.Profile()
	resp := models.HealthResponse{
		Ok:          len(missing) == 0,
		TsISO:       nowISO(),
		Service:     "marketdash",
		Version:     os.Getenv("SERVICE_VERSION"),
		Deps:        deps,
		DepsStatus:  depsStatus,
		DataMissing: missing,
		Env: map[string]bool{
			"RDP_APP_KEY":    a.cfg.Session.AppKey != "",
			"RDP_USERNAME":   a.cfg.Session.Username != "",
			"RDP_PASSWORD":   a.cfg.Session.Password != "",
			"RDP_STREAM_URL": a.cfg.RDPStreamURL != "",
			"REDIS_URL":      os.Getenv("REDIS_URL") != "",
		},
		Features: map[string]bool{
			"year_range":        profile.Features.YearRange,
			"moving_averages":   len(profile.Features.SMAWindows) > 0,
			"ratios":            profile.Features.Ratios,
			"esg":               profile.Features.ESG,
			"story_panel":       profile.Features.StoryPanel,
			"subscription_open": quotes.State == "open",
		},
	}
	writeJSON(w, http.StatusOK, resp)
}
