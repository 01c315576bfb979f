package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"marketdash/backend-go/internal/config"
	"marketdash/backend-go/internal/models"
	"marketdash/backend-go/internal/services"
)

// Dashboard is the state the HTTP layer renders.
type Dashboard interface {
	Profile() config.Profile
	Select(ctx context.Context, sel models.Selection) (models.ViewUpdate, error)
	View() models.ViewUpdate
	Quotes() models.QuoteTable
	OpenStory(ctx context.Context, row int) (models.StoryPanel, error)
	CloseStory() models.StoryPanel
	Story() models.StoryPanel
}

type HealthChecker interface {
	Health(ctx context.Context) error
}

type API struct {
	cfg   config.Config
	dash  Dashboard
	rdp   HealthChecker
	cache services.Cache
	log   *slog.Logger
}

func New(cfg config.Config, dash Dashboard, rdp HealthChecker, cache services.Cache, log *slog.Logger) *API {
	return &API{
		cfg:   cfg,
		dash:  dash,
		rdp:   rdp,
		cache: cache,
		log:   log,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method_not_allowed"})
	return false
}

func parseIntParam(v string, def int, min int, max int) int {
	if v == "" {
		return def
	}
	var out int
	_, err := fmt.Sscanf(v, "%d", &out)
	if err != nil {
		return def
	}
	if out < min {
		return min
	}
	if out > max {
		return max
	}
	return out
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
