package http

import (
	_ "embed"
	"log/slog"
	"net/http"

	"marketdash/backend-go/internal/config"
	"marketdash/backend-go/internal/handlers"
	"marketdash/backend-go/internal/services"
)

//go:embed static/index.html
var indexHTML []byte

func NewRouter(cfg config.Config, dash handlers.Dashboard, rdp handlers.HealthChecker, cache services.Cache, log *slog.Logger) http.Handler {
	api := handlers.New(cfg, dash, rdp, cache, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", api.Health)
	mux.HandleFunc("/api/v1/layout", api.Layout)
	mux.HandleFunc("/api/v1/select", api.Select)
	mux.HandleFunc("/api/v1/view", api.View)
	mux.HandleFunc("/api/v1/quotes", api.Quotes)
	mux.HandleFunc("/api/v1/quotes/stream", api.StreamQuotes)
	mux.HandleFunc("/api/v1/story", api.Story)
	mux.HandleFunc("/api/v1/chart.png", api.ChartPNG)
	mux.HandleFunc("/", serveIndex)

	h := http.Handler(mux)
	h = withRecovery(log)(h)
	h = withLogging(log)(h)
	h = withRateLimit(cfg.RateLimitPerMin)(h)
	h = withCORS(h)
	return h
}

func serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}
