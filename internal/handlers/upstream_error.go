package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"

	"marketdash/backend-go/internal/services"
	"marketdash/backend-go/internal/transform"
)

// writeError maps dashboard errors to responses and hands anything else to
// writeUpstreamError.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrUnknownInstrument), errors.Is(err, transform.ErrInvalidRange):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, services.ErrNoSuchRow):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, services.ErrFeatureDisabled):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.Is(err, context.Canceled):
		writeJSON(w, http.StatusRequestTimeout, map[string]any{"error": "request_canceled"})
	default:
		writeUpstreamError(w, err)
	}
}

// writeUpstreamError maps vendor failures: RDP status codes, an open circuit,
// missing credentials and timeouts.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var upErr *services.UpstreamError
	if errors.As(err, &upErr) {
		switch {
		case upErr.Status == http.StatusTooManyRequests:
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": err.Error(), "upstream_status": upErr.Status})
		case upErr.Status == http.StatusRequestTimeout, upErr.Status == http.StatusGatewayTimeout:
			writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": err.Error(), "upstream_status": upErr.Status})
		case upErr.Status >= 400 && upErr.Status < 500:
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "upstream_status": upErr.Status})
		default:
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "upstream_status": upErr.Status})
		}
		return
	}

	if errors.Is(err, services.ErrCircuitOpen) || errors.Is(err, services.ErrNoCredentials) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		return
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": "upstream_timeout"})
		return
	}
	writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
}
