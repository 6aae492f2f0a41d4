// Package webui serves the tracker's operations endpoints: health, metrics
// and a debug view of the live state.
package webui

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tracker.onebusaway.org/internal/app"
)

type WebUI struct {
	*app.Application
}

func New(application *app.Application) *WebUI {
	return &WebUI{Application: application}
}

// Routes returns the operations mux wrapped in the request ID, logging and
// metrics middleware.
func (webUI *WebUI) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", webUI.healthHandler)
	mux.HandleFunc("GET /debug", webUI.debugIndexHandler)
	if webUI.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(webUI.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	handler = MetricsHandler(webUI.Metrics)(handler)
	handler = NewRequestLoggingMiddleware(webUI.Logger)(handler)
	handler = RequestIDMiddleware(handler)
	return handler
}
