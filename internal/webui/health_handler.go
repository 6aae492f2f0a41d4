package webui

import (
	"encoding/json"
	"net/http"
	"time"

	"tracker.onebusaway.org/internal/logging"
)

type HealthResponse struct {
	Status          string               `json:"status"`
	Detail          string               `json:"detail,omitempty"`
	StaticUpdatedAt *time.Time           `json:"staticUpdatedAt,omitempty"`
	CachedKeys      int                  `json:"cachedKeys"`
	Feeds           map[string]time.Time `json:"feeds,omitempty"`
}

func writeHealth(w http.ResponseWriter, status int, body HealthResponse) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// healthHandler returns 503 until a static graph is loaded, or when the
// assignment database stops answering.
func (webUI *WebUI) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if webUI.Application == nil || webUI.GtfsManager == nil || webUI.BlockLocationService == nil {
		writeHealth(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "unavailable",
			Detail: "tracker not initialized",
		})
		return
	}

	if !webUI.GtfsManager.IsHealthy() {
		writeHealth(w, http.StatusServiceUnavailable, HealthResponse{
			Status: "starting",
			Detail: "static GTFS data is not loaded yet",
		})
		return
	}

	if webUI.Assignments != nil {
		if err := webUI.Assignments.DB.PingContext(r.Context()); err != nil {
			logging.LogError(webUI.Logger, "Assignments DB ping failed", err)
			writeHealth(w, http.StatusServiceUnavailable, HealthResponse{
				Status: "unavailable",
				Detail: "assignment database connection failed",
			})
			return
		}
	}

	updated := webUI.GtfsManager.LastUpdated()
	writeHealth(w, http.StatusOK, HealthResponse{
		Status:          "ok",
		StaticUpdatedAt: &updated,
		CachedKeys:      webUI.BlockLocationService.Cache().Len(),
		Feeds:           webUI.GtfsManager.FeedUpdatedAt(),
	})
}
