package webui

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/davecgh/go-spew/spew"

	"tracker.onebusaway.org/internal/appconf"
	"tracker.onebusaway.org/internal/blocks"
	"tracker.onebusaway.org/internal/clock"
	"tracker.onebusaway.org/internal/realtime"
)

//go:embed debug_index.html
var templateFS embed.FS

var debugTemplate = template.Must(template.ParseFS(templateFS, "debug_index.html"))

var dumpConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

type debugData struct {
	Title string
	Pre   string
}

func writeDebugData(w http.ResponseWriter, status int, title string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := debugTemplate.Execute(w, debugData{Title: title, Pre: dumpConfig.Sdump(data)}); err != nil {
		slog.Error("failed to execute debug template", "error", err)
	}
}

type stopTimeView struct {
	StopID             string
	Arrival            string
	Departure          string
	DistanceAlongBlock float64
	TripID             string
}

type blockView struct {
	Instance      string
	ServiceIDs    []string
	Trips         []string
	TotalDistance float64
	StopTimes     []stopTimeView
	EncodedPath   string
}

type locationView struct {
	Instance                    string
	InService                   bool
	VehicleID                   string
	Location                    any
	ActiveTripID                string
	ClosestStopID               string
	ClosestStopTimeOffset       int
	NextStopID                  string
	NextStopTimeOffset          int
	ScheduleDeviation           *float64
	DistanceAlongBlock          *float64
	ScheduledDistanceAlongBlock *float64
	Predicted                   bool
	LastUpdateTime              time.Time
}

type recordsView struct {
	Key     realtime.RecordKey
	Records []realtime.VehicleLocationRecord
}

func formatSeconds(s int) string {
	return (time.Duration(s) * time.Second).String()
}

func newStopTimeView(st *blocks.StopTimeEntry) stopTimeView {
	v := stopTimeView{
		StopID:             st.Stop.ID,
		Arrival:            formatSeconds(st.ArrivalTime),
		Departure:          formatSeconds(st.DepartureTime),
		DistanceAlongBlock: st.DistanceAlongBlock,
	}
	if st.Trip != nil {
		v.TripID = st.Trip.Trip.ID
	}
	return v
}

func newBlockView(instance blocks.BlockInstance, config *blocks.BlockConfiguration) blockView {
	v := blockView{
		Instance:      instance.String(),
		ServiceIDs:    config.ServiceIDs,
		TotalDistance: config.TotalDistance,
		EncodedPath:   config.EncodedPath(),
	}
	for _, bt := range config.Trips {
		v.Trips = append(v.Trips, bt.Trip.ID)
	}
	for _, st := range config.StopTimes {
		v.StopTimes = append(v.StopTimes, newStopTimeView(st))
	}
	return v
}

func newLocationView(l realtime.BlockLocation) locationView {
	v := locationView{
		Instance:                    l.BlockInstance.String(),
		InService:                   l.InService,
		VehicleID:                   l.VehicleID,
		ClosestStopTimeOffset:       l.ClosestStopTimeOffset,
		NextStopTimeOffset:          l.NextStopTimeOffset,
		ScheduleDeviation:           l.ScheduleDeviation,
		DistanceAlongBlock:          l.DistanceAlongBlock,
		ScheduledDistanceAlongBlock: l.ScheduledDistanceAlongBlock,
		Predicted:                   l.Predicted,
		LastUpdateTime:              l.LastUpdateTime,
	}
	if l.Location != nil {
		v.Location = *l.Location
	}
	if l.ActiveTrip != nil {
		v.ActiveTripID = l.ActiveTrip.Trip.ID
	}
	if l.ClosestStop != nil {
		v.ClosestStopID = l.ClosestStop.Stop.ID
	}
	if l.NextStop != nil {
		v.NextStopID = l.NextStop.Stop.ID
	}
	return v
}

// serviceDateParam reads serviceDate=YYYYMMDD, defaulting to today in the
// agency time zone.
func (webUI *WebUI) serviceDateParam(r *http.Request) (time.Time, error) {
	loc := webUI.GtfsManager.Location()
	if s := r.URL.Query().Get("serviceDate"); s != "" {
		return clock.ParseServiceDate(s, loc)
	}
	return clock.ServiceDate(webUI.Clock.Now(), loc), nil
}

// timeParam reads time= as RFC 3339, defaulting to now.
func (webUI *WebUI) timeParam(r *http.Request) (time.Time, error) {
	if s := r.URL.Query().Get("time"); s != "" {
		return time.Parse(time.RFC3339, s)
	}
	return webUI.Clock.Now(), nil
}

func (webUI *WebUI) debugIndexHandler(w http.ResponseWriter, r *http.Request) {
	if webUI.Config.Env == appconf.Production {
		http.NotFound(w, r)
		return
	}
	if webUI.GtfsManager == nil || webUI.BlockLocationService == nil {
		writeDebugData(w, http.StatusServiceUnavailable, "Not ready", map[string]string{"error": "tracker not initialized"})
		return
	}

	query := r.URL.Query()
	var (
		data  any
		title string
	)

	switch query.Get("dataType") {
	case "records":
		cache := webUI.BlockLocationService.Cache()
		keys := cache.Keys()
		views := make([]recordsView, 0, len(keys))
		for _, key := range keys {
			views = append(views, recordsView{Key: key, Records: cache.GetRecords(key)})
		}
		data, title = views, "Record cache"

	case "blocks":
		data, title = webUI.GtfsManager.BlockIDs(), "Blocks"

	case "feeds":
		data, title = webUI.GtfsManager.FeedUpdatedAt(), "GTFS Realtime - Last successful fetch"

	case "realtime_vehicles":
		data, title = webUI.GtfsManager.GetRealTimeVehicles(), "GTFS Realtime - Vehicles"

	case "block", "location":
		serviceDate, err := webUI.serviceDateParam(r)
		if err != nil {
			writeDebugData(w, http.StatusBadRequest, "Bad request", map[string]string{"error": err.Error()})
			return
		}
		blockID := query.Get("id")
		if blockID == "" {
			blockID = query.Get("block")
		}
		instance := blocks.BlockInstance{BlockID: blockID, ServiceDate: serviceDate}

		if query.Get("dataType") == "block" {
			config, err := webUI.GtfsManager.BlockConfigurationForInstance(instance)
			if err != nil {
				writeDebugData(w, http.StatusNotFound, "Block not found", map[string]string{"error": err.Error()})
				return
			}
			data, title = newBlockView(instance, config), "Block "+instance.String()
			break
		}

		at, err := webUI.timeParam(r)
		if err != nil {
			writeDebugData(w, http.StatusBadRequest, "Bad request", map[string]string{"error": err.Error()})
			return
		}
		location, err := webUI.BlockLocationService.GetLocationForBlockInstance(instance, at)
		if err != nil {
			writeDebugData(w, http.StatusNotFound, "Block not found", map[string]string{"error": err.Error()})
			return
		}
		data, title = newLocationView(location), "Location of "+instance.String()

	case "vehicle":
		at, err := webUI.timeParam(r)
		if err != nil {
			writeDebugData(w, http.StatusBadRequest, "Bad request", map[string]string{"error": err.Error()})
			return
		}
		vehicleID := query.Get("id")
		location, err := webUI.BlockLocationService.GetLocationForVehicle(vehicleID, at)
		if err != nil {
			writeDebugData(w, http.StatusNotFound, "Vehicle not found", map[string]string{"error": err.Error()})
			return
		}
		data, title = newLocationView(location), "Location of vehicle "+vehicleID

	default:
		data = map[string]string{
			"error": "Please use one of the following: records, blocks, feeds, realtime_vehicles, block&id=, location&block=&serviceDate=, vehicle&id=.",
		}
		title = "Choose a data type"
	}

	writeDebugData(w, http.StatusOK, title, data)
}
