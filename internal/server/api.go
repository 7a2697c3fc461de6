package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/fire-monitor/internal/adaptive"
	"github.com/afroash/fire-monitor/internal/models"
	"github.com/afroash/fire-monitor/internal/storage"
)

// APIHandler handles HTTP API requests for operators and dashboards
type APIHandler struct {
	results    ResultStore
	controller Controller
	events     EventStore
	logger     zerolog.Logger
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(results ResultStore, controller Controller, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		results:    results,
		controller: controller,
		logger:     logger,
	}
}

// NewAPIHandlerWithEvents creates an API handler that can also query the
// persistent event log
func NewAPIHandlerWithEvents(results ResultStore, controller Controller, events EventStore, logger zerolog.Logger) *APIHandler {
	api := NewAPIHandler(results, controller, logger)
	api.events = events
	return api
}

// Register mounts every endpoint on mux
func (api *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", api.HandleStatus)
	mux.HandleFunc("/api/thresholds", api.HandleThresholds)
	mux.HandleFunc("/api/changelog", api.HandleChangeLog)
	mux.HandleFunc("/api/rollback", api.HandleRollback)
	mux.HandleFunc("/api/reset", api.HandleReset)
	mux.HandleFunc("/api/profile", api.HandleProfile)
	mux.HandleFunc("/api/results/current", api.HandleCurrent)
	mux.HandleFunc("/api/results/history", api.HandleHistory)
	mux.HandleFunc("/api/events", api.HandleEvents)
}

func (api *APIHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (api *APIHandler) writeError(w http.ResponseWriter, status int, msg string) {
	api.writeJSON(w, status, map[string]string{"error": msg})
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

// intParam parses a positive integer query parameter, falling back to def
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return v, nil
}

// StatusResponse combines learning status with what the server has seen
type StatusResponse struct {
	Adaptive adaptive.Status `json:"adaptive"`
	Sensors  []string        `json:"sensors"`
	// KnownSensors includes sensors persisted before the last restart
	KnownSensors []string              `json:"known_sensors,omitempty"`
	Results      StoreStats            `json:"results"`
	Storage      *storage.StorageStats `json:"storage,omitempty"`
	Time         time.Time             `json:"time"`
}

// HandleStatus returns the adaptive status and store statistics
func (api *APIHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	resp := StatusResponse{
		Adaptive: api.controller.System().Status(),
		Sensors:  api.results.GetSensorIDs(),
		Results:  api.results.Stats(),
		Time:     time.Now(),
	}
	if api.events != nil {
		st, err := api.events.GetStorageStats()
		if err != nil {
			api.logger.Warn().Err(err).Msg("Failed to get storage stats")
		} else {
			resp.Storage = st
		}
		ids, err := api.events.GetSensorIDs()
		if err != nil {
			api.logger.Warn().Err(err).Msg("Failed to list stored sensors")
		} else {
			resp.KnownSensors = ids
		}
	}
	api.writeJSON(w, http.StatusOK, resp)
}

// HandleThresholds returns every standard threshold next to its current value
func (api *APIHandler) HandleThresholds(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	api.writeJSON(w, http.StatusOK, api.controller.System().ThresholdComparison())
}

// HandleChangeLog returns the threshold version history, newest first
func (api *APIHandler) HandleChangeLog(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	api.writeJSON(w, http.StatusOK, api.controller.System().Manager().ChangeLog())
}

// HandleRollback retires the newest threshold versions (?steps=N, default 1)
func (api *APIHandler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	steps := 1
	if raw := r.URL.Query().Get("steps"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			api.writeError(w, http.StatusBadRequest, "steps must be an integer")
			return
		}
		steps = v
	}

	ts, err := api.controller.Rollback(r.Context(), steps)
	if errors.Is(err, adaptive.ErrInvalidSteps) {
		api.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		api.logger.Error().Err(err).Int("steps", steps).Msg("Rollback failed")
		api.writeError(w, http.StatusInternalServerError, "rollback failed")
		return
	}

	api.logger.Info().Int("steps", steps).Msg("Thresholds rolled back by operator")
	api.writeJSON(w, http.StatusOK, map[string]interface{}{"steps": steps, "thresholds": ts})
}

// HandleReset forgets everything learned and restores the standard set
func (api *APIHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if err := api.controller.ResetToStandard(r.Context()); err != nil {
		api.logger.Error().Err(err).Msg("Reset failed")
		api.writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	api.logger.Info().Msg("Adaptive state reset by operator")
	api.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleProfile returns the learned environment profile
func (api *APIHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	api.writeJSON(w, http.StatusOK, api.controller.System().Profile())
}

// sensorParam returns ?sensor_id or the first sensor with results
func (api *APIHandler) sensorParam(r *http.Request) (string, bool) {
	if id := r.URL.Query().Get("sensor_id"); id != "" {
		return id, true
	}
	ids := api.results.GetSensorIDs()
	if len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

// HandleCurrent returns the latest result for a sensor
func (api *APIHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	sensorID, ok := api.sensorParam(r)
	if !ok {
		api.writeError(w, http.StatusNotFound, "no sensors found")
		return
	}

	res, ok := api.results.GetCurrent(sensorID)
	if !ok {
		api.writeError(w, http.StatusNotFound, "no results available")
		return
	}
	api.writeJSON(w, http.StatusOK, res)
}

// HandleHistory returns recent results for a sensor, newest first
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		api.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sensorID, ok := api.sensorParam(r)
	if !ok {
		api.writeJSON(w, http.StatusOK, []models.FireDetectionResult{})
		return
	}

	results := api.results.GetLatest(sensorID, limit)
	if results == nil {
		results = []models.FireDetectionResult{}
	}
	api.writeJSON(w, http.StatusOK, results)
}

// HandleEvents queries the persistent event log
// (?sensor_id=&hours=24&limit=100; an empty sensor_id means every sensor)
func (api *APIHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if api.events == nil {
		api.writeError(w, http.StatusServiceUnavailable, "event log disabled")
		return
	}
	hours, err := intParam(r, "hours", 24)
	if err != nil {
		api.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		api.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)
	events, err := api.events.GetEventsInRange(r.URL.Query().Get("sensor_id"), start, end, limit)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to query events")
		api.writeError(w, http.StatusInternalServerError, "failed to query events")
		return
	}
	if events == nil {
		events = []*storage.DetectionEvent{}
	}
	api.writeJSON(w, http.StatusOK, events)
}
