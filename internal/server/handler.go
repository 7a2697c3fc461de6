package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/fire-monitor/internal/metrics"
	"github.com/afroash/fire-monitor/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// Handler manages WebSocket connections from sensor gateways. Every
// reading or batch is answered with a result envelope.
type Handler struct {
	upgrader       websocket.Upgrader
	authToken      string
	pipeline       Pipeline
	results        ResultStore
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	activeSensors  map[string]*SensorConnection
	connToSensorID map[string]string // Maps conn.RemoteAddr().String() to actual sensor ID
	allowedOrigins []string
	mutex          sync.RWMutex
}

// SensorConnection represents an active gateway connection
type SensorConnection struct {
	SensorID    string          `json:"sensor_id"`
	Conn        *websocket.Conn `json:"-"`
	LastSeen    time.Time       `json:"last_seen"`
	ConnectedAt time.Time       `json:"connected_at"`
}

// NewHandler creates a new WebSocket handler
func NewHandler(authToken string, pipeline Pipeline, results ResultStore, logger zerolog.Logger, allowedOrigins ...string) *Handler {
	h := &Handler{
		authToken:      authToken,
		pipeline:       pipeline,
		results:        results,
		logger:         logger,
		activeSensors:  make(map[string]*SensorConnection),
		connToSensorID: make(map[string]string),
		allowedOrigins: allowedOrigins,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// SetMetrics enables the connection gauge
func (h *Handler) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// checkOrigin validates the incoming request's Origin against the configured allowlist
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// No Origin header means same-origin request
	if origin == "" {
		return true
	}

	if len(h.allowedOrigins) == 0 {
		h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: no allowed origins configured")
		return false
	}

	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}

	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not in allowlist")
	return false
}

// ServeHTTP handles WebSocket connection requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected format: "Bearer <token>"
	if !h.validateToken(r.Header.Get("Authorization")) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	h.handleConnection(conn)
}

// validateToken checks if the auth token is valid
func (h *Handler) validateToken(authHeader string) bool {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	return strings.TrimPrefix(authHeader, "Bearer ") == h.authToken
}

// handleConnection manages a single WebSocket connection
func (h *Handler) handleConnection(conn *websocket.Conn) {
	connKey := conn.RemoteAddr().String()
	now := time.Now()

	h.mutex.Lock()
	h.activeSensors[connKey] = &SensorConnection{
		SensorID:    connKey, // Replaced once a heartbeat or reading names the sensor
		Conn:        conn,
		LastSeen:    now,
		ConnectedAt: now,
	}
	h.mutex.Unlock()
	if h.metrics != nil {
		h.metrics.ActiveSensors.Inc()
	}

	defer conn.Close()
	defer h.removeSensor(connKey)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleMessage(conn, connKey, &msg)
	}
}

// handleMessage processes a single message from the gateway
func (h *Handler) handleMessage(conn *websocket.Conn, connKey string, msg *models.Message) {
	h.logger.Debug().Str("type", string(msg.Type)).Msg("Received message")
	h.updateSensorLastSeen(connKey)

	switch msg.Type {
	case models.MessageTypeReading:
		h.handleReading(conn, connKey, msg)
	case models.MessageTypeBatch:
		h.handleBatch(conn, msg)
	case models.MessageTypeHeartbeat:
		h.handleHeartbeat(connKey, msg)
		h.send(conn, models.MessageTypeAck, models.AckMessage{Status: "ok"})
	default:
		h.logger.Warn().Str("type", string(msg.Type)).Msg("Unknown message type")
		h.send(conn, models.MessageTypeError, models.ErrorMessage{Code: models.ErrCodeUnknownType, Message: "unknown message type: " + string(msg.Type)})
	}
}

// handleReading detects one reading and replies with its result
func (h *Handler) handleReading(conn *websocket.Conn, connKey string, msg *models.Message) {
	reading, err := models.DecodePayload[models.Reading](msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to unmarshal reading")
		h.send(conn, models.MessageTypeError, models.ErrorMessage{Code: models.ErrCodeBadPayload, Message: err.Error()})
		return
	}

	res, err := h.pipeline.Process(&reading)
	if err != nil {
		h.logger.Warn().Err(err).Str("sensor_id", reading.SensorID).Msg("Reading ignored")
		h.send(conn, models.MessageTypeError, models.ErrorMessage{Code: models.ErrCodeInvalidReading, Message: err.Error()})
		return
	}
	h.nameConnection(connKey, reading.SensorID)
	h.results.Add(res)

	h.logger.Debug().
		Str("sensor_id", res.SensorID).
		Float64("fire_probability", res.FireProbability).
		Str("level", res.AlertLevel.String()).
		Msg("Reading processed")

	h.send(conn, models.MessageTypeResult, models.ResultMessage{
		Results:  []models.FireDetectionResult{res},
		MaxLevel: res.AlertLevel,
	})
}

// handleBatch detects a batch of readings and replies with every result
func (h *Handler) handleBatch(conn *websocket.Conn, msg *models.Message) {
	batch, err := models.DecodePayload[models.BatchMessage](msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to unmarshal batch")
		h.send(conn, models.MessageTypeError, models.ErrorMessage{Code: models.ErrCodeBadPayload, Message: err.Error()})
		return
	}

	results, maxLevel := h.pipeline.ProcessBatch(batch.Readings)
	for _, res := range results {
		h.results.Add(res)
	}
	h.logger.Info().
		Int("count", len(batch.Readings)).
		Int("processed", len(results)).
		Str("max_level", maxLevel.String()).
		Msg("Batch processed")

	h.send(conn, models.MessageTypeResult, models.ResultMessage{
		Results:  results,
		MaxLevel: maxLevel,
		Skipped:  len(batch.Readings) - len(results),
	})
}

// handleHeartbeat processes a heartbeat message
func (h *Handler) handleHeartbeat(connKey string, msg *models.Message) {
	heartbeat, err := models.DecodePayload[models.HeartbeatMessage](msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to unmarshal heartbeat")
		return
	}
	h.nameConnection(connKey, heartbeat.GatewayID)
	h.logger.Debug().
		Str("gateway_id", heartbeat.GatewayID).
		Int64("uptime", heartbeat.Uptime).
		Int("buffered", heartbeat.Buffered).
		Msg("Heartbeat received")
}

// nameConnection maps the connection to the sensor id it reports
func (h *Handler) nameConnection(connKey, sensorID string) {
	if sensorID == "" {
		return
	}
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if existing, ok := h.connToSensorID[connKey]; ok && existing == sensorID {
		return
	}
	h.connToSensorID[connKey] = sensorID
	if sensor, ok := h.activeSensors[connKey]; ok {
		sensor.SensorID = sensorID
	}
}

// send writes one envelope to the gateway
func (h *Handler) send(conn *websocket.Conn, msgType models.MessageType, payload interface{}) {
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("type", string(msgType)).Msg("Failed to create message")
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Warn().Err(err).Str("type", string(msgType)).Msg("Failed to send message")
	}
}

// updateSensorLastSeen updates the last seen timestamp for a connection
func (h *Handler) updateSensorLastSeen(connKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if sensor, exists := h.activeSensors[connKey]; exists {
		sensor.LastSeen = time.Now()
	}
}

// removeSensor removes a connection from the active map
func (h *Handler) removeSensor(connKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	sensorID := connKey
	if realID, exists := h.connToSensorID[connKey]; exists {
		sensorID = realID
	}
	delete(h.activeSensors, connKey)
	delete(h.connToSensorID, connKey)
	if h.metrics != nil {
		h.metrics.ActiveSensors.Dec()
	}
	h.logger.Info().Str("sensor_id", sensorID).Msg("Sensor disconnected")
}

// GetActiveSensors returns a list of currently connected gateways
func (h *Handler) GetActiveSensors() []SensorConnection {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	sensors := make([]SensorConnection, 0, len(h.activeSensors))
	for _, sensor := range h.activeSensors {
		sensors = append(sensors, *sensor)
	}
	return sensors
}
