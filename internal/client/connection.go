package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/fire-monitor/internal/models"
)

// ErrNotConnected is returned when sending without a live connection
var ErrNotConnected = errors.New("not connected")

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ResultHandler receives every result envelope the server sends back
type ResultHandler func(models.ResultMessage)

// Connection manages the gateway's WebSocket uplink to the server. It
// drains the reading buffer in batches and reports results as they arrive.
type Connection struct {
	url                      string
	authToken                string
	gatewayID                string
	startedAt                time.Time
	conn                     *websocket.Conn
	state                    ConnectionState
	stateMutex               sync.RWMutex
	logger                   zerolog.Logger
	buffer                   *ReadingBuffer
	onResult                 ResultHandler
	connectTimeout           time.Duration
	reconnectInterval        time.Duration
	maxReconnectInterval     time.Duration
	currentReconnectInterval time.Duration
	pingInterval             time.Duration
	pongTimeout              time.Duration
	batchSize                int
	flushInterval            time.Duration
	lastPong                 time.Time
	lastPongMutex            sync.RWMutex
	stats                    UplinkStats
	statsMutex               sync.Mutex
	stopChan                 chan struct{}
	stopOnce                 sync.Once
}

// ConnectionConfig holds configuration for the connection
type ConnectionConfig struct {
	URL                  string
	AuthToken            string
	ConnectTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
	BatchSize            int
	FlushInterval        time.Duration
}

// UplinkStats counts traffic on the uplink
type UplinkStats struct {
	BatchesSent     int64
	ReadingsSent    int64
	ResultsReceived int64
	ErrorsReceived  int64
	Outstanding     int64 // messages sent without a result or error yet
	MaxLevel        models.AlertLevel
	Reconnects      int64
}

// NewConnection creates a new connection manager. buffer may be nil when
// the caller only uses Send and SendBatch.
func NewConnection(config ConnectionConfig, gatewayID string, buffer *ReadingBuffer, logger zerolog.Logger) *Connection {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}
	return &Connection{
		url:                      config.URL,
		authToken:                config.AuthToken,
		gatewayID:                gatewayID,
		startedAt:                time.Now(),
		state:                    StateDisconnected,
		logger:                   logger,
		buffer:                   buffer,
		connectTimeout:           config.ConnectTimeout,
		reconnectInterval:        config.ReconnectInterval,
		maxReconnectInterval:     config.MaxReconnectInterval,
		currentReconnectInterval: config.ReconnectInterval,
		pingInterval:             config.PingInterval,
		pongTimeout:              config.PongTimeout,
		batchSize:                config.BatchSize,
		flushInterval:            config.FlushInterval,
		stopChan:                 make(chan struct{}),
	}
}

// OnResult registers the result callback. Call before Run.
func (c *Connection) OnResult(h ResultHandler) {
	c.onResult = h
}

// setState safely updates the connection state
func (c *Connection) setState(state ConnectionState) {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	c.state = state
	c.logger.Debug().Str("state", state.String()).Msg("Connection state updated")
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.state
}

// IsConnected returns true if currently connected
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Stats returns a copy of the uplink counters
func (c *Connection) Stats() UplinkStats {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()
	return c.stats
}

// Idle reports whether nothing is buffered and every sent message has
// been answered.
func (c *Connection) Idle() bool {
	if c.buffer != nil && !c.buffer.IsEmpty() {
		return false
	}
	return c.Stats().Outstanding == 0
}

// Connect establishes a WebSocket connection to the server
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	c.logger.Info().Str("url", c.url).Msg("Connecting to server...")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.connectTimeout,
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.authToken)

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		c.setState(StateDisconnected)
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}

	c.stateMutex.Lock()
	c.conn = conn
	c.state = StateConnected
	c.stateMutex.Unlock()
	c.currentReconnectInterval = c.reconnectInterval // reset backoff
	c.logger.Info().Msg("Connected to server")

	// Answers to the previous connection are lost with it
	c.statsMutex.Lock()
	c.stats.Outstanding = 0
	c.statsMutex.Unlock()

	if err := c.sendHeartbeat(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send registration")
		return err
	}
	return nil
}

// Run connects and keeps reconnecting with exponential backoff until ctx
// is cancelled or Close is called.
func (c *Connection) Run(ctx context.Context) error {
	first := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopChan:
			return nil
		default:
		}

		if !first {
			c.statsMutex.Lock()
			c.stats.Reconnects++
			c.statsMutex.Unlock()
		}
		first = false

		if err := c.Connect(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Connection failed")
			c.waitBeforeReconnect(ctx)
			continue
		}

		c.runMessageLoops(ctx)

		c.logger.Info().Msg("Connection lost, will reconnect")
		c.waitBeforeReconnect(ctx)
	}
}

// waitBeforeReconnect waits before next reconnection attempt with exponential backoff
func (c *Connection) waitBeforeReconnect(ctx context.Context) {
	c.logger.Info().Dur("delay", c.currentReconnectInterval).Msg("Waiting before reconnect")
	select {
	case <-time.After(c.currentReconnectInterval):
	case <-ctx.Done():
		return
	case <-c.stopChan:
		return
	}
	c.currentReconnectInterval *= 2
	if c.currentReconnectInterval > c.maxReconnectInterval {
		c.currentReconnectInterval = c.maxReconnectInterval
	}
}

// runMessageLoops runs the read, heartbeat and flush loops until any of
// them fails, then drops the connection.
func (c *Connection) runMessageLoops(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.stateMutex.RLock()
	conn := c.conn
	c.stateMutex.RUnlock()
	if conn == nil {
		return
	}

	var wg sync.WaitGroup
	loops := []func(context.Context){
		func(context.Context) { c.readLoop(conn) },
		c.heartbeatLoop,
		c.flushLoop,
	}
	for _, loop := range loops {
		wg.Add(1)
		go func(loop func(context.Context)) {
			defer wg.Done()
			defer cancel()
			loop(ctx)
		}(loop)
	}

	select {
	case <-ctx.Done():
	case <-c.stopChan:
	}
	cancel()
	c.disconnect()
	wg.Wait()
}

// disconnect closes the WebSocket connection
func (c *Connection) disconnect() {
	c.stateMutex.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.stateMutex.Unlock()
	c.logger.Info().Msg("Connection disconnected")
}

// Send sends a single reading to the server
func (c *Connection) Send(reading *models.Reading) error {
	msg, err := models.NewMessage(models.MessageTypeReading, reading)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	c.countSent(1)
	if err := c.sendMessage(msg); err != nil {
		c.uncountSent(1)
		return err
	}
	return nil
}

// SendBatch sends multiple readings in one message
func (c *Connection) SendBatch(readings []*models.Reading) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if len(readings) == 0 {
		return nil
	}

	batchReadings := make([]models.Reading, len(readings))
	for i, r := range readings {
		batchReadings[i] = *r
	}
	batch := models.BatchMessage{
		Readings: batchReadings,
		Count:    len(readings),
	}

	msg, err := models.NewMessage(models.MessageTypeBatch, batch)
	if err != nil {
		return fmt.Errorf("failed to create batch message: %w", err)
	}
	c.countSent(len(readings))
	if err := c.sendMessage(msg); err != nil {
		c.uncountSent(len(readings))
		return err
	}
	c.logger.Debug().Int("count", len(readings)).Msg("Sent batch of readings")
	return nil
}

// countSent runs before the write so an answer can never overtake it
func (c *Connection) countSent(readings int) {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()
	if readings > 1 {
		c.stats.BatchesSent++
	}
	c.stats.ReadingsSent += int64(readings)
	c.stats.Outstanding++
}

func (c *Connection) uncountSent(readings int) {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()
	if readings > 1 {
		c.stats.BatchesSent--
	}
	c.stats.ReadingsSent -= int64(readings)
	if c.stats.Outstanding > 0 {
		c.stats.Outstanding--
	}
}

// sendMessage writes one envelope. The state lock also serialises writers.
func (c *Connection) sendMessage(msg *models.Message) error {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	if c.conn == nil || c.state != StateConnected {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(msg)
}

// flushLoop drains the buffer in batches
func (c *Connection) flushLoop(ctx context.Context) {
	if c.buffer == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for !c.buffer.IsEmpty() {
				if err := c.flush(); err != nil {
					c.logger.Warn().Err(err).Msg("Failed to flush buffer")
					return
				}
			}
		}
	}
}

// flush sends one batch; on failure the readings go back to the buffer
func (c *Connection) flush() error {
	readings := c.buffer.PopBatch(c.batchSize)
	if len(readings) == 0 {
		return nil
	}
	if err := c.SendBatch(readings); err != nil {
		c.buffer.Requeue(readings)
		return err
	}
	return nil
}

// readLoop reads messages from the server until the connection fails
func (c *Connection) readLoop(conn *websocket.Conn) {
	c.logger.Debug().Msg("Starting read loop")
	defer c.logger.Debug().Msg("Read loop stopped")

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn().Err(err).Msg("Read error")
			}
			return
		}
		c.handleMessage(&msg)
	}
}

// handleMessage processes a message received from the server
func (c *Connection) handleMessage(msg *models.Message) {
	c.updateLastPong()

	switch msg.Type {
	case models.MessageTypeAck:
		c.logger.Debug().Msg("Received ack")
	case models.MessageTypeResult:
		var res models.ResultMessage
		if err := msg.UnmarshalPayload(&res); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to unmarshal result")
			c.answered(false, models.AlertNormal, 0)
			return
		}
		c.answered(true, res.MaxLevel, len(res.Results))
		if c.onResult != nil {
			c.onResult(res)
		}
	case models.MessageTypeError:
		var errMsg models.ErrorMessage
		if err := msg.UnmarshalPayload(&errMsg); err == nil {
			c.logger.Warn().Str("code", string(errMsg.Code)).Str("msg", errMsg.Message).Msg("Server error")
		}
		c.answered(false, models.AlertNormal, 0)
	default:
		c.logger.Debug().Str("type", string(msg.Type)).Msg("Unknown message type")
	}
}

func (c *Connection) answered(ok bool, level models.AlertLevel, results int) {
	c.statsMutex.Lock()
	defer c.statsMutex.Unlock()
	if c.stats.Outstanding > 0 {
		c.stats.Outstanding--
	}
	if !ok {
		c.stats.ErrorsReceived++
		return
	}
	c.stats.ResultsReceived += int64(results)
	if level > c.stats.MaxLevel {
		c.stats.MaxLevel = level
	}
}

// updateLastPong records that the server answered
func (c *Connection) updateLastPong() {
	c.lastPongMutex.Lock()
	defer c.lastPongMutex.Unlock()
	c.lastPong = time.Now()
}

// timeSinceLastPong returns duration since last pong
func (c *Connection) timeSinceLastPong() time.Duration {
	c.lastPongMutex.RLock()
	defer c.lastPongMutex.RUnlock()
	return time.Since(c.lastPong)
}

// heartbeatLoop sends periodic heartbeats and monitors connection health
func (c *Connection) heartbeatLoop(ctx context.Context) {
	c.logger.Debug().Msg("Starting heartbeat loop")
	defer c.logger.Debug().Msg("Heartbeat loop stopped")

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	c.updateLastPong()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.sendHeartbeat(); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to send heartbeat")
				return
			}
			if c.timeSinceLastPong() > c.pongTimeout {
				c.logger.Warn().Msg("No answer from server, connection appears dead")
				return
			}
		}
	}
}

// sendHeartbeat announces the gateway; the server answers with an ack
func (c *Connection) sendHeartbeat() error {
	heartbeat := models.HeartbeatMessage{
		GatewayID: c.gatewayID,
		Uptime:    int64(time.Since(c.startedAt).Seconds()),
	}
	if c.buffer != nil {
		heartbeat.Buffered = c.buffer.Size()
	}
	msg, err := models.NewMessage(models.MessageTypeHeartbeat, heartbeat)
	if err != nil {
		return err
	}
	return c.sendMessage(msg)
}

// Close stops Run and shuts the connection down with a close frame
func (c *Connection) Close() error {
	c.logger.Info().Msg("Closing connection")
	c.stopOnce.Do(func() { close(c.stopChan) })

	c.stateMutex.Lock()
	if c.conn != nil {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.stateMutex.Unlock()

	c.logger.Info().Msg("Connection closed")
	return nil
}
