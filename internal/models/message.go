package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType names the payload carried by a gateway stream envelope
type MessageType string

// Gateways send reading, batch and heartbeat. The server answers with
// result, ack or error.
const (
	MessageTypeReading   MessageType = "reading"
	MessageTypeBatch     MessageType = "batch"
	MessageTypeHeartbeat MessageType = "heartbeat"
	MessageTypeAck       MessageType = "ack"
	MessageTypeError     MessageType = "error"
	MessageTypeResult    MessageType = "result"
)

// Message wraps every frame on the gateway stream. A reading message
// carries a bare Reading as its payload.
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage encodes payload into an envelope stamped with the send time
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	return &Message{
		Type:      msgType,
		Payload:   payloadJSON,
		Timestamp: time.Now(),
	}, nil
}

// UnmarshalPayload decodes the payload into v
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// DecodePayload decodes the payload of m as a T
func DecodePayload[T any](m *Message) (T, error) {
	var v T
	if err := m.UnmarshalPayload(&v); err != nil {
		return v, fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}
	return v, nil
}

// BatchMessage carries readings a gateway buffered while offline or
// flushed together. Count is informational; Readings is authoritative.
type BatchMessage struct {
	Readings []Reading `json:"readings"`
	Count    int       `json:"count"`
}

// HeartbeatMessage registers a gateway on connect and keeps it alive
type HeartbeatMessage struct {
	GatewayID string `json:"gateway_id"`
	Uptime    int64  `json:"uptime"`
	// Buffered is how many readings are waiting in the gateway's buffer
	Buffered int `json:"buffered"`
}

// AckMessage answers a heartbeat
type AckMessage struct {
	Status string `json:"status"`
}

// ErrorCode classifies why the server refused a frame
type ErrorCode string

const (
	ErrCodeUnknownType    ErrorCode = "unknown_type"
	ErrCodeBadPayload     ErrorCode = "bad_payload"
	ErrCodeInvalidReading ErrorCode = "invalid_reading"
)

// ErrorMessage is sent instead of a result when a frame cannot be processed
type ErrorMessage struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ResultMessage is sent back after each reading or batch so the gateway
// can drive local sirens and panels. Skipped counts batch readings that
// were refused as invalid.
type ResultMessage struct {
	Results  []FireDetectionResult `json:"results"`
	MaxLevel AlertLevel            `json:"max_level"`
	Skipped  int                   `json:"skipped,omitempty"`
}
