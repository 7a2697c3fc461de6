// internal/models/message_test.go
package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	reading := Reading{
		SensorID:    "sensor-01",
		Temperature: Float(22.5),
		Timestamp:   time.Now(),
	}

	msg, err := NewMessage(MessageTypeReading, reading)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if msg.Type != MessageTypeReading {
		t.Errorf("Type = %v, want %v", msg.Type, MessageTypeReading)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
	if len(msg.Payload) == 0 {
		t.Error("Payload should not be empty")
	}
}

func TestBatchMessage(t *testing.T) {
	readings := []Reading{
		{SensorID: "sensor-01", Smoke: Float(1), Timestamp: time.Now()},
		{SensorID: "sensor-02", CO: Float(4), Timestamp: time.Now()},
	}

	msg, err := NewMessage(MessageTypeBatch, BatchMessage{Readings: readings, Count: len(readings)})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	var decoded BatchMessage
	if err := msg.UnmarshalPayload(&decoded); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}

	if decoded.Count != 2 {
		t.Errorf("Count = %d, want 2", decoded.Count)
	}
	if len(decoded.Readings) != 2 {
		t.Fatalf("len(Readings) = %d, want 2", len(decoded.Readings))
	}
	if decoded.Readings[1].CO == nil || *decoded.Readings[1].CO != 4 {
		t.Error("second reading lost its CO value")
	}
}

func TestResultMessage_JSONRoundtrip(t *testing.T) {
	result := FireDetectionResult{
		SensorID:        "sensor-01",
		Timestamp:       time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		FireProbability: 0.42,
		AlertLevel:      AlertCaution,
		Contributions:   map[Channel]float64{ChannelSmoke: 0.09},
		TriggeredRules:  []string{"연기 + CO 동시 감지"},
	}

	msg, err := NewMessage(MessageTypeResult, ResultMessage{Results: []FireDetectionResult{result}, MaxLevel: AlertCaution})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Type != MessageTypeResult {
		t.Errorf("Type = %v, want result", decoded.Type)
	}

	var payload ResultMessage
	if err := decoded.UnmarshalPayload(&payload); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}
	if payload.MaxLevel != AlertCaution {
		t.Errorf("MaxLevel = %v, want CAUTION", payload.MaxLevel)
	}
	if len(payload.Results) != 1 || payload.Results[0].Contributions[ChannelSmoke] != 0.09 {
		t.Errorf("unexpected results payload: %+v", payload.Results)
	}
}

func TestDecodePayload(t *testing.T) {
	msg, err := NewMessage(MessageTypeHeartbeat, HeartbeatMessage{GatewayID: "gw-3", Uptime: 42, Buffered: 7})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	hb, err := DecodePayload[HeartbeatMessage](msg)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if hb.GatewayID != "gw-3" || hb.Uptime != 42 || hb.Buffered != 7 {
		t.Errorf("heartbeat = %+v", hb)
	}

	bad := &Message{Type: MessageTypeBatch, Payload: []byte(`{"readings": 5}`)}
	if _, err := DecodePayload[BatchMessage](bad); err == nil {
		t.Error("DecodePayload should fail on a mistyped batch")
	}
}

func TestErrorMessage_Code(t *testing.T) {
	msg, err := NewMessage(MessageTypeError, ErrorMessage{Code: ErrCodeInvalidReading, Message: "sensor_id is required"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if !strings.Contains(string(msg.Payload), `"code":"invalid_reading"`) {
		t.Errorf("payload = %s", msg.Payload)
	}
}
