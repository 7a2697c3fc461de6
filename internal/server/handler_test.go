package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/afroash/fire-monitor/internal/metrics"
	"github.com/afroash/fire-monitor/internal/models"
)

const testToken = "secret-token"

func setupWS(t *testing.T) (*Handler, *MemoryStore, *httptest.Server) {
	t.Helper()
	results := NewMemoryStore(50)
	h := NewHandler(testToken, newTestEngine(t), results, zerolog.Nop(), "https://panel.example")
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, results, srv
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return websocket.DefaultDialer.Dial(url, header)
}

func authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+testToken)
	return h
}

func sendAndReceive(t *testing.T, conn *websocket.Conn, msgType models.MessageType, payload interface{}) models.Message {
	t.Helper()
	msg, err := models.NewMessage(msgType, payload)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var reply models.Message
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return reply
}

func TestHandler_RejectsBadToken(t *testing.T) {
	_, _, srv := setupWS(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong token", "Bearer nope"},
		{"wrong scheme", "Basic " + testToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Authorization", tt.header)
			}
			_, resp, err := dial(t, srv, h)
			if err == nil {
				t.Fatal("Expected dial to fail")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("Expected 401, got %v", resp)
			}
		})
	}
}

func TestHandler_CheckOrigin(t *testing.T) {
	h := NewHandler(testToken, nil, NewMemoryStore(1), zerolog.Nop(), "https://panel.example")

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://panel.example", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/sensor-stream", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := h.checkOrigin(r); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}

	none := NewHandler(testToken, nil, NewMemoryStore(1), zerolog.Nop())
	r := httptest.NewRequest(http.MethodGet, "/sensor-stream", nil)
	r.Header.Set("Origin", "https://panel.example")
	if none.checkOrigin(r) {
		t.Error("Cross-origin request must be rejected without an allowlist")
	}
}

func TestHandler_ReadingGetsResult(t *testing.T) {
	h, results, srv := setupWS(t)
	m := metrics.New(prometheus.NewRegistry())
	h.SetMetrics(m)

	conn, _, err := dial(t, srv, authHeader())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	r := models.NewReading("plant-7")
	r.Set(models.ChannelTemperature, 60).
		Set(models.ChannelSmoke, 60).
		Set(models.ChannelCO, 150).
		Set(models.ChannelCO2, 3000).
		Set(models.ChannelO2, 19).
		Set(models.ChannelHumidity, 20)

	reply := sendAndReceive(t, conn, models.MessageTypeReading, r)
	if reply.Type != models.MessageTypeResult {
		t.Fatalf("reply type = %q, want result", reply.Type)
	}
	var payload models.ResultMessage
	if err := reply.UnmarshalPayload(&payload); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}
	if len(payload.Results) != 1 || payload.MaxLevel != models.AlertDanger {
		t.Errorf("payload = %+v", payload)
	}

	if _, ok := results.GetCurrent("plant-7"); !ok {
		t.Error("Result should be stored")
	}

	active := h.GetActiveSensors()
	if len(active) != 1 || active[0].SensorID != "plant-7" {
		t.Errorf("active = %+v", active)
	}
	if testutil.ToFloat64(m.ActiveSensors) != 1 {
		t.Errorf("ActiveSensors gauge = %v, want 1", testutil.ToFloat64(m.ActiveSensors))
	}
}

func TestHandler_BatchGetsResults(t *testing.T) {
	_, results, srv := setupWS(t)
	conn, _, err := dial(t, srv, authHeader())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	var batch models.BatchMessage
	for i := 0; i < 3; i++ {
		r := models.Reading{SensorID: "office-1", Timestamp: t0.Add(time.Duration(i) * time.Second)}
		r.Set(models.ChannelTemperature, 22).Set(models.ChannelCO, 1)
		batch.Readings = append(batch.Readings, r)
	}
	batch.Readings = append(batch.Readings, models.Reading{Timestamp: t0})
	batch.Count = len(batch.Readings)

	reply := sendAndReceive(t, conn, models.MessageTypeBatch, batch)
	var payload models.ResultMessage
	if err := reply.UnmarshalPayload(&payload); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}
	if len(payload.Results) != 3 {
		t.Errorf("Got %d results, want 3 (invalid reading skipped)", len(payload.Results))
	}
	if payload.MaxLevel != models.AlertNormal {
		t.Errorf("MaxLevel = %v, want NORMAL", payload.MaxLevel)
	}
	if payload.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", payload.Skipped)
	}
	if len(results.GetLatest("office-1", 10)) != 3 {
		t.Error("Batch results should be stored")
	}
}

func TestHandler_ErrorsAndHeartbeat(t *testing.T) {
	h, _, srv := setupWS(t)
	conn, _, err := dial(t, srv, authHeader())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	reply := sendAndReceive(t, conn, models.MessageTypeReading, models.Reading{})
	if reply.Type != models.MessageTypeError {
		t.Errorf("invalid reading reply = %q, want error", reply.Type)
	}

	reply = sendAndReceive(t, conn, models.MessageType("bogus"), map[string]string{})
	var e models.ErrorMessage
	if err := reply.UnmarshalPayload(&e); err != nil || e.Code != models.ErrCodeUnknownType {
		t.Errorf("unknown type reply = %+v (%v)", e, err)
	}

	reply = sendAndReceive(t, conn, models.MessageTypeHeartbeat, models.HeartbeatMessage{GatewayID: "gw-1", Uptime: 10, Buffered: 4})
	if reply.Type != models.MessageTypeAck {
		t.Errorf("heartbeat reply = %q, want ack", reply.Type)
	}
	active := h.GetActiveSensors()
	if len(active) != 1 || active[0].SensorID != "gw-1" {
		t.Errorf("active = %+v", active)
	}
}
