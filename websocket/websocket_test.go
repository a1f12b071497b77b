package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"corpus_dashboard/events"
	"corpus_dashboard/query"
)

// dial starts a test server for hub and connects one client to it.
func dial(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()
	server := httptest.NewServer(hub.Handler())

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		server.Close()
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}

	// Wait for client to register
	time.Sleep(50 * time.Millisecond)

	return conn, func() {
		conn.Close()
		server.Close()
	}
}

// readMessage reads one frame and decodes it, re-decoding the payload into payload.
func readMessage(t *testing.T, conn *websocket.Conn, payload interface{}) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read WebSocket message: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if payload != nil {
		payloadJSON, _ := json.Marshal(msg.Payload)
		if err := json.Unmarshal(payloadJSON, payload); err != nil {
			t.Fatalf("Failed to unmarshal payload: %v", err)
		}
	}
	return msg
}

// TestNewHub tests hub creation.
func TestNewHub(t *testing.T) {
	eventBus := events.NewBus(false)
	hub := NewHub(eventBus)

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.eventBus != eventBus {
		t.Error("Hub event bus not set correctly")
	}
	if hub.clients == nil {
		t.Error("Hub clients map not initialized")
	}
	if hub.maxMessageSize != defaultMaxMessageSize {
		t.Errorf("Expected default max message size %d, got %d", defaultMaxMessageSize, hub.maxMessageSize)
	}

	hub = NewHub(eventBus, WithMaxMessageSize(1024))
	if hub.maxMessageSize != 1024 {
		t.Errorf("Expected max message size 1024, got %d", hub.maxMessageSize)
	}
}

// TestHubStartStop tests starting and stopping the hub.
func TestHubStartStop(t *testing.T) {
	eventBus := events.NewBus(false)
	hub := NewHub(eventBus)

	hub.Start()
	if !hub.running {
		t.Error("Hub should be running after Start()")
	}
	if eventBus.HandlerCount() != 3 {
		t.Errorf("Expected 3 bus handlers, got %d", eventBus.HandlerCount())
	}

	// Starting again should be a no-op
	hub.Start()
	if eventBus.HandlerCount() != 3 {
		t.Errorf("Second Start() should not resubscribe, got %d handlers", eventBus.HandlerCount())
	}

	hub.Stop()
	if hub.running {
		t.Error("Hub should not be running after Stop()")
	}
	if eventBus.HandlerCount() != 0 {
		t.Errorf("Expected 0 bus handlers after Stop(), got %d", eventBus.HandlerCount())
	}

	// Stopping again should be a no-op
	hub.Stop()
}

func TestHubWithoutBus(t *testing.T) {
	hub := NewHub(nil)
	hub.Start()
	defer hub.Stop()

	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHubBroadcastTemplateSaved(t *testing.T) {
	eventBus := events.NewBus(false)
	hub := NewHub(eventBus)
	hub.Start()
	defer hub.Stop()

	conn, cleanup := dial(t, hub)
	defer cleanup()

	if hub.ClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", hub.ClientCount())
	}

	eventBus.Publish(events.NewTemplateSavedEvent("nouns", `[pos="NOUN"]`, "alice", true))

	var payload TemplatePayload
	msg := readMessage(t, conn, &payload)
	if msg.Type != MessageTypeTemplateSaved {
		t.Errorf("Expected message type %s, got %s", MessageTypeTemplateSaved, msg.Type)
	}
	if msg.Timestamp == 0 {
		t.Error("Expected a timestamp")
	}
	if payload.Name != "nouns" || payload.Query != `[pos="NOUN"]` || payload.User != "alice" || !payload.Created {
		t.Errorf("Unexpected payload %+v", payload)
	}
}

func TestHubBroadcastDeleteAndReload(t *testing.T) {
	eventBus := events.NewBus(false)
	hub := NewHub(eventBus)
	hub.Start()
	defer hub.Stop()

	conn, cleanup := dial(t, hub)
	defer cleanup()

	eventBus.Publish(events.NewTemplateDeletedEvent("nouns", "bob"))

	var deleted TemplatePayload
	msg := readMessage(t, conn, &deleted)
	if msg.Type != MessageTypeTemplateDeleted {
		t.Errorf("Expected message type %s, got %s", MessageTypeTemplateDeleted, msg.Type)
	}
	if deleted.Name != "nouns" || deleted.User != "bob" {
		t.Errorf("Unexpected payload %+v", deleted)
	}

	eventBus.Publish(events.NewTemplatesReloadedEvent(4))

	var reloaded ReloadPayload
	msg = readMessage(t, conn, &reloaded)
	if msg.Type != MessageTypeTemplatesReloaded {
		t.Errorf("Expected message type %s, got %s", MessageTypeTemplatesReloaded, msg.Type)
	}
	if reloaded.Count != 4 {
		t.Errorf("Expected count 4, got %d", reloaded.Count)
	}
}

func TestHubMultipleClients(t *testing.T) {
	eventBus := events.NewBus(false)
	hub := NewHub(eventBus)
	hub.Start()
	defer hub.Stop()

	server := httptest.NewServer(hub.Handler())
	defer server.Close()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/"

	var conns []*websocket.Conn
	for i := 0; i < 3; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("Failed to connect client %d: %v", i, err)
		}
		defer conn.Close()
		conns = append(conns, conn)
	}
	time.Sleep(100 * time.Millisecond)

	if hub.ClientCount() != 3 {
		t.Errorf("Expected 3 clients, got %d", hub.ClientCount())
	}

	eventBus.Publish(events.NewTemplatesReloadedEvent(1))

	for i, conn := range conns {
		msg := readMessage(t, conn, nil)
		if msg.Type != MessageTypeTemplatesReloaded {
			t.Errorf("Client %d: expected %s, got %s", i, MessageTypeTemplatesReloaded, msg.Type)
		}
	}
}

func TestPreviewRequest(t *testing.T) {
	hub := NewHub(events.NewBus(false))
	hub.Start()
	defer hub.Stop()

	conn, cleanup := dial(t, hub)
	defer cleanup()

	req := PreviewRequest{
		Type: MessageTypePreview,
		ID:   "req-1",
		Elements: query.Sequence{
			query.NewNormalToken(query.LogicAnd, query.Condition{
				Attribute: query.AttrLemma, Operator: query.OpRegex, Value: "run",
			}),
			query.NewUnboundedDistance(0),
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		t.Fatalf("Failed to send preview request: %v", err)
	}

	var payload PreviewPayload
	msg := readMessage(t, conn, &payload)
	if msg.Type != MessageTypePreview {
		t.Fatalf("Expected message type %s, got %s", MessageTypePreview, msg.Type)
	}
	if payload.ID != "req-1" {
		t.Errorf("Expected id req-1, got %s", payload.ID)
	}
	if payload.Query != `[lemma="run"] []*` {
		t.Errorf("Unexpected query %q", payload.Query)
	}
	if !payload.Validation.Valid {
		t.Errorf("Expected valid query, got %+v", payload.Validation)
	}
}

func TestPreviewRequestEmptyValue(t *testing.T) {
	hub := NewHub(events.NewBus(false))
	hub.Start()
	defer hub.Stop()

	conn, cleanup := dial(t, hub)
	defer cleanup()

	raw := `{"type":"preview","id":"x","elements":[{"type":"normal","conditionGroups":[{"conditions":[{"attribute":"word","operator":"=","value":""}]}]}]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("Failed to send: %v", err)
	}

	var payload PreviewPayload
	readMessage(t, conn, &payload)
	if payload.Query != `[word=""]` {
		t.Errorf("Unexpected query %q", payload.Query)
	}
	if payload.Validation.Valid || payload.Validation.Error != query.ErrEmptyValue {
		t.Errorf("Expected empty_value, got %+v", payload.Validation)
	}
}

func TestBadRequests(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "hello"},
		{"unknown type", `{"type":"subscribe","id":"a"}`},
		{"bad element", `{"type":"preview","id":"b","elements":[{"type":"bogus"}]}`},
	}

	hub := NewHub(events.NewBus(false))
	hub.Start()
	defer hub.Stop()

	conn, cleanup := dial(t, hub)
	defer cleanup()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.raw)); err != nil {
				t.Fatalf("Failed to send: %v", err)
			}
			var payload ErrorPayload
			msg := readMessage(t, conn, &payload)
			if msg.Type != MessageTypeError {
				t.Errorf("Expected message type %s, got %s", MessageTypeError, msg.Type)
			}
			if payload.Message == "" {
				t.Error("Expected an error message")
			}
		})
	}

	// The connection survives bad requests
	if hub.ClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", hub.ClientCount())
	}
}

func TestHubClientDisconnect(t *testing.T) {
	hub := NewHub(events.NewBus(false))
	hub.Start()
	defer hub.Stop()

	conn, cleanup := dial(t, hub)
	defer cleanup()

	if hub.ClientCount() != 1 {
		t.Errorf("Expected 1 client, got %d", hub.ClientCount())
	}

	conn.Close()
	time.Sleep(100 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("Expected 0 clients after disconnect, got %d", hub.ClientCount())
	}
}

// TestHandlerUpgrade tests that a plain HTTP request is refused.
func TestHandlerUpgrade(t *testing.T) {
	hub := NewHub(events.NewBus(false))
	hub.Start()
	defer hub.Stop()

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("HTTP request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}
