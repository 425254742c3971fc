package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/relay/internal/bus"
	"github.com/normanking/relay/internal/config"
)

// wsURL rewrites the gateway's HTTP base into a WebSocket endpoint URL.
func wsURL(base, path string) string {
	return "ws" + strings.TrimPrefix(base, "http") + path
}

// dialEvents opens the event stream and waits until the gateway has
// registered the client, so events published afterwards are guaranteed
// to reach it.
func dialEvents(t *testing.T, base, path, token string) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(base, path), header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		resp, body := doJSON(t, http.MethodGet, base+"/health", "", "")
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var health struct {
			Clients int `json:"clients"`
		}
		if json.Unmarshal(body, &health) != nil {
			return false
		}
		return health.Clients > 0
	}, 2*time.Second, 10*time.Millisecond, "client never registered")

	return conn
}

// readEvents collects events from the stream until one of type want
// arrives or the deadline passes. A single frame may carry several
// newline-separated events.
func readEvents(t *testing.T, conn *websocket.Conn, want bus.EventType) []bus.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var events []bus.Event
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "stream ended before %s", want)

		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(line) == 0 {
				continue
			}
			var event bus.Event
			require.NoError(t, json.Unmarshal(line, &event))
			events = append(events, event)
			if event.Type == want {
				return events
			}
		}
	}
}

func TestGatewayEventStream(t *testing.T) {
	_, _, base := startGateway(t, "streamed answer", nil)
	conn := dialEvents(t, base, "/events?replay=false", "")

	resp, _ := doJSON(t, http.MethodPost, base+"/api/v1/dispatch", `{"prompt": "hello"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	events := readEvents(t, conn, bus.EventDispatchCompleted)

	var types []bus.EventType
	for _, event := range events {
		types = append(types, event.Type)
	}
	assert.Contains(t, types, bus.EventDispatchStarted)
	assert.Contains(t, types, bus.EventProviderCall)
	assert.Contains(t, types, bus.EventDispatchCompleted)

	// Every lifecycle event of the dispatch carries the same request ID.
	id := events[0].RequestID
	require.NotEmpty(t, id)
	for _, event := range events {
		assert.Equal(t, id, event.RequestID)
	}
}

func TestGatewayEventReplay(t *testing.T) {
	_, events, base := startGateway(t, "x", nil)

	for i := 0; i < 3; i++ {
		event := bus.NewEvent(bus.EventProviderCall)
		event.RequestID = fmt.Sprintf("req-%d", i)
		require.NoError(t, events.Publish(event))
	}

	conn := dialEvents(t, base, "/events?count=2", "")
	got := readEvents(t, conn, bus.EventProviderCall)

	// Replay is bounded by count and keeps history order.
	require.NotEmpty(t, got)
	assert.Equal(t, "req-1", got[0].RequestID)
}

func TestGatewayEventStreamSkipsReplayWhenDisabled(t *testing.T) {
	_, events, base := startGateway(t, "replayed", nil)

	stale := bus.NewEvent(bus.EventProviderCall)
	stale.RequestID = "stale-req"
	require.NoError(t, events.Publish(stale))

	conn := dialEvents(t, base, "/events?replay=false", "")

	resp, _ := doJSON(t, http.MethodPost, base+"/api/v1/dispatch", `{"prompt": "fresh"}`, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := readEvents(t, conn, bus.EventDispatchCompleted)
	for _, event := range got {
		assert.NotEqual(t, "stale-req", event.RequestID)
	}
}

func TestGatewayEventStreamRequiresToken(t *testing.T) {
	hash, err := HashToken("stream-token")
	require.NoError(t, err)

	_, _, base := startGateway(t, "x", func(cfg *config.Config) {
		cfg.Gateway.AuthTokenHash = hash
	})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(base, "/events"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn := dialEvents(t, base, "/events", "stream-token")
	assert.NotNil(t, conn)
}

func TestGatewayStopClosesStream(t *testing.T) {
	srv, _, base := startGateway(t, "x", nil)
	conn := dialEvents(t, base, "/events?replay=false", "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
