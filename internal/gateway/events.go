package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/normanking/relay/internal/bus"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EVENT STREAM
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// writeWait bounds a single frame write to a client.
	writeWait = 10 * time.Second

	// pongWait is how long a client may stay silent before the read side
	// gives up on it.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait so pings arrive in time.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps inbound frames; clients only ever send pongs.
	maxMessageSize = 512

	// clientSendBuffer is per-client. A client that falls this far behind
	// gets disconnected rather than stalling the fan-out.
	clientSendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsClient is one connected event stream consumer.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// handleEvents upgrades the connection and streams dispatch lifecycle
// events as JSON text frames. Query parameters: replay=false skips the
// history replay, count=N bounds how many past events are replayed
// (default gateway.event_history).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	replay := r.URL.Query().Get("replay") != "false"
	count := s.cfg.EventHistory
	if raw := r.URL.Query().Get("count"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			count = n
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, clientSendBuffer)}

	// Queue the replay before registering so history arrives ahead of any
	// live event and before Stop can touch the send channel.
	if replay && count > 0 {
		for _, event := range s.events.HistoryTail(count) {
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			select {
			case client.send <- payload:
			default:
			}
		}
	}

	select {
	case s.register <- client:
	case <-s.ctx.Done():
		conn.Close()
		return
	}

	go s.writePump(client)
	s.readPump(client)
}

// runClientManager owns the client set. Register, unregister and shutdown
// all funnel through here.
func (s *Server) runClientManager() {
	defer s.wg.Done()
	for {
		select {
		case client := <-s.register:
			s.clientsMu.Lock()
			s.clients[client] = true
			count := len(s.clients)
			s.clientsMu.Unlock()
			s.log.Debug().Int("clients", count).Msg("event stream client connected")

		case client := <-s.unregister:
			s.clientsMu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}
			count := len(s.clients)
			s.clientsMu.Unlock()
			client.conn.Close()
			s.log.Debug().Int("clients", count).Msg("event stream client disconnected")

		case <-s.ctx.Done():
			return
		}
	}
}

// fanOut delivers one bus event to every connected client. It runs on the
// bus's delivery goroutine, so sends never block; clients with full
// buffers are queued for disconnect instead.
func (s *Server) fanOut(event bus.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Error().Err(err).Str("type", string(event.Type)).Msg("marshal event")
		return
	}

	var stale []*wsClient
	s.clientsMu.RLock()
	for client := range s.clients {
		select {
		case client.send <- payload:
		default:
			stale = append(stale, client)
		}
	}
	s.clientsMu.RUnlock()

	for _, client := range stale {
		select {
		case s.unregister <- client:
		case <-s.ctx.Done():
			return
		}
	}
}

// writePump moves queued payloads onto the wire and keeps the connection
// alive with pings. One per client.
func (s *Server) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := client.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			// Fold whatever else is already queued into the same frame.
			for i := 0; i < len(client.send); i++ {
				w.Write([]byte{'\n'})
				w.Write(<-client.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.ctx.Done():
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			client.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

// readPump drains the connection until the client goes away. Clients send
// nothing meaningful; reading is how we notice disconnects and pongs.
func (s *Server) readPump(client *wsClient) {
	defer func() {
		select {
		case s.unregister <- client:
		case <-s.ctx.Done():
		}
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Debug().Err(err).Msg("event stream read error")
			}
			return
		}
	}
}
