// Package gateway exposes the dispatcher over HTTP: a small JSON API for
// dispatching prompts plus a WebSocket stream of dispatch lifecycle events.
// It is the surface remote dashboards and editor integrations talk to.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/relay/internal/bus"
	"github.com/normanking/relay/internal/config"
	"github.com/normanking/relay/internal/dispatch"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SERVER
// ═══════════════════════════════════════════════════════════════════════════════

// Server serves the gateway API and fans bus events out to WebSocket
// clients. Create it with New, then Start/Stop around the process
// lifetime.
type Server struct {
	cfg        config.GatewayConfig
	dispatcher *dispatch.Dispatcher
	events     *bus.Bus
	log        zerolog.Logger

	httpServer *http.Server
	listener   net.Listener
	running    atomic.Bool

	clients    map[*wsClient]bool
	clientsMu  sync.RWMutex
	register   chan *wsClient
	unregister chan *wsClient
	subID      bus.SubscriptionID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a gateway server around an already-configured dispatcher and
// event bus. Nothing runs until Start.
func New(cfg config.GatewayConfig, dispatcher *dispatch.Dispatcher, events *bus.Bus, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		events:     events,
		log:        logger.With().Str("component", "gateway").Logger(),
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start binds the configured address and begins serving. It returns once
// the listener is bound; request handling and event fan-out run on
// background goroutines until Stop.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("gateway already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	s.listener = listener

	s.subID = s.events.Subscribe("", s.fanOut)

	s.wg.Add(1)
	go s.runClientManager()

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("gateway server stopped")
		}
	}()

	s.log.Info().
		Str("addr", listener.Addr().String()).
		Bool("auth", s.cfg.AuthTokenHash != "").
		Msg("gateway listening")
	return nil
}

// Addr returns the bound listen address. Useful when the configured port
// is 0; empty before Start succeeds.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the event stream, disconnects clients and shuts the HTTP
// server down, waiting for in-flight requests up to the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.subID != "" {
		_ = s.events.Unsubscribe(s.subID)
	}
	s.cancel()

	s.clientsMu.Lock()
	for client := range s.clients {
		close(client.send)
		client.conn.Close()
		delete(s.clients, client)
	}
	s.clientsMu.Unlock()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	s.log.Info().Msg("gateway stopped")
	return err
}

// ═══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ═══════════════════════════════════════════════════════════════════════════════

// Handler returns the gateway's routing tree. Everything except /health
// sits behind bearer authentication when a token hash is configured.
func (s *Server) Handler() http.Handler {
	authed := http.NewServeMux()
	authed.HandleFunc("/api/v1/dispatch", s.handleDispatch)
	authed.HandleFunc("/api/v1/models", s.handleModels)
	authed.HandleFunc("/api/v1/classify", s.handleClassify)
	authed.HandleFunc("/api/v1/translate", s.handleTranslate)
	authed.HandleFunc("/events", s.handleEvents)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/", s.requireAuth(authed))

	return withCORS(mux)
}

// withCORS lets browser dashboards on other origins call the API and open
// the event stream. The bearer token is the access control, not the
// Origin header.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
