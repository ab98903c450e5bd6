package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"playlist-sync/internal/playlist"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// BroadcastChannel is the redis pub/sub channel shared by every relay instance.
const BroadcastChannel = "broadcast"

type ServerConfig struct {
	// AllowedOrigin restricts browser upgrades. Empty allows any origin.
	AllowedOrigin string
	// RateLimitRPS caps inbound frames per connection. Zero disables it.
	RateLimitRPS int
}

type Server struct {
	hub      *Hub
	rdb      *redis.Client
	replicas *Replicas
	cfg      ServerConfig
	log      *log.Logger
	upgrader websocket.Upgrader
}

// NewServer wires the relay. rdb and replicas may be nil: without redis frames
// are delivered to the local hub only, and without replicas the snapshot
// endpoint is unavailable.
func NewServer(hub *Hub, rdb *redis.Client, replicas *Replicas, cfg ServerConfig, logger *log.Logger) *Server {
	s := &Server{
		hub:      hub,
		rdb:      rdb,
		replicas: replicas,
		cfg:      cfg,
		log:      logger,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// Router creates a chi.Router with the relay routes.
func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWS)
	r.Post("/events", s.handleEvents)
	r.Get("/rooms/{room}/snapshot", s.handleSnapshot)

	return r
}

// RunRedisSubscriber forwards frames published by any relay instance to the
// local hub until ctx is cancelled.
func (s *Server) RunRedisSubscriber(ctx context.Context) error {
	sub := s.rdb.Subscribe(ctx, BroadcastChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", BroadcastChannel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				s.log.Warnf("realtime: dropping broadcast: %v", err)
				continue
			}
			if err := msg.validate(); err != nil {
				s.log.Warnf("realtime: dropping broadcast: %v", err)
				continue
			}
			s.dispatch(ctx, msg, []byte(m.Payload))
		}
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if s.cfg.AllowedOrigin == "" || origin == "" {
		return true
	}
	return origin == s.cfg.AllowedOrigin
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "playlist-relay",
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		writeError(w, http.StatusBadRequest, "room is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("realtime: ws upgrade: %v", err)
		return
	}

	client := &Client{
		hub:   s.hub,
		conn:  conn,
		send:  make(chan []byte, 256),
		room:  room,
		relay: s.relay,
		log:   s.log.With("room", room),
	}
	if s.cfg.RateLimitRPS > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimitRPS), s.cfg.RateLimitRPS*2)
	}

	welcome, err := NewMessage(room, CommandWelcome, "", map[string]any{
		"now": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err == nil {
		if b, err := json.Marshal(welcome); err == nil {
			client.send <- b
		}
	}

	if !s.hub.join(client) {
		_ = conn.Close()
		return
	}

	// the request context ends with this handler
	ctx := context.WithoutCancel(r.Context())
	go client.writePump()
	go client.readPump(ctx)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := msg.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.relay(r.Context(), msg); err != nil {
		s.log.Errorf("realtime: publish error: %v", err)
		writeError(w, http.StatusInternalServerError, "relay error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.replicas == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshots disabled")
		return
	}
	room := chi.URLParam(r, "room")
	pm, err := s.replicas.Snapshot(r.Context(), room)
	if err != nil {
		s.log.Errorf("realtime: snapshot %s: %v", room, err)
		writeError(w, http.StatusInternalServerError, "snapshot unavailable")
		return
	}
	writeJSON(w, http.StatusOK, pm)
}

// relay publishes msg to every relay instance, or straight to the local hub
// when running without redis.
func (s *Server) relay(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if s.rdb == nil {
		s.dispatch(ctx, msg, data)
		return nil
	}
	return s.rdb.Publish(ctx, BroadcastChannel, string(data)).Err()
}

func (s *Server) dispatch(ctx context.Context, msg Message, data []byte) {
	if msg.Command == CommandPatch && s.replicas != nil {
		var pm playlist.PatchMessage
		if err := msg.Decode(&pm); err != nil {
			s.log.Warnf("realtime: %v", err)
		} else if err := s.replicas.Apply(ctx, msg.Channel, pm); err != nil {
			if errors.Is(err, playlist.ErrBrokenChain) {
				s.log.Warnf("realtime: replica rejected patch: %v", err)
			} else {
				s.log.Errorf("realtime: replica: %v", err)
			}
		}
	}
	if s.hub != nil {
		s.hub.Deliver(ctx, msg.Channel, data)
	}
}
