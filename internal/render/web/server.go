package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/flowcraft/orcd/internal/orchestrator"
)

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

// ServerConfig configures the SSE renderer's HTTP listener, mirroring
// the teacher's dashboard.ServerConfig (Bind/Port pair).
type ServerConfig struct {
	Bind string
	Port int
}

// Server pushes every orchestrator.Snapshot over SSE at /events and
// serves the current one at /snapshot.
type Server struct {
	config ServerConfig
	actor  *orchestrator.Actor
	broker *Broker
	http   *http.Server
}

// NewServer wires a Server to an already-started orchestrator Actor.
func NewServer(config ServerConfig, actor *orchestrator.Actor) *Server {
	s := &Server{config: config, actor: actor, broker: NewBroker()}
	actor.Subscribe(func(snap orchestrator.Snapshot) {
		s.broker.Publish(Event{Type: "snapshot", Data: snapshotView(snap)})
	})
	return s
}

// Broker exposes the underlying SSE broker, mirroring the teacher's
// dashboard.Server.Broker() accessor — useful for tests and for wiring
// additional publishers.
func (s *Server) Broker() *Broker { return s.broker }

func snapshotView(snap orchestrator.Snapshot) map[string]any {
	return map[string]any{
		"activeNode": snap.ActiveNode,
		"nodeState":  string(snap.NodeState),
		"context":    snap.Context,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/events", s.broker)
	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, snapshotView(s.actor.GetSnapshot()))
	})

	addr := fmt.Sprintf("%s:%d", s.config.Bind, s.config.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // disabled for SSE
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web: listen on %s: %w", addr, err)
	}

	done := make(chan struct{})
	go s.broker.Run(done)

	log.Printf("render/web: listening on http://%s", addr)

	go func() {
		<-ctx.Done()
		close(done)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			log.Printf("render/web: shutdown error: %v", err)
		}
	}()

	if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web: serve: %w", err)
	}
	return nil
}
