// Package status exposes the agent's observable posture over HTTP: the
// system status JSON required for "no cycle silently disappears", plus the
// prometheus metrics endpoint.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/halcyonlabs/vigil/internal/world"
)

// SchedulerInfo is the scheduler's read surface for the status payload.
type SchedulerInfo interface {
	Inflight() int
	Reference() (uint64, bool)
}

type Server struct {
	state *world.State
	sched SchedulerInfo
	http  *http.Server
}

func NewServer(host string, port int, state *world.State, sched SchedulerInfo) *Server {
	s := &Server{state: state, sched: sched}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:         net.JoinHostPort(host, fmt.Sprintf("%d", port)),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown. It returns http.ErrServerClosed on a clean
// stop, which callers treat as success.
func (s *Server) Start() error {
	log.Printf("[status] listening on %s", s.http.Addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusPayload struct {
	Status      world.SystemStatus               `json:"status"`
	RateLimits  map[string]world.RateLimitStatus `json:"rateLimits"`
	Channels    int                              `json:"channels"`
	Inflight    int                              `json:"inflightCycles"`
	Fingerprint string                           `json:"referenceFingerprint,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.state.Snapshot()

	payload := statusPayload{
		Status:     snap.Status,
		RateLimits: snap.RateLimits,
		Channels:   len(snap.Channels),
	}
	if s.sched != nil {
		payload.Inflight = s.sched.Inflight()
		if fp, ok := s.sched.Reference(); ok {
			payload.Fingerprint = fmt.Sprintf("%016x", fp)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[status] encode warning: %v", err)
	}
}
