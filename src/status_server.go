package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// statusServer serves the latest StatusSnapshot over HTTP. Handlers ask the
// worker loop for the snapshot over a channel, so no state is shared.
type statusServer struct {
	requests chan chan StatusSnapshot
}

func newStatusServer() *statusServer {
	return &statusServer{requests: make(chan chan StatusSnapshot)}
}

func (s *statusServer) router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.getHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/status/{key}", s.getChannel).Methods(http.MethodGet)
	return handlers.RecoveryHandler()(handlers.LoggingHandler(logWriter{}, r))
}

// logWriter forwards to the current log output, which changes when the debug
// console takes over the terminal
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	return log.Writer().Write(p)
}

func (s *statusServer) getHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *statusServer) latest(r *http.Request) (StatusSnapshot, bool) {
	reply := make(chan StatusSnapshot, 1)
	select {
	case s.requests <- reply:
	case <-r.Context().Done():
		return StatusSnapshot{}, false
	}
	select {
	case snap := <-reply:
		return snap, true
	case <-r.Context().Done():
		return StatusSnapshot{}, false
	}
}

func (s *statusServer) getStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latest(r)
	if !ok {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *statusServer) getChannel(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latest(r)
	if !ok {
		http.Error(w, "status unavailable", http.StatusServiceUnavailable)
		return
	}
	ch, found := snap.Channel(mux.Vars(r)["key"])
	if !found {
		http.Error(w, "unknown channel", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Status server: encode failed: %v\n", err)
	}
}

// serve answers snapshot requests with the most recent snapshot until ctx
// is done
func (s *statusServer) serve(ctx context.Context, snapshots <-chan StatusSnapshot) {
	var latest StatusSnapshot
	for {
		select {
		case snap := <-snapshots:
			latest = snap
		case reply := <-s.requests:
			reply <- latest
		case <-ctx.Done():
			return
		}
	}
}

// statusServerWorker runs the status HTTP endpoint on listen
func statusServerWorker(ctx context.Context, listen string, snapshots <-chan StatusSnapshot) {
	s := newStatusServer()
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Printf("Status server listening on %s\n", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Status server failed: %v\n", err)
		}
	}()

	s.serve(ctx, snapshots)
}
