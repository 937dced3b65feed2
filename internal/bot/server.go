// Package bot receives the platform's webhook event stream, verifies
// it, and dispatches events to per-community workers.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxEventBody = 1 << 20 // 1 MiB

// Server is the webhook HTTP receiver.
type Server struct {
	log        *slog.Logger
	secret     string
	dispatcher *Dispatcher
	srv        *http.Server
}

// NewServer creates the webhook receiver on addr.
func NewServer(log *slog.Logger, addr, secret string, dispatcher *Dispatcher) *Server {
	s := &Server{
		log:        log,
		secret:     secret,
		dispatcher: dispatcher,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Post("/platform/events", s.handleEvent)
	router.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		webhookRejectedTotal.WithLabelValues("oversized").Inc()
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	if !VerifySignature(r, body, s.secret) {
		webhookRejectedTotal.WithLabelValues("bad_signature").Inc()
		s.log.Warn("rejected webhook with invalid signature", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		webhookRejectedTotal.WithLabelValues("bad_payload").Inc()
		http.Error(w, "malformed event payload", http.StatusBadRequest)
		return
	}
	if env.Type == "" || env.CommunityID == "" {
		webhookRejectedTotal.WithLabelValues("bad_payload").Inc()
		http.Error(w, "event type and community_id are required", http.StatusBadRequest)
		return
	}

	if err := s.dispatcher.Enqueue(env); err != nil {
		webhookRejectedTotal.WithLabelValues("queue_full").Inc()
		s.log.Warn("failed to enqueue event", "event_id", env.ID, "error", err)
		http.Error(w, "try again later", http.StatusServiceUnavailable)
		return
	}

	// Processing is asynchronous; acknowledge receipt immediately so
	// the platform does not redeliver.
	w.WriteHeader(http.StatusAccepted)
}

// Run serves until ctx is cancelled, then shuts down gracefully: the
// listener closes first, then queued events drain.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("webhook server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("webhook server shutdown error", "error", err)
	}

	s.dispatcher.Shutdown(defaultDrainWait)
	return nil
}
