// Package primaryserver is a small broker playing the remote side of the
// relay: it queues analysis jobs over HTTP and hands them, one at a time, to
// the provider connected on its websocket.
package primaryserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jacokyle01/remote-uci/src/models"
)

// Server manages the job queue and distributes work
type Server struct {
	secret string
	log    *slog.Logger

	mu           sync.RWMutex
	pending      []string // job ids in dispatch order
	jobMap       map[string]models.Job
	inflight     string
	connected    bool
	outbox       []models.Envelope
	progress     map[string]*models.Result
	resultsStore map[string]models.Result
	batches      map[string]*models.Batch

	wake chan struct{}
}

// NewServer creates a new analysis server. An empty secret accepts any
// provider.
func NewServer(secret string, log *slog.Logger) *Server {
	return &Server{
		secret:       secret,
		log:          log.With("component", "broker"),
		jobMap:       make(map[string]models.Job),
		progress:     make(map[string]*models.Result),
		resultsStore: make(map[string]models.Result),
		batches:      make(map[string]*models.Batch),
		wake:         make(chan struct{}, 1),
	}
}

// Handler routes the broker's endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/socket", s.handleSocket)
	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc("/cancel", s.handleCancel)
	mux.HandleFunc("/get_result", s.handleGetResult)
	mux.HandleFunc("/queue", s.handleViewQueue)
	mux.HandleFunc("/requestForAnalysis", s.requestForAnalysis)
	mux.HandleFunc("/batch", s.handleGetBatch)
	return mux
}

// StartServer serves HTTP on addr until ctx is cancelled.
func (s *Server) StartServer(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
