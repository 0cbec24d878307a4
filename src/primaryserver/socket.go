package primaryserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/jacokyle01/remote-uci/src/models"
)

// handleSocket serves the provider connection: work and cancels go out,
// updates and results come back.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !s.attach() {
		http.Error(w, "a provider is already connected", http.StatusConflict)
		return
	}
	defer s.detach()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(1 << 20)
	s.log.Info("provider connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		s.readProvider(ctx, conn)
	}()

	for {
		for env, ok := s.nextOutgoing(); ok; env, ok = s.nextOutgoing() {
			if err := wsjson.Write(ctx, conn, env); err != nil {
				s.log.Warn("provider write failed", "err", err)
				return
			}
			s.log.Debug("sent to provider", "type", env.Type, "job", env.SessionID)
		}

		select {
		case <-s.wake:
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			s.log.Info("provider disconnected")
			return
		}
	}
}

func (s *Server) readProvider(ctx context.Context, conn *websocket.Conn) {
	for {
		var env models.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			if !errors.Is(err, context.Canceled) {
				s.log.Debug("provider read ended", "err", err)
			}
			return
		}

		switch env.Type {
		case models.TypeUpdate:
			s.recordUpdate(env.SessionID, env.Update)
		case models.TypeResult:
			if env.Result == nil {
				s.log.Warn("result without payload", "job", env.SessionID)
				continue
			}
			s.SubmitResult(env.SessionID, *env.Result)
		default:
			s.log.Warn("unexpected message from provider", "type", env.Type)
		}
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.secret == "" {
		return true
	}
	got := r.Header.Get("Authorization")
	want := "Bearer " + s.secret
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
