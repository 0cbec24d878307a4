package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/jacokyle01/remote-uci/src/models"
)

// Dispatcher is the bridge as seen from the relay connection.
type Dispatcher interface {
	Submit(ctx context.Context, id string, req models.AnalysisRequest) error
	Cancel(ctx context.Context, id string) error
	Disconnected(ctx context.Context) error
	Outbound() <-chan models.Envelope
}

var _ Dispatcher = (*Bridge)(nil)

var errBridgeClosed = errors.New("bridge closed its outbound stream")

// RelayOptions tunes the relay connection.
type RelayOptions struct {
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
	DialTimeout         time.Duration
	WriteTimeout        time.Duration
	ReadLimit           int64
	HTTPClient          *http.Client
}

func (o RelayOptions) withDefaults() RelayOptions {
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = time.Second
	}
	if o.MaxReconnectBackoff < o.ReconnectBackoff {
		o.MaxReconnectBackoff = max(30*time.Second, o.ReconnectBackoff)
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	return o
}

// Client represents a worker client: one persistent websocket to the
// broker, feeding work into the bridge and relaying what comes out of it.
type Client struct {
	serverURL string
	secret    string
	bridge    Dispatcher
	opts      RelayOptions
	log       *slog.Logger
}

// NewClient creates a new worker client
func NewClient(serverURL, secret string, bridge Dispatcher, opts RelayOptions, log *slog.Logger) *Client {
	return &Client{
		serverURL: serverURL,
		secret:    secret,
		bridge:    bridge,
		opts:      opts.withDefaults(),
		log:       log.With("component", "relay"),
	}
}

// WorkLoop runs the main worker loop, reconnecting with exponential backoff
// until ctx is cancelled or the bridge stops.
func (c *Client) WorkLoop(ctx context.Context) error {
	c.log.Info("starting worker", "url", c.serverURL)

	backoff := c.opts.ReconnectBackoff
	for {
		connected, err := c.serve(ctx)
		if ctx.Err() != nil || errors.Is(err, errBridgeClosed) {
			return nil
		}

		if connected {
			backoff = c.opts.ReconnectBackoff
			if err := c.bridge.Disconnected(ctx); err != nil {
				return nil
			}
		}
		c.log.Warn("relay connection lost", "err", err, "backoff", backoff)

		if !c.idle(ctx, backoff) {
			return nil
		}
		backoff = min(backoff*2, c.opts.MaxReconnectBackoff)
	}
}

// idle waits out a backoff period. Nobody can receive bridge output
// meanwhile, so it is discarded. It returns false when the loop should end.
func (c *Client) idle(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case env, ok := <-c.bridge.Outbound():
			if !ok {
				return false
			}
			c.log.Debug("dropping message while disconnected", "session", env.SessionID, "type", env.Type)
		case <-timer.C:
			return true
		case <-ctx.Done():
			return false
		}
	}
}

// serve runs one connection. connected reports whether the dial succeeded.
func (c *Client) serve(ctx context.Context) (connected bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.serverURL, &websocket.DialOptions{
		HTTPClient: c.opts.HTTPClient,
		HTTPHeader: c.headers(),
	})
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial relay: %w", err)
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(c.opts.ReadLimit)
	c.log.Info("connected to relay", "url", c.serverURL)

	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()
	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(connCtx, conn) }()

	// The reader must be gone before returning so that no work from this
	// connection reaches the bridge after Disconnected.
	closeWith := func(code websocket.StatusCode, reason string, err error) (bool, error) {
		_ = conn.Close(code, reason)
		cancelConn()
		<-readErr
		return true, err
	}

	for {
		select {
		case env, ok := <-c.bridge.Outbound():
			if !ok {
				return closeWith(websocket.StatusGoingAway, "provider shutting down", errBridgeClosed)
			}
			wctx, wcancel := context.WithTimeout(connCtx, c.opts.WriteTimeout)
			err := wsjson.Write(wctx, conn, env)
			wcancel()
			if err != nil {
				cancelConn()
				<-readErr
				return true, fmt.Errorf("write relay: %w", err)
			}
		case err := <-readErr:
			return true, err
		case <-ctx.Done():
			return closeWith(websocket.StatusNormalClosure, "", ctx.Err())
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read relay: %w", err)
		}
		if typ != websocket.MessageText {
			c.log.Debug("ignoring binary relay message")
			continue
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("malformed relay message", "err", err)
			continue
		}
		if env.SessionID == "" {
			c.log.Warn("relay message without session id", "type", env.Type)
			continue
		}

		switch env.Type {
		case models.TypeWork:
			var req models.AnalysisRequest
			if env.Request != nil {
				req = *env.Request
			}
			c.log.Debug("work received", "session", env.SessionID)
			err = c.bridge.Submit(ctx, env.SessionID, req)
		case models.TypeCancel:
			c.log.Debug("cancel received", "session", env.SessionID)
			err = c.bridge.Cancel(ctx, env.SessionID)
		default:
			c.log.Warn("unknown relay message", "type", env.Type)
			continue
		}
		if err != nil {
			return err
		}
	}
}

func (c *Client) headers() http.Header {
	h := make(http.Header)
	if c.secret != "" {
		h.Set("Authorization", "Bearer "+c.secret)
	}
	return h
}
