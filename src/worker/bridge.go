package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jacokyle01/remote-uci/src/models"
	"github.com/jacokyle01/remote-uci/src/telemetry"
	"github.com/jacokyle01/remote-uci/src/uci"
)

// BridgeOptions tunes a Bridge.
type BridgeOptions struct {
	// StopWatchdog bounds the wait for bestmove after stop.
	StopWatchdog time.Duration
	// RestartBackoff is the delay before the first respawn; it doubles
	// with every consecutive failure up to MaxRestartBackoff.
	RestartBackoff    time.Duration
	MaxRestartBackoff time.Duration
	// MaxFailures consecutive failures are retried; one more and the
	// provider goes offline for good.
	MaxFailures int
	// Settings are applied to every engine before any request overrides.
	Settings []Setting
	Limits   Limits

	InboxSize  int
	OutboxSize int
}

func (o BridgeOptions) withDefaults() BridgeOptions {
	if o.StopWatchdog <= 0 {
		o.StopWatchdog = 5 * time.Second
	}
	if o.RestartBackoff <= 0 {
		o.RestartBackoff = 500 * time.Millisecond
	}
	if o.MaxRestartBackoff < o.RestartBackoff {
		o.MaxRestartBackoff = max(30*time.Second, o.RestartBackoff)
	}
	if o.MaxFailures <= 0 {
		o.MaxFailures = 5
	}
	if o.InboxSize <= 0 {
		o.InboxSize = 64
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 1024
	}
	return o
}

// EngineState is the bridge's view of the engine slot.
type EngineState string

const (
	EngineStarting EngineState = "starting"
	EngineReady    EngineState = "ready"
	EngineBackoff  EngineState = "backoff"
	EngineOffline  EngineState = "offline"
)

// Status is a point-in-time snapshot of the bridge. Capabilities is shared
// and must not be modified.
type Status struct {
	Engine        EngineState
	Failures      int
	Backoff       time.Duration
	Capabilities  *uci.Capabilities
	ActiveSession string
	Queued        int
}

type requestKind int

const (
	reqSubmit requestKind = iota
	reqCancel
	reqDisconnected
)

type request struct {
	kind requestKind
	id   string
	req  models.AnalysisRequest
}

type startResult struct {
	caps *uci.Capabilities
	err  error
}

// Bridge multiplexes remote analysis sessions onto one engine. All session
// and engine state is owned by the goroutine running Run; Submit, Cancel and
// Disconnected only post messages to it.
type Bridge struct {
	sup     *Supervisor
	opts    BridgeOptions
	log     *slog.Logger
	metrics *telemetry.Provider

	inbox     chan request
	outbound  chan models.Envelope
	started   chan startResult
	stopped   chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
	status    atomic.Pointer[Status]

	engine   EngineState
	caps     *uci.Capabilities
	events   <-chan Event
	options  *optionState
	lastFEN  string
	failures int
	backoff  time.Duration
	epoch    uint64
	sessions map[string]*session
	active   *session
	queue    []*session
	watchdog *time.Timer
	restart  *time.Timer
}

// NewBridge creates a bridge around sup. metrics may be nil.
func NewBridge(sup *Supervisor, opts BridgeOptions, metrics *telemetry.Provider, log *slog.Logger) *Bridge {
	opts = opts.withDefaults()
	b := &Bridge{
		sup:      sup,
		opts:     opts,
		log:      log.With("component", "bridge"),
		metrics:  metrics,
		inbox:    make(chan request, opts.InboxSize),
		outbound: make(chan models.Envelope, opts.OutboxSize),
		started:  make(chan startResult, 1),
		stopped:  make(chan struct{}),
		ready:    make(chan struct{}),
		engine:   EngineStarting,
		options:  newOptionState(opts.Settings),
		sessions: map[string]*session{},
	}
	b.publish()
	return b
}

// Submit hands a work request to the bridge.
func (b *Bridge) Submit(ctx context.Context, id string, req models.AnalysisRequest) error {
	return b.post(ctx, request{kind: reqSubmit, id: id, req: req})
}

// Cancel abandons a session.
func (b *Bridge) Cancel(ctx context.Context, id string) error {
	return b.post(ctx, request{kind: reqCancel, id: id})
}

// Disconnected cancels every session of the current relay connection.
func (b *Bridge) Disconnected(ctx context.Context) error {
	return b.post(ctx, request{kind: reqDisconnected})
}

func (b *Bridge) post(ctx context.Context, r request) error {
	select {
	case <-b.stopped:
		return ErrBridgeStopped
	default:
	}
	select {
	case b.inbox <- r:
		return nil
	case <-b.stopped:
		return ErrBridgeStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outbound carries updates and results in the order they must be relayed.
// It is closed when Run returns.
func (b *Bridge) Outbound() <-chan models.Envelope { return b.outbound }

// Ready is closed after the first successful handshake.
func (b *Bridge) Ready() <-chan struct{} { return b.ready }

// Status returns the latest snapshot.
func (b *Bridge) Status() Status { return *b.status.Load() }

// Run owns the engine until ctx is cancelled. It returns a *SpawnError if
// the engine cannot be started at all.
func (b *Bridge) Run(ctx context.Context) error {
	defer close(b.outbound)
	defer close(b.stopped)

	b.launch(ctx)
	for {
		b.publish()
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case r := <-b.inbox:
			b.handle(ctx, r)
		case res := <-b.started:
			if err := b.onStarted(ctx, res); err != nil {
				b.shutdown()
				return err
			}
		case ev, ok := <-b.events:
			if !ok {
				b.events = nil
				continue
			}
			b.onEvent(ctx, ev)
		case <-timerC(b.watchdog):
			b.watchdog = nil
			b.onWatchdog(ctx)
		case <-timerC(b.restart):
			b.restart = nil
			b.launch(ctx)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, r request) {
	switch r.kind {
	case reqSubmit:
		b.submit(ctx, r.id, r.req)
	case reqCancel:
		b.cancel(ctx, r.id)
	case reqDisconnected:
		b.disconnect(ctx)
	}
}

func (b *Bridge) launch(ctx context.Context) {
	b.engine = EngineStarting
	if b.failures > 0 {
		b.metrics.EngineRestarted(ctx)
	}
	settings := b.options.settings()
	go func() {
		caps, err := b.sup.Start(ctx, settings)
		select {
		case b.started <- startResult{caps: caps, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (b *Bridge) onStarted(ctx context.Context, res startResult) error {
	if res.err != nil {
		var spawnErr *SpawnError
		if errors.As(res.err, &spawnErr) {
			b.log.Error("cannot start engine", "err", res.err)
			b.goOffline(ctx, res.err)
			return res.err
		}
		if ctx.Err() != nil {
			return nil
		}
		b.log.Warn("engine handshake failed", "err", res.err)
		b.engineFailed(ctx, res.err)
		return nil
	}

	b.caps = res.caps
	b.events = b.sup.Events()
	b.engine = EngineReady
	b.failures = 0
	b.backoff = 0
	b.lastFEN = ""
	b.readyOnce.Do(func() { close(b.ready) })
	b.schedule(ctx)
	return nil
}

func (b *Bridge) onEvent(ctx context.Context, ev Event) {
	if ev.Exit != nil {
		b.log.Warn("engine exited", "code", ev.Exit.Code, "err", ev.Exit.Err)
		b.engineFailed(ctx, ev.Exit)
		return
	}

	switch msg := ev.Msg.(type) {
	case uci.Info:
		b.onInfo(ctx, msg)
	case uci.BestMove:
		b.onBestMove(ctx, msg)
	}
}

func (b *Bridge) onInfo(ctx context.Context, info uci.Info) {
	s := b.active
	if s == nil || info.Empty() || s.reason == stopDisconnected {
		return
	}
	u := updateFromInfo(info)
	b.emit(ctx, models.Envelope{Type: models.TypeUpdate, SessionID: s.id, Seq: s.nextSeq(), Update: &u})
	b.metrics.UpdateRelayed(ctx)
}

func (b *Bridge) onBestMove(ctx context.Context, bm uci.BestMove) {
	s := b.active
	if s == nil {
		b.log.Warn("bestmove without a search", "move", bm.Move)
		return
	}
	b.stopWatchdog()
	b.active = nil

	state, res := s.outcome(bm)
	b.finish(ctx, s, state, res)
	b.schedule(ctx)
}

func (b *Bridge) onWatchdog(ctx context.Context) {
	s := b.active
	if s == nil {
		return
	}
	b.log.Error("engine did not finish search in time", "session", s.id, "state", s.state)
	b.sup.Kill()
	b.engineFailed(ctx, fmt.Errorf("session %s: %w", s.id, ErrWatchdogTimeout))
}

// engineFailed applies the restart policy after a crash, a failed handshake
// or an unresponsive engine.
func (b *Bridge) engineFailed(ctx context.Context, err error) {
	b.events = nil
	b.stopWatchdog()
	if s := b.active; s != nil {
		b.active = nil
		b.fail(ctx, s, err)
	}

	b.failures++
	if b.failures > b.opts.MaxFailures {
		b.log.Error("engine failed too often, going offline", "failures", b.failures, "err", err)
		b.goOffline(ctx, err)
		return
	}

	b.backoff = b.opts.RestartBackoff
	for i := 1; i < b.failures && b.backoff < b.opts.MaxRestartBackoff; i++ {
		b.backoff *= 2
	}
	b.backoff = min(b.backoff, b.opts.MaxRestartBackoff)
	b.engine = EngineBackoff
	b.restart = time.NewTimer(b.backoff)
	b.log.Warn("restarting engine", "failures", b.failures, "backoff", b.backoff)
}

func (b *Bridge) goOffline(ctx context.Context, err error) {
	b.engine = EngineOffline
	b.events = nil
	b.stopWatchdog()
	if b.restart != nil {
		b.restart.Stop()
		b.restart = nil
	}
	cause := fmt.Errorf("%w: %v", ErrOffline, err)
	if s := b.active; s != nil {
		b.active = nil
		b.fail(ctx, s, cause)
	}
	for _, s := range b.queue {
		b.fail(ctx, s, cause)
	}
	b.queue = nil
}

func (b *Bridge) submit(ctx context.Context, id string, req models.AnalysisRequest) {
	log := b.log.With("session", id)
	if _, dup := b.sessions[id]; dup {
		log.Warn("duplicate session id, ignoring work")
		return
	}
	if b.engine == EngineOffline {
		b.fail(ctx, newSession(id, b.epoch, req, search{}), ErrOffline)
		return
	}

	srch, err := prepareSearch(req, b.caps, b.opts.Settings, b.opts.Limits)
	s := newSession(id, b.epoch, req, srch)
	if err != nil {
		log.Info("rejecting request", "err", err)
		b.fail(ctx, s, err)
		return
	}

	for _, old := range b.queue {
		log.Info("superseding queued session", "superseded", old.id)
		b.cancelled(ctx, old, models.ErrSuperseded)
	}
	b.queue = []*session{s}
	b.sessions[id] = s
	log.Info("session queued", "fen", srch.fen, "moves", len(srch.moves))
	b.schedule(ctx)
}

func (b *Bridge) cancel(ctx context.Context, id string) {
	s, ok := b.sessions[id]
	if !ok {
		b.log.Debug("cancel for unknown session", "session", id)
		return
	}

	switch s.state {
	case StateQueued:
		b.dequeue(s)
		b.cancelled(ctx, s, models.ErrCancelled)
	case StateActive:
		b.stop(ctx, s, stopCancelled)
	case StateStopping:
		s.reason = stopCancelled
	}
}

func (b *Bridge) disconnect(ctx context.Context) {
	b.log.Warn("relay disconnected, cancelling sessions", "queued", len(b.queue), "active", b.active != nil)
	b.epoch++
	for _, s := range b.queue {
		b.cancelled(ctx, s, models.ErrRelayDisconnected)
	}
	b.queue = nil

	if s := b.active; s != nil {
		if s.state == StateActive {
			b.stop(ctx, s, stopDisconnected)
		} else {
			s.reason = stopDisconnected
		}
	}
	// Session ids are only unique per connection.
	b.sessions = map[string]*session{}
}

// schedule promotes the newest queued session, preempting the running one
// first if needed. The next search only starts after bestmove for the
// previous one has been seen.
func (b *Bridge) schedule(ctx context.Context) {
	if len(b.queue) == 0 {
		return
	}
	if b.active != nil {
		if b.active.state == StateActive {
			b.stop(ctx, b.active, stopPreempted)
		}
		return
	}
	if b.engine != EngineReady {
		return
	}

	next := b.queue[len(b.queue)-1]
	b.queue = nil
	b.activate(ctx, next)
}

func (b *Bridge) activate(ctx context.Context, s *session) {
	log := b.log.With("session", s.id)

	settings, err := resolveSettings(b.caps, b.opts.Settings, s.req.Options, b.opts.Limits)
	if err != nil {
		log.Info("rejecting request", "err", err)
		b.fail(ctx, s, err)
		return
	}
	pos, err := uci.Position(s.search.fen, s.search.moves)
	if err != nil {
		b.fail(ctx, s, fmt.Errorf("%w: %v", ErrMalformedRequest, err))
		return
	}
	goCmd, err := uci.Go(s.search.limit)
	if err != nil {
		b.fail(ctx, s, fmt.Errorf("%w: %v", ErrMalformedRequest, err))
		return
	}

	if err := s.transition(StateActive); err != nil {
		log.Error("cannot activate session", "err", err)
		return
	}
	s.started = time.Now()
	b.active = s

	var cmds []string
	for _, st := range b.options.apply(settings, b.caps) {
		cmd, err := uci.SetOption(st.Name, st.Value)
		if err != nil {
			log.Warn("skipping option", "option", st.Name, "err", err)
			continue
		}
		cmds = append(cmds, cmd)
	}
	if s.search.fen != b.lastFEN {
		cmds = append(cmds, uci.CmdNewGame)
		b.lastFEN = s.search.fen
	}
	cmds = append(cmds, pos, goCmd)

	for _, cmd := range cmds {
		if err := b.sup.Send(ctx, cmd); err != nil {
			// The exit event that follows fails the session.
			log.Warn("sending to engine failed", "err", err)
			break
		}
	}
	if s.search.limit.Kind == uci.LimitMoveTime {
		b.armWatchdog(time.Duration(s.search.limit.Value)*time.Millisecond + b.opts.StopWatchdog)
	}
	log.Info("search started", "go", goCmd)
}

func (b *Bridge) stop(ctx context.Context, s *session, reason stopReason) {
	if err := s.transition(StateStopping); err != nil {
		b.log.Error("cannot stop session", "err", err)
		return
	}
	s.reason = reason
	if err := b.sup.Send(ctx, uci.CmdStop); err != nil {
		b.log.Warn("sending stop failed", "session", s.id, "err", err)
	}
	b.armWatchdog(b.opts.StopWatchdog)
}

func (b *Bridge) dequeue(s *session) {
	for i, q := range b.queue {
		if q == s {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			return
		}
	}
}

func (b *Bridge) fail(ctx context.Context, s *session, err error) {
	b.finish(ctx, s, StateFailed, models.AnalysisResult{
		Status:  models.StatusFailed,
		Error:   errorTag(err),
		Message: err.Error(),
	})
}

func (b *Bridge) cancelled(ctx context.Context, s *session, tag models.ErrorTag) {
	b.finish(ctx, s, StateCancelled, models.AnalysisResult{Status: models.StatusCancelled, Error: tag})
}

// finish moves s to its terminal state and reports the result, unless the
// relay connection the session came from is gone.
func (b *Bridge) finish(ctx context.Context, s *session, state SessionState, res models.AnalysisResult) {
	if err := s.transition(state); err != nil {
		b.log.Error("cannot finish session", "err", err)
		return
	}
	if b.sessions[s.id] == s {
		delete(b.sessions, s.id)
	}

	var dur time.Duration
	if !s.started.IsZero() {
		dur = time.Since(s.started)
	}
	b.metrics.SessionFinished(ctx, string(res.Status), dur)
	b.log.Info("session finished", "session", s.id, "state", state, "best_move", res.BestMove, "error", res.Error)

	if s.epoch != b.epoch {
		return
	}
	b.emit(ctx, models.Envelope{Type: models.TypeResult, SessionID: s.id, Result: &res})
}

func (b *Bridge) emit(ctx context.Context, env models.Envelope) {
	select {
	case b.outbound <- env:
	case <-ctx.Done():
	}
}

func (b *Bridge) armWatchdog(d time.Duration) {
	b.stopWatchdog()
	b.watchdog = time.NewTimer(d)
}

func (b *Bridge) stopWatchdog() {
	if b.watchdog != nil {
		b.watchdog.Stop()
		b.watchdog = nil
	}
}

func (b *Bridge) shutdown() {
	b.stopWatchdog()
	if b.restart != nil {
		b.restart.Stop()
		b.restart = nil
	}
	if err := b.sup.Terminate(context.Background()); err != nil {
		b.log.Warn("stopping engine", "err", err)
	}
	b.events = nil
	b.publish()
}

func (b *Bridge) publish() {
	st := &Status{
		Engine:       b.engine,
		Failures:     b.failures,
		Backoff:      b.backoff,
		Capabilities: b.caps,
		Queued:       len(b.queue),
	}
	if b.active != nil {
		st.ActiveSession = b.active.id
	}
	b.status.Store(st)
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
