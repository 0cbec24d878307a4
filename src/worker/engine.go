package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jacokyle01/remote-uci/src/uci"
)

// maxLineBytes bounds a single line of engine output. Long multipv
// info lines stay far below this.
const maxLineBytes = 1 << 20

// Event is one item of an engine's output stream: a parsed protocol
// message or, last of all, the process exit.
type Event struct {
	Seq  uint64
	Msg  uci.Message
	Exit *ProcessExited
}

// Setting is an option value sent with setoption.
type Setting struct {
	Name  string
	Value string
}

// SupervisorOptions tunes a Supervisor.
type SupervisorOptions struct {
	HandshakeTimeout time.Duration // per handshake phase
	QuitGrace        time.Duration // wait after quit before killing
	Buffer           int           // command and event channel capacity
}

func (o SupervisorOptions) withDefaults() SupervisorOptions {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.QuitGrace <= 0 {
		o.QuitGrace = 2 * time.Second
	}
	if o.Buffer <= 0 {
		o.Buffer = 64
	}
	return o
}

// Supervisor owns one engine process at a time. Its streams are only ever
// touched by the per-process writer and reader goroutines; everybody else
// goes through Send and Events.
type Supervisor struct {
	launch Launcher
	opts   SupervisorOptions
	log    *slog.Logger

	mu  sync.Mutex
	cur *instance
}

// NewSupervisor creates a supervisor that starts engines with launch.
func NewSupervisor(launch Launcher, opts SupervisorOptions, log *slog.Logger) *Supervisor {
	return &Supervisor{
		launch: launch,
		opts:   opts.withDefaults(),
		log:    log.With("component", "supervisor"),
	}
}

// Start stops any previous engine, spawns a new one and runs the uci
// handshake, re-applying settings the new engine declares.
func (s *Supervisor) Start(ctx context.Context, settings []Setting) (*uci.Capabilities, error) {
	if err := s.Terminate(ctx); err != nil {
		s.log.Warn("previous engine did not stop cleanly", "err", err)
	}

	proc, err := s.launch(ctx)
	if err != nil {
		var spawnErr *SpawnError
		if !errors.As(err, &spawnErr) {
			err = &SpawnError{Err: err}
		}
		return nil, err
	}

	in := newInstance(proc, s.opts.Buffer, s.log)
	s.mu.Lock()
	s.cur = in
	s.mu.Unlock()

	caps, err := s.handshake(ctx, in, settings)
	if err != nil {
		in.abandon()
		_ = proc.Kill()
		select {
		case <-in.done:
		case <-time.After(s.opts.QuitGrace):
		}
		s.mu.Lock()
		if s.cur == in {
			s.cur = nil
		}
		s.mu.Unlock()
		return nil, err
	}

	s.log.Info("engine ready", "name", caps.Name, "options", len(caps.Options))
	return caps, nil
}

func (s *Supervisor) handshake(ctx context.Context, in *instance, settings []Setting) (*uci.Capabilities, error) {
	if err := in.send(ctx, uci.CmdUCI); err != nil {
		return nil, err
	}

	caps := &uci.Capabilities{}
	err := s.await(ctx, in, "uciok", func(msg uci.Message) bool {
		if _, ok := msg.(uci.UCIOK); ok {
			return true
		}
		caps.Apply(msg)
		return false
	})
	if err != nil {
		return nil, err
	}

	for _, st := range settings {
		opt, ok := caps.Lookup(st.Name)
		if !ok {
			s.log.Warn("engine does not declare option, skipping", "option", st.Name)
			continue
		}
		cmd, err := uci.SetOption(opt.Name, st.Value)
		if err != nil {
			return nil, err
		}
		if err := in.send(ctx, cmd); err != nil {
			return nil, err
		}
	}

	if err := in.send(ctx, uci.CmdIsReady); err != nil {
		return nil, err
	}
	err = s.await(ctx, in, "readyok", func(msg uci.Message) bool {
		_, ok := msg.(uci.ReadyOK)
		return ok
	})
	if err != nil {
		return nil, err
	}
	return caps, nil
}

func (s *Supervisor) await(ctx context.Context, in *instance, what string, done func(uci.Message) bool) error {
	timer := time.NewTimer(s.opts.HandshakeTimeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-in.events:
			if !ok {
				return &ProcessExited{Code: -1}
			}
			if ev.Exit != nil {
				return ev.Exit
			}
			if done(ev.Msg) {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("waiting for %s: %w", what, ErrHandshakeTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Send queues one command line for the engine.
func (s *Supervisor) Send(ctx context.Context, line string) error {
	in := s.current()
	if in == nil {
		return ErrNotRunning
	}
	return in.send(ctx, line)
}

// Events returns the output stream of the current engine. Each started
// process gets a fresh stream which ends with an Exit event and is then
// closed. Nil is returned when no engine is running.
func (s *Supervisor) Events() <-chan Event {
	in := s.current()
	if in == nil {
		return nil
	}
	return in.events
}

// Kill forcibly stops the current engine without waiting. Its remaining
// output, including the exit event, is discarded.
func (s *Supervisor) Kill() {
	in := s.current()
	if in == nil {
		return
	}
	in.abandon()
	if err := in.proc.Kill(); err != nil {
		s.log.Warn("kill engine", "err", err)
	}
}

// Terminate asks the engine to quit, escalating to a kill after the grace
// period. Output produced meanwhile is discarded.
func (s *Supervisor) Terminate(ctx context.Context) error {
	s.mu.Lock()
	in := s.cur
	s.cur = nil
	s.mu.Unlock()
	if in == nil {
		return nil
	}

	in.abandon()
	select {
	case <-in.done:
		return nil
	default:
	}

	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.QuitGrace)
	defer cancel()
	_ = in.send(qctx, uci.CmdQuit)

	select {
	case <-in.done:
		return nil
	case <-qctx.Done():
	case <-ctx.Done():
	}

	s.log.Warn("engine ignored quit, killing")
	if err := in.proc.Kill(); err != nil {
		return fmt.Errorf("kill engine: %w", err)
	}
	select {
	case <-in.done:
		return nil
	case <-time.After(s.opts.QuitGrace):
		return errors.New("engine did not exit after kill")
	}
}

func (s *Supervisor) current() *instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// instance is one process lifetime.
type instance struct {
	proc Process
	log  *slog.Logger

	cmds      chan string
	events    chan Event
	abandoned chan struct{}
	done      chan struct{}

	seq         atomic.Uint64
	abandonOnce sync.Once
}

func newInstance(proc Process, buffer int, log *slog.Logger) *instance {
	in := &instance{
		proc:      proc,
		log:       log,
		cmds:      make(chan string, buffer),
		events:    make(chan Event, buffer),
		abandoned: make(chan struct{}),
		done:      make(chan struct{}),
	}
	readDone := make(chan struct{})
	go in.writeLoop()
	go in.readLoop(readDone)
	go in.waitLoop(readDone)
	return in
}

func (in *instance) send(ctx context.Context, line string) error {
	select {
	case <-in.done:
		return ErrNotRunning
	default:
	}
	select {
	case in.cmds <- line:
		return nil
	case <-in.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (in *instance) writeLoop() {
	stdin := in.proc.Stdin()
	w := bufio.NewWriter(stdin)
	defer func() { _ = stdin.Close() }()

	for {
		select {
		case line := <-in.cmds:
			in.log.Debug("engine <", "line", line)
			w.WriteString(line + "\n")
			if err := w.Flush(); err != nil {
				in.log.Debug("write to engine failed", "err", err)
				w.Reset(stdin)
			}
		case <-in.done:
			return
		}
	}
}

func (in *instance) readLoop(readDone chan<- struct{}) {
	defer close(readDone)

	stdout := in.proc.Stdout()
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Text()
		msg := uci.Parse(line)
		if _, ok := msg.(uci.Unrecognized); ok {
			in.log.Debug("unrecognized engine output", "line", line)
			continue
		}
		in.emit(Event{Msg: msg})
	}
	if err := sc.Err(); err != nil {
		in.log.Warn("reading engine output", "err", err)
		_, _ = io.Copy(io.Discard, stdout)
	}
}

func (in *instance) waitLoop(readDone <-chan struct{}) {
	<-readDone
	code, err := in.proc.Wait()
	in.emit(Event{Exit: &ProcessExited{Code: code, Err: err}})
	close(in.done)
	close(in.events)
}

func (in *instance) emit(ev Event) {
	ev.Seq = in.seq.Add(1)
	select {
	case in.events <- ev:
	case <-in.abandoned:
	}
}

func (in *instance) abandon() {
	in.abandonOnce.Do(func() { close(in.abandoned) })
}
