package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine is an in-memory engine process. Every line written to its
// stdin is recorded and handed to handle, which answers through send.
type fakeEngine struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter

	mu       sync.Mutex
	received []string

	exited   chan struct{}
	exitOnce sync.Once
	code     int
}

func newFakeEngine(handle func(e *fakeEngine, line string)) *fakeEngine {
	e := &fakeEngine{exited: make(chan struct{})}
	e.stdinR, e.stdinW = io.Pipe()
	e.stdoutR, e.stdoutW = io.Pipe()
	go e.run(handle)
	return e
}

func (e *fakeEngine) run(handle func(e *fakeEngine, line string)) {
	sc := bufio.NewScanner(e.stdinR)
	for sc.Scan() {
		line := sc.Text()
		e.mu.Lock()
		e.received = append(e.received, line)
		e.mu.Unlock()
		handle(e, line)
	}
	// Engines quit when their input closes.
	e.exit(0)
}

func (e *fakeEngine) send(lines ...string) {
	for _, l := range lines {
		if _, err := io.WriteString(e.stdoutW, l+"\n"); err != nil {
			return
		}
	}
}

func (e *fakeEngine) exit(code int) {
	e.exitOnce.Do(func() {
		e.code = code
		_ = e.stdoutW.Close()
		_ = e.stdinR.Close()
		close(e.exited)
	})
}

func (e *fakeEngine) commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.received...)
}

func (e *fakeEngine) count(prefix string) int {
	n := 0
	for _, c := range e.commands() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (e *fakeEngine) Stdin() io.WriteCloser { return e.stdinW }
func (e *fakeEngine) Stdout() io.Reader     { return e.stdoutR }

func (e *fakeEngine) Wait() (int, error) {
	<-e.exited
	return e.code, nil
}

func (e *fakeEngine) Kill() error {
	e.exit(-1)
	return nil
}

// fakeLauncher starts a fresh fake engine per launch and remembers them.
type fakeLauncher struct {
	handler func(n int) func(e *fakeEngine, line string)

	mu      sync.Mutex
	engines []*fakeEngine
	starts  atomic.Int32
	spawned chan *fakeEngine
}

func newFakeLauncher(handler func(n int) func(e *fakeEngine, line string)) *fakeLauncher {
	return &fakeLauncher{handler: handler, spawned: make(chan *fakeEngine, 16)}
}

func (l *fakeLauncher) launch(_ context.Context) (Process, error) {
	n := int(l.starts.Add(1))
	e := newFakeEngine(l.handler(n))
	l.mu.Lock()
	l.engines = append(l.engines, e)
	l.mu.Unlock()
	select {
	case l.spawned <- e:
	default:
	}
	return e, nil
}

func (l *fakeLauncher) engine(t *testing.T, i int) *fakeEngine {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if i >= len(l.engines) {
		t.Fatalf("engine %d was never launched", i)
	}
	return l.engines[i]
}

// stubEngine answers like a small Stockfish.
type stubEngine struct {
	// depthLines, if set, replaces the info lines of a "go depth N" search.
	depthLines []string
	bestMove   string
	ponder     string
	// holdUCI delays uciok until closed.
	holdUCI chan struct{}
	// holdStop delays the bestmove answering stop until closed.
	holdStop   chan struct{}
	ignoreStop bool
	crashOnGo  bool

	searching bool
}

var stubOptions = []string{
	"id name Stubfish 1",
	"id author remote-uci tests",
	"option name Threads type spin default 1 min 1 max 8",
	"option name Hash type spin default 16 min 1 max 1024",
	"option name MultiPV type spin default 1 min 1 max 5",
	"option name Ponder type check default false",
	"option name UCI_Variant type combo default chess var chess var atomic",
	"option name Clear Hash type button",
}

func (s *stubEngine) best() string {
	mv := s.bestMove
	if mv == "" {
		mv = "e2e4"
	}
	if s.ponder == "" {
		return "bestmove " + mv
	}
	return "bestmove " + mv + " ponder " + s.ponder
}

func (s *stubEngine) handle(e *fakeEngine, line string) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return
	}
	switch f[0] {
	case "uci":
		e.send(stubOptions...)
		if s.holdUCI != nil {
			<-s.holdUCI
		}
		e.send("uciok")
	case "isready":
		e.send("readyok")
	case "go":
		if s.crashOnGo {
			e.exit(1)
			return
		}
		if len(f) == 3 && f[1] == "depth" {
			n, _ := strconv.Atoi(f[2])
			lines := s.depthLines
			if lines == nil {
				for d := 1; d <= n; d++ {
					lines = append(lines, fmt.Sprintf("info depth %d seldepth %d multipv 1 score cp %d nodes %d nps 1000 time %d pv e2e4 e7e5", d, d+2, 10+d, d*100, d))
				}
			}
			e.send(lines...)
			e.send(s.best())
			return
		}
		s.searching = true
		e.send("info depth 1 score cp 5 nodes 20 pv d2d4")
	case "stop":
		if !s.searching || s.ignoreStop {
			return
		}
		s.searching = false
		if s.holdStop != nil {
			<-s.holdStop
		}
		e.send(s.best())
	case "quit":
		e.exit(0)
	}
}
