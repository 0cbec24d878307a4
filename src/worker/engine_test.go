package worker

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacokyle01/remote-uci/src/uci"
)

func newTestSupervisor(l *fakeLauncher) *Supervisor {
	return NewSupervisor(l.launch, SupervisorOptions{HandshakeTimeout: time.Second, QuitGrace: 200 * time.Millisecond}, testLogger())
}

func TestSupervisor_Handshake(t *testing.T) {
	l := newFakeLauncher(func(int) func(*fakeEngine, string) { return (&stubEngine{}).handle })
	sup := newTestSupervisor(l)
	ctx := context.Background()

	caps, err := sup.Start(ctx, []Setting{{Name: "threads", Value: "4"}, {Name: "NoSuchOption", Value: "1"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Terminate(ctx) })

	assert.Equal(t, "Stubfish 1", caps.Name)
	assert.Equal(t, "remote-uci tests", caps.Author)
	require.Len(t, caps.Options, len(stubOptions)-2)
	threads, ok := caps.Lookup("Threads")
	require.True(t, ok)
	assert.Equal(t, uci.TypeSpin, threads.Type)

	// Undeclared settings are skipped and declared ones use the engine's spelling.
	assert.Equal(t, []string{"uci", "setoption name Threads value 4", "isready"}, l.engine(t, 0).commands())
}

func TestSupervisor_SendAndEvents(t *testing.T) {
	l := newFakeLauncher(func(int) func(*fakeEngine, string) { return (&stubEngine{}).handle })
	sup := newTestSupervisor(l)
	ctx := context.Background()

	_, err := sup.Start(ctx, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Terminate(ctx) })

	require.NoError(t, sup.Send(ctx, "go depth 2"))

	var msgs []uci.Message
	var last uint64
	for len(msgs) < 3 {
		select {
		case ev := <-sup.Events():
			require.Nil(t, ev.Exit)
			assert.Greater(t, ev.Seq, last)
			last = ev.Seq
			msgs = append(msgs, ev.Msg)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for engine output")
		}
	}
	assert.IsType(t, uci.Info{}, msgs[0])
	assert.IsType(t, uci.Info{}, msgs[1])
	assert.Equal(t, uci.BestMove{Move: "e2e4"}, msgs[2])
}

func TestSupervisor_HandshakeTimeout(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	l := newFakeLauncher(func(int) func(*fakeEngine, string) { return (&stubEngine{holdUCI: hold}).handle })
	sup := NewSupervisor(l.launch, SupervisorOptions{HandshakeTimeout: 50 * time.Millisecond, QuitGrace: 50 * time.Millisecond}, testLogger())

	_, err := sup.Start(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)

	select {
	case <-l.engine(t, 0).exited:
	case <-time.After(time.Second):
		t.Fatal("engine was not killed after handshake timeout")
	}
	assert.Nil(t, sup.Events())
	assert.ErrorIs(t, sup.Send(context.Background(), "isready"), ErrNotRunning)
}

func TestSupervisor_CrashDuringHandshake(t *testing.T) {
	l := newFakeLauncher(func(int) func(*fakeEngine, string) {
		return func(e *fakeEngine, line string) { e.exit(3) }
	})
	sup := newTestSupervisor(l)

	_, err := sup.Start(context.Background(), nil)
	var exited *ProcessExited
	require.ErrorAs(t, err, &exited)
	assert.Equal(t, 3, exited.Code)
}

func TestSupervisor_SpawnError(t *testing.T) {
	sup := NewSupervisor(ExecLauncher("/nonexistent/engine-binary", nil, ""), SupervisorOptions{}, testLogger())

	_, err := sup.Start(context.Background(), nil)
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, "/nonexistent/engine-binary", spawnErr.Path)
}

func TestSupervisor_SpawnErrorWrapsLauncherFailure(t *testing.T) {
	boom := errors.New("boom")
	sup := NewSupervisor(func(context.Context) (Process, error) { return nil, boom }, SupervisorOptions{}, testLogger())

	_, err := sup.Start(context.Background(), nil)
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.ErrorIs(t, err, boom)
}

func TestSupervisor_ExitEvent(t *testing.T) {
	l := newFakeLauncher(func(int) func(*fakeEngine, string) { return (&stubEngine{}).handle })
	sup := newTestSupervisor(l)
	ctx := context.Background()

	_, err := sup.Start(ctx, nil)
	require.NoError(t, err)
	events := sup.Events()

	l.engine(t, 0).exit(7)

	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed before the exit event")
			if ev.Exit == nil {
				continue
			}
			assert.Equal(t, 7, ev.Exit.Code)
			_, ok = <-events
			assert.False(t, ok, "stream must close after the exit event")
			assert.ErrorIs(t, sup.Send(ctx, "isready"), ErrNotRunning)
			return
		case <-time.After(2 * time.Second):
			t.Fatal("no exit event")
		}
	}
}

func TestSupervisor_TerminateSendsQuit(t *testing.T) {
	l := newFakeLauncher(func(int) func(*fakeEngine, string) { return (&stubEngine{}).handle })
	sup := newTestSupervisor(l)
	ctx := context.Background()

	_, err := sup.Start(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, sup.Terminate(ctx))
	e := l.engine(t, 0)
	assert.Equal(t, "quit", e.commands()[len(e.commands())-1])
	assert.Equal(t, 0, e.code)
	assert.Nil(t, sup.Events())
}

func TestSupervisor_TerminateKillsUnresponsiveEngine(t *testing.T) {
	l := newFakeLauncher(func(int) func(*fakeEngine, string) {
		stub := &stubEngine{}
		return func(e *fakeEngine, line string) {
			if line == "quit" {
				return
			}
			stub.handle(e, line)
		}
	})
	sup := newTestSupervisor(l)
	ctx := context.Background()

	_, err := sup.Start(ctx, nil)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, sup.Terminate(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, -1, l.engine(t, 0).code)
}

func TestSupervisor_RestartReplacesStream(t *testing.T) {
	l := newFakeLauncher(func(int) func(*fakeEngine, string) { return (&stubEngine{}).handle })
	sup := newTestSupervisor(l)
	ctx := context.Background()

	_, err := sup.Start(ctx, nil)
	require.NoError(t, err)
	first := sup.Events()

	_, err = sup.Start(ctx, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Terminate(ctx) })

	assert.NotEqual(t, first, sup.Events())
	assert.Equal(t, int32(2), l.starts.Load())
	assert.Equal(t, "quit", l.engine(t, 0).commands()[len(l.engine(t, 0).commands())-1])
}

func TestExecLauncher_RunsProcess(t *testing.T) {
	if _, err := os.Stat("/bin/cat"); err != nil {
		t.Skip("needs /bin/cat")
	}
	proc, err := ExecLauncher("/bin/cat", nil, "")(context.Background())
	require.NoError(t, err)

	_, err = proc.Stdin().Write([]byte("readyok\n"))
	require.NoError(t, err)
	require.NoError(t, proc.Stdin().Close())

	buf := make([]byte, 8)
	n, err := proc.Stdout().Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "readyok\n", string(buf[:n]))

	code, err := proc.Wait()
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.NoError(t, proc.Kill())
}
