package supervisor

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// opLog records teardown steps in the order they ran.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) record(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

type fakeSockets struct {
	log         *opLog
	panicOnStop bool
}

func (f *fakeSockets) StopAccepting() {
	f.log.record("stop_accepting")
	if f.panicOnStop {
		panic("listener already gone")
	}
}

func (f *fakeSockets) CloseConnections(window time.Duration) {
	f.log.record("close_connections")
}

type fakeSweeper struct {
	log *opLog
	err error
}

func (f *fakeSweeper) EmergencyShutdownAll() error {
	f.log.record("sweep_sessions")
	return f.err
}

type fakeLock struct {
	log *opLog
}

func (f *fakeLock) Release() error {
	f.log.record("release_lock")
	return nil
}

func newTestCoordinator(t *testing.T, sockets *fakeSockets, sweeper *fakeSweeper, ops *opLog) *ShutdownCoordinator {
	t.Helper()
	log := logrus.New()
	log.SetOutput(os.Stderr)
	return NewShutdownCoordinator(
		sockets,
		sweeper,
		&fakeLock{log: ops},
		func() { ops.record("cancel_health") },
		func(code int) { ops.record("exit") },
		log.WithField("component", "shutdown"),
	)
}

func TestTriggerRunsOrderedTeardown(t *testing.T) {
	ops := &opLog{}
	c := newTestCoordinator(t, &fakeSockets{log: ops}, &fakeSweeper{log: ops}, ops)

	c.Trigger("signal: terminated")

	assert.Equal(t, []string{
		"cancel_health",
		"stop_accepting",
		"close_connections",
		"sweep_sessions",
		"release_lock",
		"exit",
	}, ops.snapshot())
	assert.Equal(t, StateStopped, c.State())

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel must be closed after teardown")
	}
}

func TestTriggerIsSingleEntry(t *testing.T) {
	ops := &opLog{}
	c := newTestCoordinator(t, &fakeSockets{log: ops}, &fakeSweeper{log: ops}, ops)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Trigger("concurrent")
		}()
	}
	wg.Wait()

	count := 0
	for _, op := range ops.snapshot() {
		if op == "sweep_sessions" {
			count++
		}
	}
	assert.Equal(t, 1, count, "teardown must run exactly once")
}

func TestTriggerToleratesSweepFailure(t *testing.T) {
	ops := &opLog{}
	sweeper := &fakeSweeper{log: ops, err: errors.New("browser refused to die")}
	c := newTestCoordinator(t, &fakeSockets{log: ops}, sweeper, ops)

	c.Trigger("stop command")

	got := ops.snapshot()
	require.Contains(t, got, "release_lock", "lock release must survive a failed sweep")
	require.Contains(t, got, "exit")
	assert.Equal(t, StateStopped, c.State())
}

func TestTriggerToleratesPanicInTeardownStep(t *testing.T) {
	ops := &opLog{}
	c := newTestCoordinator(t, &fakeSockets{log: ops, panicOnStop: true}, &fakeSweeper{log: ops}, ops)

	require.NotPanics(t, func() { c.Trigger("panic: boom") })

	got := ops.snapshot()
	assert.Contains(t, got, "release_lock", "lock release must survive a panicking step")
	assert.Contains(t, got, "exit")
}
