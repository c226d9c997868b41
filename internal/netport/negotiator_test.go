package netport

import (
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/lockfile"
)

const testHost = "127.0.0.1"

func testEntry() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	return log.WithField("component", "netport")
}

// freePort asks the kernel for an ephemeral free port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", testHost+":0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// occupy binds a port for the duration of the test and reports whether the
// bind succeeded.
func occupy(t *testing.T, port int) (net.Listener, bool) {
	t.Helper()
	l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", testHost, port))
	if err != nil {
		return nil, false
	}
	t.Cleanup(func() { l.Close() })
	return l, true
}

func TestProbe(t *testing.T) {
	port := freePort(t)
	assert.True(t, Probe(testHost, port))

	_, ok := occupy(t, port)
	require.True(t, ok)
	assert.False(t, Probe(testHost, port))
}

func TestSecurePortReturnsFreePreferred(t *testing.T) {
	n := NewNegotiator(testHost, testEntry())
	preferred := freePort(t)

	port, err := n.SecurePort(preferred, nil, false)
	require.NoError(t, err)
	assert.Equal(t, preferred, port)
}

func TestSecurePortDiscoversPastForeignOccupant(t *testing.T) {
	n := NewNegotiator(testHost, testEntry())
	preferred := freePort(t)
	_, ok := occupy(t, preferred)
	require.True(t, ok)

	port, err := n.SecurePort(preferred, nil, false)
	require.NoError(t, err)
	assert.Greater(t, port, preferred)
	assert.LessOrEqual(t, port, preferred+discoveryAttempts)
	assert.True(t, Probe(testHost, port))
}

func TestSecurePortStayAliveFailsFast(t *testing.T) {
	n := NewNegotiator(testHost, testEntry())
	preferred := freePort(t)
	_, ok := occupy(t, preferred)
	require.True(t, ok)

	// A prior lock naming a live process (ourselves) marks the occupant as
	// an instance of this service.
	prior := &lockfile.Lock{PID: os.Getpid(), StartTime: time.Now(), Version: "test"}

	_, err := n.SecurePort(preferred, prior, true)
	require.ErrorIs(t, err, ErrConflict)
}

func TestSecurePortGracefulReplacement(t *testing.T) {
	n := NewNegotiator(testHost, testEntry())
	preferred := freePort(t)
	l, ok := occupy(t, preferred)
	require.True(t, ok)

	prior := &lockfile.Lock{PID: 4242, StartTime: time.Now(), Version: "test"}

	// The cooperative signal "works": the occupant exits and frees the port.
	dead := false
	n.alive = func(pid int) bool { return !dead }
	terminated := false
	n.terminate = func(pid int) error {
		terminated = true
		dead = true
		return l.Close()
	}
	n.forceKill = func(pid int) error {
		t.Fatal("forceful kill should not fire when graceful replacement works")
		return nil
	}

	port, err := n.SecurePort(preferred, prior, false)
	require.NoError(t, err)
	assert.Equal(t, preferred, port)
	assert.True(t, terminated)
}

func TestSecurePortEscalatesToForcefulKill(t *testing.T) {
	n := NewNegotiator(testHost, testEntry())
	n.grace = 300 * time.Millisecond
	preferred := freePort(t)
	l, ok := occupy(t, preferred)
	require.True(t, ok)

	prior := &lockfile.Lock{PID: 4242, StartTime: time.Now(), Version: "test"}

	// The occupant ignores SIGTERM; only the kill ends it.
	dead := false
	n.alive = func(pid int) bool { return !dead }
	n.terminate = func(pid int) error { return nil }
	killed := false
	n.forceKill = func(pid int) error {
		killed = true
		dead = true
		return l.Close()
	}

	port, err := n.SecurePort(preferred, prior, false)
	require.NoError(t, err)
	assert.Equal(t, preferred, port)
	assert.True(t, killed)
}

func TestSecurePortEvictsPriorOffPreferredPort(t *testing.T) {
	n := NewNegotiator(testHost, testEntry())
	preferred := freePort(t)

	// The prior instance is live but bound elsewhere (its own start hit an
	// occupant and discovered a different port). A free preferred port must
	// not let it survive: two live instances would share the directory.
	prior := &lockfile.Lock{PID: 4242, StartTime: time.Now(), Version: "test"}

	dead := false
	n.alive = func(pid int) bool { return !dead }
	terminated := false
	n.terminate = func(pid int) error {
		terminated = true
		dead = true
		return nil
	}

	port, err := n.SecurePort(preferred, prior, false)
	require.NoError(t, err)
	assert.Equal(t, preferred, port)
	assert.True(t, terminated, "a live prior instance must be replaced even when the preferred port is free")
}

func TestSecurePortExhaustedBudget(t *testing.T) {
	n := NewNegotiator(testHost, testEntry())
	n.attempts = 2

	// Find a small contiguous window we can fully occupy.
	var preferred int
	var bound bool
	for try := 0; try < 10 && !bound; try++ {
		preferred = freePort(t)
		bound = true
		for p := preferred; p <= preferred+2; p++ {
			if _, ok := occupy(t, p); !ok {
				bound = false
				break
			}
		}
	}
	if !bound {
		t.Skip("could not occupy a contiguous port window")
	}

	_, err := n.SecurePort(preferred, nil, false)
	require.ErrorIs(t, err, ErrPortExhausted)
}

func TestAllocatorLeasesDistinctPorts(t *testing.T) {
	a := NewAllocator(testHost, freePort(t))

	first, err := a.Next()
	require.NoError(t, err)
	second, err := a.Next()
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "unbound leases must not be handed out twice")

	a.Release(first)
	third, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, first, third, "released ports return to the pool")
}

func TestAllocatorSkipsOccupiedPorts(t *testing.T) {
	base := freePort(t)
	if _, ok := occupy(t, base); !ok {
		t.Skip("base port grabbed between probe and bind")
	}

	a := NewAllocator(testHost, base)
	port, err := a.Next()
	require.NoError(t, err)
	assert.Greater(t, port, base)
}
