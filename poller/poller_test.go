//go:build unix

package poller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// testBackends returns the constructors exercised by the shared contract
// tests. Platform test files add their native backends.
func testBackends() map[string]func(int) (Poller, error) {
	m := map[string]func(int) (Poller, error){
		"poll":    NewPoll,
		"default": New,
	}
	addPlatformBackends(m)
	return m
}

func newTestPoller(t *testing.T, create func(int) (Poller, error)) Poller {
	t.Helper()
	p, err := create(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	return fds[0], fds[1]
}

// waitFor polls until an event tagged with data arrives, or the deadline of
// attempts expires. Returns the events of the first matching report, or 0 if
// none arrived.
func waitFor(t *testing.T, p Poller, data any, attempts int) Events {
	t.Helper()
	var evts [64]Event
	for i := 0; i < attempts; i++ {
		n, err := p.Wait(evts[:], 100)
		if err == unix.EINTR {
			continue
		}
		require.NoError(t, err)
		for _, e := range evts[:n] {
			if e.Data == data {
				return e.Events
			}
		}
	}
	return 0
}

func TestWaitReadable(t *testing.T) {
	for name, create := range testBackends() {
		t.Run(name, func(t *testing.T) {
			p := newTestPoller(t, create)
			a, b := socketPair(t)

			ready, err := p.Associate(a, EventRead, "conn", false)
			require.NoError(t, err)

			_, err = unix.Write(b, []byte("x"))
			require.NoError(t, err)

			if !ready {
				events := waitFor(t, p, "conn", 20)
				require.NotZero(t, events, "expected a readiness event")
				assert.NotZero(t, events&(EventRead|EventHangup))
			}

			require.NoError(t, p.Dissociate(a, true, false))
		})
	}
}

func TestWaitTimesOut(t *testing.T) {
	for name, create := range testBackends() {
		t.Run(name, func(t *testing.T) {
			p := newTestPoller(t, create)
			a, _ := socketPair(t)

			ready, err := p.Associate(a, EventRead, "idle", false)
			require.NoError(t, err)
			require.False(t, ready, "empty socket must not be read-ready")

			var evts [8]Event
			n, err := p.Wait(evts[:], 20)
			require.NoError(t, err)
			assert.Zero(t, n)

			require.NoError(t, p.Dissociate(a, false, false))
		})
	}
}

func TestWritableSocket(t *testing.T) {
	for name, create := range testBackends() {
		t.Run(name, func(t *testing.T) {
			p := newTestPoller(t, create)
			a, _ := socketPair(t)

			ready, err := p.Associate(a, EventWrite, "out", false)
			require.NoError(t, err)

			if !ready {
				events := waitFor(t, p, "out", 20)
				require.NotZero(t, events&EventWrite, "fresh socket should be writable")
			}

			require.NoError(t, p.Dissociate(a, true, false))
		})
	}
}

func TestDissociateStopsDelivery(t *testing.T) {
	for name, create := range testBackends() {
		t.Run(name, func(t *testing.T) {
			p := newTestPoller(t, create)
			a, b := socketPair(t)

			_, err := p.Associate(a, EventRead, "gone", false)
			require.NoError(t, err)
			require.NoError(t, p.Dissociate(a, false, false))

			_, err = unix.Write(b, []byte("x"))
			require.NoError(t, err)

			assert.Zero(t, waitFor(t, p, "gone", 3), "no events after dissociate")
		})
	}
}

func TestDissociateOnCloseThenReuse(t *testing.T) {
	for name, create := range testBackends() {
		t.Run(name, func(t *testing.T) {
			p := newTestPoller(t, create)
			a, b := socketPair(t)

			_, err := p.Associate(a, EventRead, "old", false)
			require.NoError(t, err)

			_, err = unix.Write(b, []byte("x"))
			require.NoError(t, err)
			require.NotZero(t, waitFor(t, p, "old", 20))

			// purge before close, then a fresh association on the same
			// resource must deliver the new tag only
			require.NoError(t, p.Dissociate(a, true, true))

			_, err = p.Associate(a, EventRead, "new", false)
			require.NoError(t, err)

			_, err = unix.Write(b, []byte("y"))
			require.NoError(t, err)

			events := waitFor(t, p, "new", 20)
			require.NotZero(t, events)
		})
	}
}

func TestExpandHighFd(t *testing.T) {
	for name, create := range testBackends() {
		t.Run(name, func(t *testing.T) {
			p := newTestPoller(t, create)
			a, b := socketPair(t)

			// force the fd past the initial table capacity
			high, err := unix.FcntlInt(uintptr(a), unix.F_DUPFD, minCapacity+100)
			require.NoError(t, err)
			t.Cleanup(func() { _ = unix.Close(high) })
			require.GreaterOrEqual(t, high, minCapacity+100)

			_, err = p.Associate(high, EventRead, "high", false)
			require.NoError(t, err)

			_, err = unix.Write(b, []byte("x"))
			require.NoError(t, err)

			events := waitFor(t, p, "high", 20)
			require.NotZero(t, events)
			assert.NotZero(t, events&(EventRead|EventHangup))

			require.NoError(t, p.Dissociate(high, true, true))
		})
	}
}

func TestHangup(t *testing.T) {
	for name, create := range testBackends() {
		t.Run(name, func(t *testing.T) {
			p := newTestPoller(t, create)

			fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
			require.NoError(t, err)
			a, b := fds[0], fds[1]
			t.Cleanup(func() { _ = unix.Close(a) })

			_, err = p.Associate(a, EventRead, "hup", false)
			require.NoError(t, err)

			require.NoError(t, unix.Close(b))

			events := waitFor(t, p, "hup", 20)
			require.NotZero(t, events, "peer close must produce an event")
			assert.NotZero(t, events&(EventRead|EventHangup))

			require.NoError(t, p.Dissociate(a, true, true))
		})
	}
}
