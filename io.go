package fiberloop

import (
	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-fiberloop/poller"
)

// The synchronous I/O primitives all follow one discipline: associate the
// fd with the relevant readiness event, yield the coroutine unless the
// poller already knows the fd is ready, run the non-blocking syscall on
// wake, retract readiness and yield again on EAGAIN, and dissociate once
// the operation settles. Readiness reports of Err (and, for the write
// direction, Hup) surface as EBADF. Errors are unix.Errno values; EAGAIN
// never escapes.

// yield suspends the current coroutine until the loop resumes it with a
// readiness event bitmask.
func (rt *Runtime) yield() poller.Events {
	return poller.Events(rt.pool.Yield(0))
}

// prepare points the routine's poll data at fd for an I/O operation.
func (r *Routine) prepare(fd int) {
	r.pd.typ = fdTypeRWC
	r.pd.fd = fd
}

// Read reads up to len(p) bytes from fd, suspending until the fd is
// readable. Mirrors read(2).
func (r *Routine) Read(fd int, p []byte) (int, error) {
	r.prepare(fd)
	return r.readWith(fd, func() (int, error) {
		return unix.Read(fd, p)
	})
}

// Recv receives from a connected socket with recv(2) flags, suspending
// until the socket is readable.
func (r *Routine) Recv(fd int, p []byte, flags int) (int, error) {
	r.prepare(fd)
	return r.readWith(fd, func() (int, error) {
		n, _, err := unix.Recvfrom(fd, p, flags)
		return n, err
	})
}

// readWith drives one read-direction syscall through the
// associate/yield/retry discipline.
func (r *Routine) readWith(fd int, call func() (int, error)) (int, error) {
	rt := r.rt

	ready, err := rt.poller.Associate(fd, poller.EventRead, &r.pd, false)
	if err != nil {
		return -1, err
	}

	var n int
	var opErr error

	for {
		if !ready {
			events := rt.yield()
			if events&poller.EventError != 0 {
				n, opErr = -1, error(unix.EBADF)
				break
			}
			if events&(poller.EventRead|poller.EventHangup) == 0 {
				break
			}
		}
		ready = false

		n, opErr = call()
		if opErr == unix.EAGAIN {
			_ = rt.poller.Unset(fd, poller.EventRead|poller.EventHangup)
			continue
		}
		break
	}

	_ = rt.poller.Dissociate(fd, true, false)
	return n, opErr
}

// Write writes up to len(p) bytes to fd, suspending until the fd is
// writable. Mirrors write(2); short writes are possible.
func (r *Routine) Write(fd int, p []byte) (int, error) {
	r.prepare(fd)
	return r.writeWith(fd, func() (int, error) {
		return unix.Write(fd, p)
	})
}

// Send sends on a connected socket with send(2) flags, suspending until the
// socket is writable.
func (r *Routine) Send(fd int, p []byte, flags int) (int, error) {
	r.prepare(fd)
	return r.writeWith(fd, func() (int, error) {
		return unix.SendmsgN(fd, p, nil, nil, flags)
	})
}

// writeWith drives one write-direction syscall through the
// associate/yield/retry discipline.
func (r *Routine) writeWith(fd int, call func() (int, error)) (int, error) {
	rt := r.rt

	ready, err := rt.poller.Associate(fd, poller.EventWrite, &r.pd, false)
	if err != nil {
		return -1, err
	}

	var n int
	var opErr error

	for {
		if !ready {
			events := rt.yield()
			if events&(poller.EventError|poller.EventHangup) != 0 {
				n, opErr = -1, error(unix.EBADF)
				break
			}
			if events&poller.EventWrite == 0 {
				break
			}
		}
		ready = false

		n, opErr = call()
		if opErr == unix.EAGAIN {
			_ = rt.poller.Unset(fd, poller.EventWrite)
			continue
		}
		break
	}

	_ = rt.poller.Dissociate(fd, true, false)
	return n, opErr
}

// Connect connects fd to sa, suspending until the connection settles. When
// the kernel completes the connect immediately the routine never yields.
// Mirrors connect(2): the real outcome of a deferred connect is read from
// SO_ERROR.
func (r *Routine) Connect(fd int, sa unix.Sockaddr) error {
	rt := r.rt
	r.prepare(fd)

	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}

	switch err := unix.Connect(fd, sa); err {
	case nil:
		return nil
	case unix.EINPROGRESS:
	default:
		return err
	}

	ready, err := rt.poller.Associate(fd, poller.EventWrite, &r.pd, false)
	if err != nil {
		return err
	}
	if ready {
		// optimistic write readiness means nothing for a connect in
		// flight; force a genuine edge
		_ = rt.poller.Unset(fd, poller.EventWrite)
	}

	var opErr error

	events := rt.yield()
	if events&(poller.EventError|poller.EventHangup) != 0 {
		opErr = unix.EBADF
	} else if events&poller.EventWrite != 0 {
		if soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR); err != nil {
			opErr = err
		} else if soErr != 0 {
			opErr = unix.Errno(soErr)
		}
	}

	_ = rt.poller.Dissociate(fd, true, false)
	return opErr
}

// Close dissociates fd from the poller, purging all per-fd state before the
// kernel can reuse the number, then closes it.
func (r *Routine) Close(fd int) error {
	_ = r.rt.poller.Dissociate(fd, false, true)
	return unix.Close(fd)
}

// current resolves the running routine of the default runtime.
func current() (*Routine, error) {
	rt := Default()
	if rt == nil {
		return nil, ErrNoRuntime
	}
	co := rt.pool.Current()
	if co == nil {
		return nil, ErrNoRoutine
	}
	r, _ := co.Data.(*Routine)
	if r == nil {
		return nil, ErrNoRoutine
	}
	return r, nil
}

// Current returns the running routine of the default runtime, or nil when
// called outside a handler.
func Current() *Routine {
	r, _ := current()
	return r
}

// Read is Routine.Read on the current routine.
func Read(fd int, p []byte) (int, error) {
	r, err := current()
	if err != nil {
		return -1, err
	}
	return r.Read(fd, p)
}

// Write is Routine.Write on the current routine.
func Write(fd int, p []byte) (int, error) {
	r, err := current()
	if err != nil {
		return -1, err
	}
	return r.Write(fd, p)
}

// Recv is Routine.Recv on the current routine.
func Recv(fd int, p []byte, flags int) (int, error) {
	r, err := current()
	if err != nil {
		return -1, err
	}
	return r.Recv(fd, p, flags)
}

// Send is Routine.Send on the current routine.
func Send(fd int, p []byte, flags int) (int, error) {
	r, err := current()
	if err != nil {
		return -1, err
	}
	return r.Send(fd, p, flags)
}

// Connect is Routine.Connect on the current routine.
func Connect(fd int, sa unix.Sockaddr) error {
	r, err := current()
	if err != nil {
		return err
	}
	return r.Connect(fd, sa)
}

// Close is Routine.Close on the current routine.
func Close(fd int) error {
	r, err := current()
	if err != nil {
		return err
	}
	return r.Close(fd)
}
