// Package fiber implements cooperative fibers with an explicit
// resume/yield transfer of control.
//
// A fiber is backed by a goroutine parked on an unbuffered channel. Exactly
// one fiber per scheduler (or the scheduling goroutine itself) is logically
// running at any instant: Resume hands control to the target and blocks the
// caller until the matching Yield (or the fiber's proc returning) hands
// control back. The int64 value carried across each handoff mirrors the
// send/return value contract of classical stackful coroutine libraries.
//
// The Go runtime owns fiber stacks and grows them on demand, so the stack
// size supplied at creation is recorded but does not control allocation.
package fiber

import (
	"errors"
)

// Status is the lifecycle state of a fiber.
type Status int32

const (
	// StatusNone is the zero value; a fiber in this state was never
	// initialized and cannot be resumed.
	StatusNone Status = iota

	// StatusInited means the fiber is ready to run or is suspended in Yield.
	StatusInited

	// StatusExited means the fiber's proc returned. The fiber may be
	// re-initialized in place with Init, or released with Delete.
	StatusExited
)

// Standard errors.
var (
	// ErrExited is returned by Resume when the target fiber has exited.
	ErrExited = errors.New("fiber: fiber has exited")

	// ErrNotInited is returned by Resume when the target fiber was never
	// initialized.
	ErrNotInited = errors.New("fiber: fiber is not initialized")
)

// Proc is a fiber entry function. The return value is delivered to the
// parent's pending Resume.
type Proc func(param any) int64

// Fiber is a single cooperative execution context.
type Fiber struct {
	sched  *Sched
	parent *Fiber
	status Status

	proc  Proc
	param any

	// wake carries control into the fiber (from Resume) and out of it
	// (from Yield or proc return). Unbuffered, so each handoff is a
	// rendezvous and establishes happens-before for all fiber state.
	wake chan int64
	quit chan struct{}

	stackSize int

	// Owner is an opaque back-reference for whoever manages this fiber
	// (e.g. a pool maps the running fiber back to its coroutine record).
	// Set once, before the first Resume.
	Owner any
}

// Sched tracks the currently running fiber for one scheduling goroutine.
//
// The thread fiber is a sentinel standing in for the goroutine that drives
// the fibers, so a Yield from a top-level fiber returns into that goroutine's
// pending Resume.
type Sched struct {
	current *Fiber
	thread  Fiber
}

// NewSched returns a scheduler whose current fiber is the thread sentinel.
func NewSched() *Sched {
	s := &Sched{}
	s.thread.sched = s
	s.thread.wake = make(chan int64)
	s.current = &s.thread
	return s
}

// Running returns the currently running fiber, or nil when control is in the
// scheduling goroutine itself.
func (s *Sched) Running() *Fiber {
	if s.current == &s.thread {
		return nil
	}
	return s.current
}

// Create starts a new fiber initialized with proc and param. The fiber does
// not run until the first Resume. A nil param is replaced with the fiber
// itself, so a proc can always recover its own handle.
func Create(s *Sched, stackSize int, proc Proc, param any) *Fiber {
	f := &Fiber{
		sched:     s,
		stackSize: stackSize,
		wake:      make(chan int64),
		quit:      make(chan struct{}),
	}
	f.Init(proc, param)
	go f.run()
	return f
}

// Init re-arms an exited fiber in place with a new proc and param, reusing
// the backing goroutine. It is also used by Create for first initialization.
// Calling Init on a fiber that is suspended in Yield is undefined.
func (f *Fiber) Init(proc Proc, param any) {
	if param == nil {
		param = f
	}
	f.proc = proc
	f.param = param
	f.status = StatusInited
}

// run is the fiber goroutine: park, execute one proc per initialization,
// deliver the final value to the parent, park again awaiting re-init.
func (f *Fiber) run() {
	for {
		select {
		case <-f.wake:
		case <-f.quit:
			return
		}
		ret := f.proc(f.param)
		f.status = StatusExited
		f.sched.current = f.parent
		f.parent.wake <- ret
	}
}

// Resume transfers control to fiber `to`, delivering val as the return value
// of its pending Yield (ignored on first entry; the proc receives its init
// param instead). It blocks until `to` yields or exits, and returns the value
// it handed back. Resume must only be called while `to` is not running.
func (s *Sched) Resume(to *Fiber, val int64) (int64, error) {
	if to.status != StatusInited {
		if to.status == StatusExited {
			return 0, ErrExited
		}
		return 0, ErrNotInited
	}
	current := s.current
	to.parent = current
	s.current = to
	to.wake <- val
	return <-current.wake, nil
}

// Yield suspends the current fiber, handing val to the parent's pending
// Resume, and returns the value of the next Resume targeting this fiber.
// Yield must be called from a fiber, never from the scheduling goroutine.
func (s *Sched) Yield(val int64) int64 {
	current := s.current
	s.current = current.parent
	current.parent.wake <- val
	return <-current.wake
}

// IsExited reports whether the fiber's proc has returned.
func (f *Fiber) IsExited() bool {
	return f.status == StatusExited
}

// StackSize returns the stack size the fiber was created with. The value is
// advisory; the Go runtime sizes the actual stack.
func (f *Fiber) StackSize() int {
	return f.stackSize
}

// Delete releases the fiber, terminating its backing goroutine. It must only
// be called on a fiber that is exited or was never resumed, and a fiber must
// not delete itself.
func (f *Fiber) Delete() {
	close(f.quit)
}
