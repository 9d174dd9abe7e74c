package fiberloop

import (
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-fiberloop/coroutine"
	"github.com/joeycumines/go-fiberloop/internal/ilist"
	"github.com/joeycumines/go-fiberloop/poller"
)

// fd roles carried in poll data.
const (
	fdTypeListen = 1
	fdTypeRWC    = 2
)

// waitMillis is the event loop's poll timeout. It bounds how long a stop
// request or a shrink can go unnoticed. A variable so tests can tighten it.
var waitMillis = 1000

// eventBufferSize is the poller capacity and the per-iteration event batch.
const eventBufferSize = 1024

// Handler processes one connection inside a coroutine. The return value is
// recorded as the coroutine's result but otherwise ignored by the runtime.
// The runtime closes fd after the handler returns, whether or not the
// handler closed it itself.
type Handler func(fd int, r *Routine) int64

// pollData is the record attached to every fd registered with the poller.
// The poller hands it back verbatim on each event, so the loop can route a
// readiness report to its listener or its suspended routine.
type pollData struct {
	typ      int
	fd       int
	routine  *Routine
	listener *listener
	rt       *Runtime
	proc     Handler
}

// listener is one listening socket plus its FIFO of accepted connections
// that have not yet been dispatched to a coroutine.
type listener struct {
	pd        pollData
	proc      Handler
	listEntry ilist.Entry
	fdList    ilist.Entry
}

// queueFD is a pooled record for one accepted, queued connection.
type queueFD struct {
	fd        int
	listEntry ilist.Entry
}

// Routine is the runtime's per-coroutine state: the pooled coroutine plus
// the poll data its I/O primitives register with the poller. It is
// allocated once per coroutine and reused across connections along with it.
type Routine struct {
	co *coroutine.Coroutine
	rt *Runtime
	pd pollData
}

// Runtime owns one poller and one coroutine pool and drives them from a
// single event loop.
type Runtime struct {
	poller poller.Poller
	pool   *coroutine.Pool

	listenList ilist.Entry
	freeFDList ilist.Entry

	// stopping is the shutdown request flag, checked once per iteration and
	// before accepting connections.
	// Atomic so signal-handling goroutines may set it.
	stopping atomic.Bool

	shrinkInterval time.Duration
	countPerShrink int

	logger     *logiface.Logger[logiface.Event]
	acceptErrs *catrate.Limiter

	events []poller.Event
}

// defaultRuntime backs the package-level convenience wrappers, which need
// to resolve "the current routine" without threading a handle through
// application code.
var defaultRuntime atomic.Pointer[Runtime]

// Default returns the most recently created Runtime, or nil.
func Default() *Runtime {
	return defaultRuntime.Load()
}

// New creates a Runtime and publishes it as the process default.
func New(opts ...Option) (*Runtime, error) {
	cfg, err := resolveRuntimeOptions(opts)
	if err != nil {
		return nil, err
	}

	p, err := cfg.pollerFactory(eventBufferSize)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		poller:         p,
		pool:           coroutine.NewPool(cfg.stackSize, cfg.limitMin, cfg.limitMax),
		shrinkInterval: cfg.shrinkInterval,
		countPerShrink: cfg.countPerShrink,
		logger:         cfg.logger,
		acceptErrs: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		}),
		events: make([]poller.Event, eventBufferSize),
	}
	rt.listenList.Init()
	rt.freeFDList.Init()

	defaultRuntime.Store(rt)

	rt.logger.Info().
		Int("stack_size", cfg.stackSize).
		Int("limit_min", cfg.limitMin).
		Int("limit_max", cfg.limitMax).
		Log("runtime initialized")

	return rt, nil
}

// Pool returns the runtime's coroutine pool.
func (rt *Runtime) Pool() *coroutine.Pool {
	return rt.pool
}

// Stop requests a graceful shutdown: the loop stops accepting connections,
// waits for in-flight routines to return, then RunLoop returns nil. Safe to
// call from any goroutine.
func (rt *Runtime) Stop() {
	rt.stopping.Store(true)
}

// Stopping reports whether a shutdown has been requested.
func (rt *Runtime) Stopping() bool {
	return rt.stopping.Load()
}

// AddListen registers a listening socket. The fd is switched to
// non-blocking; it is registered with the poller when RunLoop starts.
func (rt *Runtime) AddListen(fd int, proc Handler) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}

	li := &listener{proc: proc}
	li.pd = pollData{typ: fdTypeListen, fd: fd, listener: li, rt: rt}
	li.listEntry.Owner = li
	li.fdList.Init()
	rt.listenList.InsertAfter(&li.listEntry)

	rt.logger.Debug().Int("fd", fd).Log("listener added")
	return nil
}

// RunLoop drives the runtime until a stop request completes or the poller
// fails. It must be called from exactly one goroutine, which becomes the
// scheduling thread for every coroutine in the pool.
func (rt *Runtime) RunLoop() error {
	for ent := rt.listenList.After(); ent != &rt.listenList; ent = ent.After() {
		li := ent.Owner.(*listener)
		if _, err := rt.poller.Associate(li.pd.fd, poller.EventRead, &li.pd, false); err != nil {
			return err
		}
	}

	for {
		n, err := rt.poller.Wait(rt.events, waitMillis)
		if err != nil && err != unix.EINTR {
			rt.logger.Err().Err(err).Log("poll wait failed")
			return err
		}

		for i := 0; i < n; i++ {
			ed, ok := rt.events[i].Data.(*pollData)
			if !ok {
				continue
			}
			switch ed.typ {
			case fdTypeListen:
				rt.acceptPending(ed)
			case fdTypeRWC:
				rt.resumeRoutine(ed.routine, int64(rt.events[i].Events))
			}
		}

		rt.drainQueues()

		if rt.stopping.Load() && rt.shutdownTick() {
			return nil
		}

		if rt.pool.FreeCount() > 0 && rt.pool.FullCount() > rt.pool.LimitMin() {
			if freed := rt.pool.Shrink(rt.shrinkInterval, rt.countPerShrink); freed > 0 {
				rt.logger.Debug().
					Int("freed", freed).
					Int("full_count", rt.pool.FullCount()).
					Log("pool shrunk")
			}
		}
	}
}

// acceptPending drains a listener's backlog into its FIFO. Any accept
// failure ends the drain and retracts cached readiness; genuine errors are
// conflated with EAGAIN apart from being logged. Once a stop has been
// requested nothing is accepted; the shutdown path closes the listener.
func (rt *Runtime) acceptPending(ed *pollData) {
	if ed.fd < 0 || rt.stopping.Load() {
		return
	}
	for {
		fd, _, err := unix.Accept(ed.fd)
		if err != nil {
			_ = rt.poller.Unset(ed.fd, poller.EventRead)
			if err != unix.EAGAIN && err != unix.EINTR {
				if _, ok := rt.acceptErrs.Allow(ed.fd); ok {
					rt.logger.Warning().Int("fd", ed.fd).Err(err).Log("accept failed")
				}
			}
			break
		}
		if rt.queueConn(ed.listener, fd) != nil {
			break
		}
	}

	// one-shot backends dropped the registration when the event fired
	_, _ = rt.poller.Associate(ed.fd, poller.EventRead, ed, true)
}

// queueConn appends an accepted fd to the listener's FIFO, reusing a pooled
// record when one is free.
func (rt *Runtime) queueConn(li *listener, fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return err
	}

	var qf *queueFD
	if ent := rt.freeFDList.RemoveAfter(); ent != nil {
		qf = ent.Owner.(*queueFD)
	} else {
		qf = &queueFD{}
		qf.listEntry.Owner = qf
	}

	qf.fd = fd
	li.fdList.InsertBefore(&qf.listEntry)
	return nil
}

// drainQueues dispatches queued connections, oldest first, one coroutine
// each. On pool exhaustion the drain aborts for this iteration and the
// remaining fds stay queued.
func (rt *Runtime) drainQueues() {
	for ent := rt.listenList.After(); ent != &rt.listenList; ent = ent.After() {
		li := ent.Owner.(*listener)

		for enf := li.fdList.After(); enf != &li.fdList; {
			qf := enf.Owner.(*queueFD)
			enf = enf.After()

			if !rt.startRoutine(li.proc, qf.fd) {
				return
			}

			qf.listEntry.Remove()
			rt.freeFDList.InsertAfter(&qf.listEntry)
		}
	}
}

// startRoutine acquires a coroutine, binds it to fd, and runs it until its
// first suspension (or completion). Returns false when the pool is at
// capacity.
func (rt *Runtime) startRoutine(proc Handler, fd int) bool {
	co := rt.pool.Acquire(routineMain, nil)
	if co == nil {
		return false
	}

	r, _ := co.Data.(*Routine)
	if r == nil {
		r = &Routine{co: co}
		co.Data = r
	}
	r.rt = rt
	r.pd = pollData{typ: fdTypeRWC, fd: fd, routine: r, rt: rt, proc: proc}

	rt.resumeRoutine(r, 0)
	return true
}

// resumeRoutine transfers control to a routine's coroutine. A failure means
// a stale readiness event arrived for a coroutine that already exited; it
// is logged and dropped.
func (rt *Runtime) resumeRoutine(r *Routine, val int64) {
	if r == nil {
		return
	}
	if _, err := rt.pool.Resume(r.co, val); err != nil {
		rt.logger.Debug().Int("fd", r.pd.fd).Err(err).Log("dropped stale event")
	}
}

// shutdownTick runs once per iteration while stopping: closes listeners,
// releases idle listener records and pooled queue records, and force-shrinks
// the pool. Returns true when no coroutines remain in flight and the loop
// can exit.
func (rt *Runtime) shutdownTick() bool {
	for ent := rt.listenList.After(); ent != &rt.listenList; {
		li := ent.Owner.(*listener)
		ent = ent.After()

		if li.pd.fd >= 0 {
			_ = rt.poller.Dissociate(li.pd.fd, false, true)
			_ = unix.Close(li.pd.fd)
			li.pd.fd = -1
			rt.logger.Info().Log("listener closed")
		}

		// keep the record while connections remain queued on it
		if li.fdList.Empty() {
			li.listEntry.Remove()
		}
	}

	for rt.freeFDList.RemoveAfter() != nil {
	}

	if rt.pool.FreeCount() == rt.pool.FullCount() {
		_ = rt.poller.Close()
		rt.pool.Shrink(0, -rt.pool.FullCount())
		rt.logger.Info().Log("runtime stopped")
		return true
	}

	rt.pool.Shrink(0, -rt.pool.FreeCount())
	return false
}

// routineMain is the entry proc of every pooled coroutine: run the handler,
// then close the connection whether or not the handler already did.
func routineMain(param any) int64 {
	co := param.(*coroutine.Coroutine)
	r := co.Data.(*Routine)
	fd := r.pd.fd

	ret := r.invoke(fd)

	_ = r.Close(fd)
	return ret
}

// invoke runs the handler, converting a panic into a logged error result so
// a broken handler cannot take down the loop.
func (r *Routine) invoke(fd int) (ret int64) {
	defer func() {
		if v := recover(); v != nil {
			r.rt.logger.Err().
				Int("fd", fd).
				Interface("panic", v).
				Str("stack", string(debug.Stack())).
				Log("handler panicked")
			ret = -1
		}
	}()

	if r.pd.proc != nil {
		ret = r.pd.proc(fd, r)
	}
	return
}
