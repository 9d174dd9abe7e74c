// Package coroutine pools fibers for reuse across many short-lived tasks.
//
// The pool amortizes fiber creation and bounds the live population between a
// configured minimum and maximum. Exited coroutines are kept on a free list
// and re-initialized in place on the next acquire; idle ones are reclaimed by
// periodic shrinking. The pool is not safe for concurrent use: all operations
// must run on the scheduling goroutine (or a fiber it resumed).
package coroutine

import (
	"time"

	"github.com/joeycumines/go-fiberloop/fiber"
	"github.com/joeycumines/go-fiberloop/internal/ilist"
)

// Coroutine is a pooled fiber plus the bookkeeping the pool needs to reuse
// and reclaim it.
type Coroutine struct {
	fib *fiber.Fiber

	fullEntry ilist.Entry
	freeEntry ilist.Entry

	// lastRunTime is stamped when the coroutine exits; Shrink compares it
	// against the idle threshold.
	lastRunTime time.Time
	runCount    uint32

	// Data is an opaque slot for the pool's owner. The runtime keeps its
	// per-connection poll record here so it survives reuse along with the
	// coroutine.
	Data any
}

// Fiber returns the coroutine's underlying fiber.
func (c *Coroutine) Fiber() *fiber.Fiber {
	return c.fib
}

// RunCount returns how many times this coroutine has run to completion.
func (c *Coroutine) RunCount() uint32 {
	return c.runCount
}

// LastRunTime returns when the coroutine last ran to completion. Zero until
// the first exit.
func (c *Coroutine) LastRunTime() time.Time {
	return c.lastRunTime
}

// Pool owns a scheduler and a bounded set of reusable coroutines.
type Pool struct {
	sched *fiber.Sched

	stackSize int
	limitMin  int
	limitMax  int

	// fullList chains every coroutine created; freeList chains the exited
	// ones available for reuse, most recently exited first.
	fullList ilist.Entry
	freeList ilist.Entry

	fullCount int
	freeCount int
	runCount  uint64
}

// NewPool returns a pool creating fibers with the given stack size, keeping
// at least limitMin coroutines across shrinks and at most limitMax alive.
func NewPool(stackSize, limitMin, limitMax int) *Pool {
	p := &Pool{
		sched:     fiber.NewSched(),
		stackSize: stackSize,
		limitMin:  limitMin,
		limitMax:  limitMax,
	}
	p.fullList.Init()
	p.freeList.Init()
	return p
}

// Acquire returns a coroutine initialized with proc and param, reusing the
// head of the free list when possible and creating a new fiber otherwise.
// It returns nil when the pool is at capacity. A nil param is replaced with
// the coroutine itself.
func (p *Pool) Acquire(proc fiber.Proc, param any) *Coroutine {
	if p.freeCount > 0 {
		p.freeCount--
		co := p.freeList.RemoveAfter().Owner.(*Coroutine)
		if param == nil {
			param = co
		}
		co.fib.Init(proc, param)
		return co
	}

	if p.fullCount >= p.limitMax {
		return nil
	}

	co := &Coroutine{}
	co.fullEntry.Owner = co
	co.freeEntry.Owner = co
	if param == nil {
		param = co
	}
	co.fib = fiber.Create(p.sched, p.stackSize, proc, param)
	co.fib.Owner = co

	p.fullCount++
	p.fullList.InsertAfter(&co.fullEntry)
	return co
}

// Resume runs or resumes co, passing val. When co exits during this resume,
// its last-run time is stamped and it is pushed onto the free list head, so
// reuse is LIFO and the list stays roughly sorted by idle time.
func (p *Pool) Resume(co *Coroutine, val int64) (int64, error) {
	ret, err := p.sched.Resume(co.fib, val)
	if err != nil {
		return ret, err
	}

	if co.fib.IsExited() {
		co.runCount++
		co.lastRunTime = time.Now()
		p.freeList.InsertAfter(&co.freeEntry)
		p.freeCount++
		p.runCount++
	}

	return ret, nil
}

// Yield suspends the currently running coroutine, handing val to its
// resumer.
func (p *Pool) Yield(val int64) int64 {
	return p.sched.Yield(val)
}

// Current returns the running coroutine, or nil when control is in the
// scheduling goroutine.
func (p *Pool) Current() *Coroutine {
	f := p.sched.Running()
	if f == nil {
		return nil
	}
	co, _ := f.Owner.(*Coroutine)
	return co
}

// Shrink deletes up to maxCount coroutines from the free list tail whose
// idle interval meets or exceeds idle. Iteration stops at the first young
// coroutine. With maxCount > 0 the population never drops below the pool's
// minimum; a negative maxCount forces up to -maxCount deletions regardless
// (used at shutdown). The clamp to the population above the minimum is
// applied before the sign of maxCount is flipped, so when the population is
// below the minimum a forced shrink may delete up to limitMin minus the
// population, if that is more than -maxCount. Returns the number deleted.
func (p *Pool) Shrink(idle time.Duration, maxCount int) int {
	if p.freeCount <= 0 || (maxCount > 0 && p.fullCount <= p.limitMin) {
		return 0
	}

	if beyond := p.fullCount - p.limitMin; maxCount > beyond {
		maxCount = beyond
	}
	if maxCount < 0 {
		maxCount = -maxCount
	}

	now := time.Now()
	freed := 0

	ent := p.freeList.Before()
	for ent != &p.freeList && maxCount > 0 {
		maxCount--
		co := ent.Owner.(*Coroutine)
		ent = ent.Before()

		if now.Sub(co.lastRunTime) < idle {
			break
		}

		p.freeCount--
		p.fullCount--
		co.freeEntry.Remove()
		co.fullEntry.Remove()
		freed++
		co.fib.Delete()
	}
	return freed
}

// FullCount returns the number of coroutines currently alive in the pool.
func (p *Pool) FullCount() int { return p.fullCount }

// FreeCount returns the number of exited coroutines available for reuse.
func (p *Pool) FreeCount() int { return p.freeCount }

// RunCount returns the total number of coroutine completions in this pool.
func (p *Pool) RunCount() uint64 { return p.runCount }

// LimitMin returns the minimum population kept across shrinks.
func (p *Pool) LimitMin() int { return p.limitMin }

// LimitMax returns the maximum live population.
func (p *Pool) LimitMax() int { return p.limitMax }

// StackSize returns the stack size used for new fibers.
func (p *Pool) StackSize() int { return p.stackSize }

// Sched returns the pool's scheduler.
func (p *Pool) Sched() *fiber.Sched { return p.sched }
