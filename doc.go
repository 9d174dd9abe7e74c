// Package fiberloop is a single-threaded cooperative runtime for building
// high-concurrency network servers out of blocking-style connection
// handlers.
//
// A Runtime owns one readiness poller (see the poller package) and one
// coroutine pool (see the coroutine package). Listeners are registered with
// AddListen; the event loop accepts connections, queues them per listener,
// and runs each one in a pooled coroutine. Inside a handler, the synchronous
// I/O primitives (Routine.Read, Write, Recv, Send, Connect, Close) look
// blocking but internally associate the file descriptor with the poller,
// yield the coroutine, and retry once the loop resumes it with a readiness
// event. EAGAIN is never surfaced to handler code.
//
// The runtime is cooperative and single-threaded: one goroutine drives
// RunLoop, and exactly one coroutine (or the loop itself) runs at a time.
// Runtime state must not be touched from other goroutines, with one
// exception: Stop may be called from anywhere, including signal handlers.
//
//	rt, err := fiberloop.New()
//	// ...
//	_ = rt.AddListen(listenFd, func(fd int, r *fiberloop.Routine) int64 {
//		var buf [8192]byte
//		n, err := r.Read(fd, buf[:])
//		if err != nil || n <= 0 {
//			return -1
//		}
//		_, _ = r.Write(fd, buf[:n])
//		return 0
//	})
//	err = rt.RunLoop()
package fiberloop
