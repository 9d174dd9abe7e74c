//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// epollLT is the level-triggered epoll backend: a thin wrapper where
// associate and dissociate are single epoll_ctl calls and the kernel tracks
// readiness. The only user-space state is the fd→data table, since Go
// values cannot ride in the kernel's event payload.
type epollLT struct {
	epfd   int
	data   []any
	events []unix.EpollEvent
}

// NewEpoll returns a level-triggered epoll poller.
func NewEpoll(capacity int) (Poller, error) {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollLT{
		epfd:   epfd,
		data:   make([]any, capacity),
		events: make([]unix.EpollEvent, capacity),
	}, nil
}

func (p *epollLT) expand(fd int) {
	capacity := len(p.data)
	if capacity > fd {
		return
	}
	for capacity <= fd {
		capacity <<= 1
	}
	data := make([]any, capacity)
	copy(data, p.data)
	p.data = data
}

func (p *epollLT) Associate(fd int, events Events, data any, fired bool) (bool, error) {
	// the kernel still holds the registration; re-arming is a no-op
	if fired {
		return false, nil
	}

	p.expand(fd)
	p.data[fd] = data

	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: uint32(events),
		Fd:     int32(fd),
	})
	if err != nil {
		p.data[fd] = nil
		return false, err
	}
	return false, nil
}

func (p *epollLT) Dissociate(fd int, fired, onclose bool) error {
	if fd < len(p.data) {
		p.data[fd] = nil
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollLT) Unset(fd int, events Events) error {
	// level-triggered: the kernel tracks readiness
	return nil
}

func (p *epollLT) Wait(evts []Event, millis int) (int, error) {
	count := len(evts)
	if count > len(p.events) {
		count = len(p.events)
	}

	n, err := unix.EpollWait(p.epfd, p.events[:count], millis)
	if err != nil {
		return 0, err
	}

	for idx := 0; idx < n; idx++ {
		var data any
		if fd := int(p.events[idx].Fd); fd >= 0 && fd < len(p.data) {
			data = p.data[fd]
		}
		evts[idx] = Event{Events: Events(p.events[idx].Events), Data: data}
	}
	return n, nil
}

func (p *epollLT) Close() error {
	return unix.Close(p.epfd)
}
