//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// epollETItem is the per-fd readiness record of the edge-triggered backend.
// waiting is what the caller asked to be woken for; fired accumulates every
// edge the kernel has reported since the last unset.
type epollETItem struct {
	fd      int
	waiting Events
	fired   Events
	data    any
}

// epollET is the edge-triggered epoll backend. Each fd is registered exactly
// once with EPOLLIN|EPOLLOUT|EPOLLET and readiness is tracked in user space:
// edge-triggered epoll reports each edge only once, so the fired mask is
// what lets callers keep issuing non-blocking syscalls until EAGAIN without
// re-arming, and lets a later Associate discover the fd is already ready.
//
// The item table is segmented: items[0:fill] is the filled prefix, the fds
// whose fired mask intersects their waiting mask (or Err/Hup) and which can
// therefore be delivered without a kernel round trip. Wait only enters the
// kernel when the prefix is empty. items[fill:used] are watched but not
// ready; index maps fd to its slot.
type epollET struct {
	epfd   int
	fill   int
	used   int
	index  []int
	items  []epollETItem
	events []unix.EpollEvent
}

// NewEpollET returns an edge-triggered epoll poller with user-space
// readiness tracking.
func NewEpollET(capacity int) (Poller, error) {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	p := &epollET{
		epfd:   epfd,
		index:  make([]int, capacity),
		items:  make([]epollETItem, capacity),
		events: make([]unix.EpollEvent, capacity),
	}
	for i := range p.index {
		p.index[i] = -1
	}
	return p, nil
}

func (p *epollET) expand(fd int) {
	capacity := len(p.index)
	if capacity > fd {
		return
	}
	for capacity <= fd {
		capacity <<= 1
	}

	index := make([]int, capacity)
	copy(index, p.index)
	for i := len(p.index); i < capacity; i++ {
		index[i] = -1
	}
	p.index = index

	items := make([]epollETItem, capacity)
	copy(items, p.items)
	p.items = items

	p.events = make([]unix.EpollEvent, capacity)
}

// ready reports whether the item should live in the filled prefix.
func (pi *epollETItem) ready() bool {
	return (pi.waiting|EventError|EventHangup)&pi.fired != 0
}

// promote moves the item at idx into the filled prefix.
func (p *epollET) promote(idx int) {
	if idx > p.fill {
		p.swap(idx, p.fill)
	}
	if idx >= p.fill {
		p.fill++
	}
}

// evict removes the item at idx from the filled prefix, assuming idx < fill.
func (p *epollET) evict(idx int) {
	p.fill--
	if idx < p.fill {
		p.swap(idx, p.fill)
	}
}

func (p *epollET) swap(a, b int) {
	p.index[p.items[a].fd] = b
	p.index[p.items[b].fd] = a
	p.items[a], p.items[b] = p.items[b], p.items[a]
}

func (p *epollET) Associate(fd int, events Events, data any, fired bool) (bool, error) {
	p.expand(fd)

	idx := p.index[fd]
	if idx < 0 {
		idx = p.used
		p.used++
		p.index[fd] = idx

		// a fresh socket starts out writable; seed the fired mask so a
		// first write can skip the kernel round trip
		p.items[idx] = epollETItem{
			fd:      fd,
			waiting: events,
			fired:   EventWrite,
			data:    data,
		}

		err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
			Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLET,
			Fd:     int32(fd),
		})
		if err != nil {
			p.used--
			p.index[fd] = -1
			p.items[idx] = epollETItem{}
			return false, err
		}
	} else {
		p.items[idx].waiting = events
		p.items[idx].data = data
	}

	if p.items[idx].ready() {
		p.promote(idx)
		return true, nil
	}
	return false, nil
}

func (p *epollET) Dissociate(fd int, fired, onclose bool) error {
	if fd >= len(p.index) {
		return nil
	}
	idx := p.index[fd]
	if idx < 0 {
		return nil
	}

	if onclose {
		p.index[fd] = -1

		// pull out of the filled prefix
		if idx < p.fill {
			p.fill--
			if idx < p.fill {
				p.items[idx] = p.items[p.fill]
				p.index[p.items[idx].fd] = idx
				idx = p.fill
			}
		}

		// pull out of the used region
		p.used--
		if idx < p.used {
			p.items[idx] = p.items[p.used]
			p.index[p.items[idx].fd] = idx
		}
		p.items[p.used] = epollETItem{}

		return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}

	// the registration stays; just stop delivering
	p.items[idx].waiting = 0
	if idx < p.fill {
		p.evict(idx)
	}
	return nil
}

func (p *epollET) Unset(fd int, events Events) error {
	if fd >= len(p.index) {
		return nil
	}
	idx := p.index[fd]
	if idx < 0 {
		return nil
	}

	pi := &p.items[idx]
	pi.fired &^= events

	if idx < p.fill && !pi.ready() {
		p.evict(idx)
	}
	return nil
}

func (p *epollET) Wait(evts []Event, millis int) (int, error) {
	// only enter the kernel when no synthetic events are pending
	if p.fill == 0 {
		n, err := unix.EpollWait(p.epfd, p.events, millis)
		if err != nil {
			return 0, err
		}

		for cur := 0; cur < n; cur++ {
			fd := int(p.events[cur].Fd)
			if fd < 0 || fd >= len(p.index) {
				continue
			}
			idx := p.index[fd]
			if idx < 0 {
				continue
			}
			pi := &p.items[idx]
			pi.fired |= Events(p.events[cur].Events)

			if idx >= p.fill && pi.ready() {
				p.promote(idx)
			}
		}
	}

	count := len(evts)
	if count > p.fill {
		count = p.fill
	}

	for idx := 0; idx < count; idx++ {
		pi := &p.items[idx]
		evts[idx] = Event{
			Events: (pi.waiting | EventError | EventHangup) & pi.fired,
			Data:   pi.data,
		}
	}
	return count, nil
}

func (p *epollET) Close() error {
	return unix.Close(p.epfd)
}
