//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package poller

import (
	"golang.org/x/sys/unix"
)

// kqueueItem records which filters are live for an fd, so dissociation can
// issue matching deletes, plus the caller's data (kqueue's udata cannot
// carry Go values).
type kqueueItem struct {
	read  bool
	write bool
	data  any
}

// kqueuePoller is the kqueue backend: one EV_ADD per requested filter, with
// per-fd bookkeeping of live filters. Registrations persist across events,
// so re-arming is a no-op and the kernel refires on new edges.
type kqueuePoller struct {
	kqfd   int
	items  []kqueueItem
	events []unix.Kevent_t
}

// NewKqueue returns a kqueue-backed poller.
func NewKqueue(capacity int) (Poller, error) {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	kqfd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{
		kqfd:   kqfd,
		items:  make([]kqueueItem, capacity),
		events: make([]unix.Kevent_t, capacity),
	}, nil
}

func (p *kqueuePoller) expand(fd int) {
	capacity := len(p.items)
	if capacity > fd {
		return
	}
	for capacity <= fd {
		capacity <<= 1
	}
	items := make([]kqueueItem, capacity)
	copy(items, p.items)
	p.items = items
	p.events = make([]unix.Kevent_t, capacity)
}

func (p *kqueuePoller) Associate(fd int, events Events, data any, fired bool) (bool, error) {
	// the registration persists across events; re-arming is a no-op
	if fired {
		return false, nil
	}

	p.expand(fd)

	item := p.items[fd]
	item.data = data

	var changes [2]unix.Kevent_t
	nevents := 0

	if events&EventRead != 0 {
		unix.SetKevent(&changes[nevents], fd, unix.EVFILT_READ, unix.EV_ADD)
		item.read = true
		nevents++
	}
	if events&EventWrite != 0 {
		unix.SetKevent(&changes[nevents], fd, unix.EVFILT_WRITE, unix.EV_ADD)
		item.write = true
		nevents++
	}

	if _, err := unix.Kevent(p.kqfd, changes[:nevents], nil, nil); err != nil {
		return false, err
	}

	p.items[fd] = item
	return false, nil
}

func (p *kqueuePoller) Dissociate(fd int, fired, onclose bool) error {
	if fd >= len(p.items) {
		return nil
	}

	if onclose {
		// closing the fd drops its kernel registrations
		p.items[fd] = kqueueItem{}
		return nil
	}

	item := p.items[fd]

	var changes [2]unix.Kevent_t
	nevents := 0

	if item.read {
		unix.SetKevent(&changes[nevents], fd, unix.EVFILT_READ, unix.EV_DELETE)
		nevents++
	}
	if item.write {
		unix.SetKevent(&changes[nevents], fd, unix.EVFILT_WRITE, unix.EV_DELETE)
		nevents++
	}

	if _, err := unix.Kevent(p.kqfd, changes[:nevents], nil, nil); err != nil {
		return err
	}

	p.items[fd] = kqueueItem{}
	return nil
}

func (p *kqueuePoller) Unset(fd int, events Events) error {
	// kqueue retains the registration and refires on new edges
	return nil
}

func (p *kqueuePoller) Wait(evts []Event, millis int) (int, error) {
	count := len(evts)
	if count > len(p.events) {
		count = len(p.events)
	}

	timeout := unix.NsecToTimespec(int64(millis) * 1e6)

	n, err := unix.Kevent(p.kqfd, nil, p.events[:count], &timeout)
	if err != nil {
		return 0, err
	}

	for idx := 0; idx < n; idx++ {
		e := &p.events[idx]

		var events Events
		switch int(e.Filter) {
		case unix.EVFILT_READ:
			events = EventRead
		case unix.EVFILT_WRITE:
			events = EventWrite
		}
		if e.Flags&unix.EV_ERROR != 0 {
			events |= EventError
		}
		if e.Flags&unix.EV_EOF != 0 {
			events |= EventHangup
		}

		var data any
		if fd := int(e.Ident); fd >= 0 && fd < len(p.items) {
			data = p.items[fd].data
		}
		evts[idx] = Event{Events: events, Data: data}
	}
	return n, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kqfd)
}
