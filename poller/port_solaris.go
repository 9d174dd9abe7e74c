//go:build solaris

package poller

import (
	"golang.org/x/sys/unix"
)

// portPoller is the event ports backend. The API is inherently one-shot:
// the port drops an fd's association when its event is delivered, so
// Associate always re-registers (the runtime's fired hint exists precisely
// for this) and Dissociate after a fired event has nothing left to do.
type portPoller struct {
	port   *unix.EventPort
	events []unix.PortEvent
}

// NewPort returns an event-ports-backed poller.
func NewPort(capacity int) (Poller, error) {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	port, err := unix.NewEventPort()
	if err != nil {
		return nil, err
	}
	return &portPoller{
		port:   port,
		events: make([]unix.PortEvent, capacity),
	}, nil
}

func (p *portPoller) Associate(fd int, events Events, data any, fired bool) (bool, error) {
	// delivery dissociated the fd, so a fired re-arm re-registers it
	return false, p.port.AssociateFd(uintptr(fd), int(events), data)
}

func (p *portPoller) Dissociate(fd int, fired, onclose bool) error {
	if fired || !p.port.FdIsWatched(uintptr(fd)) {
		return nil
	}
	return p.port.DissociateFd(uintptr(fd))
}

func (p *portPoller) Unset(fd int, events Events) error {
	// one-shot semantics leave nothing cached to clear
	return nil
}

func (p *portPoller) Wait(evts []Event, millis int) (int, error) {
	count := len(evts)
	if count > len(p.events) {
		count = len(p.events)
	}

	timeout := unix.NsecToTimespec(int64(millis) * 1e6)

	n, err := p.port.Get(p.events[:count], 1, &timeout)
	if err != nil && err != unix.ETIME {
		return 0, err
	}

	for idx := 0; idx < n; idx++ {
		evts[idx] = Event{
			Events: Events(p.events[idx].Events),
			Data:   p.events[idx].Cookie,
		}
	}
	return n, nil
}

func (p *portPoller) Close() error {
	return p.port.Close()
}
