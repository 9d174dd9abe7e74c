//go:build unix

package poller

import (
	"golang.org/x/sys/unix"
)

// pollIndex maps an fd to its slot in the dense pollfd array, plus the
// caller's data for that fd. idx is -1 when the fd is not associated.
type pollIndex struct {
	idx  int
	data any
}

// pollsys is the classical poll(2) backend: a dense pollfd array scanned by
// the kernel on every wait, with swap-remove dissociation. Level-triggered,
// portable, O(n) per wait.
type pollsys struct {
	index []pollIndex
	pfds  []unix.PollFd
}

// NewPoll returns a poll(2)-backed poller.
func NewPoll(capacity int) (Poller, error) {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	p := &pollsys{
		index: make([]pollIndex, capacity),
		pfds:  make([]unix.PollFd, 0, capacity),
	}
	for i := range p.index {
		p.index[i].idx = -1
	}
	return p, nil
}

// expand grows the fd index table, doubling until fd fits. New slots are
// marked absent.
func (p *pollsys) expand(fd int) {
	capacity := len(p.index)
	if capacity > fd {
		return
	}
	for capacity <= fd {
		capacity <<= 1
	}
	index := make([]pollIndex, capacity)
	copy(index, p.index)
	for i := len(p.index); i < capacity; i++ {
		index[i].idx = -1
	}
	p.index = index
}

func (p *pollsys) Associate(fd int, events Events, data any, fired bool) (bool, error) {
	// the registration persists across events; re-arming is a no-op
	if fired {
		return false, nil
	}

	p.expand(fd)

	idx := p.index[fd].idx
	if idx < 0 {
		idx = len(p.pfds)
		p.pfds = append(p.pfds, unix.PollFd{})
		p.index[fd].idx = idx
	}
	p.index[fd].data = data

	p.pfds[idx] = unix.PollFd{Fd: int32(fd), Events: int16(events)}
	return false, nil
}

func (p *pollsys) Dissociate(fd int, fired, onclose bool) error {
	if fd >= len(p.index) {
		return nil
	}
	idx := p.index[fd].idx
	if idx < 0 {
		return nil
	}

	p.index[fd].idx = -1
	p.index[fd].data = nil

	last := len(p.pfds) - 1
	if idx < last {
		p.pfds[idx] = p.pfds[last]
		p.index[p.pfds[idx].Fd].idx = idx
	}
	p.pfds = p.pfds[:last]

	return nil
}

func (p *pollsys) Unset(fd int, events Events) error {
	// the kernel re-evaluates readiness on every wait
	return nil
}

func (p *pollsys) Wait(evts []Event, millis int) (int, error) {
	n, err := unix.Poll(p.pfds, millis)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, nil
	}

	if len(evts) < n {
		n = len(evts)
	}

	cnt := 0
	for idx := 0; idx < len(p.pfds) && cnt < n; idx++ {
		if re := p.pfds[idx].Revents; re != 0 {
			evts[cnt] = Event{
				Events: Events(uint16(re)),
				Data:   p.index[p.pfds[idx].Fd].data,
			}
			cnt++
		}
	}
	return cnt, nil
}

func (p *pollsys) Close() error {
	p.index = nil
	p.pfds = nil
	return nil
}
