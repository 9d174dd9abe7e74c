//go:build linux

package poller

func newDefault(capacity int) (Poller, error) {
	return NewEpollET(capacity)
}
