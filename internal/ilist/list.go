// Package ilist implements an intrusive circular doubly-linked list.
//
// The list is a sentinel Entry whose prev/next point at itself when empty.
// Entries are embedded in (or owned by) the values they chain, so pushing and
// popping never allocates. The Owner back-reference stands in for the
// container-of pointer arithmetic this structure is usually paired with.
package ilist

// Entry is a list node, and doubles as the list head (sentinel).
type Entry struct {
	prev, next *Entry

	// Owner is the value this entry is embedded in. It is nil on sentinels
	// and is set once, when the owning value is created.
	Owner any
}

// Init makes e an empty list (both links pointing at itself).
func (e *Entry) Init() {
	e.prev = e
	e.next = e
}

// Empty reports whether the list headed by e has no entries.
func (e *Entry) Empty() bool {
	return e.next == e
}

// After returns the entry following e.
func (e *Entry) After() *Entry {
	return e.next
}

// Before returns the entry preceding e.
func (e *Entry) Before() *Entry {
	return e.prev
}

// InsertAfter links ent directly after e.
func (e *Entry) InsertAfter(ent *Entry) {
	ent.prev = e
	ent.next = e.next
	e.next.prev = ent
	e.next = ent
}

// InsertBefore links ent directly before e.
func (e *Entry) InsertBefore(ent *Entry) {
	ent.next = e
	ent.prev = e.prev
	e.prev.next = ent
	e.prev = ent
}

// Remove unlinks ent from whatever list it is on. Removing an unlinked entry
// is undefined.
func (ent *Entry) Remove() {
	ent.prev.next = ent.next
	ent.next.prev = ent.prev
	ent.prev = nil
	ent.next = nil
}

// RemoveAfter unlinks and returns the entry following e, or nil if the list
// is empty.
func (e *Entry) RemoveAfter() *Entry {
	if e.Empty() {
		return nil
	}
	ent := e.next
	ent.Remove()
	return ent
}
