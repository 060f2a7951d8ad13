// Package timing keeps per-slot deadlines sorted for a tick driven scheduler.
package timing

// List is a doubly linked list over a fixed arena of entries addressed by
// index. Index Len() is the head sentinel. A detached entry links to itself,
// so membership is a property of the entry, not a search.
type List struct {
	links []link
}

type link struct {
	prev, next int
}

// None is returned by Front/Next at the end of the list.
const None = -1

// NewList creates a list for n entries, all detached.
func NewList(n int) *List {
	l := &List{links: make([]link, n+1)}
	for i := range l.links {
		l.links[i] = link{prev: i, next: i}
	}
	return l
}

// Len returns the number of entries in the arena.
func (l *List) Len() int {
	return len(l.links) - 1
}

func (l *List) head() int {
	return len(l.links) - 1
}

func (l *List) check(i int) {
	if i < 0 || i >= l.head() {
		panic("timing: entry index out of range")
	}
}

// Detached reports whether entry i is not in the list.
func (l *List) Detached(i int) bool {
	l.check(i)
	return l.links[i].next == i
}

// Empty reports whether no entry is in the list.
func (l *List) Empty() bool {
	return l.links[l.head()].next == l.head()
}

// Front returns the first entry or None.
func (l *List) Front() int {
	return l.Next(l.head())
}

// Next returns the entry after i or None.
func (l *List) Next(i int) int {
	if n := l.links[i].next; n != l.head() {
		return n
	}
	return None
}

// InsertBefore links detached entry i in front of at. at may be None to
// append at the tail. Inserting an attached entry panics.
func (l *List) InsertBefore(at, i int) {
	if !l.Detached(i) {
		panic("timing: entry already in list")
	}
	if at == None {
		at = l.head()
	} else if l.Detached(at) {
		panic("timing: insert position not in list")
	}
	prev := l.links[at].prev
	l.links[prev].next = i
	l.links[i] = link{prev: prev, next: at}
	l.links[at].prev = i
}

// Remove detaches entry i. Removing a detached entry is a no-op.
func (l *List) Remove(i int) {
	if l.Detached(i) {
		return
	}
	lnk := l.links[i]
	l.links[lnk.prev].next = lnk.next
	l.links[lnk.next].prev = lnk.prev
	l.links[i] = link{prev: i, next: i}
}

// Count walks the list and returns the number of attached entries.
func (l *List) Count() (n int) {
	for i := l.Front(); i != None; i = l.Next(i) {
		n++
	}
	return
}
