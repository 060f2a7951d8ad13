package timing

// HalfRange is the wraparound window: a deadline is due while the current
// tick is less than HalfRange ticks past it.
const HalfRange uint32 = 1 << 31

// Due reports whether deadline has been reached at tick now.
func Due(now, deadline uint32) bool {
	return now-deadline < HalfRange
}

// Before reports whether deadline a comes strictly before b. Both must lie
// within HalfRange of each other.
func Before(a, b uint32) bool {
	return int32(a-b) < 0
}

// Entry is the timing state of one slot.
type Entry struct {
	// Interval is the re-arm period, 0 for one-shot.
	Interval uint32
	// Deadline is the tick at which the entry fires.
	Deadline uint32
}

// Timeouts keeps armed entries sorted by deadline.
// It does no locking, callers mask interrupts around mutations.
type Timeouts struct {
	list    *List
	entries []Entry
}

// NewTimeouts creates Timeouts for n slots.
func NewTimeouts(n int) *Timeouts {
	return &Timeouts{list: NewList(n), entries: make([]Entry, n)}
}

// Len returns the number of slots.
func (t *Timeouts) Len() int {
	return len(t.entries)
}

// Entry returns the timing state of slot i.
func (t *Timeouts) Entry(i int) Entry {
	return t.entries[i]
}

// Armed reports whether slot i is waiting to fire.
func (t *Timeouts) Armed(i int) bool {
	return !t.list.Detached(i)
}

// Pending returns armed slots in firing order.
func (t *Timeouts) Pending() []int {
	var res []int
	for i := t.list.Front(); i != None; i = t.list.Next(i) {
		res = append(res, i)
	}
	return res
}

// Disarm removes slot i from the list, no-op if not armed.
func (t *Timeouts) Disarm(i int) {
	t.list.Remove(i)
}

// Arm (re)schedules slot i to fire delay ticks after now.
// A zero delay only disarms.
func (t *Timeouts) Arm(i int, now, delay uint32, periodic bool) {
	t.list.Remove(i)
	if delay == 0 {
		return
	}
	e := &t.entries[i]
	e.Interval = 0
	if periodic {
		e.Interval = delay
	}
	e.Deadline = now + delay
	t.insert(i)
}

// insert places i before the first entry with a strictly later deadline,
// so equal deadlines keep arming order.
func (t *Timeouts) insert(i int) {
	deadline := t.entries[i].Deadline
	at := t.list.Front()
	for ; at != None; at = t.list.Next(at) {
		if Before(deadline, t.entries[at].Deadline) {
			break
		}
	}
	t.list.InsertBefore(at, i)
}

// Expire detaches every entry due at now, in deadline order, and calls fire
// for each. Periodic entries are re-armed at now + Interval before fire is
// called. Scanning stops at the first entry not yet due.
func (t *Timeouts) Expire(now uint32, fire func(int)) (count int) {
	for {
		i := t.list.Front()
		if i == None || !Due(now, t.entries[i].Deadline) {
			return
		}
		t.list.Remove(i)
		if interval := t.entries[i].Interval; interval != 0 {
			t.entries[i].Deadline = now + interval
			t.insert(i)
		}
		count++
		if fire != nil {
			fire(i)
		}
	}
}
