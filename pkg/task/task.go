// Package task provides a cooperative, event driven scheduler.
//
// A Task owns a table of slots. Interrupt sources post (slot, event) pairs to
// the task's event queue, a tick source advances the task's clock which fires
// slot timers, and the mainline loop calls Dispatch to deliver queued events
// to slot callbacks. One slot at a time may be the current state of a state
// machine overlaid on the same queue.
//
// PostEvent may be called from any context. Dispatch, TransitionState and the
// lifecycle calls belong to the mainline, other goroutines hand them to it
// (see framework.Loop.Exec). The state machine is read and written with
// interrupts masked, so a stray off-mainline TransitionState is not a data
// race, but it may let the new state see STATE_ACTIVE first. Tick and Timing
// may run on different contexts, the run list is updated with interrupts
// masked and concurrent Ticks are serialized.
package task

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/robotalks/mr.go/pkg/irq"
	"github.com/robotalks/mr.go/pkg/object"
	"github.com/robotalks/mr.go/pkg/ringbuf"
	"github.com/robotalks/mr.go/pkg/timing"
)

// Callback handles an event delivered to a slot. Use t.Event() to get the
// event. It must not block. It may call PostEvent, Timing and
// TransitionState on t.
type Callback func(t *Task, args interface{}) error

// Slot is one entry of a task table.
type Slot struct {
	Callback Callback
	Args     interface{}
}

// Mode selects how a slot timer re-arms.
type Mode int

// Timer modes.
const (
	Oneshot Mode = iota
	Periodic
)

// MaxSlots is the maximum size of a task table.
const MaxSlots = math.MaxUint8

// Task is the scheduler. The zero value is ready for Add.
type Task struct {
	// Registry receives the task name, defaults to object.Default().
	Registry object.Registry
	// Guard masks interrupts around clock, run list and state machine
	// updates, defaults to irq.NewGuard().
	Guard irq.Guard
	// Config is read by Add, defaults to Default().
	Config *Config

	name       string
	added      bool
	active     atomic.Bool
	trackUsage bool

	smActive bool
	sm       int
	event    Event

	tick     uint32
	timeouts *timing.Timeouts
	tickLock sync.Mutex
	fired    []int

	queue     *ringbuf.Buffer
	postLock  sync.Mutex
	usagePeak atomic.Int32

	table []Slot
}

func ioErrorCallback(*Task, interface{}) error {
	return ErrIO
}

// Find looks up a task in the default registry.
func Find(name string) *Task {
	return FindIn(object.Default(), name)
}

// FindIn looks up a task in reg.
func FindIn(reg object.Registry, name string) *Task {
	if t, ok := reg.Find(name, object.KindTask).(*Task); ok {
		return t
	}
	return nil
}

// Add binds table to the task, allocates an event queue for queueSize
// events and registers the task under name. The task starts stopped.
// Slots without a callback get one which fails with ErrIO.
// On failure nothing is registered and nothing is retained.
func (t *Task) Add(name string, table []Slot, queueSize int) error {
	if t.added {
		glog.Errorf("[%s] add failed: already added as %q", name, t.name)
		return ErrInvalid
	}
	if len(table) == 0 || len(table) > MaxSlots || queueSize <= 0 {
		glog.Errorf("[%s] add failed: table %d queue %d: %v", name, len(table), queueSize, ErrInvalid)
		return ErrInvalid
	}
	conf := t.Config
	if conf == nil {
		conf = Default()
	}
	size := queueSize * recordSize
	if size > conf.MaxQueueBytes {
		glog.Errorf("[%s] add failed: queue %d bytes: %v", name, size, ErrNoMemory)
		return ErrNoMemory
	}
	if t.Registry == nil {
		t.Registry = object.Default()
	}
	if t.Guard == nil {
		t.Guard = irq.NewGuard()
	}
	if err := t.Registry.Add(t, name, object.KindTask); err != nil {
		glog.Errorf("[%s] add failed: %v", name, err)
		return err
	}

	t.name = name
	t.trackUsage = conf.TrackUsage
	t.queue = ringbuf.NewWith(make([]byte, size), nil)
	t.timeouts = timing.NewTimeouts(len(table))
	t.fired = make([]int, 0, len(table))
	for n := range table {
		if table[n].Callback == nil {
			table[n].Callback = ioErrorCallback
		}
	}
	t.table = table
	t.reset()
	t.added = true
	glog.V(2).Infof("[%s] added: %d slots, %d events", name, len(table), queueSize)
	return nil
}

// Remove deregisters the task and releases everything it owns.
func (t *Task) Remove() error {
	t.mustBeAdded()
	if err := t.Registry.Remove(t); err != nil {
		glog.Errorf("[%s] remove failed: %v", t.name, err)
		return err
	}
	glog.V(2).Infof("[%s] removed", t.name)
	t.reset()
	t.name = ""
	t.added = false
	t.queue = nil
	t.timeouts = nil
	t.fired = nil
	t.table = nil
	return nil
}

func (t *Task) reset() {
	t.active.Store(false)
	t.smActive = false
	t.sm = 0
	t.event = 0
	t.tick = 0
	t.usagePeak.Store(0)
}

func (t *Task) mustBeAdded() {
	if !t.added {
		panic("task: not added")
	}
}

// Name returns the registered name.
func (t *Task) Name() string {
	return t.name
}

// Len returns the number of slots.
func (t *Task) Len() int {
	return len(t.table)
}

// Start activates the task.
func (t *Task) Start() {
	t.mustBeAdded()
	t.active.Store(true)
}

// Stop deactivates the task. Ticks received while stopped are lost.
func (t *Task) Stop() {
	t.mustBeAdded()
	t.active.Store(false)
}

// Active reports whether the task is started.
func (t *Task) Active() bool {
	return t.active.Load()
}

func (t *Task) validate(op string, index int, arg interface{}) error {
	if index < 0 || index >= len(t.table) {
		glog.Errorf("[%s -> %d] %s [%v] failed: %v", t.name, index, op, arg, ErrInvalid)
		return ErrInvalid
	}
	if !t.active.Load() {
		glog.Errorf("[%s -> %d] %s [%v] failed: %v", t.name, index, op, arg, ErrNotActive)
		return ErrNotActive
	}
	return nil
}

// PostEvent queues ev for slot index. It fails with ErrBusy if the queue is
// full, the event is dropped.
func (t *Task) PostEvent(index int, ev Event) error {
	t.mustBeAdded()
	if err := t.validate("post", index, ev); err != nil {
		return err
	}

	var rec [recordSize]byte
	encodeRecord(rec[:], index, ev)
	// producers are serialized so records never interleave and a record is
	// either queued whole or not at all.
	t.postLock.Lock()
	ok := t.queue.SpaceSize() >= recordSize && t.queue.Write(rec[:]) == recordSize
	t.postLock.Unlock()
	if !ok {
		glog.Errorf("[%s -> %d] post [%v] failed: %v", t.name, index, ev, ErrBusy)
		return ErrBusy
	}

	if t.trackUsage {
		usage := int32(t.Usage())
		for {
			peak := t.usagePeak.Load()
			if usage <= peak || t.usagePeak.CompareAndSwap(peak, usage) {
				break
			}
		}
	}
	return nil
}

// Timing arms the timer of slot index to deliver EventTiming after delay
// ticks, once or every delay ticks. A zero delay cancels the timer.
// Delays must be below timing.HalfRange.
func (t *Task) Timing(index int, delay uint32, mode Mode) error {
	t.mustBeAdded()
	if mode != Oneshot && mode != Periodic {
		panic("task: invalid timing mode")
	}
	if err := t.validate("timing", index, delay); err != nil {
		return err
	}
	if delay >= timing.HalfRange {
		glog.Errorf("[%s -> %d] timing [%d] failed: %v", t.name, index, delay, ErrInvalid)
		return ErrInvalid
	}
	t.Guard.Disable()
	t.timeouts.Arm(index, t.tick, delay, mode == Periodic)
	t.Guard.Enable()
	return nil
}

// TimingState returns the timer of slot index.
func (t *Task) TimingState(index int) (entry timing.Entry, armed bool) {
	t.mustBeAdded()
	t.Guard.Disable()
	defer t.Guard.Enable()
	return t.timeouts.Entry(index), t.timeouts.Armed(index)
}

// Tick advances the clock by delta and posts EventTiming for every slot
// timer which became due. delta must be in (0, timing.HalfRange).
// It does nothing while the task is stopped.
func (t *Task) Tick(delta uint32) {
	t.mustBeAdded()
	if delta == 0 || delta >= timing.HalfRange {
		panic("task: tick delta out of range")
	}
	if !t.active.Load() {
		return
	}

	t.tickLock.Lock()
	defer t.tickLock.Unlock()
	t.Guard.Disable()
	t.tick += delta
	t.fired = t.fired[:0]
	t.timeouts.Expire(t.tick, func(index int) {
		t.fired = append(t.fired, index)
	})
	t.Guard.Enable()

	for _, index := range t.fired {
		t.PostEvent(index, EventTiming)
	}
}

// CurrentTick returns the clock.
func (t *Task) CurrentTick() uint32 {
	t.mustBeAdded()
	t.Guard.Disable()
	defer t.Guard.Enable()
	return t.tick
}

// Dispatch delivers the events queued when it is called. Events posted by
// the callbacks meanwhile are left for the next call. If a state machine is
// running, its current slot then receives one EventStateActive.
func (t *Task) Dispatch() {
	t.mustBeAdded()
	if !t.active.Load() {
		return
	}

	var rec [recordSize]byte
	for count := t.queue.DataSize(); count >= recordSize; count -= recordSize {
		if t.queue.Read(rec[:]) != recordSize {
			break
		}
		index, ev := decodeRecord(rec[:])
		t.invoke(index, ev)
	}

	if index, ok := t.State(); ok {
		t.invoke(index, EventStateActive)
	}
}

func (t *Task) invoke(index int, ev Event) {
	t.event = ev
	slot := &t.table[index]
	if err := slot.Callback(t, slot.Args); err != nil {
		glog.Errorf("[%s -> %d] handle [%v] failed: %v", t.name, index, ev, err)
	}
}

// Event returns the event being dispatched.
func (t *Task) Event() Event {
	return t.event
}

// TransitionState makes slot index the current state. The current state,
// if any, is posted EventStateExit, then index is posted EventStateEnter.
// The transition always happens once arguments are valid, the first queue
// error, if any, is returned. When the queue is full (ErrBusy) the state
// machine is still switched to index, which then gets EventStateActive from
// the next Dispatch without ever getting EventStateEnter. Likewise the old
// state misses its EventStateExit.
func (t *Task) TransitionState(index int) error {
	t.mustBeAdded()
	if err := t.validate("transition", index, "state"); err != nil {
		return err
	}
	t.Guard.Disable()
	defer t.Guard.Enable()
	var err error
	if t.smActive {
		err = t.PostEvent(t.sm, EventStateExit)
	}
	t.sm = index
	if e := t.PostEvent(index, EventStateEnter); err == nil {
		err = e
	}
	t.smActive = true
	return err
}

// State returns the current state slot.
func (t *Task) State() (index int, ok bool) {
	t.Guard.Disable()
	defer t.Guard.Enable()
	return t.sm, t.smActive
}

// Usage returns the queue usage in percent.
func (t *Task) Usage() int {
	t.mustBeAdded()
	size := t.queue.Size()
	if size == 0 {
		return 0
	}
	return t.queue.DataSize() * 100 / size
}

// UsagePeak returns the highest usage seen by PostEvent.
func (t *Task) UsagePeak() int {
	return int(t.usagePeak.Load())
}

// QueueLen returns the number of queued events.
func (t *Task) QueueLen() int {
	t.mustBeAdded()
	return t.queue.DataSize() / recordSize
}
