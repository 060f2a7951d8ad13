package framework

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/mr.go/pkg/task"
)

// Loop is the mainline. Every iteration runs controllers by priority: task
// clocks are advanced at PrLvTick and queued events are dispatched at
// PrLvDispatch.
type Loop struct {
	// Interval is the period of iterations.
	Interval time.Duration
	// TickUnit is the duration of one scheduler tick.
	TickUnit time.Duration
	// ExternalTick disables ticking tasks from the loop, for boards where a
	// timer interrupt calls Task.Tick.
	ExternalTick bool

	controllers [PriorityLevels]controllerList
	runners     []Runnable

	tasksLock sync.RWMutex
	tasks     []*task.Task

	// iterLock is held for a whole iteration.
	iterLock sync.Mutex

	cmdLock sync.Mutex
	cmds    []func()
	running bool

	lastTick time.Time
	carry    time.Duration

	wakeUpCh chan struct{}
	once     sync.Once
}

// LoopAdder provides specific logic to add components to loop.
type LoopAdder interface {
	AddToLoop(*Loop)
}

type loopCtl struct {
	*Loop
}

type loopIteration struct {
	loopCtl
	ctx           context.Context
	time          time.Time
	ticks         uint32
	priorityLevel int
}

type controllerList struct {
	preHooks    []Controller
	controllers []Controller
	postHooks   []Controller
	lock        sync.Mutex
}

var (
	loopCtxKey = &Loop{}
)

// LoopCtlFrom gets LoopControl from context.
func LoopCtlFrom(ctx context.Context) LoopControl {
	return ctx.Value(loopCtxKey).(LoopControl)
}

// LoopCtlOf is LoopCtlFrom for contexts which may not carry a loop.
func LoopCtlOf(ctx context.Context) (LoopControl, bool) {
	ctl, ok := ctx.Value(loopCtxKey).(LoopControl)
	return ctl, ok
}

// CtlCtxFrom gets ControlContext from context.
func CtlCtxFrom(ctx context.Context) ControlContext {
	return ctx.Value(loopCtxKey).(ControlContext)
}

// NewLoop creates a Loop.
func NewLoop() *Loop {
	return &Loop{
		Interval: 10 * time.Millisecond,
		TickUnit: time.Millisecond,
	}
}

func (l *Loop) init() {
	l.once.Do(func() {
		l.wakeUpCh = make(chan struct{}, 1)
		l.AddController(PrLvTick, ControlFunc(l.runCommands))
		l.AddController(PrLvTick, ControlFunc(l.tickTasks))
		l.AddController(PrLvDispatch, ControlFunc(l.dispatchTasks))
	})
}

// Add adds LoopAdders.
func (l *Loop) Add(adders ...LoopAdder) *Loop {
	for _, adder := range adders {
		adder.AddToLoop(l)
	}
	return l
}

// AddTask schedules tasks on the loop.
func (l *Loop) AddTask(tasks ...*task.Task) *Loop {
	l.tasksLock.Lock()
	l.tasks = append(l.tasks, tasks...)
	l.tasksLock.Unlock()
	return l
}

// RemoveTask stops scheduling t. It waits for the running iteration, so
// t is no longer used by the loop once it returns. It must not be called
// from the mainline.
func (l *Loop) RemoveTask(t *task.Task) {
	l.iterLock.Lock()
	defer l.iterLock.Unlock()
	l.tasksLock.Lock()
	defer l.tasksLock.Unlock()
	for n, tsk := range l.tasks {
		if tsk == t {
			l.tasks = append(l.tasks[:n], l.tasks[n+1:]...)
			return
		}
	}
}

// Tasks returns the scheduled tasks.
func (l *Loop) Tasks() []*task.Task {
	l.tasksLock.RLock()
	defer l.tasksLock.RUnlock()
	return append([]*task.Task(nil), l.tasks...)
}

// AddController registers controllers to the loop.
func (l *Loop) AddController(priorityLevel int, ctls ...Controller) *Loop {
	lst := &l.controllers[priorityLevel]
	lst.lock.Lock()
	lst.controllers = append(lst.controllers, ctls...)
	lst.lock.Unlock()
	for _, ctl := range ctls {
		if runner, ok := ctl.(Runnable); ok {
			l.runners = append(l.runners, runner)
		}
	}
	return l
}

// AddRunnable adds Runnable implementions started with the loop.
func (l *Loop) AddRunnable(runnables ...Runnable) *Loop {
	l.runners = append(l.runners, runnables...)
	return l
}

// Run implements Runnable.
func (l *Loop) Run(ctx context.Context) error {
	l.init()

	runner := NewRunnerWith(context.WithValue(ctx, loopCtxKey, &loopCtl{l}))
	l.setRunning(true)
	runner.Go(l.runners...)
	defer runner.Wait()
	// runners still calling Exec while stopping get their commands run
	// before they are waited for.
	defer l.setRunning(false)

	interval := l.Interval
	if interval == 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	l.lastTick = time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			l.RunIteration(ctx, now)
		case <-l.wakeUpCh:
			l.RunIteration(ctx, time.Now())
		}
	}
}

// RunOrFail is intended to be used in main to simply run the loop.
func (l *Loop) RunOrFail(ctx context.Context) {
	if err := l.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalln(err)
	}
}

// PreRunAt implements LoopControl.
func (l *Loop) PreRunAt(priorityLevel int, hooks ...Controller) {
	lst := &l.controllers[priorityLevel]
	lst.lock.Lock()
	lst.preHooks = append(lst.preHooks, hooks...)
	lst.lock.Unlock()
}

// PostRunAt implements LoopControl.
func (l *Loop) PostRunAt(priorityLevel int, hooks ...Controller) {
	lst := &l.controllers[priorityLevel]
	lst.lock.Lock()
	lst.postHooks = append(lst.postHooks, hooks...)
	lst.lock.Unlock()
}

// TriggerNext implements LoopControl. It is safe to call from interrupt
// sources after posting an event.
func (l *Loop) TriggerNext() {
	l.init()
	select {
	case l.wakeUpCh <- struct{}{}:
	default:
	}
}

// Exec runs fn on the mainline: it is queued for the next iteration and
// the loop is triggered. Commands run at PrLvTick before the tasks are
// ticked, in the order they are queued. If the loop is not running, fn is
// called right away. Use it for task operations which belong to the
// mainline, e.g. TransitionState, from other goroutines.
func (l *Loop) Exec(fn func()) {
	l.cmdLock.Lock()
	if !l.running {
		l.cmdLock.Unlock()
		fn()
		return
	}
	l.cmds = append(l.cmds, fn)
	l.cmdLock.Unlock()
	l.TriggerNext()
}

// Call is Exec waiting for the result of fn. It must not be called from
// the mainline.
func (l *Loop) Call(fn func() error) error {
	errCh := make(chan error, 1)
	l.Exec(func() { errCh <- fn() })
	return <-errCh
}

func (l *Loop) setRunning(running bool) {
	l.cmdLock.Lock()
	l.running = running
	cmds := l.cmds
	l.cmds = nil
	l.cmdLock.Unlock()
	// commands queued but not run when the loop stops still run, so
	// Call never hangs.
	for _, fn := range cmds {
		fn()
	}
}

func (l *Loop) runCommands(ControlContext) error {
	l.cmdLock.Lock()
	cmds := l.cmds
	l.cmds = nil
	l.cmdLock.Unlock()
	for _, fn := range cmds {
		fn()
	}
	return nil
}

// RunIteration runs a single iteration as if it started at now.
// Run calls it, tests and single stepping tools may call it directly.
func (l *Loop) RunIteration(ctx context.Context, now time.Time) {
	l.init()
	l.iterLock.Lock()
	defer l.iterLock.Unlock()
	iter := &loopIteration{loopCtl: loopCtl{l}, time: now, ticks: l.elapsedTicks(now)}
	iter.ctx = context.WithValue(ctx, loopCtxKey, iter)
	for i := 0; i < PriorityLevels; i++ {
		iter.priorityLevel = i
		l.controllers[i].run(iter)
	}
}

// elapsedTicks converts the time since the previous iteration to ticks,
// keeping the remainder for the next one.
func (l *Loop) elapsedTicks(now time.Time) uint32 {
	unit := l.TickUnit
	if unit <= 0 {
		unit = time.Millisecond
	}
	if l.lastTick.IsZero() {
		l.lastTick = now
		return 0
	}
	elapsed := now.Sub(l.lastTick) + l.carry
	l.lastTick = now
	if elapsed <= 0 {
		l.carry = 0
		return 0
	}
	ticks := elapsed / unit
	if ticks > math.MaxUint32 {
		l.carry = 0
		return math.MaxUint32
	}
	l.carry = elapsed - ticks*unit
	return uint32(ticks)
}

func (l *Loop) tickTasks(cc ControlContext) error {
	ticks := cc.Ticks()
	if l.ExternalTick || ticks == 0 {
		return nil
	}
	for _, t := range l.Tasks() {
		for remain := ticks; remain > 0; {
			delta := remain
			if delta > maxTickDelta {
				delta = maxTickDelta
			}
			t.Tick(delta)
			remain -= delta
		}
	}
	return nil
}

const maxTickDelta = 1<<31 - 1

func (l *Loop) dispatchTasks(ControlContext) error {
	for _, t := range l.Tasks() {
		t.Dispatch()
	}
	return nil
}

func (t *loopIteration) Context() context.Context {
	return t.ctx
}

func (t *loopIteration) Time() time.Time {
	return t.time
}

func (t *loopIteration) Ticks() uint32 {
	return t.ticks
}

func (t *loopIteration) PriorityLevel() int {
	return t.priorityLevel
}

func (t *loopIteration) PostRun(hooks ...Controller) {
	t.PostRunAt(t.priorityLevel, hooks...)
}

func (c *controllerList) run(iter *loopIteration) {
	c.lock.Lock()
	ctls := c.preHooks
	c.preHooks = nil
	c.lock.Unlock()
	runControllers(iter, ctls)
	c.lock.Lock()
	ctls = c.controllers
	c.lock.Unlock()
	runControllers(iter, ctls)
	c.lock.Lock()
	ctls, c.postHooks = c.postHooks, nil
	c.lock.Unlock()
	runControllers(iter, ctls)
}

func runControllers(iter *loopIteration, ctls []Controller) {
	for _, ctl := range ctls {
		if err := ctl.Control(iter); err != nil {
			glog.Errorf("controller error: %v", err)
		}
	}
}
