package framework

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/mr.go/pkg/object"
	"github.com/robotalks/mr.go/pkg/task"
)

func newTask(t *testing.T, cb task.Callback) *task.Task {
	tsk := &task.Task{Registry: object.NewContainer()}
	require.NoError(t, tsk.Add("loop", []task.Slot{{Callback: cb}}, 8))
	tsk.Start()
	return tsk
}

func TestLoopTicksAndDispatches(t *testing.T) {
	var events []task.Event
	tsk := newTask(t, func(tsk *task.Task, _ interface{}) error {
		events = append(events, tsk.Event())
		return nil
	})
	require.NoError(t, tsk.Timing(0, 10, task.Periodic))

	l := NewLoop().AddTask(tsk)
	start := time.Unix(100, 0)
	ctx := context.Background()
	l.RunIteration(ctx, start)
	require.Equal(t, uint32(0), tsk.CurrentTick())

	l.RunIteration(ctx, start.Add(9500*time.Microsecond))
	require.Equal(t, uint32(9), tsk.CurrentTick())
	require.Empty(t, events)

	l.RunIteration(ctx, start.Add(10*time.Millisecond))
	require.Equal(t, uint32(10), tsk.CurrentTick())
	require.Equal(t, []task.Event{task.EventTiming}, events)

	l.RemoveTask(tsk)
	l.RunIteration(ctx, start.Add(30*time.Millisecond))
	require.Equal(t, uint32(10), tsk.CurrentTick())
	require.Empty(t, l.Tasks())
}

func TestLoopExternalTick(t *testing.T) {
	tsk := newTask(t, func(*task.Task, interface{}) error { return nil })
	l := NewLoop().AddTask(tsk)
	l.ExternalTick = true
	start := time.Unix(100, 0)
	l.RunIteration(context.Background(), start)
	l.RunIteration(context.Background(), start.Add(time.Second))
	require.Equal(t, uint32(0), tsk.CurrentTick())
}

func TestLoopPriorities(t *testing.T) {
	var order []string
	ctl := func(name string) Controller {
		return ControlFunc(func(cc ControlContext) error {
			order = append(order, name)
			return nil
		})
	}
	tsk := newTask(t, func(*task.Task, interface{}) error {
		order = append(order, "dispatch")
		return nil
	})
	require.NoError(t, tsk.PostEvent(0, 1))

	l := NewLoop().AddTask(tsk)
	l.AddController(PrLvReport, ctl("report"))
	l.AddController(PrLvTop, ControlFunc(func(cc ControlContext) error {
		order = append(order, "top")
		cc.PostRun(ctl("top-post"))
		cc.PreRunAt(PrLvReport, ctl("report-pre"))
		return errors.New("logged only")
	}))
	l.RunIteration(context.Background(), time.Now())
	require.Equal(t, []string{"top", "top-post", "dispatch", "report-pre", "report"}, order)
}

func TestLoopRunTriggerNext(t *testing.T) {
	dispatched := make(chan struct{}, 1)
	tsk := newTask(t, func(*task.Task, interface{}) error {
		select {
		case dispatched <- struct{}{}:
		default:
		}
		return nil
	})
	l := NewLoop().AddTask(tsk)
	l.Interval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.NoError(t, tsk.PostEvent(0, 1))
	l.TriggerNext()
	select {
	case <-dispatched:
	case <-time.After(5 * time.Second):
		t.Fatal("event not dispatched")
	}
	cancel()
	require.Equal(t, context.Canceled, <-done)
}

func TestLoopClampsElapsedTicks(t *testing.T) {
	l := NewLoop()
	l.TickUnit = time.Nanosecond
	l.ExternalTick = true
	var ticks []uint32
	l.AddController(PrLvTop, ControlFunc(func(cc ControlContext) error {
		ticks = append(ticks, cc.Ticks())
		return nil
	}))
	start := time.Unix(100, 0)
	l.RunIteration(context.Background(), start)
	// 10s in nanoseconds does not fit in 32 bits.
	l.RunIteration(context.Background(), start.Add(10*time.Second))
	l.RunIteration(context.Background(), start.Add(10*time.Second+5))
	require.Equal(t, []uint32{0, math.MaxUint32, 5}, ticks)
}

func TestLoopTicksLongGap(t *testing.T) {
	tsk := newTask(t, func(*task.Task, interface{}) error { return nil })
	l := NewLoop().AddTask(tsk)
	l.TickUnit = time.Nanosecond
	start := time.Unix(100, 0)
	l.RunIteration(context.Background(), start)
	l.RunIteration(context.Background(), start.Add(10*time.Second))
	require.Equal(t, uint32(math.MaxUint32), tsk.CurrentTick())
}

func TestLoopExec(t *testing.T) {
	l := NewLoop()
	// not running: called right away.
	var direct bool
	l.Exec(func() { direct = true })
	require.True(t, direct)
	require.Equal(t, errors.New("inline"), l.Call(func() error { return errors.New("inline") }))

	var order []string
	l.AddController(PrLvDispatch, ControlFunc(func(ControlContext) error {
		order = append(order, "dispatch")
		return nil
	}))
	l.Interval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// Call waits for the mainline, so order is only read there.
	require.NoError(t, l.Call(func() error {
		order = append(order, "call")
		return nil
	}))
	var got []string
	require.NoError(t, l.Call(func() error {
		got = append(got, order...)
		return nil
	}))
	require.Equal(t, []string{"call", "dispatch"}, got[:2])
	cancel()
	require.Equal(t, context.Canceled, <-done)

	// stopped again.
	direct = false
	l.Exec(func() { direct = true })
	require.True(t, direct)
}

func TestLoopRemoveTaskWaitsForIteration(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	tsk := newTask(t, func(*task.Task, interface{}) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, tsk.PostEvent(0, 1))
	l := NewLoop().AddTask(tsk)
	iterDone := make(chan struct{})
	go func() {
		l.RunIteration(context.Background(), time.Now())
		close(iterDone)
	}()
	<-started
	removed := make(chan struct{})
	go func() {
		l.RemoveTask(tsk)
		close(removed)
	}()
	select {
	case <-removed:
		t.Fatal("removed during iteration")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-iterDone
	<-removed
	require.Empty(t, l.Tasks())
}

func TestRunnerAggregatesErrors(t *testing.T) {
	errFail := errors.New("fail")
	r := NewRunner().Go(
		NamedRun("ok", RunFunc(func(context.Context) error { return nil })),
		NamedRun("bad", RunFunc(func(context.Context) error { return errFail })),
		RunFunc(func(context.Context) error { return context.Canceled }),
	)
	err := r.Wait()
	require.Error(t, err)
	require.True(t, errors.Is(err, errFail))
	require.Equal(t, "bad: fail", err.Error())
}

type countCloser struct{ closed int }

func (c *countCloser) Close() error {
	c.closed++
	return nil
}

func TestRunnerRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	r := NewRunnerWith(ctx).Go(NamedRun("board", RunFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})))
	<-started
	require.Equal(t, []string{"board"}, r.Running())
	cancel()
	require.NoError(t, r.Wait())
	require.Empty(t, r.Running())
}

func TestRunWithContextCloser(t *testing.T) {
	c := &countCloser{}
	require.Equal(t, errors.New("done"), RunWithContextCloser(context.Background(), c, func() error {
		return errors.New("done")
	}))
	require.Equal(t, 1, c.closed)

	ctx, cancel := context.WithCancel(context.Background())
	c = &countCloser{}
	unblock := make(chan struct{})
	cancel()
	err := RunWithContextCloser(ctx, closerFunc(func() error {
		c.Close()
		close(unblock)
		return nil
	}), func() error {
		<-unblock
		return errors.New("closed")
	})
	require.Equal(t, context.Canceled, err)
	require.Equal(t, 1, c.closed)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
