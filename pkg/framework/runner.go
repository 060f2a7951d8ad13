package framework

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/golang/glog"
)

type namedRunnable struct {
	Runnable
	name string
}

func (r *namedRunnable) Name() string {
	return r.name
}

// NamedRun gives runnable a name for logs and errors.
func NamedRun(name string, runnable Runnable) Runnable {
	return &namedRunnable{name: name, Runnable: runnable}
}

// Runner runs Runnables in goroutines. Failures are wrapped with the name
// of the Runnable and collected by Wait.
type Runner struct {
	Context context.Context
	Runners []Runnable

	wg      sync.WaitGroup
	lock    sync.Mutex
	errs    AggregatedError
	running map[string]bool
	exitCh  chan struct{}
}

// NewRunner creates a runner on context.Background.
func NewRunner() *Runner {
	return NewRunnerWith(context.Background())
}

// NewRunnerWith creates a runner on ctx.
func NewRunnerWith(ctx context.Context) *Runner {
	return &Runner{
		Context: ctx,
		running: make(map[string]bool),
		exitCh:  make(chan struct{}),
	}
}

// HandleSignals cancels the context on SIGINT or SIGTERM. A second signal
// makes Wait give up.
func (r *Runner) HandleSignals() *Runner {
	ctx, cancel := context.WithCancel(r.Context)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	r.Context = ctx
	go func() {
		<-sigCh
		glog.Info("stop requested")
		cancel()
		<-sigCh
		glog.Errorf("stop requested again, force exit, running: %s", strings.Join(r.Running(), ", "))
		close(r.exitCh)
	}()
	return r
}

// Go spawns Runnables on the runner context.
func (r *Runner) Go(runners ...Runnable) *Runner {
	return r.GoWith(r.Context, runners...)
}

// GoWith spawns Runnables on ctx.
func (r *Runner) GoWith(ctx context.Context, runners ...Runnable) *Runner {
	for _, runner := range runners {
		name := strconv.Itoa(len(r.Runners))
		if named, ok := runner.(Named); ok {
			name = named.Name()
		}
		r.Runners = append(r.Runners, runner)
		r.lock.Lock()
		r.running[name] = true
		r.lock.Unlock()
		r.wg.Add(1)
		go r.run(ctx, runner, name)
	}
	return r
}

func (r *Runner) run(ctx context.Context, runner Runnable, name string) {
	defer r.wg.Done()
	glog.V(4).Infof("runner %s started", name)
	err := runner.Run(ctx)
	glog.V(4).Infof("runner %s stopped: %v", name, err)
	r.lock.Lock()
	delete(r.running, name)
	if err != nil && err != context.Canceled {
		r.errs.Add(fmt.Errorf("%s: %w", name, err))
	}
	r.lock.Unlock()
}

// Running lists the names of Runnables which have not returned.
func (r *Runner) Running() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	names := make([]string, 0, len(r.running))
	for name := range r.running {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wait waits for all Runnables and returns their failures. Cancellation
// is not a failure.
func (r *Runner) Wait() error {
	doneCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-r.exitCh:
		return fmt.Errorf("forced exit, running: %s", strings.Join(r.Running(), ", "))
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.errs.Aggregate()
}

// RunWithContextCancel runs fn which does not take a context. onCancel
// must make fn return, it is only called when ctx is done first.
func RunWithContextCancel(ctx context.Context, onCancel func(), fn func() error) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- fn()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if onCancel != nil {
		onCancel()
	}
	<-errCh
	return context.Canceled
}

// RunWithContextCloser closes closer when fn returns or ctx is done,
// whichever comes first.
func RunWithContextCloser(ctx context.Context, closer io.Closer, fn func() error) error {
	var once sync.Once
	closeFn := func() { closer.Close() }
	defer once.Do(closeFn)
	return RunWithContextCancel(ctx, func() { once.Do(closeFn) }, fn)
}
