// Package autoinit runs registered initializers in stages.
//
// Drivers, devices and application modules register themselves, typically
// from an init func, and the board calls Run once at startup.
package autoinit

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/golang/glog"

	fx "github.com/robotalks/mr.go/pkg/framework"
)

// Stage orders initializers.
type Stage int

// Stages in execution order.
const (
	StageDriver Stage = iota + 1
	StageDevice
	StageModule
)

func (s Stage) String() string {
	switch s {
	case StageDriver:
		return "driver"
	case StageDevice:
		return "device"
	case StageModule:
		return "module"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Func is an initializer.
type Func func() error

// ErrAlreadyRun is returned by Run after the first call and by Register once
// the table has run.
var ErrAlreadyRun = errors.New("already run")

// InitError wraps the failure of a named initializer.
type InitError struct {
	Stage Stage
	Name  string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init %s/%s: %v", e.Stage, e.Name, e.Err)
}

// Unwrap returns the initializer error.
func (e *InitError) Unwrap() error {
	return e.Err
}

type entry struct {
	stage Stage
	name  string
	fn    Func
}

// Table is a set of staged initializers.
type Table struct {
	lock    sync.Mutex
	entries []entry
	done    bool
}

var defaultTable Table

// Default returns the process wide table.
func Default() *Table {
	return &defaultTable
}

// Register adds fn to the default table.
func Register(stage Stage, name string, fn Func) error {
	return defaultTable.Register(stage, name, fn)
}

// Run runs the default table.
func Run() error {
	return defaultTable.Run()
}

// Register adds fn to run at stage.
func (t *Table) Register(stage Stage, name string, fn Func) error {
	if stage < StageDriver || stage > StageModule || fn == nil {
		panic("autoinit: invalid registration " + name)
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.done {
		return ErrAlreadyRun
	}
	t.entries = append(t.entries, entry{stage: stage, name: name, fn: fn})
	return nil
}

// Len returns the number of registered initializers.
func (t *Table) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.entries)
}

// Run executes all initializers, stage by stage in registration order.
// A failure does not stop later initializers, all errors are aggregated.
func (t *Table) Run() error {
	t.lock.Lock()
	if t.done {
		t.lock.Unlock()
		return ErrAlreadyRun
	}
	t.done = true
	entries := make([]entry, len(t.entries))
	copy(entries, t.entries)
	t.lock.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].stage < entries[j].stage
	})

	var errs fx.AggregatedError
	for _, e := range entries {
		glog.V(2).Infof("autoinit %s/%s", e.stage, e.name)
		if err := e.fn(); err != nil {
			glog.Errorf("autoinit %s/%s failed: %v", e.stage, e.name, err)
			errs.Add(&InitError{Stage: e.stage, Name: e.name, Err: err})
		}
	}
	return errs.Aggregate()
}
