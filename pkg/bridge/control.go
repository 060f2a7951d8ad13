package bridge

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	"golang.org/x/time/rate"

	fx "github.com/robotalks/mr.go/pkg/framework"
	"github.com/robotalks/mr.go/pkg/object"
	"github.com/robotalks/mr.go/pkg/task"
	"github.com/robotalks/mr.go/pkg/telemetry"
)

// ControlPipe executes task commands received as packets.
type ControlPipe struct {
	Registry   object.Registry
	ReadWriter PacketReadWriter
	// Limiter drops commands arriving faster than it allows, nil for no
	// limit.
	Limiter *rate.Limiter
}

// NewLimiter allows perSec commands per second with bursts of the same
// size, 0 means no limit.
func NewLimiter(perSec int) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSec), perSec)
}

// Run implements Runnable. Malformed or failing commands are logged and
// skipped, so are messages which are not commands. Commands are executed on
// the mainline of the loop in ctx, if any, which is triggered to dispatch
// immediately.
func (p *ControlPipe) Run(ctx context.Context) error {
	exec := func(fn func()) { fn() }
	if ctl, ok := fx.LoopCtlOf(ctx); ok {
		exec = ctl.Exec
	}
	return fx.RunWithContextCancel(ctx, func() {
		if closer, ok := p.ReadWriter.(io.Closer); ok {
			closer.Close()
		}
	}, func() error {
		for {
			pkt, err := p.ReadWriter.ReadPacket()
			if err != nil {
				return err
			}
			msg, err := telemetry.Decode(pkt)
			if err != nil {
				glog.Warningf("control: bad packet: %v", err)
				continue
			}
			if !telemetry.IsCommand(msg) {
				glog.V(2).Infof("control: %T ignored", msg)
				continue
			}
			if p.Limiter != nil && !p.Limiter.Allow() {
				glog.Warningf("control: rate limited, %T dropped", msg)
				continue
			}
			exec(func() {
				if err := telemetry.Execute(p.Registry, msg); err != nil {
					glog.Errorf("control: %T failed: %v", msg, err)
				}
			})
		}
	})
}

// AddToLoop implements LoopAdder.
func (p *ControlPipe) AddToLoop(loop *fx.Loop) {
	if adder, ok := p.ReadWriter.(fx.LoopAdder); ok {
		loop.Add(adder)
	} else if runnable, ok := p.ReadWriter.(fx.Runnable); ok {
		loop.AddRunnable(runnable)
	}
	loop.AddRunnable(p)
}

// StatsReporter publishes task statistics from the loop.
type StatsReporter struct {
	Interval time.Duration
	Sinks    []StatsSink

	lock sync.Mutex
	last time.Time
}

// AddSink adds a sink.
func (r *StatsReporter) AddSink(sinks ...StatsSink) {
	r.lock.Lock()
	r.Sinks = append(r.Sinks, sinks...)
	r.lock.Unlock()
}

// RemoveSink removes a sink added before.
func (r *StatsReporter) RemoveSink(sink StatsSink) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for n, s := range r.Sinks {
		if s == sink {
			r.Sinks = append(r.Sinks[:n], r.Sinks[n+1:]...)
			return
		}
	}
}

// Report publishes statistics of tasks to every sink.
func (r *StatsReporter) Report(tasks []*task.Task) error {
	r.lock.Lock()
	sinks := append([]StatsSink(nil), r.Sinks...)
	r.lock.Unlock()
	var errs fx.AggregatedError
	for _, t := range tasks {
		stats := telemetry.Snapshot(t)
		for _, sink := range sinks {
			errs.Add(sink.PublishStats(stats))
		}
	}
	return errs.Aggregate()
}

// AddToLoop implements LoopAdder.
func (r *StatsReporter) AddToLoop(loop *fx.Loop) {
	loop.AddController(fx.PrLvReport, fx.ControlFunc(func(cc fx.ControlContext) error {
		now := cc.Time()
		if r.Interval > 0 && now.Sub(r.last) < r.Interval {
			return nil
		}
		r.last = now
		return r.Report(loop.Tasks())
	}))
}
