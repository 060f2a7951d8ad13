package virtual

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/mr.go/pkg/device"
	"github.com/robotalks/mr.go/pkg/device/timer"
)

// TickerInfo describes the counter emulated by Ticker.
var TickerInfo = timer.Info{MaxFreq: 1000000, MaxCount: 0xffff}

// Ticker is a timer driver raising period interrupts from a time.Ticker.
type Ticker struct {
	lock    sync.Mutex
	conf    timer.Config
	period  uint32
	started time.Time
	stopCh  chan struct{}
}

// Configure implements timer.Driver.
func (k *Ticker) Configure(t *timer.Timer, conf timer.Config) error {
	k.lock.Lock()
	k.conf = conf
	k.lock.Unlock()
	if conf.Freq == 0 {
		return k.Stop(t)
	}
	return nil
}

// Start implements timer.Driver.
func (k *Ticker) Start(t *timer.Timer, period uint32) error {
	k.lock.Lock()
	defer k.lock.Unlock()
	if k.conf.Freq == 0 || period == 0 {
		return device.ErrInvalid
	}
	k.stopLocked()
	interval := time.Duration(period) * time.Second / time.Duration(k.conf.Freq)
	k.period, k.started = period, time.Now()
	stopCh := make(chan struct{})
	k.stopCh = stopCh
	go k.run(t, interval, stopCh)
	glog.V(2).Infof("[%s] started period %d interval %s", t.Name(), period, interval)
	return nil
}

// Stop implements timer.Driver. It may be called from the interrupt.
func (k *Ticker) Stop(t *timer.Timer) error {
	k.lock.Lock()
	k.stopLocked()
	k.lock.Unlock()
	return nil
}

func (k *Ticker) stopLocked() {
	if k.stopCh != nil {
		close(k.stopCh)
		k.stopCh = nil
	}
}

// Running reports whether the counter runs.
func (k *Ticker) Running() bool {
	k.lock.Lock()
	defer k.lock.Unlock()
	return k.stopCh != nil
}

// Count implements timer.Driver.
func (k *Ticker) Count(t *timer.Timer) uint32 {
	k.lock.Lock()
	defer k.lock.Unlock()
	if k.stopCh == nil || k.period == 0 {
		return 0
	}
	counts := uint64(time.Since(k.started)) * uint64(k.conf.Freq) / uint64(time.Second)
	return uint32(counts % uint64(k.period))
}

func (k *Ticker) run(t *timer.Timer, interval time.Duration, stopCh chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			k.lock.Lock()
			k.started = time.Now()
			k.lock.Unlock()
			if _, err := t.Device().ISR(device.ISRTimer, nil); err != nil {
				glog.Errorf("[%s] interrupt failed: %v", t.Name(), err)
			}
		}
	}
}
