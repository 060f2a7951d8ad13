// Package virtual provides drivers without hardware behind them. Interrupts
// are raised from the goroutine which causes them.
package virtual

import (
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/mr.go/pkg/device"
	"github.com/robotalks/mr.go/pkg/device/serial"
)

// Loopback is a serial driver which receives whatever it transmits.
type Loopback struct {
	lock     sync.Mutex
	conf     serial.Config
	rx       []byte
	txOn     bool
	draining bool
}

// Config returns the applied configuration, zero when the port is down.
func (l *Loopback) Config() serial.Config {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.conf
}

// Configure implements serial.Driver.
func (l *Loopback) Configure(s *serial.Serial, conf serial.Config) error {
	l.lock.Lock()
	l.conf = conf
	if conf == (serial.Config{}) {
		l.rx, l.txOn = nil, false
	}
	l.lock.Unlock()
	glog.V(2).Infof("[%s] configured %+v", s.Device().Name(), conf)
	return nil
}

// Read implements serial.Driver.
func (l *Loopback) Read(s *serial.Serial, p []byte) (int, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	n := copy(p, l.rx)
	l.rx = l.rx[n:]
	return n, nil
}

// Write implements serial.Driver. Every byte raises a receive interrupt.
func (l *Loopback) Write(s *serial.Serial, p []byte) (int, error) {
	if err := l.Inject(s, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Inject receives p as if it arrived on the line.
func (l *Loopback) Inject(s *serial.Serial, p []byte) error {
	l.lock.Lock()
	if l.conf == (serial.Config{}) {
		l.lock.Unlock()
		return device.ErrNotActive
	}
	l.rx = append(l.rx, p...)
	l.lock.Unlock()
	for range p {
		if _, err := s.Device().ISR(device.ISRRead, nil); err != nil {
			return err
		}
	}
	return nil
}

// StartTx implements serial.Driver. Transmit interrupts are raised until
// the port stops them.
func (l *Loopback) StartTx(s *serial.Serial) {
	l.lock.Lock()
	l.txOn = true
	if l.draining {
		l.lock.Unlock()
		return
	}
	l.draining = true
	for l.txOn {
		l.lock.Unlock()
		if _, err := s.Device().ISR(device.ISRWrite, nil); err != nil {
			glog.Errorf("[%s] tx interrupt failed: %v", s.Device().Name(), err)
			l.lock.Lock()
			l.txOn = false
			break
		}
		l.lock.Lock()
	}
	l.draining = false
	l.lock.Unlock()
}

// StopTx implements serial.Driver.
func (l *Loopback) StopTx(s *serial.Serial) {
	l.lock.Lock()
	l.txOn = false
	l.lock.Unlock()
}
