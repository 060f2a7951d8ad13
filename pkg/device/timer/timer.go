// Package timer implements the hardware timer device class.
//
// A timeout in microseconds is written to the device. It is split into a
// counter period and a number of reloads so that periods fit the counter,
// the reload count is chosen to minimize rounding loss. The rx callback
// fires when all reloads of a timeout have elapsed.
package timer

import (
	"encoding/binary"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/mr.go/pkg/device"
	"github.com/robotalks/mr.go/pkg/object"
)

// Mode selects whether the timer restarts after a timeout.
type Mode int

// Timer modes.
const (
	Periodic Mode = iota
	Oneshot
)

// Config is the timer configuration. A zero Freq means closed.
type Config struct {
	Freq uint32 `json:"freq" yaml:"freq"`
	Mode Mode   `json:"mode" yaml:"mode"`
}

// DefaultConfig is applied on open when no frequency is set.
var DefaultConfig = Config{Freq: 1000000, Mode: Periodic}

// Info describes the counter hardware.
type Info struct {
	MaxFreq uint32
	// MaxCount is the largest period the counter can be started with.
	MaxCount uint32
	// CountDown is set if the counter decrements.
	CountDown bool
}

// Driver is the hardware side of a timer.
type Driver interface {
	Configure(t *Timer, conf Config) error
	Start(t *Timer, period uint32) error
	Stop(t *Timer) error
	Count(t *Timer) uint32
}

// Ops adapts funcs to Driver. Missing funcs fail with device.ErrIO.
type Ops struct {
	ConfigureFunc func(t *Timer, conf Config) error
	StartFunc     func(t *Timer, period uint32) error
	StopFunc      func(t *Timer) error
	CountFunc     func(t *Timer) uint32
}

// Configure implements Driver.
func (o *Ops) Configure(t *Timer, conf Config) error {
	if o.ConfigureFunc == nil {
		glog.Errorf("[%s] configure failed: %v", t.Name(), device.ErrIO)
		return device.ErrIO
	}
	return o.ConfigureFunc(t, conf)
}

// Start implements Driver.
func (o *Ops) Start(t *Timer, period uint32) error {
	if o.StartFunc == nil {
		glog.Errorf("[%s] start failed: %v", t.Name(), device.ErrIO)
		return device.ErrIO
	}
	return o.StartFunc(t, period)
}

// Stop implements Driver.
func (o *Ops) Stop(t *Timer) error {
	if o.StopFunc == nil {
		glog.Errorf("[%s] stop failed: %v", t.Name(), device.ErrIO)
		return device.ErrIO
	}
	return o.StopFunc(t)
}

// Count implements Driver.
func (o *Ops) Count(t *Timer) uint32 {
	if o.CountFunc == nil {
		glog.Errorf("[%s] get count failed: %v", t.Name(), device.ErrIO)
		return 0
	}
	return o.CountFunc(t)
}

// Timer is a hardware timer.
type Timer struct {
	dev    *device.Device
	driver Driver
	info   Info

	lock     sync.Mutex
	conf     Config
	reload   uint32
	cycles   uint32
	overflow uint32
	timeout  uint32
}

// RegisterIn registers a timer named name in reg.
func RegisterIn(reg object.Registry, name string, drv Driver, info Info) (*Timer, error) {
	if drv == nil || info.MaxFreq == 0 || info.MaxCount == 0 {
		return nil, device.ErrInvalid
	}
	t := &Timer{driver: drv, info: info}
	dev, err := device.RegisterIn(reg, name, device.KindTimer, device.FlagRDWR, (*ops)(t))
	if err != nil {
		return nil, err
	}
	t.dev = dev
	return t, nil
}

// From returns the timer behind dev, nil if dev is not a timer.
func From(dev *device.Device) *Timer {
	if dev == nil {
		return nil
	}
	if o, ok := dev.Ops().(*ops); ok {
		return (*Timer)(o)
	}
	return nil
}

// Find looks up a timer in reg.
func Find(reg object.Registry, name string) *Timer {
	return From(device.FindIn(reg, name))
}

// Device returns the registered device.
func (t *Timer) Device() *device.Device { return t.dev }

// Name returns the device name.
func (t *Timer) Name() string {
	if t.dev == nil {
		return ""
	}
	return t.dev.Name()
}

// Info returns the hardware description.
func (t *Timer) Info() Info { return t.info }

// Config returns the current configuration.
func (t *Timer) Config() Config {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.conf
}

// Period returns the counter period in microseconds of one reload and the
// number of reloads per timeout.
func (t *Timer) Period() (timeout, reload uint32) {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.timeout, t.reload
}

func (t *Timer) validFreq(freq uint32) bool {
	return freq != 0 && freq <= t.info.MaxFreq && freq <= 1000000
}

// Split divides timeout microseconds at freq into a counter period (in
// counts) and a reload number. It returns the period, the reload number
// and the duration of one period in microseconds.
func Split(info Info, freq, timeout uint32) (period, reload, periodTimeout uint32) {
	tick := 1000000 / freq
	count := timeout / tick
	if count == 0 {
		count = 1
	}
	if count < info.MaxCount {
		return count, 1, count * tick
	}
	if count%info.MaxCount == 0 {
		return info.MaxCount, count / info.MaxCount, info.MaxCount * tick
	}

	// least error reload.
	reloadMin := count/info.MaxCount + 1
	reloadMax := count / 5
	errMin, best := reloadMin, uint32(0)
	for i := reloadMin; i < reloadMax; i++ {
		e := count - count/i*i
		if e <= 1 {
			best = i
			break
		}
		if e < errMin {
			errMin, best = e, i
		}
	}
	if best == 0 {
		best = reloadMin
	}
	return count / best, best, count / best * tick
}

type ops Timer

func (o *ops) Open(dev *device.Device) error {
	t := (*Timer)(o)
	t.lock.Lock()
	if t.conf.Freq == 0 {
		t.conf = DefaultConfig
	}
	conf := t.conf
	t.lock.Unlock()
	if !t.validFreq(conf.Freq) {
		return device.ErrInvalid
	}
	return t.driver.Configure(t, conf)
}

func (o *ops) Close(dev *device.Device) error {
	t := (*Timer)(o)
	t.lock.Lock()
	t.conf.Freq = 0
	conf := t.conf
	t.lock.Unlock()
	return t.driver.Configure(t, conf)
}

// Read stores the elapsed microseconds since start as a little endian
// uint32 in p.
func (o *ops) Read(dev *device.Device, off int, p []byte, async bool) (int, error) {
	t := (*Timer)(o)
	if len(p) < 4 {
		return 0, device.ErrInvalid
	}
	count := t.driver.Count(t)
	t.lock.Lock()
	tick := 1000000 / t.conf.Freq
	if t.info.CountDown {
		count = t.timeout/tick - count
	}
	elapsed := t.overflow*t.timeout + count*tick
	t.lock.Unlock()
	binary.LittleEndian.PutUint32(p, elapsed)
	return 4, nil
}

// Write starts a timeout given as a little endian uint32 of microseconds.
func (o *ops) Write(dev *device.Device, off int, p []byte, async bool) (int, error) {
	t := (*Timer)(o)
	if len(p) < 4 {
		return 0, device.ErrInvalid
	}
	if err := t.driver.Stop(t); err != nil {
		return 0, err
	}
	t.lock.Lock()
	period, reload, timeout := Split(t.info, t.conf.Freq, binary.LittleEndian.Uint32(p))
	t.reload, t.cycles, t.timeout, t.overflow = reload, reload, timeout, 0
	t.lock.Unlock()
	if err := t.driver.Start(t, period); err != nil {
		return 0, err
	}
	return 4, nil
}

func (o *ops) Ioctl(dev *device.Device, off int, cmd device.Cmd, args interface{}) error {
	t := (*Timer)(o)
	switch cmd {
	case device.CmdSetConfig:
		var conf Config
		switch c := args.(type) {
		case Config:
			conf = c
		case *Config:
			if c == nil {
				return device.ErrInvalid
			}
			conf = *c
		default:
			return device.ErrInvalid
		}
		if !t.validFreq(conf.Freq) {
			return device.ErrInvalid
		}
		if err := t.driver.Configure(t, conf); err != nil {
			return err
		}
		t.lock.Lock()
		t.conf = conf
		t.lock.Unlock()
		return nil
	case device.CmdGetConfig:
		c, ok := args.(*Config)
		if !ok || c == nil {
			return device.ErrInvalid
		}
		*c = t.Config()
		return nil
	case device.CmdStart:
		t.lock.Lock()
		if t.reload == 0 {
			t.lock.Unlock()
			return device.ErrInvalid
		}
		t.overflow, t.cycles = 0, t.reload
		period := t.timeout / (1000000 / t.conf.Freq)
		t.lock.Unlock()
		return t.driver.Start(t, period)
	case device.CmdStop:
		return t.driver.Stop(t)
	}
	return device.ErrNotSupported
}

// ISR counts a period. It reports 1 when the timeout is complete.
func (o *ops) ISR(dev *device.Device, event device.ISREvent, args interface{}) (int, error) {
	t := (*Timer)(o)
	if event != device.ISRTimer {
		return 0, device.ErrNotSupported
	}
	t.lock.Lock()
	t.overflow++
	if t.cycles != 0 {
		t.cycles--
	}
	expired := t.cycles == 0
	oneshot := t.conf.Mode == Oneshot
	if expired {
		t.cycles = t.reload
	}
	t.lock.Unlock()
	if !expired {
		return 0, nil
	}
	if oneshot {
		t.driver.Stop(t)
	}
	return 1, nil
}

// EncodeTimeout packs a timeout in microseconds for Write.
func EncodeTimeout(us uint32) []byte {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, us)
	return p
}
