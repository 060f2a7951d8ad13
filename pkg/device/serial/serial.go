// Package serial implements the serial port device class.
//
// Received bytes are pushed by the receive interrupt into a read FIFO,
// overwriting the oldest bytes when it is full. Asynchronous writes queue
// into a write FIFO which the transmit interrupt drains one byte at a time.
// With a zero sized FIFO the driver is used directly.
package serial

import (
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/mr.go/pkg/device"
	"github.com/robotalks/mr.go/pkg/object"
	"github.com/robotalks/mr.go/pkg/ringbuf"
)

// Parity modes.
const (
	ParityNone = iota
	ParityOdd
	ParityEven
)

// Config is the line configuration. The zero value means closed.
type Config struct {
	BaudRate uint32 `json:"baud-rate" yaml:"baud-rate"`
	DataBits uint8  `json:"data-bits" yaml:"data-bits"`
	StopBits uint8  `json:"stop-bits" yaml:"stop-bits"`
	Parity   uint8  `json:"parity" yaml:"parity"`
	MSBFirst bool   `json:"msb-first" yaml:"msb-first"`
	Invert   bool   `json:"invert" yaml:"invert"`
}

// DefaultConfig is 115200 8N1.
var DefaultConfig = Config{BaudRate: 115200, DataBits: 8, StopBits: 1}

// DefaultBufSize is the initial size of both FIFOs.
var DefaultBufSize = 64

// Driver is the hardware side of a port.
type Driver interface {
	// Configure applies conf, a zero conf shuts the port down.
	Configure(s *Serial, conf Config) error
	Read(s *Serial, p []byte) (int, error)
	Write(s *Serial, p []byte) (int, error)
	// StartTx enables the transmit interrupt.
	StartTx(s *Serial)
	// StopTx disables the transmit interrupt.
	StopTx(s *Serial)
}

// Serial is a serial port.
type Serial struct {
	dev    *device.Device
	driver Driver

	lock      sync.Mutex
	conf      Config
	rdBufSize int
	wrBufSize int
	rd        *ringbuf.Buffer
	wr        *ringbuf.Buffer
}

// Register registers a port named name in the default registry.
func Register(name string, drv Driver) (*Serial, error) {
	return RegisterIn(object.Default(), name, drv)
}

// RegisterIn registers a port named name in reg.
func RegisterIn(reg object.Registry, name string, drv Driver) (*Serial, error) {
	if drv == nil {
		return nil, device.ErrInvalid
	}
	s := &Serial{
		driver:    drv,
		conf:      DefaultConfig,
		rdBufSize: DefaultBufSize,
		wrBufSize: DefaultBufSize,
		rd:        ringbuf.New(0),
		wr:        ringbuf.New(0),
	}
	dev, err := device.RegisterIn(reg, name, device.KindSerial, device.FlagRDWR|device.FlagNonblock, (*ops)(s))
	if err != nil {
		return nil, err
	}
	s.dev = dev
	return s, nil
}

// From returns the port behind d, nil if d is not a serial device.
func From(d *device.Device) *Serial {
	if d == nil {
		return nil
	}
	if o, ok := d.Ops().(*ops); ok {
		return (*Serial)(o)
	}
	return nil
}

// Find looks up a port in reg.
func Find(reg object.Registry, name string) *Serial {
	return From(device.FindIn(reg, name))
}

// Device returns the registered device.
func (s *Serial) Device() *device.Device {
	return s.dev
}

// Config returns the line configuration.
func (s *Serial) Config() Config {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.conf
}

// Received returns the number of bytes waiting in the read FIFO.
func (s *Serial) Received() int {
	return s.fifos().rd.DataSize()
}

// Pending returns the number of bytes waiting in the write FIFO.
func (s *Serial) Pending() int {
	return s.fifos().wr.DataSize()
}

type fifoPair struct {
	rd, wr *ringbuf.Buffer
}

func (s *Serial) fifos() fifoPair {
	s.lock.Lock()
	defer s.lock.Unlock()
	return fifoPair{rd: s.rd, wr: s.wr}
}

// ops carries the device operations so they do not clash with the
// exported API of Serial.
type ops Serial

func (o *ops) Open(d *device.Device) error {
	s := (*Serial)(o)
	s.lock.Lock()
	s.rd = ringbuf.New(s.rdBufSize)
	s.wr = ringbuf.New(s.wrBufSize)
	conf := s.conf
	s.lock.Unlock()
	return s.driver.Configure(s, conf)
}

func (o *ops) Close(d *device.Device) error {
	s := (*Serial)(o)
	s.lock.Lock()
	s.rd = ringbuf.New(0)
	s.wr = ringbuf.New(0)
	s.lock.Unlock()
	return s.driver.Configure(s, Config{})
}

func (o *ops) Read(d *device.Device, off int, p []byte, async bool) (int, error) {
	s := (*Serial)(o)
	rd := s.fifos().rd
	if rd.Size() == 0 {
		return s.driver.Read(s, p)
	}
	return rd.Read(p), nil
}

func (o *ops) Write(d *device.Device, off int, p []byte, async bool) (int, error) {
	s := (*Serial)(o)
	wr := s.fifos().wr
	if !async || wr.Size() == 0 {
		return s.driver.Write(s, p)
	}
	n := wr.Write(p)
	s.driver.StartTx(s)
	return n, nil
}

func (o *ops) Ioctl(d *device.Device, off int, cmd device.Cmd, args interface{}) error {
	s := (*Serial)(o)
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
		if err := s.driver.Configure(s, conf); err != nil {
			glog.Errorf("[%s] configure failed: %v", d.Name(), err)
			return err
		}
		s.lock.Lock()
		s.conf = conf
		s.lock.Unlock()
		return nil
	case device.CmdGetConfig:
		c, ok := args.(*Config)
		if !ok || c == nil {
			return device.ErrInvalid
		}
		*c = s.Config()
		return nil
	case device.CmdSetRxBufSize, device.CmdSetTxBufSize:
		size, ok := args.(int)
		if !ok || size < 0 {
			return device.ErrInvalid
		}
		s.lock.Lock()
		if cmd == device.CmdSetRxBufSize {
			s.rdBufSize, s.rd = size, ringbuf.New(size)
		} else {
			s.wrBufSize, s.wr = size, ringbuf.New(size)
		}
		s.lock.Unlock()
		return nil
	case device.CmdGetRxBufSize, device.CmdGetTxBufSize:
		size, ok := args.(*int)
		if !ok || size == nil {
			return device.ErrInvalid
		}
		s.lock.Lock()
		if cmd == device.CmdGetRxBufSize {
			*size = s.rdBufSize
		} else {
			*size = s.wrBufSize
		}
		s.lock.Unlock()
		return nil
	}
	return device.ErrNotSupported
}

func (o *ops) ISR(d *device.Device, event device.ISREvent, args interface{}) (int, error) {
	s := (*Serial)(o)
	fifos := s.fifos()
	var data [1]byte
	switch event {
	case device.ISRRead:
		if _, err := s.driver.Read(s, data[:]); err != nil {
			return 0, err
		}
		fifos.rd.PushForce(data[0])
		return fifos.rd.DataSize(), nil
	case device.ISRWrite:
		if c, ok := fifos.wr.Pop(); ok {
			data[0] = c
			if _, err := s.driver.Write(s, data[:]); err != nil {
				return 0, err
			}
		} else {
			s.driver.StopTx(s)
		}
		return fifos.wr.DataSize(), nil
	}
	return 0, device.ErrNotSupported
}
