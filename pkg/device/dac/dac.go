// Package dac implements the DAC device class. The write offset selects
// the channel, data is a stream of little endian uint32 samples.
package dac

import (
	"encoding/binary"
	"sync"

	"github.com/robotalks/mr.go/pkg/device"
	"github.com/robotalks/mr.go/pkg/object"
)

// Channels is the number of channels a DAC can have.
const Channels = 32

// SampleSize is the size of one sample in bytes.
const SampleSize = 4

// Class commands.
const (
	CmdSetChannelState = device.CmdClass + iota
	CmdGetChannelState
)

// ChannelConfig is the per channel configuration.
type ChannelConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Driver is the hardware side of a DAC.
type Driver interface {
	Configure(d *DAC, enable bool) error
	ConfigureChannel(d *DAC, channel int, enable bool) error
	Write(d *DAC, channel int, value uint32)
}

// DAC is a digital to analog converter.
type DAC struct {
	dev    *device.Device
	driver Driver

	lock     sync.Mutex
	channels uint32
}

// RegisterIn registers a DAC named name in reg.
func RegisterIn(reg object.Registry, name string, drv Driver) (*DAC, error) {
	if drv == nil {
		return nil, device.ErrInvalid
	}
	d := &DAC{driver: drv}
	dev, err := device.RegisterIn(reg, name, device.KindDAC, device.FlagWrite, (*ops)(d))
	if err != nil {
		return nil, err
	}
	d.dev = dev
	return d, nil
}

// From returns the DAC behind dev, nil if dev is not a DAC.
func From(dev *device.Device) *DAC {
	if dev == nil {
		return nil
	}
	if o, ok := dev.Ops().(*ops); ok {
		return (*DAC)(o)
	}
	return nil
}

// Find looks up a DAC in reg.
func Find(reg object.Registry, name string) *DAC {
	return From(device.FindIn(reg, name))
}

// Device returns the registered device.
func (d *DAC) Device() *device.Device {
	return d.dev
}

// Enabled returns the bitmask of enabled channels.
func (d *DAC) Enabled() uint32 {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.channels
}

func validChannel(channel int) bool {
	return channel >= 0 && channel < Channels
}

func (d *DAC) setChannel(channel int, enable bool) error {
	if !validChannel(channel) {
		return device.ErrInvalid
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if err := d.driver.ConfigureChannel(d, channel, enable); err != nil {
		return err
	}
	if enable {
		d.channels |= 1 << uint(channel)
	} else {
		d.channels &^= 1 << uint(channel)
	}
	return nil
}

func (d *DAC) channelEnabled(channel int) (bool, error) {
	if !validChannel(channel) {
		return false, device.ErrInvalid
	}
	return d.Enabled()&(1<<uint(channel)) != 0, nil
}

type ops DAC

func (o *ops) Open(dev *device.Device) error {
	d := (*DAC)(o)
	return d.driver.Configure(d, true)
}

// Close disables every enabled channel, then the converter.
func (o *ops) Close(dev *device.Device) error {
	d := (*DAC)(o)
	d.lock.Lock()
	for ch := 0; ch < Channels; ch++ {
		if d.channels&(1<<uint(ch)) != 0 {
			d.driver.ConfigureChannel(d, ch, false)
			d.channels &^= 1 << uint(ch)
		}
	}
	d.lock.Unlock()
	return d.driver.Configure(d, false)
}

// Write converts whole samples only, a trailing partial sample is ignored.
func (o *ops) Write(dev *device.Device, off int, p []byte, async bool) (int, error) {
	d := (*DAC)(o)
	if enabled, err := d.channelEnabled(off); err != nil || !enabled {
		return 0, device.ErrInvalid
	}
	size := len(p) &^ (SampleSize - 1)
	for n := 0; n < size; n += SampleSize {
		d.driver.Write(d, off, binary.LittleEndian.Uint32(p[n:]))
	}
	return size, nil
}

func (o *ops) Ioctl(dev *device.Device, off int, cmd device.Cmd, args interface{}) error {
	d := (*DAC)(o)
	switch cmd {
	case device.CmdSetConfig:
		switch c := args.(type) {
		case ChannelConfig:
			return d.setChannel(off, c.Enabled)
		case *ChannelConfig:
			if c != nil {
				return d.setChannel(off, c.Enabled)
			}
		}
		return device.ErrInvalid
	case CmdSetChannelState:
		if enable, ok := args.(bool); ok {
			return d.setChannel(off, enable)
		}
		return device.ErrInvalid
	case device.CmdGetConfig:
		c, ok := args.(*ChannelConfig)
		if !ok || c == nil {
			return device.ErrInvalid
		}
		enabled, err := d.channelEnabled(off)
		if err != nil {
			return err
		}
		c.Enabled = enabled
		return nil
	case CmdGetChannelState:
		state, ok := args.(*bool)
		if !ok || state == nil {
			return device.ErrInvalid
		}
		enabled, err := d.channelEnabled(off)
		if err != nil {
			return err
		}
		*state = enabled
		return nil
	}
	return device.ErrNotSupported
}

// EncodeSamples packs samples for Write.
func EncodeSamples(samples ...uint32) []byte {
	p := make([]byte, len(samples)*SampleSize)
	for n, v := range samples {
		binary.LittleEndian.PutUint32(p[n*SampleSize:], v)
	}
	return p
}
