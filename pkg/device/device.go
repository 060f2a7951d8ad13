// Package device is the driver abstraction layer.
//
// A Device pairs a registered name with class operations. Operations are
// discovered by capability: whatever the ops value does not implement
// fails with ErrNotSupported.
package device

import (
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/mr.go/pkg/object"
)

// Device is a registered device.
type Device struct {
	name     string
	kind     Kind
	flags    Flags
	ops      interface{}
	registry object.Registry

	lock      sync.Mutex
	refs      int
	openFlags Flags

	cbLock sync.RWMutex
	rxCall Callback
	txCall Callback
}

// Register creates a Device in the default registry.
func Register(name string, kind Kind, flags Flags, ops interface{}) (*Device, error) {
	return RegisterIn(object.Default(), name, kind, flags, ops)
}

// RegisterIn creates a Device and registers it in reg under name.
// flags are the access modes the device supports.
func RegisterIn(reg object.Registry, name string, kind Kind, flags Flags, ops interface{}) (*Device, error) {
	if ops == nil || flags&FlagRDWR == 0 {
		return nil, ErrInvalid
	}
	d := &Device{name: name, kind: kind, flags: flags, ops: ops, registry: reg}
	if err := reg.Add(d, name, object.KindDevice); err != nil {
		glog.Errorf("[%s] register failed: %v", name, err)
		return nil, err
	}
	glog.V(2).Infof("[%s] registered %s", name, kind)
	return d, nil
}

// Find looks up a device in the default registry.
func Find(name string) *Device {
	return FindIn(object.Default(), name)
}

// FindIn looks up a device in reg.
func FindIn(reg object.Registry, name string) *Device {
	if d, ok := reg.Find(name, object.KindDevice).(*Device); ok {
		return d
	}
	return nil
}

// Unregister removes the device from its registry. It fails with ErrBusy
// while the device is open.
func (d *Device) Unregister() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.refs > 0 {
		return ErrBusy
	}
	return d.registry.Remove(d)
}

// Name returns the registered name.
func (d *Device) Name() string { return d.name }

// Kind returns the device class.
func (d *Device) Kind() Kind { return d.kind }

// Flags returns the supported access modes.
func (d *Device) Flags() Flags { return d.flags }

// Ops returns the class operations the device was registered with.
func (d *Device) Ops() interface{} { return d.ops }

// Refs returns the open count.
func (d *Device) Refs() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.refs
}

// Open opens the device with flags. The driver is only opened on the first
// call, later calls add to the open mode.
func (d *Device) Open(flags Flags) error {
	if flags&FlagRDWR == 0 {
		return ErrInvalid
	}
	if flags&FlagRDWR&^d.flags != 0 {
		glog.Errorf("[%s] open mode %d failed: %v", d.name, flags, ErrNotSupported)
		return ErrNotSupported
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.refs == 0 {
		if op, ok := d.ops.(Opener); ok {
			if err := op.Open(d); err != nil {
				glog.Errorf("[%s] open failed: %v", d.name, err)
				return err
			}
		}
	}
	d.refs++
	d.openFlags |= flags
	return nil
}

// Close drops one open reference, the driver is closed with the last one.
func (d *Device) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.refs == 0 {
		return ErrNotActive
	}
	if d.refs == 1 {
		if op, ok := d.ops.(Closer); ok {
			if err := op.Close(d); err != nil {
				glog.Errorf("[%s] close failed: %v", d.name, err)
				return err
			}
		}
		d.openFlags = 0
	}
	d.refs--
	return nil
}

func (d *Device) mode() (Flags, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.openFlags, d.refs > 0
}

// Read reads into p from off.
func (d *Device) Read(off int, p []byte) (int, error) {
	flags, open := d.mode()
	if !open {
		return 0, ErrNotActive
	}
	op, ok := d.ops.(Reader)
	if !ok || flags&FlagRead == 0 {
		return 0, ErrNotSupported
	}
	return op.Read(d, off, p, flags&FlagNonblock != 0)
}

// Write writes p at off.
func (d *Device) Write(off int, p []byte) (int, error) {
	flags, open := d.mode()
	if !open {
		return 0, ErrNotActive
	}
	op, ok := d.ops.(Writer)
	if !ok || flags&FlagWrite == 0 {
		return 0, ErrNotSupported
	}
	return op.Write(d, off, p, flags&FlagNonblock != 0)
}

// Ioctl runs cmd. Callback commands take a Callback (nil clears) and are
// handled here, everything else goes to the driver.
func (d *Device) Ioctl(off int, cmd Cmd, args interface{}) error {
	if _, open := d.mode(); !open {
		return ErrNotActive
	}
	switch cmd {
	case CmdSetRxCallback, CmdSetTxCallback:
		var cb Callback
		switch fn := args.(type) {
		case nil:
		case Callback:
			cb = fn
		case func(*Device, int):
			cb = fn
		default:
			return ErrInvalid
		}
		d.cbLock.Lock()
		if cmd == CmdSetRxCallback {
			d.rxCall = cb
		} else {
			d.txCall = cb
		}
		d.cbLock.Unlock()
		return nil
	}
	op, ok := d.ops.(Controller)
	if !ok {
		return ErrNotSupported
	}
	return op.Ioctl(d, off, cmd, args)
}

// ISR is called by the driver from interrupt context. Receive and timer
// events notify the rx callback when the handler reports a positive count,
// transmit events always notify the tx callback.
func (d *Device) ISR(event ISREvent, args interface{}) (int, error) {
	op, ok := d.ops.(InterruptHandler)
	if !ok {
		return 0, ErrNotSupported
	}
	n, err := op.ISR(d, event, args)
	if err != nil {
		return n, err
	}
	d.cbLock.RLock()
	rx, tx := d.rxCall, d.txCall
	d.cbLock.RUnlock()
	switch event {
	case ISRRead, ISRTimer:
		if rx != nil && n > 0 {
			rx(d, n)
		}
	case ISRWrite:
		if tx != nil {
			tx(d, n)
		}
	}
	return n, nil
}

// List returns the names of devices in reg.
func List(reg *object.Container) []string {
	return reg.List(object.KindDevice)
}
