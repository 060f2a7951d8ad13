package device

// Kind is the device class.
type Kind int

// Device kinds.
const (
	KindNone Kind = iota
	KindSerial
	KindDAC
	KindTimer
)

func (k Kind) String() string {
	switch k {
	case KindSerial:
		return "serial"
	case KindDAC:
		return "dac"
	case KindTimer:
		return "timer"
	default:
		return "none"
	}
}

// Flags are the access modes a device supports or is opened with.
type Flags int

// Access flags.
const (
	FlagRead Flags = 1 << iota
	FlagWrite
	// FlagNonblock selects asynchronous transfers where supported.
	FlagNonblock

	FlagRDWR = FlagRead | FlagWrite
)

// Cmd is an ioctl command.
type Cmd int

// Commands shared by device classes. Class specific commands start at
// CmdClass.
const (
	CmdSetConfig Cmd = iota + 1
	CmdGetConfig
	CmdSetRxCallback
	CmdSetTxCallback
	CmdSetRxBufSize
	CmdGetRxBufSize
	CmdSetTxBufSize
	CmdGetTxBufSize
	CmdStart
	CmdStop

	CmdClass Cmd = 0x100
)

// ISREvent identifies an interrupt.
type ISREvent int

// Interrupt events.
const (
	// ISRRead signals received data.
	ISRRead ISREvent = iota + 1
	// ISRWrite signals the transmitter is ready for more data.
	ISRWrite
	// ISRTimer signals a timer period elapsed.
	ISRTimer
)

// Callback is notified from interrupt context. n is the count reported by
// the interrupt handler.
type Callback func(d *Device, n int)

// Opener is implemented by drivers needing setup on first open.
type Opener interface {
	Open(d *Device) error
}

// Closer is implemented by drivers needing teardown on last close.
type Closer interface {
	Close(d *Device) error
}

// Reader reads from the device at off.
type Reader interface {
	Read(d *Device, off int, p []byte, async bool) (int, error)
}

// Writer writes to the device at off.
type Writer interface {
	Write(d *Device, off int, p []byte, async bool) (int, error)
}

// Controller handles ioctl commands.
type Controller interface {
	Ioctl(d *Device, off int, cmd Cmd, args interface{}) error
}

// InterruptHandler services interrupts and returns a count to pass to
// callbacks.
type InterruptHandler interface {
	ISR(d *Device, event ISREvent, args interface{}) (int, error)
}
