package bridge

import (
	"io"
	"sync"
	"time"

	"github.com/robotalks/mr.go/pkg/device"
)

// SerialPort is a blocking io.ReadWriteCloser on a serial device.
type SerialPort struct {
	dev       *device.Device
	rxCh      chan struct{}
	txCh      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// txRetry bounds the wait for a transmit interrupt when the FIFO is full.
const txRetry = 10 * time.Millisecond

// OpenSerialPort opens dev in non-blocking mode and installs the callbacks
// which wake up Read and Write.
func OpenSerialPort(dev *device.Device) (*SerialPort, error) {
	if err := dev.Open(device.FlagRDWR | device.FlagNonblock); err != nil {
		return nil, err
	}
	p := &SerialPort{
		dev:  dev,
		rxCh: make(chan struct{}, 1),
		txCh: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	if err := dev.Ioctl(0, device.CmdSetRxCallback, device.Callback(notifier(p.rxCh))); err != nil {
		dev.Close()
		return nil, err
	}
	if err := dev.Ioctl(0, device.CmdSetTxCallback, device.Callback(notifier(p.txCh))); err != nil {
		dev.Ioctl(0, device.CmdSetRxCallback, nil)
		dev.Close()
		return nil, err
	}
	return p, nil
}

func notifier(ch chan struct{}) func(*device.Device, int) {
	return func(*device.Device, int) {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Read implements io.Reader. It blocks until data is received or the port
// is closed.
func (p *SerialPort) Read(b []byte) (int, error) {
	for {
		select {
		case <-p.done:
			return 0, io.EOF
		default:
		}
		n, err := p.dev.Read(0, b)
		if err != nil || n > 0 {
			return n, err
		}
		select {
		case <-p.rxCh:
		case <-p.done:
			return 0, io.EOF
		}
	}
}

// Write implements io.Writer.
func (p *SerialPort) Write(b []byte) (int, error) {
	var written int
	for written < len(b) {
		n, err := p.dev.Write(0, b[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n > 0 {
			continue
		}
		select {
		case <-p.txCh:
		case <-time.After(txRetry):
		case <-p.done:
			return written, io.ErrClosedPipe
		}
	}
	return written, nil
}

// Close implements io.Closer.
func (p *SerialPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.dev.Ioctl(0, device.CmdSetRxCallback, nil)
		p.dev.Ioctl(0, device.CmdSetTxCallback, nil)
		err = p.dev.Close()
	})
	return err
}
