package bridge

import (
	"context"
	"io"

	"github.com/golang/glog"

	"github.com/robotalks/mr.go/pkg/device"
	fx "github.com/robotalks/mr.go/pkg/framework"
)

// SerialPipe pumps packets into a serial device and received bytes out as
// packets. The device must be a registered serial port, it is opened by
// Run and closed when Run returns.
type SerialPipe struct {
	Device     *device.Device
	ReadWriter PacketReadWriter
	// MaxPacket limits the size of outgoing packets.
	MaxPacket int

	rxCh chan struct{}
}

// DefaultMaxPacket is used when MaxPacket is not set.
const DefaultMaxPacket = 256

// NewSerialPipe creates a SerialPipe.
func NewSerialPipe(dev *device.Device, rw PacketReadWriter) *SerialPipe {
	return &SerialPipe{Device: dev, ReadWriter: rw, MaxPacket: DefaultMaxPacket}
}

// Name implements Named.
func (p *SerialPipe) Name() string {
	return "serial-pipe:" + p.Device.Name()
}

// Run implements Runnable.
func (p *SerialPipe) Run(ctx context.Context) error {
	if err := p.Device.Open(device.FlagRDWR | device.FlagNonblock); err != nil {
		return err
	}
	defer p.Device.Close()
	p.rxCh = make(chan struct{}, 1)
	if err := p.Device.Ioctl(0, device.CmdSetRxCallback, device.Callback(p.onReceive)); err != nil {
		return err
	}
	defer p.Device.Ioctl(0, device.CmdSetRxCallback, nil)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.pumpIn()
	}()
	for {
		select {
		case <-ctx.Done():
			if closer, ok := p.ReadWriter.(io.Closer); ok {
				closer.Close()
			}
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-p.rxCh:
			if err := p.pumpOut(); err != nil {
				return err
			}
		}
	}
}

// AddToLoop implements LoopAdder.
func (p *SerialPipe) AddToLoop(loop *fx.Loop) {
	if adder, ok := p.ReadWriter.(fx.LoopAdder); ok {
		loop.Add(adder)
	} else if runnable, ok := p.ReadWriter.(fx.Runnable); ok {
		loop.AddRunnable(runnable)
	}
	loop.AddRunnable(p)
}

// onReceive runs in interrupt context, it only wakes up Run.
func (p *SerialPipe) onReceive(*device.Device, int) {
	select {
	case p.rxCh <- struct{}{}:
	default:
	}
}

func (p *SerialPipe) pumpIn() error {
	for {
		pkt, err := p.ReadWriter.ReadPacket()
		if err != nil {
			return err
		}
		for len(pkt) > 0 {
			n, err := p.Device.Write(0, pkt)
			if err != nil {
				return err
			}
			if n == 0 {
				glog.Warningf("[%s] tx fifo full, %d bytes dropped", p.Device.Name(), len(pkt))
				break
			}
			pkt = pkt[n:]
		}
	}
}

func (p *SerialPipe) pumpOut() error {
	size := p.MaxPacket
	if size <= 0 {
		size = DefaultMaxPacket
	}
	buf := make([]byte, size)
	for {
		n, err := p.Device.Read(0, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if err := p.ReadWriter.WritePacket(append([]byte(nil), buf[:n]...)); err != nil {
			return err
		}
	}
}
