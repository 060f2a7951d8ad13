package virtual

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/mr.go/pkg/device"
	"github.com/robotalks/mr.go/pkg/device/dac"
	"github.com/robotalks/mr.go/pkg/device/serial"
	"github.com/robotalks/mr.go/pkg/device/timer"
	"github.com/robotalks/mr.go/pkg/object"
)

func TestLoopback(t *testing.T) {
	drv := &Loopback{}
	s, err := serial.RegisterIn(object.NewContainer(), "uart1", drv)
	require.NoError(t, err)
	dev := s.Device()

	require.Equal(t, device.ErrNotActive, drv.Inject(s, []byte{1}))
	require.NoError(t, dev.Open(device.FlagRDWR|device.FlagNonblock))
	require.Equal(t, serial.DefaultConfig, drv.Config())

	var rx int32
	require.NoError(t, dev.Ioctl(0, device.CmdSetRxCallback, func(d *device.Device, n int) {
		atomic.AddInt32(&rx, 1)
	}))
	n, err := dev.Write(0, []byte("abc"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.EqualValues(t, 3, atomic.LoadInt32(&rx))
	require.Equal(t, 0, s.Pending())

	buf := make([]byte, 8)
	n, err = dev.Read(0, buf)
	require.NoError(t, err)
	require.Equal(t, "abc", string(buf[:n]))

	require.NoError(t, dev.Close())
	require.Equal(t, serial.Config{}, drv.Config())
}

func TestTickerOneshot(t *testing.T) {
	drv := &Ticker{}
	tim, err := timer.RegisterIn(object.NewContainer(), "tim1", drv, TickerInfo)
	require.NoError(t, err)
	dev := tim.Device()
	require.NoError(t, dev.Open(device.FlagRDWR))
	defer dev.Close()
	require.NoError(t, dev.Ioctl(0, device.CmdSetConfig, timer.Config{Freq: 1000000, Mode: timer.Oneshot}))

	expired := make(chan int, 4)
	require.NoError(t, dev.Ioctl(0, device.CmdSetRxCallback, func(d *device.Device, n int) {
		expired <- n
	}))
	_, err = dev.Write(0, timer.EncodeTimeout(2000))
	require.NoError(t, err)
	require.True(t, drv.Running())
	select {
	case n := <-expired:
		require.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("timer did not expire")
	}
	for deadline := time.Now().Add(time.Second); drv.Running(); time.Sleep(time.Millisecond) {
		require.True(t, time.Now().Before(deadline), "timer still running")
	}
}

func TestTickerStartInvalid(t *testing.T) {
	drv := &Ticker{}
	tim, err := timer.RegisterIn(object.NewContainer(), "tim1", drv, TickerInfo)
	require.NoError(t, err)
	require.Equal(t, device.ErrInvalid, drv.Start(tim, 10))
	require.Equal(t, uint32(0), drv.Count(tim))
}

func TestMemory(t *testing.T) {
	drv := &Memory{}
	d, err := dac.RegisterIn(object.NewContainer(), "dac1", drv)
	require.NoError(t, err)
	dev := d.Device()
	require.NoError(t, dev.Open(device.FlagWrite))
	require.True(t, drv.Enabled())
	require.NoError(t, dev.Ioctl(3, dac.CmdSetChannelState, true))
	n, err := dev.Write(3, dac.EncodeSamples(10, 20))
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, uint32(20), drv.Value(3))
	require.Equal(t, 2, drv.Writes())
	require.NoError(t, dev.Close())
	require.False(t, drv.Enabled())
	require.Equal(t, uint32(0), drv.Value(3))
}
