package dac

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/mr.go/pkg/device"
	"github.com/robotalks/mr.go/pkg/object"
)

type sample struct {
	channel int
	value   uint32
}

type fakeDriver struct {
	enabled  bool
	channels map[int]bool
	samples  []sample
}

func (f *fakeDriver) Configure(d *DAC, enable bool) error {
	f.enabled = enable
	return nil
}

func (f *fakeDriver) ConfigureChannel(d *DAC, channel int, enable bool) error {
	f.channels[channel] = enable
	return nil
}

func (f *fakeDriver) Write(d *DAC, channel int, value uint32) {
	f.samples = append(f.samples, sample{channel, value})
}

func newDAC(t *testing.T) (*DAC, *fakeDriver, *device.Device) {
	drv := &fakeDriver{channels: make(map[int]bool)}
	reg := object.NewContainer()
	d, err := RegisterIn(reg, "dac1", drv)
	require.NoError(t, err)
	require.Equal(t, d, Find(reg, "dac1"))
	dev := d.Device()
	require.Equal(t, device.ErrNotSupported, dev.Open(device.FlagRead))
	require.NoError(t, dev.Open(device.FlagWrite))
	require.True(t, drv.enabled)
	return d, drv, dev
}

func TestChannelGating(t *testing.T) {
	_, drv, dev := newDAC(t)

	_, err := dev.Write(3, EncodeSamples(1))
	require.Equal(t, device.ErrInvalid, err)
	_, err = dev.Write(Channels, EncodeSamples(1))
	require.Equal(t, device.ErrInvalid, err)

	require.NoError(t, dev.Ioctl(3, CmdSetChannelState, true))
	n, err := dev.Write(3, append(EncodeSamples(100, 0xffffffff), 1, 2))
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, []sample{{3, 100}, {3, 0xffffffff}}, drv.samples)

	n, err = dev.Write(3, []byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 0, n)

	require.NoError(t, dev.Ioctl(3, device.CmdSetConfig, ChannelConfig{Enabled: false}))
	_, err = dev.Write(3, EncodeSamples(1))
	require.Equal(t, device.ErrInvalid, err)
}

func TestChannelState(t *testing.T) {
	d, _, dev := newDAC(t)
	require.NoError(t, dev.Ioctl(0, device.CmdSetConfig, &ChannelConfig{Enabled: true}))
	require.NoError(t, dev.Ioctl(31, CmdSetChannelState, true))
	require.Equal(t, uint32(1|1<<31), d.Enabled())

	var state bool
	require.NoError(t, dev.Ioctl(31, CmdGetChannelState, &state))
	require.True(t, state)
	var conf ChannelConfig
	require.NoError(t, dev.Ioctl(5, device.CmdGetConfig, &conf))
	require.False(t, conf.Enabled)

	require.Equal(t, device.ErrInvalid, dev.Ioctl(32, CmdSetChannelState, true))
	require.Equal(t, device.ErrInvalid, dev.Ioctl(-1, CmdGetChannelState, &state))
	require.Equal(t, device.ErrInvalid, dev.Ioctl(0, CmdSetChannelState, 1))
	require.Equal(t, device.ErrInvalid, dev.Ioctl(0, device.CmdSetConfig, nil))
	require.Equal(t, device.ErrNotSupported, dev.Ioctl(0, device.CmdStart, nil))
}

func TestCloseDisablesChannels(t *testing.T) {
	d, drv, dev := newDAC(t)
	require.NoError(t, dev.Ioctl(1, CmdSetChannelState, true))
	require.NoError(t, dev.Ioctl(7, CmdSetChannelState, true))
	require.NoError(t, dev.Close())
	require.Equal(t, uint32(0), d.Enabled())
	require.Equal(t, map[int]bool{1: false, 7: false}, drv.channels)
	require.False(t, drv.enabled)
}
