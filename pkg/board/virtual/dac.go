package virtual

import (
	"sync"

	"github.com/robotalks/mr.go/pkg/device/dac"
)

// Memory is a DAC driver keeping the last sample of every channel.
type Memory struct {
	lock     sync.Mutex
	enabled  bool
	channels [dac.Channels]bool
	values   [dac.Channels]uint32
	writes   int
}

// Configure implements dac.Driver.
func (m *Memory) Configure(d *dac.DAC, enable bool) error {
	m.lock.Lock()
	m.enabled = enable
	m.lock.Unlock()
	return nil
}

// ConfigureChannel implements dac.Driver.
func (m *Memory) ConfigureChannel(d *dac.DAC, channel int, enable bool) error {
	m.lock.Lock()
	m.channels[channel] = enable
	if !enable {
		m.values[channel] = 0
	}
	m.lock.Unlock()
	return nil
}

// Write implements dac.Driver.
func (m *Memory) Write(d *dac.DAC, channel int, value uint32) {
	m.lock.Lock()
	m.values[channel] = value
	m.writes++
	m.lock.Unlock()
}

// Value returns the output of channel.
func (m *Memory) Value(channel int) uint32 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.values[channel]
}

// Writes returns the number of converted samples.
func (m *Memory) Writes() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.writes
}

// Enabled reports whether the converter is powered.
func (m *Memory) Enabled() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.enabled
}
