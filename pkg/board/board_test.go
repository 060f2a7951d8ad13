package board

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/mr.go/pkg/autoinit"
	"github.com/robotalks/mr.go/pkg/board/virtual"
	"github.com/robotalks/mr.go/pkg/device"
	"github.com/robotalks/mr.go/pkg/device/dac"
	"github.com/robotalks/mr.go/pkg/device/serial"
	"github.com/robotalks/mr.go/pkg/device/timer"
	"github.com/robotalks/mr.go/pkg/task"
	"github.com/robotalks/mr.go/pkg/telemetry"
)

const testConfig = `
id: bench
description: test bench
interval-ms: 2
tick-ms: 1
stats-ms: 0
devices:
  - name: uart1
    kind: serial
    serial:
      baud-rate: 9600
      data-bits: 8
      stop-bits: 1
    rx-buf: 16
    tx-buf: 0
  - name: tim1
    kind: timer
    timer:
      freq: 1000000
  - name: dac1
    kind: dac
    channels: [0, 2]
`

func loadConfig(t *testing.T, data string) *Config {
	conf := &Config{}
	require.NoError(t, conf.Load([]byte(data)))
	return conf
}

func TestConfigLoad(t *testing.T) {
	conf := loadConfig(t, testConfig)
	require.Equal(t, "bench", conf.ID)
	require.Equal(t, 2*time.Millisecond, conf.Interval())
	require.Equal(t, time.Millisecond, conf.TickUnit())
	require.Equal(t, time.Duration(0), conf.StatsInterval())
	require.Len(t, conf.Devices, 3)
	uart := conf.FindDevice("uart1")
	require.NotNil(t, uart)
	require.Equal(t, uint32(9600), uart.Serial.BaudRate)
	require.Equal(t, 16, *uart.RxBufSize)
	require.Equal(t, 0, *uart.TxBufSize)
	require.Equal(t, []int{0, 2}, conf.FindDevice("dac1").Channels)
	require.Nil(t, conf.FindDevice("none"))
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"no id", "id: ''"},
		{"bad id", "id: a/b"},
		{"long name", "id: b\ndevices:\n  - {name: verylongdevicename, kind: serial}"},
		{"dup name", "id: b\ndevices:\n  - {name: u, kind: serial}\n  - {name: u, kind: dac}"},
		{"bad kind", "id: b\ndevices:\n  - {name: u, kind: gpio}"},
		{"tick timer", "id: b\ntick-timer: u\ndevices:\n  - {name: u, kind: serial}"},
		{"bridge device", "id: b\ndevices:\n  - {name: d, kind: dac}\nbridges:\n  - {device: d, stream: ':0'}"},
		{"bridge transport", "id: b\ndevices:\n  - {name: u, kind: serial}\nbridges:\n  - {device: u}"},
		{"bridge mqtt", "id: b\nbridges:\n  - {mqtt: true}"},
		{"control rate", "id: b\ncontrol-rate: -1"},
		{"schedule cron", "id: b\nschedules:\n  - {cron: 'every day', task: t}"},
		{"schedule task", "id: b\nschedules:\n  - {cron: '@every 1s'}"},
		{"schedule event", "id: b\nschedules:\n  - {cron: '@every 1s', task: t, event: 252}"},
		{"schedule slot", "id: b\nschedules:\n  - {cron: '@every 1s', task: t, slot: 255}"},
		{"link device", "id: b\nbridges:\n  - {link: true}"},
		{"link transport", "id: b\ndevices:\n  - {name: u, kind: serial}\nbridges:\n  - {device: u, link: true, stream: ':0'}"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conf := &Config{}
			require.Error(t, conf.Load([]byte(tc.data)))
		})
	}
}

func newBoard(t *testing.T, data string) *Board {
	b, err := loadConfig(t, data).NewBoard()
	require.NoError(t, err)
	return b
}

func TestInitAndOpen(t *testing.T) {
	b := newBoard(t, testConfig)
	var stages []string
	require.NoError(t, b.Register(autoinit.StageModule, "app", func() error {
		stages = append(stages, "app")
		require.NotNil(t, b.Device("uart1"))
		return nil
	}))
	require.NoError(t, b.Init())
	require.Equal(t, []string{"app"}, stages)
	require.Equal(t, []string{"dac1", "tim1", "uart1"}, b.Devices())
	require.IsType(t, &virtual.Loopback{}, b.Driver("uart1"))

	dev, err := b.Open("uart1", device.FlagRDWR)
	require.NoError(t, err)
	s := serial.From(dev)
	require.Equal(t, uint32(9600), s.Config().BaudRate)
	var size int
	require.NoError(t, dev.Ioctl(0, device.CmdGetRxBufSize, &size))
	require.Equal(t, 16, size)
	require.NoError(t, dev.Ioctl(0, device.CmdGetTxBufSize, &size))
	require.Equal(t, 0, size)
	require.NoError(t, dev.Close())

	dev, err = b.Open("dac1", device.FlagWrite)
	require.NoError(t, err)
	var on bool
	require.NoError(t, dev.Ioctl(2, dac.CmdGetChannelState, &on))
	require.True(t, on)
	require.NoError(t, dev.Close())

	_, err = b.Open("none", device.FlagRDWR)
	require.Error(t, err)
}

func TestTasksOnLoop(t *testing.T) {
	b := newBoard(t, testConfig)
	require.NoError(t, b.Init())
	var fired int
	tsk := &task.Task{}
	require.NoError(t, b.AddTask(tsk, "blink", []task.Slot{{Callback: func(t *task.Task, args interface{}) error {
		if t.Event() == task.EventTiming {
			fired++
		}
		return nil
	}}}, 8))
	require.Equal(t, tsk, b.Task("blink"))
	require.Equal(t, []string{"blink"}, b.Tasks())
	tsk.Start()
	require.NoError(t, tsk.Timing(0, 5, task.Periodic))

	now := time.Now()
	ctx := context.Background()
	b.Loop.RunIteration(ctx, now)
	b.Loop.RunIteration(ctx, now.Add(12*time.Millisecond))
	require.Equal(t, 2, fired)
	require.Equal(t, uint32(12), tsk.CurrentTick())

	info := b.Info()
	require.Equal(t, "bench", info.ID)
	require.Equal(t, []string{"blink"}, info.Tasks)

	require.NoError(t, b.RemoveTask(tsk))
	require.Nil(t, b.Task("blink"))
	require.Empty(t, b.Loop.Tasks())
}

func TestRemoveTaskWhileDispatching(t *testing.T) {
	b := newBoard(t, testConfig)
	require.NoError(t, b.Init())
	started := make(chan struct{}, 2)
	var calls int
	tsk := &task.Task{}
	require.NoError(t, b.AddTask(tsk, "slow", []task.Slot{{Callback: func(*task.Task, interface{}) error {
		calls++
		started <- struct{}{}
		time.Sleep(20 * time.Millisecond)
		return nil
	}}}, 8))
	tsk.Start()
	require.NoError(t, tsk.PostEvent(0, 1))
	require.NoError(t, tsk.PostEvent(0, 2))

	done := make(chan interface{}, 1)
	go func() {
		defer func() { done <- recover() }()
		b.Loop.RunIteration(context.Background(), time.Now())
	}()
	<-started
	// waits for the iteration, which dispatches both events.
	require.NoError(t, b.RemoveTask(tsk))
	require.Nil(t, <-done)
	require.Equal(t, 2, calls)
	require.Nil(t, b.Task("slow"))
	require.Empty(t, b.Loop.Tasks())
}

func TestTickTimer(t *testing.T) {
	b := newBoard(t, testConfig+"tick-timer: tim1\n")
	require.True(t, b.Loop.ExternalTick)
	require.NoError(t, b.Init())
	tsk := &task.Task{}
	require.NoError(t, b.AddTask(tsk, "idle", []task.Slot{{}}, 2))
	tsk.Start()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()
	for deadline := time.Now().Add(2 * time.Second); tsk.CurrentTick() < 5; time.Sleep(time.Millisecond) {
		require.True(t, time.Now().Before(deadline), "no ticks from timer")
	}
	cancel()
	require.Equal(t, context.Canceled, <-errCh)
	require.Equal(t, 0, b.Device("tim1").Refs())
	require.False(t, b.Driver("tim1").(*virtual.Ticker).Running())
	require.Equal(t, uint32(0), timer.From(b.Device("tim1")).Config().Freq)
}

// memPipe is one end of an in-memory packet pipe.
type memPipe struct {
	in, out chan []byte
	done    chan struct{}
	once    *sync.Once
}

func newMemPipe() (*memPipe, *memPipe) {
	a, b := make(chan []byte, 8), make(chan []byte, 8)
	done, once := make(chan struct{}), &sync.Once{}
	return &memPipe{in: a, out: b, done: done, once: once}, &memPipe{in: b, out: a, done: done, once: once}
}

func (p *memPipe) ReadPacket() ([]byte, error) {
	select {
	case pkt := <-p.in:
		return pkt, nil
	case <-p.done:
		return nil, io.EOF
	}
}

func (p *memPipe) WritePacket(pkt []byte) error {
	select {
	case p.out <- pkt:
		return nil
	case <-p.done:
		return io.ErrClosedPipe
	}
}

func (p *memPipe) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

func TestControlSession(t *testing.T) {
	b := newBoard(t, testConfig)
	require.NoError(t, b.Init())
	tsk := &task.Task{}
	require.NoError(t, b.AddTask(tsk, "ctl", []task.Slot{{}, {}}, 8))
	tsk.Start()

	local, remote := newMemPipe()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.controlSession(ctx, local) }()

	pkt, err := telemetry.Encode(&telemetry.TaskTransition{PbTaskTransition: telemetry.PbTaskTransition{Task: "ctl", Slot: 1}})
	require.NoError(t, err)
	require.NoError(t, remote.WritePacket(pkt))
	for deadline := time.Now().Add(time.Second); ; time.Sleep(time.Millisecond) {
		if _, ok := tsk.State(); ok && tsk.QueueLen() == 1 {
			break
		}
		require.True(t, time.Now().Before(deadline), "transition not queued")
	}
	tsk.Dispatch()
	state, _ := tsk.State()
	require.Equal(t, 1, state)

	require.Len(t, b.Stats.Sinks, 1)
	require.NoError(t, b.Stats.Report(b.Loop.Tasks()))
	msg, err := telemetry.Decode(<-remote.in)
	require.NoError(t, err)
	require.Equal(t, "ctl", msg.(*telemetry.TaskStats).Name)

	cancel()
	require.Equal(t, context.Canceled, <-errCh)
	require.Empty(t, b.Stats.Sinks)
}

func TestLinkBridge(t *testing.T) {
	b := newBoard(t, testConfig+"bridges:\n  - {device: uart1, link: true}\n")
	require.NoError(t, b.Init())
	dev := b.Device("uart1")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()
	// opened by the board and by the link.
	for deadline := time.Now().Add(time.Second); dev.Refs() < 2; time.Sleep(time.Millisecond) {
		require.True(t, time.Now().Before(deadline), "link not started")
	}
	cancel()
	require.Equal(t, context.Canceled, <-errCh)
	require.Equal(t, 0, dev.Refs())
	require.Empty(t, b.Stats.Sinks)
}

func TestSchedules(t *testing.T) {
	b := newBoard(t, testConfig+"control-rate: 5\nschedules:\n  - {cron: '@every 1s', task: blink, slot: 1, event: 9}\n")
	require.Equal(t, 5, b.Config.ControlRate)
	require.NoError(t, b.Init())
	events := make(chan task.Event, 4)
	tsk := &task.Task{}
	require.NoError(t, b.AddTask(tsk, "blink", []task.Slot{{}, {Callback: func(t *task.Task, args interface{}) error {
		select {
		case events <- t.Event():
		default:
		}
		return nil
	}}}, 8))
	tsk.Start()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()
	select {
	case ev := <-events:
		require.Equal(t, task.Event(9), ev)
	case <-time.After(3 * time.Second):
		t.Fatal("schedule not fired")
	}
	cancel()
	require.Equal(t, context.Canceled, <-errCh)
}

func TestConfigWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: a\n"), 0644))

	changed := make(chan struct{}, 4)
	w := &ConfigWatcher{Path: path, Debounce: 10 * time.Millisecond, Changed: func() { changed <- struct{}{} }}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	// other files in the directory are not reported.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(path, []byte("id: b\n"), 0644))
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("change not reported")
	}
	conf := &Config{}
	require.NoError(t, conf.LoadFile(path))
	require.Equal(t, "b", conf.ID)

	cancel()
	require.Equal(t, context.Canceled, <-errCh)
}
