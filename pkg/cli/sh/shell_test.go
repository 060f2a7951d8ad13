package sh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/mr.go/pkg/board"
	"github.com/robotalks/mr.go/pkg/board/virtual"
	"github.com/robotalks/mr.go/pkg/bridge/mqtt"
	"github.com/robotalks/mr.go/pkg/bridge/stream"
	"github.com/robotalks/mr.go/pkg/device"
	"github.com/robotalks/mr.go/pkg/task"
	"github.com/robotalks/mr.go/pkg/telemetry"
)

func newLocalShell(t *testing.T) (*Shell, *task.Task) {
	conf := &board.Config{}
	require.NoError(t, conf.Load([]byte(`
id: bench
devices:
  - {name: uart1, kind: serial}
  - {name: dac1, kind: dac}
`)))
	b, err := conf.NewBoard()
	require.NoError(t, err)
	require.NoError(t, b.Init())
	tsk := &task.Task{}
	require.NoError(t, b.AddTask(tsk, "blink", []task.Slot{{}, {}, {}}, 8))
	tsk.Start()
	return &Shell{Board: b}, tsk
}

func TestLocalTaskCommands(t *testing.T) {
	s, tsk := newLocalShell(t)

	list, err := s.TaskList()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "blink", list[0].Name)

	require.NoError(t, s.TaskPost("blink", 1, 9))
	require.Equal(t, 1, tsk.QueueLen())
	require.Error(t, s.TaskPost("blink", 3, 9))
	require.Error(t, s.TaskPost("none", 0, 9))

	require.NoError(t, s.TaskState("blink", 2))
	state, ok := tsk.State()
	require.True(t, ok)
	require.Equal(t, 2, state)

	require.NoError(t, s.TaskTick("blink", 7))
	require.Equal(t, uint32(7), tsk.CurrentTick())
	require.Equal(t, task.ErrInvalid, s.TaskTick("blink", 0))

	stats, err := s.TaskStats("blink")
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.State)
	require.EqualValues(t, 2, stats.QueueLen)
	require.Contains(t, formatStats(stats), "state=2")

	require.NoError(t, s.TaskStart("blink", false))
	require.False(t, tsk.Active())
	require.Equal(t, task.ErrNotActive, s.TaskPost("blink", 0, 1))
	require.NoError(t, s.TaskStart("blink", true))
}

func TestLocalTaskCommandsOnRunningLoop(t *testing.T) {
	s, tsk := newLocalShell(t)
	s.Board.Loop.Interval = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Board.Loop.Run(ctx) }()

	// Call returns once the loop ran the command.
	require.NoError(t, s.TaskState("blink", 2))
	state, ok := tsk.State()
	require.True(t, ok)
	require.Equal(t, 2, state)
	require.NoError(t, s.TaskTick("blink", 3))
	require.Equal(t, uint32(3), tsk.CurrentTick())
	require.Error(t, s.TaskPost("none", 0, 9))

	for deadline := time.Now().Add(time.Second); tsk.QueueLen() > 0; time.Sleep(time.Millisecond) {
		require.True(t, time.Now().Before(deadline), "queue not dispatched")
	}
	cancel()
	require.Equal(t, context.Canceled, <-done)
}

func TestLocalDeviceCommands(t *testing.T) {
	s, _ := newLocalShell(t)

	devs, err := s.DevList()
	require.NoError(t, err)
	require.Equal(t, []DeviceInfo{{Name: "dac1", Kind: "dac"}, {Name: "uart1", Kind: "serial"}}, devs)

	// keep the port open as the running board does.
	uart, err := s.Board.Open("uart1", device.FlagRDWR)
	require.NoError(t, err)
	defer uart.Close()
	n, err := s.SerialWrite("uart1", []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	data, err := s.SerialRead("uart1")
	require.NoError(t, err)
	require.Equal(t, "ping", string(data))
	data, err = s.SerialRead("uart1")
	require.NoError(t, err)
	require.Empty(t, data)

	dacDev, err := s.Board.Open("dac1", device.FlagWrite)
	require.NoError(t, err)
	defer dacDev.Close()
	require.NoError(t, s.DACWrite("dac1", 4, 100, 200))
	require.Equal(t, uint32(200), s.Board.Driver("dac1").(*virtual.Memory).Value(4))
	require.Error(t, s.DACWrite("dac1", 40, 1))

	_, err = s.SerialWrite("dac1", []byte("x"))
	require.Error(t, err)
	_, err = s.SerialRead("none")
	require.Error(t, err)
}

func TestNoBoard(t *testing.T) {
	s := &Shell{}
	_, err := s.TaskList()
	require.Equal(t, errNoBoard, err)
	_, err = s.DevList()
	require.Equal(t, errNoBoard, err)
	require.Equal(t, errNoBoard, s.TaskStart("blink", true))
}

func TestRemoteStream(t *testing.T) {
	received := make(chan telemetry.Message, 4)
	server, err := stream.Listen("127.0.0.1:0", func(ctx context.Context, rw *stream.ReadWriter) error {
		stats := &telemetry.TaskStats{PbTaskStats: telemetry.PbTaskStats{Name: "blink", Tick: 42, State: -1}}
		pkt, err := telemetry.Encode(stats)
		if err != nil {
			return err
		}
		if err := rw.WritePacket(pkt); err != nil {
			return err
		}
		for {
			pkt, err := rw.ReadPacket()
			if err != nil {
				return err
			}
			msg, err := telemetry.Decode(pkt)
			if err != nil {
				return err
			}
			received <- msg
		}
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Run(ctx)

	s := &Shell{}
	require.NoError(t, s.Connect("tcp://"+server.Listener.Addr().String()))
	defer s.Disconnect()

	require.NoError(t, s.TaskPost("blink", 1, 3))
	require.NoError(t, s.TaskState("blink", 2))
	msg := <-received
	require.Equal(t, "blink", msg.(*telemetry.TaskPost).Task)
	require.EqualValues(t, 3, msg.(*telemetry.TaskPost).Event)
	msg = <-received
	require.EqualValues(t, 2, msg.(*telemetry.TaskTransition).Slot)

	for deadline := time.Now().Add(time.Second); s.Remote.TaskStats("blink") == nil; time.Sleep(time.Millisecond) {
		require.True(t, time.Now().Before(deadline), "no stats received")
	}
	stats, err := s.TaskStats("blink")
	require.NoError(t, err)
	require.EqualValues(t, 42, stats.Tick)
	list, err := s.TaskList()
	require.NoError(t, err)
	require.Len(t, list, 1)
	_, err = s.TaskStats("other")
	require.Error(t, err)
}

func TestDialRemoteErrors(t *testing.T) {
	_, err := DialRemote("udp://localhost:1")
	require.Error(t, err)
	_, err = DialRemote("mqtt://localhost:1883/mr")
	require.Error(t, err)
}

func TestFormatInfo(t *testing.T) {
	require.Equal(t, "b1: bench tasks=blink devices=uart1,dac1", FormatInfo(mqtt.BoardInfo{
		ID: "b1", Description: "bench", Tasks: []string{"blink"}, Devices: []string{"uart1", "dac1"},
	}))
	require.Equal(t, "b2", FormatInfo(mqtt.BoardInfo{ID: "b2"}))
}
