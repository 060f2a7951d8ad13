package sh

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/mr.go/pkg/device"
	"github.com/robotalks/mr.go/pkg/device/dac"
	"github.com/robotalks/mr.go/pkg/device/serial"
	"github.com/robotalks/mr.go/pkg/task"
	"github.com/robotalks/mr.go/pkg/telemetry"
	"github.com/robotalks/mr.go/pkg/timing"
)

// TaskList returns statistics of all tasks.
func (s *Shell) TaskList() ([]*telemetry.TaskStats, error) {
	if s.Remote != nil {
		return s.Remote.Stats(), nil
	}
	b, err := s.localBoard()
	if err != nil {
		return nil, err
	}
	var list []*telemetry.TaskStats
	for _, name := range b.Tasks() {
		if t := b.Task(name); t != nil {
			list = append(list, telemetry.Snapshot(t))
		}
	}
	return list, nil
}

// TaskStats returns statistics of a task.
func (s *Shell) TaskStats(name string) (*telemetry.TaskStats, error) {
	if s.Remote != nil {
		if stats := s.Remote.TaskStats(name); stats != nil {
			return stats, nil
		}
		return nil, fmt.Errorf("no stats of task %q", name)
	}
	t, err := s.findTask(name)
	if err != nil {
		return nil, err
	}
	return telemetry.Snapshot(t), nil
}

// TaskStart starts or stops a local task.
func (s *Shell) TaskStart(name string, start bool) error {
	t, err := s.findTask(name)
	if err != nil {
		return err
	}
	if start {
		t.Start()
	} else {
		t.Stop()
	}
	return nil
}

// TaskPost posts an event to a task.
func (s *Shell) TaskPost(name string, slot int, ev task.Event) error {
	if s.Remote != nil {
		return s.Remote.Send(&telemetry.TaskPost{PbTaskPost: telemetry.PbTaskPost{
			Task: name, Slot: uint32(slot), Event: uint32(ev),
		}})
	}
	return s.onMainline(name, func(t *task.Task) error {
		return t.PostEvent(slot, ev)
	})
}

// TaskTick advances the clock of a local task.
func (s *Shell) TaskTick(name string, delta uint32) error {
	if _, err := s.findTask(name); err != nil {
		return err
	}
	if delta == 0 || delta >= timing.HalfRange {
		return task.ErrInvalid
	}
	return s.onMainline(name, func(t *task.Task) error {
		t.Tick(delta)
		return nil
	})
}

// TaskState transitions the state machine of a task.
func (s *Shell) TaskState(name string, slot int) error {
	if s.Remote != nil {
		return s.Remote.Send(&telemetry.TaskTransition{PbTaskTransition: telemetry.PbTaskTransition{
			Task: name, Slot: uint32(slot),
		}})
	}
	return s.onMainline(name, func(t *task.Task) error {
		return t.TransitionState(slot)
	})
}

// DeviceInfo describes a local device.
type DeviceInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Refs int    `json:"refs"`
}

// DevList lists local devices.
func (s *Shell) DevList() ([]DeviceInfo, error) {
	b, err := s.localBoard()
	if err != nil {
		return nil, err
	}
	var list []DeviceInfo
	for _, name := range b.Devices() {
		if dev := b.Device(name); dev != nil {
			list = append(list, DeviceInfo{Name: name, Kind: dev.Kind().String(), Refs: dev.Refs()})
		}
	}
	return list, nil
}

func (s *Shell) openDevice(name string, flags device.Flags, kind device.Kind) (*device.Device, error) {
	b, err := s.localBoard()
	if err != nil {
		return nil, err
	}
	dev := b.Device(name)
	if dev == nil {
		return nil, fmt.Errorf("device %q not found", name)
	}
	if dev.Kind() != kind {
		return nil, fmt.Errorf("device %q is not %s", name, kind)
	}
	return b.Open(name, flags)
}

// SerialWrite writes data to a serial port.
func (s *Shell) SerialWrite(name string, data []byte) (int, error) {
	dev, err := s.openDevice(name, device.FlagRDWR|device.FlagNonblock, device.KindSerial)
	if err != nil {
		return 0, err
	}
	defer dev.Close()
	return dev.Write(0, data)
}

// SerialRead reads the received bytes of a serial port.
func (s *Shell) SerialRead(name string) ([]byte, error) {
	dev, err := s.openDevice(name, device.FlagRDWR|device.FlagNonblock, device.KindSerial)
	if err != nil {
		return nil, err
	}
	defer dev.Close()
	size := serial.From(dev).Received()
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	n, err := dev.Read(0, buf)
	return buf[:n], err
}

// DACWrite enables channel and converts samples.
func (s *Shell) DACWrite(name string, channel int, samples ...uint32) error {
	dev, err := s.openDevice(name, device.FlagWrite, device.KindDAC)
	if err != nil {
		return err
	}
	defer dev.Close()
	if err := dev.Ioctl(channel, dac.CmdSetChannelState, true); err != nil {
		return err
	}
	_, err = dev.Write(channel, dac.EncodeSamples(samples...))
	return err
}

func formatStats(st *telemetry.TaskStats) string {
	state := "-"
	if st.State >= 0 {
		state = strconv.Itoa(int(st.State))
	}
	run := "stopped"
	if st.Active {
		run = "active"
	}
	return fmt.Sprintf("%-12s %-7s state=%s tick=%d queue=%d usage=%d%% peak=%d%%",
		st.Name, run, state, st.Tick, st.QueueLen, st.Usage, st.UsagePeak)
}

func argsAtLeast(c *ishell.Context, n int) bool {
	if len(c.Args) < n {
		c.Err(fmt.Errorf("at least %d arguments expected", n))
		return false
	}
	return true
}

func parseInts(args []string) ([]int, error) {
	vals := make([]int, len(args))
	for n, arg := range args {
		v, err := strconv.ParseInt(arg, 0, 64)
		if err != nil {
			return nil, err
		}
		vals[n] = int(v)
	}
	return vals, nil
}

var (
	// DiscoverCmd discovers boards on the MQTT broker.
	DiscoverCmd = ishell.Cmd{
		Name:    "discover",
		Aliases: []string{"l"},
		Help:    "[BROKER-URL]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			brokerURL := s.MQTTBrokerURL
			if len(c.Args) > 0 {
				brokerURL = c.Args[0]
			}
			if brokerURL == "" {
				c.Err(fmt.Errorf("broker URL expected"))
				return
			}
			boards, err := Discover(context.Background(), brokerURL)
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				s.print(c, boards, "")
				return
			}
			if len(boards) == 0 {
				c.Println("No boards found")
				return
			}
			for _, info := range boards {
				c.Println(FormatInfo(info))
			}
		},
	}

	// ConnectCmd connects a remote board.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "tcp://HOST:PORT | ws://HOST:PORT/PATH | mqtt://HOST:PORT/PREFIX#BOARD",
		Func: func(c *ishell.Context) {
			if !argsAtLeast(c, 1) {
				return
			}
			if err := ShellFrom(c).Connect(c.Args[0]); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects the remote board.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// TaskListCmd lists tasks.
	TaskListCmd = ishell.Cmd{
		Name: "task.list",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			list, err := s.TaskList()
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				if list == nil {
					list = []*telemetry.TaskStats{}
				}
				s.print(c, list, "")
				return
			}
			for _, st := range list {
				c.Println(formatStats(st))
			}
		},
	}

	// TaskStartCmd starts a task.
	TaskStartCmd = ishell.Cmd{
		Name: "task.start",
		Help: "TASK",
		Func: func(c *ishell.Context) {
			if argsAtLeast(c, 1) {
				if err := ShellFrom(c).TaskStart(c.Args[0], true); err != nil {
					c.Err(err)
				}
			}
		},
	}

	// TaskStopCmd stops a task.
	TaskStopCmd = ishell.Cmd{
		Name: "task.stop",
		Help: "TASK",
		Func: func(c *ishell.Context) {
			if argsAtLeast(c, 1) {
				if err := ShellFrom(c).TaskStart(c.Args[0], false); err != nil {
					c.Err(err)
				}
			}
		},
	}

	// TaskPostCmd posts an event.
	TaskPostCmd = ishell.Cmd{
		Name: "task.post",
		Help: "TASK SLOT EVENT",
		Func: func(c *ishell.Context) {
			if !argsAtLeast(c, 3) {
				return
			}
			vals, err := parseInts(c.Args[1:3])
			if err != nil {
				c.Err(err)
				return
			}
			if vals[1] < 0 || vals[1] > 0xff {
				c.Err(task.ErrInvalid)
				return
			}
			if err := ShellFrom(c).TaskPost(c.Args[0], vals[0], task.Event(vals[1])); err != nil {
				c.Err(err)
			}
		},
	}

	// TaskTickCmd advances the clock of a task.
	TaskTickCmd = ishell.Cmd{
		Name: "task.tick",
		Help: "TASK TICKS",
		Func: func(c *ishell.Context) {
			if !argsAtLeast(c, 2) {
				return
			}
			delta, err := strconv.ParseUint(c.Args[1], 0, 32)
			if err != nil {
				c.Err(err)
				return
			}
			if err := ShellFrom(c).TaskTick(c.Args[0], uint32(delta)); err != nil {
				c.Err(err)
			}
		},
	}

	// TaskStateCmd transitions the state machine of a task.
	TaskStateCmd = ishell.Cmd{
		Name: "task.state",
		Help: "TASK SLOT",
		Func: func(c *ishell.Context) {
			if !argsAtLeast(c, 2) {
				return
			}
			vals, err := parseInts(c.Args[1:2])
			if err != nil {
				c.Err(err)
				return
			}
			if err := ShellFrom(c).TaskState(c.Args[0], vals[0]); err != nil {
				c.Err(err)
			}
		},
	}

	// TaskStatsCmd prints statistics of a task.
	TaskStatsCmd = ishell.Cmd{
		Name: "task.stats",
		Help: "TASK",
		Func: func(c *ishell.Context) {
			if !argsAtLeast(c, 1) {
				return
			}
			s := ShellFrom(c)
			st, err := s.TaskStats(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			s.print(c, st, formatStats(st))
		},
	}

	// DevListCmd lists devices.
	DevListCmd = ishell.Cmd{
		Name: "dev.list",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			list, err := s.DevList()
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				s.print(c, list, "")
				return
			}
			for _, info := range list {
				c.Printf("%-12s %-7s refs=%d\n", info.Name, info.Kind, info.Refs)
			}
		},
	}

	// SerialWriteCmd writes text to a serial port.
	SerialWriteCmd = ishell.Cmd{
		Name: "serial.write",
		Help: "DEVICE TEXT...",
		Func: func(c *ishell.Context) {
			if !argsAtLeast(c, 2) {
				return
			}
			n, err := ShellFrom(c).SerialWrite(c.Args[0], []byte(strings.Join(c.Args[1:], " ")))
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("%d bytes\n", n)
		},
	}

	// SerialReadCmd prints the received bytes of a serial port.
	SerialReadCmd = ishell.Cmd{
		Name: "serial.read",
		Help: "DEVICE",
		Func: func(c *ishell.Context) {
			if !argsAtLeast(c, 1) {
				return
			}
			data, err := ShellFrom(c).SerialRead(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("%q\n", data)
		},
	}

	// DACWriteCmd converts samples on a channel.
	DACWriteCmd = ishell.Cmd{
		Name: "dac.write",
		Help: "DEVICE CHANNEL VALUE...",
		Func: func(c *ishell.Context) {
			if !argsAtLeast(c, 3) {
				return
			}
			vals, err := parseInts(c.Args[1:])
			if err != nil {
				c.Err(err)
				return
			}
			samples := make([]uint32, len(vals)-1)
			for n, v := range vals[1:] {
				samples[n] = uint32(v)
			}
			if err := ShellFrom(c).DACWrite(c.Args[0], vals[0], samples...); err != nil {
				c.Err(err)
			}
		},
	}
)
