package main

import (
	"flag"

	"github.com/golang/glog"

	"github.com/robotalks/mr.go/pkg/board"
	"github.com/robotalks/mr.go/pkg/device"
	"github.com/robotalks/mr.go/pkg/device/dac"
	"github.com/robotalks/mr.go/pkg/task"
)

// Slots of the blink task.
const (
	slotOff = iota
	slotOn
	slotCtl
)

// blinker toggles a DAC channel from a two state machine and reports on
// a serial port. Events posted to slotCtl change the half period to
// event*10 ticks, 0 pauses it.
type blinker struct {
	task.Task

	out     *device.Device
	channel int
	report  *device.Device
	period  uint32
	level   uint32
	paused  bool
}

var blinkConf = struct {
	DAC     string
	Channel int
	Serial  string
	Period  uint
	Level   uint
}{
	DAC:    "dac1",
	Serial: "uart1",
	Period: 500,
	Level:  4095,
}

func setupBlinkFlags() {
	flag.StringVar(&blinkConf.DAC, "blink-dac", blinkConf.DAC, "DAC driven by the blink task.")
	flag.IntVar(&blinkConf.Channel, "blink-channel", blinkConf.Channel, "DAC channel of the blink task.")
	flag.StringVar(&blinkConf.Serial, "blink-serial", blinkConf.Serial, "Serial port receiving blink reports, empty to disable.")
	flag.UintVar(&blinkConf.Period, "blink-period", blinkConf.Period, "Half period of the blink task in ticks.")
	flag.UintVar(&blinkConf.Level, "blink-level", blinkConf.Level, "DAC output of the on state.")
}

func addBlinker(b *board.Board) error {
	bl := &blinker{
		out:     b.Device(blinkConf.DAC),
		channel: blinkConf.Channel,
		period:  uint32(blinkConf.Period),
		level:   uint32(blinkConf.Level),
	}
	if bl.out == nil {
		return device.ErrNotActive
	}
	if blinkConf.Serial != "" {
		bl.report = b.Device(blinkConf.Serial)
	}
	table := []task.Slot{
		{Callback: bl.state, Args: uint32(0)},
		{Callback: bl.state, Args: bl.level},
		{Callback: bl.control},
	}
	if err := b.AddTask(&bl.Task, "blink", table, 16); err != nil {
		return err
	}
	bl.Start()
	return bl.TransitionState(slotOff)
}

func (bl *blinker) state(t *task.Task, args interface{}) error {
	index, _ := t.State()
	switch t.Event() {
	case task.EventStateEnter:
		if err := bl.output(args.(uint32)); err != nil {
			return err
		}
		if bl.paused {
			return nil
		}
		return t.Timing(index, bl.period, task.Oneshot)
	case task.EventTiming:
		return t.TransitionState(slotOn - index)
	}
	return nil
}

func (bl *blinker) control(t *task.Task, args interface{}) error {
	ev := t.Event()
	if !ev.IsUser() {
		return nil
	}
	index, _ := t.State()
	bl.paused = ev == 0
	if bl.paused {
		glog.Info("blink paused")
		return t.Timing(index, 0, task.Oneshot)
	}
	bl.period = uint32(ev) * 10
	glog.Infof("blink period %d", bl.period)
	return t.Timing(index, bl.period, task.Oneshot)
}

func (bl *blinker) output(level uint32) error {
	if err := bl.out.Ioctl(bl.channel, dac.CmdSetChannelState, true); err != nil {
		return err
	}
	if _, err := bl.out.Write(bl.channel, dac.EncodeSamples(level)); err != nil {
		return err
	}
	if bl.report != nil {
		msg := "off\n"
		if level != 0 {
			msg = "on\n"
		}
		if _, err := bl.report.Write(0, []byte(msg)); err != nil {
			return err
		}
	}
	return nil
}
