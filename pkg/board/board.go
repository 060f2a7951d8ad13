package board

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/mr.go/pkg/autoinit"
	"github.com/robotalks/mr.go/pkg/board/virtual"
	"github.com/robotalks/mr.go/pkg/bridge"
	"github.com/robotalks/mr.go/pkg/bridge/link"
	"github.com/robotalks/mr.go/pkg/bridge/mqtt"
	"github.com/robotalks/mr.go/pkg/bridge/stream"
	"github.com/robotalks/mr.go/pkg/bridge/websocket"
	"github.com/robotalks/mr.go/pkg/device"
	"github.com/robotalks/mr.go/pkg/device/dac"
	"github.com/robotalks/mr.go/pkg/device/serial"
	"github.com/robotalks/mr.go/pkg/device/timer"
	fx "github.com/robotalks/mr.go/pkg/framework"
	"github.com/robotalks/mr.go/pkg/object"
	"github.com/robotalks/mr.go/pkg/task"
	"github.com/robotalks/mr.go/pkg/telemetry"
)

// Board owns the registry, the devices and the loop.
type Board struct {
	Config   *Config
	Registry *object.Container
	Loop     *fx.Loop
	Stats    *bridge.StatsReporter
	Inits    *autoinit.Table

	drivers   map[string]interface{}
	opened    []*device.Device
	announcer *mqtt.Announcer

	lock sync.Mutex
}

// NewBoard creates a Board from the config. Devices are declared in
// autoinit stages, they exist after Init.
func (c *Config) NewBoard() (*Board, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	b := &Board{
		Config:   c,
		Registry: object.NewContainer(),
		Loop:     fx.NewLoop(),
		Stats:    &bridge.StatsReporter{Interval: c.StatsInterval()},
		Inits:    &autoinit.Table{},
		drivers:  make(map[string]interface{}),
	}
	b.Loop.Interval = c.Interval()
	b.Loop.TickUnit = c.TickUnit()
	b.Loop.ExternalTick = c.TickTimer != ""

	for n := range c.Devices {
		dev := &c.Devices[n]
		b.Inits.Register(autoinit.StageDriver, dev.Name, func() error {
			return b.createDriver(dev)
		})
		b.Inits.Register(autoinit.StageDevice, dev.Name, func() error {
			return b.registerDevice(dev)
		})
	}
	b.Inits.Register(autoinit.StageModule, "bridges", b.setupBridges)
	return b, nil
}

// Register adds an initializer, applications add their tasks at
// autoinit.StageModule.
func (b *Board) Register(stage autoinit.Stage, name string, fn autoinit.Func) error {
	return b.Inits.Register(stage, name, fn)
}

// Init runs all initializers.
func (b *Board) Init() error {
	return b.Inits.Run()
}

// Driver returns the virtual driver behind a device.
func (b *Board) Driver(name string) interface{} {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.drivers[name]
}

func (b *Board) createDriver(dev *DeviceConfig) error {
	var drv interface{}
	switch dev.Kind {
	case KindSerial:
		drv = &virtual.Loopback{}
	case KindTimer:
		drv = &virtual.Ticker{}
	case KindDAC:
		drv = &virtual.Memory{}
	default:
		return device.ErrNotSupported
	}
	b.lock.Lock()
	b.drivers[dev.Name] = drv
	b.lock.Unlock()
	return nil
}

func (b *Board) registerDevice(dev *DeviceConfig) error {
	drv := b.Driver(dev.Name)
	if drv == nil {
		return device.ErrNotActive
	}
	var err error
	switch d := drv.(type) {
	case *virtual.Loopback:
		_, err = serial.RegisterIn(b.Registry, dev.Name, d)
	case *virtual.Ticker:
		_, err = timer.RegisterIn(b.Registry, dev.Name, d, virtual.TickerInfo)
	case *virtual.Memory:
		_, err = dac.RegisterIn(b.Registry, dev.Name, d)
	}
	return err
}

// Device looks up a device of the board.
func (b *Board) Device(name string) *device.Device {
	return device.FindIn(b.Registry, name)
}

// Devices lists device names in order.
func (b *Board) Devices() []string {
	return device.List(b.Registry)
}

// Open opens a device and, on the first open, applies its configuration.
func (b *Board) Open(name string, flags device.Flags) (*device.Device, error) {
	dev := b.Device(name)
	if dev == nil {
		return nil, object.ErrNotFound
	}
	if err := dev.Open(flags); err != nil {
		return nil, err
	}
	if dev.Refs() > 1 {
		return dev, nil
	}
	conf := b.Config.FindDevice(name)
	if conf == nil {
		return dev, nil
	}
	if err := applyConfig(dev, conf); err != nil {
		dev.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return dev, nil
}

func applyConfig(dev *device.Device, conf *DeviceConfig) error {
	if conf.Serial != nil {
		if err := dev.Ioctl(0, device.CmdSetConfig, *conf.Serial); err != nil {
			return err
		}
	}
	if conf.RxBufSize != nil {
		if err := dev.Ioctl(0, device.CmdSetRxBufSize, *conf.RxBufSize); err != nil {
			return err
		}
	}
	if conf.TxBufSize != nil {
		if err := dev.Ioctl(0, device.CmdSetTxBufSize, *conf.TxBufSize); err != nil {
			return err
		}
	}
	if conf.Timer != nil {
		if err := dev.Ioctl(0, device.CmdSetConfig, *conf.Timer); err != nil {
			return err
		}
	}
	for _, ch := range conf.Channels {
		if err := dev.Ioctl(ch, dac.CmdSetChannelState, true); err != nil {
			return err
		}
	}
	return nil
}

// AddTask adds a task to the board registry and schedules it on the loop.
func (b *Board) AddTask(t *task.Task, name string, table []task.Slot, queueSize int) error {
	t.Registry = b.Registry
	if err := t.Add(name, table, queueSize); err != nil {
		return err
	}
	b.Loop.AddTask(t)
	return nil
}

// RemoveTask unschedules and unregisters t. It waits for the running loop
// iteration, so it must not be called from a task callback.
func (b *Board) RemoveTask(t *task.Task) error {
	b.Loop.RemoveTask(t)
	return t.Remove()
}

// Task looks up a task of the board.
func (b *Board) Task(name string) *task.Task {
	return task.FindIn(b.Registry, name)
}

// Tasks lists task names in order.
func (b *Board) Tasks() []string {
	return b.Registry.List(object.KindTask)
}

// Info describes the board for discovery.
func (b *Board) Info() mqtt.BoardInfo {
	return mqtt.BoardInfo{
		ID:          b.Config.ID,
		Description: b.Config.Description,
		Devices:     b.Devices(),
		Tasks:       b.Tasks(),
	}
}

func (b *Board) setupBridges() error {
	if b.Config.TickTimer != "" {
		b.Loop.AddRunnable(&tickSource{board: b, name: b.Config.TickTimer})
	}
	if b.Config.MQTTBrokerURL != "" {
		announcer, err := mqtt.NewAnnouncer(b.Config.MQTTBrokerURL, mqtt.BoardInfo{ID: b.Config.ID})
		if err != nil {
			return err
		}
		b.announcer = announcer
		b.Loop.AddRunnable(announcer)
		b.Stats.AddSink(&mqtt.StatsPublisher{Queue: announcer.Queue, Board: b.Config.ID})
	}
	b.Loop.Add(b.Stats)
	if len(b.Config.Schedules) > 0 {
		sched, err := b.newScheduler()
		if err != nil {
			return err
		}
		b.Loop.AddRunnable(sched)
	}

	var errs fx.AggregatedError
	for _, br := range b.Config.Bridges {
		errs.Add(b.addBridge(br))
	}
	return errs.Aggregate()
}

func (b *Board) addBridge(br BridgeConfig) error {
	if br.Link {
		b.Loop.AddRunnable(&linkSession{board: b, name: br.Device})
		return nil
	}
	serve := b.controlSession
	if br.Device != "" {
		serve = b.serialSession(br.Device)
	}
	if br.Stream != "" {
		server, err := stream.Listen(br.Stream, func(ctx context.Context, rw *stream.ReadWriter) error {
			return serve(ctx, rw)
		})
		if err != nil {
			return err
		}
		glog.Infof("bridge %q on tcp %s", br.Device, server.Listener.Addr())
		b.Loop.AddRunnable(server)
	}
	if br.Websocket != "" {
		b.Loop.AddRunnable(&websocket.Server{
			Addr: br.Websocket,
			Serve: func(ctx context.Context, rw *websocket.ReadWriter) error {
				return serve(ctx, rw)
			},
		})
	}
	if br.MQTT {
		rw := mqtt.NewPacketReadWriter(b.announcer.Queue)
		if br.Device != "" {
			rw.ForDevice(b.Config.ID, br.Device)
			b.Loop.Add(bridge.NewSerialPipe(b.Device(br.Device), rw))
		} else {
			rw.ForControl(b.Config.ID)
			b.Loop.Add(&bridge.ControlPipe{
				Registry:   b.Registry,
				ReadWriter: rw,
				Limiter:    bridge.NewLimiter(b.Config.ControlRate),
			})
		}
	}
	return nil
}

type session func(ctx context.Context, rw bridge.PacketReadWriter) error

func (b *Board) serialSession(name string) session {
	return func(ctx context.Context, rw bridge.PacketReadWriter) error {
		dev := b.Device(name)
		if dev == nil {
			return object.ErrNotFound
		}
		return bridge.NewSerialPipe(dev, rw).Run(ctx)
	}
}

// controlSession executes commands from a connection and reports task
// statistics back on it.
func (b *Board) controlSession(ctx context.Context, rw bridge.PacketReadWriter) error {
	return b.serveControl(ctx, rw, &bridge.PacketStatsSink{Writer: rw})
}

func (b *Board) serveControl(ctx context.Context, rw bridge.PacketReadWriter, sink bridge.StatsSink) error {
	b.Stats.AddSink(sink)
	defer b.Stats.RemoveSink(sink)
	return (&bridge.ControlPipe{
		Registry:   b.Registry,
		ReadWriter: rw,
		Limiter:    bridge.NewLimiter(b.Config.ControlRate),
	}).Run(ctx)
}

// linkSession is the control channel over a serial port of the board.
type linkSession struct {
	board *Board
	name  string
}

func (s *linkSession) Name() string {
	return "link:" + s.name
}

func (s *linkSession) Run(ctx context.Context) error {
	dev := s.board.Device(s.name)
	if dev == nil {
		return object.ErrNotFound
	}
	port, err := bridge.OpenSerialPort(dev)
	if err != nil {
		return err
	}
	l := link.New(port)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	err = s.board.serveControl(ctx, l, &linkStatsSink{link: l})
	cancel()
	if linkErr := <-errCh; linkErr != context.Canceled {
		err = linkErr
	}
	return err
}

// linkStatsSink drops statistics while the link is not synchronized.
type linkStatsSink struct {
	link *link.Link
}

func (s *linkStatsSink) PublishStats(stats *telemetry.TaskStats) error {
	if !s.link.Status().Ready() {
		return nil
	}
	pkt, err := telemetry.Encode(stats)
	if err != nil {
		return err
	}
	if err = s.link.WritePacket(pkt); err == link.ErrTooLarge {
		glog.V(1).Infof("link: stats of %s too large for a frame", stats.Name)
		return nil
	}
	return err
}

// Run opens the declared devices and runs the loop until ctx is done.
func (b *Board) Run(ctx context.Context) error {
	for _, conf := range b.Config.Devices {
		flags := device.FlagRDWR
		if conf.Kind == KindDAC {
			flags = device.FlagWrite
		}
		dev, err := b.Open(conf.Name, flags)
		if err != nil {
			b.closeAll()
			return err
		}
		b.opened = append(b.opened, dev)
	}
	defer b.closeAll()
	if b.announcer != nil {
		info := b.Info()
		b.announcer.Info.Devices, b.announcer.Info.Tasks = info.Devices, info.Tasks
		b.announcer.Info.Description = info.Description
	}
	glog.Infof("board %s running: devices %v tasks %v", b.Config.ID, b.Devices(), b.Tasks())
	return b.Loop.Run(ctx)
}

func (b *Board) closeAll() {
	for n := len(b.opened) - 1; n >= 0; n-- {
		if err := b.opened[n].Close(); err != nil {
			glog.Warningf("close %s: %v", b.opened[n].Name(), err)
		}
	}
	b.opened = nil
}

// tickSource runs a timer device periodically and ticks every task of the
// loop from its interrupt.
type tickSource struct {
	board *Board
	name  string
}

func (s *tickSource) Name() string {
	return "tick:" + s.name
}

func (s *tickSource) Run(ctx context.Context) error {
	dev, err := s.board.Open(s.name, device.FlagRDWR)
	if err != nil {
		return err
	}
	defer dev.Close()
	tim := timer.From(dev)
	conf := tim.Config()
	conf.Mode = timer.Periodic
	if err := dev.Ioctl(0, device.CmdSetConfig, conf); err != nil {
		return err
	}
	loop := s.board.Loop
	if err := dev.Ioctl(0, device.CmdSetRxCallback, func(*device.Device, int) {
		for _, t := range loop.Tasks() {
			t.Tick(1)
		}
	}); err != nil {
		return err
	}
	defer dev.Ioctl(0, device.CmdSetRxCallback, nil)
	if _, err := dev.Write(0, timer.EncodeTimeout(uint32(loop.TickUnit.Microseconds()))); err != nil {
		return err
	}
	defer dev.Ioctl(0, device.CmdStop, nil)
	<-ctx.Done()
	return ctx.Err()
}
