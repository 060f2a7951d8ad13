// Package board assembles a simulated board: virtual devices, tasks on a
// Loop, and the bridges exposing both to the outside.
package board

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	yaml "github.com/goccy/go-yaml"

	"github.com/robotalks/mr.go/pkg/device/serial"
	"github.com/robotalks/mr.go/pkg/device/timer"
	"github.com/robotalks/mr.go/pkg/object"
)

// Device kinds in the config file.
const (
	KindSerial = "serial"
	KindTimer  = "timer"
	KindDAC    = "dac"
)

// DeviceConfig declares a virtual device.
type DeviceConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	Serial    *serial.Config `yaml:"serial,omitempty"`
	RxBufSize *int           `yaml:"rx-buf,omitempty"`
	TxBufSize *int           `yaml:"tx-buf,omitempty"`
	Timer     *timer.Config  `yaml:"timer,omitempty"`
	Channels  []int          `yaml:"channels,omitempty"`
}

// BridgeConfig exposes a serial device or, without Device, the task
// control channel.
type BridgeConfig struct {
	Device    string `yaml:"device,omitempty"`
	Stream    string `yaml:"stream,omitempty"`
	Websocket string `yaml:"websocket,omitempty"`
	MQTT      bool   `yaml:"mqtt,omitempty"`
	// Link runs the control channel on Device itself, framed by package
	// link, for a host attached to the serial port.
	Link bool `yaml:"link,omitempty"`
}

// Config defines the board.
type Config struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description,omitempty"`
	// IntervalMS is the period of loop iterations.
	IntervalMS int `yaml:"interval-ms"`
	// TickMS is the duration of a task tick.
	TickMS int `yaml:"tick-ms"`
	// TickTimer names a timer device driving task ticks instead of the loop.
	TickTimer string `yaml:"tick-timer,omitempty"`
	// StatsMS is the period of task statistics reports, 0 disables them.
	StatsMS int `yaml:"stats-ms"`
	// ControlRate limits commands per second on each control channel.
	ControlRate int `yaml:"control-rate,omitempty"`
	// MQTTBrokerURL enables the MQTT bridge,
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string `yaml:"mqtt,omitempty"`

	Devices   []DeviceConfig   `yaml:"devices"`
	Bridges   []BridgeConfig   `yaml:"bridges,omitempty"`
	Schedules []ScheduleConfig `yaml:"schedules,omitempty"`
}

var (
	defaultConfig = Config{
		IntervalMS: 10,
		TickMS:     1,
		StatsMS:    1000,
		Devices: []DeviceConfig{
			{Name: "uart1", Kind: KindSerial},
			{Name: "tim1", Kind: KindTimer},
			{Name: "dac1", Kind: KindDAC},
		},
	}

	configFile string
)

func init() {
	if val := os.Getenv("MR_BOARD_ID"); val != "" {
		defaultConfig.ID = val
	} else {
		defaultConfig.ID = MachineID()
	}
	if val := os.Getenv("MR_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("MR_BOARD_CONFIG"); val != "" {
		configFile = val
	}
}

// MachineID derives a short board ID from the machine, "mr" if the
// machine has none.
func MachineID() string {
	id, err := machineid.ProtectedID("mr")
	if err != nil || len(id) < 8 {
		return "mr"
	}
	return "mr-" + id[:8]
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&configFile, "config", configFile, "Board config file in YAML.")
	flag.StringVar(&defaultConfig.ID, "id", defaultConfig.ID, "Board ID.")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL.")
	flag.IntVar(&defaultConfig.IntervalMS, "interval", defaultConfig.IntervalMS, "Loop interval in milliseconds.")
	flag.IntVar(&defaultConfig.TickMS, "tick", defaultConfig.TickMS, "Task tick in milliseconds.")
	flag.StringVar(&defaultConfig.TickTimer, "tick-timer", defaultConfig.TickTimer, "Timer device driving task ticks.")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with defaults, then loads the config file
// given by -config or MR_BOARD_CONFIG if any.
func NewConfig() (*Config, error) {
	conf := defaultConfig
	conf.Devices = append([]DeviceConfig(nil), defaultConfig.Devices...)
	if configFile != "" {
		if err := conf.LoadFile(configFile); err != nil {
			return nil, err
		}
	}
	return &conf, nil
}

// LoadFile overrides c with the YAML file at path.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.Load(data)
}

// Load overrides c with YAML data and validates the result.
func (c *Config) Load(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("board config: %w", err)
	}
	return c.Validate()
}

// Interval returns the loop interval.
func (c *Config) Interval() time.Duration {
	if c.IntervalMS <= 0 {
		return 10 * time.Millisecond
	}
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// TickUnit returns the duration of a task tick.
func (c *Config) TickUnit() time.Duration {
	if c.TickMS <= 0 {
		return time.Millisecond
	}
	return time.Duration(c.TickMS) * time.Millisecond
}

// StatsInterval returns the report period, 0 if disabled.
func (c *Config) StatsInterval() time.Duration {
	if c.StatsMS <= 0 {
		return 0
	}
	return time.Duration(c.StatsMS) * time.Millisecond
}

// FindDevice returns the declaration of a device.
func (c *Config) FindDevice(name string) *DeviceConfig {
	for n := range c.Devices {
		if c.Devices[n].Name == name {
			return &c.Devices[n]
		}
	}
	return nil
}

// Validate checks names and references.
func (c *Config) Validate() error {
	if c.ID == "" || strings.ContainsAny(c.ID, "/+#") {
		return fmt.Errorf("board config: invalid id %q", c.ID)
	}
	names := make(map[string]bool)
	for _, dev := range c.Devices {
		if dev.Name == "" || len(dev.Name) > object.NameMax {
			return fmt.Errorf("board config: invalid device name %q", dev.Name)
		}
		if names[dev.Name] {
			return fmt.Errorf("board config: duplicated device %q", dev.Name)
		}
		names[dev.Name] = true
		switch dev.Kind {
		case KindSerial, KindTimer, KindDAC:
		default:
			return fmt.Errorf("board config: device %q: unknown kind %q", dev.Name, dev.Kind)
		}
	}
	if c.ControlRate < 0 {
		return fmt.Errorf("board config: invalid control-rate %d", c.ControlRate)
	}
	for n := range c.Schedules {
		if err := c.Schedules[n].validate(); err != nil {
			return err
		}
	}
	if c.TickTimer != "" {
		if dev := c.FindDevice(c.TickTimer); dev == nil || dev.Kind != KindTimer {
			return fmt.Errorf("board config: tick-timer %q is not a timer", c.TickTimer)
		}
	}
	for _, br := range c.Bridges {
		if br.Device != "" {
			if dev := c.FindDevice(br.Device); dev == nil || dev.Kind != KindSerial {
				return fmt.Errorf("board config: bridge device %q is not a serial port", br.Device)
			}
		}
		if br.Link {
			if br.Device == "" || br.Stream != "" || br.Websocket != "" || br.MQTT {
				return fmt.Errorf("board config: link bridge %q takes only a device", br.Device)
			}
			continue
		}
		if br.Stream == "" && br.Websocket == "" && !br.MQTT {
			return fmt.Errorf("board config: bridge %q has no transport", br.Device)
		}
		if br.MQTT && c.MQTTBrokerURL == "" {
			return fmt.Errorf("board config: bridge %q requires mqtt", br.Device)
		}
	}
	return nil
}
