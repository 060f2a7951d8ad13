package task

import (
	"flag"
	"os"
	"strconv"
)

// Config defines options applied when a task is added.
type Config struct {
	// TrackUsage records the peak queue usage on every post.
	TrackUsage bool
	// MaxQueueBytes caps the queue storage a single task may allocate.
	MaxQueueBytes int
}

var defaultConfig = Config{
	TrackUsage:    true,
	MaxQueueBytes: 64 * 1024,
}

func init() {
	if val := os.Getenv("MR_TASK_MAX_QUEUE_BYTES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			defaultConfig.MaxQueueBytes = n
		}
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.BoolVar(&defaultConfig.TrackUsage, "task-usage", defaultConfig.TrackUsage, "Track peak event queue usage.")
	flag.IntVar(&defaultConfig.MaxQueueBytes, "task-max-queue", defaultConfig.MaxQueueBytes, "Max event queue bytes per task.")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a config with defaults.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}
