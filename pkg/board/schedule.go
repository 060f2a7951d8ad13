package board

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/robfig/cron/v3"

	"github.com/robotalks/mr.go/pkg/task"
)

// ScheduleConfig posts a user event to a task on a wall clock schedule,
// e.g. cron: "0 */5 * * * *" or cron: "@every 2s".
type ScheduleConfig struct {
	Cron  string `yaml:"cron"`
	Task  string `yaml:"task"`
	Slot  int    `yaml:"slot"`
	Event int    `yaml:"event"`
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func (s *ScheduleConfig) validate() error {
	if _, err := cronParser.Parse(s.Cron); err != nil {
		return fmt.Errorf("board config: schedule %q: %w", s.Cron, err)
	}
	if s.Task == "" {
		return fmt.Errorf("board config: schedule %q: task required", s.Cron)
	}
	if s.Slot < 0 || s.Slot >= task.MaxSlots {
		return fmt.Errorf("board config: schedule %q: invalid slot %d", s.Cron, s.Slot)
	}
	if s.Event < 0 || s.Event > int(task.EventUserMax) {
		return fmt.Errorf("board config: schedule %q: invalid event %d", s.Cron, s.Event)
	}
	return nil
}

// scheduler runs the configured schedules while the board runs. Tasks
// are looked up when a schedule fires, so they may be added after Init.
type scheduler struct {
	board *Board
	cron  *cron.Cron
}

func (b *Board) newScheduler() (*scheduler, error) {
	s := &scheduler{board: b, cron: cron.New(cron.WithParser(cronParser))}
	for n := range b.Config.Schedules {
		conf := b.Config.Schedules[n]
		if _, err := s.cron.AddFunc(conf.Cron, func() { s.fire(&conf) }); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *scheduler) Name() string {
	return "scheduler"
}

func (s *scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return ctx.Err()
}

// fire posts on the mainline, where tasks are removed.
func (s *scheduler) fire(conf *ScheduleConfig) {
	s.board.Loop.Exec(func() {
		t := s.board.Task(conf.Task)
		if t == nil {
			glog.Warningf("schedule %q: task %q not found", conf.Cron, conf.Task)
			return
		}
		if err := t.PostEvent(conf.Slot, task.Event(conf.Event)); err != nil {
			glog.Errorf("schedule %q: [%s -> %d] post [%d] failed: %v",
				conf.Cron, conf.Task, conf.Slot, conf.Event, err)
		}
	})
}
