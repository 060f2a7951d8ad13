// Package sh is the board shell. Commands work on a local board or, for
// task commands, through the control channel of a remote board.
package sh

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/abiosoft/ishell"
	"github.com/sugawarayuuta/sonnet"

	"github.com/robotalks/mr.go/pkg/board"
	"github.com/robotalks/mr.go/pkg/task"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool
	// MQTTBrokerURL is used by discover.
	MQTTBrokerURL string

	Shell  *ishell.Shell
	Board  *board.Board
	Remote *Remote
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	errNoBoard      = errors.New("no local board")
	errNotConnected = errors.New("not connected")

	// flags

	evalOnly      bool
	outputJSON    bool
	mqttBrokerURL = os.Getenv("MR_MQTT_URL")

	commands = []*ishell.Cmd{
		&DiscoverCmd,
		&ConnectCmd,
		&DisconnectCmd,
		&TaskListCmd,
		&TaskStartCmd,
		&TaskStopCmd,
		&TaskPostCmd,
		&TaskTickCmd,
		&TaskStateCmd,
		&TaskStatsCmd,
		&DevListCmd,
		&SerialWriteCmd,
		&SerialReadCmd,
		&DACWriteCmd,
	}
)

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
	flag.StringVar(&mqttBrokerURL, "discover-mqtt", mqttBrokerURL, "MQTT broker URL for discovery.")
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell, b is nil for a remote only shell.
func New(b *board.Board) *Shell {
	s := &Shell{
		Interactive:   !evalOnly,
		OutputJSON:    outputJSON,
		MQTTBrokerURL: mqttBrokerURL,

		Shell: ishell.New(),
		Board: b,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(s.prompt())
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

func (s *Shell) prompt() string {
	switch {
	case s.Remote != nil:
		return s.Remote.Name + " > "
	case s.Board != nil:
		return s.Board.Config.ID + " > "
	}
	return unconnectedPrompt
}

// Connect connects the control channel of a remote board.
func (s *Shell) Connect(target string) error {
	remote, err := DialRemote(target)
	if err != nil {
		return err
	}
	s.Disconnect()
	s.Remote = remote
	if s.Shell != nil {
		s.Shell.SetPrompt(s.prompt())
	}
	return nil
}

// Disconnect disconnects the remote board.
func (s *Shell) Disconnect() {
	if s.Remote != nil {
		s.Remote.Close()
		s.Remote = nil
		if s.Shell != nil {
			s.Shell.SetPrompt(s.prompt())
		}
	}
}

func (s *Shell) localBoard() (*board.Board, error) {
	if s.Board == nil {
		return nil, errNoBoard
	}
	return s.Board, nil
}

func (s *Shell) findTask(name string) (*task.Task, error) {
	b, err := s.localBoard()
	if err != nil {
		return nil, err
	}
	if t := b.Task(name); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("task %q not found", name)
}

// onMainline runs fn against a local task on the board loop, which then
// dispatches without waiting for the interval.
func (s *Shell) onMainline(name string, fn func(*task.Task) error) error {
	b, err := s.localBoard()
	if err != nil {
		return err
	}
	return b.Loop.Call(func() error {
		t := b.Task(name)
		if t == nil {
			return fmt.Errorf("task %q not found", name)
		}
		return fn(t)
	})
}

func (s *Shell) print(c *ishell.Context, v interface{}, text string) {
	if s.OutputJSON {
		out, err := sonnet.Marshal(v)
		if err != nil {
			c.Err(err)
			return
		}
		c.Println(string(out))
		return
	}
	c.Println(text)
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}
