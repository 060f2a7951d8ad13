package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"log"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/golang/glog"

	"github.com/robotalks/mr.go/pkg/autoinit"
	"github.com/robotalks/mr.go/pkg/board"
	"github.com/robotalks/mr.go/pkg/cli/sh"
	fx "github.com/robotalks/mr.go/pkg/framework"
	"github.com/robotalks/mr.go/pkg/task"
)

var (
	shell bool
	watch bool
)

func init() {
	board.SetupFlags()
	task.SetupFlags()
	sh.SetupFlags()
	setupBlinkFlags()
	flag.BoolVar(&shell, "shell", shell, "Run the shell on the board.")
	flag.BoolVar(&watch, "watch", watch, "Rebuild the board when the config file changes.")
}

func newBoard() (*board.Board, error) {
	conf, err := board.NewConfig()
	if err != nil {
		return nil, err
	}
	b, err := conf.NewBoard()
	if err != nil {
		return nil, err
	}
	b.Register(autoinit.StageModule, "blink", func() error {
		return addBlinker(b)
	})
	return b, b.Init()
}

// simulator runs boards until ctx is done, a new board replaces the
// running one whenever the config file changes.
type simulator struct{}

func (s *simulator) Run(ctx context.Context) error {
	defer notify(daemon.SdNotifyStopping)
	for {
		reload, err := s.runBoard(ctx)
		if err != nil || !reload {
			return err
		}
		notify(daemon.SdNotifyReloading)
		glog.Infof("config %s changed, reloading", board.ConfigFile())
	}
}

func (s *simulator) runBoard(ctx context.Context) (reload bool, err error) {
	b, err := newBoard()
	if err != nil {
		return false, err
	}
	boardCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runner := fx.NewRunnerWith(boardCtx).Go(fx.NamedRun("board", fx.RunFunc(func(ctx context.Context) error {
		defer cancel()
		return b.Run(ctx)
	})))
	if watch && board.ConfigFile() != "" {
		runner.Go(&board.ConfigWatcher{
			Path: board.ConfigFile(),
			Changed: func() {
				reload = true
				cancel()
			},
		})
	}
	notify(daemon.SdNotifyReady)
	err = runner.Wait()
	return reload && ctx.Err() == nil, err
}

func notify(state string) {
	if sent, err := daemon.SdNotify(false, state); err != nil {
		glog.Warningf("sd_notify %s: %v", state, err)
	} else if sent {
		glog.V(1).Infof("sd_notify %s", state)
	}
}

func main() {
	flag.Parse()

	if !shell {
		runner := fx.NewRunner().HandleSignals().Go(fx.NamedRun("sim", &simulator{}))
		if err := runner.Wait(); err != nil {
			log.Fatalln(err)
		}
		return
	}

	b, err := newBoard()
	if err != nil {
		log.Fatalln(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	sh.New(b).Run(flag.Args()...)
	cancel()
	if err := <-done; err != nil && err != context.Canceled {
		log.Fatalln(err)
	}
}
