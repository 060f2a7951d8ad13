package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"log"
	"os"

	"github.com/robotalks/mr.go/pkg/cli/sh"
)

var target = os.Getenv("MR_BOARD_URL")

func init() {
	sh.SetupFlags()
	flag.StringVar(&target, "board", target, "Board to connect, e.g. tcp://localhost:7300.")
}

func main() {
	flag.Parse()
	s := sh.New(nil)
	if target != "" {
		if err := s.Connect(target); err != nil {
			log.Fatalf("connect %q failed: %v", target, err)
		}
		defer s.Disconnect()
	}
	s.Run(flag.Args()...)
}
