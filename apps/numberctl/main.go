package main

import (
	"bufio"
	"context"
	"log"
	"os"
	"os/signal"

	"golang.org/x/term"

	"github.com/trezcool/nambari/core"
	"github.com/trezcool/nambari/services/examapi"
)

func main() {
	conf := core.NewConfig()
	logger := log.New(os.Stderr, "NUMBERCTL : ", log.LstdFlags)

	cli := commandLine{
		conf: conf,
		gw:   examapi.NewClient(conf),
		in:   bufio.NewReader(os.Stdin),
		out:  os.Stdout,
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cli.run(ctx, os.Args)
	stop()
	if err != nil {
		if err != errHelp {
			logger.Printf("error: %s\n", err)
		}
		os.Exit(1)
	}
}
