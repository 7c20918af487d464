package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	ctlcmd "github.com/louisbranch/foeveil/internal/cmd/arbiterctl"
)

func main() {
	cfg, err := ctlcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[ARBITERCTL] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctlcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to publish: %v", err)
	}
}
