package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	viewercmd "github.com/louisbranch/foeveil/internal/cmd/viewer"
)

func main() {
	cfg, err := viewercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[VIEWER] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := viewercmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to run: %v", err)
	}
}
