package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	arbitercmd "github.com/louisbranch/foeveil/internal/cmd/arbiter"
)

func main() {
	cfg, err := arbitercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[ARBITER] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := arbitercmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
