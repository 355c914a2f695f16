package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"flightcore/internal/config"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(cfg)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}

	log.Printf("flightcore starting (sim=%t)", cfg.Sim.Enable)
	if err := rt.run(ctx); err != nil {
		log.Printf("flightcore stopped: %v", err)
		os.Exit(1)
	}
	log.Printf("flightcore stopping")
}
