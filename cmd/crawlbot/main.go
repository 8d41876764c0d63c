// Command crawlbot runs the bar crawl WhatsApp bot: the webhook server, the
// task workers and the crawl schedulers, all in one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/barcrawlhq/crawlbot/internal/app"
	"github.com/barcrawlhq/crawlbot/internal/config"
)

func main() {
	cfgPath := flag.String("config", "", "path to config file (optional, env vars apply either way)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "running: %v\n", err)
		os.Exit(1)
	}
}
