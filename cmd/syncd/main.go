// Command syncd wires the Inkwell sync core together for local inspection:
// it opens the queue database, reports pending state, and shuts down
// cleanly. The remote write adapter is supplied by the host application;
// syncd runs with delivery gated off.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/quillforge/inkwell/internal/config"
	"github.com/quillforge/inkwell/internal/logging"
	"github.com/quillforge/inkwell/internal/queue"
	"github.com/quillforge/inkwell/internal/store"
)

// Version is set at build time.
var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("inkwell syncd v%s\n", Version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "syncd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Init(os.Stdout, logging.ParseLevel(cfg.Log.Level))

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	q := queue.New(st, nil, cfg.QueueConfig())
	if err := q.Init(); err != nil {
		q.CloseAndWait()
		return err
	}

	stats := q.GetStats()
	fmt.Printf("pending=%d syncing=%d failed=%d oldest_pending_at=%d\n",
		stats.Pending, stats.Syncing, stats.Failed, stats.OldestPendingAt)

	return q.CloseAndWait()
}
