// Package main implements the tessera binary: it opens a store, recovers
// any evaluation interrupted by a previous shutdown, and reports the state
// of the catalog.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tesseradata/tessera/internal/config"
	"github.com/tesseradata/tessera/internal/engine"
	"github.com/tesseradata/tessera/internal/udf"
	"github.com/tesseradata/tessera/internal/view"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Tessera - Multimodal Data Engine With Computed Columns\n\n")
		fmt.Fprintf(os.Stderr, "Usage: tessera [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tessera --data-dir /data/tessera\n")
		fmt.Fprintf(os.Stderr, "  tessera --config /etc/tessera/config.yaml\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  TESSERA_DATA_DIR     Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  TESSERA_MEDIA_TYPE   Media storage type (local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("tessera %s (%s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, dataDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fns := udf.NewRegistry()
	if err := udf.RegisterBuiltins(fns); err != nil {
		log.Fatalf("failed to register builtin functions: %v", err)
	}

	store, err := engine.Open(ctx, cfg, fns, view.NewRegistry())
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	stats, err := store.RecoverPending(ctx)
	if err != nil {
		log.Fatalf("failed to recover pending cells: %v", err)
	}
	computed, errored, skipped := stats.Totals()
	if computed+errored+skipped > 0 {
		log.Printf("recovered pending cells: %d computed, %d errored, %d skipped in %s",
			computed, errored, skipped, stats.Elapsed())
	}

	tables := store.Catalog().ListTables()
	log.Printf("tessera %s ready: data dir %s, %d tables", version, cfg.DataDir, len(tables))
	for _, name := range tables {
		snap, err := store.Catalog().Snapshot(name)
		if err != nil {
			continue
		}
		kind := "table"
		if snap.IsView {
			kind = "view"
		}
		log.Printf("  %s %q: version %d, %d columns", kind, name, snap.Version, len(snap.Columns))
	}

	<-ctx.Done()
	log.Println("shutting down")
}

func loadConfig(configFile, dataDir string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if v := os.Getenv("TESSERA_DATA_DIR"); v != "" && dataDir == "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TESSERA_MEDIA_TYPE"); v != "" {
		cfg.Media.Type = v
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
