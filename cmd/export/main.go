package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"canvas-sync/internal/canvas"
	"canvas-sync/internal/config"
	"canvas-sync/internal/ignore"
	"canvas-sync/internal/store"
	"canvas-sync/internal/sync"
)

func main() {
	var (
		cfgPath  = flag.String("config", config.DefaultPath, "path to the toml config file")
		progress = flag.Bool("progress", true, "draw a progress bar")
		timeout  = flag.Duration("timeout", 2*time.Hour, "overall run timeout")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.ValidateCanvas(); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	st, err := store.Open(filepath.Join(cfg.Sync.Root, store.DBFileName))
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	matcher, err := ignore.New(cfg.Sync.Ignore, filepath.Join(cfg.Sync.Root, cfg.Sync.IgnoreFile))
	if err != nil {
		log.Fatal(err)
	}

	client := canvas.New(cfg.Canvas.BaseURL, cfg.Canvas.Token, cfg.Canvas.CourseID)
	client.PageSize = cfg.Sync.PageSize

	e := &sync.Exporter{
		Client:   client,
		Store:    st,
		Ignore:   matcher,
		Root:     cfg.Sync.Root,
		Workers:  cfg.Sync.Workers,
		Progress: *progress,
	}

	start := time.Now()
	rep, err := e.Run(ctx)
	if rep != nil && len(rep.Results) > 0 {
		log.Printf("run %s\n%s", rep.RunID, rep.Summary())
	}
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("export done in %s", time.Since(start).Round(time.Millisecond))
	if rep.HasProblems() {
		os.Exit(1)
	}
}
