package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"canvas-sync/internal/canvas"
	"canvas-sync/internal/config"
	"canvas-sync/internal/content"
	"canvas-sync/internal/ignore"
	"canvas-sync/internal/localfs"
	"canvas-sync/internal/store"
	"canvas-sync/internal/sync"
)

func main() {
	var (
		cfgPath = flag.String("config", config.DefaultPath, "path to the toml config file")
		dates   = flag.Bool("dates", true, "list items with date gates")
		timeout = flag.Duration("timeout", 30*time.Minute, "overall run timeout")
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

	imp := &sync.Importer{
		Client:  client,
		Store:   st,
		Ignore:  matcher,
		Root:    cfg.Sync.Root,
		Workers: cfg.Sync.Workers,
		DryRun:  true,
	}

	rep, err := imp.Run(ctx)
	if err != nil {
		log.Fatal(err)
	}

	pending := 0
	for _, res := range rep.Results {
		if res.State == sync.StateUnchanged && res.Err == nil {
			continue
		}
		pending++
		id := res.RemoteID
		if id == "" {
			id = "-"
		}
		if res.Err != nil {
			fmt.Printf("%-14s %s (%s, remote %s): %v\n", res.State, res.Path, res.Kind, id, res.Err)
		} else {
			fmt.Printf("%-14s %s (%s, remote %s)\n", res.State, res.Path, res.Kind, id)
		}
	}
	if pending == 0 {
		fmt.Println("everything in sync")
	}

	if *dates {
		printDates(cfg.Sync.Root, matcher)
	}

	fmt.Println(rep.Summary())
}

// printDates lists every item carrying a date gate, one compact line each.
func printDates(root string, matcher *ignore.Matcher) {
	tree, _ := localfs.BuildTree(root, matcher)

	var any bool
	tree.Walk(func(_, item *content.Item) error {
		entries := content.DateEntries(item.Meta)
		if entries == "" {
			return nil
		}
		if !any {
			fmt.Println("\ndated items:")
			any = true
		}
		fmt.Printf("  %s %s %s\n", item.Path, item.Title, entries)
		return nil
	})
}
