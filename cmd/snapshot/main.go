package main

import (
	"context"
	"flag"
	"log"
	"time"

	"canvas-sync/internal/config"
	"canvas-sync/internal/snapshot"
)

func main() {
	var (
		cfgPath    = flag.String("config", config.DefaultPath, "path to the toml config file")
		outPath    = flag.String("out", "", "archive path (default course-<timestamp>.tar.br)")
		uploadSFTP = flag.Bool("sftp", false, "upload the archive via SFTP after packing")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	out := *outPath
	if out == "" {
		out = snapshot.Name(time.Now())
	}

	start := time.Now()
	if err := snapshot.Pack(cfg.Sync.Root, out); err != nil {
		log.Fatal(err)
	}
	log.Printf("packed %s into %s in %s", cfg.Sync.Root, out, time.Since(start).Round(time.Millisecond))

	if *uploadSFTP {
		upCtx, upCancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer upCancel()

		if err := snapshot.Upload(upCtx, cfg.SFTP, out); err != nil {
			log.Fatal(err)
		}
		log.Printf("uploaded to sftp://%s:%d%s", cfg.SFTP.Host, cfg.SFTP.Port, cfg.SFTP.RemoteDir)
	}
}
