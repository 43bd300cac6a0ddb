package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the full tool configuration: the [canvas] API endpoint, the
// [sync] behavior (local root, ignore patterns, worker bound) and the
// optional [sftp] snapshot target. Values load from a TOML file first and
// environment variables second, so the token can stay out of the file.
type Config struct {
	Canvas CanvasConfig `toml:"canvas"`
	Sync   SyncConfig   `toml:"sync"`
	SFTP   SFTPConfig   `toml:"sftp"`
}

type CanvasConfig struct {
	BaseURL  string `toml:"base_url"`
	Token    string `toml:"token"`
	CourseID int64  `toml:"course_id"`
}

type SyncConfig struct {
	// Root is the local directory holding the synced course tree.
	Root string `toml:"root"`

	// Ignore holds gitignore-style patterns from the config file. Patterns
	// from the ignore file inside Root layer on top of these.
	Ignore []string `toml:"ignore"`

	// IgnoreFile is the name of the per-tree ignore file, relative to Root.
	IgnoreFile string `toml:"ignore_file"`

	Workers  int `toml:"workers"`
	PageSize int `toml:"page_size"`
}

type SFTPConfig struct {
	Host                  string `toml:"host"`
	Port                  int    `toml:"port"`
	User                  string `toml:"user"`
	Pass                  string `toml:"pass"`
	RemoteDir             string `toml:"remote_dir"`
	InsecureIgnoreHostKey bool   `toml:"insecure_ignore_hostkey"`
}

// DefaultPath is where Load looks when no -config flag is given.
const DefaultPath = "canvas-sync.toml"

// Load reads the config file at path (a missing file is fine, env can carry
// everything) and applies environment overrides and defaults.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
			}
		}
	}

	// Env overrides
	cfg.Canvas.BaseURL = getenv("CANVAS_BASE_URL", cfg.Canvas.BaseURL)
	cfg.Canvas.Token = getenv("CANVAS_TOKEN", cfg.Canvas.Token)
	cfg.Canvas.CourseID = getenvInt64("CANVAS_COURSE_ID", cfg.Canvas.CourseID)

	cfg.Sync.Root = getenv("CANVAS_SYNC_ROOT", cfg.Sync.Root)
	cfg.Sync.Workers = getenvInt("CANVAS_SYNC_WORKERS", cfg.Sync.Workers)

	cfg.SFTP.Host = getenv("SFTP_HOST", cfg.SFTP.Host)
	cfg.SFTP.Port = getenvInt("SFTP_PORT", cfg.SFTP.Port)
	cfg.SFTP.User = getenv("SFTP_USER", cfg.SFTP.User)
	cfg.SFTP.Pass = getenv("SFTP_PASS", cfg.SFTP.Pass)
	cfg.SFTP.RemoteDir = getenv("SFTP_DIR", cfg.SFTP.RemoteDir)
	cfg.SFTP.InsecureIgnoreHostKey = getenvBool("SFTP_INSECURE_IGNORE_HOSTKEY", cfg.SFTP.InsecureIgnoreHostKey)

	// Defaults
	if cfg.Sync.Root == "" {
		cfg.Sync.Root = "."
	}
	if cfg.Sync.IgnoreFile == "" {
		cfg.Sync.IgnoreFile = ".canvasignore"
	}
	if cfg.Sync.Workers <= 0 {
		cfg.Sync.Workers = 8
	}
	if cfg.Sync.PageSize <= 0 {
		cfg.Sync.PageSize = 50
	}
	if cfg.SFTP.Port <= 0 {
		cfg.SFTP.Port = 22
	}
	if cfg.SFTP.RemoteDir == "" {
		cfg.SFTP.RemoteDir = "/snapshots"
	}

	return cfg, nil
}

// ValidateCanvas checks the fields every API-facing command needs.
func (c Config) ValidateCanvas() error {
	if c.Canvas.BaseURL == "" {
		return errors.New("config: missing canvas base_url (or env CANVAS_BASE_URL)")
	}
	if c.Canvas.Token == "" {
		return errors.New("config: missing canvas token (or env CANVAS_TOKEN)")
	}
	if c.Canvas.CourseID <= 0 {
		return errors.New("config: missing canvas course_id (or env CANVAS_COURSE_ID)")
	}
	return nil
}

func getenv(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvInt64(k string, def int64) int64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
