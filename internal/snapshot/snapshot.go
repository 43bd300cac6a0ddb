// Package snapshot archives the local course tree into a brotli-compressed
// tarball and ships it to an SFTP drop directory, so a course state can be
// kept around before risky bulk edits.
package snapshot

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"canvas-sync/internal/config"
)

// Name returns the archive file name for a snapshot taken at the given time.
func Name(now time.Time) string {
	return fmt.Sprintf("course-%s.tar.br", now.UTC().Format("20060102-150405"))
}

// Pack archives root into a brotli-compressed tar at outPath. Dot-prefixed
// entries stay out, which also covers the mapping database and the ignore
// file: the snapshot captures content, not sync state.
func Pack(root, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("snapshot: create %s: %w", outPath, err)
	}

	bw := brotli.NewWriterLevel(out, brotli.BestCompression)
	tw := tar.NewWriter(bw)

	absOut, _ := filepath.Abs(outPath)
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if abs, _ := filepath.Abs(p); abs == absOut {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		out.Close()
		os.Remove(outPath)
		return fmt.Errorf("snapshot: pack %s: %w", root, walkErr)
	}

	if err := tw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("snapshot: close tar: %w", err)
	}
	if err := bw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("snapshot: close compressor: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("snapshot: close %s: %w", outPath, err)
	}
	return nil
}

// Upload ships one archive into cfg.RemoteDir, creating the directory if
// needed. The remote file keeps the local base name.
func Upload(ctx context.Context, cfg config.SFTPConfig, localPath string) error {
	if cfg.Host == "" || cfg.User == "" || cfg.Pass == "" {
		return fmt.Errorf("snapshot: missing env SFTP_HOST / SFTP_USER / SFTP_PASS")
	}
	port := cfg.Port
	if port <= 0 {
		port = 22
	}
	remoteDir := cfg.RemoteDir
	if remoteDir == "" {
		remoteDir = "/"
	}

	// TODO: validar contra known_hosts en lugar de aceptar cualquier clave.
	sshCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(cfg.Pass)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         20 * time.Second,
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, port)

	// ctx para timeout/cancel
	type dialRes struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialRes, 1)
	go func() {
		c, err := ssh.Dial("tcp", addr, sshCfg)
		ch <- dialRes{client: c, err: err}
	}()

	var sshClient *ssh.Client
	select {
	case <-ctx.Done():
		return fmt.Errorf("snapshot: dial canceled: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("snapshot: dial %s: %w", addr, r.err)
		}
		sshClient = r.client
	}
	defer sshClient.Close()

	cli, err := sftp.NewClient(sshClient)
	if err != nil {
		return fmt.Errorf("snapshot: sftp client: %w", err)
	}
	defer cli.Close()

	if err := cli.MkdirAll(remoteDir); err != nil {
		return fmt.Errorf("snapshot: mkdir %s: %w", remoteDir, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("snapshot: open %s: %w", localPath, err)
	}
	defer src.Close()

	remotePath := path.Join(remoteDir, filepath.Base(localPath))
	dst, err := cli.Create(remotePath)
	if err != nil {
		return fmt.Errorf("snapshot: create remote %s: %w", remotePath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("snapshot: upload copy: %w", err)
	}
	return nil
}
