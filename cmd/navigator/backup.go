package main

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vicpeacock/knowledge-navigator/internal/config"
)

// runBackup archives the data directory (database, WAL files) as a
// zstd-compressed tarball. The NATS store directory is skipped; the bus
// rebuilds it on startup.
func runBackup(args []string) error {
	var outputPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-o", "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for %s", args[i])
			}
			i++
			outputPath = args[i]
		}
	}
	if outputPath == "" {
		outputPath = fmt.Sprintf("navigator-backup-%s.tar.zst", time.Now().Format("20060102-150405"))
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dataDir := filepath.Dir(cfg.Store.Path)
	exclude := ""
	if rel, err := filepath.Rel(dataDir, cfg.NATS.DataDir); err == nil && !strings.HasPrefix(rel, "..") {
		exclude = rel
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	files, size, err := archiveDir(out, dataDir, exclude)
	if err != nil {
		os.Remove(outputPath)
		return err
	}

	fmt.Printf("Backed up %d files (%s) to %s\n", files, formatSize(size), outputPath)
	return nil
}

// archiveDir writes dir as a zstd-compressed tar stream. Entry names are
// relative to dir; exclude names a subtree (relative to dir) to skip.
func archiveDir(w io.Writer, dir string, exclude string) (files int, size int64, err error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return 0, 0, fmt.Errorf("zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if exclude != "" && (rel == exclude || strings.HasPrefix(rel, exclude+string(filepath.Separator))) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
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
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := io.Copy(tw, f)
		if err != nil {
			return fmt.Errorf("archive %s: %w", rel, err)
		}
		files++
		size += n
		return nil
	})
	if err != nil {
		return files, size, fmt.Errorf("walk %s: %w", dir, err)
	}

	if err := tw.Close(); err != nil {
		return files, size, err
	}
	return files, size, zw.Close()
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d bytes", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
