package tfopkg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/untfo/tfopkg/internal/pathutil"
)

const defaultFilePerm = 0o644

// ExtractOption configures Extract.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	workers   int
	overwrite bool
	prefix    string
}

// ExtractWithWorkers sets the number of entries decrypted and written in parallel.
// Values <= 0 use GOMAXPROCS.
func ExtractWithWorkers(n int) ExtractOption {
	return func(c *extractConfig) {
		c.workers = n
	}
}

// ExtractWithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func ExtractWithOverwrite(overwrite bool) ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = overwrite
	}
}

// ExtractWithPrefix restricts extraction to entries under the given directory.
func ExtractWithPrefix(dir string) ExtractOption {
	return func(c *extractConfig) {
		c.prefix = pathutil.DirPrefix(dir)
	}
}

// ExtractStats reports what Extract did.
type ExtractStats struct {
	Files   int
	Skipped int
	Bytes   uint64
}

// Extract writes entry payloads under destDir, recreating their paths.
//
// Entries are processed in parallel; the first error cancels the rest.
// Entry names that would resolve outside destDir fail with ErrUnsafePath,
// and a file that is also the parent of another entry fails with
// ErrPathConflict, before anything is written.
func (a *Archive) Extract(ctx context.Context, destDir string, opts ...ExtractOption) (ExtractStats, error) {
	cfg := extractConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = runtime.GOMAXPROCS(0)
	}

	var todo []string
	for _, p := range a.paths {
		if !strings.HasPrefix(p, cfg.prefix) {
			continue
		}
		if !filepath.IsLocal(filepath.FromSlash(p)) {
			return ExtractStats{}, fmt.Errorf("extract %s: %w", p, ErrUnsafePath)
		}
		todo = append(todo, p)
	}
	if err := checkConflicts(todo); err != nil {
		return ExtractStats{}, err
	}

	var files, skipped atomic.Int64
	var written atomic.Uint64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for _, p := range todo {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dest := filepath.Join(destDir, filepath.FromSlash(p))
			if !cfg.overwrite {
				if _, err := os.Lstat(dest); err == nil {
					skipped.Add(1)
					return nil
				}
			}
			e, _ := a.lookup(p)
			content, err := a.readCached(e)
			if err != nil {
				return err
			}
			if err := writeFileAtomic(dest, content); err != nil {
				return fmt.Errorf("extract %s: %w", p, err)
			}
			files.Add(1)
			written.Add(uint64(len(content)))
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	stats := ExtractStats{
		Files:   int(files.Load()),
		Skipped: int(skipped.Load()),
		Bytes:   written.Load(),
	}
	if err != nil {
		return stats, err
	}
	a.log().Info("extracted package", "dest", destDir, "files", stats.Files, "skipped", stats.Skipped, "bytes", stats.Bytes)
	return stats, nil
}

// writeFileAtomic writes content to a temp file next to dest and renames it into place.
func writeFileAtomic(dest string, content []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tfopkg-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_, werr := tmp.Write(content)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, defaultFilePerm); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// checkConflicts reports an entry whose path is also a parent directory of
// another entry in paths.
func checkConflicts(paths []string) error {
	files := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		files[p] = struct{}{}
	}
	for _, p := range paths {
		for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if _, ok := files[dir]; ok {
				return fmt.Errorf("extract %s: %s is a file: %w", p, dir, ErrPathConflict)
			}
		}
	}
	return nil
}
