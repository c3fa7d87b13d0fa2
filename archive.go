package tfopkg

import (
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/untfo/tfopkg/cache"
	"github.com/untfo/tfopkg/internal/cbc"
	"github.com/untfo/tfopkg/internal/pathutil"
	"github.com/untfo/tfopkg/internal/sizing"
	"github.com/untfo/tfopkg/keys"
)

// Archive provides random access to the payloads of a data package.
//
// Archive implements fs.FS, fs.StatFS, fs.ReadFileFS and fs.ReadDirFS. Entry
// names are exposed in slash form; the first record wins when two records
// normalise to the same path.
//
// An Archive is safe for concurrent use if its ByteSource is.
type Archive struct {
	pkg     *DataPackage
	name    string
	source  ByteSource
	secrets Secrets
	cfg     *config

	byPath map[string]int // slash path -> index into pkg.Entries
	paths  []string       // sorted slash paths

	readGroup singleflight.Group // zero value is valid
}

// NewArchive decodes the data package at the start of source.
//
// name is the package's own filename, used to derive the header key.
func NewArchive(source ByteSource, name string, secrets Secrets, opts ...Option) (*Archive, error) {
	cfg := newConfig(opts)

	pkg, err := ReadDataPackage(io.NewSectionReader(source, 0, source.Size()), name, secrets, opts...)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		pkg:     pkg,
		name:    name,
		source:  source,
		secrets: secrets,
		cfg:     cfg,
		byPath:  make(map[string]int, len(pkg.Entries)),
		paths:   make([]string, 0, len(pkg.Entries)),
	}
	for i := range pkg.Entries {
		p := pathutil.Slash(pkg.Entries[i].Name)
		if _, dup := a.byPath[p]; dup {
			a.log().Warn("duplicate entry name", "path", p)
			continue
		}
		a.byPath[p] = i
		a.paths = append(a.paths, p)
	}
	slices.Sort(a.paths)
	return a, nil
}

func (a *Archive) log() *slog.Logger {
	return a.cfg.log().With("package", a.name)
}

// Package returns the decoded data package.
func (a *Archive) Package() *DataPackage {
	return a.pkg
}

// Header returns the decoded package header.
func (a *Archive) Header() PackageHeader {
	return a.pkg.Header
}

// Len returns the number of file records in the package.
func (a *Archive) Len() int {
	return len(a.pkg.Entries)
}

// Entries returns an iterator over all file records in on-disk order.
func (a *Archive) Entries() iter.Seq[FileEntry] {
	return func(yield func(FileEntry) bool) {
		for _, e := range a.pkg.Entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Entry returns the file record for name. Both slash and backslash
// separators are accepted.
func (a *Archive) Entry(name string) (FileEntry, bool) {
	i, ok := a.byPath[pathutil.Slash(name)]
	if !ok {
		return FileEntry{}, false
	}
	return a.pkg.Entries[i], true
}

// lookup resolves an fs.FS path. Unlike Entry, backslash is an ordinary
// name character here.
func (a *Archive) lookup(name string) (FileEntry, bool) {
	i, ok := a.byPath[name]
	if !ok {
		return FileEntry{}, false
	}
	return a.pkg.Entries[i], true
}

// ReadEntry reads and decrypts the payload of e and returns its first e.Size bytes.
//
// The payload key is derived from the data secret and the base name of e.Name.
// The compression flag is not interpreted. The cache is bypassed.
func (a *Archive) ReadEntry(e FileEntry) ([]byte, error) {
	if a.cfg.maxFileSize > 0 && e.SizeEncrypted > a.cfg.maxFileSize {
		return nil, fmt.Errorf("read %s: %w: %d bytes exceeds limit %d", e.Name, ErrSizeOverflow, e.SizeEncrypted, a.cfg.maxFileSize)
	}
	if e.Size > e.SizeEncrypted {
		return nil, fmt.Errorf("read %s: %w: size %d, stored %d", e.Name, ErrSizeMismatch, e.Size, e.SizeEncrypted)
	}

	off, err := a.pkg.DataOffset(&e)
	if err != nil {
		return nil, err
	}
	length, err := sizing.ToInt(e.SizeEncrypted, ErrSizeOverflow)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", e.Name, err)
	}
	if end, err := sizing.Offset(off, e.SizeEncrypted, ErrSizeOverflow); err != nil || end > a.source.Size() {
		return nil, fmt.Errorf("read %s: %w: [%d, +%d) beyond source size %d", e.Name, ErrOutOfBounds, off, length, a.source.Size())
	}

	buf := make([]byte, length)
	if n, err := a.source.ReadAt(buf, off); n < length {
		if err == nil || err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read %s: %w (%d of %d bytes): %w", e.Name, ErrTruncated, n, length, err)
	}

	if e.Encrypted {
		key := keys.DataKey(a.secrets.Data, pathutil.Base(e.Name))
		buf, err = cbc.Decrypt(key[:], buf)
		if err != nil {
			return nil, cipherError("decrypt "+e.Name, err)
		}
	}
	return buf[:e.Size], nil
}

// readCached reads e through the configured cache.
// Concurrent misses for the same entry share one read.
func (a *Archive) readCached(e FileEntry) ([]byte, error) {
	if a.cfg.cache == nil {
		return a.ReadEntry(e)
	}

	key := cache.Key(a.source.SourceID(), e.Name)
	if content, ok := a.cfg.cache.Get(key); ok {
		if uint64(len(content)) == e.Size {
			a.log().Debug("payload cache hit", "path", e.Name)
			return content, nil
		}
		_ = a.cfg.cache.Delete(key) //nolint:errcheck // best-effort cleanup of a stale entry
	}

	a.log().Debug("payload cache miss", "path", e.Name)
	result, err, _ := a.readGroup.Do(key.String(), func() (any, error) {
		content, err := a.ReadEntry(e)
		if err != nil {
			return nil, err
		}
		if err := a.cfg.cache.Put(key, content); err != nil {
			a.log().Debug("payload cache put failed", "path", e.Name, "error", err)
		}
		return content, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

// isDir reports whether name is a synthetic directory of the archive.
func (a *Archive) isDir(name string) bool {
	if name == "." {
		return true
	}
	prefix := name + "/"
	i, _ := slices.BinarySearch(a.paths, prefix)
	return i < len(a.paths) && strings.HasPrefix(a.paths[i], prefix)
}
