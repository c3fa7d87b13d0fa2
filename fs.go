package tfopkg

import (
	"bytes"
	"io"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/untfo/tfopkg/internal/pathutil"
)

// Interface compliance.
var (
	_ fs.FS          = (*Archive)(nil)
	_ fs.StatFS      = (*Archive)(nil)
	_ fs.ReadFileFS  = (*Archive)(nil)
	_ fs.ReadDirFS   = (*Archive)(nil)
	_ fs.ReadDirFile = (*dirFile)(nil)
)

// Open implements fs.FS.
//
// Files are read and decrypted in full when opened. Directories are
// synthesised from entry paths; the package does not store them.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if e, ok := a.lookup(name); ok {
		content, err := a.readCached(e)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		return &memFile{Reader: bytes.NewReader(content), info: newFileInfo(e)}, nil
	}
	if a.isDir(name) {
		entries, err := a.ReadDir(name)
		if err != nil {
			return nil, err
		}
		return &dirFile{info: dirInfo{name: pathutil.Base(name)}, entries: entries}, nil
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Stat implements fs.StatFS without reading the payload.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	if e, ok := a.lookup(name); ok {
		return newFileInfo(e), nil
	}
	if a.isDir(name) {
		if name == "." {
			return dirInfo{name: "."}, nil
		}
		return dirInfo{name: pathutil.Base(name)}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadFile implements fs.ReadFileFS.
//
// When caching is enabled, concurrent calls for the same entry are
// deduplicated. The returned slice may be shared and must not be modified.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	e, ok := a.lookup(name)
	if !ok {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}
	content, err := a.readCached(e)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return content, nil
}

// ReadDir implements fs.ReadDirFS. Entries are sorted by name.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	if !a.isDir(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}

	prefix := pathutil.DirPrefix(name)
	start, _ := slices.BinarySearch(a.paths, prefix)

	var out []fs.DirEntry
	last := ""
	for _, p := range a.paths[start:] {
		if !strings.HasPrefix(p, prefix) {
			break
		}
		rel := p[len(prefix):]
		child, _, isSub := strings.Cut(rel, "/")
		if child == "" || child == last {
			continue
		}
		last = child
		if isSub {
			out = append(out, fs.FileInfoToDirEntry(dirInfo{name: child}))
			continue
		}
		e, _ := a.lookup(p)
		out = append(out, fs.FileInfoToDirEntry(newFileInfo(e)))
	}
	slices.SortFunc(out, func(x, y fs.DirEntry) int {
		return strings.Compare(x.Name(), y.Name())
	})
	return out, nil
}

// fileInfo implements fs.FileInfo for file records.
type fileInfo struct {
	entry FileEntry
	name  string
}

func newFileInfo(e FileEntry) fileInfo {
	return fileInfo{entry: e, name: pathutil.Base(e.Name)}
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return int64(fi.entry.Size) } //nolint:gosec // bounded by ReadEntry limits
func (fi fileInfo) Mode() fs.FileMode  { return 0o444 }
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return false }

// Sys returns the underlying FileEntry.
func (fi fileInfo) Sys() any { return fi.entry }

// dirInfo implements fs.FileInfo for synthetic directories.
type dirInfo struct {
	name string
}

func (di dirInfo) Name() string       { return di.name }
func (di dirInfo) Size() int64        { return 0 }
func (di dirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (di dirInfo) ModTime() time.Time { return time.Time{} }
func (di dirInfo) IsDir() bool        { return true }
func (di dirInfo) Sys() any           { return nil }

// memFile is an opened, fully decrypted payload.
type memFile struct {
	*bytes.Reader
	info fileInfo
}

func (f *memFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *memFile) Close() error               { return nil }

// dirFile is an opened synthetic directory.
type dirFile struct {
	info    dirInfo
	entries []fs.DirEntry
	offset  int
}

func (d *dirFile) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *dirFile) Close() error               { return nil }

func (d *dirFile) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: fs.ErrInvalid}
}

func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	rest := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(rest))
	d.offset += n
	return rest[:n], nil
}
