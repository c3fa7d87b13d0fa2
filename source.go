package tfopkg

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/untfo/tfopkg/keys"
)

// ByteSource provides random access to a data package.
//
// Implementations exist for local files ([OpenFile]) and HTTP range requests
// (the http subpackage). SourceID must return a stable identifier for the
// underlying content; it keys cached payloads.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}

// fileSource wraps *os.File to implement ByteSource.
// os.File has ReadAt but not Size, so we cache the size at construction.
type fileSource struct {
	file     *os.File
	size     int64
	sourceID string
}

func newFileSource(f *os.File) (*fileSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat package file: %w", err)
	}
	absPath, err := filepath.Abs(f.Name())
	if err != nil {
		absPath = f.Name()
	}
	return &fileSource{
		file:     f,
		size:     info.Size(),
		sourceID: fmt.Sprintf("file:%s:%d:%d", absPath, info.Size(), info.ModTime().UnixNano()),
	}, nil
}

func (s *fileSource) ReadAt(p []byte, off int64) (int, error) { return s.file.ReadAt(p, off) }
func (s *fileSource) Size() int64                             { return s.size }
func (s *fileSource) SourceID() string                        { return s.sourceID }

// ArchiveFile wraps an Archive with its underlying file handle.
// Close must be called to release file resources.
type ArchiveFile struct {
	*Archive
	file *os.File
}

// Close closes the underlying package file.
func (af *ArchiveFile) Close() error {
	if af.file == nil {
		return nil
	}
	err := af.file.Close()
	af.file = nil
	return err
}

// OpenFile opens the data package at path for random access.
// The header key is derived from the base name of path.
// The returned ArchiveFile must be closed to release file resources.
func OpenFile(path string, secrets Secrets, opts ...Option) (*ArchiveFile, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	src, err := newFileSource(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	a, err := NewArchive(src, filepath.Base(path), secrets, opts...)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &ArchiveFile{Archive: a, file: f}, nil
}

// ReadIndexFile decodes the index package at path.
// The catalog key is derived from the base name of path.
func ReadIndexFile(path string, table keys.KeyTable, opts ...Option) (*IndexPackage, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer f.Close()

	idx, err := ReadIndexPackage(bufio.NewReader(f), filepath.Base(path), table, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return idx, nil
}

// Interface compliance.
var _ ByteSource = (*fileSource)(nil)
