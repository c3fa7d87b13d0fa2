package tfopkg

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untfo/tfopkg/cache"
	"github.com/untfo/tfopkg/internal/testutil"
)

func newTestArchive(t *testing.T, p testutil.TestDataPackage, opts ...Option) (*Archive, *testutil.MockByteSource) {
	t.Helper()

	src := testutil.NewMockByteSource(p.Build(t, testDataName))
	a, err := NewArchive(src, testDataName, testSecrets, opts...)
	require.NoError(t, err)
	return a, src
}

func TestArchiveReadEntry(t *testing.T) {
	t.Parallel()

	a, _ := newTestArchive(t, testPackage())
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, uint32(3), a.Header().FileCount)
	assert.Same(t, a.Package(), a.Package())

	want := map[string][]byte{
		`data\config.ini`:   []byte("[general]\nfov=90\n"),
		`data\maps\m01.bsp`: bytes.Repeat([]byte{0xAB}, 100),
		"readme.txt":        []byte("plain text"),
	}
	for e := range a.Entries() {
		got, err := a.ReadEntry(e)
		require.NoError(t, err, e.Name)
		assert.Equal(t, want[e.Name], got, e.Name)
	}
}

func TestArchiveEntryLookup(t *testing.T) {
	t.Parallel()

	a, _ := newTestArchive(t, testPackage())

	for _, name := range []string{`data\config.ini`, "data/config.ini", "/data/config.ini"} {
		e, ok := a.Entry(name)
		require.True(t, ok, name)
		assert.Equal(t, `data\config.ini`, e.Name)
	}

	_, ok := a.Entry("data")
	assert.False(t, ok)
	_, ok = a.Entry("missing.txt")
	assert.False(t, ok)
}

func TestArchiveEntriesOrder(t *testing.T) {
	t.Parallel()

	a, _ := newTestArchive(t, testPackage())

	var names []string
	for e := range a.Entries() {
		names = append(names, e.Name)
		if len(names) == 2 {
			break
		}
	}
	assert.Equal(t, []string{`data\config.ini`, `data\maps\m01.bsp`}, names)
}

func TestArchiveDuplicateNames(t *testing.T) {
	t.Parallel()

	a, _ := newTestArchive(t, testutil.TestDataPackage{
		Files: []testutil.TestFile{
			{Name: `a\b.txt`, Content: []byte("first")},
			{Name: "a/b.txt", Content: []byte("second")},
		},
	})
	assert.Equal(t, 2, a.Len())

	got, err := a.ReadFile("a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
}

func TestArchiveKeyUsesBaseName(t *testing.T) {
	t.Parallel()

	// Two entries with the same base name share a payload key.
	a, _ := newTestArchive(t, testutil.TestDataPackage{
		Files: []testutil.TestFile{
			{Name: `x\same.bin`, Content: []byte("in x")},
			{Name: `y\z\same.bin`, Content: []byte("in y/z")},
		},
	})
	x, _ := a.Entry("x/same.bin")
	y, _ := a.Entry("y/z/same.bin")

	gotX, err := a.ReadEntry(x)
	require.NoError(t, err)
	gotY, err := a.ReadEntry(y)
	require.NoError(t, err)
	assert.Equal(t, []byte("in x"), gotX)
	assert.Equal(t, []byte("in y/z"), gotY)
}

func TestArchiveWrongDataSecret(t *testing.T) {
	t.Parallel()

	src := testutil.NewMockByteSource(testPackage().Build(t, testDataName))
	a, err := NewArchive(src, testDataName, Secrets{Header: testutil.HeaderSecret, Data: "wrong"})
	require.NoError(t, err)

	// Without a checksum a wrong payload key yields garbage, not an error.
	e, _ := a.Entry(`data\config.ini`)
	got, err := a.ReadEntry(e)
	require.NoError(t, err)
	assert.Len(t, got, 17)
	assert.NotEqual(t, []byte("[general]\nfov=90\n"), got)

	// Plain payloads are unaffected.
	got, err = a.ReadFile("readme.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("plain text"), got)
}

func TestArchiveReadEntryErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		files []testutil.TestFile
		trim  int
		opts  []Option
		want  error
	}{
		{
			name:  "logical size exceeds stored size",
			files: []testutil.TestFile{{Name: "a", Content: []byte("abc"), Size: 17}},
			want:  ErrSizeMismatch,
		},
		{
			name:  "payload beyond source",
			files: []testutil.TestFile{{Name: "a", Content: []byte("abc")}},
			trim:  1,
			want:  ErrOutOfBounds,
		},
		{
			name:  "max file size",
			files: []testutil.TestFile{{Name: "a", Content: make([]byte, 64)}},
			opts:  []Option{WithMaxFileSize(32)},
			want:  ErrSizeOverflow,
		},
		{
			name:  "plain unaligned payload",
			files: []testutil.TestFile{{Name: "a", Content: []byte("abc"), Plain: true}},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw := testutil.TestDataPackage{Files: tt.files}.Build(t, testDataName)
			src := testutil.NewMockByteSource(raw[:len(raw)-tt.trim])
			a, err := NewArchive(src, testDataName, testSecrets, tt.opts...)
			require.NoError(t, err)

			_, err = a.ReadEntry(a.Package().Entries[0])
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestArchiveReadEntryUnaligned(t *testing.T) {
	t.Parallel()

	a, _ := newTestArchive(t, testPackage())
	e, _ := a.Entry("readme.txt")

	// Flip the encrypted flag on a 10-byte stored payload.
	e.Encrypted = true
	_, err := a.ReadEntry(e)
	require.ErrorIs(t, err, ErrInvalidPadding)
}

func TestArchiveWithCache(t *testing.T) {
	t.Parallel()

	c := testutil.NewMockCache()
	a, src := newTestArchive(t, testPackage(), WithCache(c))

	got, err := a.ReadFile("data/config.ini")
	require.NoError(t, err)
	assert.Equal(t, []byte("[general]\nfov=90\n"), got)
	assert.Equal(t, 1, c.Len())

	reads := src.Reads()
	got, err = a.ReadFile("data/config.ini")
	require.NoError(t, err)
	assert.Equal(t, []byte("[general]\nfov=90\n"), got)
	assert.Equal(t, reads, src.Reads(), "cache hit must not touch the source")

	key := cache.Key(src.SourceID(), `data\config.ini`)
	cached, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, got, cached)
}

func TestArchiveCacheStaleEntry(t *testing.T) {
	t.Parallel()

	c := testutil.NewMockCache()
	a, src := newTestArchive(t, testPackage(), WithCache(c))

	key := cache.Key(src.SourceID(), "readme.txt")
	require.NoError(t, c.Put(key, []byte("too long to be this entry")))

	got, err := a.ReadFile("readme.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("plain text"), got)

	cached, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("plain text"), cached)
}

func TestArchiveCacheSingleflight(t *testing.T) {
	t.Parallel()

	c := testutil.NewMockCache()
	a, _ := newTestArchive(t, testPackage(), WithCache(c))

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := a.ReadFile("data/maps/m01.bsp")
			assert.NoError(t, err)
			assert.Len(t, got, 100)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, c.Len())
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, testDataName)
	require.NoError(t, os.WriteFile(path, testPackage().Build(t, testDataName), 0o644))

	af, err := OpenFile(path, testSecrets)
	require.NoError(t, err)

	got, err := af.ReadFile("data/config.ini")
	require.NoError(t, err)
	assert.Equal(t, []byte("[general]\nfov=90\n"), got)

	require.NoError(t, af.Close())
	require.NoError(t, af.Close(), "second close is a no-op")
}

func TestOpenFileErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := OpenFile(filepath.Join(dir, "missing.pkg"), testSecrets)
	require.ErrorIs(t, err, os.ErrNotExist)

	// The header key is derived from the file's own name.
	path := filepath.Join(dir, "renamed.pkg")
	require.NoError(t, os.WriteFile(path, testPackage().Build(t, testDataName), 0o644))
	_, err = OpenFile(path, testSecrets)
	require.ErrorIs(t, err, ErrInvalidHeaderKey)
}

func TestFileSourceID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, testDataName)
	raw := testPackage().Build(t, testDataName)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	src, err := newFileSource(f)
	require.NoError(t, err)
	assert.Equal(t, int64(len(raw)), src.Size())
	assert.Contains(t, src.SourceID(), "file:")
	assert.Contains(t, src.SourceID(), testDataName)
}
