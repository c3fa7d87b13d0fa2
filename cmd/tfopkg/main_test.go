package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untfo/tfopkg/internal/testutil"
	"github.com/untfo/tfopkg/keys"
)

type cliFixture struct {
	dir     string
	data    string
	index   string
	keyFile string
	env     map[string]string
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()

	dir := t.TempDir()
	f := &cliFixture{
		dir:     dir,
		data:    filepath.Join(dir, "data000.pkg"),
		index:   filepath.Join(dir, "files.pkg"),
		keyFile: filepath.Join(dir, "keys.txt"),
	}

	raw := testutil.TestDataPackage{
		Files: []testutil.TestFile{
			{Name: `maps\m01.bsp`, Content: []byte("map one")},
			{Name: "readme.txt", Content: []byte("hello")},
		},
	}.Build(t, "data000.pkg")
	require.NoError(t, os.WriteFile(f.data, raw, 0o644))

	material := keys.Key{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	idx := testutil.TestIndexPackage{
		Selector: 3,
		Material: material,
		Catalog:  "maps\\m01.bsp\r\nreadme.txt",
	}.Build(t, "files.pkg")
	require.NoError(t, os.WriteFile(f.index, idx, 0o644))

	table := "# slot 0\n" + keys.Key{}.String() + "\n" + material.String() + "\n"
	require.NoError(t, os.WriteFile(f.keyFile, []byte(table), 0o600))

	f.env = map[string]string{
		envHeaderSecret: testutil.HeaderSecret,
		envDataSecret:   testutil.DataSecret,
		envKeys:         f.keyFile,
	}
	return f
}

func (f *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, func(k string) string { return f.env[k] }, &stdout, &stderr)
	return stdout.String(), err
}

func TestRunHeader(t *testing.T) {
	t.Parallel()

	f := newCLIFixture(t)
	out, err := f.run(t, "header", f.data)
	require.NoError(t, err)
	assert.Contains(t, out, "hash:        "+testutil.DefaultHash)
	assert.Contains(t, out, "files:       2")
	assert.Contains(t, out, "header size: 625")
}

func TestRunList(t *testing.T) {
	t.Parallel()

	f := newCLIFixture(t)
	out, err := f.run(t, "list", f.data)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Equal(t, []string{`maps\m01.bsp`, "7", "16", "0", "true"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"readme.txt", "5", "16", "0", "true"}, strings.Fields(lines[2]))
}

func TestRunIndex(t *testing.T) {
	t.Parallel()

	f := newCLIFixture(t)
	out, err := f.run(t, "index", f.index)
	require.NoError(t, err)
	assert.Equal(t, "maps\\m01.bsp\nreadme.txt\n", out)

	delete(f.env, envKeys)
	_, err = f.run(t, "index", f.index)
	require.ErrorContains(t, err, envKeys)
}

func TestRunCat(t *testing.T) {
	t.Parallel()

	f := newCLIFixture(t)
	for _, name := range []string{`maps\m01.bsp`, "maps/m01.bsp"} {
		out, err := f.run(t, "cat", f.data, name)
		require.NoError(t, err, name)
		assert.Equal(t, "map one", out)
	}

	_, err := f.run(t, "cat", f.data, "missing.txt")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunCatWithCache(t *testing.T) {
	t.Parallel()

	f := newCLIFixture(t)
	cacheDir := filepath.Join(f.dir, "cache")

	for range 2 {
		out, err := f.run(t, "-cache-dir", cacheDir, "cat", f.data, "readme.txt")
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	}

	var cached int
	require.NoError(t, filepath.WalkDir(cacheDir, func(_ string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			cached++
		}
		return err
	}))
	assert.Equal(t, 1, cached)
}

func TestRunExtract(t *testing.T) {
	t.Parallel()

	f := newCLIFixture(t)
	dest := filepath.Join(f.dir, "out")

	out, err := f.run(t, "extract", "-workers", "1", "-prefix", "maps", f.data, dest)
	require.NoError(t, err)
	assert.Equal(t, "extracted 1 files (7 bytes), skipped 0\n", out)

	got, err := os.ReadFile(filepath.Join(dest, "maps", "m01.bsp"))
	require.NoError(t, err)
	assert.Equal(t, []byte("map one"), got)
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	f := newCLIFixture(t)

	_, err := f.run(t)
	require.ErrorIs(t, err, errUsage)

	_, err = f.run(t, "bogus")
	require.ErrorIs(t, err, errUsage)

	_, err = f.run(t, "header")
	require.Error(t, err)

	_, err = f.run(t, "-header-secret", "wrong", "header", f.data)
	require.ErrorContains(t, err, "invalid header key")
}
