package http_test

import (
	"bytes"
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untfo/tfopkg"
	tfohttp "github.com/untfo/tfopkg/http"
	"github.com/untfo/tfopkg/internal/testutil"
)

func serveBytes(t *testing.T, data []byte, check func(*nethttp.Request)) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("ETag", `"v1"`)
		nethttp.ServeContent(w, r, "data", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSourceReadAt(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	server := serveBytes(t, data, nil)

	src, err := tfohttp.NewSource(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), src.Size())
	assert.Equal(t, "url:"+server.URL+`|etag:"v1"`, src.SourceID())

	tests := []struct {
		name    string
		bufSize int
		offset  int64
		wantN   int
		wantErr error
		want    string
	}{
		{name: "read from middle", bufSize: 5, offset: 6, wantN: 5, want: "world"},
		{name: "read past end returns EOF", bufSize: 10, offset: int64(len(data) - 3), wantN: 3, wantErr: io.EOF, want: "rld"},
		{name: "offset at end", bufSize: 4, offset: int64(len(data)), wantN: 0, wantErr: io.EOF},
		{name: "empty buffer", bufSize: 0, offset: 0, wantN: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			buf := make([]byte, tt.bufSize)
			n, err := src.ReadAt(buf, tt.offset)
			assert.Equal(t, tt.wantErr, err)
			assert.Equal(t, tt.wantN, n)
			assert.Equal(t, tt.want, string(buf[:n]))
		})
	}

	_, err = src.ReadAt(make([]byte, 1), -1)
	require.Error(t, err)
}

func TestSourceOptions(t *testing.T) {
	t.Parallel()

	var sawHeader atomic.Int32
	server := serveBytes(t, []byte("abc"), func(r *nethttp.Request) {
		if r.Header.Get("Authorization") == "Bearer token" {
			sawHeader.Add(1)
		}
	})

	src, err := tfohttp.NewSource(context.Background(), server.URL,
		tfohttp.WithClient(server.Client()),
		tfohttp.WithHeader("Authorization", "Bearer token"),
		tfohttp.WithSourceID("custom"),
	)
	require.NoError(t, err)
	assert.Equal(t, "custom", src.SourceID())

	buf := make([]byte, 3)
	_, err = src.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), sawHeader.Load())
}

func TestNewSourceRangeUnsupported(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		_, _ = w.Write([]byte("range unsupported"))
	}))
	t.Cleanup(server.Close)

	_, err := tfohttp.NewSource(context.Background(), server.URL)
	require.ErrorIs(t, err, tfohttp.ErrRangeUnsupported)
}

func TestNewSourceErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.NotFoundHandler())
	t.Cleanup(server.Close)

	_, err := tfohttp.NewSource(context.Background(), server.URL)
	require.ErrorContains(t, err, "404")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tfohttp.NewSource(ctx, server.URL)
	require.ErrorIs(t, err, context.Canceled)
}

func TestSourceArchive(t *testing.T) {
	t.Parallel()

	raw := testutil.TestDataPackage{
		Files: []testutil.TestFile{
			{Name: `maps\m01.bsp`, Content: []byte("remote map")},
			{Name: "notes.txt", Content: []byte("remote notes")},
		},
	}.Build(t, "data000.pkg")
	server := serveBytes(t, raw, nil)

	src, err := tfohttp.NewSource(context.Background(), server.URL+"/data000.pkg")
	require.NoError(t, err)

	secrets := tfopkg.Secrets{Header: testutil.HeaderSecret, Data: testutil.DataSecret}
	a, err := tfopkg.NewArchive(src, "data000.pkg", secrets)
	require.NoError(t, err)

	got, err := a.ReadFile("maps/m01.bsp")
	require.NoError(t, err)
	assert.Equal(t, []byte("remote map"), got)
}
