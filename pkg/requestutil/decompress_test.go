package requestutil

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/carlmjohnson/requests"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/mholt/archives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionOf(t *testing.T) {
	var cases = []struct {
		contentType string
		path        string
		c           Compression
	}{
		{"application/gzip", "/index", CompressionGzip},
		{"application/x-gzip", "/index", CompressionGzip},
		{"application/zstd", "/index", CompressionZstd},
		{"application/x-bzip2", "/index", CompressionBzip2},
		{"application/octet-stream", "/linux-64/repodata.json.zst", CompressionZstd},
		{"application/octet-stream", "/linux-64/repodata.json.bz2", CompressionBzip2},
		{"", "/simple/numpy.gz", CompressionGzip},
		{"application/json", "/linux-64/repodata.json", CompressionNone},
		{"application/javascript", "/", CompressionNone},
	}

	for _, tt := range cases {
		t.Run(tt.contentType+tt.path, func(t *testing.T) {
			assert.EqualValues(t, tt.c, CompressionOf(tt.contentType, tt.path))
		})
	}
}

func compress(t *testing.T, c Compression, data []byte) []byte {
	buf := &bytes.Buffer{}
	var w io.WriteCloser
	var err error
	switch c {
	case CompressionZstd:
		w, err = zstd.NewWriter(buf)
	case CompressionBzip2:
		w, err = archives.Bz2{}.OpenWriter(buf)
	case CompressionGzip:
		w = gzip.NewWriter(buf)
	}
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestWithDecompression(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	payload := []byte(`{"info":{"subdir":"linux-64"},"packages":{}}`)

	files := map[string][]byte{
		"/repodata.json":     payload,
		"/repodata.json.zst": compress(t, CompressionZstd, payload),
		"/repodata.json.bz2": compress(t, CompressionBzip2, payload),
		"/repodata.json.gz":  compress(t, CompressionGzip, payload),
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
	}))
	defer ts.Close()

	for path := range files {
		t.Run(path, func(t *testing.T) {
			out := &bytes.Buffer{}
			err := requests.URL(ts.URL + path).Handle(WithDecompression(out)).Fetch(ctx)
			require.NoError(t, err)
			assert.Equal(t, payload, out.Bytes())
		})
	}
}
