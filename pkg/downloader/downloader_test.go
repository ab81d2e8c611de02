package downloader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashString(t *testing.T) {
	a := HashString("https://example.com/a.whl")
	assert.Len(t, a, 12)
	assert.Equal(t, a, HashString("https://example.com/a.whl"))
	assert.NotEqual(t, a, HashString("https://example.com/b.whl"))
}

func TestDownloader_Download(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	var count atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			count.Add(1)
		}
		_, _ = w.Write([]byte("wheel contents"))
	}))
	defer ts.Close()

	d, err := NewDownloader(filepath.Join(t.TempDir(), "downloads"))
	require.NoError(t, err)

	path, err := d.Download(ctx, ts.URL+"/files/demo-1.0-py3-none-any.whl")
	require.NoError(t, err)
	assert.Equal(t, "demo-1.0-py3-none-any.whl", filepath.Base(path)[13:])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "wheel contents", string(data))

	// the second download comes from the cache
	_, err = d.Download(ctx, ts.URL+"/files/demo-1.0-py3-none-any.whl")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count.Load())

	// no temporary files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDownloader_DownloadConcurrent(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 2}))

	body := bytes.Repeat([]byte("0123456789abcdef"), 256*1024)
	expected := sha256.Sum256(body)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			return
		}
		flusher, _ := w.(http.Flusher)
		for i := 0; i < len(body); i += 64 * 1024 {
			_, _ = w.Write(body[i : i+64*1024])
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer ts.Close()

	for round := 0; round < 5; round++ {
		d, err := NewDownloader(filepath.Join(t.TempDir(), "downloads"))
		require.NoError(t, err)

		var wg sync.WaitGroup
		paths := make([]string, 4)
		errs := make([]error, 4)
		for i := range paths {
			wg.Add(1)
			go func() {
				defer wg.Done()
				paths[i], errs[i] = d.Download(ctx, ts.URL+"/files/big-1.0.tar.gz")
			}()
		}
		wg.Wait()

		for i := range paths {
			require.NoError(t, errs[i])
			data, err := os.ReadFile(paths[i])
			require.NoError(t, err)
			assert.Equal(t, expected, sha256.Sum256(data))
		}
	}
}
