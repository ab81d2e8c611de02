package repodata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/djcass44/envlock/pkg/conda/channel"
	"github.com/djcass44/envlock/pkg/conda/repodata/repodatatest"
	"github.com/djcass44/envlock/pkg/platform"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testChannel = repodatatest.Channel{
	"linux-64": {
		{Name: "python", Version: "3.11.4", Build: "h0", Depends: []string{"libzlib"}},
		{Name: "libzlib", Version: "1.3", Conda: true},
		{Name: "broken", Version: "1..$"},
	},
	"noarch": {
		{Name: "tqdm", Version: "4.66.1", Build: "pyhd8ed1ab_0", Depends: []string{"python >=3.7"}},
	},
}

func TestFetcher_Fetch(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	srv := repodatatest.Serve(t, map[string]repodatatest.Channel{"conda-forge": testChannel})
	ch := channel.Channel{Name: "conda-forge", URL: srv.URL + "/conda-forge"}

	f, err := NewFetcher(t.TempDir(), time.Hour, nil)
	require.NoError(t, err)

	rd, err := f.Fetch(ctx, ch, "linux-64")
	require.NoError(t, err)

	// the unparseable version is dropped
	records := rd.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "libzlib", records[0].Name)
	assert.True(t, records[0].IsConda())
	assert.Equal(t, srv.URL+"/conda-forge/linux-64/libzlib-1.3-0.conda", records[0].URL())
	assert.Equal(t, "python-3.11.4-h0", records[1].String())
	v, err := records[1].ParsedVersion()
	require.NoError(t, err)
	assert.Equal(t, "3.11.4", v.String())

	// zst and bz2 are tried before the json
	assert.EqualValues(t, 3, srv.Requests.Load())

	// a second fetch comes from memory
	_, err = f.Fetch(ctx, ch, "linux-64")
	require.NoError(t, err)
	assert.EqualValues(t, 3, srv.Requests.Load())

	_, err = f.Fetch(ctx, ch, "osx-64")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetcher_DiskCache(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	srv := repodatatest.Serve(t, map[string]repodatatest.Channel{"conda-forge": testChannel})
	ch := channel.Channel{Name: "conda-forge", URL: srv.URL + "/conda-forge"}
	dir := t.TempDir()

	f, err := NewFetcher(dir, time.Hour, nil)
	require.NoError(t, err)
	_, err = f.Fetch(ctx, ch, "noarch")
	require.NoError(t, err)
	requests := srv.Requests.Load()

	// a new fetcher reads from disk
	f, err = NewFetcher(dir, time.Hour, nil)
	require.NoError(t, err)
	rd, err := f.Fetch(ctx, ch, "noarch")
	require.NoError(t, err)
	assert.Len(t, rd.Records(), 1)
	assert.Equal(t, requests, srv.Requests.Load())

	// unless caching is disabled
	f, err = NewFetcher(dir, 0, nil)
	require.NoError(t, err)
	_, err = f.Fetch(ctx, ch, "noarch")
	require.NoError(t, err)
	assert.Greater(t, srv.Requests.Load(), requests)
}

func TestFetcher_Concurrent(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	srv := repodatatest.Serve(t, map[string]repodatatest.Channel{"conda-forge": testChannel})
	ch := channel.Channel{Name: "conda-forge", URL: srv.URL + "/conda-forge"}

	f, err := NewFetcher(t.TempDir(), 0, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Fetch(ctx, ch, "linux-64")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	// three attempts (zst, bz2, json) for a single download
	assert.EqualValues(t, 3, srv.Requests.Load())
}

func TestFetcher_Unreachable(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	f, err := NewFetcher(t.TempDir(), 0, nil)
	require.NoError(t, err)

	_, err = f.Fetch(ctx, channel.Channel{Name: "broken", URL: ts.URL + "/broken"}, "linux-64")
	assert.ErrorIs(t, err, ErrChannelUnreachable)

	// nothing is listening on this port
	ts.Close()
	_, err = f.Fetch(ctx, channel.Channel{Name: "gone", URL: ts.URL + "/gone"}, "linux-64")
	assert.ErrorIs(t, err, ErrChannelUnreachable)
}

func TestFetcher_Local(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	url := repodatatest.WriteDir(t, testChannel)
	ch := channel.Channel{Name: "local", URL: url}

	f, err := NewFetcher(t.TempDir(), time.Hour, nil)
	require.NoError(t, err)

	rd, err := f.Fetch(ctx, ch, "noarch")
	require.NoError(t, err)
	require.Len(t, rd.Records(), 1)
	assert.Equal(t, "noarch", rd.Records()[0].Subdir)
	assert.Equal(t, url+"/noarch/tqdm-4.66.1-pyhd8ed1ab_0.tar.bz2", rd.Records()[0].URL())

	_, err = f.Fetch(ctx, ch, "win-64")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoad(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	srv := repodatatest.Serve(t, map[string]repodatatest.Channel{
		"conda-forge": testChannel,
		"nvidia": {
			"linux-64": {
				{Name: "python", Version: "3.12.0"},
				{Name: "cuda-runtime", Version: "12.1.0"},
			},
		},
		"empty": {},
	})
	channels := []channel.Channel{
		{Name: "nvidia", URL: srv.URL + "/nvidia"},
		{Name: "conda-forge", URL: srv.URL + "/conda-forge"},
	}

	f, err := NewFetcher(t.TempDir(), 0, nil)
	require.NoError(t, err)

	idx, err := Load(ctx, f, channels, channel.Options{}, platform.Linux64, 4)
	require.NoError(t, err)

	t.Run("strict priority", func(t *testing.T) {
		records, err := idx.Candidates("python", "")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "3.12.0", records[0].Version)
	})
	t.Run("pinned channel", func(t *testing.T) {
		records, err := idx.Candidates("python", "conda-forge")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "3.11.4", records[0].Version)

		records, err = idx.Candidates("cuda-runtime", "conda-forge")
		require.NoError(t, err)
		assert.Empty(t, records)

		_, err = idx.Candidates("python", "pytorch")
		assert.Error(t, err)
	})
	t.Run("noarch", func(t *testing.T) {
		assert.True(t, idx.Has("tqdm"))
		assert.False(t, idx.Has("numpy"))
	})

	t.Run("channel without subdirs", func(t *testing.T) {
		_, err := Load(ctx, f, append(channels, channel.Channel{Name: "empty", URL: srv.URL + "/empty"}), channel.Options{}, platform.Linux64, 4)
		assert.ErrorIs(t, err, ErrChannelUnreachable)
	})
}
