package repodata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/cespare/xxhash/v2"
	"github.com/djcass44/envlock/pkg/conda/channel"
	"github.com/djcass44/envlock/pkg/requestutil"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gosimple/hashdir"
	"golang.org/x/sync/singleflight"
)

const (
	FileZstd  = "repodata.json.zst"
	FileBzip2 = "repodata.json.bz2"
	FileJSON  = "repodata.json"
)

// Files are tried in order until one exists.
var Files = []string{FileZstd, FileBzip2, FileJSON}

var (
	ErrChannelUnreachable = errors.New("channel unreachable")
	// ErrNotFound is returned when a channel has no repodata
	// for a subdir.
	ErrNotFound = errors.New("repodata not found")
)

// Fetcher downloads repodata and keeps it in memory and on disk.
// It is safe for concurrent use.
type Fetcher struct {
	cacheDir string
	ttl      time.Duration
	client   *http.Client

	group  singleflight.Group
	mu     sync.Mutex
	memory map[string]*Repodata
}

// NewFetcher creates a Fetcher that caches downloads in cacheDir
// for ttl. A ttl of zero disables the disk cache.
func NewFetcher(cacheDir string, ttl time.Duration, client *http.Client) (*Fetcher, error) {
	if err := os.MkdirAll(filepath.Join(cacheDir, "repodata"), 0755); err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		cacheDir: cacheDir,
		ttl:      ttl,
		client:   client,
		memory:   map[string]*Repodata{},
	}, nil
}

// Fetch returns the repodata of a channel subdir. Concurrent
// calls for the same subdir share a single download.
func (f *Fetcher) Fetch(ctx context.Context, ch channel.Channel, subdir string) (*Repodata, error) {
	key := ch.URL + "/" + subdir

	f.mu.Lock()
	rd, ok := f.memory[key]
	f.mu.Unlock()
	if ok {
		return rd, nil
	}

	v, err, shared := f.group.Do(key, func() (any, error) {
		// another flight may have finished since we checked
		f.mu.Lock()
		rd, ok := f.memory[key]
		f.mu.Unlock()
		if ok {
			return rd, nil
		}
		rd, err := f.fetch(ctx, ch, subdir)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.memory[key] = rd
		f.mu.Unlock()
		return rd, nil
	})
	logr.FromContextOrDiscard(ctx).V(6).Info("fetched repodata", "key", key, "shared", shared)
	if err != nil {
		return nil, err
	}
	return v.(*Repodata), nil
}

func (f *Fetcher) fetch(ctx context.Context, ch channel.Channel, subdir string) (*Repodata, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("channel", ch.Name, "subdir", subdir)

	var rd *Repodata
	var err error
	if ch.IsLocal() {
		rd, err = f.fetchLocal(ctx, ch, subdir)
	} else {
		rd, err = f.fetchRemote(ctx, ch, subdir)
	}
	if err != nil {
		return nil, err
	}
	if dropped := rd.prepare(ch, subdir); dropped > 0 {
		log.V(1).Info("dropped unusable records", "count", dropped)
	}
	log.V(1).Info("loaded repodata", "packages", len(rd.Packages)+len(rd.PackagesConda))
	return rd, nil
}

func (f *Fetcher) fetchLocal(ctx context.Context, ch channel.Channel, subdir string) (*Repodata, error) {
	dir := filepath.Join(ch.Path(), subdir)
	log := logr.FromContextOrDiscard(ctx).WithValues("dir", dir)

	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			log.V(1).Info("local channel has no subdir")
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrChannelUnreachable, ch.Name, err)
	}
	// record what the local channel looked like so that
	// resolutions can be compared later
	if digest, err := hashdir.Make(dir, "sha256"); err == nil {
		log.V(1).Info("hashed local channel", "digest", "sha256:"+digest)
	}

	for _, name := range Files {
		path := filepath.Join(dir, name)
		file, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrChannelUnreachable, ch.Name, err)
		}
		rd, err := decode(file, requestutil.CompressionOf("", name))
		_ = file.Close()
		if err != nil {
			log.Error(err, "failed to decode repodata", "path", path)
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		return rd, nil
	}
	return nil, ErrNotFound
}

// cachePath returns a stable location for a subdir that
// doesn't depend on the characters in the URL.
func (f *Fetcher) cachePath(ch channel.Channel, subdir string) string {
	return filepath.Join(f.cacheDir, "repodata", fmt.Sprintf("%016x.json", xxhash.Sum64String(ch.URL+"/"+subdir)))
}

func (f *Fetcher) fetchRemote(ctx context.Context, ch channel.Channel, subdir string) (*Repodata, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("channel", ch.Name, "subdir", subdir)

	dst := f.cachePath(ch, subdir)
	if f.ttl > 0 {
		if info, err := os.Stat(dst); err == nil && time.Since(info.ModTime()) < f.ttl {
			log.V(1).Info("using cached repodata", "path", dst, "age", time.Since(info.ModTime()).Round(time.Second))
			return readFile(dst)
		}
	}

	for _, name := range Files {
		target := ch.SubdirURL(subdir, name)
		err := f.download(ctx, target, dst)
		if err == nil {
			log.V(1).Info("downloaded repodata", "url", target)
			return readFile(dst)
		}
		if errors.Is(err, ErrNotFound) {
			log.V(2).Info("repodata variant not found, trying next", "url", target)
			continue
		}
		log.Error(err, "failed to download repodata", "url", target)
		return nil, fmt.Errorf("%w: %s: %w", ErrChannelUnreachable, target, err)
	}
	return nil, ErrNotFound
}

// download writes the uncompressed contents of src to dst. The
// destination is only replaced once the download has finished.
func (f *Fetcher) download(ctx context.Context, src, dst string) error {
	tmp := filepath.Join(filepath.Dir(dst), uuid.NewString()+".tmp")
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	err = requests.URL(src).
		Client(f.client).
		Handle(requestutil.WithDecompression(out)).
		Fetch(ctx)
	_ = out.Close()
	if err != nil {
		if requests.HasStatusErr(err, http.StatusNotFound) {
			return ErrNotFound
		}
		return err
	}
	return os.Rename(tmp, dst)
}

func readFile(path string) (*Repodata, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decode(f, requestutil.CompressionNone)
}

func decode(r io.Reader, c requestutil.Compression) (*Repodata, error) {
	stream, err := requestutil.NewReader(r, c)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var rd Repodata
	if err := json.NewDecoder(stream).Decode(&rd); err != nil {
		return nil, err
	}
	return &rd, nil
}

// Decode reads uncompressed repodata that belongs to a channel
// subdir.
func Decode(r io.Reader, ch channel.Channel, subdir string) (*Repodata, error) {
	rd, err := decode(r, requestutil.CompressionNone)
	if err != nil {
		return nil, err
	}
	rd.prepare(ch, subdir)
	return rd, nil
}
