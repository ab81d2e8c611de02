package downloader

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/hashicorp/go-getter"
	"golang.org/x/sync/singleflight"
)

// Downloader fetches files into a cache directory so that
// repeated locks don't download them again. It is safe for
// concurrent use.
type Downloader struct {
	cacheDir string
	group    singleflight.Group
}

func NewDownloader(cacheDir string) (*Downloader, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, err
	}
	return &Downloader{cacheDir: cacheDir}, nil
}

// Download fetches src and returns the path of the local copy.
func (d *Downloader) Download(ctx context.Context, src string) (string, error) {
	log := logr.FromContextOrDiscard(ctx)
	log.Info("downloading file", "src", src)

	uri, err := url.Parse(src)
	if err != nil {
		log.Error(err, "failed to parse url")
		return "", err
	}

	// download the file to a predictable location so that
	// we can avoid repeated downloads. The hash of the full URL
	// stops files with the same name from colliding.
	dst := filepath.Join(d.cacheDir, HashString(src)+"-"+path.Base(uri.Path))

	v, err, _ := d.group.Do(dst, func() (any, error) {
		if info, err := os.Stat(dst); err == nil && info.Mode().IsRegular() {
			log.V(1).Info("using cached file", "dst", dst)
			return dst, nil
		}
		return dst, d.get(ctx, uri, dst)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// get downloads uri into dst. The file only appears at dst
// once it is complete.
func (d *Downloader) get(ctx context.Context, uri *url.URL, dst string) error {
	log := logr.FromContextOrDiscard(ctx)
	log.V(1).Info("preparing to download file", "dst", dst)

	// disable archive handling, we want the file as-is
	q := uri.Query()
	q.Set("archive", "false")
	uri.RawQuery = q.Encode()

	tmp := filepath.Join(d.cacheDir, uuid.NewString()+".tmp")
	defer os.Remove(tmp)

	client := &getter.Client{
		Ctx:             ctx,
		Src:             uri.String(),
		Dst:             tmp,
		Mode:            getter.ClientModeFile,
		DisableSymlinks: true,
	}
	if err := client.Get(); err != nil {
		log.Error(err, "failed to download file")
		return err
	}
	// we need to chmod the files so that the root group
	// can access them as if they were the owner
	if err := os.Chmod(tmp, 0664); err != nil {
		log.Error(err, "failed to update file permissions", "file", tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		log.Error(err, "failed to move download into the cache", "file", dst)
		return err
	}
	return nil
}
