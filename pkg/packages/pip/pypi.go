package pip

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/carlmjohnson/requests"
	"github.com/djcass44/envlock/pkg/manifest"
	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"
)

var ErrNotFound = errors.New("project not found")

// Project is the response of the PyPI JSON API.
type Project struct {
	Info struct {
		Name           string   `json:"name"`
		Version        string   `json:"version"`
		RequiresDist   []string `json:"requires_dist"`
		RequiresPython string   `json:"requires_python"`
	} `json:"info"`
	Releases map[string][]File `json:"releases"`
	// URLs are the files of the version in Info.
	URLs []File `json:"urls"`
}

type File struct {
	Filename       string `json:"filename"`
	URL            string `json:"url"`
	PackageType    string `json:"packagetype"`
	RequiresPython string `json:"requires_python"`
	Yanked         bool   `json:"yanked"`
	Digests        struct {
		MD5    string `json:"md5"`
		SHA256 string `json:"sha256"`
	} `json:"digests"`
}

const (
	PackageTypeWheel = "bdist_wheel"
	PackageTypeSdist = "sdist"
)

// IndexURLs returns the JSON API roots to query in order. The
// manifest's --index-url replaces the configured index and
// --extra-index-url entries are consulted afterwards.
func IndexURLs(base string, opts manifest.PipOptions) []string {
	if opts.IndexURL != "" {
		base = opts.IndexURL
	}
	out := []string{apiRoot(base)}
	for _, u := range opts.ExtraIndexURLs {
		out = append(out, apiRoot(u))
	}
	return out
}

// apiRoot converts a simple index URL into the root of the
// JSON API (e.g. https://pypi.org/simple -> https://pypi.org/pypi).
func apiRoot(s string) string {
	s = strings.TrimSuffix(strings.TrimSpace(s), "/")
	s = strings.TrimSuffix(s, "/simple")
	s = strings.TrimSuffix(s, "/pypi")
	return s + "/pypi"
}

// Client reads project metadata from one or more package
// indices. It is safe for concurrent use so that every platform
// can share the same responses.
type Client struct {
	indexes []string
	client  *http.Client

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]*Project
}

func NewClient(client *http.Client, indexes ...string) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		indexes: indexes,
		client:  client,
		cache:   map[string]*Project{},
	}
}

// Project returns every release of a project.
func (c *Client) Project(ctx context.Context, name string) (*Project, error) {
	return c.get(ctx, url.PathEscape(name)+"/json")
}

// Release returns the metadata of a single version, which is
// needed for the requires_dist of anything but the latest
// release.
func (c *Client) Release(ctx context.Context, name, version string) (*Project, error) {
	return c.get(ctx, url.PathEscape(name)+"/"+url.PathEscape(version)+"/json")
}

func (c *Client) get(ctx context.Context, path string) (*Project, error) {
	c.mu.Lock()
	p, ok := c.cache[path]
	c.mu.Unlock()
	if ok {
		return p, nil
	}

	v, err, _ := c.group.Do(path, func() (any, error) {
		p, err := c.fetch(ctx, path)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[path] = p
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Project), nil
}

// fetch tries each index in order. The first index that knows
// the project wins.
func (c *Client) fetch(ctx context.Context, path string) (*Project, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("path", path)
	for _, index := range c.indexes {
		target := index + "/" + path
		var p Project
		err := requests.URL(target).
			Client(c.client).
			Accept("application/json").
			ToJSON(&p).
			Fetch(ctx)
		if err == nil {
			log.V(2).Info("fetched project metadata", "url", target, "releases", len(p.Releases))
			return &p, nil
		}
		if requests.HasStatusErr(err, http.StatusNotFound) {
			log.V(2).Info("project not found in index", "index", index)
			continue
		}
		log.Error(err, "failed to fetch project metadata", "url", target)
		return nil, fmt.Errorf("fetching %s: %w", target, err)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSuffix(path, "/json"))
}
