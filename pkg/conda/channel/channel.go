package channel

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/djcass44/envlock/pkg/airutil"
	v1 "github.com/djcass44/envlock/pkg/api/v1"
)

const Defaults = "defaults"

// Channel is a package source consulted during resolution.
type Channel struct {
	// Name is the channel as written in the manifest.
	Name string `json:"original"`
	// URL is the expanded base URL of the channel without a
	// subdir.
	URL string `json:"url"`
}

// SubdirURL returns the URL of a file inside a channel subdir.
func (c Channel) SubdirURL(subdir, file string) string {
	return c.URL + "/" + subdir + "/" + file
}

// IsLocal returns true if the channel lives on the filesystem.
func (c Channel) IsLocal() bool {
	return strings.HasPrefix(c.URL, "file://")
}

// Path returns the filesystem path of a local channel.
func (c Channel) Path() string {
	return filepath.FromSlash(strings.TrimPrefix(c.URL, "file://"))
}

func (c Channel) String() string {
	return c.Name
}

// Options control how channel names are expanded.
type Options struct {
	Alias    string
	Defaults []string
	// ImplicitDefaults appends the defaults channels unless
	// the manifest contains "nodefaults".
	ImplicitDefaults bool
}

// Normalise expands a single channel name into one or more
// channels. Only "defaults" expands to more than one.
func Normalise(name string, opts Options) ([]Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("empty channel name")
	}
	if name == v1.ChannelNoDefaults {
		return nil, nil
	}
	if name == Defaults {
		out := make([]Channel, 0, len(opts.Defaults))
		for _, d := range opts.Defaults {
			ch, err := expand(d, opts.Alias)
			if err != nil {
				return nil, err
			}
			ch.Name = Defaults
			out = append(out, ch)
		}
		return out, nil
	}
	ch, err := expand(name, opts.Alias)
	if err != nil {
		return nil, err
	}
	return []Channel{ch}, nil
}

func expand(name, alias string) (Channel, error) {
	raw := strings.TrimSuffix(airutil.ExpandEnv(name), "/")
	switch {
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"), strings.HasPrefix(raw, "file://"):
		if _, err := url.Parse(raw); err != nil {
			return Channel{}, fmt.Errorf("parsing channel %q: %w", name, err)
		}
		return Channel{Name: name, URL: raw}, nil
	case filepath.IsAbs(raw):
		return Channel{Name: name, URL: "file://" + filepath.ToSlash(raw)}, nil
	}
	return Channel{Name: name, URL: strings.TrimSuffix(airutil.ExpandEnv(alias), "/") + "/" + raw}, nil
}

// FromEnvironment returns the channels of a manifest in priority
// order. Channels that expand to the same URL are only kept
// once, in their highest priority position.
func FromEnvironment(env *v1.Environment, opts Options) ([]Channel, error) {
	names := env.SourceChannels()
	if opts.ImplicitDefaults && !env.NoDefaults() {
		names = append(names, Defaults)
	}

	seen := map[string]bool{}
	var out []Channel
	for _, n := range names {
		chs, err := Normalise(n, opts)
		if err != nil {
			return nil, err
		}
		for _, ch := range chs {
			if seen[ch.URL] {
				continue
			}
			seen[ch.URL] = true
			out = append(out, ch)
		}
	}
	return out, nil
}

// Find returns the channel that a "channel::" prefix refers to.
func Find(channels []Channel, name string, opts Options) (Channel, bool) {
	for _, ch := range channels {
		if ch.Name == name || ch.URL == name {
			return ch, true
		}
	}
	// the prefix may be written differently to the manifest,
	// e.g. a full URL instead of a name
	if expanded, err := expand(name, opts.Alias); err == nil {
		for _, ch := range channels {
			if ch.URL == expanded.URL {
				return ch, true
			}
		}
	}
	return Channel{}, false
}
