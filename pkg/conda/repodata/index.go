package repodata

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/djcass44/envlock/pkg/conda/channel"
	"github.com/djcass44/envlock/pkg/platform"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// Index holds the packages of every channel for one platform.
type Index struct {
	channels []channel.Channel
	opts     channel.Options
	// name -> channel priority -> records
	byName map[string][][]*Record
}

func NewIndex(channels []channel.Channel, opts channel.Options) *Index {
	return &Index{
		channels: channels,
		opts:     opts,
		byName:   map[string][][]*Record{},
	}
}

// Add adds the records of a subdir. Priority is the position of
// the channel, lower is preferred.
func (idx *Index) Add(priority int, rd *Repodata) {
	for _, r := range rd.Records() {
		byChannel := idx.byName[r.Name]
		if byChannel == nil {
			byChannel = make([][]*Record, len(idx.channels))
			idx.byName[r.Name] = byChannel
		}
		byChannel[priority] = append(byChannel[priority], r)
	}
}

// Has returns true if any channel carries the package.
func (idx *Index) Has(name string) bool {
	_, ok := idx.byName[name]
	return ok
}

func (idx *Index) Count() int {
	var n int
	for _, byChannel := range idx.byName {
		for _, records := range byChannel {
			n += len(records)
		}
	}
	return n
}

// Candidates returns the records for a package. With strict
// channel priority only the highest priority channel that
// carries the package is considered. If pinned is not empty,
// only that channel is considered.
func (idx *Index) Candidates(name, pinned string) ([]*Record, error) {
	byChannel := idx.byName[name]
	if pinned != "" {
		ch, ok := channel.Find(idx.channels, pinned, idx.opts)
		if !ok {
			return nil, fmt.Errorf("channel %q is not one of the manifest channels", pinned)
		}
		for i, c := range idx.channels {
			if c.URL == ch.URL && byChannel != nil {
				return byChannel[i], nil
			}
		}
		return nil, nil
	}
	for _, records := range byChannel {
		if len(records) > 0 {
			return records, nil
		}
	}
	return nil, nil
}

// Load fetches the repodata of every channel for a platform. A
// channel may be missing one of the platform and noarch subdirs,
// but not both.
func Load(ctx context.Context, f *Fetcher, channels []channel.Channel, opts channel.Options, p platform.Platform, concurrency int) (*Index, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("platform", p)

	type result struct {
		priority int
		subdir   string
		rd       *Repodata
	}
	var mu sync.Mutex
	var results []result
	found := make([]int, len(channels))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, ch := range channels {
		for _, subdir := range p.Subdirs() {
			g.Go(func() error {
				rd, err := f.Fetch(ctx, ch, subdir)
				if errors.Is(err, ErrNotFound) {
					log.V(1).Info("channel has no repodata for subdir", "channel", ch.Name, "subdir", subdir)
					return nil
				}
				if err != nil {
					return err
				}
				mu.Lock()
				results = append(results, result{priority: i, subdir: subdir, rd: rd})
				found[i]++
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, n := range found {
		if n == 0 {
			err := fmt.Errorf("%w: %s has no repodata for %s or %s", ErrChannelUnreachable, channels[i].Name, p, platform.NoArch)
			log.Error(err, "failed to load channel")
			return nil, err
		}
	}

	idx := NewIndex(channels, opts)
	// add in a fixed order so that candidate order doesn't
	// depend on which download finished first
	for i := range channels {
		for _, subdir := range p.Subdirs() {
			for _, r := range results {
				if r.priority == i && r.subdir == subdir {
					idx.Add(r.priority, r.rd)
				}
			}
		}
	}
	log.V(1).Info("built package index", "channels", len(channels), "records", idx.Count())
	return idx, nil
}
