package conda

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/djcass44/envlock/pkg/airutil"
	v1 "github.com/djcass44/envlock/pkg/api/v1"
	"github.com/djcass44/envlock/pkg/conda/channel"
	"github.com/djcass44/envlock/pkg/conda/repodata"
	"github.com/djcass44/envlock/pkg/lockfile"
	"github.com/djcass44/envlock/pkg/matchspec"
	"github.com/djcass44/envlock/pkg/platform"
	"github.com/djcass44/envlock/pkg/solver"
	"github.com/go-logr/logr"
)

type Options struct {
	Channels    []channel.Channel
	Channel     channel.Options
	Platform    platform.Platform
	Virtual     []platform.VirtualPackage
	MaxSteps    int
	Concurrency int
}

// PackageKeeper resolves the conda section of a manifest for a
// single platform.
type PackageKeeper struct {
	index    *repodata.Index
	platform platform.Platform
	virtual  []platform.VirtualPackage
	maxSteps int
}

func NewPackageKeeper(ctx context.Context, fetcher *repodata.Fetcher, opts Options) (*PackageKeeper, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("platform", opts.Platform)
	index, err := repodata.Load(ctx, fetcher, opts.Channels, opts.Channel, opts.Platform, opts.Concurrency)
	if err != nil {
		return nil, err
	}
	log.V(2).Info("loaded index", "records", index.Count())
	for _, ch := range opts.Channels {
		log.V(1).Info("added channel", "name", ch.Name, "url", ch.URL)
	}
	return &PackageKeeper{
		index:    index,
		platform: opts.Platform,
		virtual:  opts.Virtual,
		maxSteps: opts.MaxSteps,
	}, nil
}

func (p *PackageKeeper) Resolve(ctx context.Context, deps []v1.Dependency) ([]lockfile.Package, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("platform", p.platform)

	specs := make([]*matchspec.MatchSpec, 0, len(deps))
	direct := map[string]bool{}
	for _, d := range deps {
		m, err := matchspec.Parse(d.Spec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", d.Line, err)
		}
		specs = append(specs, m)
		direct[m.Name] = true
	}

	s, err := solver.New(p.index, p.virtual, p.maxSteps)
	if err != nil {
		return nil, err
	}
	records, err := s.Solve(ctx, specs)
	if err != nil {
		log.Error(err, "failed to solve conda dependencies")
		return nil, err
	}

	pkgs := make([]lockfile.Package, len(records))
	for i, r := range records {
		pkgs[i] = lockfile.Package{
			Name:         r.Name,
			Type:         v1.PackageConda,
			Version:      r.Version,
			Build:        r.Build,
			Channel:      r.Channel.Name,
			Subdir:       r.Subdir,
			Resolved:     resolved(r),
			Integrity:    integrity(r),
			MD5:          r.MD5,
			Dependencies: dependencies(r),
			Direct:       direct[r.Name],
		}
	}
	log.V(1).Info("resolved conda packages", "count", len(pkgs))
	return pkgs, nil
}

// resolved returns the download URL of a record. Channels that
// reference environment variables keep the reference so that
// credentials don't end up in the lock.
func resolved(r *repodata.Record) string {
	name := strings.TrimSuffix(r.Channel.Name, "/")
	if strings.Contains(name, "${") && strings.HasPrefix(r.Channel.URL, airutil.ExpandEnv(name)) {
		return name + "/" + r.Subdir + "/" + r.Filename
	}
	return r.URL()
}

func integrity(r *repodata.Record) string {
	if r.SHA256 != "" {
		return "sha256:" + r.SHA256
	}
	if r.MD5 != "" {
		return "md5:" + r.MD5
	}
	return ""
}

// dependencies returns the names of the packages a record
// depends on. Virtual packages are left out since they are never
// locked.
func dependencies(r *repodata.Record) []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range r.Depends {
		m, err := matchspec.Parse(d)
		if err != nil || m.IsVirtual() || seen[m.Name] {
			continue
		}
		seen[m.Name] = true
		out = append(out, m.Name)
	}
	sort.Strings(out)
	return out
}
