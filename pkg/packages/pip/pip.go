package pip

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	v1 "github.com/djcass44/envlock/pkg/api/v1"
	"github.com/djcass44/envlock/pkg/downloader"
	"github.com/djcass44/envlock/pkg/lockfile"
	"github.com/djcass44/envlock/pkg/manifest"
	"github.com/djcass44/envlock/pkg/pep508"
	"github.com/djcass44/envlock/pkg/platform"
	"github.com/djcass44/envlock/pkg/solver"
	"github.com/go-logr/logr"
	"github.com/gosimple/hashdir"
	"golang.org/x/exp/maps"
)

var ErrNoPython = errors.New("pip dependencies require python in the conda dependencies")

// NewTarget describes the interpreter that pip packages will be
// installed into, using the python chosen by conda.
func NewTarget(p platform.Platform, conda []lockfile.Package, virtual []platform.VirtualPackage) (Target, error) {
	t := Target{Platform: p}
	for _, pkg := range conda {
		if pkg.Name == "python" {
			t.Python = pkg.Version
		}
	}
	if t.Python == "" {
		return Target{}, ErrNoPython
	}
	for _, v := range virtual {
		switch v.Name {
		case "__glibc":
			t.Glibc = v.Version
		case "__osx":
			t.MacOS = v.Version
		}
	}
	return t, nil
}

// Provided returns the normalised names of conda packages so
// that pip doesn't install them a second time.
func Provided(conda []lockfile.Package) map[string]bool {
	out := make(map[string]bool, len(conda))
	for _, pkg := range conda {
		out[pep508.NormaliseName(pkg.Name)] = true
	}
	return out
}

// PackageKeeper resolves the pip section of a manifest for a
// single platform. Resolution is greedy: the first version
// chosen for a name is kept, and later requirements that
// disagree with it are reported as conflicts.
type PackageKeeper struct {
	client     *Client
	downloader *downloader.Downloader
	target     Target
	provided   map[string]bool
	baseDir    string
	python     *pep508.Version
}

type Options struct {
	Client     *Client
	Downloader *downloader.Downloader
	Target     Target
	// Provided are the normalised names of packages that
	// conda has already resolved.
	Provided map[string]bool
	// BaseDir is the directory that relative paths are
	// resolved against, normally that of the manifest.
	BaseDir string
}

func NewPackageKeeper(opts Options) *PackageKeeper {
	pk := &PackageKeeper{
		client:     opts.Client,
		downloader: opts.Downloader,
		target:     opts.Target,
		provided:   opts.Provided,
		baseDir:    opts.BaseDir,
	}
	if v, err := pep508.ParseVersion(opts.Target.Python); err == nil {
		pk.python = &v
	}
	return pk
}

type pending struct {
	req    *pep508.Requirement
	extra  string
	parent string
	chain  []string
	direct bool
}

type choice struct {
	pkg      lockfile.Package
	version  *pep508.Version
	requires []*pep508.Requirement
	extras   map[string]bool
	deps     map[string]bool
}

func (c *choice) String() string {
	if c.pkg.Version == "" {
		return c.pkg.Name
	}
	return c.pkg.Name + "==" + c.pkg.Version
}

func (p *PackageKeeper) Resolve(ctx context.Context, deps []v1.Dependency) ([]lockfile.Package, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("platform", p.target.Platform)

	reqs, _, err := manifest.PipRequirements(deps)
	if err != nil {
		return nil, err
	}
	env := pep508.Environment(p.target.Platform, p.target.Python)

	queue := make([]pending, 0, len(reqs))
	for _, r := range reqs {
		queue = append(queue, pending{req: r, direct: true})
	}
	chosen := map[string]*choice{}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		r := item.req

		ok, err := r.Applies(pep508.WithExtra(env, item.extra))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r, err)
		}
		if !ok {
			log.V(4).Info("skipping requirement with unmet marker", "requirement", r.String())
			continue
		}
		if item.parent != "" {
			chosen[item.parent].deps[r.Name] = true
		}
		// the manifest may deliberately ask pip for something
		// that conda also has, but transitive requirements are
		// left to conda
		if !item.direct && p.provided[r.Name] {
			log.V(3).Info("skipping requirement provided by conda", "requirement", r.String())
			continue
		}

		if existing, ok := chosen[r.Name]; ok {
			if existing.version != nil && r.URL == "" && !r.Specifiers.Contains(*existing.version, true) {
				err := &solver.UnsatisfiableError{Spec: r.String(), Chain: item.chain, Conflict: existing.String()}
				log.Error(err, "failed to resolve pip dependencies")
				return nil, err
			}
			if item.direct {
				existing.pkg.Direct = true
			}
			for _, e := range r.Extras {
				if existing.extras[e] {
					continue
				}
				existing.extras[e] = true
				queue = append(queue, existing.pending(e, item.chain)...)
			}
			continue
		}

		c, err := p.choose(ctx, r, item.chain)
		if err != nil {
			log.Error(err, "failed to resolve pip dependencies")
			return nil, err
		}
		c.pkg.Direct = item.direct
		chosen[r.Name] = c
		log.V(2).Info("chose pip package", "package", c.String(), "resolved", c.pkg.Resolved)

		queue = append(queue, c.pending("", item.chain)...)
		for _, e := range r.Extras {
			c.extras[e] = true
			queue = append(queue, c.pending(e, item.chain)...)
		}
	}

	out := make([]lockfile.Package, 0, len(chosen))
	for _, c := range chosen {
		if len(c.deps) > 0 {
			c.pkg.Dependencies = maps.Keys(c.deps)
			sort.Strings(c.pkg.Dependencies)
		}
		out = append(out, c.pkg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	log.V(1).Info("resolved pip packages", "count", len(out))
	return out, nil
}

// pending returns the requirements of a choice for one of its
// extras. The empty extra is the base requirements.
func (c *choice) pending(extra string, chain []string) []pending {
	next := append(append([]string{}, chain...), c.String())
	out := make([]pending, len(c.requires))
	for i, r := range c.requires {
		out[i] = pending{req: r, extra: extra, parent: c.pkg.Name, chain: next}
	}
	return out
}

func (p *PackageKeeper) choose(ctx context.Context, r *pep508.Requirement, chain []string) (*choice, error) {
	if r.URL != "" {
		return p.chooseURL(ctx, r)
	}
	project, err := p.client.Project(ctx, r.Name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", solver.ErrPackageNotFound, err)
		}
		return nil, err
	}

	type release struct {
		raw     string
		version pep508.Version
	}
	releases := make([]release, 0, len(project.Releases))
	for raw := range project.Releases {
		v, err := pep508.ParseVersion(raw)
		if err != nil {
			continue
		}
		releases = append(releases, release{raw: raw, version: v})
	}
	sort.Slice(releases, func(i, j int) bool {
		if c := releases[i].version.Compare(releases[j].version); c != 0 {
			return c > 0
		}
		return releases[i].raw < releases[j].raw
	})

	pinned := len(r.Specifiers) == 1 && (r.Specifiers[0].Operator == "==" || r.Specifiers[0].Operator == "===")
	var reason string
	// pre-releases are only considered when no final release
	// will do
	for _, prereleases := range []bool{false, true} {
		for _, rel := range releases {
			if !r.Specifiers.Contains(rel.version, prereleases) {
				continue
			}
			file, why := p.bestFile(project.Releases[rel.raw], pinned)
			if file == nil {
				if reason == "" {
					reason = rel.raw + ": " + why
				}
				continue
			}
			requires, err := p.requiresDist(ctx, project, r.Name, rel.raw)
			if err != nil {
				return nil, err
			}
			v := rel.version
			return &choice{
				pkg: lockfile.Package{
					Name:      r.Name,
					Type:      v1.PackagePip,
					Version:   rel.raw,
					Resolved:  file.URL,
					Integrity: "sha256:" + file.Digests.SHA256,
				},
				version:  &v,
				requires: requires,
				extras:   map[string]bool{},
				deps:     map[string]bool{},
			}, nil
		}
	}
	return nil, &solver.UnsatisfiableError{Spec: r.String(), Chain: chain, Conflict: reason}
}

// bestFile picks the most specific compatible wheel, falling back
// to an sdist.
func (p *PackageKeeper) bestFile(files []File, pinned bool) (*File, string) {
	var best *File
	var score int
	var sdist *File
	reason := "no files"
	for i := range files {
		f := &files[i]
		if f.Yanked && !pinned {
			reason = "yanked"
			continue
		}
		if !p.supportsPython(f.RequiresPython) {
			reason = "requires python " + f.RequiresPython
			continue
		}
		switch f.PackageType {
		case PackageTypeWheel:
			s := p.target.Score(f.Filename)
			if s == 0 {
				reason = "no wheel for " + p.target.Platform.String() + " and python " + p.target.Python
				continue
			}
			if s > score || (s == score && f.Filename < best.Filename) {
				best, score = f, s
			}
		case PackageTypeSdist:
			if sdist == nil || f.Filename < sdist.Filename {
				sdist = f
			}
		}
	}
	if best != nil {
		return best, ""
	}
	if sdist != nil {
		return sdist, ""
	}
	return nil, reason
}

func (p *PackageKeeper) supportsPython(spec string) bool {
	if spec == "" || p.python == nil {
		return true
	}
	set, err := pep508.ParseSpecifierSet(spec)
	if err != nil {
		return true
	}
	return set.Contains(*p.python, true)
}

func (p *PackageKeeper) requiresDist(ctx context.Context, project *Project, name, version string) ([]*pep508.Requirement, error) {
	raw := project.Info.RequiresDist
	if project.Info.Version != version {
		release, err := p.client.Release(ctx, name, version)
		if err != nil {
			return nil, err
		}
		raw = release.Info.RequiresDist
	}
	log := logr.FromContextOrDiscard(ctx)
	out := make([]*pep508.Requirement, 0, len(raw))
	for _, s := range raw {
		r, err := pep508.Parse(s)
		if err != nil {
			log.V(2).Info("ignoring invalid requires_dist entry", "package", name, "version", version, "entry", s, "error", err.Error())
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// chooseURL handles direct references. Their dependencies are
// not inspected since that would require building them.
func (p *PackageKeeper) chooseURL(ctx context.Context, r *pep508.Requirement) (*choice, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("url", r.URL)

	c := &choice{
		pkg: lockfile.Package{
			Name:     r.Name,
			Resolved: r.URL,
		},
		extras: map[string]bool{},
		deps:   map[string]bool{},
	}
	if v, ok := versionFromFilename(r.URL); ok {
		c.pkg.Version = v
	}

	switch {
	case r.IsLocal():
		target, _, _ := strings.Cut(strings.TrimPrefix(r.URL, "file://"), "#")
		target = filepath.FromSlash(target)
		if !filepath.IsAbs(target) {
			target = filepath.Join(p.baseDir, target)
		}
		info, err := os.Stat(target)
		if err != nil {
			log.Error(err, "failed to read local requirement")
			return nil, fmt.Errorf("%s: %w", r, err)
		}
		if info.IsDir() {
			digest, err := hashdir.Make(target, "sha256")
			if err != nil {
				return nil, fmt.Errorf("hashing %s: %w", target, err)
			}
			c.pkg.Type = v1.PackageDir
			c.pkg.Integrity = "sha256:" + digest
			return c, nil
		}
		digest, err := lockfile.Sha256(target)
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", target, err)
		}
		c.pkg.Type = v1.PackageFile
		c.pkg.Integrity = "sha256:" + digest
		return c, nil
	case strings.HasPrefix(r.URL, "http://"), strings.HasPrefix(r.URL, "https://"):
		dst, err := p.downloader.Download(ctx, r.URL)
		if err != nil {
			return nil, fmt.Errorf("downloading %s: %w", r.URL, err)
		}
		digest, err := lockfile.Sha256(dst)
		if err != nil {
			return nil, fmt.Errorf("hashing %s: %w", dst, err)
		}
		c.pkg.Type = v1.PackageFile
		c.pkg.Integrity = "sha256:" + digest
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q: only http(s) URLs and local paths can be locked", pep508.ErrInvalidRequirement, r.String())
}

// versionFromFilename reads the version out of a wheel or sdist
// file name.
func versionFromFilename(u string) (string, bool) {
	base := path.Base(strings.SplitN(strings.SplitN(u, "#", 2)[0], "?", 2)[0])
	var stem string
	switch {
	case strings.HasSuffix(base, ".whl"):
		parts := strings.Split(strings.TrimSuffix(base, ".whl"), "-")
		if len(parts) < 5 {
			return "", false
		}
		return parts[1], true
	case strings.HasSuffix(base, ".tar.gz"):
		stem = strings.TrimSuffix(base, ".tar.gz")
	case strings.HasSuffix(base, ".zip"):
		stem = strings.TrimSuffix(base, ".zip")
	default:
		return "", false
	}
	i := strings.LastIndex(stem, "-")
	if i < 0 {
		return "", false
	}
	if _, err := pep508.ParseVersion(stem[i+1:]); err != nil {
		return "", false
	}
	return stem[i+1:], true
}
