package resolve

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/djcass44/envlock/internal/config"
	v1 "github.com/djcass44/envlock/pkg/api/v1"
	"github.com/djcass44/envlock/pkg/conda/channel"
	"github.com/djcass44/envlock/pkg/conda/repodata"
	"github.com/djcass44/envlock/pkg/downloader"
	"github.com/djcass44/envlock/pkg/lockfile"
	"github.com/djcass44/envlock/pkg/manifest"
	"github.com/djcass44/envlock/pkg/packages"
	"github.com/djcass44/envlock/pkg/packages/conda"
	"github.com/djcass44/envlock/pkg/packages/pip"
	"github.com/djcass44/envlock/pkg/platform"
	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
)

// Resolver turns a manifest into a lock. Downloads are shared
// between every platform that it resolves.
type Resolver struct {
	cfg        *config.Config
	client     *http.Client
	fetcher    *repodata.Fetcher
	downloader *downloader.Downloader
}

func New(cfg *config.Config, client *http.Client) (*Resolver, error) {
	if client == nil {
		client = http.DefaultClient
	}
	fetcher, err := repodata.NewFetcher(cfg.CacheDir, cfg.RepodataTTL, client)
	if err != nil {
		return nil, fmt.Errorf("preparing repodata cache: %w", err)
	}
	dl, err := downloader.NewDownloader(filepath.Join(cfg.CacheDir, "downloads"))
	if err != nil {
		return nil, fmt.Errorf("preparing download cache: %w", err)
	}
	return &Resolver{
		cfg:        cfg,
		client:     client,
		fetcher:    fetcher,
		downloader: dl,
	}, nil
}

// ChannelOptions returns how channel names are expanded.
func ChannelOptions(cfg *config.Config) channel.Options {
	return channel.Options{
		Alias:            cfg.ChannelAlias,
		Defaults:         cfg.DefaultChannels,
		ImplicitDefaults: cfg.ImplicitDefaults,
	}
}

// Request describes a single lock operation.
type Request struct {
	Env *v1.Environment
	// ManifestPath is used to find local pip requirements.
	ManifestPath string
	Platforms    []platform.Platform
	// Previous is an existing lock. Platforms whose content
	// hash hasn't changed are copied from it instead of being
	// resolved again.
	Previous *lockfile.Lock
}

// Lock resolves every platform concurrently. Either every
// platform resolves or an error naming the failed platform is
// returned.
func (r *Resolver) Lock(ctx context.Context, req Request) (*lockfile.Lock, error) {
	log := logr.FromContextOrDiscard(ctx)

	opts := ChannelOptions(r.cfg)
	channels, err := channel.FromEnvironment(req.Env, opts)
	if err != nil {
		return nil, err
	}
	plans, err := Plans(req.Env, channels, req.Platforms, r.cfg.VirtualPackages, r.cfg.Selectors)
	if err != nil {
		return nil, err
	}
	_, pipOpts, err := manifest.PipRequirements(req.Env.Pip)
	if err != nil {
		return nil, err
	}
	client := pip.NewClient(r.client, pip.IndexURLs(r.cfg.PyPIURL, pipOpts)...)

	lock := &lockfile.Lock{
		Name:            req.Env.Name,
		LockfileVersion: lockfile.Version,
		Channels:        channels,
		Variables:       req.Env.Variables,
		Platforms:       map[string]lockfile.Platform{},
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, plan := range plans {
		g.Go(func() error {
			if previous, ok := r.unchanged(req.Previous, plan); ok {
				log.Info("content hash is unchanged, keeping existing lock", "platform", plan.Platform)
				mu.Lock()
				lock.Platforms[plan.Platform.String()] = previous
				mu.Unlock()
				return nil
			}
			log.Info("resolving platform", "platform", plan.Platform)
			pkgs, err := r.resolve(gctx, plan, channels, client, filepath.Dir(req.ManifestPath))
			if err != nil {
				return fmt.Errorf("%s: %w", plan.Platform, err)
			}
			mu.Lock()
			lock.Platforms[plan.Platform.String()] = lockfile.Platform{
				ContentHash: plan.ContentHash,
				Packages:    pkgs,
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error(err, "failed to lock environment")
		return nil, err
	}
	return lock, nil
}

func (r *Resolver) unchanged(previous *lockfile.Lock, plan Plan) (lockfile.Platform, bool) {
	if previous == nil || previous.LockfileVersion != lockfile.Version {
		return lockfile.Platform{}, false
	}
	p, ok := previous.Platforms[plan.Platform.String()]
	if !ok || p.ContentHash != plan.ContentHash {
		return lockfile.Platform{}, false
	}
	return p, true
}

func (r *Resolver) resolve(ctx context.Context, plan Plan, channels []channel.Channel, client *pip.Client, baseDir string) ([]lockfile.Package, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("platform", plan.Platform)

	condaKeeper, err := conda.NewPackageKeeper(ctx, r.fetcher, conda.Options{
		Channels:    channels,
		Channel:     ChannelOptions(r.cfg),
		Platform:    plan.Platform,
		Virtual:     plan.Virtual,
		MaxSteps:    r.cfg.MaxSolveSteps,
		Concurrency: r.cfg.Concurrency,
	})
	if err != nil {
		return nil, err
	}
	var keeper packages.PackageManager = condaKeeper
	condaPkgs, err := keeper.Resolve(ctx, plan.Conda)
	if err != nil {
		return nil, err
	}
	if len(plan.Pip) == 0 {
		return condaPkgs, nil
	}

	target, err := pip.NewTarget(plan.Platform, condaPkgs, plan.Virtual)
	if err != nil {
		return nil, err
	}
	log.V(1).Info("resolving pip dependencies", "python", target.Python)
	keeper = pip.NewPackageKeeper(pip.Options{
		Client:     client,
		Downloader: r.downloader,
		Target:     target,
		Provided:   pip.Provided(condaPkgs),
		BaseDir:    baseDir,
	})
	pipPkgs, err := keeper.Resolve(ctx, plan.Pip)
	if err != nil {
		return nil, err
	}
	pkgs := append(condaPkgs, pipPkgs...)
	lockfile.SortPackages(pkgs)
	return pkgs, nil
}

// Expected returns what the manifest expects of each locked
// platform.
func Expected(cfg *config.Config, env *v1.Environment, platforms []platform.Platform, lock *lockfile.Lock) (map[string]lockfile.Expected, error) {
	channels, err := channel.FromEnvironment(env, ChannelOptions(cfg))
	if err != nil {
		return nil, err
	}
	plans, err := Plans(env, channels, platforms, cfg.VirtualPackages, cfg.Selectors)
	if err != nil {
		return nil, err
	}
	out := make(map[string]lockfile.Expected, len(plans))
	for _, plan := range plans {
		locked, ok := lock.Platforms[plan.Platform.String()]
		if !ok {
			// nothing to evaluate markers against, Validate reports
			// the missing platform
			out[plan.Platform.String()] = lockfile.Expected{ContentHash: plan.ContentHash}
			continue
		}
		want, err := plan.Expected(Python(locked))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", plan.Platform, err)
		}
		out[plan.Platform.String()] = want
	}
	return out, nil
}
