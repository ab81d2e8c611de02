package resolve

import (
	"fmt"
	"strings"

	v1 "github.com/djcass44/envlock/pkg/api/v1"
	"github.com/djcass44/envlock/pkg/conda/channel"
	"github.com/djcass44/envlock/pkg/lockfile"
	"github.com/djcass44/envlock/pkg/manifest"
	"github.com/djcass44/envlock/pkg/matchspec"
	"github.com/djcass44/envlock/pkg/pep508"
	"github.com/djcass44/envlock/pkg/platform"
)

// Plan is everything needed to resolve a single platform.
type Plan struct {
	Platform    platform.Platform
	Conda       []v1.Dependency
	Pip         []v1.Dependency
	Virtual     []platform.VirtualPackage
	ContentHash string
}

// Plans works out what each platform needs to resolve. Channels
// must already be normalised.
func Plans(env *v1.Environment, channels []channel.Channel, platforms []platform.Platform, virtual map[string]map[string]string, selectors bool) ([]Plan, error) {
	hashChannels := channelInputs(channels)
	out := make([]Plan, 0, len(platforms))
	for _, p := range platforms {
		conda, err := manifest.ForPlatform(env.Dependencies, p, selectors)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		pip, err := manifest.ForPlatform(env.Pip, p, selectors)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		vp := platform.VirtualPackages(p, virtual[p.String()])
		inputs := manifest.NewInputs(p, hashChannels, conda, pip, vp)
		inputs.Variables = env.Variables
		out = append(out, Plan{
			Platform:    p,
			Conda:       conda,
			Pip:         pip,
			Virtual:     vp,
			ContentHash: inputs.ContentHash(),
		})
	}
	return out, nil
}

// channelInputs returns the channel identities that go into the
// content hash. Channels that use environment variables are
// hashed as written so that rotating a token doesn't invalidate
// the lock.
func channelInputs(channels []channel.Channel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		if strings.Contains(ch.Name, "${") {
			out[i] = ch.Name
			continue
		}
		out[i] = ch.URL
	}
	return out
}

// Expected returns the packages that the manifest names directly
// for this platform. Pip markers are evaluated against the
// python version that was locked.
func (p Plan) Expected(python string) (lockfile.Expected, error) {
	want := lockfile.Expected{ContentHash: p.ContentHash}
	for _, d := range p.Conda {
		m, err := matchspec.Parse(d.Spec)
		if err != nil {
			return lockfile.Expected{}, fmt.Errorf("line %d: %w", d.Line, err)
		}
		if m.IsVirtual() {
			continue
		}
		want.Direct = append(want.Direct, lockfile.Ref{Name: m.Name})
	}
	reqs, _, err := manifest.PipRequirements(p.Pip)
	if err != nil {
		return lockfile.Expected{}, err
	}
	env := pep508.Environment(p.Platform, python)
	for _, r := range reqs {
		ok, err := r.Applies(env)
		if err != nil {
			return lockfile.Expected{}, fmt.Errorf("%s: %w", r, err)
		}
		if ok {
			want.Direct = append(want.Direct, lockfile.Ref{Name: r.Name, Pip: true})
		}
	}
	return want, nil
}

// Python returns the version of python in a locked platform.
func Python(p lockfile.Platform) string {
	for _, pkg := range p.Packages {
		if pkg.Type == v1.PackageConda && pkg.Name == "python" {
			return pkg.Version
		}
	}
	return ""
}
