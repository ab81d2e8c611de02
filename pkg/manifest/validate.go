package manifest

import (
	"errors"
	"fmt"
	"strings"

	v1 "github.com/djcass44/envlock/pkg/api/v1"
	"github.com/djcass44/envlock/pkg/matchspec"
	"github.com/djcass44/envlock/pkg/pep508"
	"github.com/djcass44/envlock/pkg/platform"
)

var ErrDuplicateDependency = errors.New("duplicate dependency")

const (
	pipIndexURL      = "--index-url"
	pipExtraIndexURL = "--extra-index-url"
)

// PipOptions are the index options that may appear in the pip
// section alongside requirements.
type PipOptions struct {
	IndexURL       string
	ExtraIndexURLs []string
}

// Validate checks every invariant of the manifest and returns
// all problems that were found.
func Validate(env *v1.Environment) error {
	var errs []error

	seenChannels := map[string]bool{}
	for _, c := range env.Channels {
		c = strings.TrimSpace(c)
		if c == "" {
			errs = append(errs, fmt.Errorf("%w: empty channel", ErrInvalidManifest))
			continue
		}
		if seenChannels[c] {
			errs = append(errs, fmt.Errorf("%w: channel %q is listed more than once", ErrInvalidManifest, c))
		}
		seenChannels[c] = true
	}

	seenPlatforms := map[platform.Platform]bool{}
	for _, p := range env.Platforms {
		pp, err := platform.Parse(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seenPlatforms[pp] {
			errs = append(errs, fmt.Errorf("%w: platform %q is listed more than once", ErrInvalidManifest, p))
		}
		seenPlatforms[pp] = true
	}

	seenConda := map[string]int{}
	for _, d := range env.Dependencies {
		if err := validateSelector(d); err != nil {
			errs = append(errs, err)
		}
		m, err := matchspec.Parse(d.Spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", d.Line, err))
			continue
		}
		if line, ok := seenConda[m.Name]; ok {
			errs = append(errs, fmt.Errorf("%w: %q on line %d was already declared on line %d", ErrDuplicateDependency, m.Name, d.Line, line))
			continue
		}
		seenConda[m.Name] = d.Line
	}

	if _, _, err := PipRequirements(env.Pip); err != nil {
		errs = append(errs, err)
	}
	for _, d := range env.Pip {
		if err := validateSelector(d); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func validateSelector(d v1.Dependency) error {
	if d.Selector == "" {
		return nil
	}
	if _, err := platform.Linux64.Matches(d.Selector); err != nil {
		return fmt.Errorf("%w: line %d: %s", ErrInvalidManifest, d.Line, err)
	}
	return nil
}

// PipRequirements parses the pip section into requirements and
// index options. Names must be unique after normalisation.
func PipRequirements(deps []v1.Dependency) ([]*pep508.Requirement, PipOptions, error) {
	var opts PipOptions
	var out []*pep508.Requirement
	var errs []error
	seen := map[string]int{}
	for _, d := range deps {
		if strings.HasPrefix(d.Spec, "-") {
			flag, value, _ := strings.Cut(d.Spec, " ")
			if f, v, ok := strings.Cut(flag, "="); ok {
				flag, value = f, v
			}
			value = strings.TrimSpace(value)
			switch {
			case flag == pipIndexURL && value != "":
				opts.IndexURL = value
			case flag == pipExtraIndexURL && value != "":
				opts.ExtraIndexURLs = append(opts.ExtraIndexURLs, value)
			default:
				errs = append(errs, fmt.Errorf("line %d: %w: unsupported pip option %q", d.Line, pep508.ErrInvalidRequirement, d.Spec))
			}
			continue
		}
		r, err := pep508.Parse(d.Spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", d.Line, err))
			continue
		}
		if !r.Lockable() {
			errs = append(errs, fmt.Errorf("line %d: %w: %q: only http(s) URLs and local paths can be locked", d.Line, pep508.ErrInvalidRequirement, d.Spec))
			continue
		}
		if line, ok := seen[r.Name]; ok {
			errs = append(errs, fmt.Errorf("%w: pip requirement %q on line %d was already declared on line %d", ErrDuplicateDependency, r.Name, d.Line, line))
			continue
		}
		seen[r.Name] = d.Line
		out = append(out, r)
	}
	return out, opts, errors.Join(errs...)
}

// ForPlatform returns the dependencies that apply to a platform.
// When selectors is false every dependency applies.
func ForPlatform(deps []v1.Dependency, p platform.Platform, selectors bool) ([]v1.Dependency, error) {
	out := make([]v1.Dependency, 0, len(deps))
	for _, d := range deps {
		if selectors {
			ok, err := p.Matches(d.Selector)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", d.Line, err)
			}
			if !ok {
				continue
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// Platforms returns the platforms that should be locked. If the
// manifest lists none, the host platform is used.
func Platforms(env *v1.Environment, override []string) ([]platform.Platform, error) {
	tags := env.Platforms
	if len(override) > 0 {
		tags = override
	}
	if len(tags) == 0 {
		return []platform.Platform{platform.Host()}, nil
	}
	out := make([]platform.Platform, 0, len(tags))
	for _, t := range tags {
		p, err := platform.Parse(t)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
