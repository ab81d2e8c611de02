package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	v1 "github.com/djcass44/envlock/pkg/api/v1"
	"github.com/djcass44/envlock/pkg/platform"
	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

var ErrInvalidManifest = errors.New("invalid manifest")

const pipKey = "pip"

// Read loads an environment manifest from disk.
func Read(ctx context.Context, path string) (*v1.Environment, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("path", path)

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		log.Error(err, "failed to read manifest")
		return nil, err
	}
	env, err := Decode(bytes.NewReader(data))
	if err != nil {
		log.Error(err, "failed to decode manifest")
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if env.Name == "" {
		env.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		log.V(1).Info("manifest has no name, using file name", "name", env.Name)
	}
	log.V(1).Info("read manifest", "name", env.Name, "channels", len(env.Channels), "dependencies", len(env.Dependencies), "pip", len(env.Pip), "platforms", env.Platforms)
	return env, nil
}

// Decode parses a manifest. YAML nodes are walked directly so
// that ordering and trailing "# [selector]" comments survive.
func Decode(r io.Reader) (*v1.Environment, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidManifest)
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidManifest, err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, nodeErr(root, "expected a mapping at the top level")
	}

	env := &v1.Environment{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		var err error
		switch key.Value {
		case "name":
			env.Name, err = scalar(value)
		case "channels":
			env.Channels, err = scalars(value)
		case "platforms":
			env.Platforms, err = scalars(value)
		case "dependencies":
			env.Dependencies, env.Pip, err = dependencies(value)
		case "variables":
			env.Variables, err = variables(value)
		case "prefix":
			// machine specific, ignored
		default:
			err = nodeErr(key, fmt.Sprintf("unknown key %q", key.Value))
		}
		if err != nil {
			return nil, err
		}
	}
	return env, nil
}

func nodeErr(n *yaml.Node, msg string) error {
	return fmt.Errorf("%w: line %d: %s", ErrInvalidManifest, n.Line, msg)
}

func scalar(n *yaml.Node) (string, error) {
	if n.Kind != yaml.ScalarNode {
		return "", nodeErr(n, "expected a string")
	}
	return n.Value, nil
}

func scalars(n *yaml.Node) ([]string, error) {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, nodeErr(n, "expected a list")
	}
	out := make([]string, 0, len(n.Content))
	for _, c := range n.Content {
		s, err := scalar(c)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func dependency(n *yaml.Node) v1.Dependency {
	return v1.Dependency{
		Spec:     strings.TrimSpace(n.Value),
		Selector: platform.ParseSelector(n.LineComment),
		Line:     n.Line,
	}
}

func dependencies(n *yaml.Node) ([]v1.Dependency, []v1.Dependency, error) {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return nil, nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, nil, nodeErr(n, "expected a list of dependencies")
	}
	var conda, pip []v1.Dependency
	var seenPip bool
	for _, c := range n.Content {
		switch c.Kind {
		case yaml.ScalarNode:
			conda = append(conda, dependency(c))
		case yaml.MappingNode:
			if len(c.Content) != 2 || c.Content[0].Value != pipKey {
				return nil, nil, nodeErr(c, "only a single 'pip' mapping is allowed in dependencies")
			}
			if seenPip {
				return nil, nil, nodeErr(c, "'pip' may only appear once")
			}
			seenPip = true
			list := c.Content[1]
			if list.Kind != yaml.SequenceNode {
				return nil, nil, nodeErr(list, "expected 'pip' to be a list")
			}
			for _, p := range list.Content {
				if p.Kind != yaml.ScalarNode {
					return nil, nil, nodeErr(p, "expected a pip requirement string")
				}
				pip = append(pip, dependency(p))
			}
		default:
			return nil, nil, nodeErr(c, "expected a string or a 'pip' mapping")
		}
	}
	return conda, pip, nil
}

func variables(n *yaml.Node) (map[string]string, error) {
	if n.Kind != yaml.MappingNode {
		return nil, nodeErr(n, "expected a mapping of variables")
	}
	out := map[string]string{}
	for i := 0; i+1 < len(n.Content); i += 2 {
		v, err := scalar(n.Content[i+1])
		if err != nil {
			return nil, err
		}
		out[n.Content[i].Value] = v
	}
	return out, nil
}
