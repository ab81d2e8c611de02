package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/djcass44/envlock/pkg/platform"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/yaml"
)

var ErrMissing = errors.New("missing lockfile")

// Read reads the lockfile that belongs to a manifest. The
// lockfile may be JSON or YAML.
func Read(ctx context.Context, manifestPath string) (*Lock, error) {
	log := logr.FromContextOrDiscard(ctx)
	lock, err := os.Open(Name(manifestPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, Name(manifestPath))
		}
		log.Error(err, "failed to open lockfile")
		return nil, err
	}
	defer lock.Close()
	// read the lockfile
	var lockFile Lock
	if err := yaml.NewYAMLOrJSONDecoder(lock, 4096).Decode(&lockFile); err != nil {
		log.Error(err, "failed to read lockfile")
		return nil, err
	}
	return &lockFile, nil
}

// Encode returns the canonical form of the lock. The same lock
// always encodes to the same bytes.
func (l *Lock) Encode() ([]byte, error) {
	for k, p := range l.Platforms {
		SortPackages(p.Packages)
		l.Platforms[k] = p
	}
	data, err := json.MarshalIndent(l, "", "\t")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Write writes the lock next to the manifest. The existing
// lockfile is only replaced once the new one has been written
// in full.
func Write(ctx context.Context, manifestPath string, l *Lock) error {
	data, err := l.Encode()
	if err != nil {
		return fmt.Errorf("encoding lockfile: %w", err)
	}
	return WriteFile(ctx, Name(manifestPath), data)
}

// WriteFile atomically replaces the contents of path.
func WriteFile(ctx context.Context, path string, data []byte) error {
	log := logr.FromContextOrDiscard(ctx).WithValues("path", path)

	tmp := filepath.Join(filepath.Dir(path), "."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error(err, "failed to write file")
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		log.Error(err, "failed to move file into place")
		return err
	}
	log.V(1).Info("wrote file", "bytes", len(data))
	return nil
}

func stem(s string) string {
	return strings.TrimSuffix(s, filepath.Ext(s))
}

// Name returns the path of the lockfile for a manifest.
func Name(s string) string {
	return stem(s) + "-lock.json"
}

// ExplicitName returns the path of the explicit file of a
// platform.
func ExplicitName(s string, p platform.Platform) string {
	return stem(s) + "-" + p.String() + ".lock"
}
