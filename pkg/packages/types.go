package packages

import (
	"context"

	v1 "github.com/djcass44/envlock/pkg/api/v1"
	"github.com/djcass44/envlock/pkg/lockfile"
)

// PackageManager resolves the dependencies of one manifest
// section for a single platform.
type PackageManager interface {
	Resolve(ctx context.Context, deps []v1.Dependency) ([]lockfile.Package, error)
}
