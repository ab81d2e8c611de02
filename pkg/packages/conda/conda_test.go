package conda

import (
	"context"
	"fmt"
	"testing"
	"time"

	v1 "github.com/djcass44/envlock/pkg/api/v1"
	"github.com/djcass44/envlock/pkg/conda/channel"
	"github.com/djcass44/envlock/pkg/conda/repodata"
	"github.com/djcass44/envlock/pkg/conda/repodata/repodatatest"
	"github.com/djcass44/envlock/pkg/matchspec"
	"github.com/djcass44/envlock/pkg/packages"
	"github.com/djcass44/envlock/pkg/platform"
	"github.com/djcass44/envlock/pkg/solver"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// interface guard
var _ packages.PackageManager = &PackageKeeper{}

var forge = repodatatest.Channel{
	"linux-64": {
		{Name: "python", Version: "3.11.4", Build: "h0", Depends: []string{"libzlib >=1.2", "__glibc >=2.17", "libzlib"}},
		{Name: "libzlib", Version: "1.3", Conda: true},
	},
	"noarch": {
		{Name: "tqdm", Version: "4.66.1", Build: "pyhd8ed1ab_0", Depends: []string{"python >=3.7"}},
	},
}

func deps(s ...string) []v1.Dependency {
	out := make([]v1.Dependency, len(s))
	for i := range s {
		out[i] = v1.Dependency{Spec: s[i], Line: i + 1}
	}
	return out
}

func newKeeper(t *testing.T, ctx context.Context, channels []channel.Channel) *PackageKeeper {
	f, err := repodata.NewFetcher(t.TempDir(), time.Hour, nil)
	require.NoError(t, err)
	pkg, err := NewPackageKeeper(ctx, f, Options{
		Channels:    channels,
		Platform:    platform.Linux64,
		Virtual:     platform.VirtualPackages(platform.Linux64, nil),
		MaxSteps:    10_000,
		Concurrency: 2,
	})
	require.NoError(t, err)
	return pkg
}

func TestPackageKeeper_Resolve(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	srv := repodatatest.Serve(t, map[string]repodatatest.Channel{"conda-forge": forge})
	pkg := newKeeper(t, ctx, []channel.Channel{{Name: "conda-forge", URL: srv.URL + "/conda-forge"}})

	out, err := pkg.Resolve(ctx, deps("tqdm", "python=3.11"))
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "libzlib", out[0].Name)
	assert.False(t, out[0].Direct)
	assert.Equal(t, srv.URL+"/conda-forge/linux-64/libzlib-1.3-0.conda", out[0].Resolved)
	assert.Equal(t, fmt.Sprintf("sha256:%064x", len("libzlib-1.3-0.conda")), out[0].Integrity)

	assert.Equal(t, "python", out[1].Name)
	assert.True(t, out[1].Direct)
	assert.Equal(t, v1.PackageConda, out[1].Type)
	assert.Equal(t, "conda-forge", out[1].Channel)
	assert.Equal(t, "linux-64", out[1].Subdir)
	assert.Equal(t, "h0", out[1].Build)
	// duplicates and virtual packages are dropped
	assert.Equal(t, []string{"libzlib"}, out[1].Dependencies)

	assert.Equal(t, "tqdm", out[2].Name)
	assert.Equal(t, "noarch", out[2].Subdir)
	assert.Equal(t, []string{"python"}, out[2].Dependencies)
}

func TestPackageKeeper_ResolveEnvChannel(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	srv := repodatatest.Serve(t, map[string]repodatatest.Channel{"conda-forge": forge})
	t.Setenv("ENVLOCK_TEST_MIRROR", srv.URL)

	chs, err := channel.Normalise("${ENVLOCK_TEST_MIRROR}/conda-forge", channel.Options{})
	require.NoError(t, err)
	pkg := newKeeper(t, ctx, chs)

	out, err := pkg.Resolve(ctx, deps("libzlib"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "${ENVLOCK_TEST_MIRROR}/conda-forge/linux-64/libzlib-1.3-0.conda", out[0].Resolved)
}

func TestPackageKeeper_ResolveLocal(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	url := repodatatest.WriteDir(t, forge)
	pkg := newKeeper(t, ctx, []channel.Channel{{Name: url, URL: url}})

	out, err := pkg.Resolve(ctx, deps("python"))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, url+"/linux-64/python-3.11.4-h0.tar.bz2", out[1].Resolved)
}

func TestPackageKeeper_ResolveErrors(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	srv := repodatatest.Serve(t, map[string]repodatatest.Channel{"conda-forge": forge})
	pkg := newKeeper(t, ctx, []channel.Channel{{Name: "conda-forge", URL: srv.URL + "/conda-forge"}})

	var cases = []struct {
		name string
		spec string
		err  error
	}{
		{"invalid spec", "numpy>=", matchspec.ErrInvalidMatchSpec},
		{"missing package", "scipy", solver.ErrPackageNotFound},
		{"unsatisfiable", "python>=3.12", solver.ErrUnsatisfiable},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pkg.Resolve(ctx, deps(tt.spec))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestNewPackageKeeper_Unreachable(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	srv := repodatatest.Serve(t, map[string]repodatatest.Channel{})
	f, err := repodata.NewFetcher(t.TempDir(), 0, nil)
	require.NoError(t, err)
	_, err = NewPackageKeeper(ctx, f, Options{
		Channels:    []channel.Channel{{Name: "missing", URL: srv.URL + "/missing"}},
		Platform:    platform.Linux64,
		Concurrency: 1,
	})
	assert.ErrorIs(t, err, repodata.ErrChannelUnreachable)
}
