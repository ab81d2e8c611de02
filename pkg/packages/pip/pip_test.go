package pip

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	v1 "github.com/djcass44/envlock/pkg/api/v1"
	"github.com/djcass44/envlock/pkg/downloader"
	"github.com/djcass44/envlock/pkg/lockfile"
	"github.com/djcass44/envlock/pkg/manifest"
	"github.com/djcass44/envlock/pkg/packages"
	"github.com/djcass44/envlock/pkg/pep508"
	"github.com/djcass44/envlock/pkg/platform"
	"github.com/djcass44/envlock/pkg/solver"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// interface guard
var _ packages.PackageManager = &PackageKeeper{}

// release describes one version of a fake project.
type release struct {
	requires []string
	files    []File
}

func wheel(name string, yanked bool, requiresPython string) File {
	f := File{
		Filename:       name,
		URL:            "https://files.example.com/" + name,
		PackageType:    PackageTypeWheel,
		Yanked:         yanked,
		RequiresPython: requiresPython,
	}
	f.Digests.SHA256 = fmt.Sprintf("%x", sha256.Sum256([]byte(name)))
	return f
}

func sdist(name string) File {
	f := wheel(name, false, "")
	f.PackageType = PackageTypeSdist
	return f
}

// servePyPI serves the JSON API for a set of projects. The
// latest version of each project is the one in Info.
func servePyPI(t *testing.T, projects map[string]map[string]release, latest map[string]string) *httptest.Server {
	render := func(name, version string) Project {
		var p Project
		p.Info.Name = name
		p.Info.Version = version
		p.Info.RequiresDist = projects[name][version].requires
		p.Releases = map[string][]File{}
		for v, rel := range projects[name] {
			p.Releases[v] = rel.files
		}
		p.URLs = projects[name][version].files
		return p
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bits := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(bits) < 3 || bits[0] != "pypi" || bits[len(bits)-1] != "json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		name := bits[1]
		if _, ok := projects[name]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		version := latest[name]
		if len(bits) == 4 {
			version = bits[2]
			if _, ok := projects[name][version]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(render(name, version))
	}))
	t.Cleanup(srv.Close)
	return srv
}

var testProjects = map[string]map[string]release{
	"wandb": {
		"0.15.0": {
			requires: []string{"click>=7,<8"},
			files:    []File{wheel("wandb-0.15.0-py3-none-any.whl", false, ">=3.6")},
		},
		"0.16.1": {
			requires: []string{
				"click>=7",
				"numpy",
				"pywin32 ; sys_platform == 'win32'",
				"pytest ; extra == 'test'",
				"not a valid requirement!!",
			},
			files: []File{wheel("wandb-0.16.1-py3-none-any.whl", false, ">=3.7")},
		},
	},
	"click": {
		"7.1.2":    {files: []File{wheel("click-7.1.2-py2.py3-none-any.whl", false, "")}},
		"8.1.7":    {files: []File{wheel("click-8.1.7-py3-none-any.whl", false, ">=3.7")}},
		"8.2.0rc1": {files: []File{wheel("click-8.2.0rc1-py3-none-any.whl", false, ">=3.7")}},
	},
	"pywin32": {
		"306": {files: []File{wheel("pywin32-306-cp311-cp311-win_amd64.whl", false, "")}},
	},
	"pytest": {
		"8.0.0": {files: []File{wheel("pytest-8.0.0-py3-none-any.whl", false, ">=3.8")}},
	},
	"hydra-core": {
		"1.3.2": {
			requires: []string{"pytest ; extra == 'test'"},
			files:    []File{wheel("hydra_core-1.3.2-py3-none-any.whl", false, "")},
		},
	},
	"pandas": {
		"2.1.0": {files: []File{wheel("pandas-2.1.0-cp311-cp311-manylinux_2_17_x86_64.manylinux2014_x86_64.whl", true, ">=3.9")}},
		"2.0.3": {files: []File{
			wheel("pandas-2.0.3-cp311-cp311-manylinux_2_17_x86_64.manylinux2014_x86_64.whl", false, ">=3.8"),
			wheel("pandas-2.0.3-cp311-cp311-win_amd64.whl", false, ">=3.8"),
			sdist("pandas-2.0.3.tar.gz"),
		}},
	},
	"modern": {
		"2.0": {files: []File{wheel("modern-2.0-py3-none-any.whl", false, ">=3.12")}},
		"1.0": {files: []File{wheel("modern-1.0-py3-none-any.whl", false, ">=3.8")}},
	},
	"legacy": {
		"1.0": {
			requires: []string{"click<8"},
			files:    []File{wheel("legacy-1.0-py3-none-any.whl", false, "")},
		},
	},
}

var testLatest = map[string]string{
	"wandb":      "0.16.1",
	"click":      "8.2.0rc1",
	"pywin32":    "306",
	"pytest":     "8.0.0",
	"hydra-core": "1.3.2",
	"pandas":     "2.1.0",
	"modern":     "2.0",
	"legacy":     "1.0",
}

func deps(s ...string) []v1.Dependency {
	out := make([]v1.Dependency, len(s))
	for i := range s {
		out[i] = v1.Dependency{Spec: s[i], Line: i + 1}
	}
	return out
}

func newKeeper(t *testing.T, srv *httptest.Server, p platform.Platform) *PackageKeeper {
	dl, err := downloader.NewDownloader(t.TempDir())
	require.NoError(t, err)
	target, err := NewTarget(p, []lockfile.Package{{Name: "python", Version: "3.11.4"}, {Name: "numpy", Version: "1.26.4"}}, platform.VirtualPackages(p, nil))
	require.NoError(t, err)
	return NewPackageKeeper(Options{
		Client:     NewClient(srv.Client(), srv.URL+"/pypi"),
		Downloader: dl,
		Target:     target,
		Provided:   map[string]bool{"numpy": true, "python": true},
	})
}

func names(pkgs []lockfile.Package) []string {
	out := make([]string, len(pkgs))
	for i, p := range pkgs {
		out[i] = p.Name + "==" + p.Version
	}
	return out
}

func TestPackageKeeper_Resolve(t *testing.T) {
	srv := servePyPI(t, testProjects, testLatest)

	var cases = []struct {
		name     string
		platform platform.Platform
		deps     []string
		expected []string
	}{
		{
			"latest release and skips conda packages",
			platform.Linux64,
			[]string{"wandb>=0.16"},
			[]string{"click==8.1.7", "wandb==0.16.1"},
		},
		{
			"markers are evaluated per platform",
			platform.Win64,
			[]string{"wandb>=0.16"},
			[]string{"click==8.1.7", "pywin32==306", "wandb==0.16.1"},
		},
		{
			"older releases read their own metadata",
			platform.Linux64,
			[]string{"wandb==0.15.0"},
			[]string{"click==7.1.2", "wandb==0.15.0"},
		},
		{
			"extras",
			platform.Linux64,
			[]string{"Hydra_Core[test]==1.3.2"},
			[]string{"hydra-core==1.3.2", "pytest==8.0.0"},
		},
		{
			"extras of other packages",
			platform.Linux64,
			[]string{"hydra-core", "wandb[test]"},
			[]string{"click==8.1.7", "hydra-core==1.3.2", "pytest==8.0.0", "wandb==0.16.1"},
		},
		{
			"pre-releases when nothing else matches",
			platform.Linux64,
			[]string{"click>8.1.7"},
			[]string{"click==8.2.0rc1"},
		},
		{
			"yanked releases are skipped",
			platform.Linux64,
			[]string{"pandas"},
			[]string{"pandas==2.0.3"},
		},
		{
			"yanked releases can be pinned",
			platform.Linux64,
			[]string{"pandas==2.1.0"},
			[]string{"pandas==2.1.0"},
		},
		{
			"requires python",
			platform.Linux64,
			[]string{"modern"},
			[]string{"modern==1.0"},
		},
		{
			"markers on manifest entries",
			platform.Linux64,
			[]string{"pywin32 ; sys_platform == 'win32'", "modern"},
			[]string{"modern==1.0"},
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

			out, err := newKeeper(t, srv, tt.platform).Resolve(ctx, deps(tt.deps...))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, names(out))
		})
	}
}

func TestPackageKeeper_ResolvePackages(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))
	srv := servePyPI(t, testProjects, testLatest)

	out, err := newKeeper(t, srv, platform.Linux64).Resolve(ctx, deps("wandb>=0.16"))
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "click", out[0].Name)
	assert.False(t, out[0].Direct)
	assert.Equal(t, v1.PackagePip, out[0].Type)

	assert.True(t, out[1].Direct)
	assert.Equal(t, "https://files.example.com/wandb-0.16.1-py3-none-any.whl", out[1].Resolved)
	assert.Equal(t, fmt.Sprintf("sha256:%x", sha256.Sum256([]byte("wandb-0.16.1-py3-none-any.whl"))), out[1].Integrity)
	// conda packages are still recorded as dependencies
	assert.Equal(t, []string{"click", "numpy"}, out[1].Dependencies)
}

func TestPackageKeeper_ResolveWheelTags(t *testing.T) {
	srv := servePyPI(t, testProjects, testLatest)

	var cases = []struct {
		platform platform.Platform
		file     string
	}{
		{platform.Linux64, "pandas-2.0.3-cp311-cp311-manylinux_2_17_x86_64.manylinux2014_x86_64.whl"},
		{platform.Win64, "pandas-2.0.3-cp311-cp311-win_amd64.whl"},
		{platform.OsxArm64, "pandas-2.0.3.tar.gz"},
	}
	for _, tt := range cases {
		t.Run(tt.platform.String(), func(t *testing.T) {
			ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

			out, err := newKeeper(t, srv, tt.platform).Resolve(ctx, deps("pandas<2.1"))
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, "https://files.example.com/"+tt.file, out[0].Resolved)
		})
	}
}

func TestPackageKeeper_ResolveErrors(t *testing.T) {
	srv := servePyPI(t, testProjects, testLatest)

	var cases = []struct {
		name     string
		deps     []string
		err      error
		contains string
	}{
		{"missing project", []string{"does-not-exist"}, solver.ErrPackageNotFound, "does-not-exist"},
		{"no matching version", []string{"click>=9"}, solver.ErrUnsatisfiable, "click>=9"},
		{"no compatible python", []string{"modern>=2"}, solver.ErrUnsatisfiable, "requires python >=3.12"},
		{"conflicting requirements", []string{"click>=8", "legacy"}, solver.ErrUnsatisfiable, "click==8.1.7"},
		{"version control", []string{"git+https://github.com/example/demo.git#egg=demo"}, pep508.ErrInvalidRequirement, "only http(s)"},
		{"invalid option", []string{"--no-deps"}, pep508.ErrInvalidRequirement, "--no-deps"},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

			_, err := newKeeper(t, srv, platform.Linux64).Resolve(ctx, deps(tt.deps...))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestPackageKeeper_ResolveDirect(t *testing.T) {
	ctx := logr.NewContext(context.TODO(), testr.NewWithOptions(t, testr.Options{Verbosity: 10}))

	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("wheel contents"))
	}))
	defer files.Close()
	srv := servePyPI(t, testProjects, testLatest)

	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "src", "demo"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "src", "demo", "__init__.py"), []byte("print('hello')\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "local-2.0.tar.gz"), []byte("sdist contents"), 0644))

	pkg := newKeeper(t, srv, platform.Linux64)
	pkg.baseDir = base

	out, err := pkg.Resolve(ctx, deps(
		"remote @ "+files.URL+"/files/remote-1.0-py3-none-any.whl",
		"./src#egg=demo",
		"./local-2.0.tar.gz",
	))
	require.NoError(t, err)
	require.Len(t, out, 3)

	sum := sha256.Sum256([]byte("sdist contents"))
	assert.Equal(t, "demo", out[0].Name)
	assert.Equal(t, v1.PackageDir, out[0].Type)
	assert.True(t, strings.HasPrefix(out[0].Integrity, "sha256:"))

	assert.Equal(t, "local", out[1].Name)
	assert.Equal(t, v1.PackageFile, out[1].Type)
	assert.Equal(t, "2.0", out[1].Version)
	assert.Equal(t, "sha256:"+hex.EncodeToString(sum[:]), out[1].Integrity)

	sum = sha256.Sum256([]byte("wheel contents"))
	assert.Equal(t, "remote", out[2].Name)
	assert.Equal(t, "1.0", out[2].Version)
	assert.Equal(t, "sha256:"+hex.EncodeToString(sum[:]), out[2].Integrity)
	assert.True(t, out[2].Direct)
}

func TestNewTarget(t *testing.T) {
	target, err := NewTarget(platform.Linux64, []lockfile.Package{{Name: "python", Version: "3.11.4"}}, platform.VirtualPackages(platform.Linux64, map[string]string{"__glibc": "2.28"}))
	require.NoError(t, err)
	assert.Equal(t, "3.11.4", target.Python)
	assert.Equal(t, "2.28", target.Glibc)

	_, err = NewTarget(platform.Linux64, []lockfile.Package{{Name: "numpy", Version: "1.26.4"}}, nil)
	assert.ErrorIs(t, err, ErrNoPython)
}

func TestIndexURLs(t *testing.T) {
	var cases = []struct {
		name     string
		base     string
		opts     manifest.PipOptions
		expected []string
	}{
		{"default", "https://pypi.org", manifest.PipOptions{}, []string{"https://pypi.org/pypi"}},
		{"index url", "https://pypi.org", manifest.PipOptions{IndexURL: "https://mirror.example.com/simple/"}, []string{"https://mirror.example.com/pypi"}},
		{"extra index", "https://pypi.org/", manifest.PipOptions{ExtraIndexURLs: []string{"https://extra.example.com/pypi"}}, []string{"https://pypi.org/pypi", "https://extra.example.com/pypi"}},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IndexURLs(tt.base, tt.opts))
		})
	}
}
