package pip

import (
	"testing"

	"github.com/djcass44/envlock/pkg/platform"
	"github.com/stretchr/testify/assert"
)

func TestTarget_Score(t *testing.T) {
	linux := Target{Platform: platform.Linux64, Python: "3.11.4", Glibc: "2.17"}
	aarch64 := Target{Platform: platform.LinuxAarch64, Python: "3.11.4", Glibc: "2.28"}
	mac := Target{Platform: platform.OsxArm64, Python: "3.10.13", MacOS: "11.0"}
	intel := Target{Platform: platform.Osx64, Python: "3.11.4", MacOS: "10.15"}
	win := Target{Platform: platform.Win64, Python: "3.11.4"}

	var cases = []struct {
		name     string
		target   Target
		filename string
		score    int
	}{
		{"pure python", linux, "six-1.16.0-py2.py3-none-any.whl", 11},
		{"build tag", linux, "six-1.16.0-1-py3-none-any.whl", 11},
		{"cpython any", linux, "demo-1.0-cp311-none-any.whl", 12},
		{"manylinux", linux, "numpy-1.26.4-cp311-cp311-manylinux_2_17_x86_64.manylinux2014_x86_64.whl", 24},
		{"manylinux too new", linux, "numpy-2.0.0-cp311-cp311-manylinux_2_28_x86_64.whl", 0},
		{"legacy manylinux", linux, "demo-1.0-cp311-cp311-manylinux1_x86_64.whl", 24},
		{"abi3", linux, "cryptography-41.0.0-cp37-abi3-manylinux_2_17_x86_64.whl", 23},
		{"abi3 too new", linux, "demo-1.0-cp312-abi3-manylinux_2_17_x86_64.whl", 0},
		{"wrong python", linux, "numpy-1.26.4-cp310-cp310-manylinux_2_17_x86_64.whl", 0},
		{"wrong arch", linux, "numpy-1.26.4-cp311-cp311-manylinux_2_17_aarch64.whl", 0},
		{"aarch64", aarch64, "numpy-1.26.4-cp311-cp311-manylinux_2_28_aarch64.whl", 24},
		{"macos arm", mac, "numpy-1.26.4-cp310-cp310-macosx_11_0_arm64.whl", 24},
		{"macos universal2", mac, "demo-1.0-cp310-cp310-macosx_10_9_universal2.whl", 24},
		{"macos too new", mac, "demo-1.0-cp310-cp310-macosx_14_0_arm64.whl", 0},
		{"macos intel on arm", mac, "demo-1.0-cp310-cp310-macosx_10_9_x86_64.whl", 0},
		{"macos intel", intel, "demo-1.0-cp311-cp311-macosx_10_9_intel.whl", 24},
		{"windows", win, "numpy-1.26.4-cp311-cp311-win_amd64.whl", 24},
		{"windows 32", win, "numpy-1.26.4-cp311-cp311-win32.whl", 0},
		{"linux on windows", win, "numpy-1.26.4-cp311-cp311-manylinux_2_17_x86_64.whl", 0},
		{"invalid", linux, "not-a-wheel.whl", 0},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualValues(t, tt.score, tt.target.Score(tt.filename))
		})
	}
}

func TestVersionAtMost(t *testing.T) {
	assert.True(t, versionAtMost("2.17", "2.17"))
	assert.True(t, versionAtMost("2.5", "2.17"))
	assert.False(t, versionAtMost("2.28", "2.17"))
	assert.True(t, versionAtMost("10.9", "11.0"))
	assert.True(t, versionAtMost("11", "11.0"))
}

func TestVersionFromFilename(t *testing.T) {
	var cases = []struct {
		url     string
		version string
		ok      bool
	}{
		{"https://files.example.com/demo-1.0-py3-none-any.whl", "1.0", true},
		{"https://files.example.com/demo-2.1.0.tar.gz#sha256=abc", "2.1.0", true},
		{"./local-0.1.zip", "0.1", true},
		{"./src", "", false},
		{"https://files.example.com/archive.tar.gz", "", false},
	}
	for _, tt := range cases {
		t.Run(tt.url, func(t *testing.T) {
			v, ok := versionFromFilename(tt.url)
			assert.EqualValues(t, tt.ok, ok)
			assert.EqualValues(t, tt.version, v)
		})
	}
}
