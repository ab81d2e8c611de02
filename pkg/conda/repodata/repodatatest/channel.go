// Package repodatatest builds conda channels for tests.
package repodatatest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// Package is the minimum needed to describe a package in a
// test channel.
type Package struct {
	Name        string
	Version     string
	Build       string
	BuildNumber int
	Depends     []string
	Constrains  []string
	Timestamp   int64
	// TrackFeatures is written as-is, e.g. "mkl".
	TrackFeatures string
	// Conda stores the package as .conda instead of .tar.bz2.
	Conda bool
}

// Filename returns the name of the package file.
func (p Package) Filename() string {
	build := p.Build
	if build == "" {
		build = "0"
	}
	ext := ".tar.bz2"
	if p.Conda {
		ext = ".conda"
	}
	return fmt.Sprintf("%s-%s-%s%s", p.Name, p.Version, build, ext)
}

// Repodata renders packages as a repodata.json document.
func Repodata(subdir string, pkgs ...Package) []byte {
	type record struct {
		Name          string   `json:"name"`
		Version       string   `json:"version"`
		Build         string   `json:"build"`
		BuildNumber   int      `json:"build_number"`
		Depends       []string `json:"depends"`
		Constrains    []string `json:"constrains,omitempty"`
		MD5           string   `json:"md5"`
		SHA256        string   `json:"sha256"`
		Subdir        string   `json:"subdir"`
		Timestamp     int64    `json:"timestamp,omitempty"`
		TrackFeatures string   `json:"track_features,omitempty"`
	}
	doc := map[string]any{
		"info": map[string]string{"subdir": subdir},
	}
	tarBz2 := map[string]record{}
	conda := map[string]record{}
	for _, p := range pkgs {
		build := p.Build
		if build == "" {
			build = "0"
		}
		depends := p.Depends
		if depends == nil {
			depends = []string{}
		}
		r := record{
			Name:          p.Name,
			Version:       p.Version,
			Build:         build,
			BuildNumber:   p.BuildNumber,
			Depends:       depends,
			Constrains:    p.Constrains,
			MD5:           fmt.Sprintf("%032x", len(p.Filename())),
			SHA256:        fmt.Sprintf("%064x", len(p.Filename())),
			Subdir:        subdir,
			Timestamp:     p.Timestamp,
			TrackFeatures: p.TrackFeatures,
		}
		if p.Conda {
			conda[p.Filename()] = r
		} else {
			tarBz2[p.Filename()] = r
		}
	}
	doc["packages"] = tarBz2
	doc["packages.conda"] = conda
	data, _ := json.Marshal(doc)
	return data
}

// Channel is a set of subdirs and their packages.
type Channel map[string][]Package

// WriteDir writes the channel to a directory and returns its
// file:// URL.
func WriteDir(t *testing.T, ch Channel) string {
	dir := t.TempDir()
	for subdir, pkgs := range ch {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, subdir), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, subdir, "repodata.json"), Repodata(subdir, pkgs...), 0644))
	}
	return "file://" + filepath.ToSlash(dir)
}

// Server serves channels over HTTP. Each channel is served
// under /<name>/<subdir>/repodata.json.
type Server struct {
	*httptest.Server
	Requests atomic.Int64
}

// Serve starts a server for the named channels.
func Serve(t *testing.T, channels map[string]Channel) *Server {
	s := &Server{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Requests.Add(1)
		bits := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(bits) != 3 || bits[2] != "repodata.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		ch, ok := channels[bits[0]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		pkgs, ok := ch[bits[1]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(Repodata(bits[1], pkgs...))
	}))
	t.Cleanup(s.Close)
	return s
}
