package repodata

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/djcass44/envlock/pkg/conda/channel"
	"github.com/djcass44/envlock/pkg/matchspec"
	"golang.org/x/exp/maps"
)

const (
	ExtConda  = ".conda"
	ExtTarBz2 = ".tar.bz2"
)

// Repodata is the index of a single channel subdir.
type Repodata struct {
	Info struct {
		Subdir string `json:"subdir"`
	} `json:"info"`
	RepodataVersion int                `json:"repodata_version,omitempty"`
	Packages        map[string]*Record `json:"packages"`
	PackagesConda   map[string]*Record `json:"packages.conda"`
}

// Record describes a single package file.
type Record struct {
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Build         string   `json:"build"`
	BuildNumber   int      `json:"build_number"`
	Depends       []string `json:"depends"`
	Constrains    []string `json:"constrains,omitempty"`
	MD5           string   `json:"md5,omitempty"`
	SHA256        string   `json:"sha256,omitempty"`
	Size          int64    `json:"size,omitempty"`
	Subdir        string   `json:"subdir,omitempty"`
	Timestamp     int64    `json:"timestamp,omitempty"`
	License       string   `json:"license,omitempty"`
	Noarch        Noarch   `json:"noarch,omitempty"`
	TrackFeatures string   `json:"track_features,omitempty"`

	// populated once the record has been loaded from a channel
	Filename string          `json:"-"`
	Channel  channel.Channel `json:"-"`

	version *matchspec.Version
}

// ParsedVersion returns the parsed version of the record. Loaded
// records are parsed once up front, since repodata is shared
// between platforms and must not be mutated afterwards.
func (r *Record) ParsedVersion() (matchspec.Version, error) {
	if r.version != nil {
		return *r.version, nil
	}
	return matchspec.ParseVersion(r.Version)
}

// URL returns the download location of the package file.
func (r *Record) URL() string {
	return r.Channel.SubdirURL(r.Subdir, r.Filename)
}

// IsConda returns true for the newer .conda package format.
func (r *Record) IsConda() bool {
	return strings.HasSuffix(r.Filename, ExtConda)
}

// Features returns the track_features of the record.
func (r *Record) Features() []string {
	return strings.FieldsFunc(r.TrackFeatures, func(c rune) bool {
		return c == ',' || c == ' '
	})
}

func (r *Record) String() string {
	return r.Name + "-" + r.Version + "-" + r.Build
}

// Noarch is either a string ("python", "generic") or, in older
// repodata, a boolean.
type Noarch string

func (n *Noarch) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			*n = "generic"
		} else {
			*n = ""
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*n = Noarch(s)
	return nil
}

// prepare fills in the fields that are implied by where the
// record was found and drops records that cannot be used.
func (rd *Repodata) prepare(ch channel.Channel, subdir string) (dropped int) {
	if rd.Info.Subdir != "" {
		subdir = rd.Info.Subdir
	}
	for _, m := range []map[string]*Record{rd.Packages, rd.PackagesConda} {
		for filename, r := range m {
			if r == nil || r.Name == "" {
				delete(m, filename)
				dropped++
				continue
			}
			v, err := matchspec.ParseVersion(r.Version)
			if err != nil {
				delete(m, filename)
				dropped++
				continue
			}
			r.version = &v
			r.Filename = filename
			r.Channel = ch
			if r.Subdir == "" {
				r.Subdir = subdir
			}
		}
	}
	return dropped
}

// Records returns every record in a stable order.
func (rd *Repodata) Records() []*Record {
	out := make([]*Record, 0, len(rd.Packages)+len(rd.PackagesConda))
	for _, k := range sortedKeys(rd.PackagesConda) {
		out = append(out, rd.PackagesConda[k])
	}
	for _, k := range sortedKeys(rd.Packages) {
		out = append(out, rd.Packages[k])
	}
	return out
}

func sortedKeys(m map[string]*Record) []string {
	keys := maps.Keys(m)
	sort.Strings(keys)
	return keys
}
