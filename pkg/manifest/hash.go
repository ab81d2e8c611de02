package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	v1 "github.com/djcass44/envlock/pkg/api/v1"
	"github.com/djcass44/envlock/pkg/platform"
)

// Inputs are everything that can change the resolution of a
// single platform.
type Inputs struct {
	Platform platform.Platform         `json:"platform"`
	Channels []string                  `json:"channels"`
	Conda    []string                  `json:"conda"`
	Pip      []string                  `json:"pip"`
	Virtual  []platform.VirtualPackage `json:"virtual"`
	// Variables are the environment variables set on
	// activation.
	Variables map[string]string `json:"variables,omitempty"`
}

// NewInputs collects the inputs of a platform. Channels are
// expected to already be normalised.
func NewInputs(p platform.Platform, channels []string, conda, pip []v1.Dependency, virtual []platform.VirtualPackage) Inputs {
	i := Inputs{
		Platform: p,
		Channels: append([]string{}, channels...),
		Conda:    make([]string, 0, len(conda)),
		Pip:      make([]string, 0, len(pip)),
		Virtual:  append([]platform.VirtualPackage{}, virtual...),
	}
	for _, d := range conda {
		i.Conda = append(i.Conda, d.Spec)
	}
	for _, d := range pip {
		i.Pip = append(i.Pip, d.Spec)
	}
	return i
}

// ContentHash returns the hex sha256 of the canonical JSON form
// of the inputs. Dependency order is significant since it is
// significant to the manifest.
func (i Inputs) ContentHash() string {
	// encoding a struct of strings cannot fail
	data, _ := json.Marshal(i)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
