package airutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("ENVLOCK_TEST_HOST", "mirror.example.com")

	var cases = []struct {
		in  string
		out string
	}{
		{"conda-forge", "conda-forge"},
		{"https://${ENVLOCK_TEST_HOST}/conda-forge", "https://mirror.example.com/conda-forge"},
		{"https://${ENVLOCK_TEST_MISSING:-fallback.example.com}/x", "https://fallback.example.com/x"},
	}
	for _, tt := range cases {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.out, ExpandEnv(tt.in))
		})
	}
}
