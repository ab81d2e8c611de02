package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/djcass44/envlock/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestGetCacheDir(t *testing.T) {
	userCache, err := os.UserCacheDir()
	if err != nil {
		t.Skip("no user cache dir")
	}

	var cases = []struct {
		name     string
		flag     string
		cfg      config.Config
		expected string
	}{
		{"flag", "/tmp/envlock/", config.Config{CacheDir: "/var/cache/envlock"}, "/tmp/envlock"},
		{"config", "", config.Config{CacheDir: "/var/cache/envlock"}, "/var/cache/envlock"},
		{"fallback", "", config.Config{}, filepath.Join(userCache, "envlock")},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualValues(t, filepath.Clean(tt.expected), getCacheDir(tt.flag, &tt.cfg))
		})
	}
}
