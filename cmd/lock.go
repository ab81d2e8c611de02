package cmd

import (
	"errors"
	"path/filepath"

	"github.com/djcass44/envlock/internal/config"
	"github.com/djcass44/envlock/internal/resolve"
	v1 "github.com/djcass44/envlock/pkg/api/v1"
	"github.com/djcass44/envlock/pkg/lockfile"
	"github.com/djcass44/envlock/pkg/manifest"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "generate a lockfile",
	RunE:  lock,
}

const flagCheckInputHash = "check-input-hash"

func init() {
	lockCmd.Flags().StringP(flagFile, "f", "environment.yml", "path to an environment file")
	lockCmd.Flags().StringSliceP(flagPlatform, "p", nil, "platforms to lock (defaults to those in the environment file)")
	lockCmd.Flags().Bool(flagCheckInputHash, false, "keep platforms whose inputs haven't changed since the last lock")

	_ = lockCmd.MarkFlagFilename(flagFile, ".yaml", ".yml")
}

func lock(cmd *cobra.Command, _ []string) error {
	log := logr.FromContextOrDiscard(cmd.Context())
	cfg := config.FromContext(cmd.Context())

	path, _ := cmd.Flags().GetString(flagFile)
	platformOverride, _ := cmd.Flags().GetStringSlice(flagPlatform)
	checkInputHash, _ := cmd.Flags().GetBool(flagCheckInputHash)

	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	env, err := readManifest(cmd, path)
	if err != nil {
		return err
	}
	platforms, err := manifest.Platforms(env, platformOverride)
	if err != nil {
		return err
	}

	var previous *lockfile.Lock
	if checkInputHash {
		previous, err = lockfile.Read(cmd.Context(), path)
		if err != nil && !errors.Is(err, lockfile.ErrMissing) {
			return err
		}
	}

	r, err := resolve.New(cfg, nil)
	if err != nil {
		return err
	}
	lockFile, err := r.Lock(cmd.Context(), resolve.Request{
		Env:          env,
		ManifestPath: path,
		Platforms:    platforms,
		Previous:     previous,
	})
	if err != nil {
		return err
	}

	log.Info("exporting lockfile", "path", lockfile.Name(path))
	return lockfile.Write(cmd.Context(), path, lockFile)
}

func readManifest(cmd *cobra.Command, path string) (*v1.Environment, error) {
	env, err := manifest.Read(cmd.Context(), path)
	if err != nil {
		return nil, err
	}
	if err := manifest.Validate(env); err != nil {
		logr.FromContextOrDiscard(cmd.Context()).Error(err, "failed to validate environment file")
		return nil, err
	}
	return env, nil
}
