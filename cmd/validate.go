package cmd

import (
	"path/filepath"

	"github.com/djcass44/envlock/internal/config"
	"github.com/djcass44/envlock/internal/resolve"
	"github.com/djcass44/envlock/pkg/lockfile"
	"github.com/djcass44/envlock/pkg/manifest"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "check that the lockfile matches the environment file",
	RunE:  validate,
}

func init() {
	validateCmd.Flags().StringP(flagFile, "f", "environment.yml", "path to an environment file")
	validateCmd.Flags().StringSliceP(flagPlatform, "p", nil, "platforms that should be locked (defaults to those in the environment file)")

	_ = validateCmd.MarkFlagFilename(flagFile, ".yaml", ".yml")
}

func validate(cmd *cobra.Command, _ []string) error {
	log := logr.FromContextOrDiscard(cmd.Context())
	cfg := config.FromContext(cmd.Context())

	path, _ := cmd.Flags().GetString(flagFile)
	platformOverride, _ := cmd.Flags().GetStringSlice(flagPlatform)

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
	lockFile, err := lockfile.Read(cmd.Context(), path)
	if err != nil {
		return err
	}

	expected, err := resolve.Expected(cfg, env, platforms, lockFile)
	if err != nil {
		return err
	}
	if err := lockFile.Validate(expected); err != nil {
		log.Error(err, "failed to validate lockfile")
		return err
	}
	log.Info("lockfile is up to date", "path", lockfile.Name(path))
	return nil
}
