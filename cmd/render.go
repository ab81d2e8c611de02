package cmd

import (
	"path/filepath"

	"github.com/djcass44/envlock/pkg/lockfile"
	"github.com/djcass44/envlock/pkg/platform"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "render explicit lock files for conda",
	RunE:  render,
}

func init() {
	renderCmd.Flags().StringP(flagFile, "f", "environment.yml", "path to an environment file")
	renderCmd.Flags().StringSliceP(flagPlatform, "p", nil, "platforms to render (defaults to every locked platform)")

	_ = renderCmd.MarkFlagFilename(flagFile, ".yaml", ".yml")
}

func render(cmd *cobra.Command, _ []string) error {
	log := logr.FromContextOrDiscard(cmd.Context())

	path, _ := cmd.Flags().GetString(flagFile)
	platforms, _ := cmd.Flags().GetStringSlice(flagPlatform)

	path, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	lockFile, err := lockfile.Read(cmd.Context(), path)
	if err != nil {
		return err
	}
	if len(platforms) == 0 {
		platforms = lockFile.SortedKeys()
	}

	for _, name := range platforms {
		p, err := platform.Parse(name)
		if err != nil {
			return err
		}
		out, err := lockFile.Explicit(p.String())
		if err != nil {
			return err
		}
		dst := lockfile.ExplicitName(path, p)
		log.Info("rendering explicit lockfile", "platform", p, "path", dst)
		if err := lockfile.WriteFile(cmd.Context(), dst, []byte(out)); err != nil {
			return err
		}
	}
	return nil
}
