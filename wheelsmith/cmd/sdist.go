package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"wheelsmith-tools/go/pkg/build"
	"wheelsmith-tools/go/pkg/cargo"
)

var (
	sdistManifestPath string
	sdistOut          string
)

var sdistCmd = &cobra.Command{
	Use:   "sdist",
	Short: "Build only a source distribution (sdist) without compiling",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manifestPath, err := filepath.Abs(sdistManifestPath)
		if err != nil {
			return err
		}
		out := sdistOut
		if out == "" {
			out = filepath.Join(filepath.Dir(manifestPath), "target", "wheels")
		}
		sdistPath, err := build.SourceDistribution(log, &cargo.Driver{Log: log}, manifestPath, out)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sdistPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sdistCmd)
	sdistCmd.Flags().StringVarP(&sdistManifestPath, "manifest-path", "m", "Cargo.toml", "The path to the Cargo.toml")
	sdistCmd.Flags().StringVarP(&sdistOut, "out", "o", "", "The directory to store the built sdist in. Defaults to a new \"wheels\" directory in the project's target directory")
}
