package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"wheelsmith-tools/go/pkg/build"
)

var (
	buildOpts    build.Options
	buildRelease bool
	buildStrip   bool
	buildSdist   bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the crate into python packages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := buildOpts.IntoBuildContext(log, buildRelease, buildStrip, false)
		if err != nil {
			return err
		}
		wheels, err := ctx.BuildWheels()
		if err != nil {
			return err
		}
		for _, wheel := range wheels {
			fmt.Fprintln(cmd.OutOrStdout(), wheel.Path)
		}
		if buildSdist {
			sdistPath, err := ctx.SourceDistribution(ctx.OutDir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sdistPath)
		}
		log.Info("builder", "finish", "success", "Built packages", "wheels", len(wheels), "out", ctx.OutDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildOpts.AddFlags(buildCmd.Flags())
	buildCmd.Flags().BoolVar(&buildRelease, "release", false, "Pass --release to cargo")
	buildCmd.Flags().BoolVar(&buildStrip, "strip", false, "Strip the library for minimum file size")
	buildCmd.Flags().BoolVar(&buildSdist, "sdist", false, "Also build a source distribution")
}
