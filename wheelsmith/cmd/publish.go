package cmd

import (
	"github.com/spf13/cobra"

	"wheelsmith-tools/go/pkg/build"
	"wheelsmith-tools/go/pkg/publish"
)

var (
	publishBuildOpts build.Options
	publishOpts      publish.Options
	publishDebug     bool
	publishNoStrip   bool
	publishNoSdist   bool
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Build and publish the crate as python packages to pypi",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := publishBuildOpts.IntoBuildContext(log, !publishDebug, !publishNoStrip, false)
		if err != nil {
			return err
		}
		wheels, err := ctx.BuildWheels()
		if err != nil {
			return err
		}
		var items []string
		for _, wheel := range wheels {
			items = append(items, wheel.Path)
		}
		if !publishNoSdist {
			sdistPath, err := ctx.SourceDistribution(ctx.OutDir)
			if err != nil {
				return err
			}
			items = append(items, sdistPath)
		}
		orchestrator := &publish.Orchestrator{Log: log}
		return orchestrator.UploadUI(items, publishOpts)
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <files...>",
	Short: "Upload python packages to pypi",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orchestrator := &publish.Orchestrator{Log: log}
		return orchestrator.UploadUI(args, uploadOpts)
	},
}

var uploadOpts publish.Options

func init() {
	rootCmd.AddCommand(publishCmd, uploadCmd)

	publishBuildOpts.AddFlags(publishCmd.Flags())
	publishOpts.AddFlags(publishCmd.Flags())
	publishCmd.Flags().BoolVar(&publishDebug, "debug", false, "Do not pass --release to cargo")
	publishCmd.Flags().BoolVar(&publishNoStrip, "no-strip", false, "Do not strip the library for minimum file size")
	publishCmd.Flags().BoolVar(&publishNoSdist, "no-sdist", false, "Don't build a source distribution")

	uploadOpts.AddFlags(uploadCmd.Flags())
}
