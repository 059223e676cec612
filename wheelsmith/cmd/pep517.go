package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"wheelsmith-tools/go/pkg/archive"
	"wheelsmith-tools/go/pkg/build"
	"wheelsmith-tools/go/pkg/cargo"
	"wheelsmith-tools/go/pkg/interpreter"
	"wheelsmith-tools/go/pkg/target"
)

// The pep517 commands back the python build hooks. Each one prints its
// result as the last line of stdout; everything else goes to stderr.

var (
	distInfoOpts     build.Options
	distInfoDir      string
	distInfoStrip    bool
	wheelOpts        build.Options
	wheelStrip       bool
	wheelEditable    bool
	sdistDirectory   string
	sdistManifestArg string
)

var pep517Cmd = &cobra.Command{
	Use:    "pep517",
	Short:  "Backend for the PEP 517 integration. Not for human consumption",
	Hidden: true,
}

var writeDistInfoCmd = &cobra.Command{
	Use:   "write-dist-info",
	Short: "The implementation of prepare_metadata_for_build_wheel",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(distInfoOpts.Interpreter) != 1 {
			return fmt.Errorf("write-dist-info needs exactly one interpreter, got %d", len(distInfoOpts.Interpreter))
		}
		ctx, err := distInfoOpts.IntoBuildContext(log, true, distInfoStrip, false)
		if err != nil {
			return err
		}

		// linux tagged, like other backends
		var python *interpreter.PythonInterpreter
		if len(ctx.Interpreters) > 0 {
			python = ctx.Interpreters[0]
		}
		tags, err := ctx.Tags(python, target.PlatformLinux)
		if err != nil {
			return err
		}

		if err := archive.WriteDistInfo(&archive.PathWriter{Base: distInfoDir}, ctx.Metadata, tags); err != nil {
			return fmt.Errorf("writing dist-info: %w", err)
		}
		log.Info("pep517", "write", "success", "Wrote dist-info", "dir", filepath.Join(distInfoDir, ctx.Metadata.DistInfoDir()), "tags", tags)
		fmt.Fprintln(cmd.OutOrStdout(), ctx.Metadata.DistInfoDir())
		return nil
	},
}

var buildWheelCmd = &cobra.Command{
	Use:   "build-wheel",
	Short: "Implementation of build_wheel",
	Long:  "Implementation of build_wheel. --strip and --editable are accepted but do not change the wheel.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := wheelOpts.IntoBuildContext(log, true, wheelStrip, wheelEditable)
		if err != nil {
			return err
		}
		if ctx.Bridge.PerInterpreter() && len(ctx.Interpreters) > 1 {
			return fmt.Errorf("build-wheel builds a single wheel, but %d interpreters were selected", len(ctx.Interpreters))
		}
		wheels, err := ctx.BuildWheels()
		if err != nil {
			return err
		}
		if len(wheels) != 1 {
			return fmt.Errorf("expected exactly one wheel, built %d", len(wheels))
		}
		fmt.Fprintln(cmd.OutOrStdout(), wheels[0].Path)
		return nil
	},
}

var writeSdistCmd = &cobra.Command{
	Use:   "write-sdist",
	Short: "The implementation of build_sdist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manifestPath, err := filepath.Abs(sdistManifestArg)
		if err != nil {
			return err
		}
		sdistPath, err := build.SourceDistribution(log, &cargo.Driver{Log: log}, manifestPath, sdistDirectory)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), filepath.Base(sdistPath))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pep517Cmd)
	pep517Cmd.AddCommand(writeDistInfoCmd, buildWheelCmd, writeSdistCmd)

	distInfoOpts.AddFlags(writeDistInfoCmd.Flags())
	writeDistInfoCmd.Flags().StringVar(&distInfoDir, "metadata-directory", "", "The metadata_directory argument to prepare_metadata_for_build_wheel")
	writeDistInfoCmd.Flags().BoolVar(&distInfoStrip, "strip", false, "Strip the library for minimum file size")
	_ = writeDistInfoCmd.MarkFlagRequired("metadata-directory")

	wheelOpts.AddFlags(buildWheelCmd.Flags())
	buildWheelCmd.Flags().BoolVar(&wheelStrip, "strip", false, "Strip the library for minimum file size")
	buildWheelCmd.Flags().BoolVar(&wheelEditable, "editable", false, "Build editable wheels")

	writeSdistCmd.Flags().StringVar(&sdistDirectory, "sdist-directory", "", "The sdist_directory argument to build_sdist")
	writeSdistCmd.Flags().StringVarP(&sdistManifestArg, "manifest-path", "m", "Cargo.toml", "The path to the Cargo.toml")
	_ = writeSdistCmd.MarkFlagRequired("sdist-directory")
}
