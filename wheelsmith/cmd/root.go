package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"wheelsmith-tools/go/pkg/logbowl"
)

var (
	log logbowl.Logger
)

var rootCmd = &cobra.Command{
	Use:   "wheelsmith",
	Short: "Build and publish crates with pyo3, rust-cpython and cffi bindings as well as rust binaries as python packages.",
	// errors are logged once by Execute
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log = logbowl.CreateWithOutput("wheelsmith", cmd.ErrOrStderr())
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if log.Logger == nil {
			log = logbowl.Create("wheelsmith")
		}
		log.Error("system", "stop", "error", "Failed to execute command", "error", err)
		os.Exit(1)
	}
}
