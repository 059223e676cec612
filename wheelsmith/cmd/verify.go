package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"wheelsmith-tools/go/pkg/archive"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <wheel>",
	Short: "Verifies every file of a wheel against the hashes in its RECORD.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wheelPath := args[0]
		log.Info("wheel", "verify", "progress", "Verifying wheel", "path", wheelPath)
		report, err := archive.VerifyWheel(wheelPath)
		if err != nil {
			return err
		}
		for _, problem := range report.Problems {
			log.Error("wheel", "verify", "failure", problem)
		}
		if !report.OK() {
			return fmt.Errorf("%s failed verification with %d problem(s)", wheelPath, len(report.Problems))
		}
		log.Info("wheel", "verify", "success", "Wheel RECORD is valid.", "files", report.Checked)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <wheel or sdist>",
	Short: "Displays the core metadata of a built package.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		distPath := args[0]
		meta, err := archive.ReadMetadata(distPath)
		if err != nil {
			return err
		}
		size := "unknown"
		if info, err := os.Stat(distPath); err == nil {
			size = humanize.Bytes(uint64(info.Size()))
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Package Information for: %s (%s)\n", distPath, size)
		fmt.Fprintf(out, "  Name: %s\n", meta.Get("Name"))
		fmt.Fprintf(out, "  Version: %s\n", meta.Get("Version"))
		for _, field := range []string{"Summary", "License", "Requires-Python"} {
			if value := meta.Get(field); value != "" {
				fmt.Fprintf(out, "  %s: %s\n", field, value)
			}
		}
		if deps := meta.Values("Requires-Dist"); len(deps) > 0 {
			fmt.Fprintf(out, "  Requires-Dist: %s\n", strings.Join(deps, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(infoCmd)
}
