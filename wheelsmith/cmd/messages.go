package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"wheelsmith-tools/go/pkg/cargo"
)

var messagesRaw bool

var messagesCmd = &cobra.Command{
	Use:   "messages <file.zst>",
	Short: "Summarizes a cargo message transcript recorded with --save-messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, err := cargo.ReadTranscript(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		recognized := 0
		for _, line := range lines {
			if messagesRaw {
				fmt.Fprintln(out, line)
				continue
			}
			for _, msg := range cargo.ParseMessage([]byte(line)) {
				recognized++
				switch msg := msg.(type) {
				case *cargo.BuildScriptOutput:
					fmt.Fprintf(out, "build-script %s links=%s\n", msg.PackageID, strings.Join(msg.LinkedLibs, ","))
				case *cargo.CompilerArtifact:
					fmt.Fprintf(out, "artifact %s [%s] %s\n", msg.Target.Name, strings.Join(msg.Target.CrateTypes, ","), strings.Join(msg.Filenames, ","))
				}
			}
		}
		log.Info("cargo", "read", "success", "Read transcript", "lines", len(lines), "recognized", recognized)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(messagesCmd)
	messagesCmd.Flags().BoolVar(&messagesRaw, "raw", false, "Print every recorded line as is")
}
