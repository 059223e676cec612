package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"wheelsmith-tools/go/pkg/interpreter"
	"wheelsmith-tools/go/pkg/sysconfig"
	"wheelsmith-tools/go/pkg/target"
)

var (
	pyo3ConfigTarget      string
	pyo3ConfigInterpreter string
	pyo3ConfigList        bool
)

var pyo3ConfigCmd = &cobra.Command{
	Use:   "pyo3-config",
	Short: "Print the PyO3 config file for a well-known interpreter of a target",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := target.FromTriple(pyo3ConfigTarget)
		if err != nil {
			return err
		}
		if pyo3ConfigList {
			for _, row := range sysconfig.WellKnown().Versions(t.Os, t.Arch) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d.%d %s\n", row.Interpreter.Name(), row.Major, row.Minor, row.ExtSuffix)
			}
			return nil
		}
		kind, major, minor, err := interpreter.ParseVersion(pyo3ConfigInterpreter)
		if err != nil {
			return err
		}
		row, ok := sysconfig.LookupImplementation(kind, t.Os, t.Arch, major, minor)
		if !ok {
			log.Warn("sysconfig", "query", "notfound", "No well-known sysconfig", "interpreter", pyo3ConfigInterpreter, "target", t.String())
			return fmt.Errorf("no well-known sysconfig for %s %d.%d on %s", kind.Name(), major, minor, t)
		}
		fmt.Fprint(cmd.OutOrStdout(), row.PyO3Config())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pyo3ConfigCmd)
	pyo3ConfigCmd.Flags().StringVar(&pyo3ConfigTarget, "target", "", "The rust target triple, the host if empty")
	pyo3ConfigCmd.Flags().StringVarP(&pyo3ConfigInterpreter, "interpreter", "i", "3.10", "The python version, e.g. 3.10 or pypy3.9")
	pyo3ConfigCmd.Flags().BoolVar(&pyo3ConfigList, "list", false, "List the well-known interpreters of the target instead")
}
