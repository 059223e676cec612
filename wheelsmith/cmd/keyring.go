package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"wheelsmith-tools/go/pkg/keyring"
)

var keyringDir string

var keyringCmd = &cobra.Command{
	Use:   "keyring",
	Short: "Manage the encrypted store that remembers upload passwords",
}

var keyringInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generates the age identity the password store is encrypted to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := keyringDir
		if dir == "" {
			var err error
			if dir, err = keyring.DefaultDir(); err != nil {
				return err
			}
		}
		recipient, created, err := keyring.Init(dir)
		if err != nil {
			return err
		}
		if created {
			log.Info("keyring", "generate", "success", "Identity saved", "path", filepath.Join(dir, "identity.txt"))
		} else {
			log.Warn("keyring", "generate", "skip", "Identity already exists, skipping generation.", "path", filepath.Join(dir, "identity.txt"))
		}
		fmt.Fprintln(cmd.OutOrStdout(), recipient)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keyringCmd)
	keyringCmd.AddCommand(keyringInitCmd)
	keyringInitCmd.Flags().StringVarP(&keyringDir, "dir", "d", "", "Directory of the store, defaults to $"+keyring.EnvDir+" or the user config directory")
}
