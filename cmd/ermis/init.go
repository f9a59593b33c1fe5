package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init <application-id> <public-key>",
	Short: "Store credentials in ~/.ermis/config.toml",
	Long:  "Initialize the Ermis CLI by storing your application ID and public key in the local configuration file.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := readConfig(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.ApplicationID = args[0]
		cfg.Default.PublicKey = args[1]

		if err := writeConfig(path, cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Credentials saved to %s\n", path)
		return nil
	},
}
