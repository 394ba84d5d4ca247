package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"atlas/internal/atlaserr"
	"atlas/internal/config"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Load and validate the configuration file without running an export",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(atlaserr.ExitCodeForKind(atlaserr.KindOf(err)))
		}
		fmt.Printf("%s: configuration valid (environment=%s, mode=%s)\n", configPath, cfg.Environment, cfg.Export.Mode)
		return nil
	},
}
