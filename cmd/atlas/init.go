package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"atlas/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file to the --config path",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite the destination file if it already exists")
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("init: %s already exists; pass --force to overwrite", configPath)
	}

	cfg := config.Defaults()
	cfg.Environment = "development"
	cfg.Source.BaseURL = "https://example.invalid/ehrbase/rest/openehr/v1"
	cfg.Source.AuthMode = "basic"
	cfg.Sink.Document = true
	cfg.Document.Path = "./atlas-export.db"
	cfg.Query.TemplateIDs = []string{"REPLACE_WITH_TEMPLATE_ID"}
	cfg.Query.BatchSize = 500
	cfg.Query.ParallelEhrs = 4

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("init: marshal defaults: %w", err)
	}

	header := "# Starter ATLAS configuration, generated by `atlas init`.\n" +
		"# Fill in source credentials and query.template_ids before running `atlas export`.\n"
	if err := os.WriteFile(configPath, append([]byte(header), out...), 0o600); err != nil {
		return fmt.Errorf("init: write %s: %w", configPath, err)
	}

	fmt.Printf("wrote starter configuration to %s\n", configPath)
	return nil
}
