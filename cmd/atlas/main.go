package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"atlas/internal/secret"
)

// engineVersion is bumped manually per release, mirroring the teacher's
// CLI's inline "ariadne CLI – engine module hard-cut edition" string.
const engineVersion = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "atlas",
	Short: "ATLAS exports openEHR compositions to a durable sink",
	Long: `ATLAS is a batch export engine that reads compositions from an
openEHR clinical data repository, optionally detects and anonymizes
personally identifying fields, and writes the result to a document or
relational sink while tracking per-EHR export progress durably.`,
}

func main() {
	secret.CatchInterrupt()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "atlas.yaml", "Path to the engine's YAML configuration file")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(validateConfigCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
}
