package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	cfgPath string
	devMode bool
)

var rootCmd = &cobra.Command{
	Use:   "studio",
	Short: "Mina studio generation client",
	Long: `studio drives the Mina generation backend from the command line.

It submits still and video jobs, follows their progress, stabilizes the
resulting assets onto the own asset host and keeps a cached credits balance.
"studio serve" exposes the same operations to local UIs over HTTP.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "developer mode (console logs, verbose secrets)")
	rootCmd.Version = fmt.Sprintf("%s (%s)", version, commit)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
