package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "google-proxy",
		Short:   "google-proxy: caching, retrying Gemini API proxy",
		Version: version,
	}

	var configPath string
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "google-proxy.yaml", "path to config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newActorCmd(&configPath),
		newModelsCmd(),
		newCacheCmd(&configPath),
		newSessionsCmd(&configPath),
		newStatsCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
