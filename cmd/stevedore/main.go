package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stevedore",
	Short: "Stevedore - container lifecycle manager for cluster agents",
	Long: `Stevedore drives task and executor containers through their whole
lifecycle on behalf of a cluster agent: artifact fetch, image pull,
run, checkpoint, exit monitoring, in-place resource updates and crash
recovery after an agent restart.

It speaks to Docker or containerd and persists run records so that
containers survive agent restarts uninterrupted.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Stevedore version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}
