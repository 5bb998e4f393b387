package main

import (
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "scoperesolve",
	Short: "Capability-scope resolution service and offline role-table tooling",
	Long: `scoperesolve resolves capability scopes against a role table and
validates HAWK/bewit request signatures.

Get started:
  scoperesolve serve               Run the HTTP validation service
  scoperesolve lint roles.yaml     Check a role table for malformed roles
  scoperesolve query --roles roles.yaml <scope>   Resolve a held scope set`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(lintCmd)
	rootCmd.AddCommand(queryCmd)
}
