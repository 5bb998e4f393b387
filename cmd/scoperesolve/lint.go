package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scopeforge/scoperesolve/internal/roles"
	"github.com/scopeforge/scoperesolve/internal/roletable"
)

var lintCmd = &cobra.Command{
	Use:   "lint <roles-file>",
	Short: "Check a role table for malformed roles and non-convergent expansion",
	Long: `lint loads a YAML or JSON role table and runs the same
least-fixed-point closure the service runs on rebuild, reporting any role
that was rejected (malformed roleId or malformed scopes). If the table as
a whole does not converge within the bounded number of expansion rounds,
lint fails with an error instead of reporting individual roles; cycles
that converge are not reported.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := roletable.LoadFile(args[0])
		if err != nil {
			return err
		}

		closed, rejected, err := roles.Expand(table)
		if err != nil {
			return fmt.Errorf("role expansion did not converge: %w", err)
		}

		fmt.Printf("%d roles loaded, %d closed successfully, %d rejected\n", len(table), len(closed), len(rejected))
		for _, r := range rejected {
			fmt.Printf("  REJECTED %s: %v\n", r.RoleID, r.Err)
		}

		if len(rejected) > 0 {
			os.Exit(1)
		}
		return nil
	},
}
