package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scopeforge/scoperesolve/internal/resolver"
	"github.com/scopeforge/scoperesolve/internal/roles"
	"github.com/scopeforge/scoperesolve/internal/roletable"
)

var queryRolesFile string

var queryCmd = &cobra.Command{
	Use:   "query <scope> [scope...]",
	Short: "Resolve a held scope set against a role table",
	Long: `query compiles the role table given by --roles and expands the
provided held scopes (including any "assume:<roleId>" activation patterns)
the same way the signature validator does at request time, printing the
resulting normalized scope set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if queryRolesFile == "" {
			return fmt.Errorf("--roles is required")
		}

		table, err := roletable.LoadFile(queryRolesFile)
		if err != nil {
			return err
		}

		closed, rejected, err := roles.Expand(table)
		if err != nil {
			return fmt.Errorf("role expansion did not converge: %w", err)
		}
		for _, r := range rejected {
			fmt.Printf("warning: role %s rejected: %v\n", r.RoleID, r.Err)
		}

		res := resolver.Build(closed)
		expanded := res.Expand(args)
		fmt.Println(strings.Join(expanded, "\n"))
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryRolesFile, "roles", "", "path to a YAML or JSON role table")
}
