// Command scoperesolve runs the scope resolution service and exposes
// offline tooling for working with role tables, grounded on the teacher's
// cli/cmd Cobra command tree.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
