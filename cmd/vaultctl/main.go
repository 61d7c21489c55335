// Command vaultctl is a reference CLI exercising the vault-core engine
// end to end, grounded on main.go + internal/cli
// split: a slim main that only wires logging and hands off to a cobra
// root command.
package main

import ("fmt"
	"os"

	"github.com/koofr/vault-core/cmd/vaultctl/cmd")

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
