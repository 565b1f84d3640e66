// Command raftctl runs and inspects tablet replication groups. Its
// demo subcommand spins up an in-process cluster backed by raftfake,
// useful for exercising election and replication behavior without a
// real transport.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "raftctl",
		Short: "Inspect and drive tablet replication groups",
	}
	root.PersistentFlags().String("config", "", "path to a RaftOptions YAML file")
	root.AddCommand(newDemoCmd())
	root.AddCommand(newStatusCmd())
	return root
}
