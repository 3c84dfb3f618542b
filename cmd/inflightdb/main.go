// Package main provides the inflightdb CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "inflightdb",
		Short: "inflightdb - in-flight transaction manager for a multi-master document store",
		Long: `inflightdb stages write transactions for a document-oriented,
multi-master-replicated database, classifying each staged write against
vector-clock causal history and publishing an ordered event stream of
what it did.`,
	}

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newBenchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("inflightdb v%s (%s)\n", version, commit)
		},
	}
}
