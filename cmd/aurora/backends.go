package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cyclab/aurora/internal/executors"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List execution backends available on this host",
	RunE:  runBackends,
}

func runBackends(cmd *cobra.Command, args []string) error {
	backends := executors.Detect()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tVERSION\tPATH")
	for _, b := range backends {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", b.ID, b.Name, b.Status, b.Version, b.Path)
	}
	w.Flush()
	return nil
}
