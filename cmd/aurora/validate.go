package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cyclab/aurora/internal/protocol"
)

var validateCmd = &cobra.Command{
	Use:   "validate [protocol.yaml]",
	Short: "Validate a cycling protocol file",
	Long: `Checks a protocol document against the step constraint tables and
reports the first violation found. Exits non-zero on an invalid protocol.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	p, err := protocol.Load(args[0])
	if err != nil {
		var vErr *protocol.ValidationError
		if errors.As(err, &vErr) {
			fmt.Fprintf(os.Stderr, "invalid: step %d, field %q: %s\n", vErr.StepIndex, vErr.Field, vErr.Constraint)
			os.Exit(1)
		}
		return err
	}

	steps := p.Expand()
	fmt.Printf("ok: %s\n", p.Name)
	fmt.Printf("  steps: %d (%d after expansion)\n", len(p.Steps), len(steps))
	fmt.Printf("  quantities: %v\n", p.Quantities())
	fmt.Printf("  planned duration: %.0fs\n", p.PlannedSeconds())
	return nil
}
