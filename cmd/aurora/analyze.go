package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cyclab/aurora/internal/analysis"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [results.json]",
	Short: "Compute capacity fade from a run's cycle summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

var (
	analyzeThreshold float64
	analyzeCycles    int
	analyzeCharge    bool
)

func init() {
	analyzeCmd.Flags().Float64Var(&analyzeThreshold, "threshold", 0.8, "Relative capacity below which a cycle counts as faded")
	analyzeCmd.Flags().IntVar(&analyzeCycles, "cycles", 2, "Consecutive below-threshold cycles required to flag fade")
	analyzeCmd.Flags().BoolVar(&analyzeCharge, "charge", false, "Track charge capacity instead of discharge capacity")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	opts := analysis.Options{
		Threshold:         analyzeThreshold,
		ConsecutiveCycles: analyzeCycles,
		Discharge:         !analyzeCharge,
	}
	report, err := analysis.Analyze(data, opts)
	if err != nil {
		return err
	}

	fmt.Printf("Cycles:             %d\n", report.Cycles)
	fmt.Printf("Mean efficiency:    %.4f\n", report.MeanEfficiency)
	if report.FadeDetected {
		fmt.Printf("Capacity fade:      DETECTED (%d consecutive cycles below %.0f%%)\n",
			report.FadeRunLength, analyzeThreshold*100)
	} else {
		fmt.Println("Capacity fade:      not detected")
	}
	for i, rc := range report.RelativeCapacities {
		marker := ""
		if rc < analyzeThreshold {
			marker = "  <-- below threshold"
		}
		fmt.Printf("  cycle %3d: %.4f Ah (%.1f%%)%s\n", i+1, report.Capacities[i], rc*100, marker)
	}
	return nil
}
