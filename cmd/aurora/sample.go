package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cyclab/aurora/internal/store"
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Manage battery samples",
}

var sampleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new sample",
	RunE:  runSampleAdd,
}

var sampleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered samples",
	RunE:  runSampleList,
}

var sampleShowCmd = &cobra.Command{
	Use:   "show [sample-id-or-label]",
	Short: "Show sample details",
	Args:  cobra.ExactArgs(1),
	RunE:  runSampleShow,
}

var (
	sampleLabel        string
	sampleManufacturer string
	sampleChemistry    string
	sampleCapacity     float64
	sampleNotes        string
)

func init() {
	sampleCmd.AddCommand(sampleAddCmd, sampleListCmd, sampleShowCmd)

	sampleAddCmd.Flags().StringVar(&sampleLabel, "label", "", "Sample label (required)")
	sampleAddCmd.Flags().StringVar(&sampleManufacturer, "manufacturer", "", "Cell manufacturer")
	sampleAddCmd.Flags().StringVar(&sampleChemistry, "chemistry", "", "Cell chemistry (e.g. NMC, LFP)")
	sampleAddCmd.Flags().Float64Var(&sampleCapacity, "capacity", 0, "Nominal capacity in Ah")
	sampleAddCmd.Flags().StringVar(&sampleNotes, "notes", "", "Free-form notes")
	sampleAddCmd.MarkFlagRequired("label")
}

func runSampleAdd(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"label":               sampleLabel,
		"manufacturer":        sampleManufacturer,
		"chemistry":           sampleChemistry,
		"nominal_capacity_ah": sampleCapacity,
		"notes":               sampleNotes,
	}
	resp, err := apiPost("/api/samples", body)
	if err != nil {
		return err
	}

	var result map[string]any
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	fmt.Printf("Registered sample: %s\n", result["id"])
	return nil
}

func runSampleList(cmd *cobra.Command, args []string) error {
	resp, err := apiGetOrLocal("/api/samples", func(s *store.Store) (any, error) {
		return s.ListSamples()
	})
	if err != nil {
		return err
	}

	var samples []map[string]any
	if err := json.Unmarshal(resp, &samples); err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Println("No samples registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tCHEMISTRY\tCAPACITY (AH)")
	for _, s := range samples {
		capacity := ""
		if c, ok := s["nominal_capacity_ah"].(float64); ok && c > 0 {
			capacity = fmt.Sprintf("%.2f", c)
		}
		chemistry, _ := s["chemistry"].(string)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", truncateID(s["id"].(string)), s["label"], chemistry, capacity)
	}
	w.Flush()
	return nil
}

func runSampleShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGetOrLocal("/api/samples/"+args[0], func(s *store.Store) (any, error) {
		return localSample(s, args[0])
	})
	if err != nil {
		return err
	}

	var s map[string]any
	if err := json.Unmarshal(resp, &s); err != nil {
		return err
	}

	fmt.Printf("ID:           %s\n", s["id"])
	fmt.Printf("Label:        %s\n", s["label"])
	if m, ok := s["manufacturer"].(string); ok && m != "" {
		fmt.Printf("Manufacturer: %s\n", m)
	}
	if c, ok := s["chemistry"].(string); ok && c != "" {
		fmt.Printf("Chemistry:    %s\n", c)
	}
	if c, ok := s["nominal_capacity_ah"].(float64); ok && c > 0 {
		fmt.Printf("Capacity:     %.2f Ah\n", c)
	}
	if n, ok := s["notes"].(string); ok && n != "" {
		fmt.Printf("Notes:        %s\n", n)
	}
	fmt.Printf("Created:      %s\n", s["created_at"])
	return nil
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
