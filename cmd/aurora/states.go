package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cyclab/aurora/internal/store"
)

var statesCmd = &cobra.Command{
	Use:   "states",
	Short: "List recorded sample states",
	RunE:  runStates,
}

var statesSampleFilter string

func init() {
	statesCmd.Flags().StringVar(&statesSampleFilter, "sample", "", "Filter by sample ID")
}

func runStates(cmd *cobra.Command, args []string) error {
	url := "/api/states"
	if statesSampleFilter != "" {
		url += "?sample=" + statesSampleFilter
	}

	resp, err := apiGetOrLocal(url, func(s *store.Store) (any, error) {
		return s.ListStates(statesSampleFilter)
	})
	if err != nil {
		return err
	}

	var states []struct {
		ID           string `json:"id"`
		SampleID     string `json:"sample_id"`
		JobID        string `json:"job_id"`
		RecordedAt   string `json:"recorded_at"`
		Measurements []struct {
			Name  string  `json:"name"`
			Value float64 `json:"value"`
			Unit  string  `json:"unit"`
		} `json:"measurements"`
	}
	if err := json.Unmarshal(resp, &states); err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Println("No states recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSAMPLE\tJOB\tRECORDED\tMEASUREMENTS")
	for _, s := range states {
		summary := ""
		for i, m := range s.Measurements {
			if i > 0 {
				summary += ", "
			}
			summary += fmt.Sprintf("%s=%.4g%s", m.Name, m.Value, m.Unit)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncateID(s.ID), truncateID(s.SampleID), truncateID(s.JobID), s.RecordedAt, truncate(summary, 60))
	}
	w.Flush()
	return nil
}
