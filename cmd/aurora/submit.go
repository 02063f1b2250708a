package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cyclab/aurora/internal/protocol"
)

var submitCmd = &cobra.Command{
	Use:   "submit [protocol.yaml]",
	Short: "Submit a protocol to the daemon as a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

var (
	submitSample   string
	submitExecutor string
)

func init() {
	submitCmd.Flags().StringVar(&submitSample, "sample", "", "Sample ID or label (required)")
	submitCmd.Flags().StringVar(&submitExecutor, "executor", "simcell", "Execution backend")
	submitCmd.MarkFlagRequired("sample")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	doc, err := protocol.DecodeBytes(data)
	if err != nil {
		return err
	}

	body := map[string]any{
		"sample_id": submitSample,
		"executor":  submitExecutor,
		"protocol":  doc,
	}
	resp, err := apiPost("/api/jobs", body)
	if err != nil {
		return err
	}

	var j map[string]any
	if err := json.Unmarshal(resp, &j); err != nil {
		return err
	}
	fmt.Printf("Submitted job: %s\n", j["id"])
	fmt.Printf("Fingerprint:   %s\n", j["fingerprint"])
	return nil
}
