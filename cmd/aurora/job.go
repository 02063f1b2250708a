package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cyclab/aurora/internal/store"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect cycling jobs",
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobList,
}

var jobShowCmd = &cobra.Command{
	Use:   "show [job-id]",
	Short: "Show job details",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobShow,
}

var jobVerdictCmd = &cobra.Command{
	Use:   "verdict [job-id]",
	Short: "Show the classification verdict for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobVerdict,
}

var jobOutputCmd = &cobra.Command{
	Use:   "output [job-id]",
	Short: "Show the artifacts produced by a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobOutput,
}

var jobLogCmd = &cobra.Command{
	Use:   "log [job-id]",
	Short: "Show the provenance trail for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobLog,
}

var (
	jobStatusFilter string
	jobSampleFilter string
)

func init() {
	jobCmd.AddCommand(jobListCmd, jobShowCmd, jobVerdictCmd, jobOutputCmd, jobLogCmd)

	jobListCmd.Flags().StringVar(&jobStatusFilter, "status", "", "Filter by status (created, submitted, running, completed, failed)")
	jobListCmd.Flags().StringVar(&jobSampleFilter, "sample", "", "Filter by sample ID")
}

func runJobList(cmd *cobra.Command, args []string) error {
	url := "/api/jobs"
	sep := "?"
	if jobStatusFilter != "" {
		url += sep + "status=" + jobStatusFilter
		sep = "&"
	}
	if jobSampleFilter != "" {
		url += sep + "sample=" + jobSampleFilter
	}

	resp, err := apiGetOrLocal(url, func(s *store.Store) (any, error) {
		return s.ListJobs(jobStatusFilter, jobSampleFilter)
	})
	if err != nil {
		return err
	}

	var jobs []map[string]any
	if err := json.Unmarshal(resp, &jobs); err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSAMPLE\tEXECUTOR\tSTATUS\tEXIT")
	for _, j := range jobs {
		exit := ""
		if status, _ := j["status"].(string); status == "completed" || status == "failed" {
			if code, ok := j["exit_code"].(float64); ok {
				exit = fmt.Sprintf("%d", int(code))
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			truncateID(j["id"].(string)),
			truncateID(j["sample_id"].(string)),
			j["executor"], j["status"], exit)
	}
	w.Flush()
	return nil
}

func runJobShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGetOrLocal("/api/jobs/"+args[0], func(s *store.Store) (any, error) {
		return s.GetJob(args[0])
	})
	if err != nil {
		return err
	}

	var j map[string]any
	if err := json.Unmarshal(resp, &j); err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", j["id"])
	fmt.Printf("Sample:      %s\n", j["sample_id"])
	fmt.Printf("Executor:    %s\n", j["executor"])
	fmt.Printf("Status:      %s\n", j["status"])
	fmt.Printf("Fingerprint: %s\n", j["fingerprint"])
	if wd, ok := j["work_dir"].(string); ok && wd != "" {
		fmt.Printf("Work dir:    %s\n", wd)
	}
	if fk, ok := j["failure_kind"].(string); ok && fk != "" {
		fmt.Printf("Failure:     %s\n", fk)
		if fc, ok := j["failure_cause"].(string); ok && fc != "" {
			fmt.Printf("Cause:       %s\n", fc)
		}
	}
	fmt.Printf("Created:     %s\n", j["created_at"])
	if st, ok := j["started_at"].(string); ok && st != "" {
		fmt.Printf("Started:     %s\n", st)
	}
	if et, ok := j["ended_at"].(string); ok && et != "" {
		fmt.Printf("Ended:       %s\n", et)
	}
	return nil
}

func runJobVerdict(cmd *cobra.Command, args []string) error {
	resp, err := apiGetOrLocal("/api/jobs/"+args[0]+"/verdict", func(s *store.Store) (any, error) {
		return localVerdict(s, args[0])
	})
	if err != nil {
		return err
	}

	var v struct {
		ExitCode    int `json:"exit_code"`
		Differences []struct {
			Artifact string `json:"artifact"`
			Kind     string `json:"kind"`
			Line     int    `json:"line"`
			Want     string `json:"want"`
			Got      string `json:"got"`
		} `json:"differences"`
		ArtifactErrors []struct {
			Artifact string `json:"artifact"`
			Reason   string `json:"reason"`
		} `json:"artifact_errors"`
	}
	if err := json.Unmarshal(resp, &v); err != nil {
		return err
	}

	switch v.ExitCode {
	case 0:
		fmt.Println("Verdict: MATCH (exit 0)")
	case 1:
		fmt.Println("Verdict: STRUCTURAL MISMATCH (exit 1)")
	default:
		fmt.Printf("Verdict: CONTENT MISMATCH (exit %d)\n", v.ExitCode)
	}

	for _, d := range v.Differences {
		loc := d.Artifact
		if d.Line > 0 {
			loc = fmt.Sprintf("%s:%d", d.Artifact, d.Line)
		}
		fmt.Printf("  %s [%s] want %s got %s\n", loc, d.Kind, d.Want, d.Got)
	}
	for _, e := range v.ArtifactErrors {
		fmt.Printf("  %s: %s\n", e.Artifact, e.Reason)
	}
	return nil
}

func runJobOutput(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/api/jobs/" + args[0] + "/output")
	if err != nil {
		return err
	}

	var out struct {
		WorkDir   string `json:"work_dir"`
		Artifacts []struct {
			Name    string `json:"name"`
			Content []byte `json:"content"`
		} `json:"artifacts"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return err
	}

	fmt.Printf("Work dir: %s\n", out.WorkDir)
	for _, a := range out.Artifacts {
		fmt.Printf("  %s (%d bytes)\n", a.Name, len(a.Content))
	}
	return nil
}

func runJobLog(cmd *cobra.Command, args []string) error {
	resp, err := apiGetOrLocal("/api/jobs/"+args[0]+"/provenance", func(s *store.Store) (any, error) {
		return s.ListProvenance(args[0])
	})
	if err != nil {
		return err
	}

	var entries []map[string]any
	if err := json.Unmarshal(resp, &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No provenance recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tOUTCOME\tDETAILS")
	for _, e := range entries {
		details, _ := e["details"].(string)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e["timestamp"], e["action"], e["outcome"], truncate(details, 50))
	}
	w.Flush()
	return nil
}
