package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the Aurora API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// ListJobs fetches jobs from the API, optionally filtered by status.
func (c *Client) ListJobs(status string) ([]JobItem, error) {
	url := c.baseURL + "/api/jobs"
	if status != "" {
		url += "?status=" + status
	}

	var jobs []struct {
		ID       string `json:"id"`
		SampleID string `json:"sample_id"`
		Executor string `json:"executor"`
		Status   string `json:"status"`
		ExitCode int    `json:"exit_code"`
	}
	if err := c.getJSON(url, &jobs); err != nil {
		return nil, err
	}

	items := make([]JobItem, len(jobs))
	for i, j := range jobs {
		items[i] = JobItem{
			ID:       j.ID,
			SampleID: j.SampleID,
			Executor: j.Executor,
			Status:   j.Status,
			ExitCode: j.ExitCode,
		}
	}
	return items, nil
}

// GetJob fetches a single job.
func (c *Client) GetJob(id string) (*JobDetail, error) {
	var j struct {
		ID           string `json:"id"`
		SampleID     string `json:"sample_id"`
		Executor     string `json:"executor"`
		Status       string `json:"status"`
		Fingerprint  string `json:"fingerprint"`
		ExitCode     int    `json:"exit_code"`
		FailureKind  string `json:"failure_kind"`
		FailureCause string `json:"failure_cause"`
		CreatedAt    string `json:"created_at"`
		StartedAt    string `json:"started_at"`
		EndedAt      string `json:"ended_at"`
	}
	if err := c.getJSON(c.baseURL+"/api/jobs/"+id, &j); err != nil {
		return nil, err
	}
	return &JobDetail{
		ID:           j.ID,
		SampleID:     j.SampleID,
		Executor:     j.Executor,
		Status:       j.Status,
		Fingerprint:  j.Fingerprint,
		ExitCode:     j.ExitCode,
		FailureKind:  j.FailureKind,
		FailureCause: j.FailureCause,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		EndedAt:      j.EndedAt,
	}, nil
}

// GetVerdict fetches the verdict recorded for a job. A nil result with nil
// error means no verdict has been recorded yet.
func (c *Client) GetVerdict(jobID string) (*VerdictDetail, error) {
	resp, err := c.get(c.baseURL + "/api/jobs/" + jobID + "/verdict")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	var v struct {
		ExitCode    int `json:"exit_code"`
		Differences []struct {
			Artifact string `json:"artifact"`
			Kind     string `json:"kind"`
			Line     int    `json:"line"`
			Field    int    `json:"field"`
			Want     string `json:"want"`
			Got      string `json:"got"`
		} `json:"differences"`
		ArtifactErrors []struct {
			Artifact string `json:"artifact"`
			Reason   string `json:"reason"`
		} `json:"artifact_errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, err
	}

	detail := &VerdictDetail{ExitCode: v.ExitCode}
	for _, d := range v.Differences {
		detail.Differences = append(detail.Differences, DifferenceDetail{
			Artifact: d.Artifact,
			Kind:     d.Kind,
			Line:     d.Line,
			Field:    d.Field,
			Want:     d.Want,
			Got:      d.Got,
		})
	}
	for _, e := range v.ArtifactErrors {
		detail.Errors = append(detail.Errors, fmt.Sprintf("%s: %s", e.Artifact, e.Reason))
	}
	return detail, nil
}

// ListSamples fetches registered samples.
func (c *Client) ListSamples() ([]SampleItem, error) {
	var samples []struct {
		ID        string `json:"id"`
		Label     string `json:"label"`
		Chemistry string `json:"chemistry"`
	}
	if err := c.getJSON(c.baseURL+"/api/samples", &samples); err != nil {
		return nil, err
	}

	items := make([]SampleItem, len(samples))
	for i, s := range samples {
		items[i] = SampleItem{ID: s.ID, Label: s.Label, Chemistry: s.Chemistry}
	}
	return items, nil
}

// CreateSample registers a new sample and returns its ID.
func (c *Client) CreateSample(label string) (string, error) {
	resp, err := c.post("/api/samples", map[string]string{"label": label})
	if err != nil {
		return "", err
	}
	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

// CheckHealth checks if the daemon is reachable.
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.get(c.baseURL + "/healthz")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (c *Client) get(url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.httpClient.Do(req)
}

func (c *Client) getJSON(url string, out any) error {
	resp, err := c.get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(path string, data any) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", string(body))
	}
	return body, nil
}
