// Package repo contains clients for the external systems the sentry engine
// reads from and acts on.
package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/utils"
)

// PipelineClient wraps the monitored inference pipeline's probe and admin
// APIs. Every call is bounded by the configured client timeout.
type PipelineClient struct {
	baseURL          string
	inferPath        string
	goldenPath       string
	resourcePath     string
	distributionPath string
	adminPath        string
	httpClient       *http.Client
}

// NewPipelineClient constructs a client targeting the configured pipeline.
func NewPipelineClient(baseURL, inferPath, goldenPath, resourcePath, distributionPath, adminPath string, timeout time.Duration) *PipelineClient {
	return &PipelineClient{
		baseURL:          strings.TrimRight(baseURL, "/"),
		inferPath:        inferPath,
		goldenPath:       goldenPath,
		resourcePath:     resourcePath,
		distributionPath: distributionPath,
		adminPath:        adminPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SampleLatency performs one probe inference and reports the wall-clock
// latency in milliseconds.
func (c *PipelineClient) SampleLatency(ctx context.Context) (float64, map[string]any, error) {
	if err := c.ready(); err != nil {
		return 0, nil, err
	}

	var response struct {
		Label        string  `json:"label"`
		ModelVersion string  `json:"model_version"`
		LatencyMs    float64 `json:"latency_ms"`
	}

	start := time.Now()
	err := c.postJSON(ctx, c.resolvePath(c.inferPath), map[string]any{"input": "latency-probe"}, &response)
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	if err != nil {
		return 0, nil, fmt.Errorf("pipeline inference probe failed: %w", err)
	}

	details := map[string]any{
		"measured_ms":       elapsed,
		"model_reported_ms": response.LatencyMs,
		"model_version":     response.ModelVersion,
	}
	return elapsed, details, nil
}

// SampleCorrectness runs the pipeline's golden samples through inference and
// reports the fraction answered correctly, in [0,1].
func (c *PipelineClient) SampleCorrectness(ctx context.Context) (float64, map[string]any, error) {
	if err := c.ready(); err != nil {
		return 0, nil, err
	}

	var goldens struct {
		Samples []struct {
			Input    string `json:"input"`
			Expected string `json:"expected"`
		} `json:"samples"`
	}
	if err := c.getJSON(ctx, c.resolvePath(c.goldenPath), &goldens); err != nil {
		return 0, nil, fmt.Errorf("pipeline golden samples request failed: %w", err)
	}
	if len(goldens.Samples) == 0 {
		return 0, nil, fmt.Errorf("pipeline returned no golden samples")
	}

	correct := 0
	results := make([]map[string]any, 0, len(goldens.Samples))
	for _, sample := range goldens.Samples {
		var response struct {
			Label string `json:"label"`
		}
		if err := c.postJSON(ctx, c.resolvePath(c.inferPath), map[string]any{"input": sample.Input}, &response); err != nil {
			return 0, nil, fmt.Errorf("golden inference for %q failed: %w", sample.Input, err)
		}
		ok := response.Label == sample.Expected
		if ok {
			correct++
		}
		results = append(results, map[string]any{
			"sample":   sample.Input,
			"expected": sample.Expected,
			"actual":   response.Label,
			"correct":  ok,
		})
	}

	ratio := float64(correct) / float64(len(goldens.Samples))
	details := map[string]any{
		"correct":        correct,
		"total":          len(goldens.Samples),
		"sample_results": results,
	}
	return ratio, details, nil
}

// SampleResource reports current cluster utilization. The returned value is
// the worse of CPU and memory so a single threshold covers both.
func (c *PipelineClient) SampleResource(ctx context.Context) (float64, map[string]any, error) {
	if err := c.ready(); err != nil {
		return 0, nil, err
	}

	var response struct {
		CPUUtil    float64 `json:"cpu_util"`
		MemoryUtil float64 `json:"memory_util"`
	}
	if err := c.getJSON(ctx, c.resolvePath(c.resourcePath), &response); err != nil {
		return 0, nil, fmt.Errorf("pipeline resource request failed: %w", err)
	}

	worst := response.CPUUtil
	if response.MemoryUtil > worst {
		worst = response.MemoryUtil
	}
	details := map[string]any{
		"cpu_utilization":    response.CPUUtil,
		"memory_utilization": response.MemoryUtil,
	}
	return worst, details, nil
}

// SampleDistribution fetches the baseline and current prediction
// distributions for the drift comparison window.
func (c *PipelineClient) SampleDistribution(ctx context.Context, window time.Duration) ([]float64, []float64, error) {
	if err := c.ready(); err != nil {
		return nil, nil, err
	}

	endpoint := c.resolvePath(c.distributionPath) + "?window=" + url.QueryEscape(window.String())
	var response struct {
		Baseline []float64 `json:"baseline"`
		Current  []float64 `json:"current"`
	}
	if err := c.getJSON(ctx, endpoint, &response); err != nil {
		return nil, nil, fmt.Errorf("pipeline distribution request failed: %w", err)
	}
	return response.Baseline, response.Current, nil
}

// RestartService asks the pipeline to restart its inference service.
func (c *PipelineClient) RestartService(ctx context.Context) (map[string]any, error) {
	return c.adminCall(ctx, "restart", nil)
}

// ClearCache flushes the pipeline's inference cache.
func (c *PipelineClient) ClearCache(ctx context.Context) (map[string]any, error) {
	return c.adminCall(ctx, "cache/clear", nil)
}

// RollbackModel rolls the served model back to the target version.
func (c *PipelineClient) RollbackModel(ctx context.Context, targetVersion string) (map[string]any, error) {
	return c.adminCall(ctx, "rollback", map[string]any{"target_version": targetVersion})
}

func (c *PipelineClient) adminCall(ctx context.Context, action string, payload map[string]any) (map[string]any, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	endpoint := c.resolvePath(path.Join(c.adminPath, action))
	var response map[string]any
	if err := c.postJSON(ctx, endpoint, payload, &response); err != nil {
		return nil, fmt.Errorf("pipeline admin %s failed: %w", action, err)
	}
	return response, nil
}

func (c *PipelineClient) ready() error {
	if c == nil {
		return fmt.Errorf("pipeline client not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("pipeline base URL not configured")
	}
	return nil
}

func (c *PipelineClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *PipelineClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *PipelineClient) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *PipelineClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return utils.NewAppError(req.Method+" "+req.URL.Path, "pipeline returned "+resp.Status, nil)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
