// Package orchestrator is a minimal client for the UiPath Orchestrator OData API.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/compai/avatar-relay/internal/domain"
)

const (
	// DefaultOrganizationUnitID is the folder jobs are started in.
	DefaultOrganizationUnitID = "421017"

	providerName = "orchestrator"
	startJobsOp  = "Jobs/UiPath.Server.Configuration.OData.StartJobs"
)

// Start info constants sent with every job.
const (
	StrategyModernJobsCount = "ModernJobsCount"
	RuntimeDevelopment      = "Development"
	SourceManual            = "Manual"
	PriorityNormal          = "Normal"
)

// Config holds connection settings.
type Config struct {
	// BaseURL is the OData root; when empty it is built from Organization and Tenant.
	BaseURL            string
	Organization       string
	Tenant             string
	PAT                string
	OrganizationUnitID string
	Timeout            time.Duration
}

// ODataURL returns the OData root for the config.
func (c Config) ODataURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/") + "/"
	}
	return fmt.Sprintf("https://cloud.uipath.com/%s/%s/orchestrator_/odata/", c.Organization, c.Tenant)
}

// Release is a deployed process version.
type Release struct {
	Key        string `json:"Key"`
	Name       string `json:"Name"`
	ProcessKey string `json:"ProcessKey"`
}

// StartJobRequest carries the per-job parameters; the remaining start info
// fields are fixed.
type StartJobRequest struct {
	ReleaseKey string
	// InputArguments is a JSON object encoded as a string.
	InputArguments string
}

// StartedJob is the first job returned by a start call.
type StartedJob struct {
	ID    int64  `json:"Id"`
	Key   string `json:"Key"`
	State string `json:"State"`
}

// JobDetail is a job as reported by Jobs(id).
type JobDetail struct {
	ID              int64   `json:"Id"`
	Key             string  `json:"Key"`
	State           string  `json:"State"`
	Info            string  `json:"Info"`
	OutputArguments *string `json:"OutputArguments"`
	ReleaseName     string  `json:"ReleaseName"`
	CreationTime    string  `json:"CreationTime"`
	StartTime       *string `json:"StartTime"`
	EndTime         *string `json:"EndTime"`

	// Raw is the full response body.
	Raw json.RawMessage `json:"-"`
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	pat        string
	orgUnitID  string
	httpClient *http.Client
}

// NewClient validates cfg and creates a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.PAT == "" {
		return nil, errors.New("orchestrator access token is required")
	}
	if cfg.BaseURL == "" && (cfg.Organization == "" || cfg.Tenant == "") {
		return nil, errors.New("orchestrator organization and tenant are required")
	}
	if cfg.OrganizationUnitID == "" {
		cfg.OrganizationUnitID = DefaultOrganizationUnitID
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    cfg.ODataURL(),
		pat:        cfg.PAT,
		orgUnitID:  cfg.OrganizationUnitID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// FindReleaseByName returns the first release named name, or
// domain.ErrProcessNotFound.
func (c *Client) FindReleaseByName(ctx context.Context, name string) (*Release, error) {
	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("Name eq '%s'", strings.ReplaceAll(name, "'", "''")))

	var out struct {
		Value []Release `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "Releases?"+q.Encode(), false, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Value) == 0 {
		return nil, fmt.Errorf("%w: process '%s' not found in UiPath Orchestrator", domain.ErrProcessNotFound, name)
	}
	slog.Info("Found process release", "release_name", name, "release_key", out.Value[0].Key)
	return &out.Value[0], nil
}

// StartJob starts one job for the release.
func (c *Client) StartJob(ctx context.Context, req StartJobRequest) (*StartedJob, error) {
	inputs := req.InputArguments
	if inputs == "" {
		inputs = "{}"
	}
	payload := map[string]any{
		"startInfo": map[string]any{
			"ReleaseKey":     req.ReleaseKey,
			"Strategy":       StrategyModernJobsCount,
			"RuntimeType":    RuntimeDevelopment,
			"JobsCount":      1,
			"Source":         SourceManual,
			"InputArguments": inputs,
			"JobPriority":    PriorityNormal,
		},
	}
	var out struct {
		Value []StartedJob `json:"value"`
	}
	if err := c.do(ctx, http.MethodPost, startJobsOp, true, payload, &out); err != nil {
		return nil, err
	}
	if len(out.Value) == 0 {
		return nil, &domain.ProviderError{Provider: providerName, Op: "StartJobs", Body: "no job returned", Kind: domain.ErrProviderError}
	}
	return &out.Value[0], nil
}

// GetJob fetches the current job record.
func (c *Client) GetJob(ctx context.Context, id int64) (*JobDetail, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "Jobs("+strconv.FormatInt(id, 10)+")", true, nil, &raw); err != nil {
		return nil, err
	}
	var job JobDetail
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, &domain.ProviderError{Provider: providerName, Op: "Jobs", Kind: domain.ErrProviderError, Cause: fmt.Errorf("decode job: %w", err)}
	}
	job.Raw = raw
	return &job, nil
}

func (c *Client) do(ctx context.Context, method, path string, folderScoped bool, payload, out any) error {
	op := path
	if i := strings.IndexAny(op, "?("); i > 0 {
		op = op[:i]
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.pat)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if folderScoped {
		req.Header.Set("X-UIPATH-OrganizationUnitId", c.orgUnitID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.ProviderError{Provider: providerName, Op: op, Kind: domain.ErrProviderError, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		slog.Error("Orchestrator call failed", "op", op, "status", resp.StatusCode)
		return &domain.ProviderError{
			Provider:   providerName,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
			Kind:       domain.ErrProviderError,
		}
	}

	if raw, ok := out.(*json.RawMessage); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &domain.ProviderError{Provider: providerName, Op: op, Kind: domain.ErrProviderError, Cause: err}
		}
		*raw = data
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.ProviderError{Provider: providerName, Op: op, Kind: domain.ErrProviderError, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
