package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/semfind/semfind/internal/httpclient"
)

// defaultClient implements Client against the backend's JSON-over-HTTP API
type defaultClient struct {
	baseURL    string
	httpClient httpclient.Client
}

// NewDefaultClient creates a backend client for the given endpoint. A zero
// timeout selects the HTTP client default.
func NewDefaultClient(endpoint string, timeout time.Duration) Client {
	return &defaultClient{
		baseURL:    strings.TrimRight(endpoint, "/"),
		httpClient: httpclient.NewDefaultClient(timeout),
	}
}

// NewClientWithHTTP creates a backend client with an injected HTTP client
func NewClientWithHTTP(endpoint string, hc httpclient.Client) Client {
	return &defaultClient{
		baseURL:    strings.TrimRight(endpoint, "/"),
		httpClient: hc,
	}
}

// envelope is the common response wrapper the backend uses
type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (c *defaultClient) url(path string) string {
	return c.baseURL + path
}

// post sends body as JSON and decodes the response into out, checking the
// success envelope when out embeds one
func (c *defaultClient) post(ctx context.Context, path string, body, out any) error {
	data, err := c.httpClient.PostJSON(ctx, c.url(path), body)
	if err != nil {
		return err
	}
	return decode(data, path, out)
}

func (c *defaultClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.url(path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	data, err := c.httpClient.Get(ctx, u)
	if err != nil {
		return err
	}
	return decode(data, path, out)
}

func decode(data []byte, path string, out any) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if env.Error != "" && !env.Success {
		return fmt.Errorf("backend %s failed: %s", path, env.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// StartAuth begins the device-flow authorization
func (c *defaultClient) StartAuth(ctx context.Context) (*DeviceAuth, error) {
	var out DeviceAuth
	if err := c.post(ctx, "/api/github/auth/start", struct{}{}, &out); err != nil {
		return nil, err
	}
	if out.DeviceCode == "" || out.UserCode == "" || out.VerificationURI == "" {
		return nil, fmt.Errorf("backend auth.start response missing device flow fields")
	}
	return &out, nil
}

// authPollResponse mirrors the poll endpoint's wire shape
type authPollResponse struct {
	envelope
	Pending     bool   `json:"pending"`
	SlowDown    bool   `json:"slow_down"`
	AccessToken string `json:"access_token"`
}

// PollAuth checks the device-flow status
func (c *defaultClient) PollAuth(ctx context.Context, deviceCode string) (*AuthPollResult, error) {
	body := map[string]string{"device_code": deviceCode}
	data, err := c.httpClient.PostJSON(ctx, c.url("/api/github/auth/poll"), body)
	if err != nil {
		return nil, err
	}

	var resp authPollResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode auth.poll response: %w", err)
	}

	switch {
	case resp.Success:
		return &AuthPollResult{Status: AuthAuthorized, Token: resp.AccessToken}, nil
	case resp.Pending:
		return &AuthPollResult{Status: AuthPending}, nil
	case resp.SlowDown:
		return &AuthPollResult{Status: AuthSlowDown}, nil
	default:
		return &AuthPollResult{Status: AuthExpiredOrDenied, Message: resp.Error}, nil
	}
}

// ListCatalog enumerates one page of the remote repository listing
func (c *defaultClient) ListCatalog(ctx context.Context, page int) (*CatalogPage, error) {
	var out CatalogPage
	if err := c.post(ctx, "/api/github/repos", map[string]int{"page": page}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Clone clones the repository into local storage
func (c *defaultClient) Clone(ctx context.Context, fullName string) (*CloneResult, error) {
	var out struct {
		envelope
		CloneResult
	}
	if err := c.post(ctx, "/api/github/clone", map[string]string{"full_name": fullName}, &out); err != nil {
		return nil, err
	}
	return &out.CloneResult, nil
}

// CancelClone aborts the in-flight clone for the repository
func (c *defaultClient) CancelClone(ctx context.Context, fullName string) error {
	return c.post(ctx, "/api/github/clone/cancel", map[string]string{"full_name": fullName}, nil)
}

// Checkout switches the local clone to the branch
func (c *defaultClient) Checkout(ctx context.Context, fullName, branch string) error {
	body := map[string]string{"full_name": fullName, "branch_name": branch}
	return c.post(ctx, "/api/github/checkout", body, nil)
}

// BranchIndexStatus reports whether the branch has ever been indexed
func (c *defaultClient) BranchIndexStatus(ctx context.Context, fullName, branch string) (*BranchIndexStatus, error) {
	query := url.Values{"full_name": {fullName}, "branch": {branch}}
	var out BranchIndexStatus
	if err := c.get(ctx, "/api/github/branch/status", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// diffResponse mirrors the changes endpoint's wire shape
type diffResponse struct {
	envelope
	Changes      ChangeSet `json:"changes"`
	TotalChanges int       `json:"total_changes"`
}

// Diff computes the changes since the last indexed commit
func (c *defaultClient) Diff(ctx context.Context, fullName, branch string) (*ChangeSet, error) {
	body := map[string]string{"full_name": fullName, "branch": branch}
	var out diffResponse
	if err := c.post(ctx, "/api/github/changes", body, &out); err != nil {
		return nil, err
	}
	cs := out.Changes
	cs.TotalChanges = out.TotalChanges
	return &cs, nil
}

// StartIndex begins a repository indexing job
func (c *defaultClient) StartIndex(ctx context.Context, req *IndexRequest) error {
	return c.post(ctx, "/api/github/index", req, nil)
}

// StartLocalIndex begins a local-folder indexing job
func (c *defaultClient) StartLocalIndex(ctx context.Context, req *LocalIndexRequest) error {
	return c.post(ctx, "/api/index", req, nil)
}

// IndexStatus polls the progress of the running indexing job
func (c *defaultClient) IndexStatus(ctx context.Context) (*IndexStatusReport, error) {
	var out IndexStatusReport
	if err := c.get(ctx, "/api/index/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sync applies pending changes to the index
func (c *defaultClient) Sync(ctx context.Context, fullName, branch string) (*SyncResult, error) {
	body := map[string]string{"full_name": fullName, "branch": branch}
	var out struct {
		envelope
		SyncResult
	}
	if err := c.post(ctx, "/api/github/sync", body, &out); err != nil {
		return nil, err
	}
	return &out.SyncResult, nil
}

// Fetch refreshes remote tracking info for the repository
func (c *defaultClient) Fetch(ctx context.Context, fullName string) (*FetchResult, error) {
	var out struct {
		envelope
		Ahead     int   `json:"ahead"`
		Behind    int   `json:"behind"`
		Timestamp int64 `json:"timestamp"`
	}
	if err := c.post(ctx, "/api/github/fetch", map[string]string{"full_name": fullName}, &out); err != nil {
		return nil, err
	}
	return &FetchResult{
		Ahead:     out.Ahead,
		Behind:    out.Behind,
		Timestamp: time.Unix(out.Timestamp, 0),
	}, nil
}

// Retry re-evaluates a failed repository
func (c *defaultClient) Retry(ctx context.Context, fullName string) (*RetryResult, error) {
	var out struct {
		envelope
		RetryResult
	}
	if err := c.post(ctx, "/api/github/retry-repo", map[string]string{"full_name": fullName}, &out); err != nil {
		return nil, err
	}
	return &out.RetryResult, nil
}

// ListBranches lists the remote branches of the repository
func (c *defaultClient) ListBranches(ctx context.Context, fullName string) ([]Branch, error) {
	query := url.Values{"full_name": {fullName}}
	var out struct {
		envelope
		Branches []Branch `json:"branches"`
	}
	if err := c.get(ctx, "/api/github/branches", query, &out); err != nil {
		return nil, err
	}
	return out.Branches, nil
}

// ListIndexedBranches lists branches with index data present
func (c *defaultClient) ListIndexedBranches(ctx context.Context, fullName string) ([]IndexedBranch, error) {
	query := url.Values{"full_name": {fullName}}
	var out struct {
		envelope
		Branches []IndexedBranch `json:"branches"`
	}
	if err := c.get(ctx, "/api/github/branches/indexed", query, &out); err != nil {
		return nil, err
	}
	return out.Branches, nil
}
