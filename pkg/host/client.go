// Package host provides the retrying client for the version-control hosting
// API. It reconciles check runs, combined commit status, review history,
// branch protection, and mergeability into a single PullRequestStatus, and
// executes merge/close operations.
package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"mergepilot/pkg/host/apierr"
	"mergepilot/pkg/logx"
)

// Doer issues HTTP requests. *http.Client satisfies it; tests substitute
// their own.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config tunes the client. Every field has a stated default.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Config struct {
	// BaseURL is the API root, e.g. "https://api.github.com". Required.
	BaseURL string
	// Owner/Repo identify the repository. Required.
	Owner string
	Repo  string
	// Token is sent as a bearer token when set. Default: unauthenticated.
	Token string
	// RetryAttempts is the total number of attempts per operation,
	// including the first. Default: 3.
	RetryAttempts int
	// RetryBaseDelay is the backoff base; attempt n waits base * 2^n,
	// capped at RetryMaxDelay. Defaults: 500ms base, 10s cap.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// PageSize bounds paginated listings. Default: 100.
	PageSize int
	// OnRetry, when set, observes every retried request by operation name.
	// Default: no observer.
	OnRetry func(operation string)
}

const (
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 10 * time.Second
	defaultPageSize       = 100
)

func (c *Config) applyDefaults() {
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = defaultRetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.PageSize <= 0 {
		c.PageSize = defaultPageSize
	}
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return apierr.New(apierr.ErrorTypeValidation, "base URL is required")
	}
	if c.Owner == "" || c.Repo == "" {
		return apierr.New(apierr.ErrorTypeValidation, "repository owner and name are required")
	}
	return nil
}

// Client is the retrying host API client.
type Client struct {
	config Config
	doer   Doer
	logger *logx.Logger
	// sleep is swappable in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client. A nil doer uses http.DefaultClient.
func NewClient(cfg Config, doer Doer) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		config: cfg,
		doer:   doer,
		logger: logx.NewLogger("host"),
		sleep:  sleepCtx,
	}, nil
}

// RepoPath returns the owner/repo path.
func (c *Client) RepoPath() string {
	return fmt.Sprintf("%s/%s", c.config.Owner, c.config.Repo)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// backoffDelay computes the wait before retry attempt n (0-based):
// base * 2^attempt, capped at the configured maximum.
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.config.RetryBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= c.config.RetryMaxDelay {
			return c.config.RetryMaxDelay
		}
	}
	if delay > c.config.RetryMaxDelay {
		delay = c.config.RetryMaxDelay
	}
	return delay
}

// do issues one HTTP request and decodes the JSON response into out (which
// may be nil). Transport and status failures come back as *apierr.Error.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return apierr.NewWithCause(apierr.ErrorTypeValidation, err, "encode request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return apierr.NewWithCause(apierr.ErrorTypeValidation, err, "build request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	c.logger.Debug("%s %s", method, path)

	resp, err := c.doer.Do(req)
	if err != nil {
		return apierr.FromTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	requestID := resp.Header.Get("X-Github-Request-Id")
	if requestID == "" {
		requestID = resp.Header.Get("X-Request-Id")
	}

	if resp.StatusCode >= 400 {
		message := readErrorMessage(resp.Body)
		return apierr.FromStatus(resp.StatusCode, requestID, message)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil // Empty response is valid for some operations
		}
		return apierr.NewWithCause(apierr.ErrorTypeUnknown, err, "decode response")
	}
	return nil
}

// readErrorMessage extracts the host's error message from a failed response.
func readErrorMessage(body io.Reader) string {
	var payload struct {
		Message string `json:"message"`
	}
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return ""
	}
	if json.Unmarshal(raw, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return string(raw)
}

// doWithRetry wraps do with the retry policy: transient errors (5xx, 429,
// 409, network/timeout shapes) are retried with exponential backoff up to
// the configured attempt count; exhausted retries surface a wrapped error
// that keeps the original status code and request-tracing ID.
func (c *Client) doWithRetry(ctx context.Context, operation, method, path string, body, out any) error {
	var lastErr *apierr.Error

	for attempt := 0; attempt < c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt - 1)
			c.logger.Debug("Retry %d/%d for %s %s after %v", attempt, c.config.RetryAttempts-1, method, path, delay)
			if err := c.sleep(ctx, delay); err != nil {
				return apierr.NewWithCause(apierr.ErrorTypeUnknown, err, "retry wait interrupted")
			}
			if c.config.OnRetry != nil {
				c.config.OnRetry(operation)
			}
		}

		err := c.do(ctx, method, path, body, out)
		if err == nil {
			return nil
		}

		apiErr, ok := err.(*apierr.Error) //nolint:errorlint // do only returns *apierr.Error
		if !ok {
			return err
		}
		lastErr = apiErr
		if !apiErr.IsRetryable() {
			return apiErr
		}
	}

	return apierr.Exhausted(lastErr, c.config.RetryAttempts)
}

// GetPullRequest fetches a PR by number, polling while the host is still
// computing mergeability: up to RetryAttempts-1 extra fetches with the same
// exponential backoff, returning whatever state was reached when attempts
// run out. The caller decides what an unknown mergeability means.
func (c *Client) GetPullRequest(ctx context.Context, prNumber int) (*PullRequest, error) {
	if prNumber <= 0 {
		return nil, apierr.New(apierr.ErrorTypeValidation, fmt.Sprintf("invalid PR number %d", prNumber))
	}

	path := fmt.Sprintf("/repos/%s/pulls/%d", c.RepoPath(), prNumber)

	var pr PullRequest
	if err := c.doWithRetry(ctx, "get_pull_request", http.MethodGet, path, nil, &pr); err != nil {
		return nil, err
	}

	for attempt := 0; pr.Mergeable == nil && attempt < c.config.RetryAttempts-1; attempt++ {
		delay := c.backoffDelay(attempt)
		c.logger.Debug("Mergeability for PR #%d still computing, polling again in %v", prNumber, delay)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, apierr.NewWithCause(apierr.ErrorTypeUnknown, err, "mergeability poll interrupted")
		}
		pr = PullRequest{}
		if err := c.doWithRetry(ctx, "get_pull_request", http.MethodGet, path, nil, &pr); err != nil {
			return nil, err
		}
	}

	return &pr, nil
}

// ListCheckRuns lists all check runs for a ref, following pagination.
func (c *Client) ListCheckRuns(ctx context.Context, ref string) ([]CheckRun, error) {
	var all []CheckRun
	for page := 1; ; page++ {
		path := fmt.Sprintf("/repos/%s/commits/%s/check-runs?per_page=%d&page=%d",
			c.RepoPath(), url.PathEscape(ref), c.config.PageSize, page)

		var resp checkRunsResponse
		if err := c.doWithRetry(ctx, "list_check_runs", http.MethodGet, path, nil, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.CheckRuns...)
		if len(resp.CheckRuns) < c.config.PageSize {
			return all, nil
		}
	}
}

// GetCombinedStatus fetches the combined commit status for a ref.
func (c *Client) GetCombinedStatus(ctx context.Context, ref string) (*CombinedStatus, error) {
	path := fmt.Sprintf("/repos/%s/commits/%s/status", c.RepoPath(), url.PathEscape(ref))

	var status CombinedStatus
	if err := c.doWithRetry(ctx, "get_combined_status", http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListReviews lists all reviews for a PR, following pagination.
func (c *Client) ListReviews(ctx context.Context, prNumber int) ([]Review, error) {
	var all []Review
	for page := 1; ; page++ {
		path := fmt.Sprintf("/repos/%s/pulls/%d/reviews?per_page=%d&page=%d",
			c.RepoPath(), prNumber, c.config.PageSize, page)

		var reviews []Review
		if err := c.doWithRetry(ctx, "list_reviews", http.MethodGet, path, nil, &reviews); err != nil {
			return nil, err
		}
		all = append(all, reviews...)
		if len(reviews) < c.config.PageSize {
			return all, nil
		}
	}
}

// GetBranchProtection fetches the protection policy for a branch. A 403/404
// is swallowed (protection unknown, not an error); any other failure
// propagates.
func (c *Client) GetBranchProtection(ctx context.Context, branch string) (*BranchProtection, error) {
	path := fmt.Sprintf("/repos/%s/branches/%s/protection", c.RepoPath(), url.PathEscape(branch))

	var protection BranchProtection
	if err := c.doWithRetry(ctx, "get_branch_protection", http.MethodGet, path, nil, &protection); err != nil {
		if apierr.Is(err, apierr.ErrorTypeAuthorization) {
			c.logger.Debug("Branch protection for %s not readable, proceeding without it", branch)
			return nil, nil
		}
		return nil, err
	}
	return &protection, nil
}

// GetStatus aggregates every readiness signal for a PR into one fresh
// PullRequestStatus snapshot.
func (c *Client) GetStatus(ctx context.Context, prNumber int) (*PullRequestStatus, error) {
	pr, err := c.GetPullRequest(ctx, prNumber)
	if err != nil {
		return nil, err
	}

	// Check runs and combined status are optional enrichment: a forbidden
	// or missing source degrades to an absent value.
	checkRuns, err := c.ListCheckRuns(ctx, pr.Head.SHA)
	if err != nil {
		if !apierr.Is(err, apierr.ErrorTypeAuthorization) {
			return nil, err
		}
		checkRuns = nil
	}

	combinedState := ""
	var statuses []CommitStatus
	combined, err := c.GetCombinedStatus(ctx, pr.Head.SHA)
	if err != nil {
		if !apierr.Is(err, apierr.ErrorTypeAuthorization) {
			return nil, err
		}
	} else if combined != nil {
		combinedState = combined.State
		statuses = combined.Statuses
	}

	reviews, err := c.ListReviews(ctx, prNumber)
	if err != nil {
		return nil, err
	}
	approvals := dedupReviews(reviews)

	protection, err := c.GetBranchProtection(ctx, pr.Base.Ref)
	if err != nil {
		return nil, err
	}

	status := &PullRequestStatus{
		PRNumber:        pr.Number,
		HeadSHA:         pr.Head.SHA,
		CIStatus:        deriveCIStatus(checkRuns, combinedState),
		CheckRuns:       summarizeCheckRuns(checkRuns),
		ApprovedReviews: countApproved(approvals),
		Approvals:       approvals,
		MergeableKnown:  pr.Mergeable != nil,
		HasConflicts:    pr.Mergeable != nil && !*pr.Mergeable,
		CommitCount:     pr.Commits,
	}

	if score, ok := parseQualityScore(statuses); ok {
		status.QualityScore = score
		status.QualityKnown = true
	}

	if protection != nil {
		status.ProtectionKnown = true
		if protection.RequiredPullRequestReviews != nil {
			status.RequiredApprovals = protection.RequiredPullRequestReviews.RequiredApprovingReviewCount
		}
		if protection.RequiredLinearHistory != nil {
			status.RequireLinearHistory = protection.RequiredLinearHistory.Enabled
		}
		if protection.AllowRebase != nil {
			allowed := protection.AllowRebase.Enabled
			status.AllowRebase = &allowed
		}
	}

	return status, nil
}

func summarizeCheckRuns(checkRuns []CheckRun) []CheckRunSummary {
	summaries := make([]CheckRunSummary, 0, len(checkRuns))
	for i := range checkRuns {
		summaries = append(summaries, CheckRunSummary{
			Name:       checkRuns[i].Name,
			Status:     checkRuns[i].Status,
			Conclusion: checkRuns[i].Conclusion,
		})
	}
	return summaries
}

// Merge merges a PR with the given strategy.
func (c *Client) Merge(ctx context.Context, prNumber int, opts MergeOptions) (*MergeResponse, error) {
	if prNumber <= 0 {
		return nil, apierr.New(apierr.ErrorTypeValidation, fmt.Sprintf("invalid PR number %d", prNumber))
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = "squash"
	}

	body := map[string]any{"merge_method": strategy}
	if opts.ExpectedSHA != "" {
		body["sha"] = opts.ExpectedSHA
	}
	if opts.CommitTitle != "" {
		body["commit_title"] = opts.CommitTitle
	}
	if opts.CommitMessage != "" {
		body["commit_message"] = opts.CommitMessage
	}

	path := fmt.Sprintf("/repos/%s/pulls/%d/merge", c.RepoPath(), prNumber)

	var resp MergeResponse
	if err := c.doWithRetry(ctx, "merge", http.MethodPut, path, body, &resp); err != nil {
		return nil, err
	}

	c.logger.Info("Merged PR #%d via %s (%s)", prNumber, strategy, resp.SHA)
	return &resp, nil
}

// ClosePullRequest closes a PR without merging.
func (c *Client) ClosePullRequest(ctx context.Context, prNumber int) error {
	if prNumber <= 0 {
		return apierr.New(apierr.ErrorTypeValidation, fmt.Sprintf("invalid PR number %d", prNumber))
	}

	path := fmt.Sprintf("/repos/%s/issues/%d", c.RepoPath(), prNumber)
	body := map[string]string{"state": "closed"}

	if err := c.doWithRetry(ctx, "close_pull_request", http.MethodPatch, path, body, nil); err != nil {
		return err
	}

	c.logger.Info("Closed PR #%d", prNumber)
	return nil
}
