// Package api implements the deal API port: fetching a fresh deal
// snapshot and preparing (never submitting) a finalize action, against
// the ACTIONS_BASEURL HTTP service. Every call is bounded by a timeout
// per spec's 5-7s external-call budget, and every call passes through an
// adaptive rate-limit guard so a throttled upstream degrades to backoff
// instead of a retry storm.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dealtimer/escrow-engine/core"
	"github.com/dealtimer/escrow-engine/ratelimit"
)

const defaultTimeout = 7 * time.Second

// Client implements core.Snapshotter and core.Finalizer against a deal
// API service reachable at BaseURL.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Timeout time.Duration
	Limiter *ratelimit.AdaptivePolicy
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		HTTP:    &http.Client{},
		Timeout: defaultTimeout,
	}
}

type snapshotResponse struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	DeliveryBy   *int64 `json:"deliveryBy"`
	DisputeUntil *int64 `json:"disputeUntil"`
}

func (c *Client) GetDealSnapshot(ctx context.Context, dealID string) (core.DealSnapshot, error) {
	dealID = strings.TrimSpace(dealID)
	if dealID == "" {
		return core.DealSnapshot{}, core.ValidationError("dealID", "deal id is required")
	}
	if c.BaseURL == "" {
		return core.DealSnapshot{}, core.DependencyError("api: ACTIONS_BASEURL is not configured")
	}

	bucket := ratelimit.Bucket{Host: c.BaseURL, Name: "get-deal-snapshot"}
	if err := c.guardBefore(ctx, bucket); err != nil {
		return core.DealSnapshot{}, err
	}

	url := fmt.Sprintf("%s/deals/%s", c.BaseURL, dealID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return core.DealSnapshot{}, err
	}

	resp, err := c.do(req)
	if err != nil {
		return core.DealSnapshot{}, err
	}
	defer resp.Body.Close()
	c.guardAfter(ctx, bucket, resp)

	if resp.StatusCode == http.StatusNotFound {
		return core.DealSnapshot{}, fmt.Errorf("api: deal %q not found", dealID)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return core.DealSnapshot{}, fmt.Errorf("api: get snapshot returned status %d", resp.StatusCode)
	}

	var body snapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.DealSnapshot{}, fmt.Errorf("api: malformed snapshot response: %w", err)
	}

	snapshot := core.DealSnapshot{
		ID:           body.ID,
		State:        core.DealState(strings.ToUpper(body.State)),
		DeliveryBy:   body.DeliveryBy,
		DisputeUntil: body.DisputeUntil,
	}
	if err := snapshot.Validate(); err != nil {
		return core.DealSnapshot{}, fmt.Errorf("api: %w", err)
	}
	return snapshot, nil
}

type finalizeRequest struct {
	Action string `json:"action"`
}

type finalizeResponse struct {
	ApprovalURL string `json:"approvalUrl"`
	BlinkURL    string `json:"blinkUrl"`
}

func (c *Client) PrepareFinalize(ctx context.Context, dealID string, action core.SuggestedAction) (core.FinalizeResult, error) {
	dealID = strings.TrimSpace(dealID)
	if dealID == "" {
		return core.FinalizeResult{}, core.ValidationError("dealID", "deal id is required")
	}
	if !action.Valid() || action == core.SuggestedReview {
		return core.FinalizeResult{}, fmt.Errorf("api: invalid finalize action %q", action)
	}
	if c.BaseURL == "" {
		return core.FinalizeResult{}, core.DependencyError("api: ACTIONS_BASEURL is not configured")
	}

	bucket := ratelimit.Bucket{Host: c.BaseURL, Name: "prepare-finalize"}
	if err := c.guardBefore(ctx, bucket); err != nil {
		return core.FinalizeResult{}, err
	}

	payload, err := json.Marshal(finalizeRequest{Action: string(action)})
	if err != nil {
		return core.FinalizeResult{}, err
	}
	url := fmt.Sprintf("%s/deals/%s/finalize", c.BaseURL, dealID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return core.FinalizeResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return core.FinalizeResult{}, err
	}
	defer resp.Body.Close()
	c.guardAfter(ctx, bucket, resp)

	if resp.StatusCode >= http.StatusBadRequest {
		return core.FinalizeResult{}, fmt.Errorf("api: prepare finalize returned status %d", resp.StatusCode)
	}

	var body finalizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.FinalizeResult{}, fmt.Errorf("api: malformed finalize response: %w", err)
	}
	return core.FinalizeResult{ApprovalURL: body.ApprovalURL, BlinkURL: body.BlinkURL}, nil
}

// ListActiveDealIDs fetches the set of deals the periodic rescan safety
// net should revisit, implementing schedule.DealLister.
func (c *Client) ListActiveDealIDs(ctx context.Context) ([]string, error) {
	if c.BaseURL == "" {
		return nil, core.DependencyError("api: ACTIONS_BASEURL is not configured")
	}

	bucket := ratelimit.Bucket{Host: c.BaseURL, Name: "list-active-deals"}
	if err := c.guardBefore(ctx, bucket); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/deals?state=active", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	c.guardAfter(ctx, bucket, resp)

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("api: list active deals returned status %d", resp.StatusCode)
	}

	var body struct {
		DealIDs []string `json:"dealIds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("api: malformed active deals response: %w", err)
	}
	return body.DealIDs, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	client := c.HTTP
	if client == nil {
		client = &http.Client{}
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()
	return client.Do(req.WithContext(ctx))
}

func (c *Client) guardBefore(ctx context.Context, bucket ratelimit.Bucket) error {
	if c.Limiter == nil {
		return nil
	}
	if err := c.Limiter.BeforeCall(ctx, bucket); err != nil {
		return err
	}
	return nil
}

func (c *Client) guardAfter(ctx context.Context, bucket ratelimit.Bucket, resp *http.Response) {
	if c.Limiter == nil {
		return
	}
	headers := make(map[string]string, len(resp.Header))
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}
	_ = c.Limiter.AfterCall(ctx, bucket, ratelimit.ResponseMeta{StatusCode: resp.StatusCode, Headers: headers})
}

var (
	_ core.Snapshotter = (*Client)(nil)
	_ core.Finalizer   = (*Client)(nil)
)
