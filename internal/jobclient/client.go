// Package jobclient calls the external job worker service. The worker is a
// black box: one advance call processes at most one pending item of a batch
// and returns the updated per-item and aggregate status.
package jobclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jewelshot/engine/internal/domain"
	"github.com/jewelshot/engine/internal/infra"
)

// Options configures the advance client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     infra.Logger
}

// Client performs HTTP calls against the worker's advance endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     infra.Logger
}

// AdvanceProgress mirrors the worker's aggregate counters. Counts may be
// stale mid-transition; Done is the only completion signal.
type AdvanceProgress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Processing int `json:"processing"`
}

// AdvanceItem is one worker-reported item. The worker is the sole writer of
// status, result URL and error.
type AdvanceItem struct {
	ID              string `json:"id"`
	Filename        string `json:"filename"`
	Status          string `json:"status"`
	Progress        int    `json:"progress,omitempty"`
	ResultURL       string `json:"resultUrl,omitempty"`
	OriginalURL     string `json:"originalUrl,omitempty"`
	ThumbnailURL    string `json:"thumbnailUrl,omitempty"`
	Error           string `json:"error,omitempty"`
	CreditsRefunded int    `json:"creditsRefunded,omitempty"`
}

// AdvanceResponse is the worker's answer to one advance call.
type AdvanceResponse struct {
	Progress AdvanceProgress `json:"progress"`
	Items    []AdvanceItem   `json:"items"`
	Done     bool            `json:"done"`
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

// Advance asks the worker to advance processing of the batch by at most one
// item. Transport and 5xx failures come back as errors wrapping
// domain.ErrWorkerFailure; they carry no item-level meaning.
func (c *Client) Advance(ctx context.Context, batchID string) (*AdvanceResponse, error) {
	endpoint := fmt.Sprintf("%s/batch/%s/advance", c.baseURL, batchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("jobclient: build advance request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jobclient: advance %s: %w: %v", batchID, domain.ErrWorkerFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("jobclient: advance %s: %w: status=%d body=%s",
			batchID, domain.ErrWorkerFailure, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out AdvanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("jobclient: decode advance response for %s: %w", batchID, err)
	}
	return &out, nil
}

// ItemsAsDomain converts worker items into store-mergeable batch items.
func (r *AdvanceResponse) ItemsAsDomain() []domain.BatchItem {
	items := make([]domain.BatchItem, 0, len(r.Items))
	for _, in := range r.Items {
		items = append(items, domain.BatchItem{
			ID:              in.ID,
			Filename:        in.Filename,
			Status:          mapItemStatus(in.Status),
			Progress:        in.Progress,
			ResultURL:       in.ResultURL,
			OriginalURL:     in.OriginalURL,
			ThumbnailURL:    in.ThumbnailURL,
			Error:           in.Error,
			CreditsRefunded: in.CreditsRefunded,
		})
	}
	return items
}

// Counts converts the aggregate progress block.
func (r *AdvanceResponse) Counts() domain.Counts {
	return domain.Counts{
		Completed:  r.Progress.Completed,
		Failed:     r.Progress.Failed,
		Processing: r.Progress.Processing,
		Pending:    r.Progress.Total - r.Progress.Completed - r.Progress.Failed - r.Progress.Processing,
	}
}

func mapItemStatus(status string) domain.ItemStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "succeeded", "done":
		return domain.ItemCompleted
	case "failed", "error":
		return domain.ItemFailed
	case "processing", "running":
		return domain.ItemProcessing
	case "pending", "queued", "":
		return domain.ItemPending
	default:
		return domain.ItemPending
	}
}
