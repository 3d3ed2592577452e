package domain

import "time"

// BatchState enumerates the lifecycle states of a submitted batch.
type BatchState string

const (
	BatchProcessing BatchState = "PROCESSING"
	BatchPaused     BatchState = "PAUSED"
	BatchCompleted  BatchState = "COMPLETED"
	BatchCancelled  BatchState = "CANCELLED"
)

// validTransitions defines the allowed batch state machine. Completed and
// Cancelled are absorbing.
var validTransitions = map[BatchState][]BatchState{
	BatchProcessing: {BatchPaused, BatchCompleted, BatchCancelled},
	BatchPaused:     {BatchProcessing, BatchCancelled},
	BatchCompleted:  {},
	BatchCancelled:  {},
}

// CanTransition reports whether moving from one batch state to another is
// permitted.
func CanTransition(from, to BatchState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state has no outgoing transitions.
func (s BatchState) Terminal() bool {
	return len(validTransitions[s]) == 0
}

// ItemStatus enumerates per-item processing states.
type ItemStatus string

const (
	ItemPending    ItemStatus = "PENDING"
	ItemProcessing ItemStatus = "PROCESSING"
	ItemCompleted  ItemStatus = "COMPLETED"
	ItemFailed     ItemStatus = "FAILED"
)

// Terminal reports whether an item has finished for good. A terminal item
// never reprocesses.
func (s ItemStatus) Terminal() bool {
	return s == ItemCompleted || s == ItemFailed
}

// BatchItem is one image within a batch, tracked independently to completion
// or failure. Items are owned exclusively by their batch.
type BatchItem struct {
	// ID is the server-assigned identity, empty until the worker first
	// reports the item. LocalID is the client-assigned merge key that
	// identifies the item before the server id is known.
	ID      string `json:"id,omitempty"`
	LocalID string `json:"local_id"`

	Filename   string `json:"filename"`
	OutputName string `json:"output_name,omitempty"`

	OriginalURL  string `json:"original_url,omitempty"`
	ResultURL    string `json:"result_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`

	Status ItemStatus `json:"status"`
	// Progress is a 0-100 percentage, meaningful only while Status is
	// PROCESSING.
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`

	// CreditsRefunded mirrors the ledger's per-item refund for failed
	// items. The engine displays it and never computes it.
	CreditsRefunded int `json:"credits_refunded,omitempty"`
}

// Counts holds the derived per-status item totals of a batch. They are
// always recomputed from the item list, never adjusted in place.
type Counts struct {
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Processing int `json:"processing"`
	Pending    int `json:"pending"`
}

// Total returns the number of items the counts cover.
func (c Counts) Total() int {
	return c.Completed + c.Failed + c.Processing + c.Pending
}

// RecountItems derives fresh aggregate counts from an item list. This is the
// only way counts are produced.
func RecountItems(items []BatchItem) Counts {
	var c Counts
	for _, item := range items {
		switch item.Status {
		case ItemCompleted:
			c.Completed++
		case ItemFailed:
			c.Failed++
		case ItemProcessing:
			c.Processing++
		default:
			c.Pending++
		}
	}
	return c
}

// BatchJob is the aggregate root for one submitted batch. Item order is the
// submission order and stays stable across merges.
type BatchJob struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AspectRatio string `json:"aspect_ratio"`
	PresetName  string `json:"preset_name,omitempty"`
	JewelryType string `json:"jewelry_type,omitempty"`
	Gender      string `json:"gender,omitempty"`

	NamingConfig *NamingConfig `json:"naming_config,omitempty"`

	State     BatchState `json:"state"`
	StartedAt time.Time  `json:"started_at"`
	PausedAt  *time.Time `json:"paused_at,omitempty"`

	// TimedOut flags a batch still undone when the polling ceiling
	// elapsed. It is informational and does not affect State.
	TimedOut bool `json:"timed_out,omitempty"`

	Items  []BatchItem `json:"items"`
	Counts Counts      `json:"counts"`
}

// Drivable reports whether the batch is eligible for further polling:
// actively processing with unresolved items remaining.
func (b *BatchJob) Drivable() bool {
	return b.State == BatchProcessing && b.Counts.Completed+b.Counts.Failed < len(b.Items)
}

// Recount refreshes the derived counts from the batch's items.
func (b *BatchJob) Recount() {
	b.Counts = RecountItems(b.Items)
}

// NamingConfig describes how output filenames are derived for the items of a
// batch. Field semantics live in the naming package.
type NamingConfig struct {
	Pattern     string `json:"pattern"`
	Prefix      string `json:"prefix,omitempty"`
	Suffix      string `json:"suffix,omitempty"`
	Separator   string `json:"separator,omitempty"`
	StartNumber int    `json:"start_number,omitempty"`
}
