package domain

import (
	"errors"
	"fmt"
	"strings"
)

// SubmitItem is one uploaded image in a submission request. The original is
// already in object storage; the engine only carries its URL.
type SubmitItem struct {
	Filename     string `json:"filename"`
	OriginalURL  string `json:"original_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// SubmitRequest is the payload for creating a new batch.
type SubmitRequest struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	AspectRatio  string        `json:"aspect_ratio"`
	PresetName   string        `json:"preset_name,omitempty"`
	JewelryType  string        `json:"jewelry_type,omitempty"`
	Gender       string        `json:"gender,omitempty"`
	NamingConfig *NamingConfig `json:"naming_config,omitempty"`
	Items        []SubmitItem  `json:"items"`
}

// Validate checks the request for structural problems before it reaches the
// store.
func (r SubmitRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if len(r.Items) == 0 {
		return errors.New("items must contain at least one image")
	}
	for i, item := range r.Items {
		if strings.TrimSpace(item.Filename) == "" {
			return fmt.Errorf("items[%d].filename is required", i)
		}
	}
	return nil
}
