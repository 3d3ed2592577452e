package store

import "github.com/jewelshot/engine/internal/domain"

// ItemKey identifies one item inside a batch. Either field may be empty;
// resolution prefers the server id when both sides carry one.
type ItemKey struct {
	ID      string
	LocalID string
}

// ResolveItem locates the index of the item addressed by key, or -1.
// Precedence: server id first, then the client-assigned local id, then the
// filename for items the worker reports before the server id has been
// adopted locally. First match wins.
func ResolveItem(items []domain.BatchItem, key ItemKey) int {
	if key.ID != "" {
		for i := range items {
			if items[i].ID == key.ID {
				return i
			}
		}
	}
	if key.LocalID != "" {
		for i := range items {
			if items[i].LocalID == key.LocalID {
				return i
			}
		}
	}
	return -1
}

// resolveIncoming matches a worker-reported item against local items. Worker
// responses carry no local id, so an item that has not yet adopted its
// server id is matched by filename.
func resolveIncoming(items []domain.BatchItem, incoming domain.BatchItem) int {
	if idx := ResolveItem(items, ItemKey{ID: incoming.ID, LocalID: incoming.LocalID}); idx >= 0 {
		return idx
	}
	if incoming.Filename == "" {
		return -1
	}
	for i := range items {
		if items[i].ID == "" && items[i].Filename == incoming.Filename {
			return i
		}
	}
	return -1
}

// mergeItem folds worker-authoritative fields of src into dst, last write
// wins by field. Terminal items keep their status and result untouched; a
// late or repeated response can never revive them.
func mergeItem(dst *domain.BatchItem, src domain.BatchItem) {
	if dst.ID == "" && src.ID != "" {
		dst.ID = src.ID
	}
	if src.OriginalURL != "" {
		dst.OriginalURL = src.OriginalURL
	}
	if src.ThumbnailURL != "" {
		dst.ThumbnailURL = src.ThumbnailURL
	}

	if dst.Status.Terminal() {
		return
	}

	if src.Status != "" {
		dst.Status = src.Status
	}
	if src.ResultURL != "" {
		dst.ResultURL = src.ResultURL
	}
	dst.Progress = src.Progress
	if dst.Status == domain.ItemCompleted {
		dst.Progress = 100
	}
	dst.Error = src.Error
	if src.CreditsRefunded != 0 {
		dst.CreditsRefunded = src.CreditsRefunded
	}
}
