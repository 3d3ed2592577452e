package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jewelshot/engine/internal/domain"
	"github.com/jewelshot/engine/internal/lifecycle"
	"github.com/jewelshot/engine/internal/naming"
)

// SubmitBatch creates a batch from the uploaded item list and kicks the
// poller so the first advance happens without waiting a full interval.
func (a *App) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		req.ID = uuid.NewString()
	}
	if err := req.Validate(); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	items := make([]domain.BatchItem, 0, len(req.Items))
	for i, in := range req.Items {
		item := domain.BatchItem{
			LocalID:      uuid.NewString(),
			Filename:     in.Filename,
			OriginalURL:  in.OriginalURL,
			ThumbnailURL: in.ThumbnailURL,
			Status:       domain.ItemPending,
		}
		if req.NamingConfig != nil {
			item.OutputName = naming.Format(in.Filename, i, *req.NamingConfig)
		}
		items = append(items, item)
	}

	a.Store.AddBatch(domain.BatchJob{
		ID:           req.ID,
		Name:         req.Name,
		AspectRatio:  req.AspectRatio,
		PresetName:   req.PresetName,
		JewelryType:  req.JewelryType,
		Gender:       req.Gender,
		NamingConfig: req.NamingConfig,
		Items:        items,
	})
	_ = a.Store.SetCurrentBatch(req.ID)
	a.Poller.Kick()

	batch, _ := a.Store.GetBatch(req.ID)
	a.Logger.Info().
		Str("batch_id", batch.ID).
		Int("items", len(batch.Items)).
		Msg("handlers: batch submitted")
	a.json(w, http.StatusCreated, batch)
}

// ListBatches returns all batches in submission order.
func (a *App) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches := a.Store.List()
	current := ""
	if cur, ok := a.Store.CurrentBatch(); ok {
		current = cur.ID
	}
	a.json(w, http.StatusOK, map[string]any{
		"batches":    batches,
		"current_id": current,
		"active":     a.Store.ActiveCount(),
	})
}

// GetBatch returns one batch.
func (a *App) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batch, ok := a.Store.GetBatch(id)
	if !ok {
		a.domainError(w, domain.ErrNotFound)
		return
	}
	a.json(w, http.StatusOK, batch)
}

// PauseBatch suspends polling for the batch.
func (a *App) PauseBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := a.Lifecycle.Pause(chi.URLParam(r, "id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, batch)
}

// ResumeBatch returns a paused batch to processing and kicks the poller.
func (a *App) ResumeBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := a.Lifecycle.Resume(chi.URLParam(r, "id"))
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.Poller.Kick()
	a.json(w, http.StatusOK, batch)
}

// SelectBatch points the session at the batch.
func (a *App) SelectBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Store.SetCurrentBatch(id); err != nil {
		a.domainError(w, err)
		return
	}
	batch, _ := a.Store.GetBatch(id)
	a.json(w, http.StatusOK, batch)
}

type confirmRequest struct {
	ConfirmToken string `json:"confirm_token"`
}

// confirmToken pulls the token from the body or, for bodyless DELETEs, the
// query string.
func confirmToken(r *http.Request) string {
	if t := r.URL.Query().Get("confirm_token"); t != "" {
		return t
	}
	var req confirmRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return req.ConfirmToken
}

// CancelBatch is the two-step cancel. Without a token it answers 409 with a
// freshly minted one; with a valid token it cancels.
func (a *App) CancelBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := a.Store.GetBatch(id); !ok {
		a.domainError(w, domain.ErrNotFound)
		return
	}

	token := confirmToken(r)
	if token == "" {
		a.json(w, http.StatusConflict, map[string]string{
			"error":         "confirmation_required",
			"message":       "cancelling discards unprocessed items; confirm to proceed",
			"confirm_token": a.Gate.Request(lifecycle.ActionCancel, id),
		})
		return
	}
	if err := a.Gate.Confirm(token, lifecycle.ActionCancel, id); err != nil {
		a.domainError(w, err)
		return
	}

	batch, err := a.Lifecycle.Cancel(id)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, batch)
}

// ClearBatch is the two-step removal of a single batch.
func (a *App) ClearBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := a.Store.GetBatch(id); !ok {
		a.domainError(w, domain.ErrNotFound)
		return
	}

	token := confirmToken(r)
	if token == "" {
		a.json(w, http.StatusConflict, map[string]string{
			"error":         "confirmation_required",
			"message":       "clearing removes the batch and its results; confirm to proceed",
			"confirm_token": a.Gate.Request(lifecycle.ActionClear, id),
		})
		return
	}
	if err := a.Gate.Confirm(token, lifecycle.ActionClear, id); err != nil {
		a.domainError(w, err)
		return
	}

	if err := a.Lifecycle.Clear(id); err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"cleared": id})
}

// ClearCompletedBatches removes every terminal batch. Bulk clearing only
// touches finished work, so no confirmation token is required.
func (a *App) ClearCompletedBatches(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("scope") != "completed" {
		a.error(w, http.StatusBadRequest, "bad_request", "scope=completed is required")
		return
	}
	removed := a.Lifecycle.ClearCompleted()
	a.json(w, http.StatusOK, map[string]int{"removed": removed})
}
