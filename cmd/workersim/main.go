// Command workersim is a stand-in job worker for local development. It speaks
// the advance contract: each POST /batch/{id}/advance moves the batch's work
// forward one step and reports authoritative per-item status. Filenames
// containing "fail" are failed deliberately so the error path can be
// exercised end to end.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/jewelshot/engine/internal/infra"
)

type simItem struct {
	ID              string `json:"id"`
	Filename        string `json:"filename"`
	Status          string `json:"status"`
	Progress        int    `json:"progress"`
	ResultURL       string `json:"resultUrl,omitempty"`
	Error           string `json:"error,omitempty"`
	CreditsRefunded int    `json:"creditsRefunded,omitempty"`
}

type simBatch struct {
	items []*simItem
}

type simulator struct {
	mu      sync.Mutex
	batches map[string]*simBatch
	logger  infra.Logger
}

// registerReq seeds a batch so advances have items to work on. The engine
// never calls this endpoint; it exists for manual testing with curl.
type registerReq struct {
	Filenames []string `json:"filenames"`
}

func main() {
	logger := infra.NewLogger(getEnv("APP_ENV", "development"))
	sim := &simulator{batches: make(map[string]*simBatch), logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.Recoverer)
	r.Post("/batch/{id}/register", sim.register)
	r.Post("/batch/{id}/advance", sim.advance)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	port := getEnv("WORKERSIM_PORT", "9090")
	logger.Info().Msgf("workersim listening on :%s", port)
	if err := http.ListenAndServe(":"+port, r); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("workersim failed")
	}
}

func (s *simulator) register(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Filenames) == 0 {
		http.Error(w, `{"error":"bad_request"}`, http.StatusBadRequest)
		return
	}

	b := &simBatch{}
	for _, name := range req.Filenames {
		b.items = append(b.items, &simItem{
			ID:       uuid.NewString(),
			Filename: name,
			Status:   "pending",
		})
	}

	s.mu.Lock()
	s.batches[id] = b
	s.mu.Unlock()

	s.logger.Info().Str("batch_id", id).Int("items", len(b.items)).Msg("workersim: batch registered")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write([]byte(`{"registered":true}`))
}

// advance steps one item forward per call: a pending item starts processing,
// a processing item finishes. Unknown batches are synthesized on first
// contact with three placeholder items so the engine can be pointed at the
// simulator without registering anything.
func (s *simulator) advance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	b, ok := s.batches[id]
	if !ok {
		b = &simBatch{}
		for i := 0; i < 3; i++ {
			b.items = append(b.items, &simItem{
				ID:       uuid.NewString(),
				Filename: fmt.Sprintf("sample-%d.jpg", i+1),
				Status:   "pending",
			})
		}
		s.batches[id] = b
	}
	s.step(b)
	resp := s.snapshot(b)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *simulator) step(b *simBatch) {
	for _, item := range b.items {
		if item.Status == "processing" {
			if strings.Contains(strings.ToLower(item.Filename), "fail") {
				item.Status = "failed"
				item.Error = "simulated generation failure"
				item.CreditsRefunded = 1
				item.Progress = 0
			} else {
				item.Status = "completed"
				item.Progress = 100
				item.ResultURL = fmt.Sprintf("https://cdn.local/results/%s.jpg", item.ID)
			}
			return
		}
	}
	for _, item := range b.items {
		if item.Status == "pending" {
			item.Status = "processing"
			item.Progress = 50
			return
		}
	}
}

func (s *simulator) snapshot(b *simBatch) map[string]any {
	var completed, failed, processing int
	items := make([]simItem, 0, len(b.items))
	for _, item := range b.items {
		items = append(items, *item)
		switch item.Status {
		case "completed":
			completed++
		case "failed":
			failed++
		case "processing":
			processing++
		}
	}
	return map[string]any{
		"progress": map[string]int{
			"total":      len(b.items),
			"completed":  completed,
			"failed":     failed,
			"processing": processing,
		},
		"items": items,
		"done":  completed+failed == len(b.items),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
