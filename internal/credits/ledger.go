// Package credits reads balances from the credit ledger collaborator. The
// ledger is authoritative: the engine displays its numbers and never posts
// balance mutations or computes balances itself. Per-item refunds arrive on
// worker responses and are merely recorded by the store.
package credits

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jewelshot/engine/internal/infra"
)

// Balance is a ledger snapshot for one account.
type Balance struct {
	UserID    string    `json:"user_id"`
	Credits   int       `json:"credits"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ledger is a read-only HTTP client for the credit service.
type Ledger struct {
	baseURL    string
	httpClient *http.Client
	logger     infra.Logger
}

// NewLedger constructs the client. An empty base URL yields a disabled
// ledger whose reads report zero balances; the engine stays usable in
// environments without the collaborator.
func NewLedger(baseURL string, httpClient *http.Client, logger infra.Logger) *Ledger {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Ledger{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Enabled reports whether a ledger endpoint is configured.
func (l *Ledger) Enabled() bool {
	return l.baseURL != ""
}

// BalanceFor fetches the current balance for a user.
func (l *Ledger) BalanceFor(ctx context.Context, userID string) (Balance, error) {
	if !l.Enabled() {
		return Balance{UserID: userID}, nil
	}
	endpoint := fmt.Sprintf("%s/balance/%s", l.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Balance{}, fmt.Errorf("credits: build balance request: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return Balance{}, fmt.Errorf("credits: fetch balance: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Balance{}, fmt.Errorf("credits: fetch balance: status=%d", resp.StatusCode)
	}
	var out Balance
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Balance{}, fmt.Errorf("credits: decode balance: %w", err)
	}
	if out.UserID == "" {
		out.UserID = userID
	}
	return out, nil
}
