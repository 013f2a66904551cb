package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"competition-engine/logger"
	"competition-engine/models"
	"competition-engine/utils"

	"go.uber.org/zap"
)

// PayoutStore persists payout confirmations and settles the matching prizes.
type PayoutStore interface {
	UpsertPayoutConfirmations(ctx context.Context, confirmations []models.PayoutConfirmation) error
	ApplyPayoutConfirmations(ctx context.Context) (int, error)
}

// PayoutSyncClient pulls confirmed prize payouts from the payout service.
type PayoutSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Store      PayoutStore
}

func NewPayoutSyncClient(baseURL, token string, st PayoutStore) *PayoutSyncClient {
	return &PayoutSyncClient{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: utils.HTTPClient,
		Store:      st,
	}
}

// GetConfirmedPayouts returns the payouts confirmed since the given time.
func (c *PayoutSyncClient) GetConfirmedPayouts(ctx context.Context, since time.Time) ([]models.PayoutConfirmation, error) {
	u, err := url.Parse(c.BaseURL + "/api/v1/payouts/confirmed")
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call payout service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("payout service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Payouts []models.PayoutConfirmation `json:"payouts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode payout service response: %w", err)
	}
	return response.Payouts, nil
}

// SyncOnce fetches confirmations since the cursor, stores them and applies
// every unapplied confirmation. It returns the cursor for the next call,
// which only advances when the batch was stored.
func (c *PayoutSyncClient) SyncOnce(ctx context.Context, since, now time.Time) (time.Time, error) {
	payouts, err := c.GetConfirmedPayouts(ctx, since)
	if err != nil {
		return since, err
	}
	if len(payouts) > 0 {
		if err := c.Store.UpsertPayoutConfirmations(ctx, payouts); err != nil {
			return since, fmt.Errorf("failed to store %d payout confirmation(s): %w", len(payouts), err)
		}
	}

	applied, err := c.Store.ApplyPayoutConfirmations(ctx)
	if err != nil {
		return now, fmt.Errorf("failed to apply payout confirmations: %w", err)
	}
	if len(payouts) > 0 || applied > 0 {
		logger.Info("[PAYOUT_SYNC] synced payouts",
			zap.Int("received", len(payouts)),
			zap.Int("applied", applied))
	}
	return now, nil
}

// PollPayouts runs SyncOnce every pollInterval until ctx is done.
func PollPayouts(ctx context.Context, client *PayoutSyncClient, pollInterval time.Duration) {
	logger.Info("[PAYOUT_SYNC] polling started", zap.Duration("interval", pollInterval))
	cursor := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[PAYOUT_SYNC] polling stopped")
			return
		case <-ticker.C:
			next, err := client.SyncOnce(ctx, cursor, time.Now().UTC())
			if err != nil {
				logger.Error("[PAYOUT_SYNC] sync failed",
					zap.Time("since", cursor),
					zap.Error(err))
			}
			cursor = next
		}
	}
}
