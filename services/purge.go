package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SubjectPurger removes a subject's data from one in-house system. Purgers
// run only after all three external providers have completed, and their
// outcome drives the two purge-tracking flags on the ledger row.
type SubjectPurger interface {
	Purge(ctx context.Context, subjectID string) error
}

// WarehouseStore is the write surface the warehouse purge needs.
type WarehouseStore interface {
	PurgeSubject(ctx context.Context, subjectID string) error
}

// WarehousePurger deletes the subject's rows from the analytical store.
type WarehousePurger struct {
	store WarehouseStore
}

func CreateWarehousePurger(store WarehouseStore) *WarehousePurger {
	return &WarehousePurger{store: store}
}

func (p *WarehousePurger) Purge(ctx context.Context, subjectID string) error {
	return p.store.PurgeSubject(ctx, subjectID)
}

// LiveStatePurger wipes the subject's live game state through the game
// backend's admin API. The call is synchronous.
type LiveStatePurger struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func CreateLiveStatePurger(baseURL, token string) *LiveStatePurger {
	return &LiveStatePurger{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type liveStatePurgeRequest struct {
	UserID string `json:"user_id"`
}

func (p *LiveStatePurger) Purge(ctx context.Context, subjectID string) error {
	jsonBody, err := json.Marshal(&liveStatePurgeRequest{UserID: subjectID})
	if err != nil {
		return fmt.Errorf("failed to marshal purge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/admin/v1/users/purge", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create purge request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("purge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("game admin API error (status %d): %s", resp.StatusCode, string(body))
	}

	return nil
}
