package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nordlys/erasure/models"
)

// MediationProvider submits batch device-level deletions to the ad-mediation
// platform. The API authenticates with a key in the query string and deletes
// synchronously: a successful create already means completed, and Poll only
// echoes that so the orchestrator can treat all providers alike.
type MediationProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func CreateMediationProvider(baseURL, apiKey string) *MediationProvider {
	return &MediationProvider{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type mediationDeleteRequest struct {
	DeviceIDs []string `json:"device_ids"`
}

type mediationDeleteResponse struct {
	BatchID      string `json:"batch_id"`
	DeletedCount int    `json:"deleted_count"`
}

func (p *MediationProvider) CreateRequest(ctx context.Context, subject Subject) (string, RequestState, error) {
	// A subject with no installs on record has nothing to delete here.
	if len(subject.DeviceIDs) == 0 {
		return "no-devices", StateCompleted, nil
	}

	jsonBody, err := json.Marshal(&mediationDeleteRequest{DeviceIDs: subject.DeviceIDs})
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/data_deletion?api_key=%s", p.baseURL, url.QueryEscape(p.apiKey))
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("mediation API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var deleted mediationDeleteResponse
	if err := json.Unmarshal(respBody, &deleted); err != nil {
		return "", "", fmt.Errorf("failed to decode deletion response: %w", err)
	}
	if deleted.BatchID == "" {
		return "", "", fmt.Errorf("deletion response missing batch_id")
	}

	return deleted.BatchID, StateCompleted, nil
}

// Poll is never reached for rows created by this adapter (create success is
// stored as completed), but keeps the provider set uniform.
func (p *MediationProvider) Poll(ctx context.Context, handle string) (RequestState, error) {
	return StateCompleted, nil
}

func (p *MediationProvider) Name() string {
	return models.ProviderMediation
}
