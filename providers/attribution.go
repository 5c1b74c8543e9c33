package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nordlys/erasure/models"
)

// AttributionProvider drives the attribution platform's right-to-erasure API.
// Authentication is a static app-token / API-key pair sent on every call.
type AttributionProvider struct {
	appToken   string
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func CreateAttributionProvider(baseURL, appToken, apiKey string) *AttributionProvider {
	return &AttributionProvider{
		appToken:   appToken,
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type attrErasureRequest struct {
	UserID string `json:"user_id"`
}

type attrErasureResponse struct {
	ErasureID string `json:"erasure_id"`
	State     string `json:"state"`
}

func (p *AttributionProvider) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-App-Token", p.appToken)
	req.Header.Set("X-Api-Key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("attribution API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func (p *AttributionProvider) CreateRequest(ctx context.Context, subject Subject) (string, RequestState, error) {
	respBody, err := p.doRequest(ctx, "POST", "/v2/erasures", &attrErasureRequest{
		UserID: subject.ID,
	})
	if err != nil {
		return "", "", err
	}

	var erasure attrErasureResponse
	if err := json.Unmarshal(respBody, &erasure); err != nil {
		return "", "", fmt.Errorf("failed to decode erasure response: %w", err)
	}
	if erasure.ErasureID == "" {
		return "", "", fmt.Errorf("erasure response missing erasure_id")
	}

	return erasure.ErasureID, p.mapState(erasure.State), nil
}

func (p *AttributionProvider) Poll(ctx context.Context, handle string) (RequestState, error) {
	respBody, err := p.doRequest(ctx, "GET", "/v2/erasures/"+handle, nil)
	if err != nil {
		return "", err
	}

	var erasure attrErasureResponse
	if err := json.Unmarshal(respBody, &erasure); err != nil {
		return "", fmt.Errorf("failed to decode erasure response: %w", err)
	}

	return p.mapState(erasure.State), nil
}

func (p *AttributionProvider) mapState(state string) RequestState {
	switch state {
	case "forgotten", "done":
		return StateCompleted
	default:
		return StatePending
	}
}

func (p *AttributionProvider) Name() string {
	return models.ProviderAttribution
}
