package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/nordlys/erasure/models"
)

// GDPRProvider talks to the platform's user-data erasure API. Authentication
// is a short-lived bearer token obtained from a login endpoint and cached
// until expiry.
type GDPRProvider struct {
	clientID     string
	clientSecret string
	baseURL      string
	httpClient   *http.Client
	accessToken  string
	tokenExpiry  time.Time
	tokenMu      sync.RWMutex
}

func CreateGDPRProvider(baseURL, clientID, clientSecret string) *GDPRProvider {
	return &GDPRProvider{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

type gdprAuthResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

type gdprErasureRequest struct {
	SubjectID string `json:"subject_id"`
}

type gdprErasureResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

func (p *GDPRProvider) authenticate(ctx context.Context) error {
	p.tokenMu.RLock()
	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		p.tokenMu.RUnlock()
		return nil
	}
	p.tokenMu.RUnlock()

	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/auth/token", nil)
	if err != nil {
		return fmt.Errorf("failed to create auth request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-Id", p.clientID)
	req.Header.Set("X-Client-Secret", p.clientSecret)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("auth failed (status %d): %s", resp.StatusCode, string(body))
	}

	var authResp gdprAuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return fmt.Errorf("failed to decode auth response: %w", err)
	}

	p.accessToken = authResp.Token
	// renew one minute early so in-flight calls never race an expired token
	p.tokenExpiry = time.Now().Add(time.Duration(authResp.ExpiresIn)*time.Second - time.Minute)

	return nil
}

func (p *GDPRProvider) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	if err := p.authenticate(ctx); err != nil {
		return nil, err
	}

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

	p.tokenMu.RLock()
	req.Header.Set("Authorization", "Bearer "+p.accessToken)
	p.tokenMu.RUnlock()
	req.Header.Set("Content-Type", "application/json")

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
		return nil, fmt.Errorf("gdpr API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func (p *GDPRProvider) CreateRequest(ctx context.Context, subject Subject) (string, RequestState, error) {
	respBody, err := p.doRequest(ctx, "POST", "/v1/privacy/erasures", &gdprErasureRequest{
		SubjectID: subject.ID,
	})
	if err != nil {
		return "", "", err
	}

	var erasure gdprErasureResponse
	if err := json.Unmarshal(respBody, &erasure); err != nil {
		return "", "", fmt.Errorf("failed to decode erasure response: %w", err)
	}
	if erasure.RequestID == "" {
		return "", "", fmt.Errorf("erasure response missing request_id")
	}

	return erasure.RequestID, p.mapStatus(erasure.Status), nil
}

func (p *GDPRProvider) Poll(ctx context.Context, handle string) (RequestState, error) {
	respBody, err := p.doRequest(ctx, "GET", "/v1/privacy/erasures/"+handle, nil)
	if err != nil {
		return "", err
	}

	var erasure gdprErasureResponse
	if err := json.Unmarshal(respBody, &erasure); err != nil {
		return "", fmt.Errorf("failed to decode erasure response: %w", err)
	}

	return p.mapStatus(erasure.Status), nil
}

// mapStatus folds every non-terminal provider status into pending; the next
// pass polls again.
func (p *GDPRProvider) mapStatus(status string) RequestState {
	switch status {
	case "DONE", "COMPLETED":
		return StateCompleted
	default:
		return StatePending
	}
}

func (p *GDPRProvider) Name() string {
	return models.ProviderGDPR
}
