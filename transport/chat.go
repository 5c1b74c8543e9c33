package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nordlys/erasure/models"
	"github.com/nordlys/erasure/utils"
)

// ChatClient implements MessageTransport against the workspace chat API.
// Markers are emoji reactions on the source message.
type ChatClient struct {
	baseURL    string
	botToken   string
	httpClient *http.Client
	retryCfg   *utils.RetryConfig
}

func CreateChatClient(baseURL, botToken string) *ChatClient {
	return &ChatClient{
		baseURL:    baseURL,
		botToken:   botToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryCfg:   utils.DefaultRetryConfig(),
	}
}

type chatMessage struct {
	Ts        string `json:"ts"`
	Text      string `json:"text"`
	Reactions []struct {
		Name string `json:"name"`
	} `json:"reactions"`
}

type chatHistoryResponse struct {
	OK               bool          `json:"ok"`
	Error            string        `json:"error"`
	Messages         []chatMessage `json:"messages"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

type chatReactionRequest struct {
	Channel   string `json:"channel"`
	Timestamp string `json:"timestamp"`
	Name      string `json:"name"`
}

type chatOKResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (c *ChatClient) ListMessages(ctx context.Context, channel string, from, to time.Time) ([]models.Message, error) {
	var all []models.Message
	cursor := ""

	for {
		params := url.Values{}
		params.Set("channel", channel)
		params.Set("oldest", formatChatTs(from))
		params.Set("latest", formatChatTs(to))
		params.Set("limit", "200")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		respBody, err := c.doRequest(ctx, "GET", "/api/conversations.history?"+params.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var page chatHistoryResponse
		if err := json.Unmarshal(respBody, &page); err != nil {
			return nil, fmt.Errorf("failed to decode history response: %w", err)
		}
		if !page.OK {
			return nil, fmt.Errorf("chat API error: %s", page.Error)
		}

		for _, raw := range page.Messages {
			msg := models.Message{
				Ref:    models.MessageRef{Channel: channel, Timestamp: raw.Ts},
				Text:   raw.Text,
				SentAt: parseChatTs(raw.Ts),
			}
			for _, reaction := range raw.Reactions {
				msg.Markers = append(msg.Markers, reaction.Name)
			}
			all = append(all, msg)
		}

		cursor = page.ResponseMetadata.NextCursor
		if cursor == "" {
			return all, nil
		}
	}
}

func (c *ChatClient) AddMarker(ctx context.Context, ref models.MessageRef, marker string) error {
	return c.reactionCall(ctx, "/api/reactions.add", ref, marker)
}

func (c *ChatClient) RemoveMarker(ctx context.Context, ref models.MessageRef, marker string) error {
	return c.reactionCall(ctx, "/api/reactions.remove", ref, marker)
}

func (c *ChatClient) reactionCall(ctx context.Context, path string, ref models.MessageRef, marker string) error {
	respBody, err := c.doRequest(ctx, "POST", path, &chatReactionRequest{
		Channel:   ref.Channel,
		Timestamp: ref.Timestamp,
		Name:      marker,
	})
	if err != nil {
		return err
	}

	var status chatOKResponse
	if err := json.Unmarshal(respBody, &status); err != nil {
		return fmt.Errorf("failed to decode reaction response: %w", err)
	}
	if !status.OK {
		// already_reacted / no_reaction mean the projection is already in the
		// state we wanted; not a failure
		if status.Error == "already_reacted" || status.Error == "no_reaction" {
			return nil
		}
		return fmt.Errorf("chat API error: %s", status.Error)
	}
	return nil
}

func (c *ChatClient) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var respBody []byte
	err := utils.Retry(ctx, c.retryCfg, func() error {
		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.botToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("chat API error (status %d): %s", resp.StatusCode, string(respBody))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return respBody, nil
}

func formatChatTs(t time.Time) string {
	return fmt.Sprintf("%d.000000", t.Unix())
}

func parseChatTs(ts string) time.Time {
	seconds, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(int64(seconds), 0).UTC()
}
