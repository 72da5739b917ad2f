// Package llm talks to the xAI chat-completions API. It knows nothing about
// documents or placeholders; callers hand it an ordered message list and get
// back the assistant's text plus a truncation flag.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrRequestFailed = errors.New("API request failed")
	ErrEmptyResponse = errors.New("API returned no choices")
)

const finishReasonLength = "length"

// Client handles communication with the chat-completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates an API client. The timeout bounds each individual
// request; a timed-out request is a failure, never silently retried here.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Chat sends the conversation and returns the assistant's reply. Transport
// and auth failures are returned as errors wrapping ErrRequestFailed.
func (c *Client) Chat(ctx context.Context, messages []Message, maxTokens int, temperature float64) (*Reply, error) {
	reqBody := ChatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	log.Debug().
		Str("model", c.model).
		Int("messages", len(messages)).
		Int("max_tokens", maxTokens).
		Float64("temperature", temperature).
		Msg("POST /chat/completions")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("API error")
		return nil, fmt.Errorf("%w: %d - %s", ErrRequestFailed, resp.StatusCode, string(body))
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrRequestFailed, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := chatResp.Choices[0]
	if choice.Message == nil {
		return nil, ErrEmptyResponse
	}

	truncated := choice.FinishReason == finishReasonLength
	log.Debug().
		Int("content_length", len(choice.Message.Content)).
		Str("finish_reason", choice.FinishReason).
		Bool("truncated", truncated).
		Msg("API response")

	return &Reply{
		Content:   choice.Message.Content,
		Truncated: truncated,
	}, nil
}
