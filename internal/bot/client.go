// Package bot calls the retrieval-answer endpoint that serves visitor
// messages while no admin is attached.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mchatly/livechat/internal/domain"
	"github.com/mchatly/livechat/internal/httpclient"
)

// FallbackReply is what the visitor sees when retrieval is unavailable.
// Errors never reach the widget as error codes, only as this bubble text.
const FallbackReply = "Someone will contact you shortly."

type Client struct {
	answerURL string
	http      *http.Client
}

func NewClient(answerURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = httpclient.TimeoutShort
	}
	return &Client{
		answerURL: answerURL,
		http:      httpclient.New(httpclient.WithTimeout(timeout)),
	}
}

type answerRequest struct {
	ChatbotID string `json:"chatbotId"`
	Message   string `json:"message"`
}

type answerResponse struct {
	Reply string `json:"reply"`
}

// Answer implements domain.Answerer. Failures surface as
// domain.ErrUpstream; the relay degrades to FallbackReply instead of
// propagating them to the visitor.
func (c *Client) Answer(ctx context.Context, chatbotID, visitorText string) (string, error) {
	if c.answerURL == "" {
		return "", fmt.Errorf("%w: answer endpoint not configured", domain.ErrUpstream)
	}

	body, err := json.Marshal(answerRequest{ChatbotID: chatbotID, Message: visitorText})
	if err != nil {
		return "", fmt.Errorf("encode answer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.answerURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build answer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: answer endpoint returned %d", domain.ErrUpstream, resp.StatusCode)
	}

	var parsed answerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode answer response: %v", domain.ErrUpstream, err)
	}
	if parsed.Reply == "" {
		return "", fmt.Errorf("%w: empty reply", domain.ErrUpstream)
	}
	return parsed.Reply, nil
}
