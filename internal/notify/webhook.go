package notify

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

	"go.uber.org/zap"
)

const defaultWebhookTimeout = 10 * time.Second

var errWebhookStatus = errors.New("webhook returned unexpected status")

// WebhookMessage is the chat webhook body.
type WebhookMessage struct {
	Content string  `json:"content"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Embed attaches rich content to a webhook message.
type Embed struct {
	Image *EmbedImage `json:"image,omitempty"`
}

// EmbedImage references an image by URL.
type EmbedImage struct {
	URL string `json:"url"`
}

// Sender delivers one message to the external channel.
type Sender interface {
	Send(ctx context.Context, message WebhookMessage) error
}

// WebhookConfig describes the outbound webhook.
type WebhookConfig struct {
	URL        string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// WebhookSender posts messages to a chat webhook. An empty URL disables delivery.
type WebhookSender struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewWebhookSender constructs a WebhookSender.
func NewWebhookSender(cfg WebhookConfig) *WebhookSender {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookSender{
		url:    strings.TrimSpace(cfg.URL),
		client: client,
		logger: logger,
	}
}

// Send posts the message as JSON.
func (s *WebhookSender) Send(ctx context.Context, message WebhookMessage) error {
	if s.url == "" {
		s.logger.Debug("webhook disabled, message skipped", zap.Int("content_length", len(message.Content)))
		return nil
	}
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode webhook message: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %d", errWebhookStatus, response.StatusCode)
	}
	return nil
}
