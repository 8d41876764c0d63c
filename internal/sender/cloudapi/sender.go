// Package cloudapi sends WhatsApp messages through the Meta Business Cloud
// API. It serves as the fallback channel when Green API is unavailable.
package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sender posts messages to the Cloud API messages endpoint.
type Sender struct {
	client     *http.Client
	baseURL    string
	apiVersion string
	phoneID    string
	token      string
}

// New constructs a Sender.
func New(baseURL, apiVersion, phoneID, token string, timeout time.Duration) *Sender {
	return &Sender{
		client:     &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiVersion: apiVersion,
		phoneID:    phoneID,
		token:      token,
	}
}

// Name identifies the channel.
func (s *Sender) Name() string { return "cloud_api" }

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

// Send delivers one text message.
func (s *Sender) Send(ctx context.Context, to, message string) error {
	body, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: message},
	})
	if err != nil {
		return fmt.Errorf("encoding cloud api request: %w", err)
	}
	url := fmt.Sprintf("%s/%s/%s/messages", s.baseURL, s.apiVersion, s.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building cloud api request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling cloud api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("cloud api returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}
