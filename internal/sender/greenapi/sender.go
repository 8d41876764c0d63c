// Package greenapi sends WhatsApp messages through the Green API gateway.
package greenapi

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

// Sender posts messages to a Green API instance.
type Sender struct {
	client     *http.Client
	baseURL    string
	instanceID string
	token      string
}

// New constructs a Sender.
func New(baseURL, instanceID, token string, timeout time.Duration) *Sender {
	return &Sender{
		client:     &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		instanceID: instanceID,
		token:      token,
	}
}

// Name identifies the channel.
func (s *Sender) Name() string { return "green_api" }

type sendRequest struct {
	ChatID  string `json:"chatId"`
	Message string `json:"message"`
}

// Send delivers one text message. The recipient is a bare phone number; the
// Green API chat id form is derived here.
func (s *Sender) Send(ctx context.Context, to, message string) error {
	body, err := json.Marshal(sendRequest{ChatID: ChatID(to), Message: message})
	if err != nil {
		return fmt.Errorf("encoding green api request: %w", err)
	}
	url := fmt.Sprintf("%s/waInstance%s/sendMessage/%s", s.baseURL, s.instanceID, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building green api request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling green api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("green api returned %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

// ChatID converts a phone number to the Green API chat id form: digits only
// with the "@c.us" suffix.
func ChatID(number string) string {
	var digits strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String() + "@c.us"
}
