package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/barcrawlhq/crawlbot/internal/bot"
)

const maxWebhookBody = 1 << 20

// greenWebhook is the flat notification shape delivered by Green API.
type greenWebhook struct {
	TypeWebhook string `json:"typeWebhook"`
	IDMessage   string `json:"idMessage"`
	Timestamp   int64  `json:"timestamp"`
	SenderData  struct {
		ChatID string `json:"chatId"`
		Sender string `json:"sender"`
	} `json:"senderData"`
	MessageData struct {
		TypeMessage     string `json:"typeMessage"`
		TextMessageData struct {
			TextMessage string `json:"textMessage"`
		} `json:"textMessageData"`
	} `json:"messageData"`
}

// metaWebhook is the nested envelope delivered by the WhatsApp Cloud API.
type metaWebhook struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Type      string `json:"type"`
					Timestamp string `json:"timestamp"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// verifyWebhook answers the Cloud API subscription handshake.
func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == s.verifyToken {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	writeError(w, http.StatusForbidden, "verification failed")
}

// receiveWebhook accepts both provider payload shapes, normalizes each
// contained message and enqueues it for async processing. It always
// acknowledges quickly so the provider does not retry.
func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	messages := s.normalize(body)
	for _, msg := range messages {
		task, err := bot.NewTask(bot.TaskProcessMessage, bot.ProcessMessagePayload{Message: msg})
		if err != nil {
			s.logger.Error("build process task", zap.Error(err))
			continue
		}
		if err := s.exec.Submit(r.Context(), task); err != nil {
			s.logger.Error("enqueue inbound message", zap.String("from", msg.From), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "received", "accepted": len(messages)})
}

// normalize extracts text messages from either webhook shape. Payloads that
// match neither shape or carry no text yield an empty slice.
func (s *Server) normalize(body []byte) []bot.InboundMessage {
	var green greenWebhook
	if err := json.Unmarshal(body, &green); err == nil && green.TypeWebhook != "" {
		if green.TypeWebhook != "incomingMessageReceived" {
			return nil
		}
		text := green.MessageData.TextMessageData.TextMessage
		if text == "" {
			return nil
		}
		ts := s.clock.Now()
		if green.Timestamp > 0 {
			ts = time.Unix(green.Timestamp, 0)
		}
		return []bot.InboundMessage{{
			From:       strings.TrimSuffix(green.SenderData.ChatID, "@c.us"),
			Text:       text,
			Type:       bot.MessageTypeText,
			MessageID:  green.IDMessage,
			ReceivedAt: ts,
		}}
	}

	var meta metaWebhook
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil
	}
	var out []bot.InboundMessage
	for _, entry := range meta.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				if m.Type != "text" || m.Text.Body == "" {
					continue
				}
				ts := s.clock.Now()
				if unix, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil && unix > 0 {
					ts = time.Unix(unix, 0)
				}
				out = append(out, bot.InboundMessage{
					From:       m.From,
					Text:       m.Text.Body,
					Type:       bot.MessageTypeText,
					MessageID:  m.ID,
					ReceivedAt: ts,
				})
			}
		}
	}
	return out
}
