package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// MessagingBackend delivers an outbound text message and returns its provider id.
type MessagingBackend interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// SendWhatsAppTool sends a WhatsApp message, by default to the clinic's own number.
type SendWhatsAppTool struct {
	backend   MessagingBackend
	defaultTo string
}

func NewSendWhatsAppTool(backend MessagingBackend, defaultTo string) *SendWhatsAppTool {
	return &SendWhatsAppTool{backend: backend, defaultTo: defaultTo}
}

func (t *SendWhatsAppTool) Name() string {
	return ToolSendWhatsApp
}

func (t *SendWhatsAppTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolSendWhatsApp,
		Description: "Send a WhatsApp message. Without 'to' the message goes to the clinic's front desk.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"to":      {Type: "string", Description: "Recipient phone number in international format"},
				"message": {Type: "string", Description: "Message text"},
			},
			Required: []string{"message"},
		},
	}
}

func (t *SendWhatsAppTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	message, _ := args["message"].(string)
	to, _ := args["to"].(string)
	if strings.TrimSpace(to) == "" {
		to = t.defaultTo
	}
	if to == "" {
		return nil, fmt.Errorf("no recipient: 'to' not given and no default number configured")
	}
	id, err := t.backend.Send(ctx, to, message)
	if err != nil {
		return nil, fmt.Errorf("send whatsapp: %w", err)
	}
	return jsonResult(map[string]any{"success": true, "message_id": id, "to": to})
}

// WhatsAppCloud sends text messages through the WhatsApp Cloud API.
type WhatsAppCloud struct {
	httpClient    *http.Client
	baseURL       string
	token         string
	phoneNumberID string
}

// NewWhatsAppCloud creates a Cloud API client.
func NewWhatsAppCloud(baseURL, token, phoneNumberID string) *WhatsAppCloud {
	return &WhatsAppCloud{
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         token,
		phoneNumberID: phoneNumberID,
	}
}

type whatsAppText struct {
	Body string `json:"body"`
}

type whatsAppRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send posts a text message.
func (w *WhatsAppCloud) Send(ctx context.Context, to, body string) (string, error) {
	payload, err := json.Marshal(whatsAppRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             whatsAppText{Body: body},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}
	endpoint := fmt.Sprintf("%s/%s/messages", w.baseURL, w.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: request failed: %w", ErrTemporary, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("%w: status %d", ErrTemporary, resp.StatusCode)
	}
	var parsed whatsAppResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("API error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if resp.StatusCode >= 300 || len(parsed.Messages) == 0 {
		return "", fmt.Errorf("unexpected response status %d", resp.StatusCode)
	}
	return parsed.Messages[0].ID, nil
}

// OutboxMessenger records messages in memory. Used when no Cloud API
// credentials are configured.
type OutboxMessenger struct {
	mu   sync.Mutex
	sent []OutboxMessage
}

// OutboxMessage is one recorded message.
type OutboxMessage struct {
	ID   string
	To   string
	Body string
}

func NewOutboxMessenger() *OutboxMessenger {
	return &OutboxMessenger{}
}

func (o *OutboxMessenger) Send(_ context.Context, to, body string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := fmt.Sprintf("outbox-%d", len(o.sent)+1)
	o.sent = append(o.sent, OutboxMessage{ID: id, To: to, Body: body})
	return id, nil
}

// Sent returns a copy of recorded messages.
func (o *OutboxMessenger) Sent() []OutboxMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]OutboxMessage(nil), o.sent...)
}
