package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Button is a single inline keyboard button carrying callback data.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// Keyboard is an inline keyboard attached to a message.
type Keyboard struct {
	Rows [][]Button
}

// Message is one outbound chat message.
type Message struct {
	ChatID   int64
	Text     string
	ThreadID *int64
	Keyboard *Keyboard
}

// Deliverer is the transport boundary the Dispatcher sends through.
type Deliverer interface {
	Deliver(ctx context.Context, msg Message) error
}

// TelegramClient is a minimal Bot API client covering the calls the daemon
// needs: sendMessage and getMe.
type TelegramClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewTelegramClient creates a client for the given bot token.
func NewTelegramClient(token string) *TelegramClient {
	return &TelegramClient{
		baseURL: "https://api.telegram.org/bot" + token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewTelegramClientAt creates a client against a custom API root; used by
// tests with an httptest server.
func NewTelegramClientAt(baseURL string) *TelegramClient {
	return &TelegramClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type inlineKeyboardMarkup struct {
	InlineKeyboard [][]Button `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID                int64                 `json:"chat_id"`
	Text                  string                `json:"text"`
	ParseMode             string                `json:"parse_mode"`
	MessageThreadID       *int64                `json:"message_thread_id,omitempty"`
	ReplyMarkup           *inlineKeyboardMarkup `json:"reply_markup,omitempty"`
	DisableWebPagePreview bool                  `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Result      json.RawMessage `json:"result"`
}

// Deliver sends one HTML-formatted message. A non-2xx platform response is
// returned as an error with the platform's description.
func (c *TelegramClient) Deliver(ctx context.Context, msg Message) error {
	req := sendMessageRequest{
		ChatID:                msg.ChatID,
		Text:                  msg.Text,
		ParseMode:             "HTML",
		MessageThreadID:       msg.ThreadID,
		DisableWebPagePreview: true,
	}
	if msg.Keyboard != nil && len(msg.Keyboard.Rows) > 0 {
		req.ReplyMarkup = &inlineKeyboardMarkup{InlineKeyboard: msg.Keyboard.Rows}
	}

	var resp apiResponse
	if err := c.post(ctx, "/sendMessage", req, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("sendMessage rejected (%d): %s", resp.ErrorCode, resp.Description)
	}
	return nil
}

// GetMe verifies the bot token and returns the bot's username.
func (c *TelegramClient) GetMe(ctx context.Context) (string, error) {
	var resp apiResponse
	if err := c.post(ctx, "/getMe", struct{}{}, &resp); err != nil {
		return "", err
	}
	if !resp.OK {
		return "", fmt.Errorf("getMe rejected (%d): %s", resp.ErrorCode, resp.Description)
	}

	var me struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(resp.Result, &me); err != nil {
		return "", fmt.Errorf("unmarshaling getMe result: %w", err)
	}
	return me.Username, nil
}

func (c *TelegramClient) post(ctx context.Context, path string, body, result interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data),
	)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshaling response from %s: %w", path, err)
	}
	return nil
}
