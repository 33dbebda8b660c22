// Package transport предоставляет клиент внешнего чат-моста, доставляющего
// сообщения пользователям.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/clickerbot-system/internal/bot"
)

// BridgeClient инкапсулирует HTTP-взаимодействие с чат-мостом.
type BridgeClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewBridgeClient создаёт клиент чат-моста по указанному адресу.
func NewBridgeClient(baseURL string) *BridgeClient {
	return &BridgeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type sendRequest struct {
	UserID  int64       `json:"user_id"`
	Message bot.Message `json:"message"`
}

type sendResponse struct {
	DeliveryID string `json:"delivery_id"`
}

// Send передаёт сообщение чат-мосту и возвращает идентификатор доставки.
func (c *BridgeClient) Send(ctx context.Context, userID int64, msg bot.Message) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("bridge client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(sendRequest{UserID: userID, Message: msg})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/api/send", base)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return result.DeliveryID, nil
}
