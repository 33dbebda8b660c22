// Package verify предоставляет клиент внешнего сервиса проверки скриншотов.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом распознавания скриншотов.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// Outcome описывает ответ сервиса проверки по одному скриншоту.
type Outcome struct {
	Verified       bool   `json:"verified"`
	InstallationID string `json:"installation_id,omitempty"`
	Version        string `json:"version,omitempty"`
}

// NewClient создаёт клиент сервиса проверки по указанному адресу.
func NewClient(baseURL string) *Client {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 3
	httpClient.HTTPClient.Timeout = 10 * time.Second
	httpClient.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Verify запрашивает проверку скриншота и возвращает признак успешной верификации.
func (c *Client) Verify(ctx context.Context, photoURL string) (bool, error) {
	outcome, err := c.Check(ctx, photoURL)
	if err != nil {
		return false, err
	}
	return outcome.Verified, nil
}

// Check запрашивает проверку скриншота и возвращает извлечённые поля.
func (c *Client) Check(ctx context.Context, photoURL string) (*Outcome, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("verify client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(map[string]string{"photo_url": photoURL})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/api/verify", base)

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result Outcome
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &result, nil
}
