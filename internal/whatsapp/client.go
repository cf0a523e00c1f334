package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"salonbot/internal/config"
	"salonbot/internal/worker"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Client talks to the Cloud API /messages endpoint. Sends are paced by a
// token-bucket limiter and retried with backoff; 4xx responses are permanent.
type Client struct {
	cfg        config.WhatsAppConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      worker.RetryPolicy
	breaker    *worker.Breaker
	logger     zerolog.Logger
	baseURL    string
}

func NewClient(cfg config.WhatsAppConfig, logger zerolog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(cfg.SendRPS), cfg.SendBurst),
		retry: worker.RetryPolicy{
			MaxRetries:    3,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2,
			Jitter:        0.2,
		},
		breaker: &worker.Breaker{Threshold: 5, Cooldown: 30 * time.Second},
		logger:  logger,
		baseURL: fmt.Sprintf("%s/%s/%s", cfg.APIBaseURL, cfg.APIVersion, cfg.PhoneNumberID),
	}
}

func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	req := &SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &SendText{Body: body},
	}
	return c.send(ctx, req)
}

func (c *Client) SendInteractive(ctx context.Context, to string, payload *Interactive) (string, error) {
	req := &SendMessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive:      payload,
	}
	return c.send(ctx, req)
}

func (c *Client) send(ctx context.Context, message *SendMessageRequest) (string, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	var messageID string
	err = c.breaker.Call(ctx, func(ctx context.Context) error {
		return worker.Do(ctx, c.retry, func(ctx context.Context) error {
			if err := c.limiter.Wait(ctx); err != nil {
				return worker.Permanent(err)
			}
			id, err := c.post(ctx, data)
			if err != nil {
				return err
			}
			messageID = id
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	return messageID, nil
}

func (c *Client) post(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return "", worker.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("graph api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.apiError(resp)
	}

	var sendResp SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(sendResp.Messages) == 0 {
		return "", fmt.Errorf("graph api response has no message id")
	}
	return sendResp.Messages[0].ID, nil
}

func (c *Client) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errResp ErrorResponse
	code := 0
	if json.Unmarshal(body, &errResp) == nil {
		code = errResp.Error.Code
	}

	err := fmt.Errorf("graph api status %d (code %d): %s", resp.StatusCode, code, errResp.Error.Message)

	// 429 и 5xx стоит повторить, остальное — нет
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		c.logger.Warn().Int("status", resp.StatusCode).Int("code", code).Msg("graph api transient failure")
		return err
	}
	return worker.Permanent(err)
}
