package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"salonbot/internal/config"
	"salonbot/internal/models"
	"salonbot/internal/worker"

	"github.com/rs/zerolog"
)

// Client wraps the language service: detection, intent extraction and
// free-form replies. Implements domain.LanguageDetector, domain.IntentParser
// and domain.ConversationAgent.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   worker.RetryPolicy
	logger  zerolog.Logger
}

func NewClient(cfg config.NLUConfig, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		retry: worker.RetryPolicy{
			MaxRetries:    1,
			InitialDelay:  200 * time.Millisecond,
			MaxDelay:      time.Second,
			BackoffFactor: 2,
		},
		logger: logger,
	}
}

type detectResponse struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

func (c *Client) Detect(ctx context.Context, text string) (string, float64, error) {
	var out detectResponse
	err := worker.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.postJSON(ctx, "/v1/detect", map[string]string{"text": text}, &out)
	})
	if err != nil {
		return "", 0, err
	}
	return out.Language, out.Confidence, nil
}

type intentResponse struct {
	ServiceID       int64   `json:"service_id"`
	ServiceName     string  `json:"service_name"`
	Date            string  `json:"date,omitempty"`
	Time            string  `json:"time,omitempty"`
	StaffPreference string  `json:"staff_preference,omitempty"`
	Confidence      float64 `json:"confidence"`
}

func (c *Client) ParseIntent(ctx context.Context, text, language string, salonID int64) (*models.BookingIntent, float64, error) {
	req := map[string]interface{}{
		"text":     text,
		"language": language,
		"salon_id": salonID,
	}

	var out intentResponse
	err := worker.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.postJSON(ctx, "/v1/intent", req, &out)
	})
	if err != nil {
		return nil, 0, err
	}

	intent := &models.BookingIntent{
		ServiceID:       out.ServiceID,
		ServiceName:     out.ServiceName,
		Time:            out.Time,
		StaffPreference: out.StaffPreference,
	}
	if out.Date != "" {
		if date, err := time.ParseInLocation("2006-01-02", out.Date, time.UTC); err == nil {
			intent.Date = date
		}
	}
	return intent, out.Confidence, nil
}

type replyResponse struct {
	Reply string `json:"reply"`
}

func (c *Client) Reply(ctx context.Context, text, language, customerID string) (string, error) {
	req := map[string]string{
		"text":        text,
		"language":    language,
		"customer_id": customerID,
	}

	var out replyResponse
	err := worker.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.postJSON(ctx, "/v1/reply", req, &out)
	})
	if err != nil {
		return "", err
	}
	return out.Reply, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return worker.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return worker.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("nlu status %d: %s", resp.StatusCode, string(raw))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return err
		}
		return worker.Permanent(err)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
