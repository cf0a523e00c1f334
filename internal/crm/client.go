package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"salonbot/internal/config"
	"salonbot/internal/domain"
	"salonbot/internal/models"
	"salonbot/internal/worker"

	"github.com/rs/zerolog"
)

// Client talks to the salon CRM over JSON HTTP. It implements
// domain.SlotProvider and domain.BookingCreator.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   worker.RetryPolicy
	logger  zerolog.Logger
}

func NewClient(cfg config.CRMConfig, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		retry: worker.RetryPolicy{
			MaxRetries:    2,
			InitialDelay:  300 * time.Millisecond,
			MaxDelay:      3 * time.Second,
			BackoffFactor: 2,
			Jitter:        0.2,
		},
		logger: logger,
	}
}

type slotsResponse struct {
	Slots []slotDTO `json:"slots"`
}

type slotDTO struct {
	Date      string  `json:"date"`
	Time      string  `json:"time"`
	StaffID   int64   `json:"staff_id"`
	StaffName string  `json:"staff_name"`
	Duration  int     `json:"duration_min"`
	Price     float64 `json:"price"`
}

// FindAvailableSlots queries the CRM availability endpoint. The CRM may
// return more than limit entries; the result is clamped here.
func (c *Client) FindAvailableSlots(ctx context.Context, salonID, serviceID int64, from, to time.Time, limit int) ([]models.Slot, error) {
	q := url.Values{}
	q.Set("salon_id", strconv.FormatInt(salonID, 10))
	q.Set("service_id", strconv.FormatInt(serviceID, 10))
	q.Set("from", from.Format("2006-01-02"))
	q.Set("to", to.Format("2006-01-02"))
	q.Set("limit", strconv.Itoa(limit))

	var out slotsResponse
	err := worker.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.getJSON(ctx, "/api/v1/slots?"+q.Encode(), &out)
	})
	if err != nil {
		return nil, fmt.Errorf("crm slots query: %w", err)
	}

	slots := make([]models.Slot, 0, len(out.Slots))
	for _, dto := range out.Slots {
		date, err := time.ParseInLocation("2006-01-02", dto.Date, time.UTC)
		if err != nil {
			c.logger.Warn().Str("date", dto.Date).Msg("CRM вернул слот с нечитаемой датой, пропускаем")
			continue
		}
		slots = append(slots, models.Slot{
			Date:      date,
			Time:      dto.Time,
			StaffID:   dto.StaffID,
			StaffName: dto.StaffName,
			Duration:  dto.Duration,
			Price:     dto.Price,
		})
	}
	if limit > 0 && len(slots) > limit {
		slots = slots[:limit]
	}
	return slots, nil
}

type bookingRequest struct {
	SalonID    int64  `json:"salon_id"`
	CustomerID string `json:"customer_id"`
	ServiceID  int64  `json:"service_id"`
	StaffID    int64  `json:"staff_id"`
	Date       string `json:"date"`
	Time       string `json:"time"`
}

type bookingResponse struct {
	BookingID string `json:"booking_id"`
}

// CreateBooking finalizes the slot. A 409 from the CRM maps to
// domain.ErrSlotConflict and is never retried.
func (c *Client) CreateBooking(ctx context.Context, salonID int64, customerID string, intent models.BookingIntent, slot models.Slot) (*models.Booking, error) {
	req := bookingRequest{
		SalonID:    salonID,
		CustomerID: customerID,
		ServiceID:  intent.ServiceID,
		StaffID:    slot.StaffID,
		Date:       slot.Date.Format("2006-01-02"),
		Time:       slot.Time,
	}

	var out bookingResponse
	err := worker.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/v1/bookings", req, &out)
	})
	if err != nil {
		return nil, err
	}

	return &models.Booking{
		ID:          out.BookingID,
		SalonID:     salonID,
		CustomerID:  customerID,
		ServiceID:   intent.ServiceID,
		ServiceName: intent.ServiceName,
		StaffID:     slot.StaffID,
		StaffName:   slot.StaffName,
		Date:        slot.Date,
		Time:        slot.Time,
		Duration:    slot.Duration,
		Price:       slot.Price,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return worker.Permanent(err)
	}
	return c.do(req, out)
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
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		io.Copy(io.Discard, resp.Body)
		return worker.Permanent(domain.ErrSlotConflict)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("crm status %d: %s", resp.StatusCode, string(body))
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return worker.Permanent(fmt.Errorf("crm status %d: %s", resp.StatusCode, string(body)))
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
