package domain

import (
	"context"
	"errors"
	"time"

	"salonbot/internal/models"
	"salonbot/internal/whatsapp"
)

// SessionRepository is the keyed store for per-customer dialogue state.
// Entries expire on their own after the configured TTL; there is no sweep.
type SessionRepository interface {
	GetSession(ctx context.Context, customerID string) (*models.BookingContext, error)
	SaveSession(ctx context.Context, session *models.BookingContext) error
	ClearSession(ctx context.Context, customerID string) error
	// MarkProcessed returns false when the message id was already seen inside
	// the retention window.
	MarkProcessed(ctx context.Context, messageID string, retention time.Duration) (bool, error)
	// MarkConfirmed remembers a confirmed booking reference so a racing second
	// click resolves idempotently.
	MarkConfirmed(ctx context.Context, bookingRef string, retention time.Duration) (bool, error)
	CheckRateLimit(ctx context.Context, customerID string, limit int, window time.Duration) (bool, error)
}

// SessionManager is the service-level view of the session store with
// migration-on-read applied.
type SessionManager interface {
	GetSession(ctx context.Context, customerID string) (*models.BookingContext, error)
	SaveSession(ctx context.Context, session *models.BookingContext) error
	ClearSession(ctx context.Context, customerID string) error
}

// SlotProvider queries the CRM for bookable slots.
type SlotProvider interface {
	FindAvailableSlots(ctx context.Context, salonID, serviceID int64, from, to time.Time, limit int) ([]models.Slot, error)
}

// ErrSlotConflict is returned by BookingCreator when the slot was taken
// between the offer and the confirmation.
var ErrSlotConflict = errors.New("slot already taken")

// BookingCreator finalizes a selected slot in the CRM.
type BookingCreator interface {
	CreateBooking(ctx context.Context, salonID int64, customerID string, intent models.BookingIntent, slot models.Slot) (*models.Booking, error)
}

// LanguageDetector guesses the language of a free-text message.
type LanguageDetector interface {
	Detect(ctx context.Context, text string) (language string, confidence float64, err error)
}

// IntentParser extracts the structured booking wish from free text.
type IntentParser interface {
	ParseIntent(ctx context.Context, text, language string, salonID int64) (*models.BookingIntent, float64, error)
}

// ConversationAgent answers messages that are neither clicks nor booking
// requests. External AI collaborator.
type ConversationAgent interface {
	Reply(ctx context.Context, text, language, customerID string) (string, error)
}

// MessageSender delivers outbound messages to a phone-number identifier.
type MessageSender interface {
	SendText(ctx context.Context, to, body string) (messageID string, err error)
	SendInteractive(ctx context.Context, to string, payload *whatsapp.Interactive) (messageID string, err error)
}

// EventPublisher fans out booking lifecycle events in process.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// JournalWriter records processed inbound messages and delivery statuses.
type JournalWriter interface {
	RecordInbound(ctx context.Context, messageID, from, kind, outcome string) error
	RecordStatus(ctx context.Context, messageID, recipientID, status string, occurredAt time.Time) error
}
