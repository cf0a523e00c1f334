package models

import (
	"strconv"
	"time"
)

// DialogueState identifies where a customer is inside the booking flow.
type DialogueState string

const (
	StateSlotsOffered DialogueState = "slots_offered"
	StateSlotSelected DialogueState = "slot_selected"
	StateConfirmed    DialogueState = "confirmed"
)

// BookingIntent is the parsed wish extracted from the first free-text message.
type BookingIntent struct {
	ServiceID       int64     `json:"service_id"`
	ServiceName     string    `json:"service_name"`
	Date            time.Time `json:"date,omitempty"`
	Time            string    `json:"time,omitempty"`
	StaffPreference string    `json:"staff_preference,omitempty"`
}

// Slot is a single bookable time+staff combination offered to the customer.
type Slot struct {
	Date      time.Time `json:"date"`
	Time      string    `json:"time"`
	StaffID   int64     `json:"staff_id"`
	StaffName string    `json:"staff_name"`
	Duration  int       `json:"duration_min"`
	Price     float64   `json:"price"`
	Preferred bool      `json:"preferred,omitempty"`
}

// Key returns the identity used to match a clicked slot against stored
// candidates: minute precision start plus staff id.
func (s Slot) Key() string {
	return s.Date.Format("2006-01-02") + "T" + s.Time + "/" + strconv.FormatInt(s.StaffID, 10)
}

// StartUnixMinutes collapses date+time into minutes since epoch for id encoding.
func (s Slot) StartUnixMinutes() int64 {
	t, err := time.ParseInLocation("2006-01-02 15:04", s.Date.Format("2006-01-02")+" "+s.Time, time.UTC)
	if err != nil {
		return s.Date.UTC().Unix() / 60
	}
	return t.Unix() / 60
}

// SlotFromUnixMinutes reverses StartUnixMinutes.
func SlotFromUnixMinutes(mins int64, staffID int64) Slot {
	t := time.Unix(mins*60, 0).UTC()
	return Slot{
		Date:    time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
		Time:    t.Format("15:04"),
		StaffID: staffID,
	}
}

// BookingContext is the per-customer dialogue state persisted between webhook
// deliveries. Keyed by the customer's phone number in the session store.
type BookingContext struct {
	SessionID         string        `json:"session_id"`
	CustomerID        string        `json:"customer_id"`
	SalonID           int64         `json:"salon_id"`
	Language          string        `json:"language,omitempty"`
	State             DialogueState `json:"state"`
	OriginalIntent    BookingIntent `json:"original_intent"`
	CandidateSlots    []Slot        `json:"candidate_slots,omitempty"`
	SelectedSlot      *Slot         `json:"selected_slot,omitempty"`
	OfferedAt         time.Time     `json:"offered_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	LastInteractionAt time.Time     `json:"last_interaction_at"`
}

// FindCandidate returns the stored candidate matching the slot identity, or
// nil when the click references slots from an older offer.
func (c *BookingContext) FindCandidate(key string) *Slot {
	for i := range c.CandidateSlots {
		if c.CandidateSlots[i].Key() == key {
			return &c.CandidateSlots[i]
		}
	}
	return nil
}
