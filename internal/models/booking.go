package models

import "time"

// Booking is the record returned by the CRM when a slot is confirmed.
type Booking struct {
	ID          string    `json:"id"`
	CustomerID  string    `json:"customer_id"`
	SalonID     int64     `json:"salon_id"`
	ServiceID   int64     `json:"service_id"`
	ServiceName string    `json:"service_name"`
	StaffID     int64     `json:"staff_id"`
	StaffName   string    `json:"staff_name"`
	Date        time.Time `json:"date"`
	Time        string    `json:"time"`
	Duration    int       `json:"duration_min"`
	Price       float64   `json:"price"`
	CreatedAt   time.Time `json:"created_at"`
}

// Service is a bookable salon service from the catalog, with the per-language
// keyword sets the classifier matches booking requests against.
type Service struct {
	ID       int64               `json:"id" yaml:"id"`
	Name     string              `json:"name" yaml:"name"`
	Duration int                 `json:"duration_min" yaml:"duration_min"`
	Keywords map[string][]string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}
