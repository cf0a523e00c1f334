package messages

import (
	"fmt"

	"salonbot/internal/models"
	"salonbot/internal/whatsapp"
)

// ErrTooManySlots is returned when the caller passes more candidates than a
// list payload can carry. Pagination happens upstream, never silently here.
var ErrTooManySlots = fmt.Errorf("more than %d candidate slots", models.MaxCandidateSlots)

// ErrNoSlots is returned for an empty candidate set; the caller sends the
// localized no-availability text instead.
var ErrNoSlots = fmt.Errorf("no candidate slots")

// BuildSlotOffer turns candidate slots into a protocol-valid interactive
// payload: reply buttons for 1-3 candidates, a day-grouped list for 4-10.
// The function is pure; all structural limits are enforced by truncation of
// labels, never of identifiers.
func BuildSlotOffer(slots []models.Slot, language string) (*whatsapp.Interactive, error) {
	switch {
	case len(slots) == 0:
		return nil, ErrNoSlots
	case len(slots) > models.MaxCandidateSlots:
		return nil, ErrTooManySlots
	case len(slots) <= models.ButtonThreshold:
		return buildButtons(slots, language), nil
	default:
		return buildList(slots, language), nil
	}
}

func buildButtons(slots []models.Slot, language string) *whatsapp.Interactive {
	c := forLanguage(language)

	buttons := make([]whatsapp.Button, 0, len(slots))
	for _, slot := range slots {
		buttons = append(buttons, whatsapp.Button{
			Type: "reply",
			Reply: whatsapp.ButtonReplyOption{
				ID:    EncodeSlotID(slot),
				Title: truncate(buttonLabel(slot, language), models.MaxButtonTitleLen),
			},
		})
	}

	return &whatsapp.Interactive{
		Type:   "button",
		Body:   whatsapp.InteractiveBody{Text: truncate(c.chooseSlot, models.MaxBodyLen)},
		Action: whatsapp.InteractiveAction{Buttons: buttons},
	}
}

func buildList(slots []models.Slot, language string) *whatsapp.Interactive {
	c := forLanguage(language)

	// Slots arrive ranked; grouping preserves first-seen day order.
	var sections []whatsapp.Section
	index := make(map[string]int)
	for _, slot := range slots {
		day := slot.Date.Format("2006-01-02")
		i, ok := index[day]
		if !ok {
			i = len(sections)
			index[day] = i
			sections = append(sections, whatsapp.Section{
				Title: truncate(FormatDayHeader(language, slot.Date), models.MaxSectionTitleLen),
			})
		}
		sections[i].Rows = append(sections[i].Rows, whatsapp.SectionRow{
			ID:          EncodeSlotID(slot),
			Title:       truncate(rowTitle(slot, language), models.MaxRowTitleLen),
			Description: truncate(rowDescription(slot, language), models.MaxRowDescriptionLen),
		})
	}

	return &whatsapp.Interactive{
		Type:   "list",
		Body:   whatsapp.InteractiveBody{Text: truncate(c.chooseSlot, models.MaxBodyLen)},
		Action: whatsapp.InteractiveAction{Button: truncate(c.listButton, models.MaxButtonTitleLen), Sections: sections},
	}
}

// BuildConfirmation renders the summary card with exactly two actions:
// confirm and change-time.
func BuildConfirmation(slot models.Slot, intent models.BookingIntent, bookingRef, language string) *whatsapp.Interactive {
	c := forLanguage(language)

	body := fmt.Sprintf("%s\n\n%s, %s\n%s %s\n%s · %s · %s",
		c.confirmPrompt,
		formatDate(c, slot.Date), formatTime(c, slot.Time),
		c.with, slot.StaffName,
		intent.ServiceName,
		fmt.Sprintf(c.duration, slot.Duration),
		fmt.Sprintf(c.price, slot.Price),
	)

	return &whatsapp.Interactive{
		Type: "button",
		Body: whatsapp.InteractiveBody{Text: truncate(body, models.MaxBodyLen)},
		Action: whatsapp.InteractiveAction{
			Buttons: []whatsapp.Button{
				{Type: "reply", Reply: whatsapp.ButtonReplyOption{
					ID:    EncodeConfirmID(bookingRef),
					Title: truncate(c.confirmButton, models.MaxButtonTitleLen),
				}},
				{Type: "reply", Reply: whatsapp.ButtonReplyOption{
					ID:    ActionChangeTime,
					Title: truncate(c.changeTimeButton, models.MaxButtonTitleLen),
				}},
			},
		},
	}
}

// buttonLabel keeps the time first so truncation drops the staff name, not
// the slot time.
func buttonLabel(slot models.Slot, language string) string {
	label := FormatSlotTime(language, slot.Time) + " " + slot.StaffName
	if slot.Preferred {
		label = PreferredMarker + " " + label
	}
	return label
}

func rowTitle(slot models.Slot, language string) string {
	title := FormatSlotTime(language, slot.Time)
	if slot.Preferred {
		title = PreferredMarker + " " + title
	}
	return title
}

func rowDescription(slot models.Slot, language string) string {
	c := forLanguage(language)
	return fmt.Sprintf("%s · %s · %s", slot.StaffName, fmt.Sprintf(c.duration, slot.Duration), fmt.Sprintf(c.price, slot.Price))
}

// truncate cuts to limit runes, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= 1 {
		return string(runes[:limit])
	}
	return string(runes[:limit-1]) + "…"
}
