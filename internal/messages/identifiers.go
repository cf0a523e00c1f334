package messages

import (
	"strconv"
	"strings"

	"salonbot/internal/models"
)

// Button identifiers are structured tokens: the type prefix selects the
// branch, the rest encodes the context. Labels may be truncated for display;
// identifiers never are.
//
//	slot_<unixmin>_<staffid>
//	confirm_booking_<ref>
//	change_time
type Ref interface {
	isRef()
}

type SlotRef struct {
	Slot models.Slot
}

type ConfirmRef struct {
	BookingRef string
}

type ActionRef struct {
	Action string
}

const ActionChangeTime = "change_time"

func (SlotRef) isRef()    {}
func (ConfirmRef) isRef() {}
func (ActionRef) isRef()  {}

// EncodeSlotID encodes the slot identity. The result stays well under the
// platform's 256-byte id limit by construction.
func EncodeSlotID(slot models.Slot) string {
	return "slot_" + strconv.FormatInt(slot.StartUnixMinutes(), 10) + "_" + strconv.FormatInt(slot.StaffID, 10)
}

// EncodeConfirmID encodes the pending booking reference into the confirm
// button identifier.
func EncodeConfirmID(bookingRef string) string {
	return "confirm_booking_" + bookingRef
}

// ParseRef decodes a button identifier into its tagged form. The second
// return value is false for unrecognized or malformed identifiers; callers
// treat those as stale clicks, not errors.
func ParseRef(id string) (Ref, bool) {
	switch {
	case strings.HasPrefix(id, "slot_"):
		parts := strings.Split(strings.TrimPrefix(id, "slot_"), "_")
		if len(parts) != 2 {
			return nil, false
		}
		mins, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, false
		}
		staffID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, false
		}
		return SlotRef{Slot: models.SlotFromUnixMinutes(mins, staffID)}, true

	case strings.HasPrefix(id, "confirm_booking_"):
		ref := strings.TrimPrefix(id, "confirm_booking_")
		if ref == "" {
			return nil, false
		}
		return ConfirmRef{BookingRef: ref}, true

	case id == ActionChangeTime:
		return ActionRef{Action: ActionChangeTime}, true
	}

	return nil, false
}
