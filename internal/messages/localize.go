package messages

import (
	"fmt"
	"strings"
	"time"

	"salonbot/internal/models"
)

// catalog holds every customer-visible string per language. Unknown languages
// fall back to English.
type catalog struct {
	chooseSlot       string
	listButton       string
	confirmPrompt    string
	confirmButton    string
	changeTimeButton string
	confirmedText    string
	alreadyConfirmed string
	startOver        string
	noSlots          string
	slotTaken        string
	tryAgainLater    string
	with             string
	duration         string
	price            string
	// clock12 renders times as 12h with meridiem instead of 24h.
	clock12  bool
	weekdays [7]string
	months   [12]string
}

var catalogs = map[string]catalog{
	models.LanguageEN: {
		chooseSlot:       "Here's what we have available. Pick a time that works for you:",
		listButton:       "View times",
		confirmPrompt:    "Please confirm your appointment:",
		confirmButton:    "Confirm",
		changeTimeButton: "Change time",
		confirmedText:    "You're booked! See you on %s at %s.",
		alreadyConfirmed: "This appointment is already confirmed. See you soon!",
		startOver:        "Looks like your session expired. Just tell me what you'd like to book and we'll start over.",
		noSlots:          "Sorry, nothing is free around that time. Try another day or time?",
		slotTaken:        "Oh no, that time was just taken. Here are the other options:",
		tryAgainLater:    "Something went wrong on our side. Please try again in a minute.",
		with:             "with",
		duration:         "%d min",
		price:            "%.0f",
		clock12:          true,
		weekdays:         [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"},
		months:           [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"},
	},
	models.LanguageRU: {
		chooseSlot:       "Вот свободные окошки. Выберите удобное время:",
		listButton:       "Показать время",
		confirmPrompt:    "Подтвердите запись:",
		confirmButton:    "Подтвердить",
		changeTimeButton: "Другое время",
		confirmedText:    "Вы записаны! Ждем вас %s в %s.",
		alreadyConfirmed: "Эта запись уже подтверждена. До встречи!",
		startOver:        "Похоже, сессия истекла. Напишите, на что хотите записаться, и начнем заново.",
		noSlots:          "К сожалению, на это время все занято. Попробуете другой день или время?",
		slotTaken:        "Увы, это время только что заняли. Вот другие варианты:",
		tryAgainLater:    "Что-то пошло не так. Пожалуйста, попробуйте еще раз через минуту.",
		with:             "к мастеру",
		duration:         "%d мин",
		price:            "%.0f",
		weekdays:         [7]string{"вс", "пн", "вт", "ср", "чт", "пт", "сб"},
		months:           [12]string{"янв", "фев", "мар", "апр", "мая", "июн", "июл", "авг", "сен", "окт", "ноя", "дек"},
	},
	models.LanguageES: {
		chooseSlot:       "Esto es lo que tenemos disponible. Elige un horario:",
		listButton:       "Ver horarios",
		confirmPrompt:    "Confirma tu cita:",
		confirmButton:    "Confirmar",
		changeTimeButton: "Cambiar hora",
		confirmedText:    "¡Cita reservada! Te esperamos el %s a las %s.",
		alreadyConfirmed: "Esta cita ya está confirmada. ¡Hasta pronto!",
		startOver:        "Parece que tu sesión expiró. Dime qué quieres reservar y empezamos de nuevo.",
		noSlots:          "Lo sentimos, no hay nada libre a esa hora. ¿Pruebas otro día u hora?",
		slotTaken:        "Ese horario se acaba de ocupar. Aquí tienes otras opciones:",
		tryAgainLater:    "Algo salió mal. Inténtalo de nuevo en un minuto.",
		with:             "con",
		duration:         "%d min",
		price:            "%.0f",
		weekdays:         [7]string{"dom", "lun", "mar", "mié", "jue", "vie", "sáb"},
		months:           [12]string{"ene", "feb", "mar", "abr", "may", "jun", "jul", "ago", "sep", "oct", "nov", "dic"},
	},
}

func forLanguage(language string) catalog {
	if c, ok := catalogs[language]; ok {
		return c
	}
	return catalogs[models.LanguageEN]
}

// PreferredMarker flags the customer's preferred staff member in labels.
const PreferredMarker = "⭐"

// StartOverText is the graceful restart prompt for expired sessions.
func StartOverText(language string) string { return forLanguage(language).startOver }

// NoSlotsText suggests trying another time when availability came back empty.
func NoSlotsText(language string) string { return forLanguage(language).noSlots }

// SlotTakenText precedes a re-offer after a booking conflict.
func SlotTakenText(language string) string { return forLanguage(language).slotTaken }

// AlreadyConfirmedText is the idempotent reply to a duplicate confirm click.
func AlreadyConfirmedText(language string) string { return forLanguage(language).alreadyConfirmed }

// TryAgainText is the generic downstream-failure reply.
func TryAgainText(language string) string { return forLanguage(language).tryAgainLater }

// ConfirmedText announces the booked appointment.
func ConfirmedText(language string, date time.Time, timeOfDay string) string {
	c := forLanguage(language)
	return fmt.Sprintf(c.confirmedText, formatDate(c, date), formatTime(c, timeOfDay))
}

// formatTime renders "15:04" input per language convention.
func formatTime(c catalog, timeOfDay string) string {
	if !c.clock12 {
		return timeOfDay
	}
	t, err := time.Parse("15:04", timeOfDay)
	if err != nil {
		return timeOfDay
	}
	return strings.TrimPrefix(t.Format("3:04 PM"), "0")
}

// formatDate renders a short localized date: weekday, day and month in the
// language's customary order.
func formatDate(c catalog, date time.Time) string {
	wd := c.weekdays[int(date.Weekday())]
	month := c.months[int(date.Month())-1]
	if c.clock12 {
		// English ordering: Mon, Jan 2
		return fmt.Sprintf("%s, %s %d", wd, month, date.Day())
	}
	return fmt.Sprintf("%s, %d %s", wd, date.Day(), month)
}

// FormatDayHeader is the localized section header for list payloads.
func FormatDayHeader(language string, date time.Time) string {
	return formatDate(forLanguage(language), date)
}

// FormatSlotTime is the localized clock rendering of a slot's start time.
func FormatSlotTime(language string, timeOfDay string) string {
	return formatTime(forLanguage(language), timeOfDay)
}
