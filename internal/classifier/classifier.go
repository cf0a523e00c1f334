package classifier

import (
	"strings"

	"salonbot/internal/models"

	"github.com/rs/zerolog"
)

// Intent is the coarse routing decision for an inbound message.
type Intent string

const (
	IntentButtonClick    Intent = "button_click"
	IntentBookingRequest Intent = "booking_request"
	IntentConversation   Intent = "conversation"
)

// bookingKeywords are the built-in per-language booking markers. The service
// catalog extends them with service-specific vocabulary.
var bookingKeywords = map[string][]string{
	models.LanguageEN: {"book", "booking", "appointment", "schedule", "reserve", "haircut", "available"},
	models.LanguageRU: {"запис", "записаться", "забронир", "стрижк", "маникюр", "свободн", "окошк"},
	models.LanguageES: {"reservar", "reserva", "cita", "agendar", "turno", "corte"},
}

// Classifier assigns inbound messages one of the three routing intents.
// It is deterministic: structural check first, then keyword match.
type Classifier struct {
	keywords map[string][]string
	logger   zerolog.Logger
}

// New builds a classifier whose keyword sets are the built-ins merged with
// the per-language keywords of the service catalog.
func New(services []models.Service, logger zerolog.Logger) *Classifier {
	keywords := make(map[string][]string, len(bookingKeywords))
	for lang, words := range bookingKeywords {
		keywords[lang] = append([]string(nil), words...)
	}
	for _, svc := range services {
		for lang, words := range svc.Keywords {
			keywords[lang] = append(keywords[lang], words...)
		}
	}

	return &Classifier{keywords: keywords, logger: logger}
}

// Classify routes a message. Interactive transport type is always a button
// click regardless of any text; otherwise the text is matched against the
// keyword set for the resolved language, falling back to all languages when
// the language is unknown.
func (c *Classifier) Classify(kind, text, language string) Intent {
	if kind == models.MessageKindInteractive {
		return IntentButtonClick
	}

	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return IntentConversation
	}

	if words, ok := c.keywords[language]; ok {
		if matchAny(normalized, words) {
			return IntentBookingRequest
		}
		return IntentConversation
	}

	// Unknown language: любое совпадение по всем словарям
	for lang, words := range c.keywords {
		if matchAny(normalized, words) {
			c.logger.Debug().
				Str("resolved", language).
				Str("matched", lang).
				Msg("booking keywords matched outside resolved language")
			return IntentBookingRequest
		}
	}
	return IntentConversation
}

func matchAny(text string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(text, w) {
			return true
		}
	}
	return false
}
