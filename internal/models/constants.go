package models

const (
	// LanguageEN is the fallback for sessions without a stored language.
	LanguageEN = "en"
	LanguageRU = "ru"
	LanguageES = "es"
)

// SupportedLanguage reports whether the bot has a localization for lang.
func SupportedLanguage(lang string) bool {
	switch lang {
	case LanguageEN, LanguageRU, LanguageES:
		return true
	}
	return false
}

const (
	// MessageKindText is an inbound free-text message.
	MessageKindText = "text"
	// MessageKindInteractive is a reply to a previously sent button or list.
	MessageKindInteractive = "interactive"
)

const (
	// SessionTTLMinutes — idle session lifetime in the store.
	SessionTTLMinutes = 30

	// DedupRetentionHours covers the platform's webhook retry window.
	DedupRetentionHours = 24

	// MaxCandidateSlots is both the availability query limit and the upper
	// bound of a list payload.
	MaxCandidateSlots = 10

	// ButtonThreshold — at most this many candidates render as reply buttons.
	ButtonThreshold = 3

	// CandidateFreshnessMinutes — older offers are re-queried on change-time.
	CandidateFreshnessMinutes = 10

	// RateLimitMessages inbound messages per sender per window.
	RateLimitMessages = 20
	// RateLimitWindowSeconds is the flood-control window.
	RateLimitWindowSeconds = 60
)

// WhatsApp interactive payload structural limits.
const (
	MaxButtonTitleLen    = 20
	MaxRowTitleLen       = 24
	MaxRowDescriptionLen = 72
	MaxBodyLen           = 1024
	MaxReplyIDLen        = 256
	MaxSectionTitleLen   = 24
)
