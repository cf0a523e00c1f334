package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"salonbot/internal/config"
	"salonbot/internal/domain"
	"salonbot/internal/events"
	"salonbot/internal/messages"
	"salonbot/internal/metrics"
	"salonbot/internal/models"
	"salonbot/internal/whatsapp"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Response is what the dialogue decided to say. Text and Interactive may both
// be set; the sender delivers the text first.
type Response struct {
	Text        string
	Interactive *whatsapp.Interactive
}

// DialogueService runs the booking state machine. Every branch resolves to a
// Response; infrastructure failures degrade to a localized retry text and a
// log line, never to a dropped customer message.
type DialogueService struct {
	sessions domain.SessionManager
	markers  domain.SessionRepository
	slots    domain.SlotProvider
	bookings domain.BookingCreator
	intents  domain.IntentParser
	agent    domain.ConversationAgent
	eventBus domain.EventPublisher
	cfg      *config.Config
	logger   *zerolog.Logger

	// подменяется в тестах
	now func() time.Time
}

func NewDialogueService(
	sessions domain.SessionManager,
	markers domain.SessionRepository,
	slots domain.SlotProvider,
	bookings domain.BookingCreator,
	intents domain.IntentParser,
	agent domain.ConversationAgent,
	eventBus domain.EventPublisher,
	cfg *config.Config,
	logger *zerolog.Logger,
) *DialogueService {
	return &DialogueService{
		sessions: sessions,
		markers:  markers,
		slots:    slots,
		bookings: bookings,
		intents:  intents,
		agent:    agent,
		eventBus: eventBus,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleBookingRequest parses the wish, queries availability and opens a new
// session with the ranked candidates.
func (s *DialogueService) HandleBookingRequest(ctx context.Context, customerID, text, language string) *Response {
	intent, confidence, err := s.intents.ParseIntent(ctx, text, language, s.cfg.Bot.SalonID)
	if err != nil || intent == nil || intent.ServiceID == 0 {
		s.logger.Warn().Err(err).Str("customer_id", customerID).Msg("Не удалось распознать запрос на запись")
		return &Response{Text: messages.TryAgainText(language)}
	}
	if confidence > 0 && confidence < s.cfg.NLU.MinConfidence {
		// Неуверенный разбор не открывает сессию: пусть ответит агент бесед
		s.logger.Debug().Float64("confidence", confidence).Str("customer_id", customerID).Msg("Низкая уверенность распознавания, передаём агенту бесед")
		return s.HandleConversation(ctx, customerID, text, language)
	}

	from, to := s.searchWindow(intent)
	found, err := s.slots.FindAvailableSlots(ctx, s.cfg.Bot.SalonID, intent.ServiceID, from, to, s.cfg.Bot.SlotQueryLimit)
	if err != nil {
		s.logger.Error().Err(err).Str("customer_id", customerID).Msg("CRM недоступен при поиске слотов")
		return &Response{Text: messages.TryAgainText(language)}
	}
	if len(found) == 0 {
		return &Response{Text: messages.NoSlotsText(language)}
	}

	ranked := rankSlots(found, *intent)
	now := s.now().UTC()
	session := &models.BookingContext{
		SessionID:         uuid.NewString(),
		CustomerID:        customerID,
		SalonID:           s.cfg.Bot.SalonID,
		Language:          language,
		State:             models.StateSlotsOffered,
		OriginalIntent:    *intent,
		CandidateSlots:    ranked,
		OfferedAt:         now,
		CreatedAt:         now,
		LastInteractionAt: now,
	}

	payload, err := messages.BuildSlotOffer(ranked, language)
	if err != nil {
		s.logger.Error().Err(err).Int("slots", len(ranked)).Msg("Не удалось собрать предложение слотов")
		return &Response{Text: messages.TryAgainText(language)}
	}

	// Сбой записи не мешает ответить: клик по устаревшей сессии обработается
	// как stale
	if err := s.sessions.SaveSession(ctx, session); err == nil {
		s.publish(events.EventSlotsOffered, session, "")
	}

	return &Response{Interactive: payload}
}

// HandleButtonClick advances the state machine for an interactive reply.
// languageOverride carries a fresh per-message language signal and wins over
// the stored session language.
func (s *DialogueService) HandleButtonClick(ctx context.Context, customerID, buttonID, languageOverride string) *Response {
	session, _ := s.sessions.GetSession(ctx, customerID)
	language := s.resolveLanguage(session, languageOverride)

	if session == nil {
		return s.handleExpiredClick(ctx, customerID, buttonID, language)
	}
	if languageOverride != "" && session.Language != languageOverride {
		session.Language = languageOverride
	}

	ref, ok := messages.ParseRef(buttonID)
	if !ok {
		// Неизвестный идентификатор — клик по кнопке из прошлой жизни
		s.logger.Debug().Str("button_id", buttonID).Str("customer_id", customerID).Msg("Нераспознанный идентификатор кнопки")
		return s.reOffer(ctx, session, language)
	}

	switch r := ref.(type) {
	case messages.SlotRef:
		return s.handleSlotPick(ctx, session, r.Slot, language)
	case messages.ConfirmRef:
		return s.handleConfirm(ctx, session, r.BookingRef, language)
	case messages.ActionRef:
		if r.Action == messages.ActionChangeTime {
			return s.handleChangeTime(ctx, session, language)
		}
		return s.reOffer(ctx, session, language)
	default:
		return s.reOffer(ctx, session, language)
	}
}

// handleExpiredClick answers a click that outlived its session. The session
// is gone by TTL, but a repeated confirm must stay idempotent: the
// confirmed:<ref> marker outlives the session, so a second confirm click
// still resolves to the already-confirmed reply instead of a restart prompt.
func (s *DialogueService) handleExpiredClick(ctx context.Context, customerID, buttonID, language string) *Response {
	if ref, ok := messages.ParseRef(buttonID); ok {
		if confirm, isConfirm := ref.(messages.ConfirmRef); isConfirm {
			fresh, err := s.markers.MarkConfirmed(ctx, confirm.BookingRef, s.cfg.DedupRetention())
			if err != nil {
				s.logger.Warn().Err(err).Str("customer_id", customerID).Msg("Маркер подтверждения недоступен при клике без сессии")
			} else if !fresh {
				return &Response{Text: messages.AlreadyConfirmedText(language)}
			}
		}
	}

	payload := events.DialogueEventPayload{CustomerID: customerID, Language: language}
	if err := s.eventBus.PublishJSON(events.EventSessionExpired, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", events.EventSessionExpired).Msg("Не удалось опубликовать событие")
	}
	return &Response{Text: messages.StartOverText(language)}
}

// HandleConversation forwards non-booking chatter to the AI agent.
func (s *DialogueService) HandleConversation(ctx context.Context, customerID, text, language string) *Response {
	reply, err := s.agent.Reply(ctx, text, language, customerID)
	if err != nil || reply == "" {
		s.logger.Warn().Err(err).Str("customer_id", customerID).Msg("Агент бесед недоступен")
		return &Response{Text: messages.TryAgainText(language)}
	}
	return &Response{Text: reply}
}

func (s *DialogueService) handleSlotPick(ctx context.Context, session *models.BookingContext, picked models.Slot, language string) *Response {
	candidate := session.FindCandidate(picked.Key())
	if candidate == nil || session.State == models.StateConfirmed {
		// Слот из более раннего предложения
		return s.reOffer(ctx, session, language)
	}

	selected := *candidate
	session.SelectedSlot = &selected
	session.State = models.StateSlotSelected
	session.LastInteractionAt = s.now().UTC()
	_ = s.sessions.SaveSession(ctx, session)

	s.publish(events.EventSlotSelected, session, "")
	return &Response{Interactive: messages.BuildConfirmation(selected, session.OriginalIntent, session.SessionID, language)}
}

func (s *DialogueService) handleConfirm(ctx context.Context, session *models.BookingContext, bookingRef, language string) *Response {
	if session.State != models.StateSlotSelected || session.SelectedSlot == nil || bookingRef != session.SessionID {
		// Подтверждение относится к другому предложению
		return s.reOffer(ctx, session, language)
	}

	// Идемпотентность: два быстрых клика дают ровно один вызов CRM
	fresh, err := s.markers.MarkConfirmed(ctx, bookingRef, s.cfg.DedupRetention())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Маркер подтверждения недоступен, продолжаем без защиты от дублей")
	} else if !fresh {
		return &Response{Text: messages.AlreadyConfirmedText(language)}
	}

	slot := *session.SelectedSlot
	booking, err := s.bookings.CreateBooking(ctx, session.SalonID, session.CustomerID, session.OriginalIntent, slot)
	switch {
	case errors.Is(err, domain.ErrSlotConflict):
		return s.handleConflict(ctx, session, slot, language)
	case err != nil:
		metrics.IncBooking("error")
		s.logger.Error().Err(err).Str("customer_id", session.CustomerID).Msg("CRM не принял бронирование")
		// Новый ref, чтобы повторный клик не упёрся в уже занятый маркер
		session.SessionID = uuid.NewString()
		session.LastInteractionAt = s.now().UTC()
		_ = s.sessions.SaveSession(ctx, session)
		return &Response{
			Text:        messages.TryAgainText(language),
			Interactive: messages.BuildConfirmation(slot, session.OriginalIntent, session.SessionID, language),
		}
	}

	metrics.IncBooking("confirmed")
	s.publish(events.EventBookingConfirmed, session, booking.ID)
	_ = s.sessions.ClearSession(ctx, session.CustomerID)
	return &Response{Text: messages.ConfirmedText(language, slot.Date, slot.Time)}
}

func (s *DialogueService) handleConflict(ctx context.Context, session *models.BookingContext, taken models.Slot, language string) *Response {
	metrics.IncBooking("conflict")
	s.publish(events.EventBookingConflict, session, "")

	remaining := make([]models.Slot, 0, len(session.CandidateSlots))
	for _, slot := range session.CandidateSlots {
		if slot.Key() != taken.Key() {
			remaining = append(remaining, slot)
		}
	}

	if len(remaining) == 0 {
		_ = s.sessions.ClearSession(ctx, session.CustomerID)
		return &Response{Text: messages.SlotTakenText(language) + "\n" + messages.NoSlotsText(language)}
	}

	session.SessionID = uuid.NewString()
	session.CandidateSlots = remaining
	session.SelectedSlot = nil
	session.State = models.StateSlotsOffered
	session.LastInteractionAt = s.now().UTC()
	_ = s.sessions.SaveSession(ctx, session)

	payload, err := messages.BuildSlotOffer(remaining, language)
	if err != nil {
		return &Response{Text: messages.SlotTakenText(language)}
	}
	return &Response{Text: messages.SlotTakenText(language), Interactive: payload}
}

func (s *DialogueService) handleChangeTime(ctx context.Context, session *models.BookingContext, language string) *Response {
	freshness := time.Duration(s.cfg.Bot.FreshnessMinutes) * time.Minute
	if s.now().UTC().Sub(session.OfferedAt) > freshness {
		// Предложение устарело, спрашиваем CRM заново
		from, to := s.searchWindow(&session.OriginalIntent)
		found, err := s.slots.FindAvailableSlots(ctx, session.SalonID, session.OriginalIntent.ServiceID, from, to, s.cfg.Bot.SlotQueryLimit)
		if err != nil {
			s.logger.Error().Err(err).Str("customer_id", session.CustomerID).Msg("CRM недоступен при повторном поиске слотов")
			return &Response{Text: messages.TryAgainText(language)}
		}
		if len(found) == 0 {
			_ = s.sessions.ClearSession(ctx, session.CustomerID)
			return &Response{Text: messages.NoSlotsText(language)}
		}
		session.CandidateSlots = rankSlots(found, session.OriginalIntent)
		session.OfferedAt = s.now().UTC()
	}

	session.SelectedSlot = nil
	session.State = models.StateSlotsOffered
	session.LastInteractionAt = s.now().UTC()
	_ = s.sessions.SaveSession(ctx, session)

	payload, err := messages.BuildSlotOffer(session.CandidateSlots, language)
	if err != nil {
		return &Response{Text: messages.TryAgainText(language)}
	}
	s.publish(events.EventSlotsOffered, session, "")
	return &Response{Interactive: payload}
}

// reOffer re-sends the current candidates for clicks that no longer match the
// session. Silent recovery, no error text.
func (s *DialogueService) reOffer(ctx context.Context, session *models.BookingContext, language string) *Response {
	if len(session.CandidateSlots) == 0 || session.State == models.StateConfirmed {
		_ = s.sessions.ClearSession(ctx, session.CustomerID)
		return &Response{Text: messages.StartOverText(language)}
	}

	session.SelectedSlot = nil
	session.State = models.StateSlotsOffered
	session.LastInteractionAt = s.now().UTC()
	_ = s.sessions.SaveSession(ctx, session)

	payload, err := messages.BuildSlotOffer(session.CandidateSlots, language)
	if err != nil {
		return &Response{Text: messages.StartOverText(language)}
	}
	return &Response{Interactive: payload}
}

func (s *DialogueService) resolveLanguage(session *models.BookingContext, override string) string {
	if override != "" {
		return override
	}
	if session != nil && session.Language != "" {
		return session.Language
	}
	return s.cfg.Bot.DefaultLanguage
}

func (s *DialogueService) searchWindow(intent *models.BookingIntent) (time.Time, time.Time) {
	now := s.now().UTC()
	if !intent.Date.IsZero() && !intent.Date.Before(now.Truncate(24*time.Hour)) {
		return intent.Date, intent.Date.AddDate(0, 0, 1)
	}
	return now, now.AddDate(0, 0, s.cfg.Bot.SearchWindowDays)
}

func (s *DialogueService) publish(eventType string, session *models.BookingContext, bookingID string) {
	payload := events.DialogueEventPayload{
		CustomerID: session.CustomerID,
		SalonID:    session.SalonID,
		SessionID:  session.SessionID,
		BookingID:  bookingID,
		Language:   session.Language,
		Candidates: len(session.CandidateSlots),
	}
	payload.ServiceName = session.OriginalIntent.ServiceName
	if session.SelectedSlot != nil {
		payload.StaffName = session.SelectedSlot.StaffName
		payload.Date = session.SelectedSlot.Date
		payload.Time = session.SelectedSlot.Time
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("Не удалось опубликовать событие")
	}
}

// rankSlots orders candidates by closeness to the wish: exact time matches
// first, then by minute distance, with a boost for the preferred master.
func rankSlots(slots []models.Slot, intent models.BookingIntent) []models.Slot {
	ranked := append([]models.Slot(nil), slots...)

	for i := range ranked {
		if intent.StaffPreference != "" &&
			strings.Contains(strings.ToLower(ranked[i].StaffName), strings.ToLower(intent.StaffPreference)) {
			ranked[i].Preferred = true
		}
	}

	desired := desiredMinutes(intent)
	sort.SliceStable(ranked, func(i, j int) bool {
		return slotScore(ranked[i], intent, desired) < slotScore(ranked[j], intent, desired)
	})
	return ranked
}

// desiredMinutes returns the wished start in minutes since epoch, or -1 when
// the intent has no usable time.
func desiredMinutes(intent models.BookingIntent) int64 {
	if intent.Time == "" {
		return -1
	}
	date := intent.Date
	if date.IsZero() {
		return -2 // только время дня, сравниваем внутри суток
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date.Format("2006-01-02")+" "+intent.Time, time.UTC)
	if err != nil {
		return -1
	}
	return t.Unix() / 60
}

func slotScore(slot models.Slot, intent models.BookingIntent, desired int64) int64 {
	score := int64(0)
	switch desired {
	case -1:
		// Нет пожелания по времени: сохраняем порядок CRM
	case -2:
		score = absInt64(minutesOfDay(slot.Time) - minutesOfDay(intent.Time))
	default:
		score = absInt64(slot.StartUnixMinutes() - desired)
	}
	if slot.Preferred {
		score -= 60
	}
	return score
}

func minutesOfDay(clock string) int64 {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0
	}
	return int64(t.Hour()*60 + t.Minute())
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
