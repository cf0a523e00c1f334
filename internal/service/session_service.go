package service

import (
	"context"
	"time"

	"salonbot/internal/domain"
	"salonbot/internal/models"

	"github.com/rs/zerolog"
)

// SessionService wraps the session store with logging and migration-on-read.
// Store failures degrade the dialogue instead of failing the webhook: a read
// error looks like an absent session, a write error is logged and swallowed.
type SessionService struct {
	repo            domain.SessionRepository
	defaultLanguage string
	logger          *zerolog.Logger
}

func NewSessionService(repo domain.SessionRepository, defaultLanguage string, logger *zerolog.Logger) *SessionService {
	if defaultLanguage == "" {
		defaultLanguage = models.LanguageEN
	}
	return &SessionService{
		repo:            repo,
		defaultLanguage: defaultLanguage,
		logger:          logger,
	}
}

func (s *SessionService) GetSession(ctx context.Context, customerID string) (*models.BookingContext, error) {
	session, err := s.repo.GetSession(ctx, customerID)
	if err != nil {
		// Деградируем до "нет сессии", а не роняем обработку вебхука
		s.logger.Error().Err(err).Str("customer_id", customerID).Msg("Не удалось прочитать сессию, продолжаем без неё")
		return nil, nil
	}
	if session == nil {
		return nil, nil
	}

	if s.migrate(session) {
		// Переписываем мигрированную сессию, но не блокируем чтение при сбое
		if err := s.repo.SaveSession(ctx, session); err != nil {
			s.logger.Warn().Err(err).Str("customer_id", customerID).Msg("Не удалось сохранить мигрированную сессию")
		}
	}

	return session, nil
}

// migrate fills fields older session payloads may lack. Returns true when the
// session was changed and should be written back.
func (s *SessionService) migrate(session *models.BookingContext) bool {
	changed := false
	if session.Language == "" {
		session.Language = s.defaultLanguage
		changed = true
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
		changed = true
	}
	if session.State == "" {
		if session.SelectedSlot != nil {
			session.State = models.StateSlotSelected
		} else {
			session.State = models.StateSlotsOffered
		}
		changed = true
	}
	return changed
}

func (s *SessionService) SaveSession(ctx context.Context, session *models.BookingContext) error {
	if err := s.repo.SaveSession(ctx, session); err != nil {
		s.logger.Error().Err(err).Str("customer_id", session.CustomerID).Msg("Не удалось сохранить сессию")
		return err
	}
	return nil
}

func (s *SessionService) ClearSession(ctx context.Context, customerID string) error {
	if err := s.repo.ClearSession(ctx, customerID); err != nil {
		s.logger.Error().Err(err).Str("customer_id", customerID).Msg("Не удалось удалить сессию")
		return err
	}
	return nil
}
