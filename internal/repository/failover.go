package repository

import (
	"context"
	"sync/atomic"
	"time"

	"salonbot/internal/domain"
	"salonbot/internal/models"

	"github.com/rs/zerolog"
)

// FailoverSessionRepository serves from the primary store and degrades to the
// in-memory fallback while the primary is down, retrying it once a minute.
type FailoverSessionRepository struct {
	primary   domain.SessionRepository
	fallback  domain.SessionRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverSessionRepository(primary, fallback domain.SessionRepository, logger *zerolog.Logger) *FailoverSessionRepository {
	return &FailoverSessionRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverSessionRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary session repository failed, falling back to memory")
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverSessionRepository) shouldRetryPrimary() bool {
	return time.Since(time.Unix(0, r.lastCheck.Load())) > time.Minute
}

func (r *FailoverSessionRepository) GetSession(ctx context.Context, customerID string) (*models.BookingContext, error) {
	if !r.isDown.Load() {
		session, err := r.primary.GetSession(ctx, customerID)
		if err == nil {
			return session, nil
		}
		r.markDown(err)
	}

	if r.isDown.Load() && r.shouldRetryPrimary() {
		session, err := r.primary.GetSession(ctx, customerID)
		if err == nil {
			r.isDown.Store(false)
			return session, nil
		}
		r.lastCheck.Store(time.Now().UnixNano())
	}

	return r.fallback.GetSession(ctx, customerID)
}

func (r *FailoverSessionRepository) SaveSession(ctx context.Context, session *models.BookingContext) error {
	if !r.isDown.Load() {
		err := r.primary.SaveSession(ctx, session)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.SaveSession(ctx, session)
}

func (r *FailoverSessionRepository) ClearSession(ctx context.Context, customerID string) error {
	if !r.isDown.Load() {
		err := r.primary.ClearSession(ctx, customerID)
		if err == nil {
			return nil
		}
		r.markDown(err)
	}

	return r.fallback.ClearSession(ctx, customerID)
}

func (r *FailoverSessionRepository) MarkProcessed(ctx context.Context, messageID string, retention time.Duration) (bool, error) {
	if !r.isDown.Load() {
		fresh, err := r.primary.MarkProcessed(ctx, messageID, retention)
		if err == nil {
			return fresh, nil
		}
		r.markDown(err)
	}

	return r.fallback.MarkProcessed(ctx, messageID, retention)
}

func (r *FailoverSessionRepository) MarkConfirmed(ctx context.Context, bookingRef string, retention time.Duration) (bool, error) {
	if !r.isDown.Load() {
		fresh, err := r.primary.MarkConfirmed(ctx, bookingRef, retention)
		if err == nil {
			return fresh, nil
		}
		r.markDown(err)
	}

	return r.fallback.MarkConfirmed(ctx, bookingRef, retention)
}

func (r *FailoverSessionRepository) CheckRateLimit(ctx context.Context, customerID string, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() {
		allowed, err := r.primary.CheckRateLimit(ctx, customerID, limit, window)
		if err == nil {
			return allowed, nil
		}
		r.markDown(err)
	}

	return r.fallback.CheckRateLimit(ctx, customerID, limit, window)
}
