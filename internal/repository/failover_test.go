package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"salonbot/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetSession(ctx context.Context, customerID string) (*models.BookingContext, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BookingContext), args.Error(1)
}

func (m *mockRepo) SaveSession(ctx context.Context, session *models.BookingContext) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *mockRepo) ClearSession(ctx context.Context, customerID string) error {
	args := m.Called(ctx, customerID)
	return args.Error(0)
}

func (m *mockRepo) MarkProcessed(ctx context.Context, messageID string, retention time.Duration) (bool, error) {
	args := m.Called(ctx, messageID, retention)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) MarkConfirmed(ctx context.Context, bookingRef string, retention time.Duration) (bool, error) {
	args := m.Called(ctx, bookingRef, retention)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) CheckRateLimit(ctx context.Context, customerID string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, customerID, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverSessionRepository(t *testing.T) {
	primary := new(mockRepo)
	fallback := new(mockRepo)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverSessionRepository(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		session := &models.BookingContext{CustomerID: "1"}
		primary.On("GetSession", ctx, "1").Return(session, nil).Once()

		got, err := repo.GetSession(ctx, "1")
		assert.NoError(t, err)
		assert.Equal(t, session, got)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		session := &models.BookingContext{CustomerID: "2"}
		primary.On("GetSession", ctx, "2").Return(nil, errors.New("fail")).Once()
		fallback.On("GetSession", ctx, "2").Return(session, nil).Once()

		got, err := repo.GetSession(ctx, "2")
		assert.NoError(t, err)
		assert.Equal(t, session, got)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())

		session := &models.BookingContext{CustomerID: "3"}
		primary.On("GetSession", ctx, "3").Return(session, nil).Once()

		got, err := repo.GetSession(ctx, "3")
		assert.NoError(t, err)
		assert.Equal(t, session, got)
		assert.False(t, repo.isDown.Load())
		primary.AssertExpectations(t)
	})

	t.Run("SaveFallsBack", func(t *testing.T) {
		repo.isDown.Store(false)
		session := &models.BookingContext{CustomerID: "4"}
		primary.On("SaveSession", ctx, session).Return(errors.New("down")).Once()
		fallback.On("SaveSession", ctx, session).Return(nil).Once()

		err := repo.SaveSession(ctx, session)
		assert.NoError(t, err)
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("MarkProcessedFallsBack", func(t *testing.T) {
		repo.isDown.Store(false)
		primary.On("MarkProcessed", ctx, "wamid.x", time.Hour).Return(false, errors.New("down")).Once()
		fallback.On("MarkProcessed", ctx, "wamid.x", time.Hour).Return(true, nil).Once()

		fresh, err := repo.MarkProcessed(ctx, "wamid.x", time.Hour)
		assert.NoError(t, err)
		assert.True(t, fresh)
	})
}
