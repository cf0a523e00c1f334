package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"salonbot/internal/config"
	"salonbot/internal/domain"
	"salonbot/internal/events"
	"salonbot/internal/messages"
	"salonbot/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	stored map[string]*models.BookingContext
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{stored: make(map[string]*models.BookingContext)}
}

func (f *fakeSessions) GetSession(ctx context.Context, customerID string) (*models.BookingContext, error) {
	session, ok := f.stored[customerID]
	if !ok {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessions) SaveSession(ctx context.Context, session *models.BookingContext) error {
	copied := *session
	f.stored[session.CustomerID] = &copied
	return nil
}

func (f *fakeSessions) ClearSession(ctx context.Context, customerID string) error {
	delete(f.stored, customerID)
	return nil
}

// fakeMarkers реализует SessionRepository только ради маркеров подтверждения
type fakeMarkers struct {
	confirmed map[string]bool
	failing   bool
}

func newFakeMarkers() *fakeMarkers {
	return &fakeMarkers{confirmed: make(map[string]bool)}
}

func (f *fakeMarkers) GetSession(ctx context.Context, customerID string) (*models.BookingContext, error) {
	return nil, nil
}
func (f *fakeMarkers) SaveSession(ctx context.Context, session *models.BookingContext) error {
	return nil
}
func (f *fakeMarkers) ClearSession(ctx context.Context, customerID string) error { return nil }
func (f *fakeMarkers) MarkProcessed(ctx context.Context, messageID string, retention time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeMarkers) MarkConfirmed(ctx context.Context, bookingRef string, retention time.Duration) (bool, error) {
	if f.failing {
		return false, errors.New("store down")
	}
	if f.confirmed[bookingRef] {
		return false, nil
	}
	f.confirmed[bookingRef] = true
	return true, nil
}
func (f *fakeMarkers) CheckRateLimit(ctx context.Context, customerID string, limit int, window time.Duration) (bool, error) {
	return true, nil
}

type mockSlots struct{ mock.Mock }

func (m *mockSlots) FindAvailableSlots(ctx context.Context, salonID, serviceID int64, from, to time.Time, limit int) ([]models.Slot, error) {
	args := m.Called(ctx, salonID, serviceID, from, to, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Slot), args.Error(1)
}

type mockBookings struct{ mock.Mock }

func (m *mockBookings) CreateBooking(ctx context.Context, salonID int64, customerID string, intent models.BookingIntent, slot models.Slot) (*models.Booking, error) {
	args := m.Called(ctx, salonID, customerID, intent, slot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

type mockIntents struct{ mock.Mock }

func (m *mockIntents) ParseIntent(ctx context.Context, text, language string, salonID int64) (*models.BookingIntent, float64, error) {
	args := m.Called(ctx, text, language, salonID)
	if args.Get(0) == nil {
		return nil, args.Get(1).(float64), args.Error(2)
	}
	return args.Get(0).(*models.BookingIntent), args.Get(1).(float64), args.Error(2)
}

type mockAgent struct{ mock.Mock }

func (m *mockAgent) Reply(ctx context.Context, text, language, customerID string) (string, error) {
	args := m.Called(ctx, text, language, customerID)
	return args.String(0), args.Error(1)
}

type dialogueFixture struct {
	svc      *DialogueService
	sessions *fakeSessions
	markers  *fakeMarkers
	slots    *mockSlots
	bookings *mockBookings
	intents  *mockIntents
	agent    *mockAgent
}

func newDialogueFixture(t *testing.T) *dialogueFixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Bot.SalonID = 77
	cfg.Bot.DefaultLanguage = models.LanguageEN
	cfg.Bot.SlotQueryLimit = 10
	cfg.Bot.SearchWindowDays = 7
	cfg.Bot.DedupRetentionHours = 24
	cfg.Bot.FreshnessMinutes = 10
	cfg.NLU.MinConfidence = 0.7

	f := &dialogueFixture{
		sessions: newFakeSessions(),
		markers:  newFakeMarkers(),
		slots:    &mockSlots{},
		bookings: &mockBookings{},
		intents:  &mockIntents{},
		agent:    &mockAgent{},
	}
	logger := zerolog.Nop()
	f.svc = NewDialogueService(f.sessions, f.markers, f.slots, f.bookings, f.intents, f.agent, events.NewEventBus(), cfg, &logger)
	return f
}

func testSlots() []models.Slot {
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	return []models.Slot{
		{Date: day, Time: "10:00", StaffID: 1, StaffName: "Anna", Duration: 60, Price: 50},
		{Date: day, Time: "14:00", StaffID: 2, StaffName: "Maria", Duration: 60, Price: 50},
	}
}

func TestDialogue_BookingRequest(t *testing.T) {
	f := newDialogueFixture(t)
	ctx := context.Background()

	intent := &models.BookingIntent{ServiceID: 5, ServiceName: "Manicure"}
	f.intents.On("ParseIntent", mock.Anything, "book a manicure", "en", int64(77)).Return(intent, 0.95, nil)
	f.slots.On("FindAvailableSlots", mock.Anything, int64(77), int64(5), mock.Anything, mock.Anything, 10).Return(testSlots(), nil)

	resp := f.svc.HandleBookingRequest(ctx, "1555", "book a manicure", "en")

	require.NotNil(t, resp.Interactive)
	assert.Equal(t, "button", resp.Interactive.Type)

	session := f.sessions.stored["1555"]
	require.NotNil(t, session)
	assert.Equal(t, models.StateSlotsOffered, session.State)
	assert.Len(t, session.CandidateSlots, 2)
	assert.Equal(t, "en", session.Language)
}

func TestDialogue_BookingRequest_NoSlots(t *testing.T) {
	f := newDialogueFixture(t)

	intent := &models.BookingIntent{ServiceID: 5, ServiceName: "Manicure"}
	f.intents.On("ParseIntent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(intent, 0.9, nil)
	f.slots.On("FindAvailableSlots", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]models.Slot{}, nil)

	resp := f.svc.HandleBookingRequest(context.Background(), "1555", "manicure", "en")

	assert.Nil(t, resp.Interactive)
	assert.NotEmpty(t, resp.Text)
	assert.Nil(t, f.sessions.stored["1555"])
}

func TestDialogue_BookingRequest_ParserDown(t *testing.T) {
	f := newDialogueFixture(t)

	f.intents.On("ParseIntent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, 0.0, errors.New("timeout"))

	resp := f.svc.HandleBookingRequest(context.Background(), "1555", "manicure", "ru")

	assert.Nil(t, resp.Interactive)
	assert.NotEmpty(t, resp.Text)
	f.slots.AssertNotCalled(t, "FindAvailableSlots", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDialogue_BookingRequest_LowConfidence(t *testing.T) {
	f := newDialogueFixture(t)

	// Разбор ниже порога: безопаснее поговорить, чем предложить не ту услугу
	intent := &models.BookingIntent{ServiceID: 5, ServiceName: "Manicure"}
	f.intents.On("ParseIntent", mock.Anything, "maybe a manicure?", "en", int64(77)).Return(intent, 0.3, nil)
	f.agent.On("Reply", mock.Anything, "maybe a manicure?", "en", "1555").Return("Happy to help, what did you have in mind?", nil)

	resp := f.svc.HandleBookingRequest(context.Background(), "1555", "maybe a manicure?", "en")

	assert.Equal(t, "Happy to help, what did you have in mind?", resp.Text)
	assert.Nil(t, resp.Interactive)
	assert.Nil(t, f.sessions.stored["1555"], "неуверенный разбор не открывает сессию")
	f.slots.AssertNotCalled(t, "FindAvailableSlots", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.agent.AssertExpectations(t)
}

func TestDialogue_ClickWithoutSession(t *testing.T) {
	t.Run("SlotClick", func(t *testing.T) {
		f := newDialogueFixture(t)

		resp := f.svc.HandleButtonClick(context.Background(), "1555", "slot_29770200_1", "")

		assert.Equal(t, messages.StartOverText(models.LanguageEN), resp.Text)
		assert.Nil(t, resp.Interactive)
	})

	t.Run("ConfirmOfUnknownRef", func(t *testing.T) {
		f := newDialogueFixture(t)

		resp := f.svc.HandleButtonClick(context.Background(), "1555", "confirm_booking_ref-9", "")

		assert.Equal(t, messages.StartOverText(models.LanguageEN), resp.Text)
	})

	t.Run("ConfirmOfCompletedBooking", func(t *testing.T) {
		f := newDialogueFixture(t)
		f.markers.confirmed["ref-1"] = true

		resp := f.svc.HandleButtonClick(context.Background(), "1555", "confirm_booking_ref-1", "")

		assert.Equal(t, messages.AlreadyConfirmedText(models.LanguageEN), resp.Text)
		assert.Nil(t, resp.Interactive)
	})
}

func seedOffered(f *dialogueFixture, customerID string) *models.BookingContext {
	now := time.Now().UTC()
	session := &models.BookingContext{
		SessionID:         "ref-1",
		CustomerID:        customerID,
		SalonID:           77,
		Language:          "en",
		State:             models.StateSlotsOffered,
		OriginalIntent:    models.BookingIntent{ServiceID: 5, ServiceName: "Manicure"},
		CandidateSlots:    testSlots(),
		OfferedAt:         now,
		CreatedAt:         now,
		LastInteractionAt: now,
	}
	f.sessions.stored[customerID] = session
	return session
}

func TestDialogue_SlotPick(t *testing.T) {
	f := newDialogueFixture(t)
	seedOffered(f, "1555")

	resp := f.svc.HandleButtonClick(context.Background(), "1555", messages.EncodeSlotID(testSlots()[0]), "")

	require.NotNil(t, resp.Interactive)
	assert.Equal(t, "button", resp.Interactive.Type)
	require.Len(t, resp.Interactive.Action.Buttons, 2)
	assert.Contains(t, resp.Interactive.Action.Buttons[0].Reply.ID, "confirm_booking_")

	session := f.sessions.stored["1555"]
	assert.Equal(t, models.StateSlotSelected, session.State)
	require.NotNil(t, session.SelectedSlot)
	assert.Equal(t, "10:00", session.SelectedSlot.Time)
}

func TestDialogue_StaleSlotClick(t *testing.T) {
	f := newDialogueFixture(t)
	seedOffered(f, "1555")

	// Слот, которого нет среди кандидатов
	other := models.Slot{Date: time.Date(2026, 9, 5, 0, 0, 0, 0, time.UTC), Time: "09:00", StaffID: 9}
	resp := f.svc.HandleButtonClick(context.Background(), "1555", messages.EncodeSlotID(other), "")

	// Молчаливое восстановление: повторное предложение текущих кандидатов
	require.NotNil(t, resp.Interactive)
	assert.Empty(t, resp.Text)
	assert.Equal(t, models.StateSlotsOffered, f.sessions.stored["1555"].State)
	f.bookings.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func seedSelected(f *dialogueFixture, customerID string) *models.BookingContext {
	session := seedOffered(f, customerID)
	selected := session.CandidateSlots[0]
	session.SelectedSlot = &selected
	session.State = models.StateSlotSelected
	f.sessions.stored[customerID] = session
	return session
}

func TestDialogue_Confirm(t *testing.T) {
	f := newDialogueFixture(t)
	seedSelected(f, "1555")

	booking := &models.Booking{ID: "bk-1"}
	f.bookings.On("CreateBooking", mock.Anything, int64(77), "1555", mock.Anything, mock.Anything).Return(booking, nil).Once()

	resp := f.svc.HandleButtonClick(context.Background(), "1555", "confirm_booking_ref-1", "")

	assert.NotEmpty(t, resp.Text)
	assert.Nil(t, resp.Interactive)
	assert.Nil(t, f.sessions.stored["1555"], "сессия должна быть удалена после подтверждения")
	f.bookings.AssertExpectations(t)
}

func TestDialogue_DoubleConfirm(t *testing.T) {
	f := newDialogueFixture(t)
	seedSelected(f, "1555")

	booking := &models.Booking{ID: "bk-1"}
	f.bookings.On("CreateBooking", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(booking, nil).Once()

	first := f.svc.HandleButtonClick(context.Background(), "1555", "confirm_booking_ref-1", "")
	assert.NotEmpty(t, first.Text)

	// Вторая доставка того же клика: сессии уже нет, но маркер
	// подтверждения пережил её
	second := f.svc.HandleButtonClick(context.Background(), "1555", "confirm_booking_ref-1", "")
	assert.Equal(t, messages.AlreadyConfirmedText(models.LanguageEN), second.Text)
	assert.Nil(t, second.Interactive)

	// Ровно один вызов CRM
	f.bookings.AssertNumberOfCalls(t, "CreateBooking", 1)
}

func TestDialogue_DoubleConfirm_SessionSurvives(t *testing.T) {
	// Гонка: маркер уже занят, а сессия ещё жива
	f := newDialogueFixture(t)
	seedSelected(f, "1555")
	f.markers.confirmed["ref-1"] = true

	resp := f.svc.HandleButtonClick(context.Background(), "1555", "confirm_booking_ref-1", "")

	assert.NotEmpty(t, resp.Text)
	f.bookings.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDialogue_ConfirmConflict(t *testing.T) {
	f := newDialogueFixture(t)
	seedSelected(f, "1555")

	f.bookings.On("CreateBooking", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, domain.ErrSlotConflict).Once()

	resp := f.svc.HandleButtonClick(context.Background(), "1555", "confirm_booking_ref-1", "")

	assert.NotEmpty(t, resp.Text)
	require.NotNil(t, resp.Interactive, "после конфликта предлагаем оставшиеся слоты")

	session := f.sessions.stored["1555"]
	require.NotNil(t, session)
	assert.Equal(t, models.StateSlotsOffered, session.State)
	assert.Nil(t, session.SelectedSlot)
	assert.Len(t, session.CandidateSlots, 1, "занятый слот убран из кандидатов")
	assert.NotEqual(t, "ref-1", session.SessionID, "ссылка бронирования ротируется")
}

func TestDialogue_ChangeTime_FreshOffer(t *testing.T) {
	f := newDialogueFixture(t)
	seedSelected(f, "1555")

	resp := f.svc.HandleButtonClick(context.Background(), "1555", "change_time", "")

	require.NotNil(t, resp.Interactive)
	assert.Equal(t, models.StateSlotsOffered, f.sessions.stored["1555"].State)
	// Свежее предложение не дергает CRM заново
	f.slots.AssertNotCalled(t, "FindAvailableSlots", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDialogue_ChangeTime_StaleOfferRequeries(t *testing.T) {
	f := newDialogueFixture(t)
	session := seedSelected(f, "1555")
	session.OfferedAt = time.Now().UTC().Add(-time.Hour)
	f.sessions.stored["1555"] = session

	f.slots.On("FindAvailableSlots", mock.Anything, int64(77), int64(5), mock.Anything, mock.Anything, 10).Return(testSlots(), nil).Once()

	resp := f.svc.HandleButtonClick(context.Background(), "1555", "change_time", "")

	require.NotNil(t, resp.Interactive)
	f.slots.AssertExpectations(t)
}

func TestDialogue_LanguageOverrideWins(t *testing.T) {
	f := newDialogueFixture(t)
	seedOffered(f, "1555")

	resp := f.svc.HandleButtonClick(context.Background(), "1555", messages.EncodeSlotID(testSlots()[0]), "ru")

	require.NotNil(t, resp.Interactive)
	// Ответ на языке переопределения и сессия обновлена
	assert.Equal(t, "Подтвердить", resp.Interactive.Action.Buttons[0].Reply.Title)
	assert.Equal(t, "ru", f.sessions.stored["1555"].Language)
}

func TestDialogue_Conversation(t *testing.T) {
	f := newDialogueFixture(t)

	f.agent.On("Reply", mock.Anything, "what are your hours?", "en", "1555").Return("We are open 9-18.", nil)

	resp := f.svc.HandleConversation(context.Background(), "1555", "what are your hours?", "en")

	assert.Equal(t, "We are open 9-18.", resp.Text)
}

func TestDialogue_Conversation_AgentDown(t *testing.T) {
	f := newDialogueFixture(t)

	f.agent.On("Reply", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("timeout"))

	resp := f.svc.HandleConversation(context.Background(), "1555", "hello", "es")

	assert.NotEmpty(t, resp.Text)
}

func TestRankSlots(t *testing.T) {
	day := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	slots := []models.Slot{
		{Date: day, Time: "09:00", StaffID: 1, StaffName: "Anna"},
		{Date: day, Time: "14:00", StaffID: 2, StaffName: "Maria"},
		{Date: day, Time: "15:00", StaffID: 1, StaffName: "Anna"},
	}

	t.Run("exact time wins", func(t *testing.T) {
		intent := models.BookingIntent{Date: day, Time: "14:00"}
		ranked := rankSlots(slots, intent)
		assert.Equal(t, "14:00", ranked[0].Time)
	})

	t.Run("preferred staff boosted", func(t *testing.T) {
		intent := models.BookingIntent{Date: day, Time: "14:30", StaffPreference: "anna"}
		ranked := rankSlots(slots, intent)
		assert.Equal(t, "15:00", ranked[0].Time, "полчаса разницы компенсируются любимым мастером")
		assert.True(t, ranked[0].Preferred)
	})

	t.Run("no wish keeps order", func(t *testing.T) {
		ranked := rankSlots(slots, models.BookingIntent{})
		assert.Equal(t, "09:00", ranked[0].Time)
		assert.Equal(t, "15:00", ranked[2].Time)
	})
}

func TestDialogue_ConfirmMarkerStoreDown(t *testing.T) {
	// Сбой маркера не блокирует подтверждение
	f := newDialogueFixture(t)
	seedSelected(f, "1555")
	f.markers.failing = true

	booking := &models.Booking{ID: "bk-1"}
	f.bookings.On("CreateBooking", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(booking, nil).Once()

	resp := f.svc.HandleButtonClick(context.Background(), "1555", "confirm_booking_ref-1", "")

	assert.NotEmpty(t, resp.Text)
	f.bookings.AssertNumberOfCalls(t, "CreateBooking", 1)
}
