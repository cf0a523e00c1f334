package repository

import (
	"context"
	"sync"
	"time"

	"salonbot/internal/models"
)

// MemorySessionRepository is the in-process fallback used when Redis is down.
// Entries carry their own deadline since sync.Map has no TTL.
type MemorySessionRepository struct {
	sessions   sync.Map
	seen       sync.Map
	rateLimits sync.Map
	ttl        time.Duration
}

func NewMemorySessionRepository(ttl time.Duration) *MemorySessionRepository {
	return &MemorySessionRepository{
		ttl: ttl,
	}
}

type sessionEntry struct {
	session   *models.BookingContext
	expiresAt time.Time
}

func (r *MemorySessionRepository) GetSession(ctx context.Context, customerID string) (*models.BookingContext, error) {
	val, ok := r.sessions.Load(customerID)
	if !ok {
		return nil, nil
	}
	entry := val.(*sessionEntry)
	if time.Now().After(entry.expiresAt) {
		r.sessions.Delete(customerID)
		return nil, nil
	}
	return entry.session, nil
}

func (r *MemorySessionRepository) SaveSession(ctx context.Context, session *models.BookingContext) error {
	r.sessions.Store(session.CustomerID, &sessionEntry{
		session:   session,
		expiresAt: time.Now().Add(r.ttl),
	})
	return nil
}

func (r *MemorySessionRepository) ClearSession(ctx context.Context, customerID string) error {
	r.sessions.Delete(customerID)
	return nil
}

type seenEntry struct {
	expiresAt time.Time
}

func (r *MemorySessionRepository) MarkProcessed(ctx context.Context, messageID string, retention time.Duration) (bool, error) {
	return r.claim(&r.seen, "msg:"+messageID, retention), nil
}

func (r *MemorySessionRepository) MarkConfirmed(ctx context.Context, bookingRef string, retention time.Duration) (bool, error) {
	return r.claim(&r.seen, "confirmed:"+bookingRef, retention), nil
}

func (r *MemorySessionRepository) claim(m *sync.Map, key string, retention time.Duration) bool {
	now := time.Now()
	entry := &seenEntry{expiresAt: now.Add(retention)}
	prev, loaded := m.LoadOrStore(key, entry)
	if !loaded {
		return true
	}
	if now.After(prev.(*seenEntry).expiresAt) {
		m.Store(key, entry)
		return true
	}
	return false
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemorySessionRepository) CheckRateLimit(ctx context.Context, customerID string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	val, ok := r.rateLimits.Load(customerID)

	var entry *rateLimitEntry
	if !ok {
		entry = &rateLimitEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
	} else {
		entry = val.(*rateLimitEntry)
		if now.After(entry.expiresAt) {
			entry.count = 1
			entry.expiresAt = now.Add(window)
		} else {
			entry.count++
		}
	}

	r.rateLimits.Store(customerID, entry)
	return entry.count <= limit, nil
}
