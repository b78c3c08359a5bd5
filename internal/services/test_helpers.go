package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// MockUserRepository implements the user lookups for testing
type MockUserRepository struct {
	GetByIDFunc    func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
	ListFunc       func(ctx context.Context, limit, offset int) ([]*models.User, error)
	CountFunc      func(ctx context.Context) (int64, error)
	CreateFunc     func(ctx context.Context, user *models.User) (*models.User, error)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.User{}, nil
}

func (m *MockUserRepository) Count(ctx context.Context) (int64, error) {
	if m.CountFunc != nil {
		return m.CountFunc(ctx)
	}
	return 0, nil
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

// UsersFixture returns a MockUserRepository backed by the given users.
func UsersFixture(users ...*models.User) *MockUserRepository {
	return &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			for _, u := range users {
				if u.ID == id {
					return u, nil
				}
			}
			return nil, models.ErrNotFound
		},
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			for _, u := range users {
				if models.NormalizeEmail(u.Email) == models.NormalizeEmail(email) {
					return u, nil
				}
			}
			return nil, models.ErrNotFound
		},
		ListFunc: func(ctx context.Context, limit, offset int) ([]*models.User, error) {
			if offset >= len(users) {
				return []*models.User{}, nil
			}
			end := offset + limit
			if end > len(users) {
				end = len(users)
			}
			return users[offset:end], nil
		},
		CountFunc: func(ctx context.Context) (int64, error) {
			return int64(len(users)), nil
		},
	}
}

// MemoryEventStore is an in-memory failed-attempt and audit-event store with
// the same filtering rules as the Postgres repositories. Set a *Err field to
// make the matching reads fail.
type MemoryEventStore struct {
	mu       sync.Mutex
	attempts []models.FailedAttempt
	events   []*models.AuditEvent
	nextID   int

	RecordErr   error
	FailuresErr error
	EventsErr   error
	CreateErr   error
	DeleteErr   error
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{}
}

func (s *MemoryEventStore) Record(ctx context.Context, attempt *models.FailedAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecordErr != nil {
		return s.RecordErr
	}
	a := *attempt
	a.Email = models.NormalizeEmail(a.Email)
	s.nextID++
	a.ID = fmt.Sprintf("attempt-%d", s.nextID)
	s.attempts = append(s.attempts, a)
	return nil
}

// AddFailures records n failures for email at the given instants.
func (s *MemoryEventStore) AddFailures(email string, at ...time.Time) {
	for _, t := range at {
		_ = s.Record(context.Background(), &models.FailedAttempt{Email: email, AttemptedAt: t})
	}
}

func (s *MemoryEventStore) RecentFailures(ctx context.Context, email string, since time.Time, limit int) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailuresErr != nil {
		return nil, s.FailuresErr
	}
	return s.recentFailures(models.NormalizeEmail(email), since, limit), nil
}

func (s *MemoryEventStore) RecentFailuresBatch(ctx context.Context, emails []string, since time.Time, limit int) (map[string][]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailuresErr != nil {
		return nil, s.FailuresErr
	}
	out := make(map[string][]time.Time, len(emails))
	for _, e := range emails {
		e = models.NormalizeEmail(e)
		if f := s.recentFailures(e, since, limit); len(f) > 0 {
			out[e] = f
		}
	}
	return out, nil
}

func (s *MemoryEventStore) recentFailures(email string, since time.Time, limit int) []time.Time {
	var out []time.Time
	for _, a := range s.attempts {
		if a.Email == email && !a.Success && !a.AttemptedAt.Before(since) {
			out = append(out, a.AttemptedAt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].After(out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryEventStore) DeleteByEmail(ctx context.Context, email string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return 0, s.DeleteErr
	}
	email = models.NormalizeEmail(email)
	kept := s.attempts[:0]
	var deleted int64
	for _, a := range s.attempts {
		if a.Email == email {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	s.attempts = kept
	return deleted, nil
}

func (s *MemoryEventStore) Create(ctx context.Context, event *models.AuditEvent) (*models.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	e := *event
	s.nextID++
	e.ID = fmt.Sprintf("event-%d", s.nextID)
	s.events = append(s.events, &e)
	return &e, nil
}

func (s *MemoryEventStore) LatestByType(ctx context.Context, userID string, eventType models.AuditEventType, since time.Time) (*models.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EventsErr != nil {
		return nil, s.EventsErr
	}
	return s.latest(userID, eventType, since), nil
}

func (s *MemoryEventStore) LatestByTypeBatch(ctx context.Context, userIDs []string, eventType models.AuditEventType, since time.Time) (map[string]*models.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EventsErr != nil {
		return nil, s.EventsErr
	}
	out := make(map[string]*models.AuditEvent, len(userIDs))
	for _, id := range userIDs {
		if e := s.latest(id, eventType, since); e != nil {
			out[id] = e
		}
	}
	return out, nil
}

func (s *MemoryEventStore) latest(userID string, eventType models.AuditEventType, since time.Time) *models.AuditEvent {
	var best *models.AuditEvent
	for _, e := range s.events {
		if e.UserID == nil || *e.UserID != userID || e.EventType != eventType || !e.Success || e.CreatedAt.Before(since) {
			continue
		}
		if best == nil || e.CreatedAt.After(best.CreatedAt) {
			best = e
		}
	}
	return best
}

func (s *MemoryEventStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EventsErr != nil {
		return nil, s.EventsErr
	}
	var out []*models.AuditEvent
	for _, e := range s.events {
		if e.UserID != nil && *e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*models.AuditEvent{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryEventStore) CountByUser(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EventsErr != nil {
		return 0, s.EventsErr
	}
	var n int64
	for _, e := range s.events {
		if e.UserID != nil && *e.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryEventStore) HasSeenIP(ctx context.Context, userID, ip string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EventsErr != nil {
		return false, s.EventsErr
	}
	for _, e := range s.events {
		if e.UserID != nil && *e.UserID == userID && e.EventType == models.AuditEventLogin &&
			e.Success && e.IPAddress != nil && *e.IPAddress == ip {
			return true, nil
		}
	}
	return false, nil
}

// Events returns every stored event of the given type, in insertion order.
func (s *MemoryEventStore) Events(eventType models.AuditEventType) []*models.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AuditEvent
	for _, e := range s.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// AttemptCount returns the number of stored attempts for email.
func (s *MemoryEventStore) AttemptCount(email string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = models.NormalizeEmail(email)
	n := 0
	for _, a := range s.attempts {
		if a.Email == email {
			n++
		}
	}
	return n
}

// MockTokenBlacklistRepository keeps hashes in memory.
type MockTokenBlacklistRepository struct {
	mu      sync.Mutex
	tokens  map[string]models.BlacklistedToken
	Inserts int

	InsertErr   error
	IsActiveErr error

	// IsActiveHook runs before each lookup, outside the lock.
	IsActiveHook func()
}

func (m *MockTokenBlacklistRepository) Insert(ctx context.Context, token *models.BlacklistedToken) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return false, m.InsertErr
	}
	if m.tokens == nil {
		m.tokens = make(map[string]models.BlacklistedToken)
	}
	m.Inserts++
	if _, ok := m.tokens[token.TokenHash]; ok {
		return false, nil
	}
	m.tokens[token.TokenHash] = *token
	return true, nil
}

func (m *MockTokenBlacklistRepository) IsActive(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	if m.IsActiveHook != nil {
		m.IsActiveHook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IsActiveErr != nil {
		return false, m.IsActiveErr
	}
	t, ok := m.tokens[tokenHash]
	return ok && t.ExpiresAt.After(now), nil
}

// Len returns the number of distinct stored hashes.
func (m *MockTokenBlacklistRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// MockRevocationCache implements RevocationCache for testing
type MockRevocationCache struct {
	MarkRevokedFunc func(ctx context.Context, tokenHash string, expiresAt, now time.Time) error
	IsRevokedFunc   func(ctx context.Context, tokenHash string, now time.Time) (bool, error)
}

func (m *MockRevocationCache) MarkRevoked(ctx context.Context, tokenHash string, expiresAt, now time.Time) error {
	if m.MarkRevokedFunc != nil {
		return m.MarkRevokedFunc(ctx, tokenHash, expiresAt, now)
	}
	return nil
}

func (m *MockRevocationCache) IsRevoked(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	if m.IsRevokedFunc != nil {
		return m.IsRevokedFunc(ctx, tokenHash, now)
	}
	return false, nil
}

// MockNotifier records the notices it was asked to send.
type MockNotifier struct {
	mu       sync.Mutex
	Locked   []string
	Unlocked []string
	Err      error
}

func (m *MockNotifier) NotifyAccountLocked(ctx context.Context, user *models.User, status models.LockoutStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Locked = append(m.Locked, user.ID)
	return m.Err
}

func (m *MockNotifier) NotifyAccountUnlocked(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Unlocked = append(m.Unlocked, user.ID)
	return m.Err
}

// MockAuditPublisher implements AuditPublisher for testing
type MockAuditPublisher struct {
	mu        sync.Mutex
	Published []*models.AuditEvent
	Err       error
}

func (m *MockAuditPublisher) Publish(ctx context.Context, event *models.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Published = append(m.Published, event)
	return nil
}
