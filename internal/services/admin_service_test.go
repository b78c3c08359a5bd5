package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/gatekeeper/internal/lockout"
	"github.com/BradenHooton/gatekeeper/internal/models"
)

type adminFixture struct {
	store    *MemoryEventStore
	users    *MockUserRepository
	notifier *MockNotifier
	lockouts *LockoutService
	svc      *AdminService
}

func newAdminFixture(users ...*models.User) *adminFixture {
	f := &adminFixture{
		store:    NewMemoryEventStore(),
		users:    UsersFixture(users...),
		notifier: &MockNotifier{},
	}
	clock := FixedClock(testNow)
	f.lockouts = NewLockoutService(f.users, f.store, f.store, lockout.DefaultPolicy(), clock, nil, discardLogger())
	audit := NewAuditService(f.store, f.store, nil, clock, nil, discardLogger())
	f.svc = NewAdminService(f.users, f.store, f.store, f.lockouts, audit, f.notifier, nil, discardLogger())
	return f
}

var adminMeta = RequestMeta{ActorID: "admin-1", IPAddress: "10.0.0.9", UserAgent: "console"}

func TestLockUser_AdminLockTakesEffect(t *testing.T) {
	f := newAdminFixture(testUser("u1", "alice@example.com"))

	require.NoError(t, f.svc.LockUser(context.Background(), adminMeta, "u1", "fraud review"))

	status, err := f.lockouts.ResolveLockout(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.True(t, status.IsAdminLocked)

	locks := f.store.Events(models.AuditEventAccountLocked)
	require.Len(t, locks, 1)
	assert.Equal(t, models.ReasonAdminLocked, locks[0].Reason())
	assert.Equal(t, "admin-1", locks[0].Metadata[models.MetadataActorID])
	assert.Equal(t, []string{"u1"}, f.notifier.Locked)
}

func TestLockUser_RejectsSelfLock(t *testing.T) {
	f := newAdminFixture(testUser("admin-1", "root@example.com"))

	err := f.svc.LockUser(context.Background(), adminMeta, "admin-1", "")

	assert.ErrorIs(t, err, models.ErrBadRequest)
	assert.Empty(t, f.store.Events(models.AuditEventAccountLocked))
}

func TestLockUser_UnknownUser(t *testing.T) {
	f := newAdminFixture()

	err := f.svc.LockUser(context.Background(), adminMeta, "missing", "")

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLockUser_AppendFailureIsReturned(t *testing.T) {
	f := newAdminFixture(testUser("u1", "alice@example.com"))
	f.store.CreateErr = errors.New("connection refused")

	err := f.svc.LockUser(context.Background(), adminMeta, "u1", "")

	assert.ErrorIs(t, err, models.ErrStorage)
	assert.Empty(t, f.notifier.Locked)
}

func TestLockUser_NotificationFailureIgnored(t *testing.T) {
	f := newAdminFixture(testUser("u1", "alice@example.com"))
	f.notifier.Err = errors.New("ses throttled")

	assert.NoError(t, f.svc.LockUser(context.Background(), adminMeta, "u1", ""))
}

func TestUnlockUser_ClearsAutomaticLock(t *testing.T) {
	f := newAdminFixture(testUser("u1", "alice@example.com"))
	f.store.AddFailures("alice@example.com",
		ago(1*time.Minute), ago(2*time.Minute), ago(3*time.Minute), ago(4*time.Minute), ago(5*time.Minute))

	before, err := f.lockouts.ResolveLockout(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.True(t, before.IsLocked)

	require.NoError(t, f.svc.UnlockUser(context.Background(), adminMeta, "u1"))

	after, err := f.lockouts.ResolveLockout(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.False(t, after.IsLocked)
	assert.Equal(t, 5, after.RemainingAttempts)
	assert.Zero(t, f.store.AttemptCount("alice@example.com"))
	assert.Len(t, f.store.Events(models.AuditEventAccountUnlocked), 1)
	assert.Equal(t, []string{"u1"}, f.notifier.Unlocked)
}

func TestUnlockUser_DeleteFailure(t *testing.T) {
	f := newAdminFixture(testUser("u1", "alice@example.com"))
	f.store.DeleteErr = errors.New("timeout")

	err := f.svc.UnlockUser(context.Background(), adminMeta, "u1")

	assert.ErrorIs(t, err, models.ErrStorage)
	assert.Empty(t, f.store.Events(models.AuditEventAccountUnlocked))
}

func TestListUsers_EmbedsLockoutStatus(t *testing.T) {
	f := newAdminFixture(
		testUser("u1", "alice@example.com"),
		testUser("u2", "bob@example.com"),
	)
	addAdminLock(t, f.store, "u2", ago(time.Minute))
	f.store.AddFailures("alice@example.com", ago(time.Minute))

	resp, err := f.svc.ListUsers(context.Background(), 0, -3)

	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.Total)
	assert.Equal(t, DefaultPageSize, resp.Limit)
	assert.Equal(t, 0, resp.Offset)
	require.Len(t, resp.Users, 2)
	assert.Equal(t, 4, resp.Users[0].Lockout.RemainingAttempts)
	assert.True(t, resp.Users[1].Lockout.IsAdminLocked)
}

func TestListUsers_ResolverErrorPropagates(t *testing.T) {
	f := newAdminFixture(testUser("u1", "alice@example.com"))
	f.store.FailuresErr = errors.New("timeout")

	_, err := f.svc.ListUsers(context.Background(), 10, 0)

	assert.ErrorIs(t, err, models.ErrStorage)
}

func TestGetLockoutStatus(t *testing.T) {
	f := newAdminFixture(testUser("u1", "alice@example.com"))
	f.store.AddFailures("alice@example.com", ago(time.Minute), ago(2*time.Minute))

	status, err := f.svc.GetLockoutStatus(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, status.RemainingAttempts)

	_, err = f.svc.GetLockoutStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListAuditEvents(t *testing.T) {
	f := newAdminFixture(testUser("u1", "alice@example.com"))
	addAdminLock(t, f.store, "u1", ago(10*time.Minute))
	addUnlock(t, f.store, "u1", ago(5*time.Minute))

	resp, err := f.svc.ListAuditEvents(context.Background(), "u1", 1, 0)

	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.Total)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, models.AuditEventAccountUnlocked, resp.Events[0].EventType)
}

func TestNormalizePage(t *testing.T) {
	limit, offset := normalizePage(1000, 20)
	assert.Equal(t, MaxPageSize, limit)
	assert.Equal(t, 20, offset)
}
