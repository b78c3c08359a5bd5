//go:build integration

package integration

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

var testDB *TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()
	var err error
	testDB, err = SetupTestDatabase(ctx)
	if err != nil {
		panic(err)
	}
	code := m.Run()
	_ = testDB.Teardown(ctx)
	os.Exit(code)
}

func freshServer(t *testing.T) *TestServer {
	t.Helper()
	require.NoError(t, testDB.CleanupTables(context.Background()))
	ts, err := NewTestServer(testDB.DB)
	require.NoError(t, err)
	t.Cleanup(ts.Close)
	return ts
}

func TestRecentFailuresBatch_MatchesSingleQuery(t *testing.T) {
	ts := freshServer(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, SeedFailures(ctx, ts.Repos, "a@example.com", now.Add(-time.Minute), now.Add(-2*time.Minute)))
	require.NoError(t, SeedFailures(ctx, ts.Repos, "b@example.com", now.Add(-time.Hour)))

	since := now.Add(-30 * time.Minute)
	batch, err := ts.Repos.Attempts.RecentFailuresBatch(ctx, []string{"a@example.com", "b@example.com", "c@example.com"}, since, 5)
	require.NoError(t, err)

	single, err := ts.Repos.Attempts.RecentFailures(ctx, "a@example.com", since, 5)
	require.NoError(t, err)
	require.Len(t, single, 2)
	assert.Len(t, batch["a@example.com"], 2)
	for i := range single {
		assert.True(t, single[i].Equal(batch["a@example.com"][i]))
	}
	assert.Empty(t, batch["b@example.com"], "failures outside the window are excluded")
	assert.Empty(t, batch["c@example.com"])
}

func TestLatestByTypeBatch(t *testing.T) {
	ts := freshServer(t)
	ctx := context.Background()
	alice, err := SeedUser(ctx, ts.Repos, "alice@example.com", "TestPassword123!", models.RoleUser)
	require.NoError(t, err)
	bob, err := SeedUser(ctx, ts.Repos, "bob@example.com", "TestPassword123!", models.RoleUser)
	require.NoError(t, err)

	now := time.Now().UTC()
	for _, at := range []time.Time{now.Add(-20 * time.Minute), now.Add(-5 * time.Minute)} {
		_, err := ts.Repos.Events.Create(ctx, &models.AuditEvent{
			UserID:    &alice.ID,
			EventType: models.AuditEventAccountLocked,
			Success:   true,
			Metadata:  models.AuditMetadata{models.MetadataReason: models.ReasonAdminLocked},
			CreatedAt: at,
		})
		require.NoError(t, err)
	}

	latest, err := ts.Repos.Events.LatestByTypeBatch(ctx, []string{alice.ID, bob.ID}, models.AuditEventAccountLocked, now.Add(-30*time.Minute))
	require.NoError(t, err)

	require.Contains(t, latest, alice.ID)
	assert.WithinDuration(t, now.Add(-5*time.Minute), latest[alice.ID].CreatedAt, time.Second)
	assert.NotContains(t, latest, bob.ID)
}

func TestTokenBlacklist_InsertIsIdempotentAndExpires(t *testing.T) {
	ts := freshServer(t)
	ctx := context.Background()
	now := time.Now().UTC()
	token := &models.BlacklistedToken{
		TokenHash: services.HashToken("raw"),
		UserID:    "3a5c9e2d-1b4f-4c7a-8e6d-0f2a1b3c4d5e",
		ExpiresAt: now.Add(time.Minute),
		Reason:    models.ReasonLogout,
	}

	inserted, err := ts.Repos.Blacklist.Insert(ctx, token)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = ts.Repos.Blacklist.Insert(ctx, token)
	require.NoError(t, err)
	assert.False(t, inserted, "second insert of the same hash is a no-op")

	active, err := ts.Repos.Blacklist.IsActive(ctx, token.TokenHash, now)
	require.NoError(t, err)
	assert.True(t, active)

	active, err = ts.Repos.Blacklist.IsActive(ctx, token.TokenHash, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, active)

	deleted, err := ts.Repos.Blacklist.DeleteExpired(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestLoginLockoutFlow(t *testing.T) {
	ts := freshServer(t)
	ctx := context.Background()
	email, password := TestUser("lockout")
	_, err := SeedUser(ctx, ts.Repos, email, password, models.RoleUser)
	require.NoError(t, err)
	_, err = SeedUser(ctx, ts.Repos, "root@example.com", "AdminPassword123!", models.RoleAdmin)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		resp, err := ts.Login(email, "wrong-password")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	// correct password is now refused with 423
	resp, err := ts.Login(email, password)
	require.NoError(t, err)
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	var locked pkghttp.LockedResponse
	require.NoError(t, ParseJSONResponse(resp, &locked))
	assert.Equal(t, string(models.LockoutReasonTooManyAttempts), locked.Reason)
	assert.Positive(t, locked.RetryAfter)

	// admin unlocks
	resp, err = ts.Login("root@example.com", "AdminPassword123!")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var adminAuth services.AuthResponse
	require.NoError(t, ParseJSONResponse(resp, &adminAuth))

	user, err := ts.Repos.Users.GetByEmail(ctx, email)
	require.NoError(t, err)

	resp, err = ts.RequestWithAuth(http.MethodPost, "/admin/users/"+user.ID+"/unlock", adminAuth.AccessToken, nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = ts.Login(email, password)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// admin lock refuses the correct password without an expiry
	resp, err = ts.RequestWithAuth(http.MethodPost, "/admin/users/"+user.ID+"/lock", adminAuth.AccessToken, map[string]string{"reason": "review"})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = ts.Login(email, password)
	require.NoError(t, err)
	require.Equal(t, http.StatusLocked, resp.StatusCode)
	require.NoError(t, ParseJSONResponse(resp, &locked))
	assert.Equal(t, string(models.LockoutReasonAdminLocked), locked.Reason)
	assert.Nil(t, locked.LockoutExpiresAt)
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	ts := freshServer(t)
	ctx := context.Background()
	email, password := TestUser("logout")
	_, err := SeedUser(ctx, ts.Repos, email, password, models.RoleUser)
	require.NoError(t, err)

	resp, err := ts.Login(email, password)
	require.NoError(t, err)
	var tokens services.AuthResponse
	require.NoError(t, ParseJSONResponse(resp, &tokens))

	resp, err = ts.RequestWithAuth(http.MethodPost, "/auth/logout", tokens.AccessToken, map[string]string{"refresh_token": tokens.RefreshToken})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = ts.RequestWithAuth(http.MethodPost, "/auth/logout", tokens.AccessToken, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = ts.Request(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": tokens.RefreshToken}, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
