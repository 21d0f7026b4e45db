package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/posbridge/internal/core/ports/driving"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type tokenFixture struct {
	store    *mocks.MockConnectionStore
	cipher   *mocks.MockTokenCipher
	provider *mocks.MockOAuthProvider
	clock    *testClock
	manager  driving.TokenManager
}

func newTokenFixture() *tokenFixture {
	f := &tokenFixture{
		store:    mocks.NewMockConnectionStore(),
		cipher:   mocks.NewMockTokenCipher(),
		provider: mocks.NewMockOAuthProvider(),
		clock:    newTestClock(),
	}
	f.manager = NewTokenManager(TokenManagerConfig{
		Store:    f.store,
		Cipher:   f.cipher,
		Provider: f.provider,
		Now:      f.clock.Now,
	})
	return f
}

func (f *tokenFixture) storeTokens(t *testing.T, userID string, expiresIn int) {
	t.Helper()
	require.NoError(t, f.manager.StoreTokens(context.Background(), userID, driving.TokenGrant{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresIn:    expiresIn,
	}))
}

func TestTokenManager_StoreTokens(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()

	// leftover error and state from an earlier attempt
	_, err := f.manager.GenerateOAuthState(ctx, "user-1")
	require.NoError(t, err)
	msg := "boom"
	_, err = f.store.Upsert(ctx, "user-1", &domain.ConnectionUpdate{LastError: &msg, IncrementErrors: true})
	require.NoError(t, err)

	accountID, accountName := "42", "Bike Shop"
	err = f.manager.StoreTokens(ctx, "user-1", driving.TokenGrant{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresIn:    3600,
		AccountID:    &accountID,
		AccountName:  &accountName,
	})
	require.NoError(t, err)

	conn, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionStatusConnected, conn.Status)
	require.True(t, conn.HasTokens())
	assert.NotEqual(t, "access-1", *conn.AccessTokenEnc, "tokens must be stored encrypted")
	assert.NotEqual(t, "refresh-1", *conn.RefreshTokenEnc, "tokens must be stored encrypted")
	assert.Equal(t, f.clock.Now().Add(time.Hour), *conn.TokenExpiresAt)
	assert.Equal(t, "42", conn.AccountID)
	assert.Equal(t, "Bike Shop", conn.AccountName)
	assert.Nil(t, conn.LastError)
	assert.Zero(t, conn.ErrorCount)
	assert.Nil(t, conn.OAuthState)
}

func TestTokenManager_StoreTokens_RejectsEmpty(t *testing.T) {
	f := newTokenFixture()
	err := f.manager.StoreTokens(context.Background(), "user-1", driving.TokenGrant{AccessToken: "a"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTokenManager_GetValidAccessToken_NoConnection(t *testing.T) {
	f := newTokenFixture()

	token, ok := f.manager.GetValidAccessToken(context.Background(), "nobody")
	assert.False(t, ok)
	assert.Empty(t, token)
}

func TestTokenManager_GetValidAccessToken_Cached(t *testing.T) {
	f := newTokenFixture()
	f.storeTokens(t, "user-1", 3600)

	token, ok := f.manager.GetValidAccessToken(context.Background(), "user-1")
	require.True(t, ok)
	assert.Equal(t, "access-1", token)
	assert.Zero(t, f.provider.RefreshCount(), "a token outside the buffer must not be refreshed")
}

func TestTokenManager_GetValidAccessToken_RefreshesWithinBuffer(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	f.storeTokens(t, "user-1", 60)

	before, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)

	token, ok := f.manager.GetValidAccessToken(ctx, "user-1")
	require.True(t, ok)
	assert.Equal(t, "refreshed-access-1", token)
	assert.Equal(t, 1, f.provider.RefreshCount())
	assert.Equal(t, []string{"refresh-1"}, f.provider.RefreshCalls)

	after, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, after.TokenExpiresAt.After(*before.TokenExpiresAt), "expiry must advance")

	// the rotated refresh token is used next time
	_, err = f.manager.RefreshAccessToken(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-refresh-1", f.provider.RefreshCalls[1])
}

func TestTokenManager_GetValidAccessToken_RefreshFailure(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	f.storeTokens(t, "user-1", 60)
	f.provider.RefreshFn = func(string) (*driven.OAuthToken, error) {
		return nil, errors.New("invalid_grant")
	}

	token, ok := f.manager.GetValidAccessToken(ctx, "user-1")
	assert.False(t, ok)
	assert.Empty(t, token)

	conn, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionStatusExpired, conn.Status)
	require.NotNil(t, conn.LastError)
	assert.Contains(t, *conn.LastError, "invalid_grant")
	assert.Equal(t, 1, conn.ErrorCount)

	f.manager.GetValidAccessToken(ctx, "user-1")
	conn, _ = f.store.Get(ctx, "user-1")
	assert.Equal(t, 2, conn.ErrorCount)
}

func TestTokenManager_GetValidAccessToken_CorruptToken(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	f.storeTokens(t, "user-1", 3600)
	f.cipher.DecryptFn = func(string) (string, error) {
		return "", domain.ErrAuthenticationFailed
	}

	_, ok := f.manager.GetValidAccessToken(ctx, "user-1")
	assert.False(t, ok)

	conn, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionStatusError, conn.Status)
	assert.Equal(t, 1, conn.ErrorCount)
	assert.False(t, conn.HasTokens(), "undecryptable tokens are dropped")

	_, err = f.manager.RefreshAccessToken(ctx, "user-1")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated, "the user has to authorize again")
	assert.Zero(t, f.provider.RefreshCount())
}

func TestTokenManager_Refresh_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	f.storeTokens(t, "user-1", 3600)
	f.provider.RefreshFn = func(string) (*driven.OAuthToken, error) {
		return &driven.OAuthToken{AccessToken: "access-2", ExpiresIn: 1800}, nil
	}

	refreshed, err := f.manager.RefreshAccessToken(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", refreshed.AccessToken)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), refreshed.ExpiresAt)

	conn, _ := f.store.Get(ctx, "user-1")
	plain, err := f.cipher.Decrypt(*conn.RefreshTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", plain)
}

func TestTokenManager_RefreshAccessToken_NotConnected(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()

	_, err := f.manager.RefreshAccessToken(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	f.storeTokens(t, "user-1", 3600)
	require.NoError(t, f.manager.DisconnectUser(ctx, "user-1"))
	_, err = f.manager.RefreshAccessToken(ctx, "user-1")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	assert.Zero(t, f.provider.RefreshCount())
}

func TestTokenManager_DisconnectWinsOverRefresh(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	f.storeTokens(t, "user-1", 60)

	f.provider.RefreshFn = func(string) (*driven.OAuthToken, error) {
		// the user disconnects while the provider call is in flight
		require.NoError(t, f.manager.DisconnectUser(ctx, "user-1"))
		return &driven.OAuthToken{AccessToken: "late", RefreshToken: "late-r", ExpiresIn: 3600}, nil
	}

	token, ok := f.manager.GetValidAccessToken(ctx, "user-1")
	assert.False(t, ok)
	assert.Empty(t, token)

	conn, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionStatusDisconnected, conn.Status)
	assert.False(t, conn.HasTokens(), "refreshed tokens must not resurrect a disconnected connection")
	assert.Nil(t, conn.AccessTokenEnc)
}

func TestTokenManager_FailedRefreshDoesNotOverwriteDisconnect(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	f.storeTokens(t, "user-1", 60)

	f.provider.RefreshFn = func(string) (*driven.OAuthToken, error) {
		require.NoError(t, f.manager.DisconnectUser(ctx, "user-1"))
		return nil, errors.New("invalid_grant")
	}

	_, ok := f.manager.GetValidAccessToken(ctx, "user-1")
	assert.False(t, ok)

	conn, _ := f.store.Get(ctx, "user-1")
	assert.Equal(t, domain.ConnectionStatusDisconnected, conn.Status)
	assert.Zero(t, conn.ErrorCount)
}

// replica builds a second token manager over the same store, as another
// process would.
func (f *tokenFixture) replica() driving.TokenManager {
	return NewTokenManager(TokenManagerConfig{
		Store:    f.store,
		Cipher:   f.cipher,
		Provider: f.provider,
		Now:      f.clock.Now,
	})
}

func (f *tokenFixture) storedRefreshToken(t *testing.T, userID string) string {
	t.Helper()
	conn, err := f.store.Get(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, conn.HasTokens())
	plain, err := f.cipher.Decrypt(*conn.RefreshTokenEnc)
	require.NoError(t, err)
	return plain
}

func rotatedToken() *driven.OAuthToken {
	return &driven.OAuthToken{AccessToken: "new-access", RefreshToken: "new-refresh", ExpiresIn: 3600}
}

func TestTokenManager_ConcurrentRefreshesShareOneCall(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	f.storeTokens(t, "user-1", 60)

	release := make(chan struct{})
	f.provider.RefreshFn = func(refreshToken string) (*driven.OAuthToken, error) {
		<-release
		if refreshToken != "refresh-1" {
			return nil, errors.New("invalid_grant")
		}
		return rotatedToken(), nil
	}

	const callers = 5
	tokens := make([]string, callers)
	oks := make([]bool, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], oks[i] = f.manager.GetValidAccessToken(ctx, "user-1")
		}()
	}

	require.Eventually(t, func() bool { return f.provider.RefreshCount() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, f.provider.RefreshCount())
	for i := range callers {
		assert.True(t, oks[i], "caller %d", i)
		assert.Equal(t, "new-access", tokens[i], "caller %d", i)
	}
	assert.Equal(t, "new-refresh", f.storedRefreshToken(t, "user-1"))
}

func TestTokenManager_RotatedTokensSurviveRacingFailure(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	f.storeTokens(t, "user-1", 60)
	other := f.replica()

	// the first call rotates at the provider but answers only after the
	// second call, with the same refresh token, was rejected
	rejected := make(chan struct{})
	var calls sync.Mutex
	n := 0
	f.provider.RefreshFn = func(string) (*driven.OAuthToken, error) {
		calls.Lock()
		n++
		call := n
		calls.Unlock()
		if call == 1 {
			<-rejected
			return rotatedToken(), nil
		}
		return nil, errors.New("invalid_grant")
	}

	type result struct {
		token string
		ok    bool
	}
	done := make(chan result, 1)
	go func() {
		token, ok := f.manager.GetValidAccessToken(ctx, "user-1")
		done <- result{token, ok}
	}()
	require.Eventually(t, func() bool { return f.provider.RefreshCount() == 1 }, time.Second, time.Millisecond)

	_, ok := other.GetValidAccessToken(ctx, "user-1")
	assert.False(t, ok)
	close(rejected)

	winner := <-done
	assert.True(t, winner.ok)
	assert.Equal(t, "new-access", winner.token)

	conn, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionStatusConnected, conn.Status)
	assert.Equal(t, "new-refresh", f.storedRefreshToken(t, "user-1"))

	token, ok := f.manager.GetValidAccessToken(ctx, "user-1")
	assert.True(t, ok)
	assert.Equal(t, "new-access", token)
	assert.Equal(t, 2, f.provider.RefreshCount())
}

func TestTokenManager_RejectedRefreshReturnsRacingWinner(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	f.storeTokens(t, "user-1", 60)
	other := f.replica()

	// the first call is rejected, but only after the second call stored
	// its rotated pair
	stored := make(chan struct{})
	var calls sync.Mutex
	n := 0
	f.provider.RefreshFn = func(string) (*driven.OAuthToken, error) {
		calls.Lock()
		n++
		call := n
		calls.Unlock()
		if call == 1 {
			<-stored
			return nil, errors.New("invalid_grant")
		}
		return rotatedToken(), nil
	}

	type result struct {
		token string
		ok    bool
	}
	done := make(chan result, 1)
	go func() {
		token, ok := f.manager.GetValidAccessToken(ctx, "user-1")
		done <- result{token, ok}
	}()
	require.Eventually(t, func() bool { return f.provider.RefreshCount() == 1 }, time.Second, time.Millisecond)

	token, ok := other.GetValidAccessToken(ctx, "user-1")
	require.True(t, ok)
	assert.Equal(t, "new-access", token)
	close(stored)

	loser := <-done
	assert.True(t, loser.ok)
	assert.Equal(t, "new-access", loser.token)

	conn, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionStatusConnected, conn.Status)
	assert.Zero(t, conn.ErrorCount)
	assert.Equal(t, "new-refresh", f.storedRefreshToken(t, "user-1"))
}

func TestTokenManager_ReauthorizationWinsOverRefresh(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	f.storeTokens(t, "user-1", 60)

	f.provider.RefreshFn = func(string) (*driven.OAuthToken, error) {
		// the user completes a new authorization meanwhile
		if err := f.manager.StoreTokens(ctx, "user-1", driving.TokenGrant{
			AccessToken: "fresh-access", RefreshToken: "fresh-refresh", ExpiresIn: 3600,
		}); err != nil {
			return nil, err
		}
		return rotatedToken(), nil
	}

	token, ok := f.manager.GetValidAccessToken(ctx, "user-1")
	assert.True(t, ok)
	assert.Equal(t, "fresh-access", token)
	assert.Equal(t, "fresh-refresh", f.storedRefreshToken(t, "user-1"))
}

func TestTokenManager_OAuthState(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()

	state, err := f.manager.GenerateOAuthState(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, state.Value, 64)
	assert.Equal(t, f.clock.Now().Add(OAuthStateTTL), state.ExpiresAt)

	conn, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionStatusDisconnected, conn.Status, "first state creates a disconnected row")

	assert.False(t, f.manager.ValidateOAuthState(ctx, "user-1", "wrong"))
	assert.False(t, f.manager.ValidateOAuthState(ctx, "user-2", state.Value), "state is bound to its user")
	assert.True(t, f.manager.ValidateOAuthState(ctx, "user-1", state.Value), "mismatch must not consume the state")
	assert.False(t, f.manager.ValidateOAuthState(ctx, "user-1", state.Value), "replay must fail")
}

func TestTokenManager_OAuthState_Expired(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()

	state, err := f.manager.GenerateOAuthState(ctx, "user-1")
	require.NoError(t, err)

	f.clock.Advance(OAuthStateTTL)
	assert.False(t, f.manager.ValidateOAuthState(ctx, "user-1", state.Value))
}

func TestTokenManager_OAuthState_Replaced(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()

	first, err := f.manager.GenerateOAuthState(ctx, "user-1")
	require.NoError(t, err)
	second, err := f.manager.GenerateOAuthState(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.Value, second.Value)

	assert.False(t, f.manager.ValidateOAuthState(ctx, "user-1", first.Value))
	assert.True(t, f.manager.ValidateOAuthState(ctx, "user-1", second.Value))
}

func TestTokenManager_OAuthState_KeepsConnection(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	f.storeTokens(t, "user-1", 3600)

	_, err := f.manager.GenerateOAuthState(ctx, "user-1")
	require.NoError(t, err)

	conn, _ := f.store.Get(ctx, "user-1")
	assert.Equal(t, domain.ConnectionStatusConnected, conn.Status)
	assert.True(t, conn.HasTokens())
}

func TestTokenManager_OAuthState_ConcurrentValidation(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()

	state, err := f.manager.GenerateOAuthState(ctx, "user-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- f.manager.ValidateOAuthState(ctx, "user-1", state.Value)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one validation may consume the state")
}

func TestTokenManager_DisconnectUser(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()
	f.storeTokens(t, "user-1", 3600)

	require.NoError(t, f.manager.DisconnectUser(ctx, "user-1"))

	conn, err := f.store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionStatusDisconnected, conn.Status)
	assert.Nil(t, conn.AccessTokenEnc)
	assert.Nil(t, conn.RefreshTokenEnc)
	assert.Nil(t, conn.TokenExpiresAt)
	require.NotNil(t, conn.DisconnectedAt)
	assert.Equal(t, f.clock.Now(), *conn.DisconnectedAt)

	_, ok := f.manager.GetValidAccessToken(ctx, "user-1")
	assert.False(t, ok)
}

func TestTokenManager_Status(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()

	summary, err := f.manager.Status(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, domain.ConnectionStatusDisconnected, summary.Status)
	assert.False(t, summary.Connected)

	f.storeTokens(t, "user-1", 3600)
	summary, err = f.manager.Status(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, summary.Connected)
	require.NotNil(t, summary.TokenExpiresAt)
}

func TestTokenManager_RefreshExpiring(t *testing.T) {
	f := newTokenFixture()
	ctx := context.Background()

	f.storeTokens(t, "soon-1", 600)
	f.storeTokens(t, "soon-2", 1200)
	f.storeTokens(t, "later", 7200)
	f.provider.RefreshFn = func(refresh string) (*driven.OAuthToken, error) {
		return &driven.OAuthToken{AccessToken: "new", RefreshToken: "new-r", ExpiresIn: 3600}, nil
	}

	refreshed, failed, err := f.manager.RefreshExpiring(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, refreshed)
	assert.Zero(t, failed)
	assert.Equal(t, 2, f.provider.RefreshCount())

	f.provider.RefreshFn = func(string) (*driven.OAuthToken, error) {
		return nil, errors.New("provider down")
	}
	f.clock.Advance(2 * time.Hour)
	refreshed, failed, err = f.manager.RefreshExpiring(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, refreshed)
	assert.Equal(t, 3, failed)
}
