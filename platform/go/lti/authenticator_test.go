package lti

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/upem-wims/wims-lti/platform/go/problems"
)

type mapNonceStore struct {
	mu   sync.Mutex
	seen map[string]time.Duration
	err  error
}

func (m *mapNonceStore) Remember(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]time.Duration{}
	}
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = ttl
	return true, nil
}

const testBaseURI = "https://testserver/lti/1/"

func signedLaunch(t *testing.T, secret string) Launch {
	t.Helper()
	params := signedFixture()
	params.Set("oauth_signature", Sign(http.MethodPost, testBaseURI, params, secret))
	launch, err := Parse(params)
	require.NoError(t, err)
	return launch
}

func fixedClock() time.Time { return time.Unix(1700000060, 0) }

func TestAuthenticatorAcceptsValidLaunchOnce(t *testing.T) {
	t.Parallel()

	store := &mapNonceStore{}
	auth := NewAuthenticator(store, 5*time.Minute, WithClock(fixedClock))
	launch := signedLaunch(t, "secret1")

	require.NoError(t, auth.Verify(context.Background(), launch, http.MethodPost, testBaseURI, "provider1", "secret1"))
	require.Equal(t, 10*time.Minute, store.seen["provider1:abc123"])

	err := auth.Verify(context.Background(), launch, http.MethodPost, testBaseURI, "provider1", "secret1")
	require.ErrorIs(t, err, problems.ErrInvalidLaunch)
	require.EqualError(t, err, "LTI request is invalid, oauth_nonce 'abc123' has already been used")
}

func TestAuthenticatorRejectsBadSignatureWithoutBurningNonce(t *testing.T) {
	t.Parallel()

	store := &mapNonceStore{}
	auth := NewAuthenticator(store, 5*time.Minute, WithClock(fixedClock))
	launch := signedLaunch(t, "not-the-secret")

	err := auth.Verify(context.Background(), launch, http.MethodPost, testBaseURI, "provider1", "secret1")
	require.ErrorIs(t, err, problems.ErrInvalidLaunch)
	require.EqualError(t, err, "LTI request is invalid, OAuth signature verification failed")
	require.Empty(t, store.seen)
}

func TestAuthenticatorRejectsForeignConsumerKey(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator(nil, 0)
	launch := signedLaunch(t, "secret1")

	err := auth.Verify(context.Background(), launch, http.MethodPost, testBaseURI, "someone-else", "secret1")
	require.ErrorIs(t, err, problems.ErrInvalidLaunch)
}

func TestAuthenticatorTimestampWindow(t *testing.T) {
	t.Parallel()

	launch := signedLaunch(t, "secret1")

	late := NewAuthenticator(nil, time.Minute, WithClock(func() time.Time { return time.Unix(1700000000+3600, 0) }))
	err := late.Verify(context.Background(), launch, http.MethodPost, testBaseURI, "provider1", "secret1")
	require.EqualError(t, err, "LTI request is invalid, oauth_timestamp '1700000000' is outside the accepted window")

	early := NewAuthenticator(nil, time.Minute, WithClock(func() time.Time { return time.Unix(1700000000-3600, 0) }))
	require.Error(t, early.Verify(context.Background(), launch, http.MethodPost, testBaseURI, "provider1", "secret1"))

	disabled := NewAuthenticator(&mapNonceStore{}, 0)
	require.NoError(t, disabled.Verify(context.Background(), launch, http.MethodPost, testBaseURI, "provider1", "secret1"))
	require.NoError(t, disabled.Verify(context.Background(), launch, http.MethodPost, testBaseURI, "provider1", "secret1"))
}

func TestAuthenticatorPropagatesStoreFailure(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("redis down")
	auth := NewAuthenticator(&mapNonceStore{err: storeErr}, 5*time.Minute, WithClock(fixedClock))

	err := auth.Verify(context.Background(), signedLaunch(t, "secret1"), http.MethodPost, testBaseURI, "provider1", "secret1")
	require.ErrorIs(t, err, storeErr)
	require.NotErrorIs(t, err, problems.ErrInvalidLaunch)
}
