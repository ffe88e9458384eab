package lti

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/upem-wims/wims-lti/platform/go/problems"
)

// NonceStore remembers nonces. Remember returns fresh=false when key was already stored
// and has not expired.
type NonceStore interface {
	Remember(ctx context.Context, key string, ttl time.Duration) (fresh bool, err error)
}

// Authenticator verifies the OAuth material of a parsed launch against a consumer's credentials.
type Authenticator struct {
	nonces  NonceStore
	maxSkew time.Duration
	now     func() time.Time
}

// AuthenticatorOption customizes an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) { a.now = now }
}

// NewAuthenticator builds an Authenticator. A zero maxSkew disables the timestamp window and,
// with it, nonce tracking; a nil store disables nonce tracking only.
func NewAuthenticator(nonces NonceStore, maxSkew time.Duration, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{nonces: nonces, maxSkew: maxSkew, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Verify checks, in order, the consumer key, the signature, the timestamp window and the nonce.
// The nonce is only consumed once the signature is known to be good.
func (a *Authenticator) Verify(ctx context.Context, launch Launch, method, baseURI, consumerKey, consumerSecret string) error {
	if launch.ConsumerKey != consumerKey {
		return problems.New(problems.ErrInvalidLaunch, "LTI request is invalid, OAuth signature verification failed")
	}
	if !VerifySignature(method, baseURI, launch.params, consumerSecret, launch.Signature) {
		return problems.New(problems.ErrInvalidLaunch, "LTI request is invalid, OAuth signature verification failed")
	}

	if a.maxSkew <= 0 {
		return nil
	}

	ts, err := strconv.ParseInt(launch.Timestamp, 10, 64)
	if err != nil {
		return problems.New(problems.ErrInvalidLaunch, "LTI request is invalid, malformed oauth_timestamp '%s'", launch.Timestamp)
	}
	skew := a.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > a.maxSkew {
		return problems.New(problems.ErrInvalidLaunch, "LTI request is invalid, oauth_timestamp '%s' is outside the accepted window", launch.Timestamp)
	}

	if a.nonces == nil {
		return nil
	}
	fresh, err := a.nonces.Remember(ctx, consumerKey+":"+launch.Nonce, 2*a.maxSkew)
	if err != nil {
		return fmt.Errorf("remember nonce: %w", err)
	}
	if !fresh {
		return problems.New(problems.ErrInvalidLaunch, "LTI request is invalid, oauth_nonce '%s' has already been used", launch.Nonce)
	}
	return nil
}
