package auth

import (
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenService(t *testing.T, secret string, ttl time.Duration) *TokenService {
	t.Helper()
	svc, err := NewTokenService([]byte(secret), ttl)
	require.NoError(t, err)
	return svc
}

func TestNewTokenServiceRejectsEmptySecret(t *testing.T) {
	_, err := NewTokenService(nil, time.Minute)
	require.ErrorIs(t, err, ErrEmptySecret)

	_, err = NewTokenService([]byte{}, time.Minute)
	require.ErrorIs(t, err, ErrEmptySecret)
}

func TestNewTokenServiceRejectsNonPositiveTTL(t *testing.T) {
	_, err := NewTokenService([]byte("foo"), 0)
	require.Error(t, err)
}

func TestIssueProducesCompactJWT(t *testing.T) {
	svc := newTestTokenService(t, "foo", 9*time.Second)

	token, err := svc.Issue("alice")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[^.]+\.[^.]+\.[^.]+$`), token)
}

func TestIssueRejectsEmptySubject(t *testing.T) {
	svc := newTestTokenService(t, "foo", 9*time.Second)

	_, err := svc.Issue("")
	require.Error(t, err)
}

func TestVerifyRoundTrip(t *testing.T) {
	svc := newTestTokenService(t, "foo", 9*time.Second)

	for _, subject := range []string{"alice", "bob", "user@example.com", "名前"} {
		token, err := svc.Issue(subject)
		require.NoError(t, err)

		got, err := svc.Verify(token)
		require.NoError(t, err)
		assert.Equal(t, subject, got)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	a := newTestTokenService(t, "foo", 9*time.Second)
	b := newTestTokenService(t, "bar", 9*time.Second)

	token, err := a.Issue("alice")
	require.NoError(t, err)

	_, err = b.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	svc := newTestTokenService(t, "foo", 9*time.Second)

	token, err := svc.Issue("alice")
	require.NoError(t, err)

	_, err = svc.Verify(token)
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(10 * time.Second) }
	_, err = svc.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsTokenIssuedInThePast(t *testing.T) {
	svc := newTestTokenService(t, "foo", 9*time.Second)
	svc.now = func() time.Time { return time.Now().Add(-20 * time.Second) }

	token, err := svc.Issue("alice")
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsMalformedAndTamperedTokens(t *testing.T) {
	svc := newTestTokenService(t, "foo", 9*time.Second)
	token, err := svc.Issue("alice")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	for _, candidate := range []string{"", "garbage", "a.b.c", tampered} {
		_, err := svc.Verify(candidate)
		assert.ErrorIs(t, err, ErrInvalidToken, "candidate %q", candidate)
	}
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	svc := newTestTokenService(t, "foo", 9*time.Second)
	claims := jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}

	hs256, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("foo"))
	require.NoError(t, err)
	_, err = svc.Verify(hs256)
	require.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.Verify(none)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsTokenWithoutExpiry(t *testing.T) {
	svc := newTestTokenService(t, "foo", 9*time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "alice"}).SignedString([]byte("foo"))
	require.NoError(t, err)

	_, err = svc.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestSecretIsCopied(t *testing.T) {
	secret := []byte("foo")
	svc, err := NewTokenService(secret, 9*time.Second)
	require.NoError(t, err)
	token, err := svc.Issue("alice")
	require.NoError(t, err)

	secret[0] = 'x'
	_, err = svc.Verify(token)
	require.NoError(t, err)
}

func TestConcurrentIssueAndVerify(t *testing.T) {
	svc := newTestTokenService(t, "foo", 9*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := svc.Issue("alice")
			if !assert.NoError(t, err) {
				return
			}
			subject, err := svc.Verify(token)
			assert.NoError(t, err)
			assert.Equal(t, "alice", subject)
		}()
	}
	wg.Wait()
}
