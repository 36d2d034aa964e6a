package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrEmptySecret は署名鍵が空のままトークンサービスを作ろうとした場合に返ります。
	ErrEmptySecret = errors.New("token secret must not be empty")
	// ErrInvalidToken は検証に失敗したすべてのトークンに対して返ります。
	// 失敗理由（形式不正・署名不一致・期限切れ）は意図的に区別しません。
	ErrInvalidToken = errors.New("invalid access token")
)

// tokenSigningMethod は固定の対称署名アルゴリズムです。
var tokenSigningMethod = jwt.SigningMethodHS512

// TokenService は利用者に紐づく短命なアクセストークンを発行・検証します。
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService は署名鍵と有効期間を指定して TokenService を作成します。
func NewTokenService(secret []byte, ttl time.Duration) (*TokenService, error) {
	// 鍵が空だと alg=none 相当の偽造可能なトークンを許すことになる
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive: %s", ttl)
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &TokenService{
		secret: key,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// TTL はトークンの有効期間を返します。
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue は subject を埋め込んだ署名付きトークンを発行します。
func (s *TokenService) Issue(subject string) (string, error) {
	if subject == "" {
		return "", errors.New("token subject must not be empty")
	}
	issuedAt := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(tokenSigningMethod, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、埋め込まれた subject を返します。
// 失敗時は常に ErrInvalidToken を返します。
func (s *TokenService) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, s.keyFunc,
		jwt.WithValidMethods([]string{tokenSigningMethod.Alg()}),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	// exp のないトークンは RegisteredClaims の検証を素通りするため明示的に弾く
	if claims.ExpiresAt == nil || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	if !s.now().Before(claims.ExpiresAt.Time) {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (s *TokenService) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method != tokenSigningMethod {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return s.secret, nil
}
