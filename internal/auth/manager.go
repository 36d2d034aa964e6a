// Package auth は認証・認可機能を提供します。
package auth

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenType = "Bearer"
	realm     = "paper-profile"
)

var (
	loginWindow      = 15 * time.Minute
	lockDuration     = 10 * time.Minute
	maxLoginAttempts = 5
)

// ContextUserKey は、ハンドラー間で検証済みユーザー名を共有するためのキーです。
const ContextUserKey = "auth.user"

// dummyHash は存在しないユーザーでも bcrypt の比較コストを揃えるためのハッシュです。
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("paper-profile-dummy"), bcrypt.DefaultCost)

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// Manager はログインとトークン検証の HTTP 処理をまとめた構造体です。
type Manager struct {
	tokens      *TokenService
	credentials map[string]string
	logger      logrus.FieldLogger
	now         func() time.Time

	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewManager は認証マネージャーを作成します。credentials はユーザー名から bcrypt ハッシュへの対応です。
func NewManager(tokens *TokenService, credentials map[string]string, logger logrus.FieldLogger) *Manager {
	creds := make(map[string]string, len(credentials))
	for user, hash := range credentials {
		creds[user] = hash
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		tokens:      tokens,
		credentials: creds,
		logger:      logger,
		now:         time.Now,
		attempts:    make(map[string]*attemptState),
	}
}

// IssueToken は POST /api/auth/token のハンドラーです。
// HTTP Basic 認証の資格情報と引き換えにアクセストークンを返します。
func (m *Manager) IssueToken(c *gin.Context) {
	username, password, ok := c.Request.BasicAuth()
	if !ok || username == "" {
		c.Header("WWW-Authenticate", `Basic realm="`+realm+`"`)
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "UNAUTHORIZED",
			"message": "Basic 認証でユーザー名とパスワードを送ってください",
		})
		return
	}

	if len(m.credentials) == 0 {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SERVER_MISCONFIGURATION",
			"message": "ログイン可能なユーザーが設定されていません",
		})
		return
	}

	ip := c.ClientIP()
	if retryAfter := m.checkLock(ip); retryAfter > 0 {
		// Retry-After は秒数またはHTTP-Date形式が推奨されているため秒数で返す
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": "一定時間後に再度お試しください",
		})
		return
	}

	if !m.verifyPassword(username, password) {
		remaining := m.recordFailure(ip)
		m.logger.WithFields(logrus.Fields{"user": username, "ip": ip}).Warn("login failed")
		c.Header("WWW-Authenticate", `Basic realm="`+realm+`"`)
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_CREDENTIALS",
			"message":           "ユーザー名またはパスワードが正しくありません",
			"remainingAttempts": remaining,
		})
		return
	}

	m.resetAttempts(ip)

	token, err := m.tokens.Issue(username)
	if err != nil {
		m.logger.WithError(err).Error("failed to issue access token")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "アクセストークンの生成に失敗しました",
		})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{
		"accessToken": token,
		"tokenType":   tokenType,
		"expiresIn":   int(m.tokens.TTL().Seconds()),
	})
}

// RequireToken は Authorization: Bearer ヘッダーを検証するミドルウェアを返します。
func (m *Manager) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Header("WWW-Authenticate", tokenType+` realm="`+realm+`"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "アクセストークンが必要です",
			})
			return
		}

		subject, err := m.tokens.Verify(raw)
		if err != nil {
			c.Header("WWW-Authenticate", tokenType+` realm="`+realm+`", error="invalid_token"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "INVALID_TOKEN",
				"message": "アクセストークンが無効です",
			})
			return
		}

		c.Set(ContextUserKey, subject)
		c.Next()
	}
}

// CurrentUser はミドルウェアが設定した検証済みユーザー名を返します。
func CurrentUser(c *gin.Context) (string, bool) {
	user := c.GetString(ContextUserKey)
	return user, user != ""
}

func bearerToken(header string) (string, bool) {
	scheme, value, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, tokenType) {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (m *Manager) verifyPassword(username, password string) bool {
	hash, ok := m.credentials[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (m *Manager) checkLock(ip string) time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[ip]
	if !ok {
		return 0
	}
	now := m.now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

func (m *Manager) recordFailure(ip string) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	state, ok := m.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > loginWindow {
		state = &attemptState{firstAttempt: now}
		m.attempts[ip] = state
	}

	state.count++
	if state.count >= maxLoginAttempts {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxLoginAttempts
	}

	remaining := maxLoginAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (m *Manager) resetAttempts(ip string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, ip)
}
