package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/paper-profile/internal/logging"
)

func newTestManager(t *testing.T) (*Manager, *TokenService) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("wonderland"), bcrypt.MinCost)
	require.NoError(t, err)

	tokens := newTestTokenService(t, "foo", time.Minute)
	manager := NewManager(tokens, map[string]string{"alice": string(hash)}, logging.Discard())
	return manager, tokens
}

func newTestRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/api/auth/token", m.IssueToken)
	router.GET("/whoami", m.RequireToken(), func(c *gin.Context) {
		user, _ := CurrentUser(c)
		c.String(http.StatusOK, user)
	})
	return router
}

func login(router http.Handler, user, password string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", nil)
	req.SetBasicAuth(user, password)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestIssueTokenSuccess(t *testing.T) {
	manager, tokens := newTestManager(t)
	router := newTestRouter(manager)

	rec := login(router, "alice", "wonderland")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var payload struct {
		AccessToken string `json:"accessToken"`
		TokenType   string `json:"tokenType"`
		ExpiresIn   int    `json:"expiresIn"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "Bearer", payload.TokenType)
	assert.Equal(t, 60, payload.ExpiresIn)

	subject, err := tokens.Verify(payload.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
}

func TestIssueTokenWithoutBasicAuth(t *testing.T) {
	manager, _ := newTestManager(t)
	router := newTestRouter(manager)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
}

func TestIssueTokenInvalidCredentials(t *testing.T) {
	manager, _ := newTestManager(t)
	router := newTestRouter(manager)

	for _, tc := range []struct{ user, password string }{
		{"alice", "wrong"},
		{"mallory", "wonderland"},
	} {
		rec := login(router, tc.user, tc.password)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
		assert.Equal(t, "INVALID_CREDENTIALS", payload["code"])
	}
}

func TestIssueTokenLocksAfterRepeatedFailures(t *testing.T) {
	manager, _ := newTestManager(t)
	router := newTestRouter(manager)

	for i := 0; i < maxLoginAttempts; i++ {
		rec := login(router, "alice", "wrong")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	rec := login(router, "alice", "wonderland")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	manager.now = func() time.Time { return time.Now().Add(lockDuration + time.Second) }
	rec = login(router, "alice", "wonderland")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIssueTokenWithoutConfiguredUsers(t *testing.T) {
	manager := NewManager(newTestTokenService(t, "foo", time.Minute), nil, logging.Discard())
	router := newTestRouter(manager)

	rec := login(router, "alice", "wonderland")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequireToken(t *testing.T) {
	manager, tokens := newTestManager(t)
	router := newTestRouter(manager)

	token, err := tokens.Issue("alice")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())
}

func TestRequireTokenRejects(t *testing.T) {
	manager, _ := newTestManager(t)
	router := newTestRouter(manager)

	foreign := newTestTokenService(t, "bar", time.Minute)
	foreignToken, err := foreign.Issue("alice")
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":        "",
		"basic scheme":   "Basic YWxpY2U6d29uZGVybGFuZA==",
		"empty bearer":   "Bearer ",
		"malformed":      "Bearer not-a-token",
		"foreign secret": "Bearer " + foreignToken,
	} {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer", name)
	}
}

func TestBearerToken(t *testing.T) {
	token, ok := bearerToken("bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", token)

	_, ok = bearerToken("Bearer")
	assert.False(t, ok)
}
