package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/anand-san/murmur/pkg/logger"
)

const testSecret = "test-secret"

func signed(t *testing.T, subject string, scopes ...string) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Scopes: scopes,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestAuth(t *testing.T) {
	h := Auth(testSecret)(echoUser())

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized, ""},
		{"valid", "Bearer " + signed(t, "alice"), http.StatusOK, "alice"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestAuthRejectsOtherSecret(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "mallory"}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	Auth(testSecret)(echoUser()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireScope(t *testing.T) {
	h := Auth(testSecret)(RequireScope("catalog:write")(echoUser()))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, "alice"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req.Header.Set("Authorization", "Bearer "+signed(t, "alice", "catalog:write"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoggingRecordsUserAndFlushes(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	inner := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Flusher)
		assert.True(t, ok, "wrapped writer must support streaming")
		w.WriteHeader(http.StatusAccepted)
	}))
	h := Logging(logger.Wrap(zap.New(core)))(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+signed(t, "alice"))
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "alice", fields["user_id"])
	assert.Equal(t, int64(http.StatusAccepted), fields["status"])
}

func TestValidateConversationID(t *testing.T) {
	assert.NoError(t, ValidateConversationID("0190b3a4-7c1e-7b7a-9a55-1e2d3c4b5a69"))
	assert.NoError(t, ValidateConversationID("client_thread-42"))
	assert.Error(t, ValidateConversationID(""))
	assert.Error(t, ValidateConversationID("has.dot"))
	assert.Error(t, ValidateConversationID("has space"))
	assert.Error(t, ValidateConversationID(strings.Repeat("a", 129)))
}

func TestValidateModelID(t *testing.T) {
	assert.NoError(t, ValidateModelID(""))
	assert.NoError(t, ValidateModelID("openai:gpt-4o"))
	assert.NoError(t, ValidateModelID("ollama:llama3.2:3b"))
	assert.Error(t, ValidateModelID("gpt-4o"))
	assert.Error(t, ValidateModelID(":gpt"))
	assert.Error(t, ValidateModelID("openai:"))
}

func TestValidateMessageContent(t *testing.T) {
	assert.NoError(t, ValidateMessageContent("hello"))
	assert.Error(t, ValidateMessageContent(""))
	assert.Error(t, ValidateMessageContent(strings.Repeat("x", maxContentLength+1)))
	assert.Error(t, ValidateMessageContent(string([]byte{0xff, 0xfe})))
}
