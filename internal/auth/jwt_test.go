package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "access-secret-32-chars-long!!!!!"

func TestJWTManager_IssueAndValidate(t *testing.T) {
	mgr := NewJWTManager(testSecret)

	t.Run("issued token validates", func(t *testing.T) {
		tok, err := mgr.IssueAccessToken("user-123", 15*time.Minute)
		require.NoError(t, err)

		claims, err := mgr.ValidateAccessToken(tok)
		require.NoError(t, err)
		assert.Equal(t, "user-123", claims.SubjectID())
		assert.Equal(t, issuer, claims.Issuer)
	})

	t.Run("invalid token fails validation", func(t *testing.T) {
		_, err := mgr.ValidateAccessToken("invalid-token")
		assert.Error(t, err)
	})

	t.Run("wrong secret fails", func(t *testing.T) {
		other := NewJWTManager("another-secret-that-is-32-chars!")
		tok, err := other.IssueAccessToken("user-123", time.Minute)
		require.NoError(t, err)
		_, err = mgr.ValidateAccessToken(tok)
		assert.Error(t, err)
	})

	t.Run("expired token fails", func(t *testing.T) {
		tok, err := mgr.IssueAccessToken("user-exp", -time.Second)
		require.NoError(t, err)
		_, err = mgr.ValidateAccessToken(tok)
		assert.Error(t, err)
	})
}

func TestJWTManager_SubClaimOnly(t *testing.T) {
	mgr := NewJWTManager(testSecret)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-sub",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)

	claims, err := mgr.ValidateAccessToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-sub", claims.SubjectID())
}

func TestJWTManager_NoSubject(t *testing.T) {
	mgr := NewJWTManager(testSecret)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = mgr.ValidateAccessToken(signed)
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestMiddleware(t *testing.T) {
	mgr := NewJWTManager(testSecret)
	var seen string
	h := Middleware(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	tok, err := mgr.IssueAccessToken("user-ok", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user-ok", seen)
}
