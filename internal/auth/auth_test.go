package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestLocalValidator(t *testing.T) {
	v := NewLocalValidator("test-secret")
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		token := signToken(t, "test-secret", jwt.MapClaims{
			"sub":   "operator-1",
			"roles": []string{"admin"},
			"exp":   time.Now().Add(time.Hour).Unix(),
		})
		resp, err := v.Validate(ctx, token)
		require.NoError(t, err)
		assert.True(t, resp.Valid)
		assert.Equal(t, "operator-1", resp.UserID)
		assert.Equal(t, []string{"admin"}, resp.Roles)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signToken(t, "other-secret", jwt.MapClaims{"sub": "operator-1"})
		_, err := v.Validate(ctx, token)
		assert.Error(t, err)
	})

	t.Run("expired token", func(t *testing.T) {
		token := signToken(t, "test-secret", jwt.MapClaims{
			"sub": "operator-1",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		_, err := v.Validate(ctx, token)
		assert.Error(t, err)
	})

	t.Run("missing subject", func(t *testing.T) {
		token := signToken(t, "test-secret", jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
		_, err := v.Validate(ctx, token)
		assert.Error(t, err)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := v.Validate(ctx, "")
		assert.Error(t, err)
	})
}

func TestClient_Validate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/auth/validate", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"valid":true,"user_id":"operator-1","roles":["admin"]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Validate(context.Background(), "sometoken")
	require.NoError(t, err)
	assert.Equal(t, "operator-1", resp.UserID)
}

func TestClient_ValidateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Validate(context.Background(), "sometoken")
	assert.Error(t, err)
}

func TestMiddleware_Protect(t *testing.T) {
	v := NewLocalValidator("test-secret")
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(UserID(r.Context())))
	}

	t.Run("disabled passes through as anonymous", func(t *testing.T) {
		m := NewMiddleware(v, false)
		rec := httptest.NewRecorder()
		m.Protect(handler)(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "anonymous", rec.Body.String())
	})

	t.Run("missing header rejected", func(t *testing.T) {
		m := NewMiddleware(v, true)
		rec := httptest.NewRecorder()
		m.Protect(handler)(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid bearer sets identity", func(t *testing.T) {
		m := NewMiddleware(v, true)
		token := signToken(t, "test-secret", jwt.MapClaims{
			"sub": "operator-1",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		m.Protect(handler)(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "operator-1", rec.Body.String())
	})

	t.Run("malformed header rejected", func(t *testing.T) {
		m := NewMiddleware(v, true)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic abc")
		rec := httptest.NewRecorder()
		m.Protect(handler)(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
