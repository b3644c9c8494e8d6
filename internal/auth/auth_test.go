// ABOUTME: Tests for JWT verification and the HTTP auth middleware
// ABOUTME: Covers valid, expired, forged and missing tokens

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

// httpTestSecret is a 32-byte secret that meets MinSecretLength requirement.
var httpTestSecret = []byte("http-middleware-test-secret-32b!")

func newVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(httpTestSecret)
	require.NoError(t, err)
	return v
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := newVerifier(t)

	token, err := v.Generate("publisher-1", time.Hour)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "publisher-1", got)
}

func TestJWTVerifier_WeakSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestJWTVerifier_InvalidTokens(t *testing.T) {
	v := newVerifier(t)

	other, err := NewJWTVerifier([]byte("a-completely-different-secret-32b"))
	require.NoError(t, err)
	forged, err := other.Generate("publisher-1", time.Hour)
	require.NoError(t, err)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(httpTestSecret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrInvalidToken},
		{"garbage", "not-a-jwt", ErrInvalidToken},
		{"wrong secret", forged, ErrInvalidToken},
		{"missing sub", noSub, ErrMissingClaim},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestJWTVerifier_Expired(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Generate("publisher-1", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestHTTPAuthMiddleware(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Generate("publisher-1", time.Hour)
	require.NoError(t, err)

	var gotPrincipal string
	handler := HTTPAuthMiddleware(v, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrincipal = PrincipalID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotPrincipal = ""
			req := httptest.NewRequest(http.MethodPost, "/prompts", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "publisher-1", gotPrincipal)
			} else {
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestOptionalAuthMiddleware(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Generate("publisher-1", time.Hour)
	require.NoError(t, err)

	var gotPrincipal string
	handler := OptionalAuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrincipal = PrincipalID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Empty(t, gotPrincipal)

	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "publisher-1", gotPrincipal)
}

func TestFromContext_Empty(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	assert.Empty(t, PrincipalID(context.Background()))
}
