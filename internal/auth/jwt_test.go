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

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer("")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestGenerateAndValidate(t *testing.T) {
	iss, err := NewIssuer("clinic-secret")
	require.NoError(t, err)

	token, err := iss.Generate("operator", time.Hour)
	require.NoError(t, err)

	claims, err := iss.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Subject)
	assert.Equal(t, "ops", claims.Scope)
}

func TestValidateRejectsOtherSecretAndExpiry(t *testing.T) {
	iss, _ := NewIssuer("clinic-secret")
	other, _ := NewIssuer("other-secret")

	token, err := other.Generate("operator", time.Hour)
	require.NoError(t, err)
	_, err = iss.Validate(token)
	assert.Error(t, err)

	iss.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := iss.Generate("operator", time.Hour)
	require.NoError(t, err)
	iss.now = time.Now
	_, err = iss.Validate(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestMiddleware(t *testing.T) {
	iss, _ := NewIssuer("clinic-secret")
	token, _ := iss.Generate("operator", time.Hour)

	var seen string
	h := iss.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := ClaimsFrom(r.Context()); ok {
			seen = c.Subject
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/server", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, "operator", seen)
}
