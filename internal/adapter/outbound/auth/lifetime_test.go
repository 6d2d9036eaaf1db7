package auth

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenLifetime(t *testing.T) {
	now := time.Now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(2 * time.Hour)),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)

	tests := []struct {
		name string
		tr   tokenResponse
		want time.Duration
	}{
		{name: "numeric expires_in", tr: tokenResponse{AccessToken: "opaque", ExpiresIn: json.RawMessage(`120`)}, want: 2 * time.Minute},
		{name: "string expires_in", tr: tokenResponse{AccessToken: "opaque", ExpiresIn: json.RawMessage(`"300"`)}, want: 5 * time.Minute},
		{name: "jwt exp fallback", tr: tokenResponse{AccessToken: signed}, want: 2 * time.Hour},
		{name: "expires_in wins over jwt", tr: tokenResponse{AccessToken: signed, ExpiresIn: json.RawMessage(`60`)}, want: time.Minute},
		{name: "opaque without expiry", tr: tokenResponse{AccessToken: "opaque"}, want: time.Hour},
		{name: "garbage expires_in", tr: tokenResponse{AccessToken: "opaque", ExpiresIn: json.RawMessage(`"soon"`)}, want: time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenLifetime(tt.tr, now)
			assert.InDelta(t, tt.want.Seconds(), got.Seconds(), 1)
		})
	}
}
