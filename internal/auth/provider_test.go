package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": "user-1",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(expiresIn).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestTokenReturnsValidAccessToken(t *testing.T) {
	provider := NewProvider(nil, "http://identity.invalid", "")
	access := signedToken(t, time.Hour)
	require.NoError(t, provider.Set(Credentials{AccessToken: access, RefreshToken: "r1"}))

	got, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, got)
}

func TestTokenWithoutCredentials(t *testing.T) {
	provider := NewProvider(nil, "http://identity.invalid", "")
	_, err := provider.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestExpiredTokenIsRefreshedTransparently(t *testing.T) {
	fresh := signedToken(t, time.Hour)
	var gotRefreshToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/refresh", r.URL.Path)
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotRefreshToken = body["refresh_token"]
		json.NewEncoder(w).Encode(Credentials{AccessToken: fresh, RefreshToken: "r2"})
	}))
	defer srv.Close()

	provider := NewProvider(nil, srv.URL, "")
	require.NoError(t, provider.Set(Credentials{
		AccessToken:  signedToken(t, -time.Minute),
		RefreshToken: "r1",
	}))

	got, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, got)
	assert.Equal(t, "r1", gotRefreshToken)
}

func TestRefreshRejectedRequiresReauth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	provider := NewProvider(nil, srv.URL, "")
	require.NoError(t, provider.Set(Credentials{AccessToken: "a", RefreshToken: "r1"}))

	_, err := provider.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrReauthRequired)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	provider := NewProvider(nil, "http://identity.invalid", "")
	require.NoError(t, provider.Set(Credentials{AccessToken: "a"}))
	_, err := provider.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrReauthRequired)
}

func TestRefreshKeepsOldRefreshTokenWhenOmitted(t *testing.T) {
	fresh := signedToken(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"access_token": fresh})
	}))
	defer srv.Close()

	provider := NewProvider(nil, srv.URL, "")
	require.NoError(t, provider.Set(Credentials{AccessToken: "old", RefreshToken: "r1"}))

	_, err := provider.Refresh(context.Background())
	require.NoError(t, err)

	// A second refresh still has the original refresh token to present.
	_, err = provider.Refresh(context.Background())
	require.NoError(t, err)
}

func TestLifecycleLoadSetClear(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "credentials.json")
	provider := NewProvider(nil, "http://identity.invalid", tokenFile)

	// Load with no file present is fine.
	require.NoError(t, provider.Load())

	access := signedToken(t, time.Hour)
	require.NoError(t, provider.Set(Credentials{AccessToken: access, RefreshToken: "r1"}))

	// A new provider picks up the persisted pair.
	reloaded := NewProvider(nil, "http://identity.invalid", tokenFile)
	require.NoError(t, reloaded.Load())
	got, err := reloaded.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, got)

	require.NoError(t, reloaded.Clear())
	_, err = reloaded.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
	_, statErr := os.Stat(tokenFile)
	assert.True(t, os.IsNotExist(statErr), "token file removed on logout")
}

func TestTokenExpiredHeuristics(t *testing.T) {
	assert.False(t, tokenExpired("not-a-jwt"), "unparseable tokens are left to the server")
	assert.False(t, tokenExpired(signedToken(t, time.Hour)))
	assert.True(t, tokenExpired(signedToken(t, -time.Second)))
	assert.True(t, tokenExpired(signedToken(t, 10*time.Second)), "tokens about to lapse refresh early")
}
