package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"sre_assistant/internal/config"
	"sre_assistant/internal/models"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{"exp": float64(time.Now().Add(ttl).Unix()), "sub": "sre-assistant"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func tokenEndpoint(t *testing.T, ttl time.Duration, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.FormValue("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": signedToken(t, ttl),
			"expires_in":   int(ttl.Seconds()),
		})
	}))
}

func TestGetTokenCachesWhileValid(t *testing.T) {
	calls := 0
	srv := tokenEndpoint(t, time.Hour, &calls)
	defer srv.Close()

	tm := NewTokenManager(config.KeycloakConfig{TokenURL: srv.URL, ClientID: "sre", ClientSecret: "s"}, nil)

	first, err := tm.GetToken(context.Background())
	require.NoError(t, err)
	second, err := tm.GetToken(context.Background())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, calls)
}

func TestGetTokenSingleFlight(t *testing.T) {
	calls := 0
	srv := tokenEndpoint(t, time.Hour, &calls)
	defer srv.Close()

	tm := NewTokenManager(config.KeycloakConfig{TokenURL: srv.URL, ClientID: "sre", ClientSecret: "s"}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tm.GetToken(context.Background())
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, calls)
}

func TestGetTokenRefreshesWithinExpirySkew(t *testing.T) {
	// 30s lifetime is inside the 60s refresh skew, so every call refreshes.
	calls := 0
	srv := tokenEndpoint(t, 30*time.Second, &calls)
	defer srv.Close()

	tm := NewTokenManager(config.KeycloakConfig{TokenURL: srv.URL, ClientID: "sre", ClientSecret: "s"}, nil)

	_, err := tm.GetToken(context.Background())
	require.NoError(t, err)
	_, err = tm.GetToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestInvalidateForcesRefresh(t *testing.T) {
	calls := 0
	srv := tokenEndpoint(t, time.Hour, &calls)
	defer srv.Close()

	tm := NewTokenManager(config.KeycloakConfig{TokenURL: srv.URL, ClientID: "sre", ClientSecret: "s"}, nil)

	_, err := tm.GetToken(context.Background())
	require.NoError(t, err)
	tm.Invalidate()
	_, err = tm.GetToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestGetTokenReportsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid client", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tm := NewTokenManager(config.KeycloakConfig{TokenURL: srv.URL, ClientID: "sre", ClientSecret: "wrong"}, nil)

	_, err := tm.GetToken(context.Background())
	require.Error(t, err)

	te, ok := err.(*models.ToolError)
	require.True(t, ok)
	require.Equal(t, models.ErrCodeAuth, te.Code)
}

func TestGetTokenFallsBackToExpiresIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "opaque-token",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	tm := NewTokenManager(config.KeycloakConfig{TokenURL: srv.URL, ClientID: "sre", ClientSecret: "s"}, nil)

	token, err := tm.GetToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "opaque-token", token)
	require.True(t, tm.expiresAt.After(time.Now().Add(30*time.Minute)))
}
