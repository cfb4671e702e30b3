package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"sre_assistant/internal/config"
	"sre_assistant/internal/models"
	"sre_assistant/pkg/logger"

	"github.com/golang-jwt/jwt"
)

// expirySkew is subtracted from the token lifetime so a token is refreshed
// before it actually expires. A token presented right at the edge of its
// lifetime can be rejected mid-request by the resource server.
const expirySkew = 60 * time.Second

// TokenManager acquires and caches machine-to-machine access tokens from
// Keycloak using the client_credentials grant. It is safe for concurrent
// use; at most one refresh request is in flight at a time.
type TokenManager struct {
	cfg        config.KeycloakConfig
	httpClient *http.Client
	log        *logger.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	// now is swappable in tests.
	now func() time.Time
}

func NewTokenManager(cfg config.KeycloakConfig, log *logger.Logger) *TokenManager {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TokenManager{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
		now:        time.Now,
	}
}

// GetToken returns a valid access token, refreshing it when the cached one
// is missing or within the expiry skew. Failures are reported as AUTH_ERROR
// so callers can tell a token acquisition failure apart from a downstream
// 401.
func (m *TokenManager) GetToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && m.now().Add(expirySkew).Before(m.expiresAt) {
		return m.token, nil
	}

	token, expiresAt, err := m.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	m.token = token
	m.expiresAt = expiresAt
	if m.log != nil {
		m.log.WithPayload(map[string]interface{}{
			"expires_at": expiresAt.UTC().Format(time.RFC3339),
		}).Info("Acquired service account token")
	}
	return token, nil
}

// Invalidate drops the cached token. Called after a downstream 401 so the
// next request starts from a fresh token.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = ""
	m.expiresAt = time.Time{}
	m.mu.Unlock()
}

func (m *TokenManager) fetchToken(ctx context.Context) (string, time.Time, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", m.cfg.ClientID)
	form.Set("client_secret", m.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, authError(fmt.Sprintf("build token request: %v", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, authError(fmt.Sprintf("token endpoint unreachable: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", time.Time{}, authError(fmt.Sprintf("read token response: %v", err))
	}
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, authError(fmt.Sprintf("token endpoint returned %d", resp.StatusCode))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.AccessToken == "" {
		return "", time.Time{}, authError("token response missing access_token")
	}

	return payload.AccessToken, m.tokenExpiry(payload.AccessToken, payload.ExpiresIn), nil
}

// tokenExpiry prefers the exp claim embedded in the token itself and falls
// back to the expires_in field. The token is not validated here; signature
// verification is the resource server's job, we only need the deadline.
func (m *TokenManager) tokenExpiry(token string, expiresIn int64) time.Time {
	parser := jwt.Parser{}
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err == nil {
		if exp, ok := claims["exp"].(float64); ok && exp > 0 {
			return time.Unix(int64(exp), 0)
		}
	}
	if expiresIn > 0 {
		return m.now().Add(time.Duration(expiresIn) * time.Second)
	}
	// Unknown lifetime: keep the token for a short fixed window.
	return m.now().Add(5 * time.Minute)
}

func authError(msg string) error {
	return &models.ToolError{Code: models.ErrCodeAuth, Message: msg}
}
