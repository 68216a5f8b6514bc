// Package auth holds the injected credential provider used by the HTTP
// clients. Tokens are issued by the external identity service; this package
// only stores them, inspects expiry and performs the refresh round trip.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expirySkew is subtracted from the token expiry so a token about to lapse is
// refreshed before it is sent.
const expirySkew = 30 * time.Second

// Credentials is the bearer token pair issued by the identity service.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Provider stores credentials with an explicit lifecycle: Load at startup,
// Set after login, Clear on logout. Token hands out a bearer token, refreshing
// it first when the JWT expiry has passed.
type Provider struct {
	mu              sync.Mutex
	creds           Credentials
	identityBaseURL string
	tokenFile       string
	httpClient      *http.Client
	logger          *slog.Logger
}

// NewProvider creates a credential provider backed by the identity service at
// identityBaseURL. tokenFile may be empty to disable persistence.
func NewProvider(log *slog.Logger, identityBaseURL, tokenFile string) *Provider {
	if log == nil {
		log = slog.Default()
	}
	return &Provider{
		identityBaseURL: strings.TrimRight(identityBaseURL, "/"),
		tokenFile:       tokenFile,
		httpClient:      &http.Client{Timeout: 15 * time.Second},
		logger:          log.With(slog.String("service", "auth")),
	}
}

// Load reads persisted credentials from the token file. A missing file is not
// an error; the provider simply stays empty.
func (p *Provider) Load() error {
	if strings.TrimSpace(p.tokenFile) == "" {
		return nil
	}
	data, err := os.ReadFile(p.tokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read token file: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("parse token file: %w", err)
	}
	p.mu.Lock()
	p.creds = creds
	p.mu.Unlock()
	return nil
}

// Set replaces the stored credentials and persists them when a token file is
// configured.
func (p *Provider) Set(creds Credentials) error {
	p.mu.Lock()
	p.creds = creds
	p.mu.Unlock()
	return p.save(creds)
}

// Clear drops the stored credentials and removes the token file.
func (p *Provider) Clear() error {
	p.mu.Lock()
	p.creds = Credentials{}
	p.mu.Unlock()
	if strings.TrimSpace(p.tokenFile) == "" {
		return nil
	}
	if err := os.Remove(p.tokenFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Token returns a bearer token, refreshing first when the current one has
// expired.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	creds := p.creds
	p.mu.Unlock()

	if strings.TrimSpace(creds.AccessToken) == "" {
		return "", ErrNoCredentials
	}
	if !tokenExpired(creds.AccessToken) {
		return creds.AccessToken, nil
	}
	return p.Refresh(ctx)
}

// Refresh exchanges the refresh token for a new pair. A rejected refresh
// token yields ErrReauthRequired.
func (p *Provider) Refresh(ctx context.Context) (string, error) {
	p.mu.Lock()
	refreshToken := p.creds.RefreshToken
	p.mu.Unlock()

	if strings.TrimSpace(refreshToken) == "" {
		return "", ErrReauthRequired
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return "", err
	}
	url := p.identityBaseURL + "/auth/refresh"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Warn("token refresh rejected", slog.Int("status", resp.StatusCode))
		return "", ErrReauthRequired
	}

	var creds Credentials
	if err := json.Unmarshal(respBody, &creds); err != nil {
		return "", fmt.Errorf("parse refresh response: %w", err)
	}
	if strings.TrimSpace(creds.AccessToken) == "" {
		return "", ErrReauthRequired
	}
	if creds.RefreshToken == "" {
		creds.RefreshToken = refreshToken
	}

	p.mu.Lock()
	p.creds = creds
	p.mu.Unlock()
	if err := p.save(creds); err != nil {
		p.logger.Warn("persist refreshed credentials failed", slog.Any("error", err))
	}
	return creds.AccessToken, nil
}

func (p *Provider) save(creds Credentials) error {
	if strings.TrimSpace(p.tokenFile) == "" {
		return nil
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(p.tokenFile); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(p.tokenFile, data, 0o600)
}

// tokenExpired reports whether the JWT's exp claim has passed. Tokens that do
// not parse or carry no expiry are treated as still valid; the server is the
// authority and will answer 401 if not.
func tokenExpired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Now().Add(expirySkew).After(exp.Time)
}
