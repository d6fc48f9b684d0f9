package licensing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential holds the vendor API credentials bound to one authorization.
type Credential struct {
	AuthorizationID string
	ClientID        string
	ClientSecret    string
	TechnicalEmail  string
}

// Authorizer exchanges a signed assertion for a bearer token per
// authorization and caches tokens until shortly before they expire.
type Authorizer struct {
	tokenURL    string
	credentials map[string]Credential
	httpClient  *http.Client

	mu     sync.Mutex
	tokens map[string]bearerToken
}

type bearerToken struct {
	value     string
	expiresAt time.Time
}

func NewAuthorizer(tokenURL string, credentials []Credential, httpClient *http.Client) *Authorizer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	byID := make(map[string]Credential, len(credentials))
	for _, credential := range credentials {
		byID[credential.AuthorizationID] = credential
	}
	return &Authorizer{
		tokenURL:    tokenURL,
		credentials: byID,
		httpClient:  httpClient,
		tokens:      make(map[string]bearerToken),
	}
}

// Token returns a valid bearer token for the authorization, minting a new one
// when none is cached or the cached one is about to expire.
func (a *Authorizer) Token(ctx context.Context, authorizationID string) (string, error) {
	credential, ok := a.credentials[authorizationID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrAuthorizationNotFound, authorizationID)
	}

	a.mu.Lock()
	cached, ok := a.tokens[authorizationID]
	a.mu.Unlock()
	if ok && time.Until(cached.expiresAt) > time.Minute {
		return cached.value, nil
	}

	assertion, err := signAssertion(credential)
	if err != nil {
		return "", fmt.Errorf("licensing: sign assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", credential.ClientID)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("licensing: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("licensing: request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("licensing: token endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("licensing: decode token response: %w", err)
	}

	token := bearerToken{
		value:     payload.AccessToken,
		expiresAt: time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}
	a.mu.Lock()
	a.tokens[authorizationID] = token
	a.mu.Unlock()

	return token.value, nil
}

func signAssertion(credential Credential) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": credential.ClientID,
		"sub": credential.TechnicalEmail,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(credential.ClientSecret))
}
