package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-consult/pkg/response"
)

// ErrSessionNotFound is returned when session-service has no such session.
var ErrSessionNotFound = errors.New("session not found")

// Parties are the two participants of a session or request.
type Parties struct {
	SessionID   string `json:"session_id"`
	RequesterID string `json:"requester_id"`
	ProviderID  string `json:"provider_id"`
	Status      string `json:"status"`
}

// Includes reports whether participantID is one of the parties.
func (p *Parties) Includes(participantID string) bool {
	return participantID != "" && (p.RequesterID == participantID || p.ProviderID == participantID)
}

type partiesResponse struct {
	Success bool                `json:"success"`
	Data    *Parties            `json:"data"`
	Error   *response.ErrorInfo `json:"error,omitempty"`
}

// SessionClient looks up session parties in session-service. Parties never
// change for a given session, so lookups are cached for cacheTTL.
type SessionClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cache      map[string]*cachedParties
	cacheTTL   time.Duration
	mu         sync.RWMutex
	now        func() time.Time
}

type cachedParties struct {
	parties   *Parties
	expiresAt time.Time
}

// NewSessionClient creates a client authenticating with a service token.
func NewSessionClient(baseURL, token string, timeout, cacheTTL time.Duration) *SessionClient {
	return &SessionClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		cache:      make(map[string]*cachedParties),
		cacheTTL:   cacheTTL,
		now:        time.Now,
	}
}

// GetParties returns the parties of sessionID.
func (c *SessionClient) GetParties(ctx context.Context, sessionID string) (*Parties, error) {
	if p := c.getFromCache(sessionID); p != nil {
		return p, nil
	}

	u := fmt.Sprintf("%s/internal/v1/sessions/%s/parties", c.baseURL, url.PathEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrSessionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("session service returned status: %d", resp.StatusCode)
	}

	var body partiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !body.Success || body.Data == nil {
		return nil, fmt.Errorf("session service error: %v", body.Error)
	}

	c.addToCache(sessionID, body.Data)
	return body.Data, nil
}

// InvalidateCache removes a session from the cache.
func (c *SessionClient) InvalidateCache(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, sessionID)
}

func (c *SessionClient) getFromCache(sessionID string) *Parties {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if cached, ok := c.cache[sessionID]; ok && c.now().Before(cached.expiresAt) {
		return cached.parties
	}
	return nil
}

func (c *SessionClient) addToCache(sessionID string, p *Parties) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[sessionID] = &cachedParties{
		parties:   p,
		expiresAt: c.now().Add(c.cacheTTL),
	}
}
