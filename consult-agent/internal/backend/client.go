// Package backend is the agent's HTTP client for session-service, the
// backend of record. Its success responses are the only thing allowed to move
// authoritative session state.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/domain"
	"github.com/weiawesome/wes-io-consult/pkg/response"
)

// ICEServer is one STUN or TURN server handed to the media engine.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// AcceptResult is returned by a successful accept.
type AcceptResult struct {
	Session     *domain.Session `json:"session"`
	MediaRoomID string          `json:"media_room_id"`
}

// EndResult carries the authoritative totals of an ended session.
type EndResult struct {
	Session       *domain.Session `json:"session"`
	TotalAmount   float64         `json:"total_amount"`
	TotalDuration int64           `json:"total_duration"`
}

// APIError is a non-success response that maps to no domain error.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("session-service %d %s: %s", e.Status, e.Code, e.Message)
}

type envelope struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// Client calls the session-service REST API on behalf of one participant.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client authenticating with an access token.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CreateRequest opens a WAITING request to providerID.
func (c *Client) CreateRequest(ctx context.Context, providerID string, kind domain.SessionKind, media domain.MediaKind) (*domain.Session, error) {
	body := map[string]string{
		"provider_id": providerID,
		"kind":        string(kind),
		"media_kind":  string(media),
	}
	var s domain.Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/requests", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CancelRequest withdraws a WAITING request made by this participant.
func (c *Client) CancelRequest(ctx context.Context, requestID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/requests/"+url.PathEscape(requestID)+"/cancel", nil, nil)
}

// AcceptSession accepts a request. Losing a race for the same request yields
// domain.ErrNoLongerAvailable.
func (c *Client) AcceptSession(ctx context.Context, requestID, providerID string) (*AcceptResult, error) {
	body := map[string]string{"provider_id": providerID}
	var res AcceptResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/requests/"+url.PathEscape(requestID)+"/accept", body, &res); err != nil {
		return nil, err
	}
	if res.Session == nil {
		return nil, fmt.Errorf("accept response without session")
	}
	return &res, nil
}

// RejectSession declines a request.
func (c *Client) RejectSession(ctx context.Context, requestID, providerID, reason string) error {
	body := map[string]string{"provider_id": providerID, "reason": reason}
	return c.do(ctx, http.MethodPost, "/api/v1/requests/"+url.PathEscape(requestID)+"/reject", body, nil)
}

// EndSession ends an ACTIVE session. Ending an already ended session returns
// the same totals.
func (c *Client) EndSession(ctx context.Context, sessionID, actorID string) (*EndResult, error) {
	body := map[string]string{"actor_id": actorID}
	var res EndResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/end", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetActiveSession returns the participant's ACTIVE session, or nil.
func (c *Client) GetActiveSession(ctx context.Context, participantID string) (*domain.Session, error) {
	var s *domain.Session
	if err := c.do(ctx, http.MethodGet, "/api/v1/participants/"+url.PathEscape(participantID)+"/active-session", nil, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetProfile fetches a participant profile.
func (c *Client) GetProfile(ctx context.Context, participantID string) (*domain.ProfileSnapshot, error) {
	var p domain.ProfileSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/participants/"+url.PathEscape(participantID)+"/profile", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SendMessage persists a chat message. Fan-out to the other participant is
// done by session-service.
func (c *Client) SendMessage(ctx context.Context, sessionID, content string) (*domain.Message, error) {
	body := map[string]string{"content": content}
	var m domain.Message
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/messages", body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns the session transcript in creation order.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var msgs []domain.Message
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkSeen marks messages sent by the other participant as seen.
func (c *Client) MarkSeen(ctx context.Context, sessionID string, messageIDs []string) error {
	body := map[string][]string{"message_ids": messageIDs}
	return c.do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/messages/seen", body, nil)
}

// SetAvailability toggles the calling provider's availability.
func (c *Client) SetAvailability(ctx context.Context, available bool) error {
	body := map[string]bool{"available": available}
	return c.do(ctx, http.MethodPut, "/api/v1/providers/me/availability", body, nil)
}

// MediaToken returns a short lived token scoped to the session's media room.
func (c *Client) MediaToken(ctx context.Context, sessionID string) (string, error) {
	var res struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/media-token", nil, &res); err != nil {
		return "", err
	}
	return res.Token, nil
}

// ICEServers returns the ICE configuration for a media token holder.
func (c *Client) ICEServers(ctx context.Context, mediaToken string) ([]ICEServer, error) {
	var res struct {
		ICEServers []ICEServer `json:"ice_servers"`
	}
	if err := c.doWithToken(ctx, mediaToken, http.MethodGet, "/api/v1/media/ice-servers", nil, &res); err != nil {
		return nil, err
	}
	return res.ICEServers, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	return c.doWithToken(ctx, c.token, method, path, in, out)
}

func (c *Client) doWithToken(ctx context.Context, token, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s %s returned %d", domain.ErrTransport, method, path, resp.StatusCode)
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode >= 300 || !env.Success {
		return mapError(resp.StatusCode, env.Error)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

func mapError(status int, info *response.ErrorInfo) error {
	code, msg := "", ""
	if info != nil {
		code, msg = info.Code, info.Message
	}

	switch code {
	case response.CodeNotAvailable:
		return fmt.Errorf("%w: %s", domain.ErrNoLongerAvailable, msg)
	case response.CodeBusy:
		return fmt.Errorf("%w: %s", domain.ErrProviderBusy, msg)
	case response.CodeInsufficient:
		return fmt.Errorf("%w: %s", domain.ErrInsufficientFunds, msg)
	case response.CodeGone:
		return fmt.Errorf("%w: %s", domain.ErrAuthority, msg)
	case response.CodeConflict:
		return fmt.Errorf("%w: %s", domain.ErrConflict, msg)
	}

	switch {
	case status == http.StatusGone:
		return fmt.Errorf("%w: %s", domain.ErrAuthority, msg)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: session-service %d: %s", domain.ErrTransport, status, msg)
	}
	return &APIError{Status: status, Code: code, Message: msg}
}
