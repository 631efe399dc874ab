package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-consult/consult-agent/internal/domain"
	"github.com/weiawesome/wes-io-consult/pkg/response"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "tok", 0)
}

func TestAcceptSession_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/requests/r1/accept", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "p1", body["provider_id"])

		writeJSON(w, http.StatusOK, response.Response{Success: true, Data: AcceptResult{
			Session:     &domain.Session{ID: "s1", Status: domain.StatusActive},
			MediaRoomID: "room-s1",
		}})
	})

	res, err := c.AcceptSession(context.Background(), "r1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "s1", res.Session.ID)
	assert.Equal(t, domain.StatusActive, res.Session.Status)
	assert.Equal(t, "room-s1", res.MediaRoomID)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		code   string
		check  func(error) bool
	}{
		{"race lost", http.StatusConflict, response.CodeNotAvailable, func(err error) bool {
			return assert.ErrorIs(t, err, domain.ErrNoLongerAvailable) && domain.IsConflict(err)
		}},
		{"busy", http.StatusConflict, response.CodeBusy, func(err error) bool {
			return assert.ErrorIs(t, err, domain.ErrProviderBusy)
		}},
		{"gone by code", http.StatusNotFound, response.CodeGone, domain.IsAuthority},
		{"gone by status", http.StatusGone, "", domain.IsAuthority},
		{"server error", http.StatusInternalServerError, response.CodeInternal, domain.IsTransport},
		{"insufficient", http.StatusPaymentRequired, response.CodeInsufficient, domain.IsConflict},
		{"other", http.StatusForbidden, response.CodeForbidden, func(err error) bool {
			var apiErr *APIError
			return assert.ErrorAs(t, err, &apiErr) && assert.Equal(t, http.StatusForbidden, apiErr.Status)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, response.Response{Error: &response.ErrorInfo{Code: tt.code, Message: "nope"}})
			})
			_, err := c.EndSession(context.Background(), "s1", "p1")
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(srv.URL, "", 0)

	_, err := c.GetActiveSession(context.Background(), "p1")
	assert.True(t, domain.IsTransport(err))
}

func TestGetActiveSession_None(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/participants/p1/active-session", r.URL.Path)
		writeJSON(w, http.StatusOK, response.Response{Success: true})
	})

	s, err := c.GetActiveSession(context.Background(), "p1")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestMessagesAndSeen(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/sessions/s1/messages":
			writeJSON(w, http.StatusOK, response.Response{Success: true, Data: []domain.Message{
				{ID: "m1", SessionID: "s1", Content: "hi", Seen: true},
			}})
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/sessions/s1/messages/seen":
			var body map[string][]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, []string{"m1"}, body["message_ids"])
			writeJSON(w, http.StatusOK, response.Response{Success: true})
		default:
			http.NotFound(w, r)
		}
	})

	msgs, err := c.ListMessages(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Seen)

	require.NoError(t, c.MarkSeen(context.Background(), "s1", []string{"m1"}))
}

func TestICEServers_UsesMediaToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer media-tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, response.Response{Success: true, Data: map[string]interface{}{
			"ice_servers": []ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}},
		}})
	})

	servers, err := c.ICEServers(context.Background(), "media-tok")
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "stun:stun.example.org:3478", servers[0].URLs[0])
}
