package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionClient_GetPartiesCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/internal/v1/sessions/s1/parties":
			w.Write([]byte(`{"success":true,"data":{"session_id":"s1","requester_id":"c1","provider_id":"p1","status":"ACTIVE"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success":false,"error":{"code":"NOT_FOUND","message":"no such session"}}`))
		}
	}))
	defer srv.Close()

	now := time.Unix(1000, 0)
	c := NewSessionClient(srv.URL, "svc-token", time.Second, time.Minute)
	c.now = func() time.Time { return now }

	p, err := c.GetParties(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, p.Includes("c1"))
	assert.True(t, p.Includes("p1"))
	assert.False(t, p.Includes("x"))
	assert.False(t, p.Includes(""))

	_, err = c.GetParties(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(2 * time.Minute)
	_, err = c.GetParties(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	_, err = c.GetParties(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
