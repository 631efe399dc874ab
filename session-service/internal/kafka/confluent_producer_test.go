package kafka

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionMessage(t *testing.T) {
	ev := &SessionEvent{
		Type:          EventSessionEnded,
		SessionID:     "s-1",
		Kind:          "CHAT",
		RequesterID:   "c1",
		ProviderID:    "p1",
		RatePerMinute: 10,
		Reason:        "explicit",
		TotalAmount:   15,
		TotalDuration: 90,
		Timestamp:     1714557690,
	}

	msg, err := sessionMessage("consult-session-events", ev)
	require.NoError(t, err)
	assert.Equal(t, "consult-session-events", *msg.TopicPartition.Topic)
	assert.Equal(t, []byte("s-1"), msg.Key)
	assert.Equal(t, int64(1714557690), msg.Timestamp.Unix())

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, EventSessionEnded, headers[HeaderEventType])
	assert.Equal(t, "p1", headers[HeaderProvider])

	var decoded SessionEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, *ev, decoded)
}
