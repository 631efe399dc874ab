package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelToTopicAndKey_RoomWithColons(t *testing.T) {
	topic, key, err := channelToTopicAndKey(RelayRoomChannel(SessionRoom("42")))
	require.NoError(t, err)
	assert.Equal(t, "consult-to-relay", topic)
	assert.Equal(t, "session:42", key)

	topic, err = patternToTopic(PatternRelayRoom)
	require.NoError(t, err)
	assert.Equal(t, "consult-to-relay", topic)

	_, _, err = channelToTopicAndKey("bogus")
	assert.Error(t, err)
}

func TestParseRoom(t *testing.T) {
	kind, id, ok := ParseRoom(ParticipantRoom("p-1"))
	require.True(t, ok)
	assert.Equal(t, "participant", kind)
	assert.Equal(t, "p-1", id)

	kind, id, ok = ParseRoom(MediaRoom("s-9"))
	require.True(t, ok)
	assert.Equal(t, "media", kind)
	assert.Equal(t, "s-9", id)

	_, _, ok = ParseRoom("session:")
	assert.False(t, ok)
	_, _, ok = ParseRoom("lobby")
	assert.False(t, ok)
}

func TestEvent_RoundTripPayload(t *testing.T) {
	evt, err := NewEvent(KindSessionEnded, SessionRoom("s1"), &SessionEndedPayload{
		SessionID: "s1", Reason: EndReasonExplicit, TotalAmount: 45, TotalDuration: 270,
	})
	require.NoError(t, err)

	var p SessionEndedPayload
	require.NoError(t, evt.UnmarshalPayload(&p))
	assert.Equal(t, int64(270), p.TotalDuration)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestKind_ClientPublishable(t *testing.T) {
	assert.True(t, KindTyping.ClientPublishable())
	assert.True(t, KindMediaOffer.ClientPublishable())
	assert.False(t, KindSessionEnded.ClientPublishable())
	assert.False(t, KindWalletUpdated.ClientPublishable())
}
