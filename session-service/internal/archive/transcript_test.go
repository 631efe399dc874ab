package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-consult/pkg/storage"
	"github.com/weiawesome/wes-io-consult/session-service/internal/domain"
)

func TestArchiver_ArchiveAndLoad(t *testing.T) {
	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	a := NewArchiver(store, "transcripts")
	ctx := context.Background()

	at := time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)
	s := &domain.Session{ID: "s1", Kind: domain.KindChat, RequesterID: "c1", ProviderID: "p1", Status: domain.StatusEnded, TotalAmount: 45, TotalDuration: 270}
	msgs := []domain.Message{
		{ID: "01A", SessionID: "s1", SenderID: "c1", Content: "hello", CreatedAt: at.Add(-time.Minute)},
		{ID: "01B", SessionID: "s1", SenderID: "p1", Content: "hi", CreatedAt: at.Add(-30 * time.Second), Seen: true},
	}
	require.NoError(t, a.Archive(ctx, s, msgs, at))
	assert.Equal(t, "transcripts/s1.json", a.Key("s1"))

	got, err := a.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.Session.ID)
	assert.Equal(t, int64(270), got.Session.TotalDuration)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hi", got.Messages[1].Content)
	assert.True(t, got.Messages[1].Seen)
	assert.True(t, got.ArchivedAt.Equal(at))

	_, err = a.Load(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
