// Package archive stores the transcripts of ended chat sessions in object
// storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/weiawesome/wes-io-consult/pkg/storage"
	"github.com/weiawesome/wes-io-consult/session-service/internal/domain"
)

const contentType = "application/json"

// Transcript is the archived form of a session.
type Transcript struct {
	Session    domain.SessionResponse   `json:"session"`
	Messages   []domain.MessageResponse `json:"messages"`
	ArchivedAt time.Time                `json:"archived_at"`
}

// Archiver writes transcripts under a key prefix.
type Archiver struct {
	store  storage.Storage
	prefix string
}

// NewArchiver creates an archiver on top of store.
func NewArchiver(store storage.Storage, prefix string) *Archiver {
	return &Archiver{store: store, prefix: prefix}
}

// Key returns the object key of a session's transcript.
func (a *Archiver) Key(sessionID string) string {
	return path.Join(a.prefix, sessionID+".json")
}

// Archive writes the transcript of s. Writing again replaces it.
func (a *Archiver) Archive(ctx context.Context, s *domain.Session, msgs []domain.Message, at time.Time) error {
	t := Transcript{
		Session:    s.ToResponse(),
		Messages:   make([]domain.MessageResponse, len(msgs)),
		ArchivedAt: at,
	}
	for i := range msgs {
		t.Messages[i] = msgs[i].ToResponse()
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	if err := a.store.Write(ctx, a.Key(s.ID), bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}

// Load reads an archived transcript. It returns storage.ErrNotFound when
// the session was never archived.
func (a *Archiver) Load(ctx context.Context, sessionID string) (*Transcript, error) {
	rc, err := a.store.Read(ctx, a.Key(sessionID))
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var t Transcript
	if err := json.NewDecoder(rc).Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	return &t, nil
}
