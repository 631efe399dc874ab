package repository

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/session-service/internal/domain"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB

	mu      sync.Mutex
	entropy io.Reader
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{
		db:      db,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (r *GormMessageRepository) newID(t time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), r.entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate ULID: %w", err)
	}
	return id.String(), nil
}

// Create stores a message, assigning a time ordered id.
func (r *GormMessageRepository) Create(ctx context.Context, m *domain.Message) error {
	l := log.Ctx(ctx)

	id, err := r.newID(m.CreatedAt)
	if err != nil {
		return err
	}
	m.ID = id

	model := &domain.MessageModel{
		ID:         m.ID,
		SessionID:  m.SessionID,
		SenderID:   m.SenderID,
		SenderRole: m.SenderRole,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		l.Error().Err(err).Str(log.FieldSessionID, m.SessionID).Msg("failed to create message in db")
		return err
	}
	return nil
}

// ListBySession returns the transcript in creation order.
func (r *GormMessageRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.Message, error) {
	var models []domain.MessageModel
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, len(models))
	for i := range models {
		msgs[i] = *models[i].ToDomain()
	}
	return msgs, nil
}

// MarkSeen flags messages as seen.
func (r *GormMessageRepository) MarkSeen(ctx context.Context, sessionID, readerID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var changed []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.MessageModel{}).
			Where("session_id = ? AND id IN ? AND sender_id <> ? AND seen = ?", sessionID, ids, readerID, false).
			Order("id ASC").
			Pluck("id", &changed).Error; err != nil {
			return err
		}
		if len(changed) == 0 {
			return nil
		}
		return tx.Model(&domain.MessageModel{}).Where("id IN ?", changed).Update("seen", true).Error
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}
