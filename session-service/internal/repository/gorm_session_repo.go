package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-io-consult/pkg/log"
	"github.com/weiawesome/wes-io-consult/session-service/internal/domain"
)

// GormSessionRepository implements SessionRepository using GORM.
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a new GORM-based session repository.
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

// CreateRequest stores a WAITING session unless the requester already has a
// WAITING or ACTIVE one.
func (r *GormSessionRepository) CreateRequest(ctx context.Context, s *domain.Session) error {
	l := log.Ctx(ctx)

	s.ID = uuid.New().String()
	s.Status = domain.StatusWaiting

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRows(tx, &[]domain.WalletModel{}, "participant_id = ?", s.RequesterID); err != nil {
			return err
		}
		var open int64
		if err := tx.Model(&domain.SessionModel{}).
			Where("requester_id = ? AND status IN ?", s.RequesterID, []string{string(domain.StatusWaiting), string(domain.StatusActive)}).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return ErrOpenSessionExists
		}
		return tx.Create(domain.SessionToModel(s)).Error
	})
	if err != nil {
		if !errors.Is(err, ErrOpenSessionExists) {
			l.Error().Err(err).Str(log.FieldParticipantID, s.RequesterID).Msg("failed to create request in db")
		}
		return err
	}
	l.Debug().Str(log.FieldSessionID, s.ID).Msg("request created in db")
	return nil
}

// GetByID retrieves a session by ID.
func (r *GormSessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var model domain.SessionModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// FindActiveByParticipant returns the ACTIVE session participantID is part of.
func (r *GormSessionRepository) FindActiveByParticipant(ctx context.Context, participantID string) (*domain.Session, error) {
	var model domain.SessionModel
	result := r.db.WithContext(ctx).
		Where("status = ? AND (requester_id = ? OR provider_id = ?)", string(domain.StatusActive), participantID, participantID).
		Order("started_at DESC").
		First(&model)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// Activate moves a WAITING session to ACTIVE. Exactly one caller wins.
func (r *GormSessionRepository) Activate(ctx context.Context, id string, startedAt time.Time) (*domain.Session, error) {
	l := log.Ctx(ctx)

	var out domain.SessionModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current domain.SessionModel
		if err := tx.First(&current, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		if current.Status != string(domain.StatusWaiting) {
			return ErrSessionNotWaiting
		}

		if err := lockRows(tx, &[]domain.ProviderModel{}, "id = ?", current.ProviderID); err != nil {
			return err
		}
		var busy int64
		if err := tx.Model(&domain.SessionModel{}).
			Where("provider_id = ? AND status = ?", current.ProviderID, string(domain.StatusActive)).
			Count(&busy).Error; err != nil {
			return err
		}
		if busy > 0 {
			return ErrProviderBusy
		}

		result := tx.Model(&domain.SessionModel{}).
			Where("id = ? AND status = ?", id, string(domain.StatusWaiting)).
			Updates(map[string]interface{}{
				"status":     string(domain.StatusActive),
				"started_at": startedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrSessionNotWaiting
		}
		return tx.First(&out, "id = ?", id).Error
	})
	if err != nil {
		if !isExpected(err) {
			l.Error().Err(err).Str(log.FieldSessionID, id).Msg("failed to activate session in db")
		}
		return nil, err
	}
	return out.ToDomain(), nil
}

// lockRows holds FOR UPDATE locks on the matching rows until tx ends. Missing
// rows are skipped. SQLite ignores the clause and serializes writers instead.
func lockRows(tx *gorm.DB, dest interface{}, query string, args ...interface{}) error {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(query, args...).Find(dest).Error
}

// CloseRequest closes a WAITING session that never started.
func (r *GormSessionRepository) CloseRequest(ctx context.Context, id, reason string, at time.Time) (*domain.Session, error) {
	l := log.Ctx(ctx)

	result := r.db.WithContext(ctx).Model(&domain.SessionModel{}).
		Where("id = ? AND status = ?", id, string(domain.StatusWaiting)).
		Updates(map[string]interface{}{
			"status":       string(domain.StatusClosed),
			"close_reason": reason,
			"ended_at":     at,
		})
	if result.Error != nil {
		l.Error().Err(result.Error).Str(log.FieldSessionID, id).Msg("failed to close request in db")
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotWaiting
	}
	return r.GetByID(ctx, id)
}

// Finish ends an ACTIVE session.
func (r *GormSessionRepository) Finish(ctx context.Context, id string, f Finish) (*domain.Session, *domain.Wallet, error) {
	l := log.Ctx(ctx)

	var (
		session domain.SessionModel
		wallet  domain.WalletModel
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.SessionModel{}).
			Where("id = ? AND status = ?", id, string(domain.StatusActive)).
			Updates(map[string]interface{}{
				"status":         string(domain.StatusEnded),
				"end_reason":     f.Reason,
				"ended_by":       f.EndedBy,
				"ended_at":       f.EndedAt,
				"total_amount":   f.TotalAmount,
				"total_duration": f.TotalDuration,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrSessionNotActive
		}
		if err := tx.First(&session, "id = ?", id).Error; err != nil {
			return err
		}

		if err := tx.Model(&domain.WalletModel{}).
			Where("participant_id = ?", session.RequesterID).
			Update("balance", gorm.Expr("balance - ?", f.TotalAmount)).Error; err != nil {
			return err
		}
		err := tx.First(&wallet, "participant_id = ?", session.RequesterID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			wallet = domain.WalletModel{ParticipantID: session.RequesterID}
			return nil
		}
		return err
	})
	if err != nil {
		if !isExpected(err) {
			l.Error().Err(err).Str(log.FieldSessionID, id).Msg("failed to finish session in db")
		}
		return nil, nil, err
	}
	return session.ToDomain(), wallet.ToDomain(), nil
}

// ListActive returns every ACTIVE session.
func (r *GormSessionRepository) ListActive(ctx context.Context) ([]domain.Session, error) {
	return r.find(ctx, "status = ?", string(domain.StatusActive))
}

// ListWaitingSince returns WAITING sessions requested before the given time.
func (r *GormSessionRepository) ListWaitingSince(ctx context.Context, before time.Time) ([]domain.Session, error) {
	return r.find(ctx, "status = ? AND requested_at < ?", string(domain.StatusWaiting), before)
}

// ListWaitingForProvider returns the requests waiting on providerID.
func (r *GormSessionRepository) ListWaitingForProvider(ctx context.Context, providerID string) ([]domain.Session, error) {
	return r.find(ctx, "status = ? AND provider_id = ?", string(domain.StatusWaiting), providerID)
}

// HasSharedSession reports whether a and b were ever matched, whatever the
// outcome.
func (r *GormSessionRepository) HasSharedSession(ctx context.Context, a, b string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.SessionModel{}).
		Where("(requester_id = ? AND provider_id = ?) OR (requester_id = ? AND provider_id = ?)", a, b, b, a).
		Count(&count).Error
	return count > 0, err
}

func (r *GormSessionRepository) find(ctx context.Context, query string, args ...interface{}) ([]domain.Session, error) {
	var models []domain.SessionModel
	if err := r.db.WithContext(ctx).Where(query, args...).Order("requested_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	sessions := make([]domain.Session, len(models))
	for i := range models {
		sessions[i] = *models[i].ToDomain()
	}
	return sessions, nil
}

func isExpected(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionNotWaiting) ||
		errors.Is(err, ErrSessionNotActive) ||
		errors.Is(err, ErrProviderBusy)
}
