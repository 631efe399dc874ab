package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-io-consult/session-service/internal/domain"
)

// GormAccountRepository implements AccountRepository using GORM.
type GormAccountRepository struct {
	db *gorm.DB
}

// NewGormAccountRepository creates a new GORM-based account repository.
func NewGormAccountRepository(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

// GetOrCreateWallet returns the wallet of participantID, opening it with
// initial if it does not exist.
func (r *GormAccountRepository) GetOrCreateWallet(ctx context.Context, participantID string, initial float64) (*domain.Wallet, error) {
	var model domain.WalletModel
	err := r.db.WithContext(ctx).
		Where(domain.WalletModel{ParticipantID: participantID}).
		Attrs(domain.WalletModel{Balance: initial}).
		FirstOrCreate(&model).Error
	if err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

// GetProvider retrieves a provider by ID.
func (r *GormAccountRepository) GetProvider(ctx context.Context, id string) (*domain.Provider, error) {
	var model domain.ProviderModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// SetAvailability records a provider's availability, registering the
// provider at defaultRate on first use.
func (r *GormAccountRepository) SetAvailability(ctx context.Context, id string, available bool, defaultRate float64) (*domain.Provider, error) {
	model := domain.ProviderModel{ID: id, RatePerMinute: defaultRate, Available: available}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"available", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return nil, err
	}
	return r.GetProvider(ctx, id)
}

// GetProfile retrieves a participant profile.
func (r *GormAccountRepository) GetProfile(ctx context.Context, participantID string) (*domain.Profile, error) {
	var model domain.ProfileModel
	if err := r.db.WithContext(ctx).First(&model, "participant_id = ?", participantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// UpsertProfile creates or replaces a profile.
func (r *GormAccountRepository) UpsertProfile(ctx context.Context, p *domain.Profile) error {
	model := domain.ProfileToModel(p)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "participant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "avatar_url", "birth_details", "notes", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		return err
	}
	p.UpdatedAt = model.UpdatedAt
	return nil
}
