package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/diewo77/go-blog/internal/media"
	"github.com/diewo77/go-blog/internal/models"
	"gorm.io/gorm"
)

// ProfileService persists profiles. Every save runs the stored image
// through the media normalizer.
type ProfileService struct {
	db    *gorm.DB
	store *media.Store
	log   *slog.Logger
}

func NewProfileService(db *gorm.DB, store *media.Store, log *slog.Logger) *ProfileService {
	return &ProfileService{db: db, store: store, log: log}
}

// ForUser returns the profile of userID.
func (s *ProfileService) ForUser(ctx context.Context, userID uint) (*models.Profile, error) {
	return s.forUser(ctx, s.db, userID)
}

func (s *ProfileService) forUser(ctx context.Context, tx *gorm.DB, userID uint) (*models.Profile, error) {
	var p models.Profile
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("profile of user %d: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("load profile of user %d: %w", userID, err)
	}
	return &p, nil
}

// GetOrCreate returns the user's profile, inserting a default one if none
// exists. Calling it again for the same user never creates a second row.
func (s *ProfileService) GetOrCreate(ctx context.Context, tx *gorm.DB, userID uint) (*models.Profile, bool, error) {
	p := models.Profile{}
	var created bool
	// Nested transaction: a savepoint, so a failed insert leaves tx usable.
	err := tx.WithContext(ctx).Transaction(func(sp *gorm.DB) error {
		res := sp.Where(models.Profile{UserID: userID}).
			Attrs(models.Profile{Image: models.DefaultImage}).
			FirstOrCreate(&p)
		created = res.RowsAffected == 1
		return res.Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// Lost a race against another insert; the unique index kept one row.
		existing, lookupErr := s.forUser(ctx, tx, userID)
		if lookupErr != nil {
			return nil, false, fmt.Errorf("get or create profile of user %d: %w", userID, errors.Join(err, lookupErr))
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get or create profile of user %d: %w", userID, err)
	}
	return &p, created, nil
}

// Save writes p and then shrinks its image to the avatar limit. A missing
// default image is skipped with a warning; any other unreadable image fails
// the save.
func (s *ProfileService) Save(ctx context.Context, tx *gorm.DB, p *models.Profile) error {
	if p.Image == "" {
		p.Image = models.DefaultImage
	}
	if err := tx.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("save profile of user %d: %w", p.UserID, err)
	}
	return s.normalize(p)
}

func (s *ProfileService) normalize(p *models.Profile) error {
	if p.HasDefaultImage() && !s.store.Exists(p.Image) {
		s.log.Warn("default profile image missing, skipping resize", "image", p.Image)
		return nil
	}
	resized, err := s.store.Normalize(p.Image)
	if err != nil {
		return fmt.Errorf("normalize image of user %d: %w", p.UserID, err)
	}
	if resized {
		s.log.Info("profile image resized", "user_id", p.UserID, "image", p.Image, "max", media.MaxDimension)
	}
	return nil
}
