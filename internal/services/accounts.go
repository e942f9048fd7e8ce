package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/diewo77/go-blog/auth"
	"github.com/diewo77/go-blog/gate"
	"github.com/diewo77/go-blog/internal/media"
	"github.com/diewo77/go-blog/internal/models"
	"github.com/diewo77/go-blog/internal/policy"
	"github.com/diewo77/go-blog/validation"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const usernameMaxLength = 150

// RegisterInput is the sign-up form.
type RegisterInput struct {
	Username  string
	Email     string
	Password1 string
	Password2 string
}

// AccountUpdate is the profile page form. Image is nil when no new file
// was uploaded.
type AccountUpdate struct {
	Username string
	Email    string
	Image    io.Reader
}

// AccountService owns users: registration, login, profile updates and
// deletion. It calls the lifecycle hooks at each of those points.
type AccountService struct {
	db       *gorm.DB
	hooks    *Lifecycle
	profiles *ProfileService
	store    *media.Store
	guard    *policy.Guard
	log      *slog.Logger
	cost     int
}

func NewAccountService(db *gorm.DB, hooks *Lifecycle, profiles *ProfileService, store *media.Store, guard *policy.Guard, log *slog.Logger) *AccountService {
	return &AccountService{
		db:       db,
		hooks:    hooks,
		profiles: profiles,
		store:    store,
		guard:    guard,
		log:      log,
		cost:     bcrypt.DefaultCost,
	}
}

// SetHashCost changes the bcrypt cost; tests lower it.
func (s *AccountService) SetHashCost(cost int) { s.cost = cost }

func validateIdentity(v validation.Violations, username, email string) {
	validation.Required("username", username, v)
	validation.MaxLength("username", username, usernameMaxLength, v)
	validation.Username("username", username, v)
	validation.Email("email", email, v)
}

// Register creates a user and its profile.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	v := make(validation.Violations)
	validateIdentity(v, in.Username, in.Email)
	validation.Required("email", in.Email, v)
	validation.Required("password1", in.Password1, v)
	validation.Required("password2", in.Password2, v)
	validation.Password("password1", "password2", in.Password1, in.Password2, v)
	if err := invalid(v); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password1), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := models.User{Username: in.Username, Email: in.Email, Password: string(hash), IsActive: true}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := usernameTaken(tx, in.Username, 0)
		if err != nil {
			return err
		}
		if taken {
			return &ValidationError{Violations: validation.Violations{"username": ErrUsernameTaken.Error()}}
		}
		if err := tx.Create(&u).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		return s.hooks.UserSaved(ctx, tx, &u, true, false)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("user registered", "user_id", u.ID, "username", u.Username)
	return &u, nil
}

func usernameTaken(tx *gorm.DB, username string, except uint) (bool, error) {
	var count int64
	q := tx.Model(&models.User{}).Where("username = ?", username)
	if except != 0 {
		q = q.Where("id <> ?", except)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return count > 0, nil
}

// Authenticate checks a username and password.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &u, nil
}

// Login authenticates and runs the login hook.
func (s *AccountService) Login(ctx context.Context, username, password, remoteAddr string) (*models.User, error) {
	u, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if err := s.hooks.LoggedIn(ctx, u, remoteAddr); err != nil {
		return nil, err
	}
	return u, nil
}

// Logout runs the logout hook for userID. Unknown users are ignored.
func (s *AccountService) Logout(ctx context.Context, userID uint) error {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("load user %d: %w", userID, err)
	}
	return s.hooks.LoggedOut(ctx, &u)
}

// Get returns a user with its profile.
func (s *AccountService) Get(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Preload("Profile").First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	return &u, nil
}

// Active reports whether id names an active user.
func (s *AccountService) Active(ctx context.Context, id uint) bool {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND is_active = ?", id, true).
		Limit(1).Count(&count).Error
	return err == nil && count > 0
}

// UpdateAccount changes the acting user's username, email and optionally
// the avatar. The replaced avatar file is removed after the commit unless it
// is the default image.
func (s *AccountService) UpdateAccount(ctx context.Context, in AccountUpdate) (*models.User, error) {
	uid, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return nil, gate.ErrUnauthorized
	}
	profile, err := s.profiles.ForUser(ctx, uid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, gate.ErrUnauthorized
		}
		return nil, err
	}
	if err := s.guard.Authorize(ctx, gate.ActionUpdate, policy.ResourceProfile, profile); err != nil {
		return nil, err
	}

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	v := make(validation.Violations)
	validateIdentity(v, in.Username, in.Email)
	if err := invalid(v); err != nil {
		return nil, err
	}

	var newImage string
	if in.Image != nil {
		rel, err := s.store.SaveUpload(in.Image)
		switch {
		case errors.Is(err, media.ErrTooLarge):
			return nil, &ValidationError{Violations: validation.Violations{"image": "The uploaded file is too large."}}
		case errors.Is(err, media.ErrInvalidImage):
			return nil, &ValidationError{Violations: validation.Violations{"image": "Upload a valid image. The file you uploaded was either not an image or a corrupted image."}}
		case err != nil:
			return nil, err
		}
		newImage = rel
	}

	oldImage := profile.Image
	var u models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&u, uid).Error; err != nil {
			return fmt.Errorf("load user %d: %w", uid, err)
		}
		taken, err := usernameTaken(tx, in.Username, uid)
		if err != nil {
			return err
		}
		if taken {
			return &ValidationError{Violations: validation.Violations{"username": ErrUsernameTaken.Error()}}
		}
		if newImage != "" {
			if err := tx.Model(profile).Update("image", newImage).Error; err != nil {
				return fmt.Errorf("set profile image: %w", err)
			}
		}
		u.Username, u.Email = in.Username, in.Email
		if err := tx.Model(&u).Select("username", "email", "updated_at").Updates(&u).Error; err != nil {
			return fmt.Errorf("update user %d: %w", uid, err)
		}
		return s.hooks.UserSaved(ctx, tx, &u, false, false)
	})
	if err != nil {
		if newImage != "" {
			if rmErr := s.store.Remove(newImage); rmErr != nil {
				s.log.Warn("remove rejected upload", "image", newImage, "err", rmErr)
			}
		}
		return nil, err
	}

	if newImage != "" && oldImage != newImage {
		if err := s.store.Remove(oldImage); err != nil {
			s.log.Warn("remove old profile image", "image", oldImage, "err", err)
		}
		profile.Image = newImage
	}
	u.Profile = profile
	s.log.Info("account updated", "user_id", u.ID, "username", u.Username)
	return &u, nil
}

// DeleteUser removes a user with its posts, profile and avatar file.
func (s *AccountService) DeleteUser(ctx context.Context, id uint) error {
	var image string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u models.User
		if err := tx.Preload("Profile").First(&u, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("user %d: %w", id, ErrNotFound)
			}
			return err
		}
		if u.Profile != nil {
			image = u.Profile.Image
		}
		// Dependents go first: a sqlite file opened without foreign keys
		// does not cascade.
		if err := tx.Where("author_id = ?", id).Delete(&models.Post{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.Profile{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, id).Error
	})
	if err != nil {
		return err
	}
	if err := s.store.Remove(image); err != nil {
		s.log.Warn("remove profile image", "image", image, "err", err)
	}
	s.log.Info("user deleted", "user_id", id)
	return nil
}
