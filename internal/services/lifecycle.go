package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/diewo77/go-blog/internal/models"
	"gorm.io/gorm"
)

// Lifecycle runs the account hooks. Callers invoke them explicitly at the
// points where a user is saved, logs in or logs out.
type Lifecycle struct {
	db       *gorm.DB
	profiles *ProfileService
	log      *slog.Logger
	now      func() time.Time
}

func NewLifecycle(db *gorm.DB, profiles *ProfileService, log *slog.Logger) *Lifecycle {
	return &Lifecycle{db: db, profiles: profiles, log: log, now: time.Now}
}

// UserSaved must run after every user insert or update, inside the same
// transaction. A genuine creation (created && !raw) provisions the profile;
// every save then re-saves the profile so its image stays normalized.
// Fixture imports pass raw=true and get no provisioning.
func (l *Lifecycle) UserSaved(ctx context.Context, tx *gorm.DB, u *models.User, created, raw bool) error {
	if created && !raw {
		if _, _, err := l.profiles.GetOrCreate(ctx, tx, u.ID); err != nil {
			return err
		}
	}
	p, err := l.profiles.forUser(ctx, tx, u.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			l.log.Warn("user has no profile", "user_id", u.ID, "username", u.Username)
			return nil
		}
		return err
	}
	return l.profiles.Save(ctx, tx, p)
}

// LoggedIn records a successful login and stamps last_login.
func (l *Lifecycle) LoggedIn(ctx context.Context, u *models.User, remoteAddr string) error {
	now := l.now().UTC()
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(u).UpdateColumn("last_login", now).Error; err != nil {
			return err
		}
		return tx.Create(&models.AuditLog{
			UserID:     u.ID,
			Username:   u.Username,
			Action:     models.AuditLogin,
			RemoteAddr: remoteAddr,
			CreatedAt:  now,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("record login of %s: %w", u.Username, err)
	}
	u.LastLogin = &now
	l.log.Info("user logged in", "username", u.Username, "remote_addr", remoteAddr)
	return nil
}

// LoggedOut records a logout.
func (l *Lifecycle) LoggedOut(ctx context.Context, u *models.User) error {
	err := l.db.WithContext(ctx).Create(&models.AuditLog{
		UserID:    u.ID,
		Username:  u.Username,
		Action:    models.AuditLogout,
		CreatedAt: l.now().UTC(),
	}).Error
	if err != nil {
		return fmt.Errorf("record logout of %s: %w", u.Username, err)
	}
	l.log.Info("user logged out", "username", u.Username)
	return nil
}
