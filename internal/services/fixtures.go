package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/diewo77/go-blog/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Fixture is the YAML document accepted by the importer.
//
//	users:
//	  - username: alice
//	    email: alice@example.com
//	    password: s3cret-pass
//	    image: profile_pics/alice.png
//	posts:
//	  - author: alice
//	    title: Hello
//	    content: First post
//	    date_posted: 2024-05-01T10:00:00Z
type Fixture struct {
	Users []FixtureUser `yaml:"users"`
	Posts []FixturePost `yaml:"posts"`
}

type FixtureUser struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	// Password is hashed on import unless it already is a bcrypt hash.
	Password string `yaml:"password"`
	Image    string `yaml:"image"`
	Inactive bool   `yaml:"inactive"`
}

type FixturePost struct {
	Author     string    `yaml:"author"`
	Title      string    `yaml:"title"`
	Content    string    `yaml:"content"`
	DatePosted time.Time `yaml:"date_posted"`
}

// ImportStats counts rows inserted by an import.
type ImportStats struct {
	Users    int
	Profiles int
	Posts    int
}

// Importer loads fixtures as raw rows. It does not provision profiles through
// the creation hook; each user's profile row comes from the fixture itself
// (default image when none is given), after which the save hook runs with
// raw set. Re-importing the same file inserts nothing new.
type Importer struct {
	db    *gorm.DB
	hooks *Lifecycle
	log   *slog.Logger
	now   func() time.Time
}

func NewImporter(db *gorm.DB, hooks *Lifecycle, log *slog.Logger) *Importer {
	return &Importer{db: db, hooks: hooks, log: log, now: time.Now}
}

// Parse decodes a fixture document.
func Parse(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return &f, nil
}

// Import parses r and loads it in one transaction.
func (im *Importer) Import(ctx context.Context, r io.Reader) (ImportStats, error) {
	f, err := Parse(r)
	if err != nil {
		return ImportStats{}, err
	}
	return im.Load(ctx, f)
}

// Load inserts the fixture's rows in one transaction.
func (im *Importer) Load(ctx context.Context, f *Fixture) (ImportStats, error) {
	var stats ImportStats
	err := im.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make(map[string]uint, len(f.Users))
		for i, fu := range f.Users {
			if strings.TrimSpace(fu.Username) == "" {
				return fmt.Errorf("users[%d]: username is required", i)
			}
			u, created, err := im.loadUser(tx, fu)
			if err != nil {
				return fmt.Errorf("users[%d] %s: %w", i, fu.Username, err)
			}
			ids[u.Username] = u.ID
			if !created {
				continue
			}
			stats.Users++

			image := fu.Image
			if image == "" {
				image = models.DefaultImage
			}
			if err := tx.Create(&models.Profile{UserID: u.ID, Image: image}).Error; err != nil {
				return fmt.Errorf("users[%d] %s: profile: %w", i, fu.Username, err)
			}
			stats.Profiles++
			if err := im.hooks.UserSaved(ctx, tx, u, true, true); err != nil {
				return fmt.Errorf("users[%d] %s: %w", i, fu.Username, err)
			}
		}

		for i, fp := range f.Posts {
			authorID, ok := ids[fp.Author]
			if !ok {
				var author models.User
				if err := tx.Where("username = ?", fp.Author).First(&author).Error; err != nil {
					return fmt.Errorf("posts[%d]: unknown author %q", i, fp.Author)
				}
				authorID = author.ID
			}
			posted := fp.DatePosted
			if posted.IsZero() {
				posted = im.now()
			}
			post := models.Post{Title: fp.Title, Content: fp.Content, AuthorID: authorID, DatePosted: posted.UTC()}
			res := tx.Where(models.Post{AuthorID: authorID, Title: fp.Title, DatePosted: post.DatePosted}).
				Attrs(models.Post{Content: fp.Content}).
				FirstOrCreate(&post)
			if res.Error != nil {
				return fmt.Errorf("posts[%d]: %w", i, res.Error)
			}
			stats.Posts += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return ImportStats{}, err
	}
	im.log.Info("fixtures imported", "users", stats.Users, "profiles", stats.Profiles, "posts", stats.Posts)
	return stats, nil
}

func (im *Importer) loadUser(tx *gorm.DB, fu FixtureUser) (*models.User, bool, error) {
	var existing models.User
	res := tx.Where("username = ?", fu.Username).Limit(1).Find(&existing)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return &existing, false, nil
	}
	hash := fu.Password
	if !strings.HasPrefix(hash, "$2") {
		b, err := bcrypt.GenerateFromPassword([]byte(fu.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, false, fmt.Errorf("hash password: %w", err)
		}
		hash = string(b)
	}
	u := models.User{Username: fu.Username, Email: fu.Email, Password: hash, IsActive: !fu.Inactive}
	if err := tx.Create(&u).Error; err != nil {
		return nil, false, err
	}
	if fu.Inactive {
		// gorm skips zero values that carry a column default on insert.
		if err := tx.Model(&u).UpdateColumn("is_active", false).Error; err != nil {
			return nil, false, err
		}
	}
	return &u, true, nil
}
