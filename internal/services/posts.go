package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/diewo77/go-blog/auth"
	"github.com/diewo77/go-blog/gate"
	"github.com/diewo77/go-blog/internal/models"
	"github.com/diewo77/go-blog/internal/policy"
	"github.com/diewo77/go-blog/validation"
	"gorm.io/gorm"
)

const recentFirst = "posts.date_posted DESC, posts.id DESC"

// PostInput is the editable part of a post. The author is never taken
// from input.
type PostInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (in PostInput) validate() error {
	v := make(validation.Violations)
	validation.Required("title", in.Title, v)
	validation.MaxLength("title", in.Title, models.TitleMaxLength, v)
	validation.Required("content", in.Content, v)
	return invalid(v)
}

// PostService lists, reads and edits posts.
type PostService struct {
	db       *gorm.DB
	guard    *policy.Guard
	log      *slog.Logger
	pageSize int
	now      func() time.Time
}

func NewPostService(db *gorm.DB, guard *policy.Guard, log *slog.Logger, pageSize int) *PostService {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PostService{db: db, guard: guard, log: log, pageSize: pageSize, now: time.Now}
}

// All lists every post, newest first.
func (s *PostService) All(ctx context.Context, page int) (Page[models.Post], error) {
	return paginate[models.Post](ctx,
		func() *gorm.DB { return s.db.Model(&models.Post{}) },
		withAuthor, page, s.pageSize)
}

// ByUsername lists one author's posts, newest first. An unknown username
// is ErrNotFound rather than an empty page.
func (s *PostService) ByUsername(ctx context.Context, username string, page int) (*models.User, Page[models.Post], error) {
	var author models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&author).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, Page[models.Post]{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
		}
		return nil, Page[models.Post]{}, fmt.Errorf("load user %q: %w", username, err)
	}
	p, err := paginate[models.Post](ctx,
		func() *gorm.DB { return s.db.Model(&models.Post{}).Where("posts.author_id = ?", author.ID) },
		withAuthor, page, s.pageSize)
	if err != nil {
		return nil, Page[models.Post]{}, err
	}
	return &author, p, nil
}

// LatestPerAuthor returns each author's most recent post, newest first.
// When an author has several posts sharing the latest timestamp all of them
// are returned; id DESC keeps the order stable.
func (s *PostService) LatestPerAuthor(ctx context.Context, page int) (Page[models.Post], error) {
	query := func() *gorm.DB {
		latest := s.db.Model(&models.Post{}).
			Select("author_id, MAX(date_posted) AS max_posted").
			Group("author_id")
		return s.db.Model(&models.Post{}).
			Joins("JOIN (?) AS latest ON latest.author_id = posts.author_id AND latest.max_posted = posts.date_posted", latest)
	}
	return paginate[models.Post](ctx, query, func(q *gorm.DB) *gorm.DB {
		return withAuthor(q.Select("posts.*"))
	}, page, s.pageSize)
}

func withAuthor(q *gorm.DB) *gorm.DB {
	return q.Preload("Author.Profile").Order(recentFirst)
}

// Get returns a post with its author.
func (s *PostService) Get(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).Preload("Author.Profile").First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("post %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load post %d: %w", id, err)
	}
	return &post, nil
}

// Create stores a new post authored by the acting user.
func (s *PostService) Create(ctx context.Context, in PostInput) (*models.Post, error) {
	authorID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return nil, gate.ErrUnauthorized
	}
	if err := s.guard.Authorize(ctx, gate.ActionCreate, policy.ResourcePost, nil); err != nil {
		return nil, err
	}
	in = in.normalized()
	if err := in.validate(); err != nil {
		return nil, err
	}
	post := models.Post{
		Title:      in.Title,
		Content:    in.Content,
		DatePosted: s.now().UTC(),
		AuthorID:   authorID,
	}
	if err := s.db.WithContext(ctx).Create(&post).Error; err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	s.log.Info("post created", "post_id", post.ID, "author_id", authorID)
	return &post, nil
}

// Editable loads a post for the update or delete forms. Posts that are
// missing or owned by someone else both yield gate.ErrUnauthorized.
func (s *PostService) Editable(ctx context.Context, id uint, action gate.Action) (*models.Post, error) {
	return policy.LoadForMutation[models.Post](ctx, s.guard, s.db, policy.ResourcePost, action, id)
}

// Update changes title and content of the acting user's post.
func (s *PostService) Update(ctx context.Context, id uint, in PostInput) (*models.Post, error) {
	post, err := s.Editable(ctx, id, gate.ActionUpdate)
	if err != nil {
		return nil, err
	}
	in = in.normalized()
	if err := in.validate(); err != nil {
		return post, err
	}
	err = s.db.WithContext(ctx).Model(post).
		Select("title", "content").
		Updates(models.Post{Title: in.Title, Content: in.Content}).Error
	if err != nil {
		return nil, fmt.Errorf("update post %d: %w", id, err)
	}
	post.Title, post.Content = in.Title, in.Content
	s.log.Info("post updated", "post_id", post.ID, "author_id", post.AuthorID)
	return post, nil
}

// Delete removes the acting user's post.
func (s *PostService) Delete(ctx context.Context, id uint) error {
	post, err := s.Editable(ctx, id, gate.ActionDelete)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(post).Error; err != nil {
		return fmt.Errorf("delete post %d: %w", id, err)
	}
	s.log.Info("post deleted", "post_id", post.ID, "author_id", post.AuthorID)
	return nil
}

func (in PostInput) normalized() PostInput {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	return in
}
