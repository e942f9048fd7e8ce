package models

import "time"

// TitleMaxLength bounds Post.Title.
const TitleMaxLength = 100

// Post is a blog entry. Every post has exactly one author and is removed
// together with it.
type Post struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Title      string    `gorm:"size:100;not null" json:"title"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	DatePosted time.Time `gorm:"index;not null" json:"date_posted"`
	AuthorID   uint      `gorm:"index;not null" json:"author_id"`
	Author     *User     `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE" json:"author,omitempty"`
}

// GetUserID returns the author, which owns the post.
func (p *Post) GetUserID() uint { return p.AuthorID }
