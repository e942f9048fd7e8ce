package models

// DefaultImage is the placeholder every new profile points at. It lives
// directly under the media root and is never deleted.
const DefaultImage = "default.jpg"

// ImageUploadDir is the media subdirectory for uploaded avatars.
const ImageUploadDir = "profile_pics"

// Profile carries per-user presentation data. Exactly one exists per user.
type Profile struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	UserID uint   `gorm:"uniqueIndex;not null" json:"user_id"`
	Image  string `gorm:"size:255;not null;default:'default.jpg'" json:"image"`
}

// GetUserID returns the owning user.
func (p *Profile) GetUserID() uint { return p.UserID }

// HasDefaultImage reports whether the profile still uses the placeholder.
func (p *Profile) HasDefaultImage() bool {
	return p.Image == "" || p.Image == DefaultImage
}
