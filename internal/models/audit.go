package models

import "time"

// Audit actions.
const (
	AuditLogin  = "login"
	AuditLogout = "logout"
)

// AuditLog records account events. Rows are only ever appended.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"index" json:"user_id"`
	Username   string    `gorm:"size:150" json:"username"`
	Action     string    `gorm:"size:32;not null" json:"action"`
	RemoteAddr string    `gorm:"size:64" json:"remote_addr,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
