// Package models holds the persisted entities of the blog.
package models

// All lists every model in dependency order for AutoMigrate.
func All() []any {
	return []any{&User{}, &Profile{}, &Post{}, &AuditLog{}}
}
