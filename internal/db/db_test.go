package db

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/diewo77/go-blog/internal/config"
	"github.com/diewo77/go-blog/internal/models"
	"gorm.io/gorm"
)

func openTest(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: "sqlite", SQLitePath: "file:db_" + t.Name() + "?mode=memory&cache=shared"}
	conn, err := Open(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return conn
}

func TestMigrate_CreatesTables(t *testing.T) {
	conn := openTest(t)
	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// idempotent
	if err := Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := Ping(context.Background(), conn); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestForeignKeysCascade(t *testing.T) {
	conn := openTest(t)
	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	u := models.User{Username: "alice", Password: "x"}
	if err := conn.Create(&u).Error; err != nil {
		t.Fatalf("user: %v", err)
	}
	if err := conn.Create(&models.Profile{UserID: u.ID, Image: models.DefaultImage}).Error; err != nil {
		t.Fatalf("profile: %v", err)
	}
	if err := conn.Create(&models.Post{Title: "t", Content: "c", AuthorID: u.ID}).Error; err != nil {
		t.Fatalf("post: %v", err)
	}
	if err := conn.Delete(&models.User{}, u.ID).Error; err != nil {
		t.Fatalf("delete: %v", err)
	}
	var posts, profiles int64
	conn.Model(&models.Post{}).Count(&posts)
	conn.Model(&models.Profile{}).Count(&profiles)
	if posts != 0 || profiles != 0 {
		t.Fatalf("cascade failed: posts=%d profiles=%d", posts, profiles)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, slog.New(slog.DiscardHandler))
	if err == nil || !strings.Contains(err.Error(), "oracle") {
		t.Fatalf("expected unsupported driver error, got %v", err)
	}
}

func TestMigrationNames(t *testing.T) {
	names, err := MigrationNames()
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	var up, down bool
	for _, n := range names {
		up = up || strings.HasSuffix(n, ".up.sql")
		down = down || strings.HasSuffix(n, ".down.sql")
	}
	if !up || !down {
		t.Fatalf("expected up and down migrations, got %v", names)
	}
}
