package main

import (
	"log/slog"

	"github.com/diewo77/go-blog/internal/config"
	"github.com/diewo77/go-blog/internal/handlers"
	"github.com/diewo77/go-blog/internal/media"
	"github.com/diewo77/go-blog/internal/policy"
	"github.com/diewo77/go-blog/internal/services"
	"gorm.io/gorm"
)

// RouterConfig holds the wired services and handlers the router and the
// CLI commands share.
type RouterConfig struct {
	Guard *policy.Guard
	Store *media.Store

	Posts    *services.PostService
	Profiles *services.ProfileService
	Hooks    *services.Lifecycle
	Accounts *services.AccountService
	Importer *services.Importer

	BlogHandler *handlers.BlogHandler
	UserHandler *handlers.UserHandler
}

// NewRouterConfig wires the ownership guard, the services and the handlers.
func NewRouterConfig(db *gorm.DB, app config.AppConfig, log *slog.Logger) *RouterConfig {
	guard := policy.NewGuard()
	store := media.NewStore(app.MediaRoot, app.MaxUploadBytes)

	profiles := services.NewProfileService(db, store, log)
	hooks := services.NewLifecycle(db, profiles, log)
	accounts := services.NewAccountService(db, hooks, profiles, store, guard, log)
	posts := services.NewPostService(db, guard, log, app.PageSize)

	return &RouterConfig{
		Guard:       guard,
		Store:       store,
		Posts:       posts,
		Profiles:    profiles,
		Hooks:       hooks,
		Accounts:    accounts,
		Importer:    services.NewImporter(db, hooks, log),
		BlogHandler: handlers.NewBlogHandler(posts, log),
		UserHandler: handlers.NewUserHandler(accounts, log, app.MaxUploadBytes, app.TrustProxy),
	}
}
