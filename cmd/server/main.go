package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diewo77/go-blog/auth"
	"github.com/diewo77/go-blog/internal/config"
	"github.com/diewo77/go-blog/internal/db"
	"github.com/diewo77/go-blog/internal/services"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()
	cfg := config.Load()
	log := newLogger(cfg.App)
	slog.SetDefault(log)

	if err := rootCmd(cfg, log).Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(app config.AppConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if app.Dev {
		opts.Level = slog.LevelDebug
	}
	if app.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func rootCmd(cfg *config.Config, log *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "blog",
		Short:         "Multi-author blog server",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), cfg, log)
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), cfg, log)
			},
		},
		migrateCmd(cfg, log),
		seedCmd(cfg, log),
		createUserCmd(cfg, log),
		deleteUserCmd(cfg, log),
	)
	return root
}

func migrateCmd(cfg *config.Config, log *slog.Logger) *cobra.Command {
	var useSQL bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if useSQL {
				if cfg.Database.Driver == "sqlite" {
					return errors.New("--sql needs DB_DRIVER=postgres")
				}
				if err := db.MigrateSQL(cfg.Database.URL()); err != nil {
					return err
				}
				log.Info("sql migrations applied", "db", cfg.Database.Masked())
				return nil
			}
			conn, err := db.Open(cfg.Database, log)
			if err != nil {
				return err
			}
			if err := db.Migrate(conn); err != nil {
				return err
			}
			log.Info("migrations completed", "db", cfg.Database.Masked())
			return nil
		},
	}
	cmd.Flags().BoolVar(&useSQL, "sql", false, "apply the versioned SQL migrations instead of AutoMigrate")
	return cmd
}

func seedCmd(cfg *config.Config, log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixture.yaml>",
		Short: "Import users and posts from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, _, err := bootstrap(cfg, log)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			stats, err := rc.Importer.Import(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d users, %d profiles, %d posts\n", stats.Users, stats.Profiles, stats.Posts)
			return nil
		},
	}
}

func createUserCmd(cfg *config.Config, log *slog.Logger) *cobra.Command {
	var in services.RegisterInput
	cmd := &cobra.Command{
		Use:   "createuser",
		Short: "Register a user from the command line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rc, _, err := bootstrap(cfg, log)
			if err != nil {
				return err
			}
			in.Password2 = in.Password1
			u, err := rc.Accounts.Register(cmd.Context(), in)
			if v, ok := services.Violations(err); ok {
				for field, msg := range v {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", field, msg)
				}
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d)\n", u.Username, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Username, "username", "", "username")
	cmd.Flags().StringVar(&in.Email, "email", "", "email address")
	cmd.Flags().StringVar(&in.Password1, "password", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func deleteUserCmd(cfg *config.Config, log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "deleteuser <username>",
		Short: "Delete a user with their posts, profile and image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, conn, err := bootstrap(cfg, log)
			if err != nil {
				return err
			}
			var id uint
			if err := conn.WithContext(cmd.Context()).Table("users").Select("id").Where("username = ?", args[0]).Scan(&id).Error; err != nil {
				return err
			}
			if id == 0 {
				return fmt.Errorf("user %q: %w", args[0], services.ErrNotFound)
			}
			if err := rc.Accounts.DeleteUser(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted user %s\n", args[0])
			return nil
		},
	}
}

// bootstrap opens the database, migrates when asked to and wires the services.
func bootstrap(cfg *config.Config, log *slog.Logger) (*RouterConfig, *gorm.DB, error) {
	conn, err := db.Open(cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}
	if cfg.App.Migrations || cfg.Database.Driver == "sqlite" {
		if err := db.Migrate(conn); err != nil {
			return nil, nil, err
		}
	}
	auth.Configure(cfg.App.SessionSecret, cfg.App.SessionTTL)

	rc := NewRouterConfig(conn, cfg.App, log)
	created, err := rc.Store.EnsurePlaceholder()
	if err != nil {
		return nil, nil, fmt.Errorf("default profile image: %w", err)
	}
	if created {
		log.Info("wrote default profile image", "root", rc.Store.Root)
	}
	auth.SetUserVerifier(rc.Accounts.Active)
	return rc, conn, nil
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.App.SessionSecret == "" {
		if !cfg.App.Dev {
			return errors.New("SESSION_SECRET is required outside dev mode")
		}
		log.Warn("SESSION_SECRET not set, using the development secret")
	}
	log.Info("connecting to database", "db", cfg.Database.Masked())
	rc, conn, err := bootstrap(cfg, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      withLogging(log, NewApp(conn, rc, log)),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Server.Port, "dev", cfg.App.Dev)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		return err
	case <-quit.Done():
	}
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped gracefully")
	return nil
}
