package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"testing"

	"github.com/diewo77/go-blog/auth"
	"github.com/diewo77/go-blog/internal/media"
	"github.com/diewo77/go-blog/internal/models"
	"github.com/diewo77/go-blog/internal/policy"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type env struct {
	db       *gorm.DB
	store    *media.Store
	guard    *policy.Guard
	posts    *PostService
	profiles *ProfileService
	hooks    *Lifecycle
	accounts *AccountService
	importer *Importer
}

func setup(t *testing.T) *env {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:svc_"+t.Name()+"?mode=memory&cache=shared&_foreign_keys=1"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	log := slog.New(slog.DiscardHandler)
	store := media.NewStore(t.TempDir(), 1<<20)
	_, err = store.EnsurePlaceholder()
	require.NoError(t, err)

	guard := policy.NewGuard()
	profiles := NewProfileService(db, store, log)
	hooks := NewLifecycle(db, profiles, log)
	accounts := NewAccountService(db, hooks, profiles, store, guard, log)
	accounts.SetHashCost(bcrypt.MinCost)
	return &env{
		db:       db,
		store:    store,
		guard:    guard,
		posts:    NewPostService(db, guard, log, 5),
		profiles: profiles,
		hooks:    hooks,
		accounts: accounts,
		importer: NewImporter(db, hooks, log),
	}
}

func (e *env) register(t *testing.T, username string) *models.User {
	t.Helper()
	u, err := e.accounts.Register(context.Background(), RegisterInput{
		Username:  username,
		Email:     username + "@example.com",
		Password1: "correct-horse",
		Password2: "correct-horse",
	})
	require.NoError(t, err)
	return u
}

func as(u *models.User) context.Context {
	return auth.WithUserID(context.Background(), u.ID)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x40, A: 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// headerOnlyPNG is a PNG signature plus an IHDR for a w×h grayscale canvas.
func headerOnlyPNG(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := make([]byte, 4+13)
	copy(chunk, "IHDR")
	binary.BigEndian.PutUint32(chunk[4:8], w)
	binary.BigEndian.PutUint32(chunk[8:12], h)
	chunk[12] = 8
	_ = binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}
