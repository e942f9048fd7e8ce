// Package policy decides who may change what. Posts may only be changed by
// their author and profiles only by their user.
package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/diewo77/go-blog/auth"
	"github.com/diewo77/go-blog/gate"
	"gorm.io/gorm"
)

// Resource type names registered on the guard.
const (
	ResourcePost    = "post"
	ResourceProfile = "profile"
)

// Guard wraps the gate with the acting user taken from the context.
type Guard struct {
	Gate *gate.Gate[uint]
}

// NewGuard returns a guard with the ownership policy registered for posts and profiles.
func NewGuard() *Guard {
	g := gate.NewGate[uint]()
	ownership := NewOwnershipPolicy()
	g.Register(ResourcePost, ownership)
	g.Register(ResourceProfile, ownership)
	return &Guard{Gate: g}
}

// Authorize checks if the current user can perform an action on a resource.
// Returns nil if authorized, gate.ErrUnauthorized otherwise.
func (g *Guard) Authorize(ctx context.Context, action gate.Action, resourceType string, resource any) error {
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return gate.ErrUnauthorized
	}
	return g.Gate.Authorize(ctx, userID, action, resourceType, resource)
}

// Can is Authorize as a bool; templates use it to show edit links.
func (g *Guard) Can(ctx context.Context, action gate.Action, resourceType string, resource any) bool {
	return g.Authorize(ctx, action, resourceType, resource) == nil
}

// LoadForMutation fetches the row with the given id and authorizes action on it.
// A missing row is reported as gate.ErrUnauthorized, the same as a row owned
// by someone else, so callers cannot tell which ids exist. An unregistered
// resourceType fails with gate.ErrNoPolicyDefined before the database is read.
func LoadForMutation[T any, PT interface {
	*T
	Ownable
}](ctx context.Context, g *Guard, db *gorm.DB, resourceType string, action gate.Action, id uint) (PT, error) {
	if _, ok := auth.UserIDFromContext(ctx); !ok {
		return nil, gate.ErrUnauthorized
	}
	if !g.Gate.Has(resourceType) {
		return nil, fmt.Errorf("%s: %w", resourceType, gate.ErrNoPolicyDefined)
	}
	var row T
	if err := db.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gate.ErrUnauthorized
		}
		return nil, fmt.Errorf("load %s %d: %w", resourceType, id, err)
	}
	if err := g.Authorize(ctx, action, resourceType, PT(&row)); err != nil {
		return nil, err
	}
	return &row, nil
}
