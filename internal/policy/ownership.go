package policy

import (
	"context"
	"reflect"

	"github.com/diewo77/go-blog/gate"
)

// Ownable is implemented by models that belong to exactly one user.
type Ownable interface {
	GetUserID() uint
}

// OwnershipPolicy allows an action on a resource only to the user who owns it.
type OwnershipPolicy struct{}

// NewOwnershipPolicy creates a new ownership policy.
func NewOwnershipPolicy() *OwnershipPolicy {
	return &OwnershipPolicy{}
}

// Can checks if the user owns the resource.
// Without a resource, reading and creating are allowed and mutations are not:
// an update or delete always needs the loaded entity to compare owners.
func (p *OwnershipPolicy) Can(_ context.Context, userID uint, action gate.Action, resource any) bool {
	if isNil(resource) {
		return !action.Mutates()
	}

	ownable, ok := resource.(Ownable)
	if !ok {
		// No owner to compare against: deny.
		return false
	}
	return ownable.GetUserID() == userID
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
