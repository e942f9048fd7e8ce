// Package gate is a small authorization registry. A Gate maps resource type
// names to policies and answers whether a subject may perform an action on a
// resource. It knows nothing about the blog's models.
//
// The subject type is generic so the same gate serves user IDs, user structs
// or token claims:
//
//	g := gate.NewGate[uint]()
//	g.Register("post", ownership)
//	err := g.Authorize(ctx, uid, gate.ActionUpdate, "post", post)
package gate

import (
	"context"
	"errors"
)

// Action describes the kind of operation a subject wants to perform.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionList   Action = "list"
)

// Mutates reports whether the action changes an existing resource.
func (a Action) Mutates() bool {
	return a == ActionUpdate || a == ActionDelete
}

// Sentinel errors returned by Gate.Authorize.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNoPolicyDefined = errors.New("no policy defined for resource")
)

// Policy defines authorization rules for one resource type.
// resource is nil for list/create checks.
type Policy[U any] interface {
	Can(ctx context.Context, subject U, action Action, resource any) bool
}

// Gate is the central authorization checkpoint. Register policies at
// startup; the gate is read-only afterwards and safe for concurrent use.
type Gate[U comparable] struct {
	policies map[string]Policy[U]
}

// NewGate creates an empty Gate.
func NewGate[U comparable]() *Gate[U] {
	return &Gate[U]{policies: make(map[string]Policy[U])}
}

// Register sets the policy for a resource type, replacing any previous one.
func (g *Gate[U]) Register(resourceType string, p Policy[U]) {
	g.policies[resourceType] = p
}

// Has reports whether a policy exists for resourceType.
func (g *Gate[U]) Has(resourceType string) bool {
	_, ok := g.policies[resourceType]
	return ok
}

// Authorize returns nil when subject may perform action on resource.
// A zero subject or a denied action yields ErrUnauthorized; an unknown
// resource type yields ErrNoPolicyDefined.
func (g *Gate[U]) Authorize(ctx context.Context, subject U, action Action, resourceType string, resource any) error {
	var zero U
	if subject == zero {
		return ErrUnauthorized
	}
	p, ok := g.policies[resourceType]
	if !ok {
		return ErrNoPolicyDefined
	}
	if !p.Can(ctx, subject, action, resource) {
		return ErrUnauthorized
	}
	return nil
}

// Can is Authorize as a bool.
func (g *Gate[U]) Can(ctx context.Context, subject U, action Action, resourceType string, resource any) bool {
	return g.Authorize(ctx, subject, action, resourceType, resource) == nil
}
