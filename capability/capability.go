// Package capability implements authorization predicates over the capability
// tags the external user store attaches to each user. The checks are pure set
// membership; the package holds no state of its own.
package capability

import (
	"context"
	"fmt"
	"slices"

	"github.com/lakefield/authcore/storage"
)

// CapabilityAdmin gates administrative surfaces
const CapabilityAdmin = "admin"

// Checker answers capability questions for resolved user IDs
type Checker struct {
	users storage.UserStore
}

// NewChecker creates a Checker over the external user store
func NewChecker(users storage.UserStore) (*Checker, error) {
	if users == nil {
		return nil, fmt.Errorf("capability: user store is required")
	}
	return &Checker{users: users}, nil
}

// HasCapability reports whether the user carries the named capability
func (c *Checker) HasCapability(ctx context.Context, userID, capability string) (bool, error) {
	caps, err := c.users.Capabilities(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("capability: lookup user %q: %w", userID, err)
	}
	return slices.Contains(caps, capability), nil
}

// HasAllCapabilities reports whether the user carries every named capability.
// An empty query is trivially satisfied.
func (c *Checker) HasAllCapabilities(ctx context.Context, userID string, capabilities ...string) (bool, error) {
	caps, err := c.users.Capabilities(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("capability: lookup user %q: %w", userID, err)
	}
	for _, want := range capabilities {
		if !slices.Contains(caps, want) {
			return false, nil
		}
	}
	return true, nil
}

// HasAnyCapability reports whether the user carries at least one of the named
// capabilities. An empty query is never satisfied.
func (c *Checker) HasAnyCapability(ctx context.Context, userID string, capabilities ...string) (bool, error) {
	caps, err := c.users.Capabilities(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("capability: lookup user %q: %w", userID, err)
	}
	for _, want := range capabilities {
		if slices.Contains(caps, want) {
			return true, nil
		}
	}
	return false, nil
}

// IsAdmin reports whether the user carries the admin capability
func (c *Checker) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return c.HasCapability(ctx, userID, CapabilityAdmin)
}
