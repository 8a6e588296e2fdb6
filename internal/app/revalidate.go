package app

import (
	"context"
	"sync"
	"time"

	"horizon-apply-service/internal/domain"
)

// RoleProvider fetches a user's current role IDs from the identity
// provider (Discord guild membership).
type RoleProvider interface {
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
}

// GrantSource supplies the role->permissions table.
type GrantSource interface {
	RolePermissions(ctx context.Context) ([]domain.RolePermission, error)
}

// Revalidator recomputes one user's permission set from fresh role data.
// Two triggers funnel into Revalidate: a scheduled task and client focus
// events. A shared min-interval guard keeps the two from double-firing
// and from hammering the identity provider.
type Revalidator struct {
	userID     string
	roles      RoleProvider
	grants     GrantSource
	superAdmin []string
	minGap     time.Duration
	now        func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	current domain.PermissionSet
}

func NewRevalidator(userID string, roles RoleProvider, grants GrantSource, superAdminRoleIDs []string, minGap time.Duration) *Revalidator {
	return &Revalidator{
		userID:     userID,
		roles:      roles,
		grants:     grants,
		superAdmin: superAdminRoleIDs,
		minGap:     minGap,
		now:        time.Now,
		current:    domain.PermissionSet{},
	}
}

// WithClock overrides the clock, for tests.
func (r *Revalidator) WithClock(now func() time.Time) *Revalidator {
	r.now = now
	return r
}

// Revalidate fetches fresh roles and recomputes the permission set. When
// called again inside the rate-limit window it returns the current set
// without hitting the provider; the second return value reports whether a
// refresh actually ran.
func (r *Revalidator) Revalidate(ctx context.Context) (domain.PermissionSet, bool, error) {
	r.mu.Lock()
	now := r.now()
	if !r.lastRun.IsZero() && now.Sub(r.lastRun) < r.minGap {
		current := r.current
		r.mu.Unlock()
		return current, false, nil
	}
	r.lastRun = now
	r.mu.Unlock()

	roleIDs, err := r.roles.GetUserRoles(ctx, r.userID)
	if err != nil {
		return nil, false, err
	}
	grants, err := r.grants.RolePermissions(ctx)
	if err != nil {
		return nil, false, err
	}
	resolved := domain.ResolvePermissions(roleIDs, grants, r.superAdmin)

	r.mu.Lock()
	r.current = resolved
	r.mu.Unlock()
	return resolved, true, nil
}

// Current returns the last resolved permission set without refreshing.
func (r *Revalidator) Current() domain.PermissionSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// RevalidatorPool hands out one Revalidator per user and drives the
// scheduled refresh across all of them.
type RevalidatorPool struct {
	roles      RoleProvider
	grants     GrantSource
	superAdmin []string
	minGap     time.Duration

	mu    sync.Mutex
	users map[string]*Revalidator
}

func NewRevalidatorPool(roles RoleProvider, grants GrantSource, superAdminRoleIDs []string, minGap time.Duration) *RevalidatorPool {
	return &RevalidatorPool{
		roles:      roles,
		grants:     grants,
		superAdmin: superAdminRoleIDs,
		minGap:     minGap,
		users:      make(map[string]*Revalidator),
	}
}

// ForUser returns the user's revalidator, creating it on first use.
func (p *RevalidatorPool) ForUser(userID string) *Revalidator {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.users[userID]; ok {
		return r
	}
	r := NewRevalidator(userID, p.roles, p.grants, p.superAdmin, p.minGap)
	p.users[userID] = r
	return r
}

// RevalidateAll is the scheduled trigger: it refreshes every tracked user,
// subject to each revalidator's own rate-limit guard.
func (p *RevalidatorPool) RevalidateAll(ctx context.Context) {
	p.mu.Lock()
	revalidators := make([]*Revalidator, 0, len(p.users))
	for _, r := range p.users {
		revalidators = append(revalidators, r)
	}
	p.mu.Unlock()

	for _, r := range revalidators {
		_, _, _ = r.Revalidate(ctx)
	}
}
