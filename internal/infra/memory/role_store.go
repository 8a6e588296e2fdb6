package memory

import (
	"context"

	"horizon-apply-service/internal/domain"
)

// StaticRoleProvider serves fixed role memberships (tests/demos).
type StaticRoleProvider struct {
	roles map[string][]string
}

func NewStaticRoleProvider(roles map[string][]string) *StaticRoleProvider {
	return &StaticRoleProvider{roles: roles}
}

func (p *StaticRoleProvider) GetUserRoles(_ context.Context, userID string) ([]string, error) {
	return p.roles[userID], nil
}

// StaticGrantSource serves a fixed role->permissions table.
type StaticGrantSource struct {
	grants []domain.RolePermission
}

func NewStaticGrantSource(grants []domain.RolePermission) *StaticGrantSource {
	return &StaticGrantSource{grants: grants}
}

func (s *StaticGrantSource) RolePermissions(_ context.Context) ([]domain.RolePermission, error) {
	grants := make([]domain.RolePermission, len(s.grants))
	copy(grants, s.grants)
	return grants, nil
}
