package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uptrace/bun"

	"horizon-apply-service/internal/domain"
)

// RoleStore loads the role->permissions table. It implements app.GrantSource.
type RoleStore struct {
	db *bun.DB
}

func NewRoleStore(db *bun.DB) *RoleStore {
	return &RoleStore{db: db}
}

type rolePermissionRow struct {
	bun.BaseModel `bun:"table:role_permissions"`

	RoleID      string          `bun:"role_id,pk"`
	Permissions json.RawMessage `bun:"permissions,type:jsonb"`
}

func (s *RoleStore) RolePermissions(ctx context.Context) ([]domain.RolePermission, error) {
	var rows []rolePermissionRow
	if err := s.db.NewSelect().Model(&rows).Scan(ctx); err != nil {
		return nil, fmt.Errorf("list role permissions: %w", err)
	}
	grants := make([]domain.RolePermission, 0, len(rows))
	for _, row := range rows {
		grant := domain.RolePermission{RoleID: row.RoleID}
		if len(row.Permissions) > 0 {
			if err := json.Unmarshal(row.Permissions, &grant.Permissions); err != nil {
				return nil, fmt.Errorf("unmarshal permissions for role %s: %w", row.RoleID, err)
			}
		}
		grants = append(grants, grant)
	}
	return grants, nil
}
