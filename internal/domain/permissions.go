package domain

// PermissionKey names one capability. The set is closed: anything outside
// AllPermissions is rejected at config load.
type PermissionKey string

const (
	// PermSuperAdmin is a meta-permission: holding it (or any super-admin
	// role) grants every known permission.
	PermSuperAdmin PermissionKey = "_super_admin"

	PermAdminPanel        PermissionKey = "admin_panel"
	PermAdminSubmissions  PermissionKey = "admin_submissions"
	PermAdminQuizzes      PermissionKey = "admin_quizzes"
	PermAdminRules        PermissionKey = "admin_rules"
	PermAdminStore        PermissionKey = "admin_store"
	PermAdminTranslations PermissionKey = "admin_translations"
	PermAdminAppearance   PermissionKey = "admin_appearance"
	PermAdminAuditLog     PermissionKey = "admin_audit_log"
	PermAdminPermissions  PermissionKey = "admin_permissions"
	PermAdminLookup       PermissionKey = "admin_lookup"

	PermPageStore   PermissionKey = "page_store"
	PermPageRules   PermissionKey = "page_rules"
	PermPageApplies PermissionKey = "page_applies"
)

// AllPermissions returns every known permission key, PermSuperAdmin included.
func AllPermissions() []PermissionKey {
	return []PermissionKey{
		PermSuperAdmin,
		PermAdminPanel,
		PermAdminSubmissions,
		PermAdminQuizzes,
		PermAdminRules,
		PermAdminStore,
		PermAdminTranslations,
		PermAdminAppearance,
		PermAdminAuditLog,
		PermAdminPermissions,
		PermAdminLookup,
		PermPageStore,
		PermPageRules,
		PermPageApplies,
	}
}

// KnownPermission reports whether k is part of the closed key set.
func KnownPermission(k PermissionKey) bool {
	for _, known := range AllPermissions() {
		if known == k {
			return true
		}
	}
	return false
}

// PermissionSet is the effective capability set of a user.
type PermissionSet map[PermissionKey]struct{}

func (s PermissionSet) Has(k PermissionKey) bool {
	_, ok := s[k]
	return ok
}

// IsSuperAdmin reports whether the set carries the meta-permission.
func (s PermissionSet) IsSuperAdmin() bool {
	return s.Has(PermSuperAdmin)
}

// ResolvePermissions maps a user's role IDs to an effective permission set.
//
// The result is the union of the grants of every role the user holds; roles
// without a grant row contribute nothing, and no role can remove what
// another grants. If the user holds a super-admin role, or the union already
// contains PermSuperAdmin, the result is the full known set.
//
// This is a pure function: callers recompute it on every revalidation
// rather than caching it indefinitely. Stale permissions are a security
// defect, not a UX bug.
func ResolvePermissions(roleIDs []string, grants []RolePermission, superAdminRoleIDs []string) PermissionSet {
	held := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		held[id] = struct{}{}
	}

	resolved := make(PermissionSet)
	for _, grant := range grants {
		if _, ok := held[grant.RoleID]; !ok {
			continue
		}
		for _, p := range grant.Permissions {
			resolved[p] = struct{}{}
		}
	}

	escalate := resolved.Has(PermSuperAdmin)
	if !escalate {
		for _, id := range superAdminRoleIDs {
			if _, ok := held[id]; ok {
				escalate = true
				break
			}
		}
	}
	if escalate {
		full := make(PermissionSet, len(AllPermissions()))
		for _, p := range AllPermissions() {
			full[p] = struct{}{}
		}
		return full
	}
	return resolved
}

// RolesIntersect reports whether the two role ID lists share any element.
func RolesIntersect(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
