package domain

import (
	"testing"
	"time"
)

func TestResolvePermissionsUnion(t *testing.T) {
	grants := []RolePermission{
		{RoleID: "role-a", Permissions: []PermissionKey{PermAdminStore}},
		{RoleID: "role-b", Permissions: []PermissionKey{PermAdminRules}},
		{RoleID: "role-c", Permissions: []PermissionKey{PermAdminPanel}},
	}

	perms := ResolvePermissions([]string{"role-a", "role-b"}, grants, nil)

	if !perms.Has(PermAdminStore) || !perms.Has(PermAdminRules) {
		t.Fatalf("expected union of both grants, got %v", perms)
	}
	if perms.Has(PermAdminPanel) {
		t.Fatalf("role-c grant leaked into result")
	}
	if len(perms) != 2 {
		t.Fatalf("expected exactly 2 permissions, got %d", len(perms))
	}
}

func TestResolvePermissionsUnknownRoleContributesNothing(t *testing.T) {
	perms := ResolvePermissions([]string{"role-x"}, []RolePermission{
		{RoleID: "role-a", Permissions: []PermissionKey{PermAdminStore}},
	}, nil)
	if len(perms) != 0 {
		t.Fatalf("expected empty set, got %v", perms)
	}
}

func TestResolvePermissionsSuperAdminRole(t *testing.T) {
	perms := ResolvePermissions([]string{"role-boss"}, nil, []string{"role-boss"})
	for _, p := range AllPermissions() {
		if !perms.Has(p) {
			t.Fatalf("super admin missing %s", p)
		}
	}
	if !perms.IsSuperAdmin() {
		t.Fatalf("expected super admin flag")
	}
}

func TestResolvePermissionsSuperAdminViaGrant(t *testing.T) {
	grants := []RolePermission{
		{RoleID: "role-a", Permissions: []PermissionKey{PermSuperAdmin}},
	}
	perms := ResolvePermissions([]string{"role-a"}, grants, nil)
	if len(perms) != len(AllPermissions()) {
		t.Fatalf("expected full set, got %d of %d", len(perms), len(AllPermissions()))
	}
}

func TestSatisfiesSeason(t *testing.T) {
	t0 := mustTime(t, "2025-01-01T00:00:00Z")
	t1 := mustTime(t, "2025-02-01T00:00:00Z")
	t2 := mustTime(t, "2025-03-01T00:00:00Z")

	sub := Submission{QuizID: "quiz-1", SubmittedAt: t1}

	reopened := Quiz{ID: "quiz-1", LastOpenedAt: &t2}
	if reopened.SatisfiesSeason(sub) {
		t.Fatalf("submission before reopening should not count")
	}

	current := Quiz{ID: "quiz-1", LastOpenedAt: &t0}
	if !current.SatisfiesSeason(sub) {
		t.Fatalf("submission after season start should count")
	}

	neverReopened := Quiz{ID: "quiz-1"}
	if !neverReopened.SatisfiesSeason(sub) {
		t.Fatalf("quiz without lastOpenedAt should count any submission")
	}

	otherQuiz := Quiz{ID: "quiz-2", LastOpenedAt: &t0}
	if otherQuiz.SatisfiesSeason(sub) {
		t.Fatalf("submission for another quiz should not count")
	}
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time: %v", err)
	}
	return ts
}
