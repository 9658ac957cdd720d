package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "member read", role: RoleMember, action: ActionRead, allow: true},
		{name: "member vote", role: RoleMember, action: ActionVote, allow: true},
		{name: "member propose", role: RoleMember, action: ActionPropose, allow: true},
		{name: "member invite", role: RoleMember, action: ActionInvite, allow: true},
		{name: "member manage members", role: RoleMember, action: ActionManageMembers, allow: false},
		{name: "admin manage members", role: RoleAdmin, action: ActionManageMembers, allow: true},
		{name: "owner manage members", role: RoleOwner, action: ActionManageMembers, allow: true},
		{name: "unknown role", role: Role("guest"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]Role{
		"owner":  RoleOwner,
		"admin":  RoleAdmin,
		"member": RoleMember,
		"":       RoleMember,
		"editor": RoleMember,
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}
