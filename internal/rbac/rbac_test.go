package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "participant read", role: RoleParticipant, action: ActionRead, allow: true},
		{name: "participant participate", role: RoleParticipant, action: ActionParticipate, allow: true},
		{name: "participant write", role: RoleParticipant, action: ActionWrite, allow: false},
		{name: "participant admin", role: RoleParticipant, action: ActionAdmin, allow: false},
		{name: "researcher write", role: RoleResearcher, action: ActionWrite, allow: true},
		{name: "researcher admin", role: RoleResearcher, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "super admin admin", role: RoleSuperAdmin, action: ActionAdmin, allow: true},
		{name: "unknown role read", role: Role("ghost"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalizeDefaultsToParticipant(t *testing.T) {
	if got := Normalize("researcher"); got != RoleResearcher {
		t.Fatalf("Normalize(researcher) = %q", got)
	}
	if got := Normalize("root"); got != RoleParticipant {
		t.Fatalf("Normalize(root) = %q, want participant", got)
	}
	if got := Normalize(""); got != RoleParticipant {
		t.Fatalf("Normalize(\"\") = %q, want participant", got)
	}
}
