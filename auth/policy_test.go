package auth

import "testing"

func TestCapabilitiesFor(t *testing.T) {
	tests := []struct {
		role Role
		want Capabilities
	}{
		{RoleManager, Capabilities{CanApproveReject: true, CanEdit: true, CanComment: true, CanReply: true}},
		{RoleSalesRep, Capabilities{CanComment: true}},
		{RoleViewer, Capabilities{IsViewer: true}},
		{Role(""), Capabilities{}},
		{Role("admin"), Capabilities{}},
	}
	for _, tt := range tests {
		if got := CapabilitiesFor(tt.role); got != tt.want {
			t.Errorf("CapabilitiesFor(%q) = %+v, want %+v", tt.role, got, tt.want)
		}
	}
}

func TestCanSeeReply(t *testing.T) {
	roles := []Role{RoleManager, RoleSalesRep, RoleViewer}
	for _, viewer := range roles {
		for _, author := range roles {
			got := CanSeeReply(viewer, author)
			if got != (viewer == author) {
				t.Errorf("CanSeeReply(%s, %s) = %v", viewer, author, got)
			}
		}
	}
	if CanSeeReply("", "") {
		t.Error("an empty role must not see anything")
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole(" Manager "); err != nil || r != RoleManager {
		t.Fatalf("ParseRole: got %q, %v", r, err)
	}
	if _, err := ParseRole("owner"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
