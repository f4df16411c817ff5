package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionAdmin, true},
		{RoleAdmin, ActionWrite, true},
		{RoleSurveyor, ActionWrite, true},
		{RoleSurveyor, ActionExport, true},
		{RoleSurveyor, ActionAdmin, false},
		{RoleViewer, ActionRead, true},
		{RoleViewer, ActionExport, true},
		{RoleViewer, ActionWrite, false},
		{Role("ghost"), ActionRead, false},
	}
	for _, c := range cases {
		if got := Can(c.role, c.action); got != c.want {
			t.Errorf("Can(%s, %s) = %v, want %v", c.role, c.action, got, c.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("surveyor") != RoleSurveyor {
		t.Error("known role was not preserved")
	}
	if Normalize("") != RoleViewer {
		t.Error("unknown role did not fall back to viewer")
	}
}
