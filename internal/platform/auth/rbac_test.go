package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func requestWithIdentity(e *echo.Echo, role string) echo.Context {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := req.Context()
	ctx = context.WithValue(ctx, UserIDKey, uuid.NewString())
	ctx = context.WithValue(ctx, UserRoleKey, role)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec)
}

func TestRequireRole_Match(t *testing.T) {
	e := echo.New()
	called := false
	h := RequireRole(RoleNurse)(func(c echo.Context) error {
		called = true
		return nil
	})

	if err := h(requestWithIdentity(e, RoleNurse)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Errorf("handler should have been invoked")
	}
}

func TestRequireRole_Mismatch(t *testing.T) {
	e := echo.New()
	h := RequireRole(RoleDoctor)(func(c echo.Context) error { return nil })

	err := h(requestWithIdentity(e, RoleClerk))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestRequireRole_AdministratorBypass(t *testing.T) {
	e := echo.New()
	called := false
	h := RequireRole(RoleSocialWorker)(func(c echo.Context) error {
		called = true
		return nil
	})

	if err := h(requestWithIdentity(e, RoleAdministrator)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Errorf("administrator should bypass role checks")
	}
}

func TestIdentityCan(t *testing.T) {
	id := Identity{UserID: uuid.New(), Role: RoleNurse}
	if !id.Can(RoleNurse) {
		t.Errorf("nurse should satisfy nurse requirement")
	}
	if id.Can(RoleDoctor) {
		t.Errorf("nurse should not satisfy doctor requirement")
	}

	admin := Identity{UserID: uuid.New(), Role: RoleAdministrator}
	if !admin.Can(RoleDoctor) {
		t.Errorf("administrator should satisfy any role requirement")
	}
}

func TestNormalizeRole(t *testing.T) {
	cases := map[string]string{
		"Doctor":        "doctor",
		"SOCIAL WORKER": "social_worker",
		"social_work":   "social_worker",
		" nurse ":       "nurse",
	}
	for in, want := range cases {
		if got := NormalizeRole(in); got != want {
			t.Errorf("NormalizeRole(%q) = %q, want %q", in, got, want)
		}
	}
}
