package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSession_LoginPersistsAndRestores(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	sess := NewSession(kv, State{})

	p := Principal{Name: "Maya Manager", Email: "maya@example.com", Role: RoleManager}
	if err := sess.Login(ctx, p, "opaque-token"); err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if !sess.Authenticated() {
		t.Fatal("login: expected session to be authenticated")
	}

	restored, err := Restore(ctx, kv)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, ok := restored.Principal()
	if !ok {
		t.Fatal("restore: expected principal")
	}
	if got != p {
		t.Fatalf("restore: expected %+v got %+v", p, got)
	}
	if restored.Credential() != "opaque-token" {
		t.Fatalf("restore: expected credential to survive, got %q", restored.Credential())
	}
}

func TestSession_LoginValidation(t *testing.T) {
	sess := NewSession(nil, State{})

	err := sess.Login(context.Background(), Principal{Name: "x", Email: "", Role: RoleViewer}, "tok")
	if !errors.Is(err, ErrInvalidPrincipal) {
		t.Fatalf("expected ErrInvalidPrincipal, got %v", err)
	}
	if err := sess.Login(context.Background(), Principal{Name: "x", Email: "x@example.com", Role: "owner"}, "tok"); !errors.Is(err, ErrInvalidPrincipal) {
		t.Fatalf("expected ErrInvalidPrincipal for unknown role, got %v", err)
	}
	if err := sess.Login(context.Background(), Principal{Name: "x", Email: "x@example.com", Role: RoleViewer}, "  "); err == nil {
		t.Fatal("expected error for empty credential")
	}
	if sess.Authenticated() {
		t.Fatal("failed logins must leave the session unauthenticated")
	}
}

func TestSession_SwitchRole(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	sess := NewSession(kv, State{})

	if err := sess.SwitchRole(ctx, RoleManager); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("switch without principal: expected ErrUnauthenticated, got %v", err)
	}

	if err := sess.Login(ctx, Principal{Name: "Sam", Email: "sam@example.com", Role: RoleSalesRep}, "tok"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.Capabilities().CanApproveReject {
		t.Fatal("sales rep must not approve")
	}

	if err := sess.SwitchRole(ctx, RoleManager); err != nil {
		t.Fatalf("switch role: %v", err)
	}
	if !sess.Capabilities().CanApproveReject {
		t.Fatal("expected manager capabilities after switch")
	}

	restored, err := Restore(ctx, kv)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	p, _ := restored.Principal()
	if p.Role != RoleManager {
		t.Fatalf("expected persisted role manager, got %s", p.Role)
	}

	if err := sess.SwitchRole(ctx, Role("admin")); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestSession_Logout(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	sess := NewSession(kv, State{})
	if err := sess.Login(ctx, Principal{Name: "Vic", Email: "vic@example.com", Role: RoleViewer}, "tok"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := sess.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if sess.Authenticated() {
		t.Fatal("expected logged out session")
	}
	if _, ok, _ := kv.Get(ctx, tokenKey); ok {
		t.Fatal("expected token to be cleared from storage")
	}
}

func TestSession_ExpiredJWTCountsAsAbsent(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	expired := signToken(t, now.Add(-time.Minute))
	valid := signToken(t, now.Add(time.Hour))

	p := &Principal{Name: "Maya", Email: "maya@example.com", Role: RoleManager}

	sess := NewSession(nil, State{Principal: p, Token: expired}).WithClock(func() time.Time { return now })
	if sess.Authenticated() {
		t.Fatal("expected expired token to be rejected")
	}
	if sess.Credential() != "" {
		t.Fatalf("expected empty credential, got %q", sess.Credential())
	}

	sess = NewSession(nil, State{Principal: p, Token: valid}).WithClock(func() time.Time { return now })
	if !sess.Authenticated() {
		t.Fatal("expected unexpired token to be accepted")
	}
}

func TestRestore_IgnoresCorruptUser(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	_ = kv.Set(ctx, userKey, "{not json")
	_ = kv.Set(ctx, tokenKey, "tok")

	sess, err := Restore(ctx, kv)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, ok := sess.Principal(); ok {
		t.Fatal("expected corrupt user entry to be ignored")
	}
	if sess.Authenticated() {
		t.Fatal("token without principal must not authenticate")
	}
}

func TestInspectToken(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	claims, ok := InspectToken(signToken(t, exp))
	if !ok {
		t.Fatal("expected jwt to be inspectable")
	}
	if claims.Subject != "maya@example.com" || claims.Role != "manager" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.ExpiresAt.Equal(exp) {
		t.Fatalf("expected exp %s got %s", exp, claims.ExpiresAt)
	}

	if _, ok := InspectToken("eyJzdWIiOiJ4In0="); ok {
		t.Fatal("opaque token must not parse")
	}
	if TokenExpired("opaque", time.Now()) {
		t.Fatal("opaque tokens never expire client-side")
	}
}

func signToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "maya@example.com",
		"role": "manager",
		"exp":  exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
