package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/allowance/internal/database"
	"github.com/dukerupert/allowance/internal/model"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// seedFamily creates one parent and one child.
func seedFamily(t *testing.T, db *database.DB) (parent, child *model.User) {
	t.Helper()
	us := NewUserStore(db)
	ctx := context.Background()
	parent, err := us.Create(ctx, "Mom", model.RoleParent)
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err = us.Create(ctx, "Sam", model.RoleChild)
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	return parent, child
}

func TestUserCreate(t *testing.T) {
	us := NewUserStore(openTestDB(t))

	u, err := us.Create(context.Background(), "Alice", model.RoleChild)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if u.Name != "Alice" {
		t.Errorf("name = %q, want %q", u.Name, "Alice")
	}
	if u.Role != model.RoleChild {
		t.Errorf("role = %q, want %q", u.Role, model.RoleChild)
	}
}

func TestUserCreateInvalidRole(t *testing.T) {
	us := NewUserStore(openTestDB(t))

	if _, err := us.Create(context.Background(), "Rex", model.Role("dog")); err == nil {
		t.Fatal("expected check constraint error for unknown role")
	}
}

func TestUserGetByIDNotFound(t *testing.T) {
	us := NewUserStore(openTestDB(t))

	u, err := us.GetByID(context.Background(), 999)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u != nil {
		t.Errorf("expected nil, got %+v", u)
	}
}

func TestUserListByRole(t *testing.T) {
	db := openTestDB(t)
	us := NewUserStore(db)
	ctx := context.Background()

	for _, name := range []string{"Zoe", "Ann"} {
		if _, err := us.Create(ctx, name, model.RoleChild); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	if _, err := us.Create(ctx, "Dad", model.RoleParent); err != nil {
		t.Fatalf("create parent: %v", err)
	}

	kids, err := us.ListByRole(ctx, model.RoleChild)
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(kids) != 2 {
		t.Fatalf("expected 2 children, got %d", len(kids))
	}
	if kids[0].Name != "Ann" || kids[1].Name != "Zoe" {
		t.Errorf("order = %q, %q; want Ann, Zoe", kids[0].Name, kids[1].Name)
	}
}
