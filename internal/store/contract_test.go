package store

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestContractCreateAndListActive(t *testing.T) {
	db := openTestDB(t)
	parent, child := seedFamily(t, db)
	cs := NewContractStore(db)
	ctx := context.Background()

	rule, err := cs.CreateRule(ctx, "No phones at dinner", "")
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	c, err := cs.Create(ctx, ContractInput{
		Title:       "January",
		ChildID:     child.ID,
		ParentID:    parent.ID,
		DailyReward: decimal.RequireFromString("2.50"),
		StartDate:   day("2024-01-01"),
		EndDate:     day("2024-01-31"),
		RuleIDs:     []int64{rule.ID},
	})
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}
	if !c.Active {
		t.Error("new contract should be active")
	}
	if !c.DailyReward.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("daily reward = %s, want 2.50", c.DailyReward)
	}
	if len(c.RuleIDs) != 1 || c.RuleIDs[0] != rule.ID {
		t.Errorf("rule ids = %v", c.RuleIDs)
	}

	for _, tc := range []struct {
		date string
		want int
	}{
		{"2023-12-31", 0},
		{"2024-01-01", 1},
		{"2024-01-31", 1},
		{"2024-02-01", 0},
	} {
		got, err := cs.ListActiveOn(ctx, day(tc.date))
		if err != nil {
			t.Fatalf("list active on %s: %v", tc.date, err)
		}
		if len(got) != tc.want {
			t.Errorf("active on %s = %d, want %d", tc.date, len(got), tc.want)
		}
	}

	if err := cs.SetActive(ctx, c.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, _ := cs.ListActiveOn(ctx, day("2024-01-15"))
	if len(got) != 0 {
		t.Errorf("inactive contract listed: %+v", got)
	}
}

func TestContractRejectsNegativeReward(t *testing.T) {
	db := openTestDB(t)
	parent, child := seedFamily(t, db)
	cs := NewContractStore(db)

	_, err := cs.Create(context.Background(), ContractInput{
		Title: "Bad", ChildID: child.ID, ParentID: parent.ID,
		DailyReward: decimal.NewFromInt(-1),
		StartDate:   day("2024-01-01"), EndDate: day("2024-01-31"),
	})
	if err == nil {
		t.Fatal("expected check constraint error")
	}
}

func TestCountViolations(t *testing.T) {
	db := openTestDB(t)
	parent, child := seedFamily(t, db)
	cs := NewContractStore(db)
	ctx := context.Background()

	rule, err := cs.CreateRule(ctx, "Bedtime", "")
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	v, err := cs.RecordViolation(ctx, rule.ID, child.ID, day("2024-01-05"), "stayed up", parent.ID)
	if err != nil {
		t.Fatalf("record violation: %v", err)
	}
	if v.ID == 0 || v.CreatedAt.IsZero() {
		t.Errorf("violation not populated: %+v", v)
	}

	n, err := cs.CountViolations(ctx, child.ID, day("2024-01-05"))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("violations on 01-05 = %d, want 1", n)
	}
	n, _ = cs.CountViolations(ctx, child.ID, day("2024-01-06"))
	if n != 0 {
		t.Errorf("violations on 01-06 = %d, want 0", n)
	}
}
