package store

import (
	"context"
	"testing"
	"time"
)

func TestTaskCreateAndComplete(t *testing.T) {
	db := openTestDB(t)
	parent, child := seedFamily(t, db)
	ts := NewTaskStore(db)
	ctx := context.Background()

	task, err := ts.Create(ctx, "Homework", "", day("2024-01-05"), parent.ID, []int64{child.ID})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Completed {
		t.Error("new task should not be completed")
	}
	if len(task.AssigneeIDs) != 1 || task.AssigneeIDs[0] != child.ID {
		t.Errorf("assignees = %v", task.AssigneeIDs)
	}

	done, err := ts.SetCompleted(ctx, task.ID, true)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !done.Completed {
		t.Error("expected completed")
	}
}

func TestDueCounts(t *testing.T) {
	db := openTestDB(t)
	parent, child := seedFamily(t, db)
	ts := NewTaskStore(db)
	ss := NewSeriesStore(db)
	ctx := context.Background()
	d := day("2024-01-08")

	total, incomplete, err := ts.DueCounts(ctx, child.ID, d)
	if err != nil {
		t.Fatalf("due counts: %v", err)
	}
	if total != 0 || incomplete != 0 {
		t.Errorf("empty day: total=%d incomplete=%d", total, incomplete)
	}

	task, err := ts.Create(ctx, "Homework", "", d, parent.ID, []int64{child.ID})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	seriesID := newWeeklySeries(t, ss, parent.ID, child.ID, "2024-01-01")
	if _, err := ss.InsertOccurrences(ctx, seriesID, []time.Time{d}); err != nil {
		t.Fatalf("insert occurrence: %v", err)
	}
	// Another child's task on the same day does not count.
	other, err := NewUserStore(db).Create(ctx, "Kim", "child")
	if err != nil {
		t.Fatalf("create other child: %v", err)
	}
	if _, err := ts.Create(ctx, "Other", "", d, parent.ID, []int64{other.ID}); err != nil {
		t.Fatalf("create other task: %v", err)
	}

	total, incomplete, _ = ts.DueCounts(ctx, child.ID, d)
	if total != 2 || incomplete != 2 {
		t.Errorf("total=%d incomplete=%d, want 2/2", total, incomplete)
	}

	if _, err := ts.SetCompleted(ctx, task.ID, true); err != nil {
		t.Fatalf("complete task: %v", err)
	}
	total, incomplete, _ = ts.DueCounts(ctx, child.ID, d)
	if total != 2 || incomplete != 1 {
		t.Errorf("total=%d incomplete=%d, want 2/1", total, incomplete)
	}

	occs, _ := ss.ListOccurrences(ctx, seriesID, d, d)
	if _, err := ss.CancelOccurrence(ctx, occs[0].ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	total, incomplete, _ = ts.DueCounts(ctx, child.ID, d)
	if total != 1 || incomplete != 0 {
		t.Errorf("after cancel total=%d incomplete=%d, want 1/0", total, incomplete)
	}
}
