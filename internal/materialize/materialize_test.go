package materialize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/allowance/internal/database"
	"github.com/dukerupert/allowance/internal/model"
	"github.com/dukerupert/allowance/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

type fixture struct {
	series *store.SeriesStore
	parent *model.User
	child  *model.User
}

func setup(t *testing.T) fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	us := store.NewUserStore(db)
	parent, err := us.Create(context.Background(), "Mom", model.RoleParent)
	require.NoError(t, err)
	child, err := us.Create(context.Background(), "Sam", model.RoleChild)
	require.NoError(t, err)
	return fixture{series: store.NewSeriesStore(db), parent: parent, child: child}
}

func (f fixture) create(t *testing.T, rrule, start string, until *time.Time) int64 {
	t.Helper()
	s, err := f.series.Create(context.Background(), store.SeriesInput{
		Title: "Chore", CreatorID: f.parent.ID, StartDate: day(start), UntilDate: until,
		RRule: rrule, Timezone: "UTC", AssigneeIDs: []int64{f.child.ID},
	})
	require.NoError(t, err)
	return s.ID
}

func dates(occs []model.TaskOccurrence) []string {
	out := make([]string, len(occs))
	for i, o := range occs {
		out[i] = o.DueDate.Format("2006-01-02")
	}
	return out
}

func TestMaterializeWeeklyHorizon(t *testing.T) {
	f := setup(t)
	id := f.create(t, "FREQ=WEEKLY;BYDAY=MO,WE", "2024-01-01", nil)
	m := New(f.series, 30, quiet)
	ctx := context.Background()

	res, err := m.Materialize(ctx, day("2024-01-01"))
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	// Mon/Wed from Jan 1 through Jan 31.
	assert.Equal(t, 10, res.Created)
	assert.Equal(t, 0, res.Skipped)

	occs, err := f.series.ListOccurrences(ctx, id, day("2024-01-01"), day("2024-12-31"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-01-01", "2024-01-03", "2024-01-08", "2024-01-10", "2024-01-15",
		"2024-01-17", "2024-01-22", "2024-01-24", "2024-01-29", "2024-01-31",
	}, dates(occs))
}

func TestMaterializeIsIdempotent(t *testing.T) {
	f := setup(t)
	id := f.create(t, "FREQ=DAILY", "2024-01-01", nil)
	m := New(f.series, 7, quiet)
	ctx := context.Background()

	first, err := m.Materialize(ctx, day("2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, 8, first.Created)

	second, err := m.Materialize(ctx, day("2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 8, second.Skipped)

	// Rolling forward one day adds exactly one new date.
	third, err := m.Materialize(ctx, day("2024-01-02"))
	require.NoError(t, err)
	assert.Equal(t, 1, third.Created)

	n, err := f.series.CountOccurrences(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}

func TestMaterializeRespectsBounds(t *testing.T) {
	f := setup(t)
	until := day("2024-01-05")
	ended := f.create(t, "FREQ=DAILY", "2024-01-01", &until)
	future := f.create(t, "FREQ=DAILY", "2024-03-01", nil)
	m := New(f.series, 30, quiet)
	ctx := context.Background()

	_, err := m.Materialize(ctx, day("2024-01-03"))
	require.NoError(t, err)

	occs, err := f.series.ListOccurrences(ctx, ended, day("2024-01-01"), day("2024-12-31"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-03", "2024-01-04", "2024-01-05"}, dates(occs),
		"no past dates and nothing after until")

	n, err := f.series.CountOccurrences(ctx, future)
	require.NoError(t, err)
	assert.Zero(t, n, "series starting after the horizon gets nothing yet")
}

func TestMaterializeSeries(t *testing.T) {
	f := setup(t)
	id := f.create(t, "FREQ=WEEKLY;BYDAY=FR", "2024-01-01", nil)
	m := New(f.series, 14, quiet)

	sr, err := m.MaterializeSeries(context.Background(), id, day("2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, SeriesResult{SeriesID: id, Created: 2}, sr)

	missing, err := m.MaterializeSeries(context.Background(), 999, day("2024-01-01"))
	require.NoError(t, err)
	assert.Equal(t, SeriesResult{SeriesID: 999}, missing)
}

// flakyRepo fails inserts for one series.
type flakyRepo struct {
	SeriesRepo
	failID int64
}

func (r flakyRepo) InsertOccurrences(ctx context.Context, seriesID int64, d []time.Time) (int, error) {
	if seriesID == r.failID {
		return 0, errors.New("disk on fire")
	}
	return r.SeriesRepo.InsertOccurrences(ctx, seriesID, d)
}

func TestMaterializeIsolatesFailures(t *testing.T) {
	f := setup(t)
	bad := f.create(t, "FREQ=DAILY", "2024-01-01", nil)
	good := f.create(t, "FREQ=DAILY", "2024-01-01", nil)
	m := New(flakyRepo{SeriesRepo: f.series, failID: bad}, 2, quiet)
	ctx := context.Background()

	res, err := m.Materialize(ctx, day("2024-01-01"))
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, bad, res.Failures[0].SeriesID)
	assert.Equal(t, 3, res.Created)

	n, err := f.series.CountOccurrences(ctx, good)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMaterializeRecordsBadRule(t *testing.T) {
	f := setup(t)
	f.create(t, "FREQ=HOURLY", "2024-01-01", nil)
	m := New(f.series, 2, quiet)

	res, err := m.Materialize(context.Background(), day("2024-01-01"))
	require.NoError(t, err)
	assert.Len(t, res.Failures, 1)
}
