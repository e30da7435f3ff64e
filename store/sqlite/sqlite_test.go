package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbrick/scenario-engine/brick"
	"github.com/finbrick/scenario-engine/ledger"
	"github.com/finbrick/scenario-engine/scenario"
)

func testRun(t *testing.T) *scenario.RunResult {
	t.Helper()
	reg := brick.NewRegistry()
	require.NoError(t, reg.AddBrick(brick.Brick{
		ID: "cash:main", Kind: brick.KindCash,
		Spec: brick.Spec{"initial_balance": 100, "interest_pa": 0.12},
	}))
	require.NoError(t, reg.AddBrick(brick.Brick{
		ID: "f:salary", Kind: brick.KindIncomeRecurring,
		Spec: brick.Spec{"amount": 2000},
	}))
	s := &scenario.Scenario{
		ID:       "scn:store",
		Base:     ledger.EUR,
		Start:    ledger.NewMonth(2026, time.January),
		Months:   3,
		Registry: reg,
	}
	r, err := s.Run()
	require.NoError(t, err)
	return r
}

func TestSaveAndLoadRun(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	r := testRun(t)
	issues, err := r.Validate(scenario.ModeWarn)
	require.NoError(t, err)

	ctx := context.Background()
	runID, err := store.SaveRun(ctx, r, issues)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	rec, err := store.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "scn:store", rec.ScenarioID)
	assert.Equal(t, ledger.EUR, rec.Base)
	assert.Equal(t, ledger.NewMonth(2026, time.January), rec.Start)
	assert.Equal(t, 3, rec.Months)
	assert.Empty(t, rec.Issues)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestEntryRowsMatchJournal(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	r := testRun(t)
	ctx := context.Background()
	runID, err := store.SaveRun(ctx, r, nil)
	require.NoError(t, err)

	rows, err := store.EntryRows(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, r.Journal.Len()*2, len(rows))

	// replaying the cash legs reproduces the journal balance
	total := ledger.MustParseDecimal("0")
	for _, row := range rows {
		if row.Account == "cash:main" {
			total = total.Add(row.Amount)
		}
	}
	end := r.Axis.End()
	assert.True(t, total.Equal(r.Journal.Balance("cash:main", end)),
		"replayed %s, journal says %s", total, r.Journal.Balance("cash:main", end))

	// rows come back in (month, sequence) order
	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]
		ordered := prev.Month.Before(cur.Month) || prev.Month == cur.Month && prev.Sequence <= cur.Sequence
		assert.True(t, ordered, "row %d out of order", i)
	}
}

func TestListRunsFiltersByScenario(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	r := testRun(t)
	ctx := context.Background()
	_, err = store.SaveRun(ctx, r, nil)
	require.NoError(t, err)
	_, err = store.SaveRun(ctx, r, nil)
	require.NoError(t, err)

	all, err := store.ListRuns(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := store.ListRuns(ctx, "scn:store")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	none, err := store.ListRuns(ctx, "scn:other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetRunNotFound(t *testing.T) {
	store, err := New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.GetRun(context.Background(), "nope")
	assert.Error(t, err)
}
