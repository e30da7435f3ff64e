package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbrick/scenario-engine/brick"
	"github.com/finbrick/scenario-engine/ledger"
)

func TestSecurityOpeningPositionAndDrift(t *testing.T) {
	// GIVEN 100 units at 10 with ~12.68% effective annual drift
	// ((1+pa)^(1/12)-1 gives exactly 1% per month)
	b := brick.Brick{ID: "sec:etf", Kind: brick.KindSecurityUnitized, Spec: brick.Spec{
		"initial_units": 100,
		"price0":        10,
		"drift_pa":      0.126825030131969720,
	}}
	ctx := testContext(t, 3, b)

	sim, err := SecurityStrategy{}.Prepare(b, ctx)
	require.NoError(t, err)
	out, err := sim.Simulate(ctx)
	require.NoError(t, err)

	require.NotEmpty(t, out.Txns)
	assert.Equal(t, TxnOpening, out.Txns[0].Type)
	assert.Equal(t, "1000", out.Txns[0].Amount.String())

	// each month the position revalues by ~1%
	revalues := sumByType(out.Txns, TxnRevalue)
	assert.True(t, revalues.IsPositive())
	month1 := txnsAt(out.Txns, 1)
	require.Len(t, month1, 1)
	assert.Equal(t, TxnRevalue, month1[0].Type)
	assert.Equal(t, "10", month1[0].Amount.String()) // 1010 - 1000
	month2 := txnsAt(out.Txns, 2)
	require.Len(t, month2, 1)
	assert.Equal(t, "10.1", month2[0].Amount.String()) // 1020.10 - 1010
}

func TestSecurityExplicitPriceSeries(t *testing.T) {
	b := brick.Brick{ID: "sec:fund", Kind: brick.KindSecurityUnitized, Spec: brick.Spec{
		"initial_units": 10,
		"price_series": map[string]any{
			"2026-01": 100,
			"2026-03": 120, // February carries January's price forward
		},
	}}
	ctx := testContext(t, 3, b)

	sim, err := SecurityStrategy{}.Prepare(b, ctx)
	require.NoError(t, err)
	out, err := sim.Simulate(ctx)
	require.NoError(t, err)

	assert.Equal(t, "1000", out.Txns[0].Amount.String())
	assert.Empty(t, txnsAt(out.Txns, 1), "no revalue while the price is flat")
	month2 := txnsAt(out.Txns, 2)
	require.Len(t, month2, 1)
	assert.Equal(t, TxnRevalue, month2[0].Type)
	assert.Equal(t, "200", month2[0].Amount.String())
}

func TestSecuritySplitPreservesValue(t *testing.T) {
	b := brick.Brick{ID: "sec:split", Kind: brick.KindSecurityUnitized, Spec: brick.Spec{
		"initial_units": 100,
		"price0":        10,
		"splits":        map[string]any{"2026-02": 2},
	}}
	ctx := testContext(t, 3, b)

	sim, err := SecurityStrategy{}.Prepare(b, ctx)
	require.NoError(t, err)
	out, err := sim.Simulate(ctx)
	require.NoError(t, err)

	// units x price is invariant across the split: no revaluation at all
	assert.Equal(t, 0, countByType(out.Txns, TxnRevalue))

	require.Len(t, out.Events, 1)
	assert.Equal(t, EventSplit, out.Events[0].Kind)
	assert.Equal(t, 1, out.Events[0].Index)
}

func TestSecurityDollarCostAveraging(t *testing.T) {
	b := brick.Brick{ID: "sec:dca", Kind: brick.KindSecurityUnitized, Spec: brick.Spec{
		"price0":     50,
		"dca_amount": 200,
	}}
	ctx := testContext(t, 6, b)

	sim, err := SecurityStrategy{}.Prepare(b, ctx)
	require.NoError(t, err)
	out, err := sim.Simulate(ctx)
	require.NoError(t, err)

	assert.Equal(t, 6, countByType(out.Txns, TxnBuy))
	assert.Equal(t, "1200", sumByType(out.Txns, TxnBuy).String())
	// flat price: buys never produce revaluations
	assert.Equal(t, 0, countByType(out.Txns, TxnRevalue))
}

func TestSecurityDividends(t *testing.T) {
	spec := brick.Spec{
		"initial_units":     120,
		"price0":            100,
		"dividend_yield_pa": 0.03,
	}

	t.Run("paid out to cash", func(t *testing.T) {
		b := brick.Brick{ID: "sec:div", Kind: brick.KindSecurityUnitized, Spec: spec}
		ctx := testContext(t, 2, b)
		sim, err := SecurityStrategy{}.Prepare(b, ctx)
		require.NoError(t, err)
		out, err := sim.Simulate(ctx)
		require.NoError(t, err)

		// 12000 * 0.25% = 30 per month
		assert.Equal(t, 2, countByType(out.Txns, TxnDividendCash))
		assert.Equal(t, "60", sumByType(out.Txns, TxnDividendCash).String())
		assert.Equal(t, 0, countByType(out.Txns, TxnDividendReinvest))
	})

	t.Run("reinvested into units", func(t *testing.T) {
		withReinvest := brick.Spec{}
		for k, v := range spec {
			withReinvest[k] = v
		}
		withReinvest["dividend_reinvest"] = true
		b := brick.Brick{ID: "sec:div", Kind: brick.KindSecurityUnitized, Spec: withReinvest}
		ctx := testContext(t, 2, b)
		sim, err := SecurityStrategy{}.Prepare(b, ctx)
		require.NoError(t, err)
		out, err := sim.Simulate(ctx)
		require.NoError(t, err)

		assert.Equal(t, 0, countByType(out.Txns, TxnDividendCash))
		reinvested := countByType(out.Txns, TxnDividendReinvest)
		assert.Equal(t, 2, reinvested)
		// the second dividend accrues on slightly more units
		month1 := txnsAt(out.Txns, 1)
		require.NotEmpty(t, month1)
		assert.Equal(t, "30.08", month1[0].Amount.String())
	})
}

func TestSecurityOversellFlagsNegativeUnits(t *testing.T) {
	b := brick.Brick{ID: "sec:over", Kind: brick.KindSecurityUnitized, Spec: brick.Spec{
		"initial_units": 10,
		"price0":        10,
		"sales":         map[string]any{"2026-02": 500},
	}}
	ctx := testContext(t, 3, b)

	sim, err := SecurityStrategy{}.Prepare(b, ctx)
	require.NoError(t, err)
	out, err := sim.Simulate(ctx)
	require.NoError(t, err)

	found := false
	for _, ev := range out.Events {
		if ev.Kind == EventNegativeUnits {
			found = true
			assert.Equal(t, 1, ev.Index)
		}
	}
	assert.True(t, found, "overselling must be reported")
}

func TestSecurityWindowEndDisposal(t *testing.T) {
	start := ledger.NewMonth(2026, time.January)
	b := brick.Brick{ID: "sec:exit", Kind: brick.KindSecurityUnitized,
		Window: brick.Window{Start: &start, DurationM: 6},
		Spec: brick.Spec{
			"initial_units": 100,
			"price0":        10,
			"sell_fees_pct": 0.01,
		}}
	ctx := testContext(t, 12, b)

	sim, err := SecurityStrategy{}.Prepare(b, ctx)
	require.NoError(t, err)
	out, err := sim.Simulate(ctx)
	require.NoError(t, err)

	assert.Equal(t, "1000", sumByType(out.Txns, TxnDisposal).String())
	assert.Equal(t, "10", sumByType(out.Txns, TxnDisposalFee).String())

	disposed := false
	for _, ev := range out.Events {
		if ev.Kind == EventDisposal {
			disposed = true
			assert.Equal(t, 5, ev.Index)
		}
	}
	assert.True(t, disposed)
}

func TestSecurityDeterministicPriceWalk(t *testing.T) {
	spec := brick.Spec{
		"initial_units": 100,
		"price0":        10,
		"drift_pa":      0.05,
		"vol_pa":        0.2,
		"seed":          42,
	}
	run := func() Output {
		b := brick.Brick{ID: "sec:walk", Kind: brick.KindSecurityUnitized, Spec: spec}
		ctx := testContext(t, 24, b)
		sim, err := SecurityStrategy{}.Prepare(b, ctx)
		require.NoError(t, err)
		out, err := sim.Simulate(ctx)
		require.NoError(t, err)
		return out
	}

	first := run()
	second := run()
	require.Equal(t, len(first.Txns), len(second.Txns))
	for i := range first.Txns {
		assert.True(t, first.Txns[i].Amount.Equal(second.Txns[i].Amount),
			"same seed must reproduce the same path (txn %d)", i)
	}
}

func TestSecurityConfigurationRejections(t *testing.T) {
	ctx := testContext(t, 12)
	cases := []struct {
		name string
		spec brick.Spec
	}{
		{"series and drift", brick.Spec{"price_series": map[string]any{"2026-01": 10}, "drift_pa": 0.05}},
		{"no price at all", brick.Spec{"initial_units": 10}},
		{"negative units", brick.Spec{"initial_units": -1, "price0": 10}},
		{"series outside horizon", brick.Spec{"price_series": map[string]any{"2031-01": 10}}},
		{"zero split ratio", brick.Spec{"price0": 10, "splits": map[string]any{"2026-02": 0}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SecurityStrategy{}.Prepare(brick.Brick{ID: "s", Kind: brick.KindSecurityUnitized, Spec: tc.spec}, ctx)
			require.Error(t, err)
			assert.ErrorIs(t, err, ledger.ErrConfig)
		})
	}
}
