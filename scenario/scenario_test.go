package scenario

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbrick/scenario-engine/brick"
	"github.com/finbrick/scenario-engine/ledger"
	"github.com/finbrick/scenario-engine/strategy"
)

func newScenario(t *testing.T, months int, bricks ...brick.Brick) *Scenario {
	t.Helper()
	reg := brick.NewRegistry()
	for _, b := range bricks {
		require.NoError(t, reg.AddBrick(b))
	}
	return &Scenario{
		ID:       "scn:test",
		Base:     ledger.EUR,
		Start:    ledger.NewMonth(2026, time.January),
		Months:   months,
		Registry: reg,
	}
}

func runScenario(t *testing.T, months int, bricks ...brick.Brick) *RunResult {
	t.Helper()
	r, err := newScenario(t, months, bricks...).Run()
	require.NoError(t, err)
	return r
}

func cash(id string, balance float64) brick.Brick {
	return brick.Brick{ID: id, Kind: brick.KindCash, Spec: brick.Spec{"initial_balance": balance}}
}

func bal(r *RunResult, id string, monthIndex int) string {
	return r.Journal.Balance(ledger.AccountID(id), r.Axis.At(monthIndex)).String()
}

func TestRunCashInterestCompounds(t *testing.T) {
	// GIVEN 100 at 12% pa, so exactly 1% per month
	r := runScenario(t, 3, brick.Brick{
		ID: "cash:main", Kind: brick.KindCash,
		Spec: brick.Spec{"initial_balance": 100, "interest_pa": 0.12},
	})

	assert.Equal(t, "101", bal(r, "cash:main", 0))
	assert.Equal(t, "102.01", bal(r, "cash:main", 1))

	for cur, v := range ledger.SumByCurrency(r.Journal.TrialBalance(r.Axis.End())) {
		assert.True(t, v.IsZero(), "trial balance for %s is %s", cur, v)
	}
}

func TestRunLoanCashflowAndEquity(t *testing.T) {
	r := runScenario(t, 13,
		cash("cash:main", 100000),
		brick.Brick{ID: "loan:car", Kind: brick.KindLoanAnnuity, Spec: brick.Spec{
			"principal": 12000, "rate_pa": 0, "term_m": 12,
		}},
	)

	table, err := r.Table(TableOptions{})
	require.NoError(t, err)
	require.Len(t, table.Rows, 13)

	// drawdown lands as cash in, then twelve equal repayments
	assert.Equal(t, "12000", table.Rows[0].CashIn.String())
	assert.Equal(t, "112000", table.Rows[0].Cash.String())
	assert.Equal(t, "12000", table.Rows[0].Liabilities.String())
	for i := 1; i <= 12; i++ {
		assert.Equal(t, "1000", table.Rows[i].CashOut.String(), "month %d", i)
	}
	assert.Equal(t, "0", table.Rows[12].Liabilities.String())

	// equity is untouched by borrowing and repaying
	for _, row := range table.Rows {
		assert.Equal(t, "100000", row.Equity.String(), row.Period)
		assert.True(t, row.Equity.Equal(row.Assets.Sub(row.Liabilities)), row.Period)
	}

	issues, err := r.Validate(ModeRaise)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestRunInternalTransferNetting(t *testing.T) {
	r := runScenario(t, 2,
		cash("cash:a", 1000),
		cash("cash:b", 0),
		brick.Brick{ID: "t:move", Kind: brick.KindTransferLumpsum,
			Links: brick.Links{"from": "cash:a", "to": "cash:b"},
			Spec:  brick.Spec{"amount": 200},
		},
	)

	assert.Equal(t, "800", bal(r, "cash:a", 0))
	assert.Equal(t, "200", bal(r, "cash:b", 0))

	// WHEN both endpoints are selected the transfer nets away
	table, err := r.Table(TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, "0", table.Rows[0].CashIn.String())
	assert.Equal(t, "0", table.Rows[0].CashOut.String())
	assert.Equal(t, "1000", table.Rows[0].Cash.String())

	// WHEN only the destination is selected the leg is a real inflow
	table, err = r.Table(TableOptions{Selection: []string{"cash:b"}})
	require.NoError(t, err)
	assert.Equal(t, "200", table.Rows[0].CashIn.String())
	assert.Equal(t, "200", table.Rows[0].Cash.String())
}

func TestRunTransferVisibilityModes(t *testing.T) {
	r := runScenario(t, 1,
		cash("cash:a", 1000),
		cash("cash:b", 0),
		brick.Brick{ID: "f:salary", Kind: brick.KindIncomeRecurring, Spec: brick.Spec{"amount": 100}},
		brick.Brick{ID: "t:move", Kind: brick.KindTransferLumpsum,
			Links: brick.Links{"from": "cash:a", "to": "cash:b"},
			Spec:  brick.Spec{"amount": 200},
		},
	)

	table, err := r.Table(TableOptions{Visibility: VisibilityAll})
	require.NoError(t, err)
	assert.Equal(t, "300", table.Rows[0].CashIn.String())
	assert.Equal(t, "200", table.Rows[0].CashOut.String())

	table, err = r.Table(TableOptions{Visibility: VisibilityOnly})
	require.NoError(t, err)
	assert.Equal(t, "200", table.Rows[0].CashIn.String())
	assert.Equal(t, "200", table.Rows[0].CashOut.String())

	// a fully internal move never crosses the boundary
	table, err = r.Table(TableOptions{Visibility: VisibilityBoundaryOnly})
	require.NoError(t, err)
	assert.Equal(t, "100", table.Rows[0].CashIn.String())
	assert.Equal(t, "0", table.Rows[0].CashOut.String())

	_, err = r.Table(TableOptions{Visibility: "sometimes"})
	assert.True(t, ledger.IsConfig(err))
}

func TestRunMacroSelectionNetsTransfers(t *testing.T) {
	s := newScenario(t, 1,
		cash("cash:a", 1000),
		cash("cash:b", 0),
		brick.Brick{ID: "t:move", Kind: brick.KindTransferLumpsum,
			Links: brick.Links{"from": "cash:a", "to": "cash:b"},
			Spec:  brick.Spec{"amount": 200},
		},
	)
	require.NoError(t, s.Registry.AddMacro(brick.MacroBrick{ID: "m:house", Members: []string{"cash:a", "cash:b"}}))
	r, err := s.Run()
	require.NoError(t, err)

	table, err := r.Table(TableOptions{Selection: []string{"m:house"}})
	require.NoError(t, err)
	assert.Equal(t, "0", table.Rows[0].CashIn.String())
	assert.Equal(t, "1000", table.Rows[0].Cash.String())
}

func TestRunCrossCurrencyTransfer(t *testing.T) {
	usd := cash("cash:usd", 0)
	usd.Spec["currency"] = "USD"
	r := runScenario(t, 2,
		cash("cash:eur", 1000),
		usd,
		brick.Brick{ID: "t:convert", Kind: brick.KindTransferLumpsum,
			Links: brick.Links{"from": "cash:eur", "to": "cash:usd"},
			Spec:  brick.Spec{"amount": 1000, "fx_rate": 1.09},
		},
	)

	assert.Equal(t, "0", bal(r, "cash:eur", 0))
	assert.Equal(t, "1090", bal(r, "cash:usd", 0))

	// each side of the conversion balances in its own currency
	tb := ledger.SumByCurrency(r.Journal.TrialBalance(r.Axis.End()))
	require.Len(t, tb, 2)
	assert.True(t, tb[ledger.EUR].IsZero())
	assert.True(t, tb[ledger.USD].IsZero())

	// the conversion crosses the boundary, so it stays visible by default
	table, err := r.Table(TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, "1000", table.Rows[0].CashOut.String())
	table, err = r.Table(TableOptions{Visibility: VisibilityBoundaryOnly})
	require.NoError(t, err)
	assert.Equal(t, "1000", table.Rows[0].CashOut.String())

	// the USD position is not mixed into a EUR report
	assert.Equal(t, "0", table.Rows[1].Cash.String())
}

func TestRunWeightedRouting(t *testing.T) {
	r := runScenario(t, 1,
		cash("cash:a", 0),
		cash("cash:b", 0),
		cash("cash:c", 0),
		brick.Brick{ID: "f:salary", Kind: brick.KindIncomeRecurring,
			Links: brick.Links{"route.to": map[string]any{"cash:a": 1, "cash:b": 1, "cash:c": 1}},
			Spec:  brick.Spec{"amount": 100},
		},
	)

	// equal thirds, with the last target absorbing the rounding remainder
	assert.Equal(t, "33.33", bal(r, "cash:a", 0))
	assert.Equal(t, "33.33", bal(r, "cash:b", 0))
	assert.Equal(t, "33.34", bal(r, "cash:c", 0))
}

func TestRunRoutingRejections(t *testing.T) {
	base := []brick.Brick{cash("cash:main", 0)}
	cases := map[string]brick.Links{
		"unknown target":  {"route.to": "cash:nope"},
		"non-cash target": {"route.to": "f:other"},
		"negative weight": {"route.to": map[string]any{"cash:main": -1}},
		"zero weights":    {"route.to": map[string]any{"cash:main": 0}},
	}
	for name, links := range cases {
		t.Run(name, func(t *testing.T) {
			bricks := append([]brick.Brick{}, base...)
			bricks = append(bricks,
				brick.Brick{ID: "f:other", Kind: brick.KindIncomeRecurring, Spec: brick.Spec{"amount": 1}},
				brick.Brick{ID: "f:salary", Kind: brick.KindIncomeRecurring, Links: links, Spec: brick.Spec{"amount": 100}},
			)
			_, err := newScenario(t, 1, bricks...).Run()
			assert.True(t, ledger.IsConfig(err), "got %v", err)
		})
	}
}

func TestRunStartChaining(t *testing.T) {
	r := runScenario(t, 6,
		cash("cash:main", 0),
		brick.Brick{ID: "f:contract", Kind: brick.KindIncomeRecurring,
			Window: brick.Window{DurationM: 3},
			Spec:   brick.Spec{"amount": 100},
		},
		brick.Brick{ID: "f:bonus", Kind: brick.KindIncomeOnetime,
			Links: brick.Links{"start.after": "f:contract"},
			Spec:  brick.Spec{"amount": 500},
		},
	)

	table, err := r.Table(TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, "100", table.Rows[2].CashIn.String())
	// the bonus fires the month after the contract ends
	assert.Equal(t, "500", table.Rows[3].CashIn.String())
	assert.Equal(t, "0", table.Rows[4].CashIn.String())
}

func TestRunStartChainingRejections(t *testing.T) {
	t.Run("circular chain", func(t *testing.T) {
		_, err := newScenario(t, 6,
			cash("cash:main", 0),
			brick.Brick{ID: "f:a", Kind: brick.KindIncomeRecurring,
				Links: brick.Links{"start.after": "f:b"}, Spec: brick.Spec{"amount": 1}},
			brick.Brick{ID: "f:b", Kind: brick.KindIncomeRecurring,
				Links: brick.Links{"start.after": "f:a"}, Spec: brick.Spec{"amount": 1}},
		).Run()
		assert.True(t, ledger.IsConfig(err), "got %v", err)
	})
	t.Run("open window dependency", func(t *testing.T) {
		_, err := newScenario(t, 6,
			cash("cash:main", 0),
			brick.Brick{ID: "f:a", Kind: brick.KindIncomeRecurring, Spec: brick.Spec{"amount": 1}},
			brick.Brick{ID: "f:b", Kind: brick.KindIncomeRecurring,
				Links: brick.Links{"start.after": "f:a"}, Spec: brick.Spec{"amount": 1}},
		).Run()
		assert.True(t, ledger.IsConfig(err), "got %v", err)
	})
}

func TestRunLinkedLoanPrincipal(t *testing.T) {
	r := runScenario(t, 2,
		cash("cash:main", 400000),
		brick.Brick{ID: "h:home", Kind: brick.KindProperty, Spec: brick.Spec{
			"price": 300000, "fees_pct": 0.10,
		}},
		brick.Brick{ID: "loan:home", Kind: brick.KindLoanAnnuity,
			Links: brick.Links{"principal.from_house": "h:home"},
			Spec:  brick.Spec{"rate_pa": 0.02, "term_m": 360, "principal_fraction": 0.8},
		},
	)

	assert.Equal(t, "300000", bal(r, "h:home", 0))
	assert.Equal(t, "-240000", bal(r, "loan:home", 0))
	// 400000 - 300000 price - 30000 fees + 240000 drawdown
	assert.Equal(t, "310000", bal(r, "cash:main", 0))

	table, err := r.Table(TableOptions{})
	require.NoError(t, err)
	// only the purchase fees left the household
	assert.Equal(t, "370000", table.Rows[0].Equity.String())
	assert.Equal(t, "300000", table.Rows[0].NonCash.String())
}

func TestRunValidationLiquidity(t *testing.T) {
	r := runScenario(t, 3,
		cash("cash:main", 100),
		brick.Brick{ID: "f:rent", Kind: brick.KindExpenseRecurring, Spec: brick.Spec{"amount": 60}},
	)

	issues, err := r.Validate(ModeWarn)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "liquidity", issues[0].Category)
	assert.Equal(t, "cash:main", issues[0].Brick)
	assert.Equal(t, "2026-02", issues[0].Period)

	_, err = r.Validate(ModeRaise)
	require.Error(t, err)
	assert.True(t, ledger.IsInvariant(err))
}

func TestRunValidationShortPosition(t *testing.T) {
	r := runScenario(t, 3,
		cash("cash:main", 1000),
		brick.Brick{ID: "sec:etf", Kind: brick.KindSecurityUnitized, Spec: brick.Spec{
			"initial_units": 10, "price0": 10,
			"sales": map[string]any{"2026-02": 500},
		}},
	)

	issues, err := r.Validate(ModeWarn)
	require.NoError(t, err)
	found := false
	for _, issue := range issues {
		if issue.Category == strategy.EventNegativeUnits {
			found = true
			assert.Equal(t, "sec:etf", issue.Brick)
			assert.Equal(t, "2026-02", issue.Period)
		}
	}
	assert.True(t, found, "overselling must surface as a finding")
}

func TestRunValidationBalloon(t *testing.T) {
	start := ledger.NewMonth(2026, time.January)
	r := runScenario(t, 6,
		cash("cash:main", 1000),
		brick.Brick{ID: "loan:bridge", Kind: brick.KindLoanBalloon,
			Window: brick.Window{Start: &start, DurationM: 4},
			Spec:   brick.Spec{"principal": 50000, "rate_pa": 0, "balloon_policy": "refinance"}},
	)

	issues, err := r.Validate(ModeWarn)
	require.NoError(t, err)
	for _, issue := range issues {
		assert.NotEqual(t, "balloon", issue.Category)
	}
	assert.Equal(t, "-50000", bal(r, "loan:bridge", 5))

	// a balloon event against a brick that owes nothing is inconsistent
	r.Events = append(r.Events, strategy.Event{Index: 0, Kind: strategy.EventBalloonDue, Brick: "cash:main"})
	issues, err = r.Validate(ModeWarn)
	require.NoError(t, err)
	found := false
	for _, issue := range issues {
		if issue.Category == "balloon" {
			found = true
			assert.Equal(t, "cash:main", issue.Brick)
		}
	}
	assert.True(t, found)
}

func TestRunValidationEscalator(t *testing.T) {
	r := runScenario(t, 6,
		cash("cash:main", 0),
		brick.Brick{ID: "f:salary", Kind: brick.KindIncomeRecurring,
			Spec: brick.Spec{"amount": 100, "step_every_m": 2, "step_pct": 0.1}},
	)

	issues, err := r.Validate(ModeWarn)
	require.NoError(t, err)
	for _, issue := range issues {
		assert.NotEqual(t, "escalator", issue.Category)
	}

	table, err := r.Table(TableOptions{})
	require.NoError(t, err)
	first := table.Rows[0].CashIn
	last := table.Rows[5].CashIn
	assert.True(t, last.GreaterThan(first), "stepped flow must grow, got %s then %s", first, last)
}

func TestRunResample(t *testing.T) {
	r := runScenario(t, 6,
		cash("cash:main", 0),
		brick.Brick{ID: "f:salary", Kind: brick.KindIncomeRecurring, Spec: brick.Spec{"amount": 100}},
	)

	quarterly, err := r.Table(TableOptions{Granularity: GranularityQuarter})
	require.NoError(t, err)
	require.Len(t, quarterly.Rows, 2)
	assert.Equal(t, "2026Q1", quarterly.Rows[0].Period)
	assert.Equal(t, "300", quarterly.Rows[0].CashIn.String())
	assert.Equal(t, "300", quarterly.Rows[0].Cash.String())
	assert.Equal(t, "2026Q2", quarterly.Rows[1].Period)
	assert.Equal(t, "300", quarterly.Rows[1].CashIn.String())
	// stocks close at the quarter's last month
	assert.Equal(t, "600", quarterly.Rows[1].Cash.String())

	yearly, err := r.Table(TableOptions{Granularity: GranularityYear})
	require.NoError(t, err)
	require.Len(t, yearly.Rows, 1)
	assert.Equal(t, "2026", yearly.Rows[0].Period)
	assert.Equal(t, "600", yearly.Rows[0].CashIn.String())
}

func TestRunEntryIDsAreDeterministic(t *testing.T) {
	run := func() []string {
		r := runScenario(t, 3,
			cash("cash:a", 1000),
			cash("cash:b", 0),
			brick.Brick{ID: "t:move", Kind: brick.KindTransferScheduled,
				Links: brick.Links{"from": "cash:a", "to": "cash:b"},
				Spec:  brick.Spec{"amount": 200, "months": []any{"2026-02", "2026-02"}},
			},
		)
		var ids []string
		for _, e := range r.Journal.Entries() {
			ids = append(ids, e.ID)
		}
		return ids
	}

	first := run()
	assert.Equal(t, first, run())
	assert.Contains(t, first, "t:move:transfer:2026-02")
	assert.Contains(t, first, "t:move:transfer:2026-02:2")
}

func TestRunWithoutCashBrick(t *testing.T) {
	_, err := newScenario(t, 1,
		brick.Brick{ID: "f:salary", Kind: brick.KindIncomeRecurring, Spec: brick.Spec{"amount": 100}},
	).Run()
	assert.True(t, ledger.IsConfig(err), "got %v", err)
}

func TestRunDefaultSettlementOverride(t *testing.T) {
	s := newScenario(t, 1,
		cash("cash:a", 0),
		cash("cash:b", 0),
		brick.Brick{ID: "f:salary", Kind: brick.KindIncomeRecurring, Spec: brick.Spec{"amount": 100}},
	)
	s.DefaultSettlement = "cash:b"
	r, err := s.Run()
	require.NoError(t, err)

	assert.Equal(t, "0", bal(r, "cash:a", 0))
	assert.Equal(t, "100", bal(r, "cash:b", 0))

	s.DefaultSettlement = "f:salary"
	_, err = s.Run()
	assert.True(t, ledger.IsConfig(err))
}

func TestRunLiquidityFloor(t *testing.T) {
	s := newScenario(t, 1,
		cash("cash:main", 500),
	)
	s.LiquidityFloor = decimal.NewFromInt(1000)
	r, err := s.Run()
	require.NoError(t, err)

	issues, err := r.Validate(ModeWarn)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "liquidity", issues[0].Category)
}
