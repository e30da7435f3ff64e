/*
Package scenario assembles bricks into runs: it owns the time axis, the
chart of accounts, execution ordering, compilation of strategy output into
journal entries, reporting tables and post-run validation.

PURPOSE:
  A Scenario is the unit of simulation: a validated brick registry, a
  bounded month axis, a base currency and a settlement default. Run drives
  every brick through prepare and simulate in dependency order, posts the
  resulting entries into a fresh journal, and hands back an immutable
  RunResult for reporting.

EXECUTION ORDER:
  Bricks whose parameters derive from another brick (loan principal from a
  property, window start chained after another brick) run after their
  dependency. Cash bricks always run last: their interest accrues on the
  post-flow balance, which only exists once every other brick has posted.

FAILURE MODEL:
  Everything configuration-shaped fails before the first simulated month.
  Failures during simulation or posting abort the run with no partial
  result.

SEE ALSO:
  - compiler.go: txn-to-entry mapping and cash routing
  - results.go: report tables and transfer visibility
  - validate.go: post-run identity checks
*/
package scenario

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/finbrick/scenario-engine/brick"
	"github.com/finbrick/scenario-engine/ledger"
	"github.com/finbrick/scenario-engine/strategy"
)

// Scenario describes one simulation. Run resolves start links on copies of
// the affected bricks, so the registered configuration is never mutated.
type Scenario struct {
	ID     string
	Name   string
	Base   ledger.Currency
	Start  ledger.Month
	Months int

	// DefaultSettlement is the cash brick unrouted flows settle against.
	// Empty picks the first registered cash brick.
	DefaultSettlement string

	// LiquidityFloor is the balance cash accounts are validated against
	// after a run (zero means no overdraft allowed).
	LiquidityFloor decimal.Decimal

	Registry   *brick.Registry
	Registries *strategy.Registries
}

// RunResult is the immutable outcome of one run: the journal, the chart of
// accounts, the axis and every lifecycle event the strategies emitted.
type RunResult struct {
	ScenarioID     string
	Axis           ledger.Axis
	Base           ledger.Currency
	Journal        *ledger.Journal
	Accounts       *ledger.AccountRegistry
	Registry       *brick.Registry
	Events         []strategy.Event
	LiquidityFloor decimal.Decimal
}

// Run validates, prepares and simulates the scenario, returning the
// completed run or the first error. The journal in the result is exclusively
// owned by it; concurrent runs of the same scenario get independent results.
func (s *Scenario) Run() (*RunResult, error) {
	if s.Registry == nil {
		return nil, &brick.BuildError{ScenarioID: s.ID, Problems: []string{"scenario has no brick registry"}}
	}
	if err := s.Registry.Validate(); err != nil {
		if build, ok := err.(*brick.BuildError); ok {
			build.ScenarioID = s.ID
			return nil, build
		}
		return nil, err
	}
	axis, err := ledger.NewAxis(s.Start, s.Months)
	if err != nil {
		return nil, err
	}
	base := s.Base
	if base == "" {
		base = ledger.EUR
	}
	registries := s.Registries
	if registries == nil {
		registries = strategy.DefaultRegistries()
	}

	bricks, err := resolveStartLinks(s.Registry.Bricks(), axis)
	if err != nil {
		return nil, err
	}

	settlement, err := s.resolveSettlement(bricks)
	if err != nil {
		return nil, err
	}

	accounts, err := buildAccounts(bricks, base)
	if err != nil {
		return nil, err
	}
	journal := ledger.NewJournal(accounts)

	ctx := &strategy.Context{
		Axis:              axis,
		Base:              base,
		Registry:          s.Registry,
		Journal:           journal,
		DefaultSettlement: settlement,
		AccountFor: func(brickID string) ledger.AccountID {
			return ledger.AccountID(brickID)
		},
	}

	order, err := executionOrder(bricks)
	if err != nil {
		return nil, err
	}

	comp := newCompiler(axis, base, accounts, journal, bricks, settlement)
	var events []strategy.Event
	for _, b := range order {
		strat, err := registries.Resolve(b)
		if err != nil {
			return nil, err
		}
		sim, err := strat.Prepare(b, ctx)
		if err != nil {
			return nil, err
		}
		out, err := sim.Simulate(ctx)
		if err != nil {
			return nil, err
		}
		if err := comp.compile(b, out); err != nil {
			return nil, err
		}
		events = append(events, out.Events...)
	}

	if err := journal.Validate(); err != nil {
		return nil, err
	}
	return &RunResult{
		ScenarioID:     s.ID,
		Axis:           axis,
		Base:           base,
		Journal:        journal,
		Accounts:       accounts,
		Registry:       s.Registry,
		Events:         events,
		LiquidityFloor: s.LiquidityFloor,
	}, nil
}

// resolveSettlement picks the default settlement cash brick.
func (s *Scenario) resolveSettlement(bricks []brick.Brick) (string, error) {
	if s.DefaultSettlement != "" {
		for _, b := range bricks {
			if b.ID == s.DefaultSettlement {
				if b.Kind != brick.KindCash {
					return "", ledger.Configf(b.ID, "default_settlement", "must be a %s brick, is %s", brick.KindCash, b.Kind)
				}
				return s.DefaultSettlement, nil
			}
		}
		return "", ledger.Configf("", "default_settlement", "unknown brick %q", s.DefaultSettlement)
	}
	for _, b := range bricks {
		if b.Kind == brick.KindCash {
			return b.ID, nil
		}
	}
	return "", ledger.Configf("", "default_settlement", "scenario has no cash brick to settle against")
}

// resolveStartLinks rewrites windows chained with start.after: the linked
// brick's bounded window must end inside itself, and the dependent brick
// starts the month after. Chains resolve iteratively; circular chains and
// chains onto open windows are rejected.
func resolveStartLinks(bricks []brick.Brick, axis ledger.Axis) ([]brick.Brick, error) {
	byID := make(map[string]int, len(bricks))
	for i, b := range bricks {
		byID[b.ID] = i
	}

	var resolve func(i int, seen map[string]bool) error
	resolve = func(i int, seen map[string]bool) error {
		b := bricks[i]
		afterID, ok := b.Links.ID("start.after")
		if !ok {
			return nil
		}
		if b.Window.Start != nil {
			return ledger.Configf(b.ID, "start.after", "mutually exclusive with an explicit start_date")
		}
		if seen[b.ID] {
			return ledger.Configf(b.ID, "start.after", "circular start chain")
		}
		seen[b.ID] = true
		j, exists := byID[afterID]
		if !exists {
			return ledger.Configf(b.ID, "start.after", "unknown brick %q", afterID)
		}
		if err := resolve(j, seen); err != nil {
			return err
		}
		dep := bricks[j]
		if dep.Window.End == nil && dep.Window.DurationM == 0 {
			return ledger.Configf(b.ID, "start.after", "brick %q has an open window", afterID)
		}
		depStart := axis.Start
		if dep.Window.Start != nil {
			depStart = *dep.Window.Start
		}
		end := depStart.Add(dep.Window.DurationM - 1)
		if dep.Window.End != nil {
			end = *dep.Window.End
		}
		start := end.Add(1)
		bricks[i].Window.Start = &start
		delete(bricks[i].Links, "start.after")
		return nil
	}

	for i := range bricks {
		if err := resolve(i, map[string]bool{}); err != nil {
			return nil, err
		}
	}
	return bricks, nil
}

// executionOrder topologically sorts bricks over their parameter
// dependencies with a stable, id-sorted queue, then moves cash bricks to
// the back so their balance-dependent interest sees every posted flow.
func executionOrder(bricks []brick.Brick) ([]brick.Brick, error) {
	byID := make(map[string]brick.Brick, len(bricks))
	var nonCash, cash []string
	for _, b := range bricks {
		byID[b.ID] = b
		if b.Kind == brick.KindCash {
			cash = append(cash, b.ID)
		} else {
			nonCash = append(nonCash, b.ID)
		}
	}
	sort.Strings(cash)
	sort.Strings(nonCash)

	// dependency edges: dep -> dependent
	dependents := make(map[string][]string)
	indegree := make(map[string]int, len(nonCash))
	for _, id := range nonCash {
		indegree[id] = 0
	}
	for _, id := range nonCash {
		b := byID[id]
		for _, rel := range []string{"principal.from_house", "start.after"} {
			dep, ok := b.Links.ID(rel)
			if !ok {
				continue
			}
			if _, exists := byID[dep]; !exists {
				return nil, ledger.Configf(b.ID, rel, "unknown brick %q", dep)
			}
			dependents[dep] = append(dependents[dep], id)
			indegree[id]++
		}
	}

	var queue []string
	for _, id := range nonCash {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	var order []brick.Brick
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, byID[id])
		next := dependents[id]
		sort.Strings(next)
		for _, dependent := range next {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	if len(order) != len(nonCash) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, &brick.BuildError{Problems: append([]string{"dependency cycle among bricks"}, stuck...)}
	}
	for _, id := range cash {
		order = append(order, byID[id])
	}
	return order, nil
}

// buildAccounts registers the chart of accounts a brick set needs: one
// internal account per stateful brick, kind-specific boundary accounts, and
// per-currency opening equity and P&L accounts.
func buildAccounts(bricks []brick.Brick, base ledger.Currency) (*ledger.AccountRegistry, error) {
	reg := ledger.NewAccountRegistry()
	shared := make(map[ledger.AccountID]ledger.Account)

	currencyOf := func(b brick.Brick) ledger.Currency {
		if c, ok := b.Spec["currency"].(string); ok {
			return ledger.Currency(c)
		}
		return base
	}
	byID := make(map[string]brick.Brick, len(bricks))
	for _, b := range bricks {
		byID[b.ID] = b
	}

	ensureShared := func(id ledger.AccountID, name string, t ledger.AccountType, cur ledger.Currency) {
		if _, dup := shared[id]; !dup {
			shared[id] = ledger.Account{ID: id, Name: name, Type: t, Scope: ledger.ScopeBoundary, Currency: cur}
		}
	}

	for _, b := range bricks {
		cur := currencyOf(b)
		switch b.Family() {
		case brick.FamilyAsset:
			if err := reg.Register(ledger.Account{
				ID: ledger.AccountID(b.ID), Name: b.Name, Type: ledger.AccountAsset,
				Scope: ledger.ScopeInternal, Currency: cur,
			}); err != nil {
				return nil, err
			}
			ensureShared(openingAccount(cur), "Opening Balances "+string(cur), ledger.AccountEquity, cur)
			switch b.Kind {
			case brick.KindCash:
				ensureShared(interestIncomeAccount(b.ID), "Interest "+b.ID, ledger.AccountIncome, cur)
			case brick.KindProperty:
				ensureShared(feesAccount(b.ID), "Fees "+b.ID, ledger.AccountExpense, cur)
				ensureShared(pnlAccount(cur), "Unrealized P&L "+string(cur), ledger.AccountEquity, cur)
			case brick.KindSecurityUnitized:
				ensureShared(dividendAccount(b.ID), "Dividends "+b.ID, ledger.AccountIncome, cur)
				ensureShared(feesAccount(b.ID), "Fees "+b.ID, ledger.AccountExpense, cur)
				ensureShared(pnlAccount(cur), "Unrealized P&L "+string(cur), ledger.AccountEquity, cur)
			}
		case brick.FamilyLiability:
			if err := reg.Register(ledger.Account{
				ID: ledger.AccountID(b.ID), Name: b.Name, Type: ledger.AccountLiability,
				Scope: ledger.ScopeInternal, Currency: cur,
			}); err != nil {
				return nil, err
			}
			ensureShared(interestExpenseAccount(b.ID), "Interest "+b.ID, ledger.AccountExpense, cur)
			ensureShared(feesAccount(b.ID), "Fees "+b.ID, ledger.AccountExpense, cur)
		case brick.FamilyFlow:
			if b.Kind == brick.KindIncomeRecurring || b.Kind == brick.KindIncomeOnetime {
				ensureShared(incomeAccount(b.ID), b.Name, ledger.AccountIncome, cur)
			} else {
				ensureShared(expenseAccount(b.ID), b.Name, ledger.AccountExpense, cur)
			}
		case brick.FamilyTransfer:
			// fees settle on the source cash account, so the fee account
			// carries the source currency
			srcCur, dstCur := cur, cur
			if fromID, ok := b.Links.ID("from"); ok {
				if from, exists := byID[fromID]; exists {
					srcCur = currencyOf(from)
				}
			}
			if toID, ok := b.Links.ID("to"); ok {
				if to, exists := byID[toID]; exists {
					dstCur = currencyOf(to)
				}
			}
			ensureShared(feesAccount(b.ID), "Fees "+b.ID, ledger.AccountExpense, srcCur)
			if srcCur != dstCur {
				ensureShared(fxAccount(srcCur), "FX Conversion "+string(srcCur), ledger.AccountEquity, srcCur)
				ensureShared(fxAccount(dstCur), "FX Conversion "+string(dstCur), ledger.AccountEquity, dstCur)
			}
		}
	}

	ids := make([]string, 0, len(shared))
	for id := range shared {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := reg.Register(shared[ledger.AccountID(id)]); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
