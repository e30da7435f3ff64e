package scenario

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/finbrick/scenario-engine/brick"
	"github.com/finbrick/scenario-engine/ledger"
	"github.com/finbrick/scenario-engine/strategy"
)

// =============================================================================
// RUN VALIDATION
// =============================================================================

// ValidationMode decides whether findings are returned or fatal.
type ValidationMode string

const (
	ModeWarn  ValidationMode = "warn"
	ModeRaise ValidationMode = "raise"
)

// Issue is one validation finding.
type Issue struct {
	Category string
	Brick    string
	Period   string
	Detail   string
}

func (i Issue) String() string {
	parts := []string{i.Category}
	if i.Brick != "" {
		parts = append(parts, i.Brick)
	}
	if i.Period != "" {
		parts = append(parts, i.Period)
	}
	return strings.Join(parts, " ") + ": " + i.Detail
}

// ValidationError carries every finding of a raising validation pass.
type ValidationError struct {
	ScenarioID string
	Issues     []Issue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.String()
	}
	return fmt.Sprintf("run %s failed validation: %s", e.ScenarioID, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() error { return ledger.ErrInvariant }

// Validate checks the completed run for conditions a configuration check
// cannot see: overdrawn cash, liabilities that grow without a drawdown,
// positions that went short, balloon outcomes out of step with the journal,
// escalating flows that shrank, and assets that vanish without a closing
// sale.
// ModeWarn returns the findings, ModeRaise turns any finding into an error.
func (r *RunResult) Validate(mode ValidationMode) ([]Issue, error) {
	var issues []Issue
	issues = append(issues, r.checkTrialBalance()...)
	issues = append(issues, r.checkLiquidity()...)
	issues = append(issues, r.checkLiabilityMonotonic()...)
	issues = append(issues, r.checkShortPositions()...)
	issues = append(issues, r.checkBalloons()...)
	issues = append(issues, r.checkEscalators()...)
	issues = append(issues, r.checkAssetClose()...)

	if mode == ModeRaise && len(issues) > 0 {
		return issues, &ValidationError{ScenarioID: r.ScenarioID, Issues: issues}
	}
	return issues, nil
}

// checkTrialBalance re-verifies the per-currency zero sum at the horizon.
func (r *RunResult) checkTrialBalance() []Issue {
	var issues []Issue
	byCur := ledger.SumByCurrency(r.Journal.TrialBalance(r.Axis.End()))
	curs := make([]string, 0, len(byCur))
	for c := range byCur {
		curs = append(curs, string(c))
	}
	sort.Strings(curs)
	for _, c := range curs {
		if v := byCur[ledger.Currency(c)]; !v.IsZero() {
			issues = append(issues, Issue{
				Category: "trial_balance", Period: r.Axis.End().String(),
				Detail: fmt.Sprintf("%s books off by %s", c, v),
			})
		}
	}
	return issues
}

// checkLiquidity flags cash accounts that dip below the scenario floor.
// Consecutive shortfall months collapse into one finding per account.
func (r *RunResult) checkLiquidity() []Issue {
	var issues []Issue
	for _, b := range r.Registry.Bricks() {
		if b.Kind != brick.KindCash {
			continue
		}
		acct := ledger.AccountID(b.ID)
		short := false
		for i := 0; i < r.Axis.N; i++ {
			m := r.Axis.At(i)
			bal := r.Journal.Balance(acct, m)
			if bal.LessThan(r.LiquidityFloor) {
				if !short {
					issues = append(issues, Issue{
						Category: "liquidity", Brick: b.ID, Period: m.String(),
						Detail: fmt.Sprintf("balance %s below floor %s", bal, r.LiquidityFloor),
					})
				}
				short = true
			} else {
				short = false
			}
		}
	}
	return issues
}

// checkLiabilityMonotonic flags a liability balance that grows in a month
// without a drawdown entry. Interest is an expense here, not an accrual on
// the balance, so outside of draws a loan only ever shrinks.
func (r *RunResult) checkLiabilityMonotonic() []Issue {
	drawMonths := make(map[string]map[ledger.Month]bool)
	for _, e := range r.Journal.Entries() {
		if e.Kind == ledger.KindDrawdown {
			if drawMonths[e.BrickID] == nil {
				drawMonths[e.BrickID] = make(map[ledger.Month]bool)
			}
			drawMonths[e.BrickID][e.Month] = true
		}
	}

	var issues []Issue
	for _, b := range r.Registry.Bricks() {
		if b.Family() != brick.FamilyLiability {
			continue
		}
		acct := ledger.AccountID(b.ID)
		prev := decimal.Zero
		for i := 0; i < r.Axis.N; i++ {
			m := r.Axis.At(i)
			owed := r.Journal.Balance(acct, m).Neg()
			if owed.GreaterThan(prev) && !drawMonths[b.ID][m] {
				issues = append(issues, Issue{
					Category: "liability_growth", Brick: b.ID, Period: m.String(),
					Detail: fmt.Sprintf("owed %s after %s without a drawdown", owed, prev),
				})
			}
			prev = owed
		}
	}
	return issues
}

// checkShortPositions surfaces oversell events from the run.
func (r *RunResult) checkShortPositions() []Issue {
	var issues []Issue
	for _, ev := range r.Events {
		if ev.Kind == strategy.EventNegativeUnits {
			issues = append(issues, Issue{
				Category: "negative_units", Brick: ev.Brick,
				Period: r.Axis.At(ev.Index).String(), Detail: ev.Detail,
			})
		}
	}
	return issues
}

// checkBalloons cross-checks balloon outcomes against the journal: a
// balloon_due event must leave a balance outstanding, and a payoff entry
// must clear its liability in full.
func (r *RunResult) checkBalloons() []Issue {
	var issues []Issue
	for _, ev := range r.Events {
		if ev.Kind != strategy.EventBalloonDue {
			continue
		}
		m := r.Axis.At(ev.Index)
		if owed := r.Journal.Balance(ledger.AccountID(ev.Brick), m).Neg(); !owed.IsPositive() {
			issues = append(issues, Issue{
				Category: "balloon", Brick: ev.Brick, Period: m.String(),
				Detail: "balloon due with no outstanding balance",
			})
		}
	}
	for _, e := range r.Journal.Entries() {
		if e.Kind != ledger.KindPayoff {
			continue
		}
		if owed := r.Journal.Balance(ledger.AccountID(e.BrickID), e.Month).Neg(); !owed.IsZero() {
			issues = append(issues, Issue{
				Category: "balloon", Brick: e.BrickID, Period: e.Month.String(),
				Detail: fmt.Sprintf("payoff left %s outstanding", owed),
			})
		}
	}
	return issues
}

// checkEscalators verifies that a flow configured with a positive step
// never posts a smaller amount than the month before while active.
func (r *RunResult) checkEscalators() []Issue {
	var issues []Issue
	for _, b := range r.Registry.Bricks() {
		if b.Kind != brick.KindIncomeRecurring && b.Kind != brick.KindExpenseRecurring {
			continue
		}
		p := b.Params()
		step, err := p.DecimalOr("annual_step_pct", decimal.Zero)
		if err != nil || !step.IsPositive() {
			if step, err = p.DecimalOr("step_pct", decimal.Zero); err != nil || !step.IsPositive() {
				continue
			}
		}
		acct := incomeAccount(b.ID)
		if b.Kind == brick.KindExpenseRecurring {
			acct = expenseAccount(b.ID)
		}
		prev := decimal.Zero
		cum := decimal.Zero
		for i := 0; i < r.Axis.N; i++ {
			next := r.Journal.Balance(acct, r.Axis.At(i))
			amt := next.Sub(cum).Abs()
			cum = next
			if amt.IsPositive() && prev.IsPositive() && amt.LessThan(prev) {
				issues = append(issues, Issue{
					Category: "escalator", Brick: b.ID, Period: r.Axis.At(i).String(),
					Detail: fmt.Sprintf("flow fell from %s to %s under a positive step", prev, amt),
				})
			}
			if amt.IsPositive() {
				prev = amt
			}
		}
	}
	return issues
}

// checkAssetClose verifies that a non-cash asset whose balance drops to
// zero did so through a disposal, sale or payoff entry in that month, so a
// window close never silently destroys equity.
func (r *RunResult) checkAssetClose() []Issue {
	closing := map[ledger.EntryKind]bool{
		ledger.KindDisposal: true,
		ledger.KindSell:     true,
		ledger.KindPayoff:   true,
	}
	closeMonths := make(map[string]map[ledger.Month]bool)
	for _, e := range r.Journal.Entries() {
		if closing[e.Kind] {
			if closeMonths[e.BrickID] == nil {
				closeMonths[e.BrickID] = make(map[ledger.Month]bool)
			}
			closeMonths[e.BrickID][e.Month] = true
		}
	}

	var issues []Issue
	for _, b := range r.Registry.Bricks() {
		if b.Kind != brick.KindProperty && b.Kind != brick.KindSecurityUnitized {
			continue
		}
		acct := ledger.AccountID(b.ID)
		prev := decimal.Zero
		for i := 0; i < r.Axis.N; i++ {
			m := r.Axis.At(i)
			bal := r.Journal.Balance(acct, m)
			if prev.IsPositive() && bal.IsZero() && !closeMonths[b.ID][m] {
				issues = append(issues, Issue{
					Category: "asset_close", Brick: b.ID, Period: m.String(),
					Detail: fmt.Sprintf("value %s written to zero without a disposal", prev),
				})
			}
			prev = bal
		}
	}
	return issues
}
