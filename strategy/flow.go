package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finbrick/scenario-engine/brick"
	"github.com/finbrick/scenario-engine/ledger"
)

// =============================================================================
// BOUNDARY FLOWS - f.income.*, f.expense.*
// =============================================================================

// FlowStrategy models money crossing the system's edge: salaries, rents,
// living costs, one-off windfalls and bills. Recurring flows escalate
// geometrically, either every fixed number of months or once a year in a
// chosen calendar month:
//
//	amount          monthly (recurring) or single (onetime) amount, required
//	annual_step_pct escalate once a year by this fraction
//	step_every_m    escalate every N months...
//	step_pct        ...by this fraction (both required together)
//	step_month      calendar month (1..12) the annual step lands on;
//	                defaults to the window's starting calendar month
//
// annual_step_pct and step_every_m are mutually exclusive. The escalated
// amount is amount * (1+step)^steps, never an accumulation of increments,
// so rounding cannot drift over long horizons.
type FlowStrategy struct{}

type flowSimulator struct {
	brickID   string
	currency  ledger.Currency
	income    bool
	recurring bool
	amount    decimal.Decimal
	stepPct   decimal.Decimal
	stepEvery int // 0 means annual (or no escalation when stepPct is zero)
	stepMonth time.Month
	first     int
	last      int
	active    bool
}

func (FlowStrategy) Prepare(b brick.Brick, ctx *Context) (Simulator, error) {
	p := b.Params()
	amount, err := p.Decimal("amount")
	if err != nil {
		return nil, err
	}
	if amount.IsNegative() {
		return nil, ledger.Configf(b.ID, "amount", "must not be negative, got %s (direction comes from the kind)", amount)
	}
	currency, err := ctx.CurrencyOf(b)
	if err != nil {
		return nil, err
	}
	first, last, active, err := resolveWindow(b, ctx)
	if err != nil {
		return nil, err
	}

	sim := &flowSimulator{
		brickID:   b.ID,
		currency:  currency,
		income:    strings.HasPrefix(string(b.Kind), "f.income"),
		recurring: b.Kind == brick.KindIncomeRecurring || b.Kind == brick.KindExpenseRecurring,
		amount:    amount,
		first:     first,
		last:      last,
		active:    active,
	}

	hasAnnual := p.Has("annual_step_pct")
	hasEvery := p.Has("step_every_m")
	if hasAnnual && hasEvery {
		return nil, ledger.Configf(b.ID, "annual_step_pct", "mutually exclusive with step_every_m")
	}
	if (hasAnnual || hasEvery) && !sim.recurring {
		return nil, ledger.Configf(b.ID, "escalation", "only recurring flows escalate")
	}
	switch {
	case hasAnnual:
		sim.stepPct, err = p.Decimal("annual_step_pct")
		if err != nil {
			return nil, err
		}
		stepMonth, err := p.IntOr("step_month", int(ctx.Axis.At(first).Month()))
		if err != nil {
			return nil, err
		}
		if stepMonth < 1 || stepMonth > 12 {
			return nil, ledger.Configf(b.ID, "step_month", "must be 1..12, got %d", stepMonth)
		}
		sim.stepMonth = time.Month(stepMonth)
	case hasEvery:
		sim.stepEvery, err = p.Int("step_every_m")
		if err != nil {
			return nil, err
		}
		if sim.stepEvery <= 0 {
			return nil, ledger.Configf(b.ID, "step_every_m", "must be positive, got %d", sim.stepEvery)
		}
		sim.stepPct, err = p.Decimal("step_pct")
		if err != nil {
			return nil, err
		}
	case p.Has("step_pct"):
		return nil, ledger.Configf(b.ID, "step_pct", "requires step_every_m")
	}
	if sim.stepPct.LessThanOrEqual(decimal.NewFromInt(-1)) {
		return nil, ledger.Configf(b.ID, "step_pct", "must be greater than -1, got %s", sim.stepPct)
	}
	return sim, nil
}

func (s *flowSimulator) Simulate(ctx *Context) (Output, error) {
	var out Output
	if !s.active {
		return out, nil
	}
	txnType := TxnExpense
	if s.income {
		txnType = TxnIncome
	}

	if !s.recurring {
		out.add(Txn{Index: s.first, Type: txnType, Amount: s.currency.Quantize(s.amount)})
		return out, nil
	}

	growth := decimal.NewFromInt(1).Add(s.stepPct)
	steps := 0
	for i := s.first; i <= s.last; i++ {
		if next := s.stepsAt(ctx, i); next != steps {
			steps = next
			out.event(i, EventEscalation, s.brickID,
				fmt.Sprintf("step %d, amount %s", steps, s.currency.Quantize(s.amount.Mul(growth.Pow(decimal.NewFromInt(int64(steps)))))))
		}
		amount := s.amount
		if steps > 0 && !s.stepPct.IsZero() {
			amount = amount.Mul(growth.Pow(decimal.NewFromInt(int64(steps))))
		}
		out.add(Txn{Index: i, Type: txnType, Amount: s.currency.Quantize(amount)})
	}
	return out, nil
}

// stepsAt counts completed escalation steps at axis index i.
func (s *flowSimulator) stepsAt(ctx *Context, i int) int {
	if s.stepPct.IsZero() {
		return 0
	}
	if s.stepEvery > 0 {
		return (i - s.first) / s.stepEvery
	}
	// annual anniversary in stepMonth, never in the starting month itself
	steps := 0
	for j := s.first + 1; j <= i; j++ {
		if ctx.Axis.At(j).Month() == s.stepMonth {
			steps++
		}
	}
	return steps
}
