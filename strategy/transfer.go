package strategy

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/finbrick/scenario-engine/brick"
	"github.com/finbrick/scenario-engine/ledger"
)

// =============================================================================
// TRANSFERS - t.transfer.lumpsum, t.transfer.scheduled, t.transfer.recurring
// =============================================================================

// TransferStrategy moves money between two internal cash accounts named by
// the "from" and "to" links. Shapes:
//
//	t.transfer.lumpsum    once, in the window's first month
//	t.transfer.scheduled  in each month of the "months" list
//	t.transfer.recurring  every every_m months across the window (default 1)
//
// Parameters:
//
//	amount    per-occurrence amount in the source currency; required
//	          unless a schedule map carries its own amounts
//	months    scheduled shape, list of occurrence months at the fixed
//	          amount; exclusive with schedule
//	schedule  scheduled shape, map of "2006-01" -> amount for dates that
//	          each move a different sum; exclusive with amount and months
//	fee_pct   fee charged to the source on each occurrence (default 0)
//	fx_rate   destination units per source unit for cross-currency
//	          transfers; required when the endpoint currencies differ
//
// Scheduled dates outside the activation window or the scenario horizon
// are skipped, they post nothing. Malformed dates are still rejected.
//
// A cross-currency occurrence settles each leg in its own currency through
// the FX P&L boundary account, so both legs stay zero-sum in isolation.
type TransferStrategy struct{}

type transferOccurrence struct {
	index  int
	amount decimal.Decimal
}

type transferSimulator struct {
	brickID     string
	feePct      decimal.Decimal
	fxRate      decimal.Decimal
	hasFX       bool
	occurrences []transferOccurrence
	currency    ledger.Currency
	destCur     ledger.Currency
}

func (TransferStrategy) Prepare(b brick.Brick, ctx *Context) (Simulator, error) {
	p := b.Params()
	fromID, ok := b.Links.ID("from")
	if !ok {
		return nil, ledger.Configf(b.ID, "links.from", "required source cash brick")
	}
	toID, ok := b.Links.ID("to")
	if !ok {
		return nil, ledger.Configf(b.ID, "links.to", "required destination cash brick")
	}
	if fromID == toID {
		return nil, ledger.Configf(b.ID, "links.to", "source and destination are the same brick %q", fromID)
	}
	from, ok := ctx.Registry.Brick(fromID)
	if !ok {
		return nil, ledger.Configf(b.ID, "links.from", "unknown brick %q", fromID)
	}
	to, ok := ctx.Registry.Brick(toID)
	if !ok {
		return nil, ledger.Configf(b.ID, "links.to", "unknown brick %q", toID)
	}
	srcCur, err := ctx.CurrencyOf(from)
	if err != nil {
		return nil, err
	}
	dstCur, err := ctx.CurrencyOf(to)
	if err != nil {
		return nil, err
	}

	hasSchedule := b.Kind == brick.KindTransferScheduled && p.Has("schedule")
	var amount decimal.Decimal
	if hasSchedule {
		if p.Has("amount") {
			return nil, ledger.Configf(b.ID, "amount", "mutually exclusive with schedule")
		}
		if p.Has("months") {
			return nil, ledger.Configf(b.ID, "months", "mutually exclusive with schedule")
		}
	} else {
		amount, err = p.Decimal("amount")
		if err != nil {
			return nil, err
		}
		if !amount.IsPositive() {
			return nil, ledger.Configf(b.ID, "amount", "must be positive, got %s", amount)
		}
	}
	feePct, err := p.DecimalOr("fee_pct", decimal.Zero)
	if err != nil {
		return nil, err
	}
	if feePct.IsNegative() {
		return nil, ledger.Configf(b.ID, "fee_pct", "must not be negative, got %s", feePct)
	}

	sim := &transferSimulator{
		brickID:  b.ID,
		feePct:   feePct,
		currency: srcCur,
		destCur:  dstCur,
	}
	if srcCur != dstCur {
		if !p.Has("fx_rate") {
			return nil, ledger.Configf(b.ID, "fx_rate", "required for a %s -> %s transfer", srcCur, dstCur)
		}
		sim.fxRate, err = p.Decimal("fx_rate")
		if err != nil {
			return nil, err
		}
		if !sim.fxRate.IsPositive() {
			return nil, ledger.Configf(b.ID, "fx_rate", "must be positive, got %s", sim.fxRate)
		}
		sim.hasFX = true
	} else if p.Has("fx_rate") {
		return nil, ledger.Configf(b.ID, "fx_rate", "endpoints settle in the same currency %s", srcCur)
	}

	first, last, active, err := resolveWindow(b, ctx)
	if err != nil {
		return nil, err
	}
	if !active {
		return sim, nil
	}

	switch b.Kind {
	case brick.KindTransferLumpsum:
		sim.occurrences = []transferOccurrence{{index: first, amount: amount}}
	case brick.KindTransferScheduled:
		if hasSchedule {
			if err := sim.loadSchedule(b.ID, p, ctx.Axis, first, last); err != nil {
				return nil, err
			}
			break
		}
		months, err := p.Months("months")
		if err != nil {
			return nil, err
		}
		if len(months) == 0 {
			return nil, ledger.Configf(b.ID, "months", "a scheduled transfer needs at least one month")
		}
		for _, m := range months {
			i, ok := ctx.Axis.Index(m)
			if !ok || i < first || i > last {
				continue
			}
			sim.occurrences = append(sim.occurrences, transferOccurrence{index: i, amount: amount})
		}
	case brick.KindTransferRecurring:
		every, err := p.IntOr("every_m", 1)
		if err != nil {
			return nil, err
		}
		if every <= 0 {
			return nil, ledger.Configf(b.ID, "every_m", "must be positive, got %d", every)
		}
		for i := first; i <= last; i += every {
			sim.occurrences = append(sim.occurrences, transferOccurrence{index: i, amount: amount})
		}
	default:
		return nil, ledger.Configf(b.ID, "kind", "unsupported transfer kind %q", b.Kind)
	}
	return sim, nil
}

// loadSchedule reads the per-date amount map, keeping only dates inside the
// window and ordering occurrences by month.
func (s *transferSimulator) loadSchedule(brickID string, p brick.Params, axis ledger.Axis, first, last int) error {
	raw, err := p.DecimalMap("schedule")
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return ledger.Configf(brickID, "schedule", "a scheduled transfer needs at least one dated amount")
	}
	for monthStr, v := range raw {
		m, err := ledger.ParseMonth(monthStr)
		if err != nil {
			return ledger.Configf(brickID, "schedule", "%v", err)
		}
		if !v.IsPositive() {
			return ledger.Configf(brickID, "schedule", "%s: amount must be positive, got %s", monthStr, v)
		}
		i, ok := axis.Index(m)
		if !ok || i < first || i > last {
			continue
		}
		s.occurrences = append(s.occurrences, transferOccurrence{index: i, amount: v})
	}
	sort.Slice(s.occurrences, func(a, b int) bool { return s.occurrences[a].index < s.occurrences[b].index })
	return nil
}

func (s *transferSimulator) Simulate(ctx *Context) (Output, error) {
	var out Output
	for _, o := range s.occurrences {
		amount := s.currency.Quantize(o.amount)
		txn := Txn{Index: o.index, Type: TxnTransfer, Amount: amount}
		if s.hasFX {
			txn.Dest = s.destCur.Quantize(o.amount.Mul(s.fxRate))
		}
		out.add(txn)
		if fee := s.currency.Quantize(amount.Mul(s.feePct)); fee.IsPositive() {
			out.add(Txn{Index: o.index, Type: TxnTransferFee, Amount: fee})
		}
	}
	return out, nil
}
