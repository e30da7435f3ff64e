package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/finbrick/scenario-engine/brick"
	"github.com/finbrick/scenario-engine/ledger"
)

// =============================================================================
// CASH ACCOUNT - a.cash
// =============================================================================

// CashStrategy models an interest-bearing settlement account. Interest for
// a month accrues on the post-flow balance: opening plus everything routed
// in or out up to and including that month, plus interest already earned.
// Because the balance depends on every other brick's flows, cash bricks are
// simulated after all non-cash bricks have posted.
//
// Parameters:
//
//	initial_balance  opening balance posted against opening equity (default 0)
//	interest_pa      nominal annual rate, accrued at interest_pa/12 (default 0)
type CashStrategy struct{}

type cashSimulator struct {
	brickID  string
	currency ledger.Currency
	opening  decimal.Decimal
	ratePM   decimal.Decimal
	first    int
	last     int
	active   bool
}

var months12 = decimal.NewFromInt(12)

func (CashStrategy) Prepare(b brick.Brick, ctx *Context) (Simulator, error) {
	p := b.Params()
	opening, err := p.DecimalOr("initial_balance", decimal.Zero)
	if err != nil {
		return nil, err
	}
	if opening.IsNegative() {
		return nil, ledger.Configf(b.ID, "initial_balance", "must not be negative, got %s", opening)
	}
	ratePA, err := p.DecimalOr("interest_pa", decimal.Zero)
	if err != nil {
		return nil, err
	}
	currency, err := ctx.CurrencyOf(b)
	if err != nil {
		return nil, err
	}
	first, last, active, err := resolveWindow(b, ctx)
	if err != nil {
		return nil, err
	}
	return &cashSimulator{
		brickID:  b.ID,
		currency: currency,
		opening:  opening,
		ratePM:   ratePA.Div(months12),
		first:    first,
		last:     last,
		active:   active,
	}, nil
}

func (s *cashSimulator) Simulate(ctx *Context) (Output, error) {
	var out Output
	if !s.active {
		return out, nil
	}
	account := ctx.AccountFor(s.brickID)

	if !s.opening.IsZero() {
		out.add(Txn{Index: s.first, Type: TxnOpening, Amount: s.opening})
	}
	if s.ratePM.IsZero() {
		return out, nil
	}

	// own tracks the part of the balance not yet visible in the journal:
	// the opening amount and interest emitted in earlier iterations.
	own := s.opening
	for i := s.first; i <= s.last; i++ {
		external := ctx.Journal.Balance(account, ctx.Axis.At(i))
		balance := external.Add(own)
		interest := s.currency.Quantize(balance.Mul(s.ratePM))
		if interest.IsZero() {
			continue
		}
		out.add(Txn{Index: i, Type: TxnInterestEarned, Amount: interest})
		own = own.Add(interest)
	}
	return out, nil
}
