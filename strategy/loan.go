/*
loan.go - Liability schedules: annuity loans, balloon loans, credit lines

PURPOSE:
  Amortization arithmetic for the schedule registry. The annuity math is
  exact decimal end to end; only the term derivation from an amortization
  rate uses float logarithms, since a month count is not a money value.

SCHEDULE SHAPE:
  Drawdown posts in the window's first month. Payments run monthly from the
  following month: interest accrues on the prior balance, scheduled
  principal follows, then any prepayment, capped so the balance never goes
  negative. A window that ends with an outstanding balance settles by
  balloon policy: "payoff" emits the terminal principal payment,
  "refinance" leaves the balance outstanding and emits a balloon_due event
  for a follow-on brick to pick up.
*/
package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/finbrick/scenario-engine/brick"
	"github.com/finbrick/scenario-engine/ledger"
)

const (
	BalloonPayoff    = "payoff"
	BalloonRefinance = "refinance"
)

// =============================================================================
// ANNUITY / BALLOON LOAN - l.loan.annuity, l.loan.balloon
// =============================================================================

// LoanStrategy handles amortizing and interest-only loans.
//
// Parameters:
//
//	principal          drawn at window start; exclusive with the
//	                   principal.from_house link
//	principal_fraction fraction of the linked property price financed (1.0)
//	rate_pa            nominal annual rate, accrued at rate_pa/12, required
//	term_m             payment count; exclusive with amort_pa
//	amort_pa           initial amortization rate, term derived from it
//	prepay_amount      fixed extra principal per payment month
//	prepay_pct         extra principal as a fraction of the current balance
//	prepay_fee_pct     fee charged on each prepayment
//	balloon_policy     "payoff" (default) or "refinance"
//
// l.loan.balloon is the interest-only variant: no scheduled principal, the
// whole principal falls due at window end under the balloon policy. It
// requires a bounded window.
type LoanStrategy struct{}

type loanSimulator struct {
	brickID      string
	currency     ledger.Currency
	principal    decimal.Decimal
	ratePM       decimal.Decimal
	termM        int
	payment      decimal.Decimal
	interestOnly bool
	prepayAmount decimal.Decimal
	prepayPct    decimal.Decimal
	prepayFeePct decimal.Decimal
	balloon      string
	first, last  int
	active       bool
	closes       bool // window genuinely ends inside the horizon
}

func (LoanStrategy) Prepare(b brick.Brick, ctx *Context) (Simulator, error) {
	p := b.Params()
	currency, err := ctx.CurrencyOf(b)
	if err != nil {
		return nil, err
	}

	principal, err := resolvePrincipal(b, ctx)
	if err != nil {
		return nil, err
	}
	ratePA, err := p.Decimal("rate_pa")
	if err != nil {
		return nil, err
	}
	if ratePA.IsNegative() {
		return nil, ledger.Configf(b.ID, "rate_pa", "must not be negative, got %s", ratePA)
	}
	ratePM := ratePA.Div(months12)

	interestOnly := b.Kind == brick.KindLoanBalloon

	termM := 0
	if !interestOnly {
		hasTerm := p.Has("term_m")
		hasAmort := p.Has("amort_pa")
		switch {
		case hasTerm && hasAmort:
			return nil, ledger.Configf(b.ID, "term_m", "mutually exclusive with amort_pa")
		case hasTerm:
			termM, err = p.Int("term_m")
			if err != nil {
				return nil, err
			}
		case hasAmort:
			amortPA, err := p.Decimal("amort_pa")
			if err != nil {
				return nil, err
			}
			termM, err = termFromAmort(b.ID, principal, ratePA, amortPA)
			if err != nil {
				return nil, err
			}
		default:
			return nil, ledger.Configf(b.ID, "term_m", "either term_m or amort_pa is required")
		}
		if termM <= 0 {
			return nil, ledger.Configf(b.ID, "term_m", "must be positive, got %d", termM)
		}
	}

	prepayAmount, err := p.DecimalOr("prepay_amount", decimal.Zero)
	if err != nil {
		return nil, err
	}
	prepayPct, err := p.DecimalOr("prepay_pct", decimal.Zero)
	if err != nil {
		return nil, err
	}
	if !prepayAmount.IsZero() && !prepayPct.IsZero() {
		return nil, ledger.Configf(b.ID, "prepay_amount", "mutually exclusive with prepay_pct")
	}
	if prepayAmount.IsNegative() || prepayPct.IsNegative() {
		return nil, ledger.Configf(b.ID, "prepay_amount", "prepayments must not be negative")
	}
	prepayFeePct, err := p.DecimalOr("prepay_fee_pct", decimal.Zero)
	if err != nil {
		return nil, err
	}

	balloon, err := p.StringOr("balloon_policy", BalloonPayoff)
	if err != nil {
		return nil, err
	}
	if balloon != BalloonPayoff && balloon != BalloonRefinance {
		return nil, ledger.Configf(b.ID, "balloon_policy", "must be %q or %q, got %q", BalloonPayoff, BalloonRefinance, balloon)
	}

	first, last, active, err := resolveWindow(b, ctx)
	if err != nil {
		return nil, err
	}
	closes := endsInsideAxis(b, ctx, last)
	if interestOnly && active && !closes {
		return nil, ledger.Configf(b.ID, "window", "a balloon loan needs a bounded window inside the horizon")
	}

	sim := &loanSimulator{
		brickID:      b.ID,
		currency:     currency,
		principal:    principal,
		ratePM:       ratePM,
		termM:        termM,
		interestOnly: interestOnly,
		prepayAmount: prepayAmount,
		prepayPct:    prepayPct,
		prepayFeePct: prepayFeePct,
		balloon:      balloon,
		first:        first,
		last:         last,
		active:       active,
		closes:       closes,
	}
	if !interestOnly {
		sim.payment = annuityPayment(principal, ratePM, termM)
	}
	return sim, nil
}

func (s *loanSimulator) Simulate(ctx *Context) (Output, error) {
	var out Output
	if !s.active {
		return out, nil
	}
	out.add(Txn{Index: s.first, Type: TxnDrawdown, Amount: s.currency.Quantize(s.principal)})

	balance := s.currency.Quantize(s.principal)
	payments := 0
	for i := s.first + 1; i <= s.last && balance.IsPositive(); i++ {
		interest := s.currency.Quantize(balance.Mul(s.ratePM))
		if interest.IsPositive() {
			out.add(Txn{Index: i, Type: TxnInterestPaid, Amount: interest})
		}

		if !s.interestOnly && payments < s.termM {
			principal := s.payment.Sub(interest)
			// the final scheduled payment clears rounding residue
			if principal.GreaterThan(balance) || payments+1 == s.termM {
				principal = balance
			}
			principal = s.currency.Quantize(principal)
			if principal.IsPositive() {
				out.add(Txn{Index: i, Type: TxnPrincipal, Amount: principal})
				balance = balance.Sub(principal)
			}
			payments++
		}

		if prepay := s.prepaymentFor(balance); prepay.IsPositive() {
			out.add(Txn{Index: i, Type: TxnPrepayment, Amount: prepay})
			balance = balance.Sub(prepay)
			if fee := s.currency.Quantize(prepay.Mul(s.prepayFeePct)); fee.IsPositive() {
				out.add(Txn{Index: i, Type: TxnPrepayFee, Amount: fee})
			}
		}
	}

	if s.closes && balance.IsPositive() {
		switch s.balloon {
		case BalloonPayoff:
			out.add(Txn{Index: s.last, Type: TxnPayoff, Amount: balance})
			out.event(s.last, EventPayoff, s.brickID, "residual "+balance.String())
		case BalloonRefinance:
			out.event(s.last, EventBalloonDue, s.brickID, "residual "+balance.String())
		}
	}
	return out, nil
}

// prepaymentFor computes this month's extra principal, capped at the
// remaining balance.
func (s *loanSimulator) prepaymentFor(balance decimal.Decimal) decimal.Decimal {
	var prepay decimal.Decimal
	switch {
	case s.prepayAmount.IsPositive():
		prepay = s.prepayAmount
	case s.prepayPct.IsPositive():
		prepay = balance.Mul(s.prepayPct)
	default:
		return decimal.Zero
	}
	if prepay.GreaterThan(balance) {
		prepay = balance
	}
	return s.currency.Quantize(prepay)
}

// resolvePrincipal reads the principal directly or derives it from a linked
// property purchase: price times principal_fraction, plus the financed
// share of the purchase fees.
func resolvePrincipal(b brick.Brick, ctx *Context) (decimal.Decimal, error) {
	p := b.Params()
	hasDirect := p.Has("principal")
	houseID, hasLink := b.Links.ID("principal.from_house")
	switch {
	case hasDirect && hasLink:
		return decimal.Zero, ledger.Configf(b.ID, "principal", "mutually exclusive with the principal.from_house link")
	case hasDirect:
		principal, err := p.Decimal("principal")
		if err != nil {
			return decimal.Zero, err
		}
		if !principal.IsPositive() {
			return decimal.Zero, ledger.Configf(b.ID, "principal", "must be positive, got %s", principal)
		}
		return principal, nil
	case hasLink:
		house, ok := ctx.Registry.Brick(houseID)
		if !ok {
			return decimal.Zero, ledger.Configf(b.ID, "principal.from_house", "unknown brick %q", houseID)
		}
		if house.Kind != brick.KindProperty {
			return decimal.Zero, ledger.Configf(b.ID, "principal.from_house", "brick %q is %s, expected %s", houseID, house.Kind, brick.KindProperty)
		}
		hp := house.Params()
		price, err := hp.Decimal("price")
		if err != nil {
			return decimal.Zero, err
		}
		feesPct, err := hp.DecimalOr("fees_pct", decimal.Zero)
		if err != nil {
			return decimal.Zero, err
		}
		feesFinanced, err := hp.DecimalOr("fees_financed_pct", decimal.Zero)
		if err != nil {
			return decimal.Zero, err
		}
		fraction, err := p.DecimalOr("principal_fraction", decimal.NewFromInt(1))
		if err != nil {
			return decimal.Zero, err
		}
		if fraction.IsNegative() || fraction.GreaterThan(decimal.NewFromInt(1)) {
			return decimal.Zero, ledger.Configf(b.ID, "principal_fraction", "must be within [0,1], got %s", fraction)
		}
		principal := price.Mul(fraction).Add(price.Mul(feesPct).Mul(feesFinanced))
		if !principal.IsPositive() {
			return decimal.Zero, ledger.Configf(b.ID, "principal.from_house", "derived principal %s is not positive", principal)
		}
		return principal, nil
	default:
		return decimal.Zero, ledger.Configf(b.ID, "principal", "required directly or via the principal.from_house link")
	}
}

// annuityPayment returns the constant monthly payment
// P*r*(1+r)^n / ((1+r)^n - 1), or P/n at zero rate.
func annuityPayment(principal, ratePM decimal.Decimal, termM int) decimal.Decimal {
	n := decimal.NewFromInt(int64(termM))
	if ratePM.IsZero() {
		return principal.Div(n)
	}
	compound := decimal.NewFromInt(1).Add(ratePM).Pow(n)
	return principal.Mul(ratePM).Mul(compound).Div(compound.Sub(decimal.NewFromInt(1)))
}

// termFromAmort derives the payment count from an initial amortization
// rate: the payment is fixed at P*(rate_pa+amort_pa)/12 and the term is how
// long that payment takes to clear the balance.
func termFromAmort(brickID string, principal, ratePA, amortPA decimal.Decimal) (int, error) {
	if !amortPA.IsPositive() {
		return 0, ledger.Configf(brickID, "amort_pa", "must be positive, got %s", amortPA)
	}
	payment := principal.Mul(ratePA.Add(amortPA)).Div(months12)
	if ratePA.IsZero() {
		term := principal.Div(payment)
		return int(term.Ceil().IntPart()), nil
	}
	r, _ := ratePA.Div(months12).Float64()
	a, _ := payment.Float64()
	pf, _ := principal.Float64()
	if a <= pf*r {
		return 0, ledger.Configf(brickID, "amort_pa", "payment does not cover interest")
	}
	term := math.Log(a/(a-pf*r)) / math.Log(1+r)
	return int(math.Ceil(term)), nil
}

// =============================================================================
// CREDIT LINE - l.credit.line
// =============================================================================

// CreditLineStrategy models a revolving line: scheduled draws against a
// limit, interest-only service, full payoff when the window closes.
//
// Parameters:
//
//	limit    maximum outstanding balance, required
//	rate_pa  nominal annual rate, required
//	draws    map of "2006-01" month -> draw amount
type CreditLineStrategy struct{}

type creditLineSimulator struct {
	brickID     string
	currency    ledger.Currency
	ratePM      decimal.Decimal
	draws       map[int]decimal.Decimal
	first, last int
	active      bool
	closes      bool
}

func (CreditLineStrategy) Prepare(b brick.Brick, ctx *Context) (Simulator, error) {
	p := b.Params()
	currency, err := ctx.CurrencyOf(b)
	if err != nil {
		return nil, err
	}
	limit, err := p.Decimal("limit")
	if err != nil {
		return nil, err
	}
	if !limit.IsPositive() {
		return nil, ledger.Configf(b.ID, "limit", "must be positive, got %s", limit)
	}
	ratePA, err := p.Decimal("rate_pa")
	if err != nil {
		return nil, err
	}
	first, last, active, err := resolveWindow(b, ctx)
	if err != nil {
		return nil, err
	}
	draws, err := monthIndexMap(b.ID, p, "draws", ctx.Axis)
	if err != nil {
		return nil, err
	}
	if len(draws) == 0 {
		return nil, ledger.Configf(b.ID, "draws", "at least one draw is required")
	}
	total := decimal.Zero
	for i, amount := range draws {
		if !amount.IsPositive() {
			return nil, ledger.Configf(b.ID, "draws", "%s: draw must be positive, got %s", ctx.Axis.At(i), amount)
		}
		if active && (i < first || i > last) {
			return nil, ledger.Configf(b.ID, "draws", "%s is outside the activation window", ctx.Axis.At(i))
		}
		total = total.Add(amount)
	}
	if total.GreaterThan(limit) {
		return nil, ledger.Configf(b.ID, "draws", "total %s exceeds limit %s", total, limit)
	}

	return &creditLineSimulator{
		brickID:  b.ID,
		currency: currency,
		ratePM:   ratePA.Div(months12),
		draws:    draws,
		first:    first,
		last:     last,
		active:   active,
		closes:   endsInsideAxis(b, ctx, last),
	}, nil
}

func (s *creditLineSimulator) Simulate(ctx *Context) (Output, error) {
	var out Output
	if !s.active {
		return out, nil
	}
	balance := decimal.Zero
	for i := s.first; i <= s.last; i++ {
		if interest := s.currency.Quantize(balance.Mul(s.ratePM)); interest.IsPositive() {
			out.add(Txn{Index: i, Type: TxnInterestPaid, Amount: interest})
		}
		if draw, ok := s.draws[i]; ok {
			draw = s.currency.Quantize(draw)
			out.add(Txn{Index: i, Type: TxnDrawdown, Amount: draw})
			balance = balance.Add(draw)
		}
	}
	if s.closes && balance.IsPositive() {
		out.add(Txn{Index: s.last, Type: TxnPayoff, Amount: balance})
		out.event(s.last, EventPayoff, s.brickID, "residual "+balance.String())
	}
	return out, nil
}
