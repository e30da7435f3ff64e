/*
security.go - Unitized security holdings: a.security.unitized

PURPOSE:
  A unit-count times price-path model for funds and stock positions. The
  price path is either an explicit per-month series or a drift/volatility
  walk seeded for reproducibility: the same seed always produces the same
  path, keeping runs deterministic.

UNIT ACCOUNTING:
  Buys and systematic withdrawals convert cash at the current price and
  adjust the unit count. Splits rescale units and price inversely, so
  units x price is invariant across the split. Dividends accrue on held
  units and either land in cash or buy more units. The month's closing
  value is booked as an unrealized revaluation against the price-change
  P&L account, so the security account's balance always equals the
  position's value.
*/
package strategy

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/finbrick/scenario-engine/brick"
	"github.com/finbrick/scenario-engine/ledger"
)

// SecurityStrategy parameters:
//
//	initial_units       opening unit count (default 0), booked against
//	                    opening equity at the window start value
//	price0              starting unit price; required unless price_series
//	                    covers the first active month
//	price_series        map of "2006-01" -> explicit price; gaps carry the
//	                    last price forward; exclusive with drift_pa/vol_pa
//	drift_pa            annual drift of the price walk (default 0)
//	vol_pa              annual volatility of the price walk (default 0)
//	seed                price walk seed (default 0)
//	dividend_yield_pa   annual dividend yield on held units (default 0)
//	dividend_reinvest   reinvest dividends instead of paying out (false)
//	dca_amount          fixed monthly buy (default 0)
//	withdraw_amount     fixed monthly sell (default 0)
//	purchases           map of "2006-01" -> one-off buy amount
//	sales               map of "2006-01" -> one-off sell amount
//	splits              map of "2006-01" -> split ratio (2 = two-for-one)
//	sell_fees_pct       fee on the window-end disposal (default 0)
type SecurityStrategy struct{}

type securitySimulator struct {
	brickID     string
	currency    ledger.Currency
	units       decimal.Decimal
	price       decimal.Decimal
	series      map[int]decimal.Decimal
	hasSeries   bool
	driftPM     decimal.Decimal
	volPM       decimal.Decimal
	seed        int64
	yieldPM     decimal.Decimal
	reinvest    bool
	dca         decimal.Decimal
	withdraw    decimal.Decimal
	purchases   map[int]decimal.Decimal
	sales       map[int]decimal.Decimal
	splits      map[int]decimal.Decimal
	sellFeesPct decimal.Decimal
	first, last int
	active      bool
	closes      bool
}

func (SecurityStrategy) Prepare(b brick.Brick, ctx *Context) (Simulator, error) {
	p := b.Params()
	currency, err := ctx.CurrencyOf(b)
	if err != nil {
		return nil, err
	}
	first, last, active, err := resolveWindow(b, ctx)
	if err != nil {
		return nil, err
	}

	sim := &securitySimulator{
		brickID:  b.ID,
		currency: currency,
		first:    first,
		last:     last,
		active:   active,
		closes:   endsInsideAxis(b, ctx, last),
	}

	sim.units, err = p.DecimalOr("initial_units", decimal.Zero)
	if err != nil {
		return nil, err
	}
	if sim.units.IsNegative() {
		return nil, ledger.Configf(b.ID, "initial_units", "must not be negative, got %s", sim.units)
	}

	hasSeries := p.Has("price_series")
	if hasSeries && (p.Has("drift_pa") || p.Has("vol_pa")) {
		return nil, ledger.Configf(b.ID, "price_series", "mutually exclusive with drift_pa/vol_pa")
	}
	if hasSeries {
		sim.hasSeries = true
		sim.series, err = monthIndexMap(b.ID, p, "price_series", ctx.Axis)
		if err != nil {
			return nil, err
		}
		for i := range sim.series {
			if !sim.series[i].IsPositive() {
				return nil, ledger.Configf(b.ID, "price_series", "prices must be positive")
			}
		}
		if _, ok := sim.series[first]; !ok && !p.Has("price0") {
			return nil, ledger.Configf(b.ID, "price_series", "no price for the first active month and no price0")
		}
	}
	sim.price, err = p.DecimalOr("price0", decimal.Zero)
	if err != nil {
		return nil, err
	}
	if start, ok := sim.series[first]; ok {
		sim.price = start
	}
	if !sim.hasSeries && !sim.price.IsPositive() {
		return nil, ledger.Configf(b.ID, "price0", "must be positive, got %s", sim.price)
	}

	driftPA, err := p.DecimalOr("drift_pa", decimal.Zero)
	if err != nil {
		return nil, err
	}
	if driftPA.LessThanOrEqual(decimal.NewFromInt(-1)) {
		return nil, ledger.Configf(b.ID, "drift_pa", "must be greater than -1, got %s", driftPA)
	}
	sim.driftPM = monthlyGrowth(driftPA)
	volPA, err := p.DecimalOr("vol_pa", decimal.Zero)
	if err != nil {
		return nil, err
	}
	if volPA.IsNegative() {
		return nil, ledger.Configf(b.ID, "vol_pa", "must not be negative, got %s", volPA)
	}
	vol, _ := volPA.Float64()
	sim.volPM = decimal.NewFromFloat(vol / math.Sqrt(12))
	seed, err := p.IntOr("seed", 0)
	if err != nil {
		return nil, err
	}
	sim.seed = int64(seed)

	yieldPA, err := p.DecimalOr("dividend_yield_pa", decimal.Zero)
	if err != nil {
		return nil, err
	}
	if yieldPA.IsNegative() {
		return nil, ledger.Configf(b.ID, "dividend_yield_pa", "must not be negative, got %s", yieldPA)
	}
	sim.yieldPM = yieldPA.Div(months12)
	sim.reinvest, err = p.BoolOr("dividend_reinvest", false)
	if err != nil {
		return nil, err
	}

	sim.dca, err = p.DecimalOr("dca_amount", decimal.Zero)
	if err != nil {
		return nil, err
	}
	sim.withdraw, err = p.DecimalOr("withdraw_amount", decimal.Zero)
	if err != nil {
		return nil, err
	}
	if sim.dca.IsNegative() || sim.withdraw.IsNegative() {
		return nil, ledger.Configf(b.ID, "dca_amount", "plan amounts must not be negative")
	}
	sim.purchases, err = monthIndexMap(b.ID, p, "purchases", ctx.Axis)
	if err != nil {
		return nil, err
	}
	sim.sales, err = monthIndexMap(b.ID, p, "sales", ctx.Axis)
	if err != nil {
		return nil, err
	}
	sim.splits, err = monthIndexMap(b.ID, p, "splits", ctx.Axis)
	if err != nil {
		return nil, err
	}
	for _, ratio := range sim.splits {
		if !ratio.IsPositive() {
			return nil, ledger.Configf(b.ID, "splits", "ratio must be positive, got %s", ratio)
		}
	}
	sim.sellFeesPct, err = p.DecimalOr("sell_fees_pct", decimal.Zero)
	if err != nil {
		return nil, err
	}
	return sim, nil
}

func (s *securitySimulator) Simulate(ctx *Context) (Output, error) {
	var out Output
	if !s.active {
		return out, nil
	}
	rng := rand.New(rand.NewSource(s.seed))

	units := s.units
	price := s.price
	book := decimal.Zero

	if units.IsPositive() {
		opening := s.currency.Quantize(units.Mul(price))
		out.add(Txn{Index: s.first, Type: TxnOpening, Amount: opening})
		book = opening
	}

	for i := s.first; i <= s.last; i++ {
		if i > s.first {
			price = s.nextPrice(price, i, rng)
		}
		if ratio, ok := s.splits[i]; ok {
			units = units.Mul(ratio)
			price = price.Div(ratio)
			out.event(i, EventSplit, s.brickID, fmt.Sprintf("ratio %s", ratio))
		}

		if s.yieldPM.IsPositive() && units.IsPositive() {
			dividend := s.currency.Quantize(units.Mul(price).Mul(s.yieldPM))
			if dividend.IsPositive() {
				if s.reinvest {
					units = units.Add(dividend.Div(price))
					book = book.Add(dividend)
					out.add(Txn{Index: i, Type: TxnDividendReinvest, Amount: dividend})
				} else {
					out.add(Txn{Index: i, Type: TxnDividendCash, Amount: dividend})
				}
			}
		}

		buy := s.dca
		if extra, ok := s.purchases[i]; ok {
			buy = buy.Add(extra)
		}
		if buy.IsPositive() {
			buy = s.currency.Quantize(buy)
			units = units.Add(buy.Div(price))
			book = book.Add(buy)
			out.add(Txn{Index: i, Type: TxnBuy, Amount: buy})
		}

		sell := s.withdraw
		if extra, ok := s.sales[i]; ok {
			sell = sell.Add(extra)
		}
		if sell.IsPositive() {
			sell = s.currency.Quantize(sell)
			units = units.Sub(sell.Div(price))
			book = book.Sub(sell)
			out.add(Txn{Index: i, Type: TxnSell, Amount: sell})
			if units.IsNegative() {
				out.event(i, EventNegativeUnits, s.brickID, fmt.Sprintf("units %s after sell of %s", units, sell))
			}
		}

		value := s.currency.Quantize(units.Mul(price))
		if delta := value.Sub(book); !delta.IsZero() {
			out.add(Txn{Index: i, Type: TxnRevalue, Amount: delta})
			book = value
		}
	}

	if s.closes && !book.IsZero() {
		out.add(Txn{Index: s.last, Type: TxnDisposal, Amount: book})
		if fee := s.currency.Quantize(book.Mul(s.sellFeesPct)); fee.IsPositive() {
			out.add(Txn{Index: s.last, Type: TxnDisposalFee, Amount: fee})
		}
		out.event(s.last, EventDisposal, s.brickID, "sale proceeds "+book.String())
	}
	return out, nil
}

// nextPrice advances the path one month: the explicit series when present
// (gaps carry forward), otherwise the seeded drift/volatility walk.
func (s *securitySimulator) nextPrice(price decimal.Decimal, i int, rng *rand.Rand) decimal.Decimal {
	if s.hasSeries {
		if p, ok := s.series[i]; ok {
			return p
		}
		return price
	}
	step := decimal.NewFromInt(1).Add(s.driftPM)
	if !s.volPM.IsZero() {
		noise := s.volPM.Mul(decimal.NewFromFloat(rng.NormFloat64()))
		step = step.Add(noise)
	}
	next := price.Mul(step)
	if !next.IsPositive() {
		// a price walk cannot cross zero
		next = price.Div(decimal.NewFromInt(2))
	}
	return next
}

// monthIndexMap reads a "2006-01" keyed map and re-keys it by axis index.
// Months outside the horizon are rejected rather than silently dropped.
func monthIndexMap(brickID string, p brick.Params, key string, axis ledger.Axis) (map[int]decimal.Decimal, error) {
	raw, err := p.DecimalMap(key)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[int]decimal.Decimal, len(raw))
	for monthStr, v := range raw {
		m, err := ledger.ParseMonth(monthStr)
		if err != nil {
			return nil, ledger.Configf(brickID, key, "%v", err)
		}
		i, ok := axis.Index(m)
		if !ok {
			return nil, ledger.Configf(brickID, key, "%s is outside the scenario horizon", monthStr)
		}
		out[i] = v
	}
	return out, nil
}
