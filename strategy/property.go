package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/finbrick/scenario-engine/brick"
	"github.com/finbrick/scenario-engine/ledger"
)

// =============================================================================
// PROPERTY - a.property
// =============================================================================

// PropertyStrategy models a directly held property: purchased at window
// start, appreciating monthly, sold at window end.
//
// Parameters:
//
//	price              purchase price, required
//	fees_pct           purchase fees as a fraction of price (default 0)
//	fees_financed_pct  share of the fees rolled into a linked loan instead
//	                   of paid from cash (default 0)
//	appreciation_pa    annual appreciation, compounded monthly (default 0)
//	sell_fees_pct      fees on the window-end sale (default 0)
//
// The financed share of the fees never leaves cash here; it surfaces as
// extra principal on the loan linked via principal.from_house. Fees are an
// expense, not part of the property's book value.
type PropertyStrategy struct{}

type propertySimulator struct {
	brickID     string
	currency    ledger.Currency
	price       decimal.Decimal
	cashFees    decimal.Decimal
	growthPM    decimal.Decimal
	sellFeesPct decimal.Decimal
	first, last int
	active      bool
	closes      bool
}

func (PropertyStrategy) Prepare(b brick.Brick, ctx *Context) (Simulator, error) {
	p := b.Params()
	currency, err := ctx.CurrencyOf(b)
	if err != nil {
		return nil, err
	}
	price, err := p.Decimal("price")
	if err != nil {
		return nil, err
	}
	if !price.IsPositive() {
		return nil, ledger.Configf(b.ID, "price", "must be positive, got %s", price)
	}
	feesPct, err := p.DecimalOr("fees_pct", decimal.Zero)
	if err != nil {
		return nil, err
	}
	feesFinanced, err := p.DecimalOr("fees_financed_pct", decimal.Zero)
	if err != nil {
		return nil, err
	}
	one := decimal.NewFromInt(1)
	if feesPct.IsNegative() || feesFinanced.IsNegative() || feesFinanced.GreaterThan(one) {
		return nil, ledger.Configf(b.ID, "fees_pct", "fees_pct must be >= 0 and fees_financed_pct within [0,1]")
	}
	appreciationPA, err := p.DecimalOr("appreciation_pa", decimal.Zero)
	if err != nil {
		return nil, err
	}
	if appreciationPA.LessThanOrEqual(decimal.NewFromInt(-1)) {
		return nil, ledger.Configf(b.ID, "appreciation_pa", "must be greater than -1, got %s", appreciationPA)
	}
	sellFeesPct, err := p.DecimalOr("sell_fees_pct", decimal.Zero)
	if err != nil {
		return nil, err
	}
	first, last, active, err := resolveWindow(b, ctx)
	if err != nil {
		return nil, err
	}

	return &propertySimulator{
		brickID:     b.ID,
		currency:    currency,
		price:       price,
		cashFees:    price.Mul(feesPct).Mul(one.Sub(feesFinanced)),
		growthPM:    monthlyGrowth(appreciationPA),
		sellFeesPct: sellFeesPct,
		first:       first,
		last:        last,
		active:      active,
		closes:      endsInsideAxis(b, ctx, last),
	}, nil
}

func (s *propertySimulator) Simulate(ctx *Context) (Output, error) {
	var out Output
	if !s.active {
		return out, nil
	}
	out.add(Txn{Index: s.first, Type: TxnPurchase, Amount: s.currency.Quantize(s.price)})
	if fees := s.currency.Quantize(s.cashFees); fees.IsPositive() {
		out.add(Txn{Index: s.first, Type: TxnPurchaseFee, Amount: fees})
	}

	one := decimal.NewFromInt(1)
	book := s.currency.Quantize(s.price)
	raw := s.price
	for i := s.first + 1; i <= s.last; i++ {
		raw = raw.Mul(one.Add(s.growthPM))
		value := s.currency.Quantize(raw)
		if delta := value.Sub(book); !delta.IsZero() {
			out.add(Txn{Index: i, Type: TxnRevalue, Amount: delta})
			book = value
		}
	}

	if s.closes {
		out.add(Txn{Index: s.last, Type: TxnDisposal, Amount: book})
		if fee := s.currency.Quantize(book.Mul(s.sellFeesPct)); fee.IsPositive() {
			out.add(Txn{Index: s.last, Type: TxnDisposalFee, Amount: fee})
		}
		out.event(s.last, EventDisposal, s.brickID, "sale proceeds "+book.String())
	}
	return out, nil
}

// monthlyGrowth converts an annual rate to its monthly compounding
// equivalent, (1+pa)^(1/12)-1. The twelfth root has no exact decimal form,
// so this one conversion goes through float64.
func monthlyGrowth(annual decimal.Decimal) decimal.Decimal {
	pa, _ := annual.Float64()
	return decimal.NewFromFloat(math.Pow(1+pa, 1.0/12.0) - 1)
}
