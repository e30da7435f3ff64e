package scenario

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/finbrick/scenario-engine/brick"
	"github.com/finbrick/scenario-engine/ledger"
	"github.com/finbrick/scenario-engine/strategy"
)

// =============================================================================
// ACCOUNT SCHEME
// =============================================================================

// Internal accounts reuse the brick id. Boundary accounts are namespaced so
// a report can attribute every external leg to its brick, while opening
// equity and P&L accounts are shared per currency.

func openingAccount(c ledger.Currency) ledger.AccountID {
	return ledger.AccountID("equity:opening:" + string(c))
}

func pnlAccount(c ledger.Currency) ledger.AccountID {
	return ledger.AccountID("pnl:unrealized:" + string(c))
}

func fxAccount(c ledger.Currency) ledger.AccountID {
	return ledger.AccountID("pnl:fx:" + string(c))
}

func incomeAccount(brickID string) ledger.AccountID {
	return ledger.AccountID("income:" + brickID)
}

func expenseAccount(brickID string) ledger.AccountID {
	return ledger.AccountID("expense:" + brickID)
}

func interestIncomeAccount(brickID string) ledger.AccountID {
	return ledger.AccountID("income:" + brickID + ":interest")
}

func interestExpenseAccount(brickID string) ledger.AccountID {
	return ledger.AccountID("expense:" + brickID + ":interest")
}

func dividendAccount(brickID string) ledger.AccountID {
	return ledger.AccountID("income:" + brickID + ":dividends")
}

func feesAccount(brickID string) ledger.AccountID {
	return ledger.AccountID("expense:" + brickID + ":fees")
}

// =============================================================================
// COMPILER - strategy txns to balanced journal entries
// =============================================================================

// routeLeg is one normalized cash routing target.
type routeLeg struct {
	account ledger.AccountID
	weight  decimal.Decimal
}

// compiler turns the typed transaction stream of a simulated brick into
// journal entries. It owns the routing of cash legs: every txn that touches
// cash settles against the brick's route.to or route.from targets, falling
// back to the scenario's default settlement account.
type compiler struct {
	axis       ledger.Axis
	base       ledger.Currency
	accounts   *ledger.AccountRegistry
	journal    *ledger.Journal
	bricks     map[string]brick.Brick
	settlement string
	ids        map[string]int
}

func newCompiler(axis ledger.Axis, base ledger.Currency, accounts *ledger.AccountRegistry, journal *ledger.Journal, bricks []brick.Brick, settlement string) *compiler {
	byID := make(map[string]brick.Brick, len(bricks))
	for _, b := range bricks {
		byID[b.ID] = b
	}
	return &compiler{
		axis:       axis,
		base:       base,
		accounts:   accounts,
		journal:    journal,
		bricks:     byID,
		settlement: settlement,
		ids:        make(map[string]int),
	}
}

func (c *compiler) currencyOf(b brick.Brick) ledger.Currency {
	if s, ok := b.Spec["currency"].(string); ok {
		return ledger.Currency(s)
	}
	return c.base
}

// resolveRoute reads a routing relation and normalizes it into weighted cash
// legs that sum to one. Targets must be cash bricks in the same currency as
// the routed brick; an absent relation settles fully against the default.
func (c *compiler) resolveRoute(b brick.Brick, name string, cur ledger.Currency) ([]routeLeg, error) {
	weights, err := b.Links.Route(b.ID, name)
	if err != nil {
		return nil, err
	}
	if len(weights) == 0 {
		weights = map[string]decimal.Decimal{c.settlement: decimal.NewFromInt(1)}
	}

	targets := make([]string, 0, len(weights))
	total := decimal.Zero
	for target, w := range weights {
		if w.IsNegative() {
			return nil, ledger.Configf(b.ID, name+"."+target, "negative weight %s", w)
		}
		tb, ok := c.bricks[target]
		if !ok {
			return nil, ledger.Configf(b.ID, name+"."+target, "unknown brick")
		}
		if tb.Kind != brick.KindCash {
			return nil, ledger.Configf(b.ID, name+"."+target, "routing target must be a %s brick, is %s", brick.KindCash, tb.Kind)
		}
		if tc := c.currencyOf(tb); tc != cur {
			return nil, ledger.Configf(b.ID, name+"."+target, "settles in %s, brick is %s", tc, cur)
		}
		targets = append(targets, target)
		total = total.Add(w)
	}
	if !total.IsPositive() {
		return nil, ledger.Configf(b.ID, name, "weights must sum to a positive value, got %s", total)
	}
	sort.Strings(targets)

	legs := make([]routeLeg, 0, len(targets))
	for _, target := range targets {
		legs = append(legs, routeLeg{
			account: ledger.AccountID(target),
			weight:  weights[target].Div(total),
		})
	}
	return legs, nil
}

// split divides a quantized amount across routing legs. Every leg is
// quantized and the last leg absorbs the rounding remainder, so the legs
// always reassemble the original amount exactly.
func split(amount decimal.Decimal, cur ledger.Currency, legs []routeLeg) []decimal.Decimal {
	out := make([]decimal.Decimal, len(legs))
	rest := amount
	for i, leg := range legs {
		if i == len(legs)-1 {
			out[i] = rest
			break
		}
		part := cur.Quantize(amount.Mul(leg.weight))
		out[i] = part
		rest = rest.Sub(part)
	}
	return out
}

// entryID builds a deterministic, human-scannable entry id. Repeated
// operations of the same shape in the same month get an ordinal suffix.
func (c *compiler) entryID(brickID string, kind ledger.EntryKind, m ledger.Month) string {
	base := fmt.Sprintf("%s:%s:%s", brickID, kind, m)
	c.ids[base]++
	if n := c.ids[base]; n > 1 {
		return fmt.Sprintf("%s:%d", base, n)
	}
	return base
}

func (c *compiler) post(id string, m ledger.Month, kind ledger.EntryKind, brickID, opID, memo string, p1, p2 ledger.Posting) error {
	e, err := ledger.NewEntry(id, m, kind, brickID, p1, p2)
	if err != nil {
		return err
	}
	e.OperationID = opID
	e.Memo = memo
	return c.journal.Post(e)
}

// compile maps one brick's simulation output onto the journal.
func (c *compiler) compile(b brick.Brick, out strategy.Output) error {
	cur := c.currencyOf(b)
	self := ledger.AccountID(b.ID)
	amt := func(v decimal.Decimal) ledger.Amount { return ledger.Amount{Value: v, Currency: cur} }

	// routing legs are resolved lazily: most bricks never need both sides
	var inLegs, outLegs []routeLeg
	cashIn := func() ([]routeLeg, error) {
		if inLegs == nil {
			var err error
			if inLegs, err = c.resolveRoute(b, "route.to", cur); err != nil {
				return nil, err
			}
		}
		return inLegs, nil
	}
	cashOut := func() ([]routeLeg, error) {
		if outLegs == nil {
			var err error
			if outLegs, err = c.resolveRoute(b, "route.from", cur); err != nil {
				return nil, err
			}
		}
		return outLegs, nil
	}

	// postSplit books one entry per routing leg: the cash side takes the
	// leg amount and the fixed counterparty account takes the other side.
	postSplit := func(m ledger.Month, kind ledger.EntryKind, opID, memo string, legs []routeLeg, counter ledger.AccountID, v decimal.Decimal, cashReceives bool) error {
		for i, part := range split(v, cur, legs) {
			if part.IsZero() && len(legs) > 1 {
				continue
			}
			cash := ledger.Posting{Account: legs[i].account, Amount: amt(part)}
			other := ledger.Posting{Account: counter, Amount: amt(part.Neg())}
			if !cashReceives {
				cash.Amount = cash.Amount.Neg()
				other.Amount = other.Amount.Neg()
			}
			if err := c.post(c.entryID(b.ID, kind, m), m, kind, b.ID, opID, memo, cash, other); err != nil {
				return err
			}
		}
		return nil
	}

	for _, txn := range out.Txns {
		m := c.axis.At(txn.Index)
		var err error
		switch txn.Type {

		case strategy.TxnOpening:
			err = c.post(c.entryID(b.ID, ledger.KindOpening, m), m, ledger.KindOpening, b.ID, "", txn.Memo,
				ledger.Posting{Account: openingAccount(cur), Amount: amt(txn.Amount.Neg())},
				ledger.Posting{Account: self, Amount: amt(txn.Amount)})

		case strategy.TxnInterestEarned:
			err = c.post(c.entryID(b.ID, ledger.KindInterest, m), m, ledger.KindInterest, b.ID, "", txn.Memo,
				ledger.Posting{Account: interestIncomeAccount(b.ID), Amount: amt(txn.Amount.Neg())},
				ledger.Posting{Account: self, Amount: amt(txn.Amount)})

		case strategy.TxnIncome:
			var legs []routeLeg
			if legs, err = cashIn(); err == nil {
				err = postSplit(m, ledger.KindFlow, "", txn.Memo, legs, incomeAccount(b.ID), txn.Amount, true)
			}

		case strategy.TxnExpense:
			var legs []routeLeg
			if legs, err = cashOut(); err == nil {
				err = postSplit(m, ledger.KindFlow, "", txn.Memo, legs, expenseAccount(b.ID), txn.Amount, false)
			}

		case strategy.TxnTransfer:
			err = c.compileTransfer(b, txn, m)

		case strategy.TxnTransferFee:
			err = c.compileTransferFee(b, txn, m)

		case strategy.TxnRevalue:
			err = c.post(c.entryID(b.ID, ledger.KindRevaluation, m), m, ledger.KindRevaluation, b.ID, "", txn.Memo,
				ledger.Posting{Account: pnlAccount(cur), Amount: amt(txn.Amount.Neg())},
				ledger.Posting{Account: self, Amount: amt(txn.Amount)})

		case strategy.TxnBuy, strategy.TxnPurchase:
			var legs []routeLeg
			if legs, err = cashOut(); err == nil {
				err = postSplit(m, ledger.KindBuy, "", txn.Memo, legs, self, txn.Amount, false)
			}

		case strategy.TxnSell:
			var legs []routeLeg
			if legs, err = cashIn(); err == nil {
				err = postSplit(m, ledger.KindSell, "", txn.Memo, legs, self, txn.Amount, true)
			}

		case strategy.TxnDividendCash:
			var legs []routeLeg
			if legs, err = cashIn(); err == nil {
				err = postSplit(m, ledger.KindDividend, "", txn.Memo, legs, dividendAccount(b.ID), txn.Amount, true)
			}

		case strategy.TxnDividendReinvest:
			err = c.post(c.entryID(b.ID, ledger.KindDividend, m), m, ledger.KindDividend, b.ID, "", txn.Memo,
				ledger.Posting{Account: dividendAccount(b.ID), Amount: amt(txn.Amount.Neg())},
				ledger.Posting{Account: self, Amount: amt(txn.Amount)})

		case strategy.TxnDrawdown:
			var legs []routeLeg
			if legs, err = cashIn(); err == nil {
				err = postSplit(m, ledger.KindDrawdown, "", txn.Memo, legs, self, txn.Amount, true)
			}

		case strategy.TxnInterestPaid:
			var legs []routeLeg
			if legs, err = cashOut(); err == nil {
				err = postSplit(m, ledger.KindInterest, b.ID+":pay:"+m.String(), txn.Memo, legs, interestExpenseAccount(b.ID), txn.Amount, false)
			}

		case strategy.TxnPrincipal, strategy.TxnPrepayment:
			var legs []routeLeg
			if legs, err = cashOut(); err == nil {
				err = postSplit(m, ledger.KindPrincipal, b.ID+":pay:"+m.String(), txn.Memo, legs, self, txn.Amount, false)
			}

		case strategy.TxnPrepayFee:
			var legs []routeLeg
			if legs, err = cashOut(); err == nil {
				err = postSplit(m, ledger.KindFee, b.ID+":pay:"+m.String(), txn.Memo, legs, feesAccount(b.ID), txn.Amount, false)
			}

		case strategy.TxnPayoff:
			var legs []routeLeg
			if legs, err = cashOut(); err == nil {
				err = postSplit(m, ledger.KindPayoff, "", txn.Memo, legs, self, txn.Amount, false)
			}

		case strategy.TxnDisposal:
			var legs []routeLeg
			if legs, err = cashIn(); err == nil {
				err = postSplit(m, ledger.KindDisposal, "", txn.Memo, legs, self, txn.Amount, true)
			}

		case strategy.TxnPurchaseFee, strategy.TxnDisposalFee:
			var legs []routeLeg
			if legs, err = cashOut(); err == nil {
				err = postSplit(m, ledger.KindFee, "", txn.Memo, legs, feesAccount(b.ID), txn.Amount, false)
			}

		default:
			err = ledger.Configf(b.ID, "txn", "no entry mapping for txn type %q", txn.Type)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// compileTransfer books a transfer occurrence. Same-currency transfers are a
// single internal entry; cross-currency transfers settle each leg in its own
// currency through the FX boundary accounts, grouped by OperationID.
func (c *compiler) compileTransfer(b brick.Brick, txn strategy.Txn, m ledger.Month) error {
	from, to, srcCur, dstCur, err := c.transferEndpoints(b)
	if err != nil {
		return err
	}
	if err := c.accounts.ValidateTransferAccounts(from, to); err != nil {
		return err
	}

	if srcCur == dstCur {
		return c.post(c.entryID(b.ID, ledger.KindTransfer, m), m, ledger.KindTransfer, b.ID, "", txn.Memo,
			ledger.Posting{Account: from, Amount: ledger.Amount{Value: txn.Amount.Neg(), Currency: srcCur}},
			ledger.Posting{Account: to, Amount: ledger.Amount{Value: txn.Amount, Currency: dstCur}})
	}

	opID := b.ID + ":fx:" + m.String()
	if err := c.post(c.entryID(b.ID, ledger.KindFX, m), m, ledger.KindFX, b.ID, opID, txn.Memo,
		ledger.Posting{Account: from, Amount: ledger.Amount{Value: txn.Amount.Neg(), Currency: srcCur}},
		ledger.Posting{Account: fxAccount(srcCur), Amount: ledger.Amount{Value: txn.Amount, Currency: srcCur}}); err != nil {
		return err
	}
	return c.post(c.entryID(b.ID, ledger.KindFX, m), m, ledger.KindFX, b.ID, opID, txn.Memo,
		ledger.Posting{Account: fxAccount(dstCur), Amount: ledger.Amount{Value: txn.Dest.Neg(), Currency: dstCur}},
		ledger.Posting{Account: to, Amount: ledger.Amount{Value: txn.Dest, Currency: dstCur}})
}

func (c *compiler) compileTransferFee(b brick.Brick, txn strategy.Txn, m ledger.Month) error {
	from, _, srcCur, _, err := c.transferEndpoints(b)
	if err != nil {
		return err
	}
	return c.post(c.entryID(b.ID, ledger.KindFee, m), m, ledger.KindFee, b.ID, "", txn.Memo,
		ledger.Posting{Account: from, Amount: ledger.Amount{Value: txn.Amount.Neg(), Currency: srcCur}},
		ledger.Posting{Account: feesAccount(b.ID), Amount: ledger.Amount{Value: txn.Amount, Currency: srcCur}})
}

func (c *compiler) transferEndpoints(b brick.Brick) (from, to ledger.AccountID, srcCur, dstCur ledger.Currency, err error) {
	fromID, _ := b.Links.ID("from")
	toID, _ := b.Links.ID("to")
	fromBrick, ok := c.bricks[fromID]
	if !ok {
		return "", "", "", "", ledger.Configf(b.ID, "links.from", "unknown brick %q", fromID)
	}
	toBrick, ok := c.bricks[toID]
	if !ok {
		return "", "", "", "", ledger.Configf(b.ID, "links.to", "unknown brick %q", toID)
	}
	return ledger.AccountID(fromID), ledger.AccountID(toID), c.currencyOf(fromBrick), c.currencyOf(toBrick), nil
}
