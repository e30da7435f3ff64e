/*
Package strategy implements per-kind simulation behavior for bricks.

PURPOSE:
  Strategies turn a brick's declarative parameters into a stream of typed
  monthly transactions. A strategy never touches the journal directly: it
  emits Txn values, and the compiler in the scenario package maps each Txn
  type to a balanced journal entry against the right accounts. This keeps
  all double-entry knowledge in one place and lets strategies stay pure
  month-by-month arithmetic.

KEY CONCEPTS:
  - Strategy.Prepare validates a brick's parameters fail-fast and returns a
    Simulator compiled for that one brick (kind dispatch happens once, at
    compile time, not per period)
  - Simulator.Simulate walks the activation window and emits transactions
    plus lifecycle events (escalations, splits, balloon-due)
  - Registries: three explicit kind tables (valuation for assets, schedule
    for liabilities, flow for flows and transfers), constructed per engine,
    never package-global

WINDOW-END RULE:
  A simulator holding a non-cash balance at the end of its window must emit
  an explicit equity-neutral disposal or payoff transaction. Balances never
  vanish without a cash leg.

SEE ALSO:
  - cash.go, property.go, security.go: asset valuations
  - loan.go: liability schedules
  - flow.go, transfer.go: boundary flows and internal transfers
*/
package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/finbrick/scenario-engine/brick"
	"github.com/finbrick/scenario-engine/ledger"
)

// =============================================================================
// TXN - Typed monthly effect, the strategy/compiler contract
// =============================================================================

type TxnType string

const (
	// cash accounts
	TxnOpening        TxnType = "opening"
	TxnInterestEarned TxnType = "interest_earned"

	// boundary flows
	TxnIncome  TxnType = "income"
	TxnExpense TxnType = "expense"

	// transfers
	TxnTransfer    TxnType = "transfer"
	TxnTransferFee TxnType = "transfer_fee"

	// securities
	TxnBuy              TxnType = "buy"
	TxnSell             TxnType = "sell"
	TxnDividendCash     TxnType = "dividend_cash"
	TxnDividendReinvest TxnType = "dividend_reinvest"

	// valuation drift (unrealized, no cash leg)
	TxnRevalue TxnType = "revalue"

	// property
	TxnPurchase    TxnType = "purchase"
	TxnPurchaseFee TxnType = "purchase_fee"

	// liabilities
	TxnDrawdown     TxnType = "drawdown"
	TxnInterestPaid TxnType = "interest_paid"
	TxnPrincipal    TxnType = "principal"
	TxnPrepayment   TxnType = "prepayment"
	TxnPrepayFee    TxnType = "prepayment_fee"
	TxnPayoff       TxnType = "payoff"

	// window-end disposal of a held asset
	TxnDisposal    TxnType = "disposal"
	TxnDisposalFee TxnType = "disposal_fee"
)

// Txn is one monthly effect in the brick's own currency. Amount is a
// positive magnitude and the transaction type determines direction, with
// two exceptions: interest earned goes negative on an overdrawn balance and
// revaluations are signed (prices fall as well as rise). Dest
// carries the destination-currency amount for cross-currency transfers and
// is zero everywhere else.
type Txn struct {
	Index  int
	Type   TxnType
	Amount decimal.Decimal
	Dest   decimal.Decimal
	Memo   string
}

// Event marks a lifecycle point a report consumer may care about.
type Event struct {
	Index  int
	Kind   string
	Brick  string
	Detail string
}

const (
	EventEscalation = "escalation"
	EventBalloonDue = "balloon_due"
	EventSplit      = "split"
	EventDisposal   = "disposal"
	EventPayoff     = "payoff"
	// EventNegativeUnits marks an oversell: the position went short, which
	// run validation reports as an issue.
	EventNegativeUnits = "negative_units"
)

// Output is everything one brick produced across its window.
type Output struct {
	Txns   []Txn
	Events []Event
}

func (o *Output) add(t Txn) { o.Txns = append(o.Txns, t) }

func (o *Output) event(index int, kind, brickID, detail string) {
	o.Events = append(o.Events, Event{Index: index, Kind: kind, Brick: brickID, Detail: detail})
}

// =============================================================================
// CONTEXT - Read-mostly shared state for strategy calls
// =============================================================================

// Context is handed to every Prepare and Simulate call. Journal access is
// read-only and matters only to balance-dependent simulators (cash interest
// accrues on the post-flow balance, so cash bricks simulate last).
type Context struct {
	Axis              ledger.Axis
	Base              ledger.Currency
	Registry          *brick.Registry
	Journal           *ledger.Journal
	DefaultSettlement string

	// AccountFor resolves a brick id to its primary internal account.
	AccountFor func(brickID string) ledger.AccountID
}

// CurrencyOf reads a brick's settlement currency, defaulting to the base.
func (c *Context) CurrencyOf(b brick.Brick) (ledger.Currency, error) {
	p := b.Params()
	code, err := p.StringOr("currency", string(c.Base))
	if err != nil {
		return "", err
	}
	return ledger.Currency(code), nil
}

// =============================================================================
// STRATEGY / SIMULATOR
// =============================================================================

// Strategy validates one brick and compiles it into a Simulator. Prepare is
// called exactly once per brick per run and fails fast on the first bad
// parameter, naming brick and field.
type Strategy interface {
	Prepare(b brick.Brick, ctx *Context) (Simulator, error)
}

// Simulator produces the brick's transactions across its activation window.
type Simulator interface {
	Simulate(ctx *Context) (Output, error)
}

// =============================================================================
// REGISTRIES - Explicit kind tables, one per family group
// =============================================================================

// Registries maps brick kinds to strategies: assets resolve against the
// valuation table, liabilities against the schedule table, flows and
// transfers against the flow table. Registries are plain values owned by
// the engine that builds them; there is no package-global registration.
type Registries struct {
	valuation map[brick.Kind]Strategy
	schedule  map[brick.Kind]Strategy
	flow      map[brick.Kind]Strategy
}

func NewRegistries() *Registries {
	return &Registries{
		valuation: make(map[brick.Kind]Strategy),
		schedule:  make(map[brick.Kind]Strategy),
		flow:      make(map[brick.Kind]Strategy),
	}
}

// DefaultRegistries returns the built-in kind table.
func DefaultRegistries() *Registries {
	r := NewRegistries()
	// Registration of built-ins cannot fail: kinds and families are static.
	_ = r.RegisterValuation(brick.KindCash, CashStrategy{})
	_ = r.RegisterValuation(brick.KindProperty, PropertyStrategy{})
	_ = r.RegisterValuation(brick.KindSecurityUnitized, SecurityStrategy{})
	_ = r.RegisterSchedule(brick.KindLoanAnnuity, LoanStrategy{})
	_ = r.RegisterSchedule(brick.KindLoanBalloon, LoanStrategy{})
	_ = r.RegisterSchedule(brick.KindCreditLine, CreditLineStrategy{})
	_ = r.RegisterFlow(brick.KindIncomeRecurring, FlowStrategy{})
	_ = r.RegisterFlow(brick.KindIncomeOnetime, FlowStrategy{})
	_ = r.RegisterFlow(brick.KindExpenseRecurring, FlowStrategy{})
	_ = r.RegisterFlow(brick.KindExpenseOnetime, FlowStrategy{})
	_ = r.RegisterFlow(brick.KindTransferLumpsum, TransferStrategy{})
	_ = r.RegisterFlow(brick.KindTransferScheduled, TransferStrategy{})
	_ = r.RegisterFlow(brick.KindTransferRecurring, TransferStrategy{})
	return r
}

func (r *Registries) RegisterValuation(k brick.Kind, s Strategy) error {
	if k.Family() != brick.FamilyAsset {
		return ledger.Configf("", "kind", "%q is not an asset kind", k)
	}
	r.valuation[k] = s
	return nil
}

func (r *Registries) RegisterSchedule(k brick.Kind, s Strategy) error {
	if k.Family() != brick.FamilyLiability {
		return ledger.Configf("", "kind", "%q is not a liability kind", k)
	}
	r.schedule[k] = s
	return nil
}

func (r *Registries) RegisterFlow(k brick.Kind, s Strategy) error {
	if f := k.Family(); f != brick.FamilyFlow && f != brick.FamilyTransfer {
		return ledger.Configf("", "kind", "%q is not a flow or transfer kind", k)
	}
	r.flow[k] = s
	return nil
}

// Resolve picks the strategy for a brick from the table its family selects.
func (r *Registries) Resolve(b brick.Brick) (Strategy, error) {
	var table map[brick.Kind]Strategy
	switch b.Family() {
	case brick.FamilyAsset:
		table = r.valuation
	case brick.FamilyLiability:
		table = r.schedule
	case brick.FamilyFlow, brick.FamilyTransfer:
		table = r.flow
	default:
		return nil, ledger.Configf(b.ID, "kind", "unknown family in kind %q", b.Kind)
	}
	s, ok := table[b.Kind]
	if !ok {
		return nil, ledger.Configf(b.ID, "kind", "no strategy registered for %q", b.Kind)
	}
	return s, nil
}

// resolveWindow is the shared Prepare step that clamps a brick's window to
// the axis. active is false when the brick never enters the horizon.
func resolveWindow(b brick.Brick, ctx *Context) (first, last int, active bool, err error) {
	first, last, active, err = b.Window.Resolve(ctx.Axis)
	if err != nil {
		if cfg, ok := err.(*ledger.ConfigError); ok && cfg.BrickID == "" {
			cfg.BrickID = b.ID
		}
		return 0, 0, false, err
	}
	return first, last, active, nil
}

// endsInsideAxis reports whether the window genuinely closes at axis index
// last, rather than being cut off by the horizon. Disposal and payoff fire
// only on genuine window ends.
func endsInsideAxis(b brick.Brick, ctx *Context, last int) bool {
	if b.Window.End == nil && b.Window.DurationM == 0 {
		return false
	}
	return last < ctx.Axis.N-1 || windowEndMonth(b, ctx) == ctx.Axis.End()
}

func windowEndMonth(b brick.Brick, ctx *Context) ledger.Month {
	start := ctx.Axis.Start
	if b.Window.Start != nil {
		start = *b.Window.Start
	}
	if b.Window.End != nil {
		return *b.Window.End
	}
	return start.Add(b.Window.DurationM - 1)
}
