/*
Reporting over a completed run.

PURPOSE:
  Every reported number is derived from the journal, never from strategy
  state: cash flows are the cash-account legs of posted entries, stock
  values are account balances. The identities a reader expects from the
  table (net = in - out, assets = cash + non_cash, equity = assets -
  liabilities) therefore hold by construction.

TRANSFER VISIBILITY:
  Only entries booked as transfers participate in netting. A loan payment
  moves money between two internal accounts too, but it is a real economic
  flow and always stays visible.
*/
package scenario

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/finbrick/scenario-engine/brick"
	"github.com/finbrick/scenario-engine/ledger"
)

// TransferVisibility controls how transfer entries show up in cash flows.
type TransferVisibility string

const (
	// VisibilityHide nets transfers whose endpoints are both in the
	// selection and keeps everything else. The default.
	VisibilityHide TransferVisibility = "hide"
	// VisibilityOnly shows transfer legs and nothing else.
	VisibilityOnly TransferVisibility = "only"
	// VisibilityAll shows every leg, including fully internal transfers.
	VisibilityAll TransferVisibility = "all"
	// VisibilityBoundaryOnly shows only transfer legs that cross into a
	// boundary account, such as the legs of a currency conversion.
	VisibilityBoundaryOnly TransferVisibility = "boundary_only"
)

// Granularity selects the reporting period. Flows aggregate by sum, stocks
// take the period's closing value.
type Granularity string

const (
	GranularityMonth   Granularity = "month"
	GranularityQuarter Granularity = "quarter"
	GranularityYear    Granularity = "year"
)

// TableOptions shape one report. An empty selection means every brick.
type TableOptions struct {
	Selection   []string
	Visibility  TransferVisibility
	Granularity Granularity
}

// TableRow is one reporting period. Liabilities are reported as a positive
// magnitude; Close is the last month of the period.
type TableRow struct {
	Period      string
	Close       ledger.Month
	CashIn      decimal.Decimal
	CashOut     decimal.Decimal
	NetCF       decimal.Decimal
	Cash        decimal.Decimal
	NonCash     decimal.Decimal
	Assets      decimal.Decimal
	Liabilities decimal.Decimal
	Equity      decimal.Decimal
}

// Table is a report over a run, denominated in the scenario base currency.
// Accounts in other currencies are excluded rather than silently mixed in.
type Table struct {
	Currency ledger.Currency
	Rows     []TableRow
}

// Table derives a report table from the run's journal.
func (r *RunResult) Table(opts TableOptions) (Table, error) {
	vis := opts.Visibility
	if vis == "" {
		vis = VisibilityHide
	}
	switch vis {
	case VisibilityHide, VisibilityOnly, VisibilityAll, VisibilityBoundaryOnly:
	default:
		return Table{}, ledger.Configf("", "transfer_visibility", "unknown mode %q", vis)
	}
	gran := opts.Granularity
	if gran == "" {
		gran = GranularityMonth
	}
	switch gran {
	case GranularityMonth, GranularityQuarter, GranularityYear:
	default:
		return Table{}, ledger.Configf("", "granularity", "unknown granularity %q", gran)
	}

	leaves, err := r.selectionLeaves(opts.Selection)
	if err != nil {
		return Table{}, err
	}

	cashAccts := make(map[ledger.AccountID]bool)
	var assetAccts, liabAccts []ledger.AccountID
	for _, id := range leaves {
		b, ok := r.Registry.Brick(id)
		if !ok {
			continue
		}
		acct, exists := r.Accounts.Lookup(ledger.AccountID(id))
		if !exists || acct.Currency != r.Base {
			continue
		}
		switch b.Family() {
		case brick.FamilyAsset:
			assetAccts = append(assetAccts, acct.ID)
			if b.Kind == brick.KindCash {
				cashAccts[acct.ID] = true
			}
		case brick.FamilyLiability:
			liabAccts = append(liabAccts, acct.ID)
		}
	}

	byMonth := make(map[ledger.Month][]ledger.Entry)
	for _, e := range r.Journal.Entries() {
		byMonth[e.Month] = append(byMonth[e.Month], e)
	}

	monthly := make([]TableRow, r.Axis.N)
	for i := 0; i < r.Axis.N; i++ {
		m := r.Axis.At(i)
		row := TableRow{Period: m.String(), Close: m}
		in, out := decimal.Zero, decimal.Zero
		for _, e := range byMonth[m] {
			for _, p := range e.Postings {
				if !cashAccts[p.Account] {
					continue
				}
				if !r.countsAsCashflow(e, p.Account, cashAccts, vis) {
					continue
				}
				if p.Amount.Value.IsPositive() {
					in = in.Add(p.Amount.Value)
				} else {
					out = out.Add(p.Amount.Value.Neg())
				}
			}
		}
		row.CashIn, row.CashOut, row.NetCF = in, out, in.Sub(out)
		for _, a := range assetAccts {
			v := r.Journal.Balance(a, m)
			row.Assets = row.Assets.Add(v)
			if cashAccts[a] {
				row.Cash = row.Cash.Add(v)
			}
		}
		for _, l := range liabAccts {
			row.Liabilities = row.Liabilities.Add(r.Journal.Balance(l, m).Neg())
		}
		row.NonCash = row.Assets.Sub(row.Cash)
		row.Equity = row.Assets.Sub(row.Liabilities)
		monthly[i] = row
	}

	return Table{Currency: r.Base, Rows: resample(monthly, gran)}, nil
}

// countsAsCashflow applies the visibility mode to one cash posting.
func (r *RunResult) countsAsCashflow(e ledger.Entry, acct ledger.AccountID, selectedCash map[ledger.AccountID]bool, vis TransferVisibility) bool {
	if e.Kind == ledger.KindOpening {
		// opening balances initialize a position, they are not a flow
		return false
	}
	transferLike := e.Kind == ledger.KindTransfer || e.Kind == ledger.KindFX
	if !transferLike {
		return vis != VisibilityOnly
	}
	counter, _ := e.Counterpart(acct)
	switch vis {
	case VisibilityOnly, VisibilityAll:
		return true
	case VisibilityBoundaryOnly:
		ca, ok := r.Accounts.Lookup(counter)
		return ok && ca.IsBoundary()
	default: // VisibilityHide
		return !selectedCash[counter]
	}
}

// selectionLeaves expands brick and macro ids into a deduplicated leaf set.
func (r *RunResult) selectionLeaves(selection []string) ([]string, error) {
	if len(selection) == 0 {
		var all []string
		for _, b := range r.Registry.Bricks() {
			all = append(all, b.ID)
		}
		return all, nil
	}
	return r.Registry.FlattenAll(selection)
}

// resample folds monthly rows into the requested granularity: flows sum,
// stocks carry the last month of each bucket.
func resample(monthly []TableRow, gran Granularity) []TableRow {
	if gran == GranularityMonth {
		return monthly
	}
	var out []TableRow
	label := func(m ledger.Month) string {
		if gran == GranularityYear {
			return fmt.Sprintf("%04d", m.Year())
		}
		return fmt.Sprintf("%04dQ%d", m.Year(), m.Quarter())
	}
	for _, row := range monthly {
		l := label(row.Close)
		if len(out) == 0 || out[len(out)-1].Period != l {
			row.Period = l
			out = append(out, row)
			continue
		}
		last := &out[len(out)-1]
		last.CashIn = last.CashIn.Add(row.CashIn)
		last.CashOut = last.CashOut.Add(row.CashOut)
		last.NetCF = last.NetCF.Add(row.NetCF)
		last.Close = row.Close
		last.Cash, last.NonCash = row.Cash, row.NonCash
		last.Assets, last.Liabilities, last.Equity = row.Assets, row.Liabilities, row.Equity
	}
	return out
}
