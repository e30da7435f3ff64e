/*
journal.go - Append-only double-entry journal

PURPOSE:
  The journal is the single source of truth for a scenario run. Every
  simulated effect, from a salary payment to an unrealized price drift, is
  recorded as one balanced entry of exactly two postings. Balances, trial
  balances and report tables are all derived from the entry stream and
  never stored.

INVARIANTS:
  1. Every entry has exactly two postings in one currency, summing to zero
  2. Posting currencies match their account currencies
  3. Entry IDs are unique; re-posting the same ID is rejected
  4. Balances are order-independent: derived by sorting on (month, sequence)

SEE ALSO:
  - account.go: the registry entries are validated against
  - export.go: flat row export of the entry stream
*/
package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENTRY KINDS - Reporting classification
// =============================================================================

// EntryKind classifies entries for reporting and transfer visibility.
// Only KindTransfer entries participate in internal-transfer netting;
// principal or interest payments are never hidden even though both of
// their accounts may be internal.
type EntryKind string

const (
	KindOpening     EntryKind = "opening"
	KindFlow        EntryKind = "flow"
	KindTransfer    EntryKind = "transfer"
	KindInterest    EntryKind = "interest"
	KindPrincipal   EntryKind = "principal"
	KindDrawdown    EntryKind = "drawdown"
	KindBuy         EntryKind = "buy"
	KindSell        EntryKind = "sell"
	KindDividend    EntryKind = "dividend"
	KindRevaluation EntryKind = "revaluation"
	KindFee         EntryKind = "fee"
	KindDisposal    EntryKind = "disposal"
	KindPayoff      EntryKind = "payoff"
	KindFX          EntryKind = "fx"
)

// =============================================================================
// POSTING / ENTRY
// =============================================================================

type Posting struct {
	Account AccountID
	Amount  Amount
}

// Entry is one immutable journal record. OperationID groups the entries of
// one logical operation (a payment's principal and interest legs); ParentID
// points at the entry an adjustment derives from.
type Entry struct {
	ID          string
	Month       Month
	Sequence    int
	Kind        EntryKind
	BrickID     string
	OperationID string
	ParentID    string
	Tags        []string
	Memo        string
	Postings    [2]Posting
}

// NewEntry builds a balanced entry from two postings. Amounts are quantized
// to the currency's minor units before the zero-sum check, so residuals from
// intermediate math are surfaced instead of silently carried.
func NewEntry(id string, m Month, kind EntryKind, brickID string, p1, p2 Posting) (Entry, error) {
	if p1.Amount.Currency != p2.Amount.Currency {
		return Entry{}, &CurrencyMismatchError{Left: p1.Amount.Currency, Right: p2.Amount.Currency, Op: "entry"}
	}
	p1.Amount = p1.Amount.Quantized()
	p2.Amount = p2.Amount.Quantized()
	if residual := p1.Amount.Value.Add(p2.Amount.Value); !residual.IsZero() {
		return Entry{}, &UnbalancedEntryError{
			EntryID:  id,
			Currency: p1.Amount.Currency,
			Residual: Amount{Value: residual, Currency: p1.Amount.Currency},
		}
	}
	return Entry{ID: id, Month: m, Kind: kind, BrickID: brickID, Postings: [2]Posting{p1, p2}}, nil
}

// Currency returns the single currency the entry settles in.
func (e Entry) Currency() Currency { return e.Postings[0].Amount.Currency }

// PostingFor returns the signed amount the entry moves on the given account,
// zero if the entry does not touch it.
func (e Entry) PostingFor(id AccountID) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range e.Postings {
		if p.Account == id {
			sum = sum.Add(p.Amount.Value)
		}
	}
	return sum
}

// Counterpart returns the account on the other side of id.
func (e Entry) Counterpart(id AccountID) (AccountID, bool) {
	if e.Postings[0].Account == id {
		return e.Postings[1].Account, true
	}
	if e.Postings[1].Account == id {
		return e.Postings[0].Account, true
	}
	return "", false
}

// =============================================================================
// JOURNAL
// =============================================================================

// Journal is the append-only entry log for one scenario run. Not safe for
// concurrent use; the engine is single-threaded by design and callers that
// want parallel runs give each run its own journal.
type Journal struct {
	registry *AccountRegistry
	entries  []Entry
	seen     map[string]struct{}
	seq      int
}

func NewJournal(registry *AccountRegistry) *Journal {
	return &Journal{registry: registry, seen: make(map[string]struct{})}
}

// Post validates and appends one entry, assigning the next sequence number.
// The first violated rule is returned and the journal is left unchanged.
func (j *Journal) Post(e Entry) error {
	if e.ID == "" {
		return Configf(e.BrickID, "entry.id", "must not be empty")
	}
	if _, dup := j.seen[e.ID]; dup {
		return Configf(e.BrickID, "entry.id", "duplicate entry id %q", e.ID)
	}
	for _, p := range e.Postings {
		acct, ok := j.registry.Lookup(p.Account)
		if !ok {
			return fmt.Errorf("entry %q posts to %q: %w", e.ID, p.Account, ErrUnknownAccount)
		}
		if acct.Currency != p.Amount.Currency {
			return &CurrencyMismatchError{Left: acct.Currency, Right: p.Amount.Currency, Op: "post to " + string(p.Account)}
		}
	}
	if residual := e.Postings[0].Amount.Value.Add(e.Postings[1].Amount.Value); !residual.IsZero() {
		return &UnbalancedEntryError{EntryID: e.ID, Currency: e.Currency(), Residual: Amount{Value: residual, Currency: e.Currency()}}
	}
	e.Sequence = j.seq
	j.seq++
	j.seen[e.ID] = struct{}{}
	j.entries = append(j.entries, e)
	return nil
}

// PostAll appends entries in order, stopping at the first failure.
func (j *Journal) PostAll(entries []Entry) error {
	for _, e := range entries {
		if err := j.Post(e); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) Len() int { return len(j.entries) }

// Entries returns a copy of the entry stream in posting order.
func (j *Journal) Entries() []Entry {
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// EntriesInRange returns entries with from <= month <= to, ordered by
// (month, sequence) regardless of insertion order.
func (j *Journal) EntriesInRange(from, to Month) []Entry {
	var out []Entry
	for _, e := range j.entries {
		if !e.Month.Before(from) && !e.Month.After(to) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// EntriesForAccount returns every entry touching the account, ordered by
// (month, sequence).
func (j *Journal) EntriesForAccount(id AccountID) []Entry {
	var out []Entry
	for _, e := range j.entries {
		if _, ok := e.Counterpart(id); ok {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

// Balance derives the signed balance of an account at the end of the given
// month. Entries are sorted on (month, sequence) before accumulation, so the
// result does not depend on insertion order.
func (j *Journal) Balance(id AccountID, at Month) decimal.Decimal {
	matched := make([]Entry, 0, 8)
	for _, e := range j.entries {
		if e.Month.After(at) {
			continue
		}
		if _, ok := e.Counterpart(id); ok {
			matched = append(matched, e)
		}
	}
	sortEntries(matched)
	bal := decimal.Zero
	for _, e := range matched {
		bal = bal.Add(e.PostingFor(id))
	}
	return bal
}

// TrialBalance snapshots every account's signed balance per currency up to
// the given month. SumByCurrency folds it for the zero check.
func (j *Journal) TrialBalance(at Month) map[AccountID]map[Currency]decimal.Decimal {
	totals := make(map[AccountID]map[Currency]decimal.Decimal)
	for _, e := range j.entries {
		if e.Month.After(at) {
			continue
		}
		for _, p := range e.Postings {
			byCur := totals[p.Account]
			if byCur == nil {
				byCur = make(map[Currency]decimal.Decimal)
				totals[p.Account] = byCur
			}
			byCur[p.Amount.Currency] = byCur[p.Amount.Currency].Add(p.Amount.Value)
		}
	}
	return totals
}

// SumByCurrency folds a trial balance into per-currency grand totals. A
// healthy journal sums to zero for every currency.
func SumByCurrency(tb map[AccountID]map[Currency]decimal.Decimal) map[Currency]decimal.Decimal {
	out := make(map[Currency]decimal.Decimal)
	for _, byCur := range tb {
		for cur, v := range byCur {
			out[cur] = out[cur].Add(v)
		}
	}
	return out
}

// Validate re-checks the zero-sum invariant across the whole journal.
func (j *Journal) Validate() error {
	for _, e := range j.entries {
		if residual := e.Postings[0].Amount.Value.Add(e.Postings[1].Amount.Value); !residual.IsZero() {
			return &UnbalancedEntryError{EntryID: e.ID, Currency: e.Currency(), Residual: Amount{Value: residual, Currency: e.Currency()}}
		}
	}
	return nil
}

// Registry exposes the chart of accounts the journal validates against.
func (j *Journal) Registry() *AccountRegistry { return j.registry }

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(a, b int) bool {
		if entries[a].Month != entries[b].Month {
			return entries[a].Month < entries[b].Month
		}
		return entries[a].Sequence < entries[b].Sequence
	})
}
