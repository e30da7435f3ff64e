package ledger

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *AccountRegistry {
	t.Helper()
	reg := NewAccountRegistry()
	accounts := []Account{
		{ID: "cash:main", Name: "Main Cash", Type: AccountAsset, Scope: ScopeInternal, Currency: EUR},
		{ID: "cash:savings", Name: "Savings", Type: AccountAsset, Scope: ScopeInternal, Currency: EUR},
		{ID: "loan:house", Name: "House Loan", Type: AccountLiability, Scope: ScopeInternal, Currency: EUR},
		{ID: "income:salary", Name: "Salary", Type: AccountIncome, Scope: ScopeBoundary, Currency: EUR},
		{ID: "equity:opening", Name: "Opening Balances", Type: AccountEquity, Scope: ScopeBoundary, Currency: EUR},
	}
	for _, a := range accounts {
		require.NoError(t, reg.Register(a))
	}
	return reg
}

func eur(s string) Amount { return Amount{Value: MustParseDecimal(s), Currency: EUR} }

func TestNewEntryRejectsUnbalancedPostings(t *testing.T) {
	_, err := NewEntry("e1", NewMonth(2026, time.January), KindFlow, "salary",
		Posting{Account: "income:salary", Amount: eur("-3000")},
		Posting{Account: "cash:main", Amount: eur("2999")},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnbalancedEntry)

	var ub *UnbalancedEntryError
	require.ErrorAs(t, err, &ub)
	assert.Equal(t, "-1", ub.Residual.Value.String())
}

func TestNewEntryRejectsMixedCurrencies(t *testing.T) {
	_, err := NewEntry("e1", NewMonth(2026, time.January), KindTransfer, "t1",
		Posting{Account: "cash:main", Amount: eur("-100")},
		Posting{Account: "cash:savings", Amount: Amount{Value: MustParseDecimal("100"), Currency: USD}},
	)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestJournalBalanceIsInsertionOrderIndependent(t *testing.T) {
	// GIVEN two journals receiving the same entries in different orders
	jan := NewMonth(2026, time.January)
	feb := jan.Add(1)

	mkEntries := func() []Entry {
		e1, err := NewEntry("open", jan, KindOpening, "cash",
			Posting{Account: "equity:opening", Amount: eur("-1000")},
			Posting{Account: "cash:main", Amount: eur("1000")})
		require.NoError(t, err)
		e2, err := NewEntry("salary:1", feb, KindFlow, "salary",
			Posting{Account: "income:salary", Amount: eur("-3000")},
			Posting{Account: "cash:main", Amount: eur("3000")})
		require.NoError(t, err)
		return []Entry{e1, e2}
	}

	forward := NewJournal(testRegistry(t))
	entries := mkEntries()
	require.NoError(t, forward.Post(entries[0]))
	require.NoError(t, forward.Post(entries[1]))

	reversed := NewJournal(testRegistry(t))
	entries = mkEntries()
	require.NoError(t, reversed.Post(entries[1]))
	require.NoError(t, reversed.Post(entries[0]))

	// THEN balances agree at every month
	for _, at := range []Month{jan, feb} {
		assert.True(t, forward.Balance("cash:main", at).Equal(reversed.Balance("cash:main", at)),
			"balance mismatch at %s", at)
	}
	assert.Equal(t, "4000", forward.Balance("cash:main", feb).String())
	assert.Equal(t, "1000", forward.Balance("cash:main", jan).String())
}

func TestJournalTrialBalanceIsZero(t *testing.T) {
	jan := NewMonth(2026, time.January)
	j := NewJournal(testRegistry(t))

	e, err := NewEntry("open", jan, KindOpening, "cash",
		Posting{Account: "equity:opening", Amount: eur("-2500.50")},
		Posting{Account: "cash:main", Amount: eur("2500.50")})
	require.NoError(t, err)
	require.NoError(t, j.Post(e))

	tb := j.TrialBalance(jan)
	require.Contains(t, tb, AccountID("cash:main"))
	assert.True(t, tb["cash:main"][EUR].Equal(decimal.RequireFromString("2500.50")))
	assert.True(t, tb["equity:opening"][EUR].Equal(decimal.RequireFromString("-2500.50")))

	totals := SumByCurrency(tb)
	require.Contains(t, totals, EUR)
	assert.True(t, totals[EUR].IsZero(), "trial balance must be zero, got %s", totals[EUR])
	require.NoError(t, j.Validate())
}

func TestRegistryRejectsDuplicateAccount(t *testing.T) {
	reg := testRegistry(t)
	err := reg.Register(Account{ID: "cash:main", Type: AccountAsset, Scope: ScopeInternal, Currency: EUR})
	assert.ErrorIs(t, err, ErrDuplicateAccount)
}

func TestJournalRejectsDuplicateEntryID(t *testing.T) {
	jan := NewMonth(2026, time.January)
	j := NewJournal(testRegistry(t))

	e, err := NewEntry("dup", jan, KindTransfer, "t1",
		Posting{Account: "cash:main", Amount: eur("-10")},
		Posting{Account: "cash:savings", Amount: eur("10")})
	require.NoError(t, err)
	require.NoError(t, j.Post(e))
	assert.Error(t, j.Post(e))
	assert.Equal(t, 1, j.Len())
}

func TestJournalRejectsUnknownAccount(t *testing.T) {
	jan := NewMonth(2026, time.January)
	j := NewJournal(testRegistry(t))

	e, err := NewEntry("e1", jan, KindTransfer, "t1",
		Posting{Account: "cash:main", Amount: eur("-10")},
		Posting{Account: "cash:missing", Amount: eur("10")})
	require.NoError(t, err)
	err = j.Post(e)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownAccount)
	assert.True(t, IsInvariant(err))
}

func TestEntrySequenceDisambiguatesSameMonth(t *testing.T) {
	jan := NewMonth(2026, time.January)
	j := NewJournal(testRegistry(t))

	for _, id := range []string{"a", "b", "c"} {
		e, err := NewEntry(id, jan, KindTransfer, "t1",
			Posting{Account: "cash:main", Amount: eur("-1")},
			Posting{Account: "cash:savings", Amount: eur("1")})
		require.NoError(t, err)
		require.NoError(t, j.Post(e))
	}

	got := j.EntriesInRange(jan, jan)
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{got[0].Sequence, got[1].Sequence, got[2].Sequence})
}

func TestExportRowsFlattenEntries(t *testing.T) {
	jan := NewMonth(2026, time.January)
	j := NewJournal(testRegistry(t))

	e, err := NewEntry("salary:0", jan, KindFlow, "salary",
		Posting{Account: "income:salary", Amount: eur("-3000")},
		Posting{Account: "cash:main", Amount: eur("3000")})
	require.NoError(t, err)
	require.NoError(t, j.Post(e))

	rows := ExportRows(j)
	require.Len(t, rows, 2)
	assert.Equal(t, "income:salary", rows[0].Account)
	assert.Equal(t, "cash:main", rows[0].Counterpart)
	assert.Equal(t, "cash:main", rows[1].Account)
	assert.Equal(t, "2026-01", rows[1].Month.String())
	assert.Equal(t, KindFlow, rows[1].Kind)
	assert.True(t, rows[1].Amount.Equal(decimal.NewFromInt(3000)))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, j))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "entry_id")
}

func TestTransferAccountValidation(t *testing.T) {
	reg := testRegistry(t)

	assert.NoError(t, reg.ValidateTransferAccounts("cash:main", "cash:savings"))
	assert.ErrorIs(t, reg.ValidateTransferAccounts("income:salary", "cash:main"), ErrScopeViolation, "boundary source must be rejected")
	assert.ErrorIs(t, reg.ValidateTransferAccounts("cash:main", "income:salary"), ErrScopeViolation, "boundary destination must be rejected")
	assert.ErrorIs(t, reg.ValidateTransferAccounts("cash:main", "cash:main"), ErrScopeViolation, "self transfer must be rejected")
	assert.ErrorIs(t, reg.ValidateTransferAccounts("cash:main", "cash:nope"), ErrUnknownAccount)
	assert.True(t, IsInvariant(reg.ValidateTransferAccounts("income:salary", "cash:main")))
}

func TestFlowAccountValidation(t *testing.T) {
	reg := testRegistry(t)

	assert.NoError(t, reg.ValidateFlowAccounts("income:salary", "cash:main"))
	assert.ErrorIs(t, reg.ValidateFlowAccounts("cash:savings", "cash:main"), ErrScopeViolation)
	assert.ErrorIs(t, reg.ValidateFlowAccounts("income:salary", "equity:opening"), ErrScopeViolation)
}

func TestCurrencyQuantization(t *testing.T) {
	cases := []struct {
		currency Currency
		in       string
		want     string
	}{
		{EUR, "2.345", "2.34"},  // banker's rounding, down to even
		{EUR, "2.355", "2.36"},  // banker's rounding, up to even
		{JPY, "100.6", "101"},   // zero minor units
		{EUR, "10.999", "11"},
	}
	for _, tc := range cases {
		got := tc.currency.Quantize(MustParseDecimal(tc.in))
		assert.True(t, got.Equal(MustParseDecimal(tc.want)),
			"%s %s: want %s, got %s", tc.currency, tc.in, tc.want, got)
	}
}

func TestMustParseDecimalPanicsOnGarbage(t *testing.T) {
	assert.Equal(t, "2.50", MustParseDecimal("2.50").StringFixed(2))
	assert.Panics(t, func() { MustParseDecimal("two fifty") })
}

func TestAmountCheckedArithmetic(t *testing.T) {
	a := eur("10.50")
	b := eur("4.25")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, "14.75", sum.Value.String())

	_, err = a.Add(Amount{Value: decimal.NewFromInt(1), Currency: USD})
	assert.ErrorIs(t, err, ErrCurrencyMismatch)

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "6.25", diff.Value.String())
}

func TestMonthAxis(t *testing.T) {
	start := NewMonth(2026, time.November)
	axis, err := NewAxis(start, 4)
	require.NoError(t, err)

	months := axis.Months()
	require.Len(t, months, 4)
	assert.Equal(t, "2026-11", months[0].String())
	assert.Equal(t, "2027-02", months[3].String()) // crosses the year boundary
	assert.Equal(t, months[3], axis.End())

	i, ok := axis.Index(NewMonth(2027, time.January))
	require.True(t, ok)
	assert.Equal(t, 2, i)
	_, ok = axis.Index(NewMonth(2027, time.March))
	assert.False(t, ok)

	_, err = NewAxis(start, 0)
	assert.ErrorIs(t, err, ErrConfig)

	parsed, err := ParseMonth("2027-02")
	require.NoError(t, err)
	assert.Equal(t, months[3], parsed)
}
