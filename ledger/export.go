package ledger

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FLAT EXPORT - Transaction-level audit rows
// =============================================================================

// Row is one posting flattened for export: one journal entry produces two
// rows sharing the entry id, each carrying its counterpart account.
type Row struct {
	EntryID     string
	Month       Month
	Sequence    int
	Kind        EntryKind
	BrickID     string
	Account     string
	Counterpart string
	Currency    Currency
	Amount      decimal.Decimal
	Tags        string
}

// ExportRows flattens the journal into audit rows ordered by
// (month, sequence, posting position).
func ExportRows(j *Journal) []Row {
	entries := j.Entries()
	sortEntries(entries)
	rows := make([]Row, 0, len(entries)*2)
	for _, e := range entries {
		for i, p := range e.Postings {
			counterpart := e.Postings[1-i].Account
			rows = append(rows, Row{
				EntryID:     e.ID,
				Month:       e.Month,
				Sequence:    e.Sequence,
				Kind:        e.Kind,
				BrickID:     e.BrickID,
				Account:     string(p.Account),
				Counterpart: string(counterpart),
				Currency:    p.Amount.Currency,
				Amount:      p.Amount.Value,
				Tags:        strings.Join(e.Tags, "|"),
			})
		}
	}
	return rows
}

var exportHeader = []string{
	"entry_id", "month", "sequence", "kind", "brick_id",
	"account", "counterpart", "currency", "amount", "tags",
}

// WriteCSV streams the flattened journal as CSV, header first.
func WriteCSV(w io.Writer, j *Journal) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, r := range ExportRows(j) {
		record := []string{
			r.EntryID, r.Month.String(), strconv.Itoa(r.Sequence), string(r.Kind), r.BrickID,
			r.Account, r.Counterpart, string(r.Currency), r.Amount.String(), r.Tags,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
