/*
Package brick defines the declarative building blocks of a scenario.

PURPOSE:
  A Brick is a single financial instrument (a cash account, a mortgage, a
  salary, a transfer) described by a dotted kind string, a parameter map and
  an activation window. MacroBricks group bricks into named rollups for
  selection and reporting. The Registry owns both, validates references and
  caches the recursive expansion of groups to leaf bricks.

KEY CONCEPTS:
  - Family: the letter before the first dot (a/l/f/t) selects the strategy
    registry a brick is handled by
  - Window: bricks only produce entries between their start and end months
  - Value-copy ownership: registries hand out copies, scenarios clone their
    brick set, so no run can mutate another's configuration

SEE ALSO:
  - registry.go: validation, cycle detection, group flattening
  - spec.go: typed access to the parameter map
  - links.go: typed access to inter-brick relations
*/
package brick

import (
	"strings"

	"github.com/finbrick/scenario-engine/ledger"
)

// =============================================================================
// FAMILY / KIND
// =============================================================================

type Family string

const (
	FamilyAsset     Family = "a"
	FamilyLiability Family = "l"
	FamilyFlow      Family = "f"
	FamilyTransfer  Family = "t"
)

// Kind is a dotted taxonomy string, namespaced by family: "a.cash",
// "l.loan.annuity", "t.transfer.scheduled".
type Kind string

const (
	KindCash             Kind = "a.cash"
	KindProperty         Kind = "a.property"
	KindSecurityUnitized Kind = "a.security.unitized"

	KindLoanAnnuity Kind = "l.loan.annuity"
	KindLoanBalloon Kind = "l.loan.balloon"
	KindCreditLine  Kind = "l.credit.line"

	KindIncomeRecurring  Kind = "f.income.recurring"
	KindIncomeOnetime    Kind = "f.income.onetime"
	KindExpenseRecurring Kind = "f.expense.recurring"
	KindExpenseOnetime   Kind = "f.expense.onetime"

	KindTransferLumpsum   Kind = "t.transfer.lumpsum"
	KindTransferScheduled Kind = "t.transfer.scheduled"
	KindTransferRecurring Kind = "t.transfer.recurring"
)

// Family returns the taxonomy prefix, or "" for a malformed kind.
func (k Kind) Family() Family {
	head, _, found := strings.Cut(string(k), ".")
	if !found || len(head) != 1 {
		return ""
	}
	switch Family(head) {
	case FamilyAsset, FamilyLiability, FamilyFlow, FamilyTransfer:
		return Family(head)
	}
	return ""
}

func (k Kind) String() string { return string(k) }

// =============================================================================
// ACTIVATION WINDOW
// =============================================================================

// Window bounds a brick's activity on the axis. Start and End are optional;
// DurationM is an inclusive month count starting at the start month, so a
// duration of 12 starting in January ends in December. End and DurationM are
// mutually exclusive.
type Window struct {
	Start     *ledger.Month
	End       *ledger.Month
	DurationM int
}

// Resolve clamps the window to the axis and returns the first and last
// active axis indexes. ok is false when the window misses the axis entirely.
func (w Window) Resolve(axis ledger.Axis) (first, last int, ok bool, err error) {
	if w.End != nil && w.DurationM > 0 {
		return 0, 0, false, ledger.Configf("", "window", "end_date and duration_m are mutually exclusive")
	}
	if w.DurationM < 0 {
		return 0, 0, false, ledger.Configf("", "window.duration_m", "must be positive, got %d", w.DurationM)
	}
	start := axis.Start
	if w.Start != nil {
		start = *w.Start
	}
	end := axis.End()
	switch {
	case w.End != nil:
		end = *w.End
	case w.DurationM > 0:
		end = start.Add(w.DurationM - 1)
	}
	if end.Before(start) {
		return 0, 0, false, ledger.Configf("", "window", "ends %s before it starts %s", end, start)
	}
	if end.Before(axis.Start) || start.After(axis.End()) {
		return 0, 0, false, nil
	}
	if start.Before(axis.Start) {
		start = axis.Start
	}
	if end.After(axis.End()) {
		end = axis.End()
	}
	first, _ = axis.Index(start)
	last, _ = axis.Index(end)
	return first, last, true, nil
}

// =============================================================================
// BRICK
// =============================================================================

type Brick struct {
	ID     string
	Name   string
	Kind   Kind
	Spec   Spec
	Links  Links
	Window Window
}

func (b Brick) Family() Family { return b.Kind.Family() }

// Clone deep-copies the brick so scenarios own their configuration and
// cannot observe later mutation of the source.
func (b Brick) Clone() Brick {
	out := b
	out.Spec = b.Spec.clone()
	out.Links = b.Links.clone()
	if b.Window.Start != nil {
		s := *b.Window.Start
		out.Window.Start = &s
	}
	if b.Window.End != nil {
		e := *b.Window.End
		out.Window.End = &e
	}
	return out
}

// =============================================================================
// MACROBRICK
// =============================================================================

// MacroBrick is a named group over brick or macrobrick ids. Membership forms
// a DAG; the registry rejects cycles and bounds nesting depth.
type MacroBrick struct {
	ID      string
	Name    string
	Members []string
}

func (m MacroBrick) Clone() MacroBrick {
	out := m
	out.Members = append([]string(nil), m.Members...)
	return out
}
