package ledger

import "fmt"

// =============================================================================
// ACCOUNTS - Scoped chart of accounts
// =============================================================================

// AccountScope separates the modeled world from its edge. Internal accounts
// (cash, securities, property, loans) hold state the scenario owns; boundary
// accounts (income, expense, equity) absorb flows crossing into or out of it.
type AccountScope int

const (
	ScopeInternal AccountScope = iota
	ScopeBoundary
)

func (s AccountScope) String() string {
	if s == ScopeBoundary {
		return "boundary"
	}
	return "internal"
}

type AccountType int

const (
	AccountAsset AccountType = iota
	AccountLiability
	AccountIncome
	AccountExpense
	AccountEquity
)

func (t AccountType) String() string {
	switch t {
	case AccountAsset:
		return "asset"
	case AccountLiability:
		return "liability"
	case AccountIncome:
		return "income"
	case AccountExpense:
		return "expense"
	default:
		return "equity"
	}
}

type AccountID string

type Account struct {
	ID       AccountID
	Name     string
	Type     AccountType
	Scope    AccountScope
	Currency Currency
}

func (a Account) IsInternal() bool { return a.Scope == ScopeInternal }
func (a Account) IsBoundary() bool { return a.Scope == ScopeBoundary }

// =============================================================================
// ACCOUNT REGISTRY
// =============================================================================

// AccountRegistry holds the chart of accounts for one scenario run. It is
// built once by the orchestrator and read-only afterwards; registration
// order is preserved so exports are stable.
type AccountRegistry struct {
	accounts map[AccountID]Account
	order    []AccountID
}

func NewAccountRegistry() *AccountRegistry {
	return &AccountRegistry{accounts: make(map[AccountID]Account)}
}

func (r *AccountRegistry) Register(a Account) error {
	if a.ID == "" {
		return Configf("", "account.id", "must not be empty")
	}
	if _, exists := r.accounts[a.ID]; exists {
		return fmt.Errorf("account %q: %w", a.ID, ErrDuplicateAccount)
	}
	r.accounts[a.ID] = a
	r.order = append(r.order, a.ID)
	return nil
}

func (r *AccountRegistry) Lookup(id AccountID) (Account, bool) {
	a, ok := r.accounts[id]
	return a, ok
}

// Accounts returns all accounts in registration order.
func (r *AccountRegistry) Accounts() []Account {
	out := make([]Account, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.accounts[id])
	}
	return out
}

// InternalAccounts returns the internal subset in registration order.
func (r *AccountRegistry) InternalAccounts() []Account {
	var out []Account
	for _, id := range r.order {
		if a := r.accounts[id]; a.IsInternal() {
			out = append(out, a)
		}
	}
	return out
}

// ValidateTransferAccounts enforces that a transfer connects two internal
// accounts. Transfers relocate money inside the modeled world; anything
// crossing the boundary is a flow, not a transfer.
func (r *AccountRegistry) ValidateTransferAccounts(from, to AccountID) error {
	fa, ok := r.accounts[from]
	if !ok {
		return fmt.Errorf("transfer source %q: %w", from, ErrUnknownAccount)
	}
	ta, ok := r.accounts[to]
	if !ok {
		return fmt.Errorf("transfer destination %q: %w", to, ErrUnknownAccount)
	}
	if !fa.IsInternal() {
		return fmt.Errorf("transfer source %q is %s: %w", from, fa.Scope, ErrScopeViolation)
	}
	if !ta.IsInternal() {
		return fmt.Errorf("transfer destination %q is %s: %w", to, ta.Scope, ErrScopeViolation)
	}
	if from == to {
		return fmt.Errorf("transfer source and destination are both %q: %w", from, ErrScopeViolation)
	}
	return nil
}

// ValidateFlowAccounts enforces that a flow connects one boundary account to
// one internal settlement account.
func (r *AccountRegistry) ValidateFlowAccounts(boundary, internal AccountID) error {
	ba, ok := r.accounts[boundary]
	if !ok {
		return fmt.Errorf("flow boundary %q: %w", boundary, ErrUnknownAccount)
	}
	ia, ok := r.accounts[internal]
	if !ok {
		return fmt.Errorf("flow settlement %q: %w", internal, ErrUnknownAccount)
	}
	if !ba.IsBoundary() {
		return fmt.Errorf("flow boundary %q is %s: %w", boundary, ba.Scope, ErrScopeViolation)
	}
	if !ia.IsInternal() {
		return fmt.Errorf("flow settlement %q is %s: %w", internal, ia.Scope, ErrScopeViolation)
	}
	return nil
}
