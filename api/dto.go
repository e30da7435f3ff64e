/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers and the domain, not in DTOs. DTOs are
  pure data carriers. Money travels as exact decimal strings, never as
  floats.

SEE ALSO:
  - handlers.go: Uses these types
  - scenario/scenario.go: The domain model these map onto
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/finbrick/scenario-engine/brick"
	"github.com/finbrick/scenario-engine/ledger"
	"github.com/finbrick/scenario-engine/scenario"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// RunScenarioRequest is the full scenario definition a client submits.
type RunScenarioRequest struct {
	ID                string     `json:"id"`
	Name              string     `json:"name,omitempty"`
	Base              string     `json:"base_currency,omitempty"`
	Start             string     `json:"start"`
	Months            int        `json:"months"`
	DefaultSettlement string     `json:"default_settlement,omitempty"`
	LiquidityFloor    string     `json:"liquidity_floor,omitempty"`
	ValidationMode    string     `json:"validation,omitempty"`
	Bricks            []BrickDTO `json:"bricks"`
	Macros            []MacroDTO `json:"macros,omitempty"`
}

// BrickDTO is the wire form of one brick.
type BrickDTO struct {
	ID     string         `json:"id"`
	Name   string         `json:"name,omitempty"`
	Kind   string         `json:"kind"`
	Spec   map[string]any `json:"spec,omitempty"`
	Links  map[string]any `json:"links,omitempty"`
	Window *WindowDTO     `json:"window,omitempty"`
}

// WindowDTO bounds a brick's activity. Months are "2006-01" strings.
type WindowDTO struct {
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
	DurationM int    `json:"duration_m,omitempty"`
}

// MacroDTO groups member bricks under a selectable id.
type MacroDTO struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Members []string `json:"members"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// RunResponse is returned by POST /api/scenarios/run.
type RunResponse struct {
	RunID      string     `json:"run_id"`
	ScenarioID string     `json:"scenario_id"`
	Start      string     `json:"start"`
	Months     int        `json:"months"`
	Base       string     `json:"base_currency"`
	Issues     []IssueDTO `json:"issues"`
	Events     []EventDTO `json:"events"`

	// Table carries the default monthly projection on run creation and is
	// omitted from stored-run lookups.
	Table *TableResponse `json:"table,omitempty"`
}

// IssueDTO is one validation finding.
type IssueDTO struct {
	Category string `json:"category"`
	Brick    string `json:"brick,omitempty"`
	Period   string `json:"period,omitempty"`
	Detail   string `json:"detail"`
}

// EventDTO is one lifecycle event from the simulation.
type EventDTO struct {
	Month  string `json:"month"`
	Kind   string `json:"kind"`
	Brick  string `json:"brick"`
	Detail string `json:"detail,omitempty"`
}

// TableResponse is a report table. Numbers travel as exact decimal strings.
type TableResponse struct {
	RunID    string        `json:"run_id"`
	Currency string        `json:"currency"`
	Rows     []TableRowDTO `json:"rows"`
}

type TableRowDTO struct {
	Period      string `json:"period"`
	CashIn      string `json:"cash_in"`
	CashOut     string `json:"cash_out"`
	NetCF       string `json:"net_cf"`
	Cash        string `json:"cash"`
	NonCash     string `json:"non_cash"`
	Assets      string `json:"assets"`
	Liabilities string `json:"liabilities"`
	Equity      string `json:"equity"`
}

// LedgerRowDTO is one posting of the stored journal.
type LedgerRowDTO struct {
	EntryID     string `json:"entry_id"`
	Month       string `json:"month"`
	Sequence    int    `json:"sequence"`
	Kind        string `json:"kind"`
	Brick       string `json:"brick"`
	Account     string `json:"account"`
	Counterpart string `json:"counterpart"`
	Currency    string `json:"currency"`
	Amount      string `json:"amount"`
}

// RunSummaryDTO is run metadata for listings.
type RunSummaryDTO struct {
	RunID      string `json:"run_id"`
	ScenarioID string `json:"scenario_id"`
	Start      string `json:"start"`
	Months     int    `json:"months"`
	Base       string `json:"base_currency"`
	CreatedAt  string `json:"created_at"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPING
// =============================================================================

// toScenario builds the domain scenario from the request.
func (req *RunScenarioRequest) toScenario() (*scenario.Scenario, error) {
	start, err := ledger.ParseMonth(req.Start)
	if err != nil {
		return nil, err
	}

	reg := brick.NewRegistry()
	for _, dto := range req.Bricks {
		b := brick.Brick{
			ID:    dto.ID,
			Name:  dto.Name,
			Kind:  brick.Kind(dto.Kind),
			Spec:  brick.Spec(dto.Spec),
			Links: brick.Links(dto.Links),
		}
		if dto.Window != nil {
			w, err := dto.Window.toWindow(dto.ID)
			if err != nil {
				return nil, err
			}
			b.Window = w
		}
		if err := reg.AddBrick(b); err != nil {
			return nil, err
		}
	}
	for _, dto := range req.Macros {
		if err := reg.AddMacro(brick.MacroBrick{ID: dto.ID, Name: dto.Name, Members: dto.Members}); err != nil {
			return nil, err
		}
	}

	s := &scenario.Scenario{
		ID:                req.ID,
		Name:              req.Name,
		Base:              ledger.Currency(req.Base),
		Start:             start,
		Months:            req.Months,
		DefaultSettlement: req.DefaultSettlement,
		Registry:          reg,
	}
	if req.LiquidityFloor != "" {
		floor, err := decimal.NewFromString(req.LiquidityFloor)
		if err != nil {
			return nil, ledger.Configf("", "liquidity_floor", "bad decimal %q", req.LiquidityFloor)
		}
		s.LiquidityFloor = floor
	}
	return s, nil
}

func (w *WindowDTO) toWindow(brickID string) (brick.Window, error) {
	var out brick.Window
	if w.Start != "" {
		m, err := ledger.ParseMonth(w.Start)
		if err != nil {
			return out, ledger.Configf(brickID, "window.start", "bad month %q", w.Start)
		}
		out.Start = &m
	}
	if w.End != "" {
		m, err := ledger.ParseMonth(w.End)
		if err != nil {
			return out, ledger.Configf(brickID, "window.end", "bad month %q", w.End)
		}
		out.End = &m
	}
	out.DurationM = w.DurationM
	return out, nil
}

func toIssueDTOs(issues []scenario.Issue) []IssueDTO {
	out := make([]IssueDTO, len(issues))
	for i, issue := range issues {
		out[i] = IssueDTO{Category: issue.Category, Brick: issue.Brick, Period: issue.Period, Detail: issue.Detail}
	}
	return out
}

func toTableResponse(runID string, table scenario.Table) TableResponse {
	rows := make([]TableRowDTO, len(table.Rows))
	for i, r := range table.Rows {
		rows[i] = TableRowDTO{
			Period:      r.Period,
			CashIn:      r.CashIn.String(),
			CashOut:     r.CashOut.String(),
			NetCF:       r.NetCF.String(),
			Cash:        r.Cash.String(),
			NonCash:     r.NonCash.String(),
			Assets:      r.Assets.String(),
			Liabilities: r.Liabilities.String(),
			Equity:      r.Equity.String(),
		}
	}
	return TableResponse{RunID: runID, Currency: string(table.Currency), Rows: rows}
}

func toLedgerRowDTOs(rows []ledger.Row) []LedgerRowDTO {
	out := make([]LedgerRowDTO, len(rows))
	for i, r := range rows {
		out[i] = LedgerRowDTO{
			EntryID:     r.EntryID,
			Month:       r.Month.String(),
			Sequence:    r.Sequence,
			Kind:        string(r.Kind),
			Brick:       r.BrickID,
			Account:     string(r.Account),
			Counterpart: string(r.Counterpart),
			Currency:    string(r.Currency),
			Amount:      r.Amount.String(),
		}
	}
	return out
}
