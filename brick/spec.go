package brick

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/finbrick/scenario-engine/ledger"
)

// =============================================================================
// SPEC - Typed access to the brick parameter map
// =============================================================================

// Spec is a brick's parameter map as it arrives from a catalog: loosely
// typed values keyed by parameter name. Strategies read it through Params,
// which attributes every failure to the owning brick and parameter.
type Spec map[string]any

func (s Spec) clone() Spec {
	if s == nil {
		return nil
	}
	out := make(Spec, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		l := make([]any, len(t))
		for i, e := range t {
			l[i] = cloneValue(e)
		}
		return l
	default:
		return v
	}
}

// Params wraps a brick's spec for fail-fast reads during prepare. Missing
// required parameters and type mismatches become configuration errors
// naming the brick and the offending key.
type Params struct {
	BrickID string
	spec    Spec
}

func (b Brick) Params() Params { return Params{BrickID: b.ID, spec: b.Spec} }

func (p Params) Has(key string) bool {
	_, ok := p.spec[key]
	return ok
}

// Decimal reads a required numeric parameter. Integers, floats, decimal
// values and numeric strings are all accepted; scenario catalogs are not
// picky about number representation.
func (p Params) Decimal(key string) (decimal.Decimal, error) {
	v, ok := p.spec[key]
	if !ok {
		return decimal.Zero, ledger.Configf(p.BrickID, key, "required parameter missing")
	}
	return p.coerceDecimal(key, v)
}

// DecimalOr reads an optional numeric parameter with a default.
func (p Params) DecimalOr(key string, def decimal.Decimal) (decimal.Decimal, error) {
	v, ok := p.spec[key]
	if !ok {
		return def, nil
	}
	return p.coerceDecimal(key, v)
}

func (p Params) coerceDecimal(key string, v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero, ledger.Configf(p.BrickID, key, "not a number: %q", t)
		}
		return d, nil
	default:
		return decimal.Zero, ledger.Configf(p.BrickID, key, "expected number, got %T", v)
	}
}

func (p Params) Int(key string) (int, error) {
	d, err := p.Decimal(key)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, ledger.Configf(p.BrickID, key, "expected integer, got %s", d)
	}
	return int(d.IntPart()), nil
}

func (p Params) IntOr(key string, def int) (int, error) {
	if !p.Has(key) {
		return def, nil
	}
	return p.Int(key)
}

func (p Params) String(key string) (string, error) {
	v, ok := p.spec[key]
	if !ok {
		return "", ledger.Configf(p.BrickID, key, "required parameter missing")
	}
	s, ok := v.(string)
	if !ok {
		return "", ledger.Configf(p.BrickID, key, "expected string, got %T", v)
	}
	return s, nil
}

func (p Params) StringOr(key, def string) (string, error) {
	if !p.Has(key) {
		return def, nil
	}
	return p.String(key)
}

func (p Params) BoolOr(key string, def bool) (bool, error) {
	v, ok := p.spec[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, ledger.Configf(p.BrickID, key, "expected bool, got %T", v)
	}
	return b, nil
}

// Months reads an optional list of "2006-01" month literals.
func (p Params) Months(key string) ([]ledger.Month, error) {
	v, ok := p.spec[key]
	if !ok {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, ledger.Configf(p.BrickID, key, "expected list of months, got %T", v)
	}
	out := make([]ledger.Month, 0, len(raw))
	for i, e := range raw {
		s, ok := e.(string)
		if !ok {
			return nil, ledger.Configf(p.BrickID, key, "entry %d: expected month string, got %T", i, e)
		}
		m, err := ledger.ParseMonth(s)
		if err != nil {
			return nil, ledger.Configf(p.BrickID, key, "entry %d: %v", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// DecimalMap reads an optional map of name -> number, used for weighted
// routing and price series.
func (p Params) DecimalMap(key string) (map[string]decimal.Decimal, error) {
	v, ok := p.spec[key]
	if !ok {
		return nil, nil
	}
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, ledger.Configf(p.BrickID, key, "expected map, got %T", v)
	}
	out := make(map[string]decimal.Decimal, len(raw))
	for name, e := range raw {
		d, err := p.coerceDecimal(fmt.Sprintf("%s.%s", key, name), e)
		if err != nil {
			return nil, err
		}
		out[name] = d
	}
	return out, nil
}
