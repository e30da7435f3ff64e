package brick

import (
	"github.com/shopspring/decimal"

	"github.com/finbrick/scenario-engine/ledger"
)

// =============================================================================
// LINKS - Named relations between bricks
// =============================================================================

// Links names the relations a brick has to other bricks. Well-known names:
//
//	"from", "to"            transfer endpoints (cash brick ids)
//	"route.to", "route.from" cash routing: a brick id, or a weight map
//	"principal.from_house"  size a loan from a linked property purchase
//	"start.after"           chain the window start to another brick's end
//
// Values are either a plain brick id or a map, mirroring the catalog form.
type Links map[string]any

func (l Links) clone() Links {
	if l == nil {
		return nil
	}
	out := make(Links, len(l))
	for k, v := range l {
		out[k] = cloneValue(v)
	}
	return out
}

func (l Links) Has(name string) bool {
	_, ok := l[name]
	return ok
}

// ID reads a relation whose value is a single brick id.
func (l Links) ID(name string) (string, bool) {
	v, ok := l[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Route reads a routing relation as a weight map. A bare brick id becomes a
// single full-weight target; weight maps are returned raw, normalization and
// target validation happen at routing time.
func (l Links) Route(brickID, name string) (map[string]decimal.Decimal, error) {
	v, ok := l[name]
	if !ok {
		return nil, nil
	}
	switch t := v.(type) {
	case string:
		return map[string]decimal.Decimal{t: decimal.NewFromInt(1)}, nil
	case map[string]any:
		out := make(map[string]decimal.Decimal, len(t))
		for target, w := range t {
			d, err := coerceWeight(w)
			if err != nil {
				return nil, ledger.Configf(brickID, name+"."+target, "bad weight: %v", err)
			}
			out[target] = d
		}
		return out, nil
	default:
		return nil, ledger.Configf(brickID, name, "expected brick id or weight map, got %T", v)
	}
}

func coerceWeight(v any) (decimal.Decimal, error) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case string:
		return decimal.NewFromString(t)
	default:
		return decimal.Zero, ledger.Configf("", "weight", "expected number, got %T", v)
	}
}
