/*
registry.go - Brick and MacroBrick ownership with build-time validation

PURPOSE:
  The registry is assembled once per scenario, validated once, and then
  read-only. Validation is front-loaded: unknown member ids, membership
  cycles and excessive nesting are all caught when Validate runs, never
  during a simulation step or a report query. Group expansion is cached at
  validation time so reporting selections flatten in O(1).
*/
package brick

import (
	"fmt"
	"sort"
	"strings"
)

// MaxNesting bounds macrobrick nesting depth. Deep nesting is always a
// modeling mistake; the limit turns runaway recursion into a build error.
const MaxNesting = 64

// =============================================================================
// BUILD ERROR - Aggregated problems with a capped preview
// =============================================================================

const problemPreview = 10

// BuildError aggregates everything wrong with a registry or selection so a
// catalog author sees all problems at once instead of one per rebuild.
type BuildError struct {
	ScenarioID string
	Problems   []string
}

func (e *BuildError) Error() string {
	n := len(e.Problems)
	shown := e.Problems
	if n > problemPreview {
		shown = shown[:problemPreview]
	}
	msg := strings.Join(shown, "; ")
	if n > problemPreview {
		msg = fmt.Sprintf("%s; +%d more", msg, n-problemPreview)
	}
	if e.ScenarioID != "" {
		return fmt.Sprintf("scenario %q: %d problem(s): %s", e.ScenarioID, n, msg)
	}
	return fmt.Sprintf("%d problem(s): %s", n, msg)
}

// =============================================================================
// REGISTRY
// =============================================================================

type Registry struct {
	bricks map[string]Brick
	macros map[string]MacroBrick
	order  []string

	// flat caches macro id -> sorted leaf brick ids, built by Validate.
	flat      map[string][]string
	validated bool
}

func NewRegistry() *Registry {
	return &Registry{
		bricks: make(map[string]Brick),
		macros: make(map[string]MacroBrick),
	}
}

func (r *Registry) AddBrick(b Brick) error {
	if b.ID == "" {
		return &BuildError{Problems: []string{"brick with empty id"}}
	}
	if _, dup := r.bricks[b.ID]; dup {
		return &BuildError{Problems: []string{"duplicate brick id " + b.ID}}
	}
	if _, dup := r.macros[b.ID]; dup {
		return &BuildError{Problems: []string{"brick id " + b.ID + " already used by a macrobrick"}}
	}
	if b.Family() == "" {
		return &BuildError{Problems: []string{fmt.Sprintf("brick %s: unknown kind family in %q", b.ID, b.Kind)}}
	}
	r.bricks[b.ID] = b.Clone()
	r.order = append(r.order, b.ID)
	r.validated = false
	return nil
}

func (r *Registry) AddMacro(m MacroBrick) error {
	if m.ID == "" {
		return &BuildError{Problems: []string{"macrobrick with empty id"}}
	}
	if _, dup := r.macros[m.ID]; dup {
		return &BuildError{Problems: []string{"duplicate macrobrick id " + m.ID}}
	}
	if _, dup := r.bricks[m.ID]; dup {
		return &BuildError{Problems: []string{"macrobrick id " + m.ID + " already used by a brick"}}
	}
	r.macros[m.ID] = m.Clone()
	r.order = append(r.order, m.ID)
	r.validated = false
	return nil
}

// Brick returns a copy; callers can never mutate registry state through it.
func (r *Registry) Brick(id string) (Brick, bool) {
	b, ok := r.bricks[id]
	if !ok {
		return Brick{}, false
	}
	return b.Clone(), true
}

func (r *Registry) Macro(id string) (MacroBrick, bool) {
	m, ok := r.macros[id]
	if !ok {
		return MacroBrick{}, false
	}
	return m.Clone(), true
}

// Bricks returns all bricks in registration order.
func (r *Registry) Bricks() []Brick {
	out := make([]Brick, 0, len(r.bricks))
	for _, id := range r.order {
		if b, ok := r.bricks[id]; ok {
			out = append(out, b.Clone())
		}
	}
	return out
}

// Macros returns all macrobricks in registration order.
func (r *Registry) Macros() []MacroBrick {
	out := make([]MacroBrick, 0, len(r.macros))
	for _, id := range r.order {
		if m, ok := r.macros[id]; ok {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Validate checks every membership reference, rejects cycles and excessive
// nesting, and caches the flattened leaf sets. It aggregates all problems
// into one BuildError instead of stopping at the first.
func (r *Registry) Validate() error {
	var problems []string

	for _, id := range r.order {
		m, isMacro := r.macros[id]
		if !isMacro {
			continue
		}
		for _, member := range m.Members {
			_, isBrick := r.bricks[member]
			_, isNested := r.macros[member]
			if !isBrick && !isNested {
				problems = append(problems, fmt.Sprintf("macrobrick %s: unknown member %s", id, member))
			}
		}
	}

	flat := make(map[string][]string, len(r.macros))
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(r.macros))

	var walk func(id string, depth int) []string
	walk = func(id string, depth int) []string {
		if depth > MaxNesting {
			problems = append(problems, fmt.Sprintf("macrobrick %s: nesting exceeds %d levels", id, MaxNesting))
			return nil
		}
		if _, isBrick := r.bricks[id]; isBrick {
			return []string{id}
		}
		m, isMacro := r.macros[id]
		if !isMacro {
			return nil
		}
		switch state[id] {
		case visiting:
			problems = append(problems, "macrobrick membership cycle through "+id)
			return nil
		case done:
			return flat[id]
		}
		state[id] = visiting
		seen := make(map[string]struct{})
		var leaves []string
		for _, member := range m.Members {
			for _, leaf := range walk(member, depth+1) {
				if _, dup := seen[leaf]; !dup {
					seen[leaf] = struct{}{}
					leaves = append(leaves, leaf)
				}
			}
		}
		sort.Strings(leaves)
		state[id] = done
		flat[id] = leaves
		return leaves
	}

	for id := range r.macros {
		walk(id, 0)
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return &BuildError{Problems: problems}
	}
	r.flat = flat
	r.validated = true
	return nil
}

// Flatten expands a brick or macrobrick id to its sorted leaf brick ids.
// The registry must have validated successfully first.
func (r *Registry) Flatten(id string) ([]string, error) {
	if _, isBrick := r.bricks[id]; isBrick {
		return []string{id}, nil
	}
	if !r.validated {
		return nil, &BuildError{Problems: []string{"registry not validated before flatten"}}
	}
	leaves, ok := r.flat[id]
	if !ok {
		return nil, &BuildError{Problems: []string{"unknown brick or macrobrick id " + id}}
	}
	return append([]string(nil), leaves...), nil
}

// FlattenAll expands a selection of ids into a deduplicated, sorted leaf
// set, aggregating unknown ids into one BuildError.
func (r *Registry) FlattenAll(ids []string) ([]string, error) {
	var problems []string
	seen := make(map[string]struct{})
	var leaves []string
	for _, id := range ids {
		expanded, err := r.Flatten(id)
		if err != nil {
			problems = append(problems, "unknown brick or macrobrick id "+id)
			continue
		}
		for _, leaf := range expanded {
			if _, dup := seen[leaf]; !dup {
				seen[leaf] = struct{}{}
				leaves = append(leaves, leaf)
			}
		}
	}
	if len(problems) > 0 {
		return nil, &BuildError{Problems: problems}
	}
	sort.Strings(leaves)
	return leaves, nil
}

// =============================================================================
// OVERLAP REPORTING
// =============================================================================

// Overlap names two macrobricks sharing leaf bricks. Overlapping rollups
// are legal but double-count in side-by-side reports, so they are surfaced.
type Overlap struct {
	MacroA string
	MacroB string
	Shared []string
}

// Overlaps reports every pair of macrobricks with a non-empty leaf
// intersection, ordered by id pair.
func (r *Registry) Overlaps() []Overlap {
	ids := make([]string, 0, len(r.macros))
	for id := range r.macros {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Overlap
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			shared := intersect(r.flat[ids[i]], r.flat[ids[j]])
			if len(shared) > 0 {
				out = append(out, Overlap{MacroA: ids[i], MacroB: ids[j], Shared: shared})
			}
		}
	}
	return out
}

// Disjoint reports whether the given macrobricks share no leaf bricks,
// returning the shared ids when they do.
func (r *Registry) Disjoint(ids ...string) (bool, []string) {
	counts := make(map[string]int)
	for _, id := range ids {
		leaves, err := r.Flatten(id)
		if err != nil {
			continue
		}
		for _, leaf := range leaves {
			counts[leaf]++
		}
	}
	var shared []string
	for leaf, n := range counts {
		if n > 1 {
			shared = append(shared, leaf)
		}
	}
	sort.Strings(shared)
	return len(shared) == 0, shared
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	var out []string
	for _, s := range b {
		if _, ok := set[s]; ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
