package conditions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clause keys with reserved meaning. Any other key is treated as an
// entity ID (or trigger name) whose value is compared against the
// current state.
const (
	KeyAnd     = "and"
	KeyOr      = "or"
	KeyNot     = "not"
	KeyAfter   = "after"
	KeyBefore  = "before"
	KeyBetween = "between"
	KeyTag     = "tag"
	KeyKind    = "kind"
)

// Kind selects where entity comparisons read their left-hand value from.
const (
	KindState   = "state"   // query current entity state (default)
	KindTrigger = "trigger" // use the triggering value passed in the context
)

// clockLayout is the wall-clock format used by after/before/between.
const clockLayout = "15:04:05"

// Sentinel errors.
var (
	// ErrInvalidOperator is returned for an unknown boolean composition
	// operator. This aborts evaluation of the whole clause tree.
	ErrInvalidOperator = errors.New("conditions: invalid operator")

	// ErrMalformedClause is returned when a clause value has the wrong shape
	// (e.g. a non-list under "and", an unparseable time).
	ErrMalformedClause = errors.New("conditions: malformed clause")
)

// Clause is one declarative boolean clause. Keys are either reserved
// (and/or/not/after/before/between/tag/kind) or entity IDs. This shape
// decodes directly from YAML.
type Clause map[string]any

// StateFunc reads the current state of a named entity.
type StateFunc func(entityID string) (string, error)

// Context is the snapshot of named values a clause tree is evaluated
// against.
type Context struct {
	// Now is the wall-clock instant for time-window clauses.
	Now time.Time

	// Tags is the tag set of the event under evaluation (may be nil).
	Tags map[string]struct{}

	// Triggers maps entity ID to the value that triggered this
	// evaluation, for clauses with kind "trigger" (may be nil).
	Triggers map[string]string

	// GetState reads entity state for clauses with kind "state".
	// Required whenever a clause names an entity.
	GetState StateFunc
}

// Evaluate evaluates a clause list against the context.
//
// Clauses in the list are combined with AND; an empty list is true.
// Within a clause, reserved keys compose sub-clauses (and/or/not),
// compare wall-clock time (after/before/between) or test tag
// membership (tag). Any other key compares the named entity's state:
// a value with a numeric prefix operator ("<= 21.5", "> 300") is a
// numeric comparison, anything else is string equality.
//
// Returns:
//   - bool: The truth value of the clause tree
//   - error: ErrInvalidOperator or ErrMalformedClause (tree aborted)
func Evaluate(clauses []Clause, ctx Context) (bool, error) {
	return evaluate(clauses, ctx, KeyAnd)
}

func evaluate(clauses []Clause, ctx Context, operator string) (bool, error) {
	var value *bool

	for _, clause := range clauses {
		kind := KindState
		if k, ok := clause[KeyKind].(string); ok {
			kind = k
		}

		for key, raw := range clause {
			if key == KeyKind {
				continue
			}

			result, err := evaluateKey(key, raw, ctx, kind)
			if err != nil {
				return false, err
			}

			switch {
			case value == nil:
				v := result
				value = &v
			case operator == KeyAnd:
				*value = *value && result
			case operator == KeyOr:
				*value = *value || result
			default:
				return false, fmt.Errorf("%w: %q", ErrInvalidOperator, operator)
			}
		}
	}

	// An empty clause set is vacuously true.
	if value == nil {
		return true, nil
	}
	return *value, nil
}

func evaluateKey(key string, raw any, ctx Context, kind string) (bool, error) {
	switch key {
	case KeyAnd, KeyOr:
		sub, err := toClauseList(raw)
		if err != nil {
			return false, err
		}
		return evaluate(sub, ctx, key)

	case KeyNot:
		sub, err := toClauseList(raw)
		if err != nil {
			return false, err
		}
		result, err := evaluate(sub, ctx, KeyAnd)
		if err != nil {
			return false, err
		}
		return !result, nil

	case KeyAfter:
		clock, err := parseClock(raw)
		if err != nil {
			return false, err
		}
		return !clockOf(ctx.Now).Before(clock), nil

	case KeyBefore:
		clock, err := parseClock(raw)
		if err != nil {
			return false, err
		}
		return clockOf(ctx.Now).Before(clock), nil

	case KeyBetween:
		start, end, err := parseClockRange(raw)
		if err != nil {
			return false, err
		}
		now := clockOf(ctx.Now)
		if start.Before(end) {
			return !now.Before(start) && now.Before(end), nil
		}
		// Range wraps midnight.
		return !now.Before(start) || now.Before(end), nil

	case KeyTag:
		tag, ok := raw.(string)
		if !ok {
			return false, fmt.Errorf("%w: tag value must be a string", ErrMalformedClause)
		}
		_, present := ctx.Tags[tag]
		return present, nil

	default:
		return evaluateEntity(key, raw, ctx, kind)
	}
}

// evaluateEntity compares the state (or trigger value) of an entity
// against the clause value. Values prefixed with <=, <, >= or > are
// numeric comparisons; everything else is string equality.
func evaluateEntity(entityID string, raw any, ctx Context, kind string) (bool, error) {
	want, ok := raw.(string)
	if !ok {
		return false, fmt.Errorf("%w: state comparison for %q must be a string", ErrMalformedClause, entityID)
	}

	for _, op := range []string{"<=", ">=", "<", ">"} {
		if !strings.HasPrefix(want, op) {
			continue
		}

		rval, err := strconv.ParseFloat(strings.TrimSpace(want[len(op):]), 64)
		if err != nil {
			return false, fmt.Errorf("%w: numeric comparison %q: %w", ErrMalformedClause, want, err)
		}

		var current string
		if kind == KindTrigger {
			trigger, present := ctx.Triggers[entityID]
			if !present {
				return false, nil
			}
			current = trigger
		} else {
			var stateErr error
			current, stateErr = readState(ctx, entityID)
			if stateErr != nil {
				return false, stateErr
			}
		}

		lval, err := strconv.ParseFloat(current, 64)
		if err != nil {
			// Non-numeric state never satisfies a numeric comparison.
			return false, nil
		}

		switch op {
		case "<=":
			return lval <= rval, nil
		case "<":
			return lval < rval, nil
		case ">":
			return lval > rval, nil
		default: // >=
			return lval >= rval, nil
		}
	}

	if kind == KindTrigger {
		trigger, present := ctx.Triggers[entityID]
		return present && trigger == want, nil
	}

	current, err := readState(ctx, entityID)
	if err != nil {
		return false, err
	}
	return current == want, nil
}

func readState(ctx Context, entityID string) (string, error) {
	if ctx.GetState == nil {
		return "", fmt.Errorf("%w: no state reader for entity %q", ErrMalformedClause, entityID)
	}
	return ctx.GetState(entityID)
}

// ExtractEntities returns every entity ID referenced by a clause tree.
//
// Used by automations to discover which entities to watch for state
// changes. Time-window and tag clauses reference no entities; boolean
// composition recurses.
func ExtractEntities(clauses []Clause) []string {
	var entities []string
	for _, clause := range clauses {
		for key, raw := range clause {
			switch key {
			case KeyAnd, KeyOr, KeyNot:
				if sub, err := toClauseList(raw); err == nil {
					entities = append(entities, ExtractEntities(sub)...)
				}
			case KeyAfter, KeyBefore, KeyBetween, KeyTag, KeyKind:
				// No entity reference.
			default:
				entities = append(entities, key)
			}
		}
	}
	return entities
}

// toClauseList converts a decoded YAML value into a []Clause.
// Accepts []Clause directly, or the []any / map shapes yaml.v3 produces.
func toClauseList(raw any) ([]Clause, error) {
	switch v := raw.(type) {
	case []Clause:
		return v, nil
	case []any:
		clauses := make([]Clause, 0, len(v))
		for _, item := range v {
			clause, err := toClause(item)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, clause)
		}
		return clauses, nil
	case Clause, map[string]any:
		clause, err := toClause(v)
		if err != nil {
			return nil, err
		}
		return []Clause{clause}, nil
	default:
		return nil, fmt.Errorf("%w: expected clause list, got %T", ErrMalformedClause, raw)
	}
}

func toClause(raw any) (Clause, error) {
	switch v := raw.(type) {
	case Clause:
		return v, nil
	case map[string]any:
		return Clause(v), nil
	default:
		return nil, fmt.Errorf("%w: expected clause, got %T", ErrMalformedClause, raw)
	}
}

// parseClock parses a "HH:MM:SS" wall-clock value.
func parseClock(raw any) (time.Time, error) {
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: time value must be a string", ErrMalformedClause)
	}
	clock, err := time.Parse(clockLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: parsing time %q: %w", ErrMalformedClause, s, err)
	}
	return clock, nil
}

// parseClockRange parses a "HH:MM:SS-HH:MM:SS" range.
func parseClockRange(raw any) (start, end time.Time, err error) {
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: time range must be a string", ErrMalformedClause)
	}
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: time range %q must be start-end", ErrMalformedClause, s)
	}
	if start, err = parseClock(parts[0]); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end, err = parseClock(parts[1]); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// clockOf reduces an instant to its wall-clock time on the reference day
// used by parseClock, so Before/After comparisons see only time of day.
func clockOf(t time.Time) time.Time {
	clock, _ := time.Parse(clockLayout, t.Format(clockLayout))
	return clock
}
