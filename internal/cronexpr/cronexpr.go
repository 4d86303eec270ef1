// Package cronexpr implements a 5-field cron expression engine: parsing,
// instant matching, bounded next-run enumeration, and human-readable
// descriptions.
//
// Day-of-month and day-of-week are both applied (logical AND across all five
// fields). Traditional cron ORs that pair; here the stricter reading is kept
// so an instant matches only when every field matches.
package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field bounds, in field order: minute, hour, day-of-month, month, day-of-week.
var fieldBounds = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// searchBudgetPerRun bounds NextRuns to count*searchBudgetPerRun loop
// iterations so impossible expressions (e.g. Feb 30) terminate with fewer
// results instead of hanging.
const searchBudgetPerRun = 100

// bitset holds the admissible values of one cron field.
type bitset uint64

func (b bitset) has(v int) bool { return b&(1<<uint(v)) != 0 }
func (b *bitset) set(v int)     { *b |= 1 << uint(v) }

func (b bitset) count() int {
	n := 0
	for v := 0; v < 64; v++ {
		if b.has(v) {
			n++
		}
	}
	return n
}

// values lists the set members in ascending order within [min, max].
func (b bitset) values(min, max int) []int {
	var out []int
	for v := min; v <= max; v++ {
		if b.has(v) {
			out = append(out, v)
		}
	}
	return out
}

// Expression is a parsed 5-field cron expression.
type Expression struct {
	minute bitset
	hour   bitset
	dom    bitset
	month  bitset
	dow    bitset

	raw    string
	fields [5]string
}

// String returns the original expression text.
func (e *Expression) String() string { return e.raw }

// Parse parses a 5-field cron expression (minute hour day-of-month month
// day-of-week). Anything other than exactly 5 whitespace-separated fields is
// rejected.
func Parse(expr string) (*Expression, error) {
	fields := strings.Fields(strings.TrimSpace(expr))
	if len(fields) != 5 {
		return nil, fmt.Errorf("expected 5 fields, got %d in %q", len(fields), expr)
	}

	e := &Expression{raw: strings.Join(fields, " ")}
	copy(e.fields[:], fields)

	sets := [5]*bitset{&e.minute, &e.hour, &e.dom, &e.month, &e.dow}
	for i, f := range fields {
		b := fieldBounds[i]
		bs, err := parseField(f, b.min, b.max)
		if err != nil {
			return nil, fmt.Errorf("%s field: %w", b.name, err)
		}
		*sets[i] = bs
	}
	return e, nil
}

// Validate reports whether expr parses as a 5-field cron expression.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// parseField parses a single cron field into a bitset.
// Grammar: "*", exact values, ranges (a-b), steps (*/n, a-b/n, a/n), and
// comma-separated lists of any of those.
func parseField(field string, min, max int) (bitset, error) {
	var bs bitset
	for _, part := range strings.Split(field, ",") {
		pb, err := parseFieldPart(part, min, max)
		if err != nil {
			return 0, err
		}
		bs |= pb
	}
	if bs == 0 {
		return 0, fmt.Errorf("field %q produced empty set", field)
	}
	return bs, nil
}

func parseFieldPart(part string, min, max int) (bitset, error) {
	var bs bitset

	rangeExpr := part
	step := 1
	if idx := strings.Index(part, "/"); idx != -1 {
		var err error
		step, err = strconv.Atoi(part[idx+1:])
		if err != nil || step <= 0 {
			return 0, fmt.Errorf("invalid step in %q", part)
		}
		rangeExpr = part[:idx]
	}

	var lo, hi int
	switch {
	case rangeExpr == "*":
		lo, hi = min, max
	case strings.Contains(rangeExpr, "-"):
		rangeParts := strings.SplitN(rangeExpr, "-", 2)
		var err error
		lo, err = strconv.Atoi(rangeParts[0])
		if err != nil {
			return 0, fmt.Errorf("invalid range start in %q", part)
		}
		hi, err = strconv.Atoi(rangeParts[1])
		if err != nil {
			return 0, fmt.Errorf("invalid range end in %q", part)
		}
	default:
		val, err := strconv.Atoi(rangeExpr)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q", part)
		}
		if step > 1 {
			// "a/n": every n units starting at a.
			lo, hi = val, max
		} else {
			if val < min || val > max {
				return 0, fmt.Errorf("value %d out of range [%d, %d]", val, min, max)
			}
			bs.set(val)
			return bs, nil
		}
	}

	if lo < min || hi > max || lo > hi {
		return 0, fmt.Errorf("range %d-%d out of bounds [%d, %d]", lo, hi, min, max)
	}
	for v := lo; v <= hi; v += step {
		bs.set(v)
	}
	return bs, nil
}

// Matches reports whether t matches the expression. All five fields must
// match t's corresponding component; seconds are ignored.
func (e *Expression) Matches(t time.Time) bool {
	return e.minute.has(t.Minute()) &&
		e.hour.has(t.Hour()) &&
		e.dom.has(t.Day()) &&
		e.month.has(int(t.Month())) &&
		e.dow.has(int(t.Weekday()))
}

// Matches parses expr and tests it against t.
func Matches(expr string, t time.Time) (bool, error) {
	e, err := Parse(expr)
	if err != nil {
		return false, err
	}
	return e.Matches(t), nil
}

// NextRuns returns up to count matching instants strictly after from,
// searching forward minute by minute. Whole days and months that cannot
// match are skipped in one step so realistic expressions resolve within the
// budget; the loop is hard-bounded to count*100 iterations, so an
// expression with no future match returns short rather than spinning.
func (e *Expression) NextRuns(from time.Time, count int) []time.Time {
	if count <= 0 {
		return nil
	}
	runs := make([]time.Time, 0, count)
	t := from.Truncate(time.Minute).Add(time.Minute)

	budget := count * searchBudgetPerRun
	for i := 0; i < budget && len(runs) < count; i++ {
		switch {
		case !e.month.has(int(t.Month())):
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
		case !e.dom.has(t.Day()) || !e.dow.has(int(t.Weekday())):
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
		case !e.hour.has(t.Hour()):
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
		case !e.minute.has(t.Minute()):
			t = t.Add(time.Minute)
		default:
			runs = append(runs, t)
			t = t.Add(time.Minute)
		}
	}
	return runs
}

// Next returns the first matching instant strictly after from, or the zero
// time if none is found within the search budget.
func (e *Expression) Next(from time.Time) time.Time {
	runs := e.NextRuns(from, 1)
	if len(runs) == 0 {
		return time.Time{}
	}
	return runs[0]
}

// NextRuns parses expr and enumerates matches after from.
func NextRuns(expr string, from time.Time, count int) ([]time.Time, error) {
	e, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	return e.NextRuns(from, count), nil
}

// Result is the eager outcome of inspecting an expression: validity plus,
// for valid expressions, the next 5 runs and a description.
type Result struct {
	Valid       bool        `json:"valid"`
	Error       string      `json:"error,omitempty"`
	NextRuns    []time.Time `json:"next_runs,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Inspect parses expr and, on success, computes the next 5 matching instants
// after now and a human-readable description. Any failure is reported via
// Valid=false rather than an error return.
func Inspect(expr string, now time.Time) Result {
	e, err := Parse(expr)
	if err != nil {
		return Result{Valid: false, Error: err.Error()}
	}
	return Result{
		Valid:       true,
		NextRuns:    e.NextRuns(now, 5),
		Description: e.Describe(),
	}
}
