package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
)

// Canned phrases for expressions that show up constantly in practice.
var wellKnown = map[string]string{
	"* * * * *":    "Every minute",
	"*/5 * * * *":  "Every 5 minutes",
	"*/15 * * * *": "Every 15 minutes",
	"*/30 * * * *": "Every 30 minutes",
	"0 * * * *":    "Every hour, on the hour",
	"0 0 * * *":    "Every day at 00:00",
	"0 0 * * 0":    "Every Sunday at 00:00",
	"0 0 1 * *":    "At 00:00 on the first day of every month",
}

var weekdayNames = [7]string{
	"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday",
}

var monthNames = [13]string{
	"", "January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// Describe parses expr and returns a human-readable description.
func Describe(expr string) (string, error) {
	e, err := Parse(expr)
	if err != nil {
		return "", err
	}
	return e.Describe(), nil
}

// Describe renders a best-effort English description of the expression.
// Well-known expressions map to canned phrases; everything else is assembled
// from per-field fragments (time of day, weekday names, day of month, month
// names). Not guaranteed grammatically exhaustive for all five fields at
// once.
func (e *Expression) Describe() string {
	if s, ok := wellKnown[e.raw]; ok {
		return s
	}

	var parts []string

	parts = append(parts, e.timeFragment())

	if frag := e.dowFragment(); frag != "" {
		parts = append(parts, frag)
	}
	if frag := e.domFragment(); frag != "" {
		parts = append(parts, frag)
	}
	if frag := e.monthFragment(); frag != "" {
		parts = append(parts, frag)
	}

	return strings.Join(parts, " ")
}

func (e *Expression) timeFragment() string {
	// Step minutes read better as an interval.
	if strings.HasPrefix(e.fields[0], "*/") {
		if n, err := strconv.Atoi(e.fields[0][2:]); err == nil {
			if e.fields[1] == "*" {
				return fmt.Sprintf("Every %d minutes", n)
			}
			return fmt.Sprintf("Every %d minutes during hour %s", n, e.fields[1])
		}
	}

	minutes := e.minute.values(0, 59)
	hours := e.hour.values(0, 23)

	if len(minutes) == 1 && len(hours) == 1 {
		return fmt.Sprintf("At %02d:%02d", hours[0], minutes[0])
	}
	if len(minutes) == 1 && e.fields[1] == "*" {
		return fmt.Sprintf("At minute %d past every hour", minutes[0])
	}
	if len(minutes) == 1 && len(hours) > 1 {
		var hh []string
		for _, h := range hours {
			hh = append(hh, fmt.Sprintf("%02d:%02d", h, minutes[0]))
		}
		return "At " + joinList(hh)
	}
	return fmt.Sprintf("At minutes %s of hours %s", e.fields[0], e.fields[1])
}

func (e *Expression) dowFragment() string {
	if e.fields[4] == "*" {
		return ""
	}
	days := e.dow.values(0, 6)
	names := make([]string, 0, len(days))
	for _, d := range days {
		names = append(names, weekdayNames[d])
	}
	return "on " + joinList(names)
}

func (e *Expression) domFragment() string {
	if e.fields[2] == "*" {
		return ""
	}
	days := e.dom.values(1, 31)
	nums := make([]string, 0, len(days))
	for _, d := range days {
		nums = append(nums, strconv.Itoa(d))
	}
	if len(nums) == 1 {
		return "on day " + nums[0] + " of the month"
	}
	return "on days " + joinList(nums) + " of the month"
}

func (e *Expression) monthFragment() string {
	if e.fields[3] == "*" {
		return ""
	}
	months := e.month.values(1, 12)
	names := make([]string, 0, len(months))
	for _, m := range months {
		names = append(names, monthNames[m])
	}
	return "in " + joinList(names)
}

func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}
