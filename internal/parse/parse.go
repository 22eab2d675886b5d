// Package parse turns quick-add input like
//
//	buy milk tomorrow at 18:00 #errands !2 every week
//
// into structured task fields. Parsing is heuristic on purpose: tokens that
// match a known shape are consumed, everything else stays in the title.
package parse

import (
	"strconv"
	"strings"
	"time"
)

// ParsedInput holds the fields recognized in a quick-add input. Zero values mean
// the input did not mention the field.
type ParsedInput struct {
	Title          string   `json:"title"`
	TagNames       []string `json:"tagNames,omitempty"`
	Priority       int      `json:"priority,omitempty"`
	DueDate        string   `json:"dueDate,omitempty"`
	DueTime        string   `json:"dueTime,omitempty"`
	Recurring      bool     `json:"recurring,omitempty"`
	RecurrenceType string   `json:"recurrenceType,omitempty"`
	RecurrenceRule string   `json:"recurrenceRule,omitempty"`
}

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// QuickAdd parses one line of quick-add input. now anchors relative dates
// like "tomorrow"; only its date part matters.
func QuickAdd(input string, now time.Time) ParsedInput {
	var r ParsedInput
	tokens := strings.Fields(input)
	var title []string

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		lower := strings.ToLower(tok)

		switch {
		case strings.HasPrefix(tok, "#") && len(tok) > 1:
			r.TagNames = append(r.TagNames, strings.ToLower(strings.TrimPrefix(tok, "#")))
		case isPriorityToken(tok):
			r.Priority = int(tok[1] - '0')
		case lower == "today":
			r.DueDate = formatDate(now)
		case lower == "tomorrow":
			r.DueDate = formatDate(now.AddDate(0, 0, 1))
		case isWeekday(lower):
			r.DueDate = formatDate(nextWeekday(now, weekdays[lower]))
		case lower == "next" && i+1 < len(tokens) && strings.ToLower(tokens[i+1]) == "week":
			r.DueDate = formatDate(now.AddDate(0, 0, 7))
			i++
		case lower == "at" && i+1 < len(tokens) && isClockToken(tokens[i+1]):
			r.DueTime = normalizeClock(tokens[i+1])
			i++
		case lower == "every" && i+1 < len(tokens) && recurrenceOf(strings.ToLower(tokens[i+1])) != "":
			r.Recurring = true
			r.RecurrenceType = recurrenceOf(strings.ToLower(tokens[i+1]))
			r.RecurrenceRule = "every " + strings.ToLower(tokens[i+1])
			i++
		case lower == "daily" || lower == "weekly" || lower == "monthly":
			r.Recurring = true
			r.RecurrenceType = map[string]string{"daily": "daily", "weekly": "weekly", "monthly": "monthly"}[lower]
			r.RecurrenceRule = lower
		default:
			title = append(title, tok)
		}
	}

	r.Title = strings.Join(title, " ")
	return r
}

func isPriorityToken(tok string) bool {
	return len(tok) == 2 && tok[0] == '!' && tok[1] >= '1' && tok[1] <= '5'
}

func isWeekday(lower string) bool {
	_, ok := weekdays[lower]
	return ok
}

// nextWeekday returns the next occurrence of wd strictly after now's date.
func nextWeekday(now time.Time, wd time.Weekday) time.Time {
	ahead := (int(wd) - int(now.Weekday()) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	return now.AddDate(0, 0, ahead)
}

func isClockToken(tok string) bool {
	return normalizeClock(tok) != ""
}

// normalizeClock turns "9:30" or "14:05" into zero-padded HH:MM and returns
// "" for anything that is not a clock time.
func normalizeClock(tok string) string {
	parts := strings.SplitN(tok, ":", 2)
	if len(parts) != 2 {
		return ""
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ""
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return ""
	}
	return pad2(h) + ":" + pad2(m)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

func recurrenceOf(unit string) string {
	switch unit {
	case "day":
		return "daily"
	case "week":
		return "weekly"
	case "month":
		return "monthly"
	}
	return ""
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
