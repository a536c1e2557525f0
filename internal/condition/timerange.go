package condition

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var days = [...]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

var hhmmRe = regexp.MustCompile(`^(\d{2}):(\d{2})$`)

// parseHHMM parses "HH:MM" into minutes since midnight, or (-1, false) if
// it isn't a valid 24-hour time.
func parseHHMM(value string) (int, bool) {
	m := hhmmRe.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return -1, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return -1, false
	}
	return hour*60 + minute, true
}

// normalizeDays lowercases/dedupes a day list, defaulting to every day when
// the rule didn't specify one.
func normalizeDays(raw []string) ([]string, bool) {
	if len(raw) == 0 {
		return append([]string{}, days[:]...), true
	}
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, d := range raw {
		day := strings.ToLower(strings.TrimSpace(d))
		if !isValidDay(day) {
			return nil, false
		}
		if !seen[day] {
			seen[day] = true
			out = append(out, day)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func isValidDay(d string) bool {
	for _, v := range days {
		if v == d {
			return true
		}
	}
	return false
}

// resolveLocation resolves "system" or an IANA zone id into a *time.Location.
func resolveLocation(tz string) (*time.Location, bool) {
	if tz == "" || tz == "system" {
		return time.Local, true
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, false
	}
	return loc, true
}

func weekdayName(t time.Time) string {
	switch t.Weekday() {
	case time.Monday:
		return "mon"
	case time.Tuesday:
		return "tue"
	case time.Wednesday:
		return "wed"
	case time.Thursday:
		return "thu"
	case time.Friday:
		return "fri"
	case time.Saturday:
		return "sat"
	default:
		return "sun"
	}
}

func evalTimeInRange(n TimeInRange, ctx Context) (bool, Trace) {
	startMin, okStart := parseHHMM(n.Start)
	endMin, okEnd := parseHHMM(n.End)
	if !okStart || !okEnd {
		return false, Trace{Op: OpTimeInRange, OK: false, Reason: "invalid_hhmm"}
	}
	if startMin == endMin {
		return false, Trace{Op: OpTimeInRange, OK: false, Reason: "start_equals_end"}
	}

	dayList, ok := normalizeDays(n.Days)
	if !ok {
		return false, Trace{Op: OpTimeInRange, OK: false, Reason: "invalid_days"}
	}

	loc, ok := resolveLocation(n.TZ)
	if !ok {
		return false, Trace{Op: OpTimeInRange, OK: false, Reason: "invalid_tz"}
	}

	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}
	local := now.In(loc)

	weekday := weekdayName(local)
	if !contains(dayList, weekday) {
		return false, Trace{Op: OpTimeInRange, OK: false, Reason: "wrong_weekday", Values: map[string]any{"weekday": weekday}}
	}

	currentMin := local.Hour()*60 + local.Minute()
	var ok2 bool
	if endMin > startMin {
		ok2 = currentMin >= startMin && currentMin < endMin
	} else {
		ok2 = currentMin >= startMin || currentMin < endMin
	}
	return ok2, Trace{Op: OpTimeInRange, OK: ok2, Values: map[string]any{
		"current_min": currentMin, "start_min": startMin, "end_min": endMin, "weekday": weekday,
	}}
}
