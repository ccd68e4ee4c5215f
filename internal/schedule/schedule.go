// Package schedule computes aligned wake times and quiet-window suppression.
// All decisions are on whole wall-clock minutes in the target's local zone.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"ratewatch/internal/utils"
)

// Window is a recurring daily [Start,End) range in minutes since midnight.
// Start > End means the window wraps midnight. Start == End disables it.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether a minute-of-day falls inside the window.
func (w Window) Contains(minuteOfDay int) bool {
	if w.Start == w.End {
		return false
	}
	if w.Start < w.End {
		return minuteOfDay >= w.Start && minuteOfDay < w.End
	}
	// Crosses midnight, e.g. 23:00 -> 07:00.
	return minuteOfDay >= w.Start || minuteOfDay < w.End
}

func (w Window) String() string {
	return utils.FormatHHMM(w.Start) + "-" + utils.FormatHHMM(w.End)
}

// ParseWindow parses "HH:MM-HH:MM".
func ParseWindow(s string) (Window, error) {
	a, b, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return Window{}, fmt.Errorf("invalid quiet window %q (want HH:MM-HH:MM)", s)
	}
	start, ok1 := utils.ParseHHMM(strings.TrimSpace(a))
	end, ok2 := utils.ParseHHMM(strings.TrimSpace(b))
	if !ok1 || !ok2 {
		return Window{}, fmt.Errorf("invalid quiet window %q (want HH:MM-HH:MM)", s)
	}
	return Window{Start: start, End: end}, nil
}

// InQuiet reports whether the given time is inside any window.
func InQuiet(t time.Time, windows []Window) bool {
	mod := t.Hour()*60 + t.Minute()
	for _, w := range windows {
		if w.Contains(mod) {
			return true
		}
	}
	return false
}

// MinuteOfDay truncates to the wall-clock minute.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// NextAligned returns the smallest multiple of intervalMin past the hour
// strictly after t. Seconds are truncated before alignment, so
// NextAligned(12:00:30, 5) = 12:05 and NextAligned(12:03, 5) = 12:05.
// Intervals that do not divide 60 restart their cycle at the top of each
// hour, so NextAligned(12:58, 7) = 13:00. Intervals longer than an hour
// anchor to midnight instead.
func NextAligned(t time.Time, intervalMin int) time.Time {
	if intervalMin < 1 {
		intervalMin = 1
	}
	ft := t.Truncate(time.Minute)
	cur, span := ft.Minute(), 60
	if intervalMin > 60 {
		cur, span = MinuteOfDay(ft), 24*60
	}
	add := intervalMin - cur%intervalMin
	if cur+add >= span {
		add = span - cur
	}
	return ft.Add(time.Duration(add) * time.Minute)
}

// Due reports whether the wall-clock minute of t is an aligned slot for the
// interval, using the same hour (or midnight) anchor as NextAligned. Every
// target sharing an interval is due on the same minute, which is what lets
// the coordinator batch fetches.
func Due(t time.Time, intervalMin int) bool {
	if intervalMin < 1 {
		intervalMin = 1
	}
	if intervalMin > 60 {
		return MinuteOfDay(t)%intervalMin == 0
	}
	return t.Minute()%intervalMin == 0
}

// Slot is the idempotence marker for one aligned minute: the Unix minute the
// slot falls on. Replaying the same minute yields the same slot.
func Slot(t time.Time) int64 {
	return t.Truncate(time.Minute).Unix() / 60
}

// NextRun walks forward from t one aligned slot at a time until it lands on
// one outside every quiet window. Quiet slots are skipped silently rather
// than jumping to the window's end.
func NextRun(t time.Time, intervalMin int, windows []Window) time.Time {
	next := NextAligned(t, intervalMin)
	if intervalMin < 1 {
		intervalMin = 1
	}
	// A window cannot cover more than a day, so this always terminates.
	limit := 24*60/intervalMin + 2
	for i := 0; i < limit && InQuiet(next, windows); i++ {
		next = NextAligned(next, intervalMin)
	}
	return next
}
