package schedule

import "time"

// LastAvailableWindow returns the window whose end instant is the latest among
// the windows that have not ended yet. Day and end time are combined in now's
// location. The boolean is false when every window has already elapsed.
func LastAvailableWindow(windows []Window, now time.Time) (Window, bool) {
	loc := now.Location()

	var (
		last    Window
		lastEnd time.Time
		found   bool
	)
	for _, w := range windows {
		end := w.EndAt(loc)
		if !end.After(now) {
			continue
		}
		if !found || end.After(lastEnd) {
			last, lastEnd, found = w, end, true
		}
	}
	return last, found
}

// Remaining is the time left until w ends, measured from now.
func Remaining(w Window, now time.Time) time.Duration {
	return w.EndAt(now.Location()).Sub(now)
}
