package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoWindows     = errors.New("schedule: at least one window required")
	ErrInvalidWindow = errors.New("schedule: window must end after it starts")
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Date is a calendar day without a time zone. It is combined with a location
// only when a window is evaluated.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("schedule: parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("schedule: date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// TimeOfDay is a wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay{Hour: hour, Minute: minute}
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("schedule: parse time %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) minutes() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("schedule: time must be a string: %w", err)
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Window is a single availability slot of the requester.
type Window struct {
	Day   Date      `json:"day"`
	Start TimeOfDay `json:"startTime"`
	End   TimeOfDay `json:"endTime"`
}

// StartAt combines the day and start time in loc.
func (w Window) StartAt(loc *time.Location) time.Time {
	return time.Date(w.Day.Year, w.Day.Month, w.Day.Day, w.Start.Hour, w.Start.Minute, 0, 0, loc)
}

// EndAt combines the day and end time in loc.
func (w Window) EndAt(loc *time.Location) time.Time {
	return time.Date(w.Day.Year, w.Day.Month, w.Day.Day, w.End.Hour, w.End.Minute, 0, 0, loc)
}

// Validate checks the shape of a window list. It does not look at the clock.
func Validate(windows []Window) error {
	if len(windows) == 0 {
		return ErrNoWindows
	}
	for i, w := range windows {
		if w.End.minutes() <= w.Start.minutes() {
			return fmt.Errorf("%w: window %d (%s %s-%s)", ErrInvalidWindow, i, w.Day, w.Start, w.End)
		}
	}
	return nil
}
