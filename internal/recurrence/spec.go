// Package recurrence models iCalendar-style recurrence specifications and
// computes their occurrences in naive local time.
//
// Naive local datetimes are carried as time.Time values in the UTC location.
// Only their wall clock is meaningful; ToUTC and ToLocal convert between them
// and absolute instants for a concrete zone.
package recurrence

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is the base period of a recurrence. The numeric values match the
// classic RRULE integer codes so persisted parameters stay compatible.
type Frequency int

const (
	Yearly Frequency = iota
	Monthly
	Weekly
	Daily
)

var frequencyNames = map[Frequency]string{
	Yearly:  "YEARLY",
	Monthly: "MONTHLY",
	Weekly:  "WEEKLY",
	Daily:   "DAILY",
}

func (f Frequency) String() string {
	if name, ok := frequencyNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Frequency(%d)", int(f))
}

// Valid reports whether f is one of the supported frequencies.
func (f Frequency) Valid() bool {
	_, ok := frequencyNames[f]
	return ok
}

// ParseFrequency accepts a frequency name such as "WEEKLY" (case-insensitive).
func ParseFrequency(s string) (Frequency, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for f, name := range frequencyNames {
		if name == upper {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown frequency %q", s)
}

// EndKind selects how a series terminates.
type EndKind int

const (
	EndNever EndKind = iota
	EndAfter
	EndOn
)

func (k EndKind) String() string {
	switch k {
	case EndNever:
		return "NEVER"
	case EndAfter:
		return "AFTER"
	case EndOn:
		return "ON"
	default:
		return fmt.Sprintf("EndKind(%d)", int(k))
	}
}

// End is the end condition of a series. Only the field matching Kind is used.
type End struct {
	Kind  EndKind
	Count int
	Until time.Time
}

func Never() End { return End{Kind: EndNever} }

func After(count int) End { return End{Kind: EndAfter, Count: count} }

func On(until time.Time) End { return End{Kind: EndOn, Until: Naive(until)} }

// Weekday selects a day of the week. Day runs 0=Monday through 6=Sunday.
// A non-zero N picks the nth matching day within the period, counting from
// the end when negative.
type Weekday struct {
	Day int `json:"day" validate:"min=0,max=6"`
	N   int `json:"n" validate:"min=-53,max=53"`
}

// Spec is a validated recurrence specification.
type Spec struct {
	Frequency   Frequency
	Interval    int
	Start       time.Time
	End         End
	ByHour      []int
	ByMinute    []int
	ByWeekday   []Weekday
	ByMonthDay  []int
	SetPosition []int
}

// NewSpec normalizes s and validates it. A zero Interval defaults to 1.
func NewSpec(s Spec) (Spec, error) {
	s = s.normalized()
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	return s, nil
}

func (s Spec) normalized() Spec {
	s = s.Clone()
	if s.Interval == 0 {
		s.Interval = 1
	}
	s.Start = Naive(s.Start)
	if s.End.Kind == EndOn {
		s.End.Until = Naive(s.End.Until)
	} else {
		s.End.Until = time.Time{}
	}
	if s.End.Kind != EndAfter {
		s.End.Count = 0
	}
	return s
}

// Validate checks the structural invariants of the spec.
func (s Spec) Validate() error {
	var errs ValidationErrors

	if !s.Frequency.Valid() {
		errs = append(errs, ValidationError{Field: "freq", Message: fmt.Sprintf("unsupported frequency %d", int(s.Frequency))})
	}
	if s.Interval < 1 {
		errs = append(errs, ValidationError{Field: "interval", Message: "must be a positive integer"})
	}
	if s.Start.IsZero() {
		errs = append(errs, ValidationError{Field: "dtstart", Message: "is required"})
	}

	switch s.End.Kind {
	case EndNever:
	case EndAfter:
		if s.End.Count < 1 {
			errs = append(errs, ValidationError{Field: "count", Message: "must be a positive integer"})
		}
	case EndOn:
		if s.End.Until.IsZero() {
			errs = append(errs, ValidationError{Field: "until", Message: "is required"})
		} else if !s.Start.IsZero() && s.End.Until.Before(s.Start) {
			errs = append(errs, ValidationError{Field: "until", Message: "must not be before dtstart"})
		}
	default:
		errs = append(errs, ValidationError{Field: "ends", Message: fmt.Sprintf("unsupported end condition %d", int(s.End.Kind))})
	}

	errs = append(errs, checkRange("byhour", s.ByHour, 0, 23, true)...)
	errs = append(errs, checkRange("byminute", s.ByMinute, 0, 59, true)...)
	errs = append(errs, checkRange("bymonthday", s.ByMonthDay, -31, 31, false)...)
	errs = append(errs, checkRange("bysetpos", s.SetPosition, -366, 366, false)...)

	for _, wd := range s.ByWeekday {
		if wd.Day < 0 || wd.Day > 6 {
			errs = append(errs, ValidationError{Field: "byweekday", Message: fmt.Sprintf("weekday %d out of range 0..6", wd.Day)})
		}
		if wd.N < -53 || wd.N > 53 {
			errs = append(errs, ValidationError{Field: "bynweekday", Message: fmt.Sprintf("occurrence %d out of range -53..53", wd.N)})
		}
	}

	switch s.Frequency {
	case Weekly:
		if len(s.ByWeekday) == 0 {
			errs = append(errs, ValidationError{Field: "byweekday", Message: "at least one day is required for weekly rules"})
		}
	case Monthly:
		if len(s.ByMonthDay) == 0 && len(s.ByWeekday) == 0 {
			errs = append(errs, ValidationError{Field: "bymonthday", Message: "monthly rules need a day of the month or a weekday"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkRange(field string, values []int, min, max int, allowZero bool) ValidationErrors {
	var errs ValidationErrors
	for _, v := range values {
		if v < min || v > max || (!allowZero && v == 0) {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("value %d out of range %d..%d", v, min, max)})
		}
	}
	return errs
}

// Clone returns a deep copy of s.
func (s Spec) Clone() Spec {
	c := s
	c.ByHour = cloneInts(s.ByHour)
	c.ByMinute = cloneInts(s.ByMinute)
	c.ByMonthDay = cloneInts(s.ByMonthDay)
	c.SetPosition = cloneInts(s.SetPosition)
	if s.ByWeekday != nil {
		c.ByWeekday = append([]Weekday(nil), s.ByWeekday...)
	}
	return c
}

// Unbounded returns a copy of s without its count or until bound.
func (s Spec) Unbounded() Spec {
	c := s.Clone()
	c.End = Never()
	return c
}

// String renders the RRULE line for s, without DTSTART.
func (s Spec) String() string {
	opt := s.options()
	return opt.RRuleString()
}

func cloneInts(v []int) []int {
	if v == nil {
		return nil
	}
	return append([]int(nil), v...)
}

// Naive drops the zone of t and keeps its wall clock, truncated to seconds.
func Naive(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("invalid recurrence:")
	for i, err := range e {
		if i > 0 {
			sb.WriteString(";")
		}
		sb.WriteString(" ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// HasField reports whether any error concerns field.
func (e ValidationErrors) HasField(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}
