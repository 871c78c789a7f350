package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

var weekdays = [...]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// maxExcludedRun bounds how many consecutive occurrences the exclusion may
// swallow before the series is treated as exhausted.
const maxExcludedRun = 10000

// Generator produces the occurrences of a spec, minus those of an optional
// exclusion spec, in naive local time.
type Generator struct {
	rule      *rrule.RRule
	unbounded *rrule.RRule
	exclude   *rrule.RRule
}

// NewGenerator builds a generator for spec. exclusion may be nil.
func NewGenerator(spec Spec, exclusion *Spec) (*Generator, error) {
	r, err := spec.rrule()
	if err != nil {
		return nil, err
	}
	g := &Generator{rule: r, unbounded: r}
	if spec.End.Kind != EndNever {
		g.unbounded, err = spec.Unbounded().rrule()
		if err != nil {
			return nil, err
		}
	}
	if exclusion != nil {
		g.exclude, err = exclusion.rrule()
		if err != nil {
			return nil, fmt.Errorf("building exclusion rule: %w", err)
		}
	}
	return g, nil
}

// excluded reports whether t is an occurrence of the exclusion spec.
func (g *Generator) excluded(t time.Time) bool {
	if g.exclude == nil {
		return false
	}
	return g.exclude.After(t, true).Equal(t)
}

// First returns the earliest occurrence at or after the spec's start.
func (g *Generator) First() (time.Time, bool) {
	out := g.Take(1, nil)
	if len(out) == 0 {
		return time.Time{}, false
	}
	return out[0], true
}

// After returns the earliest occurrence strictly after ref. When the bounded
// series has nothing left and force is set, the answer of the same series
// without its count or until bound is returned instead.
func (g *Generator) After(ref time.Time, force bool) (time.Time, bool) {
	ref = Naive(ref)
	if t, ok := g.after(g.rule, ref); ok {
		return t, true
	}
	if !force {
		return time.Time{}, false
	}
	return g.after(g.unbounded, ref)
}

func (g *Generator) after(r *rrule.RRule, ref time.Time) (time.Time, bool) {
	t := r.After(ref, false)
	for skipped := 0; !t.IsZero(); skipped++ {
		if !g.excluded(t) {
			return t, true
		}
		if skipped >= maxExcludedRun {
			break
		}
		t = r.After(t, false)
	}
	return time.Time{}, false
}

// Take returns up to n occurrences. With a nil after the series is read from
// its start, otherwise only occurrences strictly after *after are returned.
func (g *Generator) Take(n int, after *time.Time) []time.Time {
	if n <= 0 {
		return nil
	}
	var ref time.Time
	if after != nil {
		ref = Naive(*after)
	}
	out := make([]time.Time, 0, n)
	next := g.rule.Iterator()
	skipped := 0
	for len(out) < n {
		t, ok := next()
		if !ok {
			break
		}
		if after != nil && !t.After(ref) {
			continue
		}
		if g.excluded(t) {
			if skipped++; skipped > maxExcludedRun {
				break
			}
			continue
		}
		skipped = 0
		out = append(out, t)
	}
	return out
}

func (s Spec) rrule() (*rrule.RRule, error) {
	r, err := rrule.NewRRule(s.options())
	if err != nil {
		return nil, fmt.Errorf("building %s rule: %w", s.Frequency, err)
	}
	return r, nil
}

func (s Spec) options() rrule.ROption {
	opt := rrule.ROption{
		Freq:       rrule.Frequency(s.Frequency),
		Dtstart:    Naive(s.Start),
		Interval:   s.Interval,
		Byhour:     cloneInts(s.ByHour),
		Byminute:   cloneInts(s.ByMinute),
		Bymonthday: cloneInts(s.ByMonthDay),
		Bysetpos:   cloneInts(s.SetPosition),
	}
	for _, wd := range s.ByWeekday {
		day := weekdays[wd.Day]
		if wd.N != 0 {
			day = day.Nth(wd.N)
		}
		opt.Byweekday = append(opt.Byweekday, day)
	}
	switch s.End.Kind {
	case EndAfter:
		opt.Count = s.End.Count
	case EndOn:
		opt.Until = Naive(s.End.Until)
	}
	return opt
}
