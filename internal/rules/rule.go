// Package rules holds the persisted recurrence rule entity and its store.
package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/watzon/cadence/internal/recurrence"
)

// AdvanceResult reports what Advance did.
type AdvanceResult int

const (
	// Exhausted means the rule had no next occurrence; nothing changed.
	Exhausted AdvanceResult = iota
	// NotDue means the next occurrence is still in the future; nothing changed.
	NotDue
	// Advanced means the next occurrence moved to last and a new next was computed.
	Advanced
)

func (r AdvanceResult) String() string {
	switch r {
	case Exhausted:
		return "exhausted"
	case NotDue:
		return "not_due"
	case Advanced:
		return "advanced"
	default:
		return fmt.Sprintf("AdvanceResult(%d)", int(r))
	}
}

// Rule is a recurrence spec bound to a time zone, an optional day offset, a
// handler reference and its progression state. All instants are UTC.
//
// A rule is dispatched either through a named handler (HandlerName) or
// through a method on a related entity (RelatedType, RelatedID,
// RelatedMethod), never both.
type Rule struct {
	ID        string
	Spec      recurrence.Spec
	Exclusion *recurrence.Spec
	TimeZone  string
	DayOffset int

	LastOccurrence *time.Time
	NextOccurrence *time.Time

	HandlerName   string
	RelatedType   string
	RelatedID     string
	RelatedMethod string

	TimeLastHandled *time.Time
	MetaData        map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

var (
	ErrBothHandlers      = errors.New("rule references both a handler and a related entity")
	ErrIncompleteRelated = errors.New("related entity reference needs a type, an id and a method")
)

// Validate checks the spec, the exclusion spec, the zone and the handler
// reference.
func (r *Rule) Validate() error {
	if err := r.Spec.Validate(); err != nil {
		return err
	}
	if r.Exclusion != nil {
		if err := r.Exclusion.Validate(); err != nil {
			return fmt.Errorf("exclusion: %w", err)
		}
	}
	if _, err := recurrence.LoadZone(r.TimeZone); err != nil {
		return err
	}
	if r.HandlerName != "" && r.RelatedMethod != "" {
		return ErrBothHandlers
	}
	if r.RelatedMethod != "" || r.RelatedType != "" || r.RelatedID != "" {
		if r.RelatedMethod == "" || r.RelatedType == "" || r.RelatedID == "" {
			return ErrIncompleteRelated
		}
	}
	return nil
}

// Location returns the rule's zone, UTC when unset.
func (r *Rule) Location() (*time.Location, error) {
	return recurrence.LoadZone(r.TimeZone)
}

func (r *Rule) generator() (*recurrence.Generator, *time.Location, error) {
	loc, err := r.Location()
	if err != nil {
		return nil, nil, err
	}
	g, err := recurrence.NewGenerator(r.Spec, r.Exclusion)
	if err != nil {
		return nil, nil, err
	}
	return g, loc, nil
}

// toInstant converts a generated local occurrence into the rule's UTC
// instant, day offset included.
func (r *Rule) toInstant(local time.Time, loc *time.Location) time.Time {
	return recurrence.ShiftDays(recurrence.ToUTC(local, loc), r.DayOffset, loc)
}

// toReference converts an instant into the local wall clock the generator
// reasons in, with the day offset removed.
func (r *Rule) toReference(instant time.Time, loc *time.Location) time.Time {
	return recurrence.ShiftLocalDays(recurrence.ToLocal(instant, loc), -r.DayOffset)
}

// Seed sets NextOccurrence to the first occurrence of the spec. The last
// occurrence is left alone.
func (r *Rule) Seed() error {
	g, loc, err := r.generator()
	if err != nil {
		return fmt.Errorf("seeding next occurrence: %w", err)
	}
	first, ok := g.First()
	if !ok {
		r.NextOccurrence = nil
		return nil
	}
	next := r.toInstant(first, loc)
	r.NextOccurrence = &next
	return nil
}

// NextAfter returns the first occurrence strictly after reference, or nil
// when the series is exhausted. With force, an exhausted bounded series is
// extended past its count or until bound for this one lookup.
func (r *Rule) NextAfter(reference time.Time, force bool) (*time.Time, error) {
	g, loc, err := r.generator()
	if err != nil {
		return nil, fmt.Errorf("computing next occurrence: %w", err)
	}
	occurrence, ok := g.After(r.toReference(reference, loc), force)
	if !ok {
		return nil, nil
	}
	next := r.toInstant(occurrence, loc)
	return &next, nil
}

// Upcoming returns the occurrence after the last fired one, or after now
// when the rule has never fired.
func (r *Rule) Upcoming(now time.Time, force bool) (*time.Time, error) {
	reference := now
	if r.LastOccurrence != nil {
		reference = *r.LastOccurrence
	}
	return r.NextAfter(reference, force)
}

// Advance moves the rule one occurrence forward when it is due at now.
// State is only modified when the result is Advanced.
func (r *Rule) Advance(now time.Time) (AdvanceResult, error) {
	if r.NextOccurrence == nil {
		return Exhausted, nil
	}
	if now.Before(*r.NextOccurrence) {
		return NotDue, nil
	}

	last := *r.NextOccurrence
	next, err := r.NextAfter(last, false)
	if err != nil {
		return NotDue, err
	}
	r.LastOccurrence = &last
	r.NextOccurrence = next
	return Advanced, nil
}

// Refresh recomputes the next occurrence after reference (now when nil). The
// stored value only changes when the new occurrence lies after now, so
// editing a rule never moves it into the past. An exhausted series clears
// the next occurrence.
func (r *Rule) Refresh(reference *time.Time, now time.Time) error {
	ref := now
	if reference != nil {
		ref = *reference
	}
	next, err := r.NextAfter(ref, false)
	if err != nil {
		return err
	}
	switch {
	case next == nil:
		r.NextOccurrence = nil
	case next.After(now):
		r.NextOccurrence = next
	}
	return nil
}

// PreviewDates returns up to count occurrences strictly after after, or from
// the start of the series when after is nil. The rule is not modified.
func (r *Rule) PreviewDates(count int, after *time.Time) ([]time.Time, error) {
	g, loc, err := r.generator()
	if err != nil {
		return nil, fmt.Errorf("previewing dates: %w", err)
	}
	var ref *time.Time
	if after != nil {
		local := r.toReference(*after, loc)
		ref = &local
	}
	locals := g.Take(count, ref)
	dates := make([]time.Time, len(locals))
	for i, local := range locals {
		dates[i] = r.toInstant(local, loc)
	}
	return dates, nil
}

// Clone returns an unsaved copy with a fresh identity. A clone of a rule
// that never fired is seeded from the spec's start; otherwise it resumes
// after the original's last occurrence, so both produce the same remaining
// series.
func (r *Rule) Clone() (*Rule, error) {
	c := r.copy()
	if c.LastOccurrence == nil {
		if err := c.Seed(); err != nil {
			return nil, err
		}
		return c, nil
	}
	next, err := c.NextAfter(*c.LastOccurrence, false)
	if err != nil {
		return nil, err
	}
	c.NextOccurrence = next
	return c, nil
}

// CloneWithDayOffset returns an unsaved copy whose occurrences fall days
// calendar days away from the original's. The copy inherits the original's
// progression point, shifted by the difference between the two offsets.
// Weekday selectors are not changed.
func (r *Rule) CloneWithDayOffset(days int) (*Rule, error) {
	loc, err := r.Location()
	if err != nil {
		return nil, err
	}
	c := r.copy()
	c.DayOffset = days

	delta := days - r.DayOffset
	if r.NextOccurrence != nil {
		next := recurrence.ShiftDays(*r.NextOccurrence, delta, loc)
		c.NextOccurrence = &next
	}
	if r.LastOccurrence != nil {
		last := recurrence.ShiftDays(*r.LastOccurrence, delta, loc)
		c.LastOccurrence = &last
	}
	return c, nil
}

func (r *Rule) copy() *Rule {
	c := *r
	c.ID = ""
	c.Spec = r.Spec.Clone()
	if r.Exclusion != nil {
		ex := r.Exclusion.Clone()
		c.Exclusion = &ex
	}
	c.LastOccurrence = copyTime(r.LastOccurrence)
	c.NextOccurrence = nil
	c.TimeLastHandled = nil
	c.MetaData = copyMeta(r.MetaData)
	c.CreatedAt = time.Time{}
	c.UpdatedAt = time.Time{}
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue copies nested maps and slices. Other values are shared.
func copyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return copyMeta(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}
