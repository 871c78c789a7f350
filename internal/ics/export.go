// Package ics renders recurrence rules as iCalendar documents.
package ics

import (
	"fmt"
	"io"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/watzon/cadence/internal/recurrence"
	"github.com/watzon/cadence/internal/rules"
)

const (
	ProductID = "-//watzon//cadence//EN"

	localLayout = "20060102T150405"

	PropertyHandler   ical.ComponentProperty = "X-CADENCE-HANDLER"
	PropertyRelated   ical.ComponentProperty = "X-CADENCE-RELATED"
	PropertyDayOffset ical.ComponentProperty = "X-CADENCE-DAY-OFFSET"
)

// Options controls what Export emits.
type Options struct {
	// Count is the number of expanded occurrences to include (0 = series only).
	Count int
	// After starts the expansion after this instant; nil starts at the first occurrence.
	After *time.Time
	// Summary is used as SUMMARY on every event.
	Summary string
	// Duration sets DTEND on expanded occurrences when positive.
	Duration time.Duration
	// Stamp is written as DTSTAMP (default: time.Now).
	Stamp time.Time
}

// Export builds a calendar holding one recurring VEVENT for the rule's
// series and one VEVENT per expanded occurrence.
func Export(rule *rules.Rule, opts Options) (*ical.Calendar, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if opts.Stamp.IsZero() {
		opts.Stamp = time.Now()
	}
	opts.Stamp = opts.Stamp.UTC()

	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetMethod(ical.MethodPublish)

	uid := rule.ID
	if uid == "" {
		uid = "unsaved"
	}

	series := cal.AddEvent(uid + "@cadence")
	series.SetDtStampTime(opts.Stamp)
	series.SetProperty(ical.ComponentPropertyDtStart, rule.Spec.Start.Format(localLayout), tzid(rule.TimeZone))
	loc, err := rule.Location()
	if err != nil {
		return nil, err
	}
	series.SetProperty(ical.ComponentPropertyRrule, ruleLine(rule.Spec, loc))
	if rule.Exclusion != nil {
		series.AddProperty(ical.ComponentPropertyExrule, ruleLine(*rule.Exclusion, loc))
	}
	describe(series, rule, opts.Summary)

	dates, err := rule.PreviewDates(opts.Count, opts.After)
	if err != nil {
		return nil, err
	}
	for i, date := range dates {
		ev := cal.AddEvent(fmt.Sprintf("%s-%d@cadence", uid, i))
		ev.SetDtStampTime(opts.Stamp)
		ev.SetStartAt(date)
		if opts.Duration > 0 {
			ev.SetEndAt(date.Add(opts.Duration))
		}
		ev.SetProperty(ical.ComponentPropertyRelatedTo, uid+"@cadence")
		describe(ev, rule, opts.Summary)
	}

	return cal, nil
}

// ruleLine renders spec for a DTSTART carrying TZID. UNTIL must then be
// the UTC instant of the local end date.
func ruleLine(spec recurrence.Spec, loc *time.Location) string {
	if spec.End.Kind == recurrence.EndOn {
		spec = spec.Clone()
		spec.End.Until = recurrence.ToUTC(spec.End.Until, loc)
	}
	return spec.String()
}

// Write serializes an exported rule to w.
func Write(w io.Writer, rule *rules.Rule, opts Options) error {
	cal, err := Export(rule, opts)
	if err != nil {
		return err
	}
	return cal.SerializeTo(w)
}

func describe(ev *ical.VEvent, rule *rules.Rule, summary string) {
	if summary != "" {
		ev.SetSummary(summary)
	}
	if rule.HandlerName != "" {
		ev.SetProperty(PropertyHandler, rule.HandlerName)
	}
	if rule.RelatedType != "" {
		ev.SetProperty(PropertyRelated, rule.RelatedType+":"+rule.RelatedID+"#"+rule.RelatedMethod)
	}
	if rule.DayOffset != 0 {
		ev.SetProperty(PropertyDayOffset, strconv.Itoa(rule.DayOffset))
	}
}

func tzid(zone string) ical.PropertyParameter {
	if zone == "" {
		zone = "UTC"
	}
	return &ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{zone}}
}
