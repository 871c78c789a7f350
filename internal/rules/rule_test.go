package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/cadence/internal/recurrence"
)

func date(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time {
	return &t
}

func newRule(t *testing.T, s recurrence.Spec, zone string) *Rule {
	t.Helper()
	spec, err := recurrence.NewSpec(s)
	require.NoError(t, err)

	r := &Rule{Spec: spec, TimeZone: zone, HandlerName: "test.handler"}
	require.NoError(t, r.Validate())
	require.NoError(t, r.Seed())
	return r
}

// advanceAll advances r until it is exhausted and returns every next
// occurrence it passed through, the seeded one included.
func advanceAll(t *testing.T, r *Rule, max int) []time.Time {
	t.Helper()
	var seen []time.Time
	for i := 0; i < max && r.NextOccurrence != nil; i++ {
		seen = append(seen, *r.NextOccurrence)
		result, err := r.Advance(*r.NextOccurrence)
		require.NoError(t, err)
		require.Equal(t, Advanced, result)
	}
	return seen
}

func TestRule_EasternDaily(t *testing.T) {
	r := newRule(t, recurrence.Spec{
		Frequency: recurrence.Daily,
		Start:     date(2017, 1, 1, 22, 0),
	}, "US/Eastern")

	assert.Nil(t, r.LastOccurrence)
	assert.Equal(t, ptr(date(2017, 1, 2, 3, 0)), r.NextOccurrence)

	result, err := r.Advance(date(2017, 1, 2, 3, 0))
	require.NoError(t, err)
	assert.Equal(t, Advanced, result)
	assert.Equal(t, ptr(date(2017, 1, 2, 3, 0)), r.LastOccurrence)
	assert.Equal(t, ptr(date(2017, 1, 3, 3, 0)), r.NextOccurrence)
}

func TestRule_EasternMonthlyAcrossDST(t *testing.T) {
	first := newRule(t, recurrence.Spec{
		Frequency:  recurrence.Monthly,
		Start:      date(2017, 1, 1, 22, 0),
		ByMonthDay: []int{1},
	}, "US/Eastern")

	assert.Equal(t, []time.Time{
		date(2017, 1, 2, 3, 0),
		date(2017, 2, 2, 3, 0),
		date(2017, 3, 2, 3, 0),
		date(2017, 4, 2, 2, 0),
	}, advanceAll(t, first, 4))

	last := newRule(t, recurrence.Spec{
		Frequency:  recurrence.Monthly,
		Start:      date(2017, 1, 1, 22, 0),
		ByMonthDay: []int{-1},
	}, "US/Eastern")

	assert.Equal(t, []time.Time{
		date(2017, 2, 1, 3, 0),
		date(2017, 3, 1, 3, 0),
		date(2017, 4, 1, 2, 0),
	}, advanceAll(t, last, 3))
}

func TestRule_LondonUntilAndForce(t *testing.T) {
	r := newRule(t, recurrence.Spec{
		Frequency:  recurrence.Monthly,
		Start:      date(2018, 6, 19, 0, 0),
		ByHour:     []int{1},
		ByMonthDay: []int{19},
		End:        recurrence.On(date(2018, 6, 20, 0, 0)),
	}, "Europe/London")

	assert.Equal(t, ptr(date(2018, 6, 19, 0, 0)), r.NextOccurrence)

	result, err := r.Advance(date(2018, 6, 19, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, Advanced, result)
	assert.Equal(t, ptr(date(2018, 6, 19, 0, 0)), r.LastOccurrence)
	assert.Nil(t, r.NextOccurrence)

	for _, now := range []time.Time{date(2017, 1, 3, 0, 0), date(2117, 1, 3, 0, 0)} {
		next, err := r.Upcoming(now, false)
		require.NoError(t, err)
		assert.Nil(t, next)

		forced, err := r.Upcoming(now, true)
		require.NoError(t, err)
		assert.Equal(t, ptr(date(2018, 7, 19, 0, 0)), forced)
	}

	// forcing never rewrites the stored bound
	assert.Equal(t, recurrence.EndOn, r.Spec.End.Kind)
}

func TestRule_AdvanceNotDueAndExhausted(t *testing.T) {
	r := newRule(t, recurrence.Spec{
		Frequency: recurrence.Daily,
		Start:     date(2017, 1, 1, 10, 0),
		End:       recurrence.After(1),
	}, "UTC")

	result, err := r.Advance(date(2017, 1, 1, 9, 0))
	require.NoError(t, err)
	assert.Equal(t, NotDue, result)
	assert.Nil(t, r.LastOccurrence)
	assert.Equal(t, ptr(date(2017, 1, 1, 10, 0)), r.NextOccurrence)

	result, err = r.Advance(date(2017, 1, 1, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, Advanced, result)
	assert.Nil(t, r.NextOccurrence)

	result, err = r.Advance(date(2017, 1, 5, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, Exhausted, result)
	assert.Equal(t, ptr(date(2017, 1, 1, 10, 0)), r.LastOccurrence)
}

func TestRule_Refresh(t *testing.T) {
	r := newRule(t, recurrence.Spec{
		Frequency: recurrence.Daily,
		Start:     date(2017, 1, 1, 10, 0),
	}, "UTC")
	now := date(2017, 1, 5, 12, 0)

	require.NoError(t, r.Refresh(nil, now))
	assert.Equal(t, ptr(date(2017, 1, 6, 10, 0)), r.NextOccurrence)

	// a reference in the past never moves next backwards
	require.NoError(t, r.Refresh(ptr(date(2017, 1, 1, 10, 0)), now))
	assert.Equal(t, ptr(date(2017, 1, 6, 10, 0)), r.NextOccurrence)

	bounded := newRule(t, recurrence.Spec{
		Frequency: recurrence.Daily,
		Start:     date(2017, 1, 1, 10, 0),
		End:       recurrence.After(2),
	}, "UTC")
	require.NoError(t, bounded.Refresh(nil, now))
	assert.Nil(t, bounded.NextOccurrence)
}

func TestRule_RefreshAppliesOffsetOnce(t *testing.T) {
	r := newRule(t, recurrence.Spec{
		Frequency: recurrence.Daily,
		Start:     date(2017, 1, 1, 10, 0),
	}, "UTC")
	r.DayOffset = 2

	require.NoError(t, r.Refresh(nil, date(2017, 1, 5, 12, 0)))
	assert.Equal(t, ptr(date(2017, 1, 6, 10, 0)), r.NextOccurrence)
}

func TestRule_Validate(t *testing.T) {
	r := newRule(t, recurrence.Spec{Frequency: recurrence.Daily, Start: date(2017, 1, 1, 0, 0)}, "UTC")

	r.RelatedType, r.RelatedID, r.RelatedMethod = "account", "1", "remind"
	assert.ErrorIs(t, r.Validate(), ErrBothHandlers)

	r.HandlerName = ""
	assert.NoError(t, r.Validate())

	r.RelatedID = ""
	assert.ErrorIs(t, r.Validate(), ErrIncompleteRelated)

	r.RelatedType, r.RelatedID, r.RelatedMethod = "", "", ""
	r.TimeZone = "Atlantis/Capital"
	assert.Error(t, r.Validate())
}

func TestRule_Clone(t *testing.T) {
	r := newRule(t, recurrence.Spec{
		Frequency: recurrence.Daily,
		Start:     date(2017, 1, 1, 10, 0),
	}, "UTC")
	r.ID = "original"
	r.MetaData = map[string]any{"owner": "ops"}
	r.TimeLastHandled = ptr(date(2017, 1, 3, 0, 0))

	fresh, err := r.Clone()
	require.NoError(t, err)
	assert.Empty(t, fresh.ID)
	assert.Nil(t, fresh.TimeLastHandled)
	assert.Equal(t, ptr(date(2017, 1, 1, 10, 0)), fresh.NextOccurrence)
	assert.Equal(t, r.Spec, fresh.Spec)
	assert.Equal(t, r.HandlerName, fresh.HandlerName)

	fresh.MetaData["owner"] = "dev"
	assert.Equal(t, "ops", r.MetaData["owner"])

	advanceAll(t, r, 3)
	resumed, err := r.Clone()
	require.NoError(t, err)
	assert.Equal(t, r.LastOccurrence, resumed.LastOccurrence)
	assert.Equal(t, r.NextOccurrence, resumed.NextOccurrence)
}

func TestRule_CloneCopiesNestedMetaData(t *testing.T) {
	r := newRule(t, recurrence.Spec{
		Frequency: recurrence.Daily,
		Start:     date(2017, 1, 1, 10, 0),
	}, "UTC")
	r.MetaData = map[string]any{
		"attempts": int64(9007199254740993),
		"labels":   []any{"a", map[string]any{"k": "v"}},
		"owner":    map[string]any{"team": "ops"},
		"callback": func() {},
	}

	fresh, err := r.Clone()
	require.NoError(t, err)

	assert.Equal(t, int64(9007199254740993), fresh.MetaData["attempts"])
	assert.NotNil(t, fresh.MetaData["callback"])

	fresh.MetaData["owner"].(map[string]any)["team"] = "dev"
	fresh.MetaData["labels"].([]any)[1].(map[string]any)["k"] = "changed"
	assert.Equal(t, "ops", r.MetaData["owner"].(map[string]any)["team"])
	assert.Equal(t, "v", r.MetaData["labels"].([]any)[1].(map[string]any)["k"])
}

func TestRule_WeeklyCloneWithOffset(t *testing.T) {
	r := newRule(t, recurrence.Spec{
		Frequency: recurrence.Weekly,
		Start:     date(2022, 6, 21, 0, 0),
		ByWeekday: []recurrence.Weekday{{Day: 0}, {Day: 2}, {Day: 4}},
	}, "UTC")

	dates, err := r.PreviewDates(4, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		date(2022, 6, 22, 0, 0),
		date(2022, 6, 24, 0, 0),
		date(2022, 6, 27, 0, 0),
		date(2022, 6, 29, 0, 0),
	}, dates)

	later, err := r.CloneWithDayOffset(2)
	require.NoError(t, err)
	assert.Equal(t, ptr(date(2022, 6, 24, 0, 0)), later.NextOccurrence)
	dates, err = later.PreviewDates(4, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		date(2022, 6, 24, 0, 0),
		date(2022, 6, 26, 0, 0),
		date(2022, 6, 29, 0, 0),
		date(2022, 7, 1, 0, 0),
	}, dates)

	earlier, err := r.CloneWithDayOffset(-2)
	require.NoError(t, err)
	assert.Equal(t, ptr(date(2022, 6, 20, 0, 0)), earlier.NextOccurrence)
	dates, err = earlier.PreviewDates(4, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		date(2022, 6, 20, 0, 0),
		date(2022, 6, 22, 0, 0),
		date(2022, 6, 25, 0, 0),
		date(2022, 6, 27, 0, 0),
	}, dates)

	// selectors are untouched
	assert.Equal(t, r.Spec.ByWeekday, earlier.Spec.ByWeekday)
}

func TestRule_MonthlyCloneWithOffset(t *testing.T) {
	// second Monday from the end, every other month
	r := newRule(t, recurrence.Spec{
		Frequency: recurrence.Monthly,
		Interval:  2,
		Start:     date(2022, 6, 1, 0, 0),
		ByWeekday: []recurrence.Weekday{{Day: 0, N: -2}},
	}, "UTC")
	assert.Equal(t, ptr(date(2022, 6, 20, 0, 0)), r.NextOccurrence)

	later, err := r.CloneWithDayOffset(2)
	require.NoError(t, err)
	assert.Equal(t, ptr(date(2022, 6, 22, 0, 0)), later.NextOccurrence)

	earlier, err := r.CloneWithDayOffset(-2)
	require.NoError(t, err)
	assert.Equal(t, ptr(date(2022, 6, 18, 0, 0)), earlier.NextOccurrence)

	next, err := later.NextAfter(*later.NextOccurrence, false)
	require.NoError(t, err)
	assert.Equal(t, ptr(date(2022, 8, 24, 0, 0)), next)
}

func TestRule_CloneWithOffsetKeepsUntil(t *testing.T) {
	r := newRule(t, recurrence.Spec{
		Frequency: recurrence.Daily,
		Start:     date(2022, 10, 15, 0, 0),
		End:       recurrence.On(date(2022, 10, 17, 0, 0)),
	}, "UTC")

	later, err := r.CloneWithDayOffset(1)
	require.NoError(t, err)
	dates, err := later.PreviewDates(10, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		date(2022, 10, 16, 0, 0),
		date(2022, 10, 17, 0, 0),
		date(2022, 10, 18, 0, 0),
	}, dates)
	assert.Equal(t, dates, advanceAll(t, later, 10))

	earlier, err := r.CloneWithDayOffset(-1)
	require.NoError(t, err)
	dates, err = earlier.PreviewDates(10, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		date(2022, 10, 14, 0, 0),
		date(2022, 10, 15, 0, 0),
		date(2022, 10, 16, 0, 0),
	}, dates)

	assert.Equal(t, r.Spec.End, later.Spec.End)
	assert.Equal(t, r.Spec.End, earlier.Spec.End)
}

func TestRule_KievCloneAcrossFallBack(t *testing.T) {
	r := newRule(t, recurrence.Spec{
		Frequency: recurrence.Daily,
		Start:     date(2022, 10, 29, 10, 0),
		End:       recurrence.On(date(2022, 11, 1, 10, 0)),
	}, "Europe/Kiev")

	dates, err := r.PreviewDates(10, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		date(2022, 10, 29, 7, 0),
		date(2022, 10, 30, 8, 0),
		date(2022, 10, 31, 8, 0),
		date(2022, 11, 1, 8, 0),
	}, dates)

	clone, err := r.CloneWithDayOffset(-1)
	require.NoError(t, err)
	dates, err = clone.PreviewDates(10, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		date(2022, 10, 28, 7, 0),
		date(2022, 10, 29, 7, 0),
		date(2022, 10, 30, 8, 0),
		date(2022, 10, 31, 8, 0),
	}, dates)
}

func TestRule_KievCloneFromDST(t *testing.T) {
	r := newRule(t, recurrence.Spec{
		Frequency: recurrence.Daily,
		Start:     date(2022, 10, 31, 10, 0),
		End:       recurrence.On(date(2022, 11, 3, 10, 0)),
	}, "Europe/Kiev")

	dates, err := r.PreviewDates(10, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		date(2022, 10, 31, 8, 0),
		date(2022, 11, 1, 8, 0),
		date(2022, 11, 2, 8, 0),
		date(2022, 11, 3, 8, 0),
	}, dates)

	clone, err := r.CloneWithDayOffset(-3)
	require.NoError(t, err)
	expected := []time.Time{
		date(2022, 10, 28, 7, 0),
		date(2022, 10, 29, 7, 0),
		date(2022, 10, 30, 8, 0),
		date(2022, 10, 31, 8, 0),
	}
	dates, err = clone.PreviewDates(10, nil)
	require.NoError(t, err)
	assert.Equal(t, expected, dates)
	assert.Equal(t, expected, advanceAll(t, clone, 10))
}

func TestRule_KievCloneToDST(t *testing.T) {
	r := newRule(t, recurrence.Spec{
		Frequency: recurrence.Daily,
		Start:     date(2022, 3, 28, 10, 0),
		End:       recurrence.On(date(2022, 3, 31, 10, 0)),
	}, "Europe/Kiev")

	dates, err := r.PreviewDates(10, nil)
	require.NoError(t, err)
	for _, d := range dates {
		assert.Equal(t, 7, d.Hour())
	}

	clone, err := r.CloneWithDayOffset(-3)
	require.NoError(t, err)
	dates, err = clone.PreviewDates(10, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		date(2022, 3, 25, 8, 0),
		date(2022, 3, 26, 8, 0),
		date(2022, 3, 27, 7, 0),
		date(2022, 3, 28, 7, 0),
	}, dates)
}

func TestRule_EasternMonthlyDayOffset(t *testing.T) {
	spec := recurrence.Spec{
		Frequency:  recurrence.Monthly,
		Start:      date(2017, 1, 1, 0, 0),
		ByMonthDay: []int{1},
	}

	later := newRule(t, spec, "US/Eastern")
	later.DayOffset = 1
	require.NoError(t, later.Seed())
	assert.Equal(t, []time.Time{
		date(2017, 1, 2, 5, 0),
		date(2017, 2, 2, 5, 0),
		date(2017, 3, 2, 5, 0),
		date(2017, 4, 2, 4, 0),
	}, advanceAll(t, later, 4))

	earlier := newRule(t, spec, "US/Eastern")
	earlier.DayOffset = -1
	require.NoError(t, earlier.Seed())
	assert.Equal(t, []time.Time{
		date(2016, 12, 31, 5, 0),
		date(2017, 1, 31, 5, 0),
		date(2017, 2, 28, 5, 0),
		date(2017, 3, 31, 4, 0),
	}, advanceAll(t, earlier, 4))
}

func TestRule_PreviewAfter(t *testing.T) {
	r := newRule(t, recurrence.Spec{
		Frequency: recurrence.Daily,
		Start:     date(2017, 1, 1, 10, 0),
	}, "UTC")
	r.DayOffset = 1

	dates, err := r.PreviewDates(2, ptr(date(2017, 1, 5, 10, 0)))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{date(2017, 1, 6, 10, 0), date(2017, 1, 7, 10, 0)}, dates)
}
