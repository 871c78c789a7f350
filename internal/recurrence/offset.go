package recurrence

import "time"

// ShiftDays moves an absolute instant by days calendar days in loc. The wall
// clock is kept, so the UTC offset of the result may differ from the input
// when the shift crosses a DST transition. A zero shift returns instant.
func ShiftDays(instant time.Time, days int, loc *time.Location) time.Time {
	if days == 0 {
		return instant
	}
	return ToUTC(ToLocal(instant, loc).AddDate(0, 0, days), loc)
}

// ShiftLocalDays moves a naive wall clock by days calendar days.
func ShiftLocalDays(local time.Time, days int) time.Time {
	if days == 0 {
		return local
	}
	return local.AddDate(0, 0, days)
}
