package recurrence

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical persisted form of date-valued parameters.
const DateLayout = "2006-01-02 15:04:05"

var dateLayouts = []string{
	DateLayout,
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02",
}

// Parameter keys of the flat mapping.
const (
	keyFreq       = "freq"
	keyInterval   = "interval"
	keyStart      = "dtstart"
	keyUntil      = "until"
	keyCount      = "count"
	keyByHour     = "byhour"
	keyByMinute   = "byminute"
	keyByWeekday  = "byweekday"
	keyByNWeekday = "bynweekday"
	keyByMonthDay = "bymonthday"
	keyBySetPos   = "bysetpos"
)

// ParseDate accepts a time.Time or a string in one of the supported layouts
// and returns the naive wall clock.
func ParseDate(v any) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return Naive(d), nil
	case *time.Time:
		if d == nil {
			return time.Time{}, nil
		}
		return Naive(*d), nil
	case string:
		s := strings.TrimSpace(d)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return Naive(t), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized date %q", d)
	default:
		return time.Time{}, fmt.Errorf("unsupported date value of type %T", v)
	}
}

// FormatDate renders t in DateLayout.
func FormatDate(t time.Time) string {
	return Naive(t).Format(DateLayout)
}

// ParseParams builds a validated Spec from the flat parameter mapping. Date
// values may be time.Time values or strings; numbers may be any Go integer
// type, float64 holding an integer, json.Number or a numeric string.
func ParseParams(params map[string]any) (Spec, error) {
	var (
		spec Spec
		errs ValidationErrors
	)

	for key := range params {
		switch key {
		case keyFreq, keyInterval, keyStart, keyUntil, keyCount, keyByHour, keyByMinute,
			keyByWeekday, keyByNWeekday, keyByMonthDay, keyBySetPos:
		default:
			errs = append(errs, ValidationError{Field: key, Message: "unsupported parameter"})
		}
	}

	if v, ok := present(params, keyFreq); ok {
		f, err := parseFrequencyValue(v)
		if err != nil {
			errs = append(errs, ValidationError{Field: keyFreq, Message: err.Error()})
		}
		spec.Frequency = f
	} else {
		errs = append(errs, ValidationError{Field: keyFreq, Message: "is required"})
	}

	if v, ok := present(params, keyInterval); ok {
		n, err := toInt(v)
		switch {
		case err != nil:
			errs = append(errs, ValidationError{Field: keyInterval, Message: err.Error()})
		case n < 1:
			errs = append(errs, ValidationError{Field: keyInterval, Message: "must be a positive integer"})
		}
		spec.Interval = n
	} else {
		spec.Interval = 1
	}

	if v, ok := present(params, keyStart); ok {
		t, err := ParseDate(v)
		if err != nil {
			errs = append(errs, ValidationError{Field: keyStart, Message: err.Error()})
		}
		spec.Start = t
	}

	count, hasCount := present(params, keyCount)
	until, hasUntil := present(params, keyUntil)
	switch {
	case hasCount && hasUntil:
		errs = append(errs, ValidationError{Field: keyUntil, Message: "count and until are mutually exclusive"})
	case hasCount:
		n, err := toInt(count)
		if err != nil {
			errs = append(errs, ValidationError{Field: keyCount, Message: err.Error()})
		}
		spec.End = After(n)
	case hasUntil:
		t, err := ParseDate(until)
		if err != nil {
			errs = append(errs, ValidationError{Field: keyUntil, Message: err.Error()})
		}
		spec.End = On(t)
	default:
		spec.End = Never()
	}

	intLists := []struct {
		key string
		dst *[]int
	}{
		{keyByHour, &spec.ByHour},
		{keyByMinute, &spec.ByMinute},
		{keyByMonthDay, &spec.ByMonthDay},
		{keyBySetPos, &spec.SetPosition},
	}
	for _, l := range intLists {
		v, ok := present(params, l.key)
		if !ok {
			continue
		}
		values, err := toIntList(v)
		if err != nil {
			errs = append(errs, ValidationError{Field: l.key, Message: err.Error()})
			continue
		}
		*l.dst = values
	}

	if v, ok := present(params, keyByWeekday); ok {
		days, err := parseWeekdays(v)
		if err != nil {
			errs = append(errs, ValidationError{Field: keyByWeekday, Message: err.Error()})
		}
		spec.ByWeekday = append(spec.ByWeekday, days...)
	}
	if v, ok := present(params, keyByNWeekday); ok {
		days, err := parseNthWeekdays(v)
		if err != nil {
			errs = append(errs, ValidationError{Field: keyByNWeekday, Message: err.Error()})
		}
		spec.ByWeekday = append(spec.ByWeekday, days...)
	}

	if len(errs) > 0 {
		return Spec{}, errs
	}
	return NewSpec(spec)
}

// Params renders s as the flat mapping with dates in DateLayout.
func (s Spec) Params() map[string]any {
	params := map[string]any{
		keyFreq:     int(s.Frequency),
		keyInterval: s.Interval,
		keyStart:    FormatDate(s.Start),
	}
	switch s.End.Kind {
	case EndAfter:
		params[keyCount] = s.End.Count
	case EndOn:
		params[keyUntil] = FormatDate(s.End.Until)
	}
	putInts(params, keyByHour, s.ByHour)
	putInts(params, keyByMinute, s.ByMinute)
	putInts(params, keyByMonthDay, s.ByMonthDay)
	putInts(params, keyBySetPos, s.SetPosition)

	var plain []int
	var nth [][]int
	for _, wd := range s.ByWeekday {
		if wd.N == 0 {
			plain = append(plain, wd.Day)
		} else {
			nth = append(nth, []int{wd.Day, wd.N})
		}
	}
	putInts(params, keyByWeekday, plain)
	if len(nth) > 0 {
		params[keyByNWeekday] = nth
	}
	return params
}

func (s Spec) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Params())
}

func (s *Spec) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return fmt.Errorf("decoding recurrence params: %w", err)
	}
	spec, err := ParseParams(params)
	if err != nil {
		return err
	}
	*s = spec
	return nil
}

func putInts(params map[string]any, key string, values []int) {
	switch len(values) {
	case 0:
	case 1:
		params[key] = values[0]
	default:
		params[key] = cloneInts(values)
	}
}

func present(params map[string]any, key string) (any, bool) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func parseFrequencyValue(v any) (Frequency, error) {
	if s, ok := v.(string); ok {
		if _, err := strconv.Atoi(strings.TrimSpace(s)); err != nil {
			return ParseFrequency(s)
		}
	}
	if f, ok := v.(Frequency); ok {
		return f, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, err
	}
	return Frequency(n), nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", n.String())
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("unsupported integer value of type %T", v)
	}
}

func floatToInt(f float64) (int, error) {
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %v", f)
	}
	return int(f), nil
}

func toIntList(v any) ([]int, error) {
	switch list := v.(type) {
	case []int:
		return cloneInts(list), nil
	case []any:
		out := make([]int, 0, len(list))
		for _, item := range list {
			n, err := toInt(item)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	default:
		n, err := toInt(v)
		if err != nil {
			return nil, err
		}
		return []int{n}, nil
	}
}

func parseWeekdays(v any) ([]Weekday, error) {
	switch list := v.(type) {
	case []Weekday:
		return append([]Weekday(nil), list...), nil
	case Weekday:
		return []Weekday{list}, nil
	case []any:
		out := make([]Weekday, 0, len(list))
		for _, item := range list {
			if pair, ok := item.([]any); ok {
				wd, err := weekdayPair(pair)
				if err != nil {
					return nil, err
				}
				out = append(out, wd)
				continue
			}
			n, err := toInt(item)
			if err != nil {
				return nil, err
			}
			out = append(out, Weekday{Day: n})
		}
		return out, nil
	default:
		days, err := toIntList(v)
		if err != nil {
			return nil, err
		}
		out := make([]Weekday, len(days))
		for i, d := range days {
			out[i] = Weekday{Day: d}
		}
		return out, nil
	}
}

func parseNthWeekdays(v any) ([]Weekday, error) {
	switch list := v.(type) {
	case [][]int:
		out := make([]Weekday, 0, len(list))
		for _, pair := range list {
			if len(pair) != 2 {
				return nil, fmt.Errorf("expected [weekday, n] pairs")
			}
			out = append(out, Weekday{Day: pair[0], N: pair[1]})
		}
		return out, nil
	case []any:
		out := make([]Weekday, 0, len(list))
		for _, item := range list {
			pair, ok := item.([]any)
			if !ok {
				return nil, fmt.Errorf("expected [weekday, n] pairs")
			}
			wd, err := weekdayPair(pair)
			if err != nil {
				return nil, err
			}
			out = append(out, wd)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported nth weekday value of type %T", v)
	}
}

func weekdayPair(pair []any) (Weekday, error) {
	if len(pair) != 2 {
		return Weekday{}, fmt.Errorf("expected [weekday, n] pairs")
	}
	day, err := toInt(pair[0])
	if err != nil {
		return Weekday{}, err
	}
	n, err := toInt(pair[1])
	if err != nil {
		return Weekday{}, err
	}
	return Weekday{Day: day, N: n}, nil
}
