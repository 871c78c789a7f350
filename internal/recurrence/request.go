package recurrence

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RepeatBy is the human choice of how a monthly rule picks its day.
type RepeatBy string

const (
	DayOfMonth       RepeatBy = "DAY_OF_THE_MONTH"
	WeekdayFromStart RepeatBy = "DAY_OF_THE_WEEK_START"
	WeekdayFromEnd   RepeatBy = "DAY_OF_THE_WEEK_END"
	LastDayOfMonth   RepeatBy = "DAY_OF_THE_MONTH_END"
)

// Request is the form-level description of a rule as a person would enter
// it: a start date, a time of day, a frequency and an end choice. Build
// resolves it into concrete spec parameters.
type Request struct {
	Start       time.Time `json:"dtstart" yaml:"dtstart"`
	Hour        int       `json:"byhour" yaml:"byhour" validate:"min=0,max=23"`
	Minute      int       `json:"byminute" yaml:"byminute" validate:"min=0,max=59"`
	TimeZone    string    `json:"time_zone" yaml:"time_zone" validate:"required,timezone"`
	Frequency   Frequency `json:"freq" yaml:"freq" validate:"min=0,max=3"`
	Interval    int       `json:"interval" yaml:"interval" validate:"min=1"`
	Weekdays    []int     `json:"byweekday" yaml:"byweekday" validate:"dive,min=0,max=6"`
	NthWeekdays []Weekday `json:"bynweekday" yaml:"bynweekday" validate:"dive"`
	RepeatBy    RepeatBy  `json:"repeat_by" yaml:"repeat_by" validate:"omitempty,oneof=DAY_OF_THE_MONTH DAY_OF_THE_WEEK_START DAY_OF_THE_WEEK_END DAY_OF_THE_MONTH_END"`
	Ends        EndKind   `json:"ends" yaml:"ends" validate:"min=0,max=2"`
	Count       int       `json:"count" yaml:"count" validate:"min=0"`
	Until       time.Time `json:"until" yaml:"until"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Build validates the request and returns the resolved spec.
func (r Request) Build() (Spec, error) {
	var errs ValidationErrors

	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return Spec{}, fmt.Errorf("validating recurrence request: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, ValidationError{Field: fe.Field(), Message: describeTag(fe)})
		}
	}

	if r.Start.IsZero() {
		errs = append(errs, ValidationError{Field: keyStart, Message: "starts on is required"})
	}
	if r.Ends == EndAfter && r.Count == 0 {
		errs = append(errs, ValidationError{Field: keyCount, Message: "number of occurrences is required"})
	}
	if r.Ends == EndOn {
		switch {
		case r.Until.IsZero():
			errs = append(errs, ValidationError{Field: keyUntil, Message: "ending date is required"})
		case !dateOf(r.Until).After(dateOf(r.Start)):
			errs = append(errs, ValidationError{Field: keyUntil, Message: "end date must be after the start date"})
		}
	}
	if r.Frequency == Weekly && len(r.Weekdays) == 0 {
		errs = append(errs, ValidationError{Field: keyByWeekday, Message: "at least one day choice is required"})
	}
	if r.Frequency == Monthly {
		switch r.RepeatBy {
		case "":
			errs = append(errs, ValidationError{Field: "repeat_by", Message: "repeat by is required"})
		case WeekdayFromStart, WeekdayFromEnd:
			if len(r.NthWeekdays) == 0 {
				errs = append(errs, ValidationError{Field: keyByNWeekday, Message: "a weekday choice is required"})
			}
		}
	}
	if len(errs) > 0 {
		return Spec{}, errs
	}

	start := dateOf(r.Start)
	spec := Spec{
		Frequency: r.Frequency,
		Interval:  r.Interval,
		Start:     start,
		ByHour:    []int{r.Hour},
		ByMinute:  []int{r.Minute},
		End:       Never(),
	}

	switch r.Ends {
	case EndAfter:
		spec.End = After(r.Count)
	case EndOn:
		until := dateOf(r.Until)
		spec.End = On(time.Date(until.Year(), until.Month(), until.Day(), r.Hour, r.Minute, 0, 0, time.UTC))
	}

	switch r.Frequency {
	case Weekly:
		for _, d := range r.Weekdays {
			spec.ByWeekday = append(spec.ByWeekday, Weekday{Day: d})
		}
	case Monthly:
		switch r.RepeatBy {
		case DayOfMonth:
			spec.ByMonthDay = []int{start.Day()}
		case LastDayOfMonth:
			spec.ByMonthDay = []int{-1}
		default:
			first := r.NthWeekdays[0]
			spec.ByWeekday = []Weekday{{Day: first.Day}}
			spec.SetPosition = []int{first.N}
		}
	}

	return NewSpec(spec)
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "timezone":
		return fmt.Sprintf("unknown time zone %q", fe.Value())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
