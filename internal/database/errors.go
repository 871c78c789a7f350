package database

import (
	"errors"
	"regexp"
)

var (
	ErrUniqueViolation = errors.New("unique constraint violated")
	ErrNotNull         = errors.New("not null constraint failed")
	ErrCheckConstraint = errors.New("check constraint failed")
)

// ConstraintError describes a SQLite constraint failure. Column is the
// qualified "table.column" name when the driver reports one.
type ConstraintError struct {
	Type    string
	Column  string
	Message string
	Cause   error
}

func (e *ConstraintError) Error() string {
	if e.Column == "" {
		return e.Message
	}
	return e.Message + " (" + e.Column + ")"
}

func (e *ConstraintError) Unwrap() error {
	return e.Cause
}

var constraintPattern = regexp.MustCompile(`(UNIQUE|NOT NULL|CHECK) constraint failed(?:: ([^\s]+))?`)

// ClassifyError turns driver constraint failures into *ConstraintError and
// returns any other error unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}

	m := constraintPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}

	ce := &ConstraintError{Column: m[2]}
	switch m[1] {
	case "UNIQUE":
		ce.Type, ce.Cause, ce.Message = "unique", ErrUniqueViolation, "a record with this value already exists"
	case "NOT NULL":
		ce.Type, ce.Cause, ce.Message = "not_null", ErrNotNull, "required field is missing"
	default:
		ce.Type, ce.Cause, ce.Message = "check", ErrCheckConstraint, "value does not meet requirements"
		ce.Column = ""
	}
	return ce
}
