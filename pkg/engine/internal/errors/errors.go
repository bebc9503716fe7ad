package errors

import "errors"

var (
	ErrIndex          = errors.New("index error")
	ErrKey            = errors.New("key error")
	ErrType           = errors.New("type error")
	ErrNotImplemented = errors.New("not implemented")

	// ErrSchema is returned when the schemas of connected operators disagree.
	ErrSchema = errors.New("schema error")
	// ErrPlan is returned for malformed plans, such as dangling inputs.
	ErrPlan = errors.New("invalid plan")
	// ErrLength is returned when frames that must align row-wise do not.
	ErrLength = errors.New("length mismatch")
)
