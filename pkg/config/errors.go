// Package config parses the INI-style machine configuration file and
// provides typed, bounds-checked access to its options. Every option read is
// tracked so that unknown or misspelled options can be reported as fatal
// configuration errors before the daemon starts operating.
package config

import "fmt"

// Error is a configuration error carrying section/option context.
// All Error values are fatal: they are reported at startup and the
// daemon refuses to run.
type Error struct {
	Section string
	Option  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	switch {
	case e.Option != "":
		return fmt.Sprintf("option '%s' in section [%s]: %s", e.Option, e.Section, e.Message)
	case e.Section != "":
		return fmt.Sprintf("section [%s]: %s", e.Section, e.Message)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a configuration error with section/option context.
func NewError(section, option, format string, args ...any) *Error {
	return &Error{Section: section, Option: option, Message: fmt.Sprintf(format, args...)}
}

func errMissingOption(section, option string) *Error {
	return NewError(section, option, "must be specified")
}

func errMissingSection(section string) *Error {
	return &Error{Section: section, Message: "section not found"}
}

func errBadValue(section, option, value, want string) *Error {
	return NewError(section, option, "invalid value '%s', expected %s", value, want)
}

func errOutOfRange(section, option string, value float64, constraint string) *Error {
	return NewError(section, option, "value %v %s", value, constraint)
}
