package config

import (
	"errors"
	"fmt"
)

// ErrorKind classifies configuration failures so the CLI can map them onto
// its exit-code contract.
type ErrorKind int

const (
	// OutOfRange marks a numeric setting outside its accepted interval.
	OutOfRange ErrorKind = iota
	// PasswordMismatch marks an interactive confirmation that did not match.
	PasswordMismatch
	// MissingCredential marks a required secret that could not be obtained.
	MissingCredential
	// UnknownOption marks an unrecognized setting or value.
	UnknownOption
)

func (k ErrorKind) String() string {
	switch k {
	case OutOfRange:
		return "out of range"
	case PasswordMismatch:
		return "password mismatch"
	case MissingCredential:
		return "missing credential"
	case UnknownOption:
		return "unknown option"
	default:
		return "config error"
	}
}

// Error is a user-correctable configuration problem, reported before any
// destructive action takes place.
type Error struct {
	Kind   ErrorKind
	Field  string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("config: %s: %s (%s)", e.Field, e.Kind, e.Detail)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Kind)
}

// IsKind reports whether err is a config Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var cfgErr *Error
	return errors.As(err, &cfgErr) && cfgErr.Kind == kind
}
