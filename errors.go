package main

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth marks a mail session that the server refused to authenticate.
	// Retrying with the same credentials cannot succeed, so it stops the batch.
	ErrAuth = errors.New("smtp authentication failed")

	// ErrConnect marks a mail session that could not be opened before the
	// batch started.
	ErrConnect = errors.New("smtp connection failed")

	// ErrTransient marks a per-recipient delivery failure.
	ErrTransient = errors.New("delivery failed")

	// ErrSessionClosed is returned when Send is called after Close.
	ErrSessionClosed = errors.New("mail session closed")

	ErrMissingHeader = errors.New("roster header must contain name and email columns")
	ErrEmptyField    = errors.New("empty name or email")
	ErrShortRow      = errors.New("row needs name and email columns")

	ErrUnknownFont = errors.New("unknown font")
)

// ConfigError is a fatal problem with one of the input files. It is reported
// before any row is rendered.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// RowError describes a roster row that cannot become a Recipient.
type RowError struct {
	Row    int
	Record []string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("roster row %d %q: %v", e.Row, e.Record, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// RenderError is recorded as a failed delivery for one recipient.
type RenderError struct {
	Name string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render certificate for %q: %v", e.Name, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// SendError wraps a delivery failure. Kind is ErrAuth or ErrTransient so callers
// can match it with errors.Is.
type SendError struct {
	Kind  error
	Email string
	Err   error
}

func (e *SendError) Error() string {
	if e.Email == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%v for %s: %v", e.Kind, e.Email, e.Err)
}

func (e *SendError) Unwrap() []error { return []error{e.Kind, e.Err} }

// IsFatal reports whether err must stop the remaining batch.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrConnect)
}
