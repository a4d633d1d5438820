package search

import (
	"errors"
	"fmt"
)

var (
	// ErrJobStarted is returned when Start is called on a job that already ran.
	ErrJobStarted = errors.New("search job already started")

	// ErrEmptyTarget is returned when a request has no target path.
	ErrEmptyTarget = errors.New("search target required")

	// ErrEmptyKeyword is returned when a request has a blank keyword expression.
	ErrEmptyKeyword = errors.New("keyword expression required")

	// ErrNegativeContext is returned when ContextLines is below zero.
	ErrNegativeContext = errors.New("context lines must not be negative")

	// errDecode marks a strict trial decode that hit an invalid byte sequence.
	errDecode = errors.New("invalid byte sequence for encoding")
)

// FileError reports a per-file failure. It never aborts a job.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("cannot read file %s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// CompileError describes why a logical expression could not be parsed.
type CompileError struct {
	Expr   string
	Pos    int
	Reason string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("invalid expression %q at offset %d: %s", e.Expr, e.Pos, e.Reason)
}
