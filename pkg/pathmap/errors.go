package pathmap

import (
	"errors"
	"fmt"
)

// SkipError marks a local file that is excluded from a batch. It is never a
// batch failure.
type SkipError struct {
	Path   string
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("skip %s: %s", e.Path, e.Reason)
}

// IsSkip reports whether err is a per-file skip.
func IsSkip(err error) bool {
	var skipErr *SkipError
	return errors.As(err, &skipErr)
}

// LocalError is a local path that exists but could not be read. Unlike a
// skip it fails the file on every server.
type LocalError struct {
	Path string
	Err  error
}

func (e *LocalError) Error() string {
	return fmt.Sprintf("read local path %s: %v", e.Path, e.Err)
}

func (e *LocalError) Unwrap() error {
	return e.Err
}

const (
	ReasonOutsideBase     = "path is not inside the local base path"
	ReasonCompiledMissing = "compiled output does not exist"
	ReasonNotFound        = "local path does not exist"
)
