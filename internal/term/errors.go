package term

import (
	"errors"
	"fmt"
)

// ErrEmptyCommand is returned by Execute when the command has no words.
var ErrEmptyCommand = errors.New("empty command")

// SpawnError reports that a process could not be started at all.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
