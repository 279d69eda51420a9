package memory

import "fmt"

// Error implements repositories.RepositoryError for the in-memory store.
type Error struct {
	op       string
	err      error
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("memory %s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, id string) *Error {
	return &Error{op: op, err: fmt.Errorf("%s not found", id), notFound: true}
}
