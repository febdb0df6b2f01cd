package classifier

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input image")
	ErrConcurrencyRejected = errors.New("classification already in flight")
	ErrTimeout             = errors.New("classification timed out")
	ErrCanceled            = errors.New("classification canceled")
)

// StageError records which pipeline stage failed. errors.Is sees through it
// to the underlying cause.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}
