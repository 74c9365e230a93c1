package queue

import "errors"

var (
	// ErrUnknownOperation is returned by Put when no handler is registered for the operation.
	ErrUnknownOperation = errors.New("grove: unknown queue operation")

	// ErrClosed is returned when submitting to a closed queue.
	ErrClosed = errors.New("grove: queue closed")

	// ErrAlreadySubmitted is returned when a task is executed twice.
	ErrAlreadySubmitted = errors.New("grove: task already submitted")
)

// permanent marks an error that retrying cannot fix.
type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent wraps err so the queue gives up after the current attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanent
	return errors.As(err, &p)
}
