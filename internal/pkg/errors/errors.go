package errors

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalid        = errors.New("invalid")
	ErrConflict       = errors.New("conflict")
	ErrAmbiguous      = errors.New("ambiguous display name")
	ErrPageOutOfRange = errors.New("page index out of range")
	ErrUnavailable    = errors.New("service unavailable")
	ErrTooMany        = errors.New("too many requests")
	ErrInternal       = errors.New("internal")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrAmbiguous)
}
