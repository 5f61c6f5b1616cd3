package intake

import "errors"

// ErrInvalidInput is matched by every rejection produced by this package
var ErrInvalidInput = errors.New("invalid input")

// Rejection reasons reported to clients
const (
	ReasonUnsupportedContentType = "unsupported content type"
	ReasonMalformedImage         = "malformed image data"
)

// InvalidInputError describes why a payload was rejected
type InvalidInputError struct {
	Reason string
	Err    error
}

func (e *InvalidInputError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *InvalidInputError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrInvalidInput) hold for every InvalidInputError
func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(reason string, err error) error {
	return &InvalidInputError{Reason: reason, Err: err}
}
