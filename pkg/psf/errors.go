package psf

import "errors"

var (
	ErrBadSignature = errors.New("invalid PSF signature")
	ErrTruncated    = errors.New("truncated PSF file")
	ErrTooShort     = errors.New("PSF file is shorter than its declared sections")
	ErrCodec        = errors.New("PSF program codec error")
)

// FormatError reports a structural violation in a single container.
// Field names the header field or section being read when it was detected,
// and is empty when the failure is not tied to one field.
type FormatError struct {
	Path  string
	Field string
	Err   error
}

func (e *FormatError) Error() string {
	msg := e.Err.Error()
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Path == "" {
		return msg
	}
	return e.Path + ": " + msg
}

func (e *FormatError) Unwrap() error {
	return e.Err
}
