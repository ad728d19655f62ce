package psflib

import (
	"errors"
	"io/fs"

	"github.com/samcharles93/psf2rom/pkg/psf"
)

var (
	ErrNestTooDeep      = errors.New("psflib nest level too deep")
	ErrChecksumMismatch = errors.New("CRC32 mismatch in compressed program")
	ErrDecompression    = errors.New("unable to decompress program")
	ErrHeaderTooShort   = errors.New("unable to read the program header")
	ErrImageTooLarge    = errors.New("load offset/size is too large")
	ErrOutOfBounds      = errors.New("load offset/size is out of bounds")
	ErrProgramCorrupted = errors.New("program data is corrupted")
)

// ResolutionError reports a failure while composing a ROM image. Err is one
// of the sentinels above, a *psf.FormatError, or a filesystem error.
type ResolutionError struct {
	Path string
	Err  error
}

func (e *ResolutionError) Error() string {
	// Both of these already carry the path.
	var fe *psf.FormatError
	if errors.As(e.Err, &fe) && fe.Path == e.Path {
		return e.Err.Error()
	}
	var pe *fs.PathError
	if errors.As(e.Err, &pe) && pe.Path == e.Path {
		return e.Err.Error()
	}
	return e.Path + ": " + e.Err.Error()
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
