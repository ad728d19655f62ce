package psf

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
)

// MarshalBinary encodes the container in PSF layout.
//
// The stored ProgramCRC32 is written as is. Tags are only written when at
// least one is present; a value spanning several lines is written as one
// name=value line per line.
func (c *Container) MarshalBinary() ([]byte, error) {
	if uint64(len(c.Reserved)) > math.MaxUint32 || uint64(len(c.Program)) > math.MaxUint32 {
		return nil, errors.New("psf: section larger than 4 GiB")
	}

	buf := make([]byte, HeaderSize, c.MandatorySize())
	copy(buf, Signature)
	buf[3] = c.Version
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(c.Reserved)))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(c.Program)))
	binary.LittleEndian.PutUint32(buf[12:16], c.ProgramCRC32)
	buf = append(buf, c.Reserved...)
	buf = append(buf, c.Program...)

	if c.Tags.Len() > 0 {
		buf = append(buf, TagMarker...)
		buf = c.Tags.appendTagLines(buf)
	}
	return buf, nil
}

// WriteTo writes the encoded container to w.
func (c *Container) WriteTo(w io.Writer) (int64, error) {
	data, err := c.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// WriteFile writes the encoded container to path, replacing any existing file.
func (c *Container) WriteFile(path string) error {
	data, err := c.MarshalBinary()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeFull(f, data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeFull(f *os.File, p []byte) error {
	for len(p) > 0 {
		n, err := f.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
