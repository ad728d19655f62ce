package psf

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// Open reads and parses the PSF file at path.
// The file is mapped read-only when possible and falls back to ReadAt-based
// loading otherwise. Section bytes are copied, so the returned container does
// not reference the mapping.
func Open(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size > int64(int(^uint(0)>>1)) {
		return nil, &FormatError{Path: path, Err: ErrTooShort}
	}

	if size > 0 {
		data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
		if err == nil {
			c, parseErr := Parse(bytes.NewReader(data), size, path)
			_ = unix.Munmap(data)
			return c, parseErr
		}
	}

	return Parse(f, size, path)
}

// OpenFs reads and parses the PSF file at path through fsys.
func OpenFs(fsys afero.Fs, path string) (*Container, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return Parse(f, stat.Size(), path)
}

// Parse decodes a container of size bytes from r. name is used in errors only.
//
// The parser is structural: the stored CRC32 is not verified and referenced
// libraries are not loaded.
func Parse(r io.ReaderAt, size int64, name string) (*Container, error) {
	in := &cursor{r: r, name: name}

	sig, ok := in.read(len(Signature))
	if !ok || string(sig) != Signature {
		return nil, &FormatError{Path: name, Err: ErrBadSignature}
	}

	version, err := in.readByte("version")
	if err != nil {
		return nil, err
	}
	reservedSize, err := in.readUint32("reserved_size")
	if err != nil {
		return nil, err
	}
	programSize, err := in.readUint32("compressed_size")
	if err != nil {
		return nil, err
	}
	crc, err := in.readUint32("crc32")
	if err != nil {
		return nil, err
	}

	mandatory := uint64(HeaderSize) + uint64(reservedSize) + uint64(programSize)
	if size < 0 || mandatory > uint64(size) {
		return nil, &FormatError{Path: name, Err: ErrTooShort}
	}

	reserved, err := in.readSection(int(reservedSize), "reserved")
	if err != nil {
		return nil, err
	}
	program, err := in.readSection(int(programSize), "program")
	if err != nil {
		return nil, err
	}

	c := &Container{
		Version:      version,
		Reserved:     reserved,
		Program:      program,
		ProgramCRC32: crc,
		Tags:         NewTags(),
	}

	// The tag section is optional; anything that is not a well-formed marker
	// simply means there are no tags.
	if mandatory+uint64(len(TagMarker)) <= uint64(size) {
		marker, ok := in.read(len(TagMarker))
		if ok && string(marker) == TagMarker {
			rest := uint64(size) - mandatory - uint64(len(TagMarker))
			body, _ := in.read(int(rest))
			c.Tags = ParseTags(body)
		}
	}

	return c, nil
}

// cursor reads consecutive fields from an io.ReaderAt.
type cursor struct {
	r    io.ReaderAt
	off  int64
	name string
}

// read returns up to n bytes and whether all n were available.
func (c *cursor) read(n int) ([]byte, bool) {
	if n == 0 {
		return []byte{}, true
	}
	buf := make([]byte, n)
	got, _ := c.r.ReadAt(buf, c.off)
	c.off += int64(got)
	return buf[:got], got == n
}

func (c *cursor) truncated(field string) error {
	return &FormatError{Path: c.name, Field: field, Err: ErrTruncated}
}

func (c *cursor) readByte(field string) (byte, error) {
	b, ok := c.read(1)
	if !ok {
		return 0, c.truncated(field)
	}
	return b[0], nil
}

func (c *cursor) readUint32(field string) (uint32, error) {
	b, ok := c.read(4)
	if !ok {
		return 0, c.truncated(field)
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) readSection(n int, field string) ([]byte, error) {
	b, ok := c.read(n)
	if !ok {
		return nil, c.truncated(field)
	}
	return b, nil
}
