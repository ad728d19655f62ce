package psf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
)

// Codec compresses and decompresses the program section.
//
// Decompress returns at most limit bytes of output when limit is positive;
// anything the stream inflates to beyond that is discarded unread.
type Codec interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte, limit int64) ([]byte, error)
}

// Zlib is the codec used by every PSF producer.
type Zlib struct {
	// Level is the compression level; zero selects zlib.BestCompression.
	Level int
}

func (z Zlib) Compress(data []byte) ([]byte, error) {
	level := z.Level
	if level == 0 {
		level = zlib.BestCompression
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return buf.Bytes(), nil
}

func (Zlib) Decompress(data []byte, limit int64) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	defer func() { _ = r.Close() }()

	var src io.Reader = r
	if limit > 0 {
		src = io.LimitReader(r, limit)
	}
	out, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return out, nil
}

// Checksum returns the CRC-32 (IEEE) of data, the same value zlib's crc32
// produces.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// ProgramHeader is the header at the start of a decompressed program.
type ProgramHeader struct {
	LoadOffset uint32
	LoadSize   uint32
}

// End returns LoadOffset+LoadSize without overflowing.
func (h ProgramHeader) End() uint64 {
	return uint64(h.LoadOffset) + uint64(h.LoadSize)
}

var errProgramHeader = errors.New("psf: program shorter than its header")

// ParseProgramHeader reads the load offset and size from a decompressed program.
func ParseProgramHeader(exe []byte) (ProgramHeader, error) {
	if len(exe) < ProgramHeaderSize {
		return ProgramHeader{}, errProgramHeader
	}
	return ProgramHeader{
		LoadOffset: binary.LittleEndian.Uint32(exe[0:4]),
		LoadSize:   binary.LittleEndian.Uint32(exe[4:8]),
	}, nil
}

// Pack builds a container whose program loads data at loadOffset.
// The program is compressed with codec and ProgramCRC32 is set to match.
func Pack(version byte, loadOffset uint32, data []byte, codec Codec) (*Container, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return nil, errors.New("psf: program larger than 4 GiB")
	}
	if codec == nil {
		codec = Zlib{}
	}

	exe := make([]byte, ProgramHeaderSize+len(data))
	binary.LittleEndian.PutUint32(exe[0:4], loadOffset)
	binary.LittleEndian.PutUint32(exe[4:8], uint32(len(data)))
	copy(exe[ProgramHeaderSize:], data)

	compressed, err := codec.Compress(exe)
	if err != nil {
		return nil, err
	}

	c := New(version)
	c.Program = compressed
	c.ProgramCRC32 = Checksum(compressed)
	return c, nil
}
