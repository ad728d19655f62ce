// Package psflib composes a PSF file and the libraries it references into a
// single ROM image.
package psflib

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/samcharles93/psf2rom/pkg/psf"
)

const (
	// DefaultMaxNestLevel bounds the _lib recursion. Reference cycles fail
	// once this depth is reached.
	DefaultMaxNestLevel = 10

	// DefaultMaxImageSize is the largest ROM image that may be composed
	// (the Nintendo DS cartridge limit).
	DefaultMaxImageSize = 128 * 1024 * 1024
)

// Resolver loads PSF files and their libraries. The zero value reads from
// the OS filesystem with the zlib codec and the default limits.
type Resolver struct {
	FS    afero.Fs
	Codec psf.Codec

	// Dir is the directory relative root paths are resolved against. Empty
	// means the process working directory on the OS filesystem and the
	// filesystem root otherwise.
	Dir string

	MaxNestLevel int
	MaxImageSize uint64
}

// Load records one program applied to the image.
type Load struct {
	Path       string
	Depth      int
	LoadOffset uint32
	LoadSize   uint32
}

// Image is a composed ROM image.
type Image struct {
	ROM []byte

	// Loads lists every applied program in application order: libraries
	// before the files referencing them.
	Loads []Load
}

// Resolve composes the image for path with a zero Resolver.
func Resolve(path string) (*Image, error) {
	var r Resolver
	return r.Resolve(path)
}

// Resolve loads path and every library it references, depth first, and
// returns the composed image. Any failure aborts the whole resolution.
func (r *Resolver) Resolve(path string) (*Image, error) {
	root, err := r.rootPath(path)
	if err != nil {
		return nil, &ResolutionError{Path: path, Err: err}
	}

	s := &state{
		fs:           r.FS,
		codec:        r.Codec,
		maxNestLevel: r.MaxNestLevel,
		maxImageSize: r.MaxImageSize,
		image:        &Image{ROM: []byte{}},
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.codec == nil {
		s.codec = psf.Zlib{}
	}
	if s.maxNestLevel <= 0 {
		s.maxNestLevel = DefaultMaxNestLevel
	}
	if s.maxImageSize == 0 {
		s.maxImageSize = DefaultMaxImageSize
	}

	if err := s.load(root, 0); err != nil {
		return nil, err
	}
	return s.image, nil
}

func (r *Resolver) rootPath(path string) (string, error) {
	switch {
	case filepath.IsAbs(path):
		return filepath.Clean(path), nil
	case r.Dir != "":
		return filepath.Join(r.Dir, path), nil
	case r.FS == nil:
		return filepath.Abs(path)
	default:
		return filepath.Join(string(filepath.Separator), path), nil
	}
}

// state is owned by a single Resolve call.
type state struct {
	fs           afero.Fs
	codec        psf.Codec
	maxNestLevel int
	maxImageSize uint64

	image *Image
	// sized is set once the first applied program has fixed the ROM size.
	sized bool
}

func (s *state) load(path string, depth int) error {
	if depth >= s.maxNestLevel {
		return &ResolutionError{Path: path, Err: ErrNestTooDeep}
	}

	c, err := psf.OpenFs(s.fs, path)
	if err != nil {
		return &ResolutionError{Path: path, Err: err}
	}
	if !c.VerifyChecksum() {
		return &ResolutionError{Path: path, Err: ErrChecksumMismatch}
	}

	// Libraries resolve relative to the file that names them.
	dir := filepath.Dir(path)
	for n := 1; ; n++ {
		lib, ok := c.Tags.Get(psf.LibTagName(n))
		if !ok {
			break
		}
		if err := s.load(libPath(dir, lib), depth+1); err != nil {
			return err
		}
	}

	exe, err := s.codec.Decompress(c.Program, s.decompressLimit())
	if err != nil {
		return &ResolutionError{Path: path, Err: fmt.Errorf("%w: %w", ErrDecompression, err)}
	}
	h, err := psf.ParseProgramHeader(exe)
	if err != nil {
		return &ResolutionError{Path: path, Err: ErrHeaderTooShort}
	}

	end := h.End()
	if end > s.maxImageSize {
		return &ResolutionError{Path: path, Err: ErrImageTooLarge}
	}
	if !s.sized {
		s.image.ROM = make([]byte, end)
		s.sized = true
	} else if end > uint64(len(s.image.ROM)) {
		return &ResolutionError{Path: path, Err: ErrOutOfBounds}
	}

	if uint64(len(exe)) < psf.ProgramHeaderSize+uint64(h.LoadSize) {
		return &ResolutionError{Path: path, Err: ErrProgramCorrupted}
	}
	copy(s.image.ROM[h.LoadOffset:end], exe[psf.ProgramHeaderSize:psf.ProgramHeaderSize+uint64(h.LoadSize)])

	s.image.Loads = append(s.image.Loads, Load{
		Path:       path,
		Depth:      depth,
		LoadOffset: h.LoadOffset,
		LoadSize:   h.LoadSize,
	})
	return nil
}

// decompressLimit bounds program output: nothing past the header plus the
// largest admissible load is ever copied into the image.
func (s *state) decompressLimit() int64 {
	if s.maxImageSize > math.MaxInt64-psf.ProgramHeaderSize {
		return math.MaxInt64
	}
	return int64(psf.ProgramHeaderSize + s.maxImageSize)
}

// libPath joins a _lib value onto dir. Backslash separators written by
// Windows rippers are accepted.
func libPath(dir, lib string) string {
	if filepath.Separator == '/' {
		lib = strings.ReplaceAll(lib, `\`, "/")
	}
	if filepath.IsAbs(lib) {
		return filepath.Clean(lib)
	}
	return filepath.Join(dir, lib)
}
