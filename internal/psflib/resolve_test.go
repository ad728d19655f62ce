package psflib

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/samcharles93/psf2rom/pkg/psf"
)

type tag struct{ name, value string }

func writeContainer(t *testing.T, fsys afero.Fs, path string, c *psf.Container) {
	t.Helper()
	data, err := c.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal %s: %v", path, err)
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := afero.WriteFile(fsys, path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// writePSF stores a file whose program loads data at offset.
func writePSF(t *testing.T, fsys afero.Fs, path string, offset uint32, data []byte, tags ...tag) {
	t.Helper()
	c, err := psf.Pack(psf.VersionNDS, offset, data, nil)
	if err != nil {
		t.Fatalf("pack %s: %v", path, err)
	}
	for _, tg := range tags {
		c.Tags.Append(tg.name, tg.value)
	}
	writeContainer(t, fsys, path, c)
}

// writeRawExe stores a file whose decompressed program is exactly exe.
func writeRawExe(t *testing.T, fsys afero.Fs, path string, exe []byte) {
	t.Helper()
	compressed, err := psf.Zlib{}.Compress(exe)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	c := psf.New(psf.VersionNDS)
	c.Program = compressed
	c.ProgramCRC32 = psf.Checksum(compressed)
	writeContainer(t, fsys, path, c)
}

func exeHeader(offset, size uint32) []byte {
	b := make([]byte, psf.ProgramHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], offset)
	binary.LittleEndian.PutUint32(b[4:8], size)
	return b
}

func fill(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

type countingCodec struct {
	psf.Zlib
	decompressed int
}

func (c *countingCodec) Decompress(data []byte, limit int64) ([]byte, error) {
	c.decompressed++
	return c.Zlib.Decompress(data, limit)
}

// sizeCodec records the output size of every decompression.
type sizeCodec struct {
	psf.Zlib
	limits  []int64
	outputs []int
}

func (c *sizeCodec) Decompress(data []byte, limit int64) ([]byte, error) {
	out, err := c.Zlib.Decompress(data, limit)
	c.limits = append(c.limits, limit)
	c.outputs = append(c.outputs, len(out))
	return out, err
}

func TestResolveBoundsDecompressedOutput(t *testing.T) {
	t.Parallel()

	// A small header followed by far more zeros than the image may hold.
	exe := append(exeHeader(0, 16), make([]byte, 4<<20)...)
	fsys := afero.NewMemMapFs()
	writeRawExe(t, fsys, "/bomb/a.psf", exe)

	codec := &sizeCodec{}
	r := Resolver{FS: fsys, Codec: codec, MaxImageSize: 1024}
	img, err := r.Resolve("/bomb/a.psf")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(img.ROM) != 16 {
		t.Fatalf("rom size: got %d want 16", len(img.ROM))
	}
	want := psf.ProgramHeaderSize + 1024
	if len(codec.outputs) != 1 || codec.limits[0] != int64(want) || codec.outputs[0] != want {
		t.Fatalf("decompression: limits %v outputs %v, want %d", codec.limits, codec.outputs, want)
	}
}

func TestResolveDefaultDecompressLimit(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writePSF(t, fsys, "/d/a.psf", 0, []byte{1})

	codec := &sizeCodec{}
	if _, err := (&Resolver{FS: fsys, Codec: codec}).Resolve("/d/a.psf"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if codec.limits[0] != psf.ProgramHeaderSize+DefaultMaxImageSize {
		t.Fatalf("limit: got %d", codec.limits[0])
	}
}

func TestResolveSingleFile(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writePSF(t, fsys, "/songs/a.2sf", 4, []byte{1, 2, 3})

	r := Resolver{FS: fsys}
	img, err := r.Resolve("/songs/a.2sf")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []byte{0, 0, 0, 0, 1, 2, 3}
	if !bytes.Equal(img.ROM, want) {
		t.Fatalf("rom: got %x want %x", img.ROM, want)
	}
	if len(img.Loads) != 1 || img.Loads[0].Path != "/songs/a.2sf" || img.Loads[0].Depth != 0 {
		t.Fatalf("loads: got %+v", img.Loads)
	}
}

func TestResolveRootOverridesLibrary(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writePSF(t, fsys, "/set/bank.2sflib", 0x1000, fill(0xaa, 0x10))
	writePSF(t, fsys, "/set/song.mini2sf", 0x1000, fill(0x55, 0x10), tag{"_lib", "bank.2sflib"})

	r := Resolver{FS: fsys}
	img, err := r.Resolve("/set/song.mini2sf")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(img.ROM) != 0x1010 {
		t.Fatalf("rom size: got %#x want %#x", len(img.ROM), 0x1010)
	}
	if !bytes.Equal(img.ROM[0x1000:0x1010], fill(0x55, 0x10)) {
		t.Fatalf("overlap: got %x, want root bytes", img.ROM[0x1000:0x1010])
	}
	if img.Loads[0].Path != "/set/bank.2sflib" || img.Loads[1].Path != "/set/song.mini2sf" {
		t.Fatalf("load order: got %+v", img.Loads)
	}
}

func TestResolveLibraryOrder(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writePSF(t, fsys, "/d/l1", 0, fill(1, 8))
	writePSF(t, fsys, "/d/l2", 2, fill(2, 4))
	writePSF(t, fsys, "/d/l3", 3, fill(3, 1))
	writePSF(t, fsys, "/d/l5", 0, fill(5, 8))
	writePSF(t, fsys, "/d/root", 7, []byte{9},
		tag{"_lib3", "l3"},
		tag{"_lib", "l1"},
		tag{"_lib5", "l5"},
		tag{"_lib2", "l2"},
	)

	r := Resolver{FS: fsys}
	img, err := r.Resolve("/d/root")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []byte{1, 1, 2, 3, 2, 2, 1, 9}
	if !bytes.Equal(img.ROM, want) {
		t.Fatalf("rom: got %x want %x", img.ROM, want)
	}
	var paths []string
	for _, l := range img.Loads {
		paths = append(paths, l.Path)
	}
	if fmt.Sprint(paths) != "[/d/l1 /d/l2 /d/l3 /d/root]" {
		t.Fatalf("loads: got %v (_lib5 must be skipped after the gap at _lib4)", paths)
	}
}

func TestResolveLibraryPathsRelativeToReferencingFile(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writePSF(t, fsys, "/a/common/base.psflib", 0, fill(0x11, 4))
	writePSF(t, fsys, "/a/libs/mid.psflib", 1, fill(0x22, 2), tag{"_lib", "../common/base.psflib"})
	writePSF(t, fsys, "/a/root.psf", 3, []byte{0x33}, tag{"_lib", "libs/mid.psflib"})

	r := Resolver{FS: fsys}
	img, err := r.Resolve("/a/root.psf")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []byte{0x11, 0x22, 0x22, 0x33}
	if !bytes.Equal(img.ROM, want) {
		t.Fatalf("rom: got %x want %x", img.ROM, want)
	}
	if img.Loads[0].Depth != 2 || img.Loads[1].Depth != 1 || img.Loads[2].Depth != 0 {
		t.Fatalf("depths: got %+v", img.Loads)
	}
}

func TestResolveBackslashLibraryPath(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writePSF(t, fsys, "/w/libs/bank.2sflib", 0, fill(7, 2))
	writePSF(t, fsys, "/w/song.mini2sf", 1, []byte{8}, tag{"_lib", `libs\bank.2sflib`})

	r := Resolver{FS: fsys}
	img, err := r.Resolve("/w/song.mini2sf")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !bytes.Equal(img.ROM, []byte{7, 8}) {
		t.Fatalf("rom: got %x", img.ROM)
	}
}

func writeChain(t *testing.T, fsys afero.Fs, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		var tags []tag
		if i+1 < n {
			tags = append(tags, tag{"_lib", fmt.Sprintf("%d.psf", i+1)})
		}
		writePSF(t, fsys, fmt.Sprintf("/chain/%d.psf", i), 0, []byte{byte(i)}, tags...)
	}
}

func TestResolveNestLimit(t *testing.T) {
	t.Parallel()

	t.Run("ten files resolve", func(t *testing.T) {
		t.Parallel()
		fsys := afero.NewMemMapFs()
		writeChain(t, fsys, DefaultMaxNestLevel)
		r := Resolver{FS: fsys}
		img, err := r.Resolve("/chain/0.psf")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if len(img.Loads) != DefaultMaxNestLevel || !bytes.Equal(img.ROM, []byte{0}) {
			t.Fatalf("unexpected image: rom=%x loads=%d", img.ROM, len(img.Loads))
		}
	})

	t.Run("eleven files fail at depth ten", func(t *testing.T) {
		t.Parallel()
		fsys := afero.NewMemMapFs()
		writeChain(t, fsys, DefaultMaxNestLevel+1)
		r := Resolver{FS: fsys}
		_, err := r.Resolve("/chain/0.psf")
		if !errors.Is(err, ErrNestTooDeep) {
			t.Fatalf("got %v want %v", err, ErrNestTooDeep)
		}
		var re *ResolutionError
		if !errors.As(err, &re) || re.Path != "/chain/10.psf" {
			t.Fatalf("error path: got %v", err)
		}
	})
}

func TestResolveCycleHitsNestLimit(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writePSF(t, fsys, "/c/a.psf", 0, []byte{1}, tag{"_lib", "b.psf"})
	writePSF(t, fsys, "/c/b.psf", 0, []byte{2}, tag{"_lib", "a.psf"})

	r := Resolver{FS: fsys}
	_, err := r.Resolve("/c/a.psf")
	if !errors.Is(err, ErrNestTooDeep) {
		t.Fatalf("got %v want %v", err, ErrNestTooDeep)
	}
}

func TestResolveChecksumMismatchBeforeDecompression(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	c, err := psf.Pack(psf.VersionNDS, 0, fill(1, 32), nil)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	c.Program[len(c.Program)/2] ^= 0xff
	writeContainer(t, fsys, "/bad.psf", c)

	codec := &countingCodec{}
	r := Resolver{FS: fsys, Codec: codec}
	_, err = r.Resolve("/bad.psf")
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("got %v want %v", err, ErrChecksumMismatch)
	}
	if codec.decompressed != 0 {
		t.Fatalf("decompress called %d times before checksum failure", codec.decompressed)
	}
}

func TestResolveLibraryChecksumFailsWholeResolution(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	lib, err := psf.Pack(psf.VersionNDS, 0, fill(1, 4), nil)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	lib.ProgramCRC32++
	writeContainer(t, fsys, "/x/lib.psflib", lib)
	writePSF(t, fsys, "/x/root.psf", 0, fill(2, 4), tag{"_lib", "lib.psflib"})

	r := Resolver{FS: fsys}
	img, err := r.Resolve("/x/root.psf")
	if img != nil {
		t.Fatalf("expected no image on failure")
	}
	var re *ResolutionError
	if !errors.As(err, &re) || re.Path != "/x/lib.psflib" || !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("got %v", err)
	}
}

func TestResolveImageSizeLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		offset uint32
		size   uint32
		err    error
	}{
		{"exactly at limit", DefaultMaxImageSize - 16, 16, nil},
		{"one past limit", DefaultMaxImageSize - 15, 16, ErrImageTooLarge},
		{"u32 overflow", 0xffffffff, 0xffffffff, ErrImageTooLarge},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fsys := afero.NewMemMapFs()
			exe := append(exeHeader(tc.offset, tc.size), fill(0x42, 16)...)
			writeRawExe(t, fsys, "/big.psf", exe)

			r := Resolver{FS: fsys}
			img, err := r.Resolve("/big.psf")
			if !errors.Is(err, tc.err) {
				t.Fatalf("got %v want %v", err, tc.err)
			}
			if tc.err == nil && len(img.ROM) != DefaultMaxImageSize {
				t.Fatalf("rom size: got %d want %d", len(img.ROM), DefaultMaxImageSize)
			}
		})
	}
}

func TestResolveOutOfBounds(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writePSF(t, fsys, "/o/lib", 0, fill(1, 0x100))
	writePSF(t, fsys, "/o/root", 0x100, fill(2, 0x10), tag{"_lib", "lib"})

	r := Resolver{FS: fsys}
	_, err := r.Resolve("/o/root")
	var re *ResolutionError
	if !errors.Is(err, ErrOutOfBounds) || !errors.As(err, &re) || re.Path != "/o/root" {
		t.Fatalf("got %v want out of bounds on root", err)
	}
}

func TestResolveProgramErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		exe  []byte
		err  error
	}{
		{"header too short", []byte{1, 2, 3, 4}, ErrHeaderTooShort},
		{"payload shorter than load size", append(exeHeader(0, 16), fill(1, 8)...), ErrProgramCorrupted},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fsys := afero.NewMemMapFs()
			writeRawExe(t, fsys, "/p.psf", tc.exe)
			r := Resolver{FS: fsys}
			_, err := r.Resolve("/p.psf")
			if !errors.Is(err, tc.err) {
				t.Fatalf("got %v want %v", err, tc.err)
			}
		})
	}
}

func TestResolveDecompressionFailure(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	c := psf.New(psf.VersionNDS)
	c.Program = []byte("not a zlib stream")
	c.ProgramCRC32 = psf.Checksum(c.Program)
	writeContainer(t, fsys, "/z.psf", c)

	r := Resolver{FS: fsys}
	_, err := r.Resolve("/z.psf")
	if !errors.Is(err, ErrDecompression) || !errors.Is(err, psf.ErrCodec) {
		t.Fatalf("got %v want decompression failure", err)
	}
}

func TestResolveMissingLibrary(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writePSF(t, fsys, "/m/root.psf", 0, []byte{1}, tag{"_lib", "gone.psflib"})

	r := Resolver{FS: fsys}
	_, err := r.Resolve("/m/root.psf")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("got %v want not-exist", err)
	}
	var re *ResolutionError
	if !errors.As(err, &re) || re.Path != "/m/gone.psflib" {
		t.Fatalf("error path: got %v", err)
	}
}

func TestResolveWrapsFormatError(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/f/lib.psflib", []byte("XSF\x24"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	writePSF(t, fsys, "/f/root.psf", 0, []byte{1}, tag{"_lib", "lib.psflib"})

	r := Resolver{FS: fsys}
	_, err := r.Resolve("/f/root.psf")
	var fe *psf.FormatError
	if !errors.As(err, &fe) || !errors.Is(err, psf.ErrBadSignature) {
		t.Fatalf("got %v want format error", err)
	}
	if err.Error() != "/f/lib.psflib: invalid PSF signature" {
		t.Fatalf("message: got %q", err.Error())
	}
}

func TestResolveRelativeRootWithDir(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writePSF(t, fsys, "/base/sub/a.psf", 0, []byte{5})

	r := Resolver{FS: fsys, Dir: "/base"}
	img, err := r.Resolve("sub/a.psf")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if img.Loads[0].Path != "/base/sub/a.psf" {
		t.Fatalf("path: got %q", img.Loads[0].Path)
	}
}

func TestResolveOSFilesystem(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lib, err := psf.Pack(psf.VersionNDS, 0, fill(3, 4), nil)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if err := lib.WriteFile(filepath.Join(dir, "lib.psflib")); err != nil {
		t.Fatalf("write lib: %v", err)
	}
	root, err := psf.Pack(psf.VersionNDS, 2, []byte{4}, nil)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	root.Tags.Set("_lib", "lib.psflib")
	rootPath := filepath.Join(dir, "root.psf")
	if err := root.WriteFile(rootPath); err != nil {
		t.Fatalf("write root: %v", err)
	}

	img, err := Resolve(rootPath)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !bytes.Equal(img.ROM, []byte{3, 3, 4, 3}) {
		t.Fatalf("rom: got %x", img.ROM)
	}

	_, err = Resolve(filepath.Join(dir, "missing.psf"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("got %v want not-exist", err)
	}
}

func TestResolveCustomLimits(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	writeChain(t, fsys, 3)
	writePSF(t, fsys, "/big2.psf", 0, fill(0, 64))

	r := Resolver{FS: fsys, MaxNestLevel: 2, MaxImageSize: 32}
	if _, err := r.Resolve("/chain/0.psf"); !errors.Is(err, ErrNestTooDeep) {
		t.Fatalf("nest: got %v", err)
	}
	if _, err := r.Resolve("/big2.psf"); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("size: got %v", err)
	}
}
