// Package psf implements the Portable Sound Format container.
//
// A PSF file wraps a zlib-compressed program image together with an opaque
// reserved area and an optional block of name=value tags. The package only
// deals with the container layout; it never loads referenced libraries and
// never interprets the decompressed program beyond its 8-byte header.
package psf

import (
	"strconv"
	"strings"
)

// PSF layout constants must never change.
const (
	// Signature is the file magic at offset 0.
	Signature = "PSF"

	// TagMarker introduces the optional tag section.
	TagMarker = "[TAG]"

	// HeaderSize is the fixed size of the signature, version byte and the
	// three little-endian u32 fields that precede the reserved area.
	HeaderSize = 0x10

	// ProgramHeaderSize is the size of the load offset/size pair at the
	// start of every decompressed program.
	ProgramHeaderSize = 8
)

// Well-known version bytes.
const (
	VersionPSX       byte = 0x01
	VersionPS2       byte = 0x02
	VersionSaturn    byte = 0x11
	VersionDreamcast byte = 0x12
	VersionGenesis   byte = 0x13
	VersionN64       byte = 0x21
	VersionGBA       byte = 0x22
	VersionSNES      byte = 0x23
	VersionNDS       byte = 0x24
	VersionQSound    byte = 0x41
)

var versionNames = map[byte]string{
	VersionPSX:       "PSF1 (PlayStation)",
	VersionPS2:       "PSF2 (PlayStation 2)",
	VersionSaturn:    "SSF (Saturn)",
	VersionDreamcast: "DSF (Dreamcast)",
	VersionGenesis:   "Genesis",
	VersionN64:       "USF (Nintendo 64)",
	VersionGBA:       "GSF (Game Boy Advance)",
	VersionSNES:      "SNSF (Super Nintendo)",
	VersionNDS:       "2SF (Nintendo DS)",
	VersionQSound:    "QSF (Capcom QSound)",
}

// VersionName describes a version byte. Unknown values are reported in hex.
// The version byte is informational and is never enforced by this package.
func VersionName(v byte) string {
	if name, ok := versionNames[v]; ok {
		return name
	}
	return "unknown (0x" + strconv.FormatUint(uint64(v), 16) + ")"
}

// Container is the in-memory form of one PSF file.
type Container struct {
	Version  byte
	Reserved []byte

	// Program holds the compressed program section exactly as stored.
	Program []byte

	// ProgramCRC32 is the checksum recorded by the producer. It is never
	// recomputed from Program by the parser or the writer.
	ProgramCRC32 uint32

	Tags *Tags
}

// New returns an empty container with the given version byte.
func New(version byte) *Container {
	return &Container{
		Version: version,
		Tags:    NewTags(),
	}
}

// MandatorySize is the number of bytes the container occupies before the
// optional tag section.
func (c *Container) MandatorySize() uint64 {
	return HeaderSize + uint64(len(c.Reserved)) + uint64(len(c.Program))
}

// VerifyChecksum reports whether ProgramCRC32 matches the stored program bytes.
func (c *Container) VerifyChecksum() bool {
	return Checksum(c.Program) == c.ProgramCRC32
}

// LibTagName returns the tag naming the n-th library: "_lib" for the first,
// "_lib2", "_lib3", ... afterwards.
func LibTagName(n int) string {
	if n <= 1 {
		return "_lib"
	}
	return "_lib" + strconv.Itoa(n)
}

// IsLibTagName reports whether name is one of the names LibTagName returns.
func IsLibTagName(name string) bool {
	rest, ok := strings.CutPrefix(name, "_lib")
	if !ok {
		return false
	}
	if rest == "" {
		return true
	}
	n, err := strconv.Atoi(rest)
	return err == nil && n >= 2 && strconv.Itoa(n) == rest
}
