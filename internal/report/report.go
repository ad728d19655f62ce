// Package report builds human and machine readable summaries of PSF
// containers and resolved ROM images.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"

	"github.com/samcharles93/psf2rom/internal/psflib"
	"github.com/samcharles93/psf2rom/pkg/psf"
)

type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Program struct {
	LoadOffset       uint32 `json:"load_offset"`
	LoadSize         uint32 `json:"load_size"`
	DecompressedSize int    `json:"decompressed_size"`
}

type Load struct {
	Path       string `json:"path"`
	Depth      int    `json:"depth"`
	LoadOffset uint32 `json:"load_offset"`
	LoadSize   uint32 `json:"load_size"`
}

type Image struct {
	Size  int    `json:"size"`
	Loads []Load `json:"loads"`
}

// Summary describes one container and, optionally, its decompressed program
// and the image it resolves to.
type Summary struct {
	Path          string   `json:"path"`
	Version       byte     `json:"version"`
	VersionName   string   `json:"version_name"`
	ReservedSize  int      `json:"reserved_size"`
	ProgramSize   int      `json:"program_size"`
	StoredCRC32   uint32   `json:"crc32"`
	ComputedCRC32 uint32   `json:"crc32_computed"`
	ChecksumOK    bool     `json:"crc32_ok"`
	Libraries     []string `json:"libraries,omitempty"`
	Tags          []Tag    `json:"tags"`
	Program       *Program `json:"program,omitempty"`
	Image         *Image   `json:"image,omitempty"`
}

// FromContainer summarises c. Tags are listed in file order.
func FromContainer(path string, c *psf.Container) *Summary {
	computed := psf.Checksum(c.Program)
	s := &Summary{
		Path:          path,
		Version:       c.Version,
		VersionName:   psf.VersionName(c.Version),
		ReservedSize:  len(c.Reserved),
		ProgramSize:   len(c.Program),
		StoredCRC32:   c.ProgramCRC32,
		ComputedCRC32: computed,
		ChecksumOK:    computed == c.ProgramCRC32,
		Tags:          []Tag{},
	}
	for _, name := range c.Tags.Names() {
		v, _ := c.Tags.Get(name)
		s.Tags = append(s.Tags, Tag{Name: name, Value: v})
	}
	for n := 1; ; n++ {
		lib, ok := c.Tags.Get(psf.LibTagName(n))
		if !ok {
			break
		}
		s.Libraries = append(s.Libraries, lib)
	}
	return s
}

// AddProgram decompresses the program of c and records its header. Output
// beyond the largest image the resolver accepts is not read.
func (s *Summary) AddProgram(c *psf.Container, codec psf.Codec) error {
	if codec == nil {
		codec = psf.Zlib{}
	}
	exe, err := codec.Decompress(c.Program, psf.ProgramHeaderSize+psflib.DefaultMaxImageSize)
	if err != nil {
		return err
	}
	h, err := psf.ParseProgramHeader(exe)
	if err != nil {
		return err
	}
	s.Program = &Program{
		LoadOffset:       h.LoadOffset,
		LoadSize:         h.LoadSize,
		DecompressedSize: len(exe),
	}
	return nil
}

// AddImage records a resolved image.
func (s *Summary) AddImage(img *psflib.Image) {
	s.Image = FromImage(img)
}

// FromImage summarises a resolved image.
func FromImage(img *psflib.Image) *Image {
	out := &Image{Size: len(img.ROM), Loads: make([]Load, 0, len(img.Loads))}
	for _, l := range img.Loads {
		out.Loads = append(out.Loads, Load{
			Path:       l.Path,
			Depth:      l.Depth,
			LoadOffset: l.LoadOffset,
			LoadSize:   l.LoadSize,
		})
	}
	return out
}

// JSON encodes the summary with indentation.
func (s *Summary) JSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// WriteText renders the summary for a terminal.
func (s *Summary) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "File:      %s\n", s.Path)
	fmt.Fprintf(&b, "Version:   0x%02x %s\n", s.Version, s.VersionName)
	fmt.Fprintf(&b, "Reserved:  %s\n", sizeString(s.ReservedSize))
	fmt.Fprintf(&b, "Program:   %s (compressed)\n", sizeString(s.ProgramSize))
	status := "ok"
	if !s.ChecksumOK {
		status = fmt.Sprintf("MISMATCH (computed 0x%08x)", s.ComputedCRC32)
	}
	fmt.Fprintf(&b, "CRC32:     0x%08x %s\n", s.StoredCRC32, status)
	if s.Program != nil {
		fmt.Fprintf(&b, "Load:      offset 0x%08x size %s (%s decompressed)\n",
			s.Program.LoadOffset, sizeString(int(s.Program.LoadSize)), sizeString(s.Program.DecompressedSize))
	}
	if len(s.Libraries) > 0 {
		fmt.Fprintf(&b, "Libraries: %s\n", strings.Join(s.Libraries, ", "))
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}

	if len(s.Tags) > 0 {
		if _, err := io.WriteString(w, "\nTags:\n"); err != nil {
			return err
		}
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Name", "Value"})
		table.SetAutoWrapText(false)
		for _, t := range s.Tags {
			table.Append([]string{t.Name, t.Value})
		}
		table.Render()
	}

	if s.Image != nil {
		return s.Image.WriteText(w)
	}
	return nil
}

// WriteText renders the image layout.
func (img *Image) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "\nROM image: %s\n", sizeString(img.Size)); err != nil {
		return err
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Depth", "Offset", "Size", "Path"})
	for i, l := range img.Loads {
		table.Append([]string{
			strconv.Itoa(i + 1),
			strconv.Itoa(l.Depth),
			fmt.Sprintf("0x%08x", l.LoadOffset),
			humanize.IBytes(uint64(l.LoadSize)),
			l.Path,
		})
	}
	table.Render()
	return nil
}

func sizeString(n int) string {
	return humanize.Comma(int64(n)) + " bytes (" + humanize.IBytes(uint64(n)) + ")"
}
