// Package binfile provides a uniform view of the executable container
// formats produced by the Go toolchain: ELF, PE and Mach-O.
package binfile

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aboutcode-org/go-inspector/pkg/logflags"
)

// Format identifies the container format of an executable image.
type Format string

const (
	FormatELF   Format = "elf"
	FormatPE    Format = "pe"
	FormatMachO Format = "macho"
)

var (
	// ErrUnsupportedFormat is returned when the input is not an ELF, PE or
	// Mach-O executable image.
	ErrUnsupportedFormat = errors.New("unrecognized executable format")
	// ErrAddressNotMapped is returned for virtual address ranges that no
	// loadable segment or section backs with file data.
	ErrAddressNotMapped = errors.New("address not mapped")
)

// Section describes a container section (or, for section-stripped
// executables, a loadable segment) in format-independent terms.
type Section struct {
	Name     string
	Addr     uint64 // virtual address
	Offset   uint64 // file offset
	Size     uint64 // size of the file-backed data
	Writable bool
}

type rawFile interface {
	format() Format
	byteOrder() binary.ByteOrder
	ptrSize() int
	sections() []Section
	segments() []Section
	sectionData(name string) ([]byte, error)
	readAt(addr, size uint64) ([]byte, error)
	symbols() (map[string]uint64, error)
}

// File is an open executable image.
type File struct {
	raw    rawFile
	closer io.Closer
}

// Open opens the executable image at path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	raw, err := newRawFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{raw: raw, closer: f}, nil
}

// OpenBytes opens an executable image held in memory.
func OpenBytes(data []byte) (*File, error) {
	raw, err := newRawFile(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &File{raw: raw}, nil
}

// Sniff reports the container format the first bytes of an image announce.
// It only looks at the magic number, it does not validate the image.
func Sniff(prefix []byte) (Format, bool) {
	if len(prefix) < 4 {
		return "", false
	}
	var magic [4]byte
	copy(magic[:], prefix)
	switch {
	case bytes.Equal(magic[:], []byte(elf.ELFMAG)):
		return FormatELF, true
	case magic[0] == 'M' && magic[1] == 'Z':
		return FormatPE, true
	case isMachoMagic(magic):
		return FormatMachO, true
	}
	return "", false
}

func newRawFile(r io.ReaderAt) (rawFile, error) {
	log := logflags.BinfileLogger()
	var magic [4]byte
	if _, err := r.ReadAt(magic[:], 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	format, ok := Sniff(magic[:])
	if !ok {
		log.Debugf("unrecognized magic %x", magic)
		return nil, ErrUnsupportedFormat
	}

	var raw rawFile
	var err error
	switch format {
	case FormatELF:
		raw, err = openELF(r)
	case FormatPE:
		raw, err = openPE(r)
	default:
		raw, err = openMacho(r)
	}
	if err != nil {
		return nil, err
	}
	log.Debugf("detected %s image, pointer size %d, %d sections", raw.format(), raw.ptrSize(), len(raw.sections()))
	return raw, nil
}

func isMachoMagic(magic [4]byte) bool {
	be := binary.BigEndian.Uint32(magic[:])
	le := binary.LittleEndian.Uint32(magic[:])
	return be == macho.Magic32 || be == macho.Magic64 || be == macho.MagicFat ||
		le == macho.Magic32 || le == macho.Magic64
}

// Format returns the container format of the image.
func (f *File) Format() Format { return f.raw.format() }

// ByteOrder returns the byte order the image was linked for.
func (f *File) ByteOrder() binary.ByteOrder { return f.raw.byteOrder() }

// PtrSize returns the pointer size, in bytes, of the image's target.
func (f *File) PtrSize() int { return f.raw.ptrSize() }

// Sections returns all sections of the image. The slice may be empty for
// executables whose section headers were stripped.
func (f *File) Sections() []Section { return f.raw.sections() }

// Segments returns the loadable segments of the image. It is the fallback
// address space map when Sections returns nothing.
func (f *File) Segments() []Section { return f.raw.segments() }

// Section returns the named section, or nil if the image has none.
func (f *File) Section(name string) *Section {
	for _, s := range f.raw.sections() {
		if s.Name == name {
			s := s
			return &s
		}
	}
	return nil
}

// SectionData returns the file-backed contents of the named section.
func (f *File) SectionData(name string) ([]byte, error) {
	return f.raw.sectionData(name)
}

// ReadAt reads size bytes of mapped memory starting at the virtual
// address addr. It returns ErrAddressNotMapped if the range is not backed
// by the image.
func (f *File) ReadAt(addr, size uint64) ([]byte, error) {
	return f.raw.readAt(addr, size)
}

// Symbols returns the image's symbol table as a name to virtual address
// map. Stripped executables yield an empty map.
func (f *File) Symbols() (map[string]uint64, error) {
	return f.raw.symbols()
}

// Close releases the underlying file, if Open was used.
func (f *File) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}
