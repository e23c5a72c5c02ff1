package binfile

import (
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	peSectionWritable = 0x80000000 // IMAGE_SCN_MEM_WRITE
	peSectionUninit   = 0x00000080 // IMAGE_SCN_CNT_UNINITIALIZED_DATA
)

type peFile struct {
	f         *pe.File
	imageBase uint64
	is64      bool
}

func openPE(r io.ReaderAt) (rawFile, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	p := &peFile{f: f}
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		p.imageBase = uint64(oh.ImageBase)
	case *pe.OptionalHeader64:
		p.imageBase = oh.ImageBase
		p.is64 = true
	}
	return p, nil
}

func (p *peFile) format() Format { return FormatPE }

// PE images are always little endian.
func (p *peFile) byteOrder() binary.ByteOrder { return binary.LittleEndian }

func (p *peFile) ptrSize() int {
	if p.is64 {
		return 8
	}
	return 4
}

func (p *peFile) sections() []Section {
	var out []Section
	for _, s := range p.f.Sections {
		size := uint64(s.Size)
		if s.Characteristics&peSectionUninit != 0 {
			size = 0
		}
		out = append(out, Section{
			Name:     s.Name,
			Addr:     p.imageBase + uint64(s.VirtualAddress),
			Offset:   uint64(s.Offset),
			Size:     size,
			Writable: s.Characteristics&peSectionWritable != 0,
		})
	}
	return out
}

// PE has no separate segment view, the sections are the address space map.
func (p *peFile) segments() []Section { return p.sections() }

func (p *peFile) sectionData(name string) ([]byte, error) {
	s := p.f.Section(name)
	if s == nil {
		return nil, fmt.Errorf("no section %q", name)
	}
	return s.Data()
}

func (p *peFile) readAt(addr, size uint64) ([]byte, error) {
	for _, s := range p.f.Sections {
		va := p.imageBase + uint64(s.VirtualAddress)
		end := va + uint64(s.VirtualSize)
		if addr < va || addr >= end || size > end-addr {
			continue
		}
		// Within the virtual span but past the raw data the loader
		// zero-fills, so do the same.
		buf := make([]byte, size)
		off := addr - va
		if off < uint64(s.Size) {
			n := size
			if max := uint64(s.Size) - off; n > max {
				n = max
			}
			if _, err := s.ReadAt(buf[:n], int64(off)); err != nil {
				return nil, err
			}
		}
		return buf, nil
	}
	return nil, fmt.Errorf("%w: %#x+%d", ErrAddressNotMapped, addr, size)
}

func (p *peFile) symbols() (map[string]uint64, error) {
	out := make(map[string]uint64)
	for _, sym := range p.f.Symbols {
		if sym.SectionNumber <= 0 || int(sym.SectionNumber) > len(p.f.Sections) {
			continue
		}
		sect := p.f.Sections[sym.SectionNumber-1]
		out[sym.Name] = p.imageBase + uint64(sect.VirtualAddress) + uint64(sym.Value)
	}
	return out, nil
}
