package binfile

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

type elfFile struct {
	f *elf.File
}

func openELF(r io.ReaderAt) (rawFile, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return &elfFile{f: f}, nil
}

func (e *elfFile) format() Format { return FormatELF }

func (e *elfFile) byteOrder() binary.ByteOrder { return e.f.ByteOrder }

func (e *elfFile) ptrSize() int {
	if e.f.Class == elf.ELFCLASS64 {
		return 8
	}
	return 4
}

func (e *elfFile) sections() []Section {
	var out []Section
	for _, s := range e.f.Sections {
		if s.Type == elf.SHT_NULL {
			continue
		}
		size := s.Size
		if s.Type == elf.SHT_NOBITS {
			size = 0
		}
		out = append(out, Section{
			Name:     s.Name,
			Addr:     s.Addr,
			Offset:   s.Offset,
			Size:     size,
			Writable: s.Flags&elf.SHF_WRITE != 0,
		})
	}
	return out
}

func (e *elfFile) segments() []Section {
	var out []Section
	for _, p := range e.f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		out = append(out, Section{
			Addr:     p.Vaddr,
			Offset:   p.Off,
			Size:     p.Filesz,
			Writable: p.Flags&elf.PF_W != 0,
		})
	}
	return out
}

func (e *elfFile) sectionData(name string) ([]byte, error) {
	s := e.f.Section(name)
	if s == nil {
		return nil, fmt.Errorf("no section %q", name)
	}
	return s.Data()
}

func (e *elfFile) readAt(addr, size uint64) ([]byte, error) {
	for _, p := range e.f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if addr >= p.Vaddr && size <= p.Filesz && addr-p.Vaddr <= p.Filesz-size {
			buf := make([]byte, size)
			if _, err := p.ReadAt(buf, int64(addr-p.Vaddr)); err != nil {
				return nil, err
			}
			return buf, nil
		}
	}
	// Relocatable objects carry no program headers, fall back to sections.
	for _, s := range e.f.Sections {
		if s.Type == elf.SHT_NOBITS || s.Addr == 0 {
			continue
		}
		if addr >= s.Addr && size <= s.Size && addr-s.Addr <= s.Size-size {
			buf := make([]byte, size)
			if _, err := s.ReadAt(buf, int64(addr-s.Addr)); err != nil {
				return nil, err
			}
			return buf, nil
		}
	}
	return nil, fmt.Errorf("%w: %#x+%d", ErrAddressNotMapped, addr, size)
}

func (e *elfFile) symbols() (map[string]uint64, error) {
	out := make(map[string]uint64)
	syms, err := e.f.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return out, nil
		}
		return nil, err
	}
	for _, sym := range syms {
		if sym.Name != "" {
			out[sym.Name] = sym.Value
		}
	}
	return out, nil
}
