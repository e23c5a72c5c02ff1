package binfile

import (
	"debug/macho"
	"encoding/binary"
	"fmt"
	"io"
)

const machoProtWrite = 0x2 // VM_PROT_WRITE

type machoFile struct {
	f *macho.File
}

func openMacho(r io.ReaderAt) (rawFile, error) {
	var magic [4]byte
	if _, err := r.ReadAt(magic[:], 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if binary.BigEndian.Uint32(magic[:]) == macho.MagicFat {
		ff, err := macho.NewFatFile(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		if len(ff.Arches) == 0 {
			return nil, fmt.Errorf("%w: empty fat image", ErrUnsupportedFormat)
		}
		return &machoFile{f: ff.Arches[0].File}, nil
	}
	f, err := macho.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return &machoFile{f: f}, nil
}

func (m *machoFile) format() Format { return FormatMachO }

func (m *machoFile) byteOrder() binary.ByteOrder { return m.f.ByteOrder }

func (m *machoFile) ptrSize() int {
	if m.f.Magic == macho.Magic64 {
		return 8
	}
	return 4
}

func (m *machoFile) sections() []Section {
	prot := make(map[string]uint32)
	for _, l := range m.f.Loads {
		if seg, ok := l.(*macho.Segment); ok {
			prot[seg.Name] = seg.Prot
		}
	}
	var out []Section
	for _, s := range m.f.Sections {
		out = append(out, Section{
			Name:     s.Name,
			Addr:     s.Addr,
			Offset:   uint64(s.Offset),
			Size:     s.Size,
			Writable: prot[s.Seg]&machoProtWrite != 0,
		})
	}
	return out
}

func (m *machoFile) segments() []Section {
	var out []Section
	for _, l := range m.f.Loads {
		seg, ok := l.(*macho.Segment)
		if !ok || seg.Name == "__PAGEZERO" || seg.Filesz == 0 {
			continue
		}
		out = append(out, Section{
			Name:     seg.Name,
			Addr:     seg.Addr,
			Offset:   seg.Offset,
			Size:     seg.Filesz,
			Writable: seg.Prot&machoProtWrite != 0,
		})
	}
	return out
}

func (m *machoFile) sectionData(name string) ([]byte, error) {
	s := m.f.Section(name)
	if s == nil {
		return nil, fmt.Errorf("no section %q", name)
	}
	return s.Data()
}

func (m *machoFile) readAt(addr, size uint64) ([]byte, error) {
	for _, l := range m.f.Loads {
		seg, ok := l.(*macho.Segment)
		if !ok || seg.Name == "__PAGEZERO" {
			continue
		}
		if addr >= seg.Addr && size <= seg.Filesz && addr-seg.Addr <= seg.Filesz-size {
			buf := make([]byte, size)
			if _, err := seg.ReadAt(buf, int64(addr-seg.Addr)); err != nil {
				return nil, err
			}
			return buf, nil
		}
	}
	return nil, fmt.Errorf("%w: %#x+%d", ErrAddressNotMapped, addr, size)
}

func (m *machoFile) symbols() (map[string]uint64, error) {
	out := make(map[string]uint64)
	if m.f.Symtab == nil {
		return out, nil
	}
	for _, sym := range m.f.Symtab.Syms {
		if sym.Name != "" {
			out[sym.Name] = sym.Value
		}
	}
	return out, nil
}
