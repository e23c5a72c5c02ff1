// Package gosym decodes the runtime function and file name tables
// (pclntab) embedded in Go executables, including executables whose
// regular symbol table was stripped.
package gosym

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/elliotchance/orderedmap"

	"github.com/aboutcode-org/go-inspector/pkg/logflags"
)

// ErrCorruptRuntimeData is returned when the pclntab header or one of its
// tables is truncated or internally inconsistent.
var ErrCorruptRuntimeData = errors.New("corrupt or truncated pclntab")

type version int

const (
	verUnknown version = iota
	ver12              // go1.2 through go1.15
	ver116             // go1.16, go1.17
	ver118             // go1.18, go1.19
	ver120             // go1.20 onwards
)

const (
	go12magic  = 0xfffffffb
	go116magic = 0xfffffffa
	go118magic = 0xfffffff0
	go120magic = 0xfffffff1
)

// Func is a function recovered from the pclntab.
type Func struct {
	Entry uint64
	Name  string
}

// SymKindFunc is the kind of every symbol the pclntab records: the
// table only describes text (function) symbols, data symbols live in
// the container's own symbol table.
const SymKindFunc = 'T'

// Sym is a function symbol with its size derived from the entry address
// of the next function in the table.
type Sym struct {
	Addr uint64
	Size uint64
	Name string
	Kind byte
}

// LineTable decodes a pclntab blob. The zero value is not usable, use
// NewLineTable.
type LineTable struct {
	Data []byte

	version version
	binary  binary.ByteOrder
	quantum uint32
	ptrsize uint32

	textStart uint64 // address the function entry offsets are relative to (go1.18+)

	nfunctab         uint32
	nfiletab         uint32
	funcdata         []byte
	functab          []byte
	functabFieldSize int
	funcnametab      []byte
	cutab            []byte
	filetab          []byte
	pctab            []byte

	funcNames map[uint32]string
	fileSet   *orderedmap.OrderedMap
}

// NewLineTable parses the pclntab header and locates the subtables for the
// table generation the magic number announces. data must start at the
// pclntab magic; trailing bytes beyond the table are ignored.
func NewLineTable(data []byte) (lt *LineTable, err error) {
	defer func() {
		if r := recover(); r != nil {
			lt, err = nil, fmt.Errorf("%w: %v", ErrCorruptRuntimeData, r)
		}
	}()

	if len(data) < 16 {
		return nil, fmt.Errorf("%w: %d byte header", ErrCorruptRuntimeData, len(data))
	}
	if data[4] != 0 || data[5] != 0 ||
		(data[6] != 1 && data[6] != 2 && data[6] != 4) ||
		(data[7] != 4 && data[7] != 8) {
		return nil, fmt.Errorf("%w: bad header", ErrCorruptRuntimeData)
	}

	t := &LineTable{
		Data:    data,
		quantum: uint32(data[6]),
		ptrsize: uint32(data[7]),
	}
	switch leMagic := binary.LittleEndian.Uint32(data); leMagic {
	case go12magic:
		t.binary, t.version = binary.LittleEndian, ver12
	case go116magic:
		t.binary, t.version = binary.LittleEndian, ver116
	case go118magic:
		t.binary, t.version = binary.LittleEndian, ver118
	case go120magic:
		t.binary, t.version = binary.LittleEndian, ver120
	default:
		switch beMagic := binary.BigEndian.Uint32(data); beMagic {
		case go12magic:
			t.binary, t.version = binary.BigEndian, ver12
		case go116magic:
			t.binary, t.version = binary.BigEndian, ver116
		case go118magic:
			t.binary, t.version = binary.BigEndian, ver118
		case go120magic:
			t.binary, t.version = binary.BigEndian, ver120
		default:
			return nil, fmt.Errorf("%w: unknown magic %#x", ErrCorruptRuntimeData, leMagic)
		}
	}

	// Word i of the header, after the 8 fixed bytes.
	offset := func(word uint32) uint64 {
		return t.uintptr(data[8+word*t.ptrsize:])
	}
	at := func(word uint32) []byte {
		off := offset(word)
		if off > uint64(len(data)) {
			panic(fmt.Sprintf("header offset %#x beyond table end", off))
		}
		return data[off:]
	}

	switch t.version {
	case ver118, ver120:
		t.nfunctab = uint32(offset(0))
		t.nfiletab = uint32(offset(1))
		t.textStart = offset(2)
		t.funcnametab = at(3)
		t.cutab = at(4)
		t.filetab = at(5)
		t.pctab = at(6)
		t.funcdata = at(7)
		t.functab = at(7)
		t.functabFieldSize = 4
	case ver116:
		t.nfunctab = uint32(offset(0))
		t.nfiletab = uint32(offset(1))
		t.funcnametab = at(2)
		t.cutab = at(3)
		t.filetab = at(4)
		t.pctab = at(5)
		t.funcdata = at(6)
		t.functab = at(6)
		t.functabFieldSize = int(t.ptrsize)
	case ver12:
		t.nfunctab = uint32(t.uintptr(data[8:]))
		t.funcdata = data
		t.funcnametab = data
		t.pctab = data
		t.functab = data[8+t.ptrsize:]
		t.functabFieldSize = int(t.ptrsize)
	}

	functabsize := (int(t.nfunctab)*2 + 1) * t.functabFieldSize
	if functabsize <= 0 || functabsize > len(t.functab) {
		return nil, fmt.Errorf("%w: functab of %d entries exceeds table", ErrCorruptRuntimeData, t.nfunctab)
	}
	if t.version == ver12 {
		fileoff := t.binary.Uint32(t.functab[functabsize:])
		if uint64(fileoff)+4 > uint64(len(data)) {
			return nil, fmt.Errorf("%w: filetab offset %#x beyond table end", ErrCorruptRuntimeData, fileoff)
		}
		t.filetab = data[fileoff:]
		t.nfiletab = t.binary.Uint32(t.filetab)
		if uint64(t.nfiletab)*4 > uint64(len(t.filetab)) {
			return nil, fmt.Errorf("%w: filetab of %d entries exceeds table", ErrCorruptRuntimeData, t.nfiletab)
		}
		t.filetab = t.filetab[:t.nfiletab*4]
	}
	t.functab = t.functab[:functabsize]
	return t, nil
}

// NumFuncs returns the number of functions the table declares.
func (t *LineTable) NumFuncs() int { return int(t.nfunctab) }

// CompatibleGoVersion reports whether a go toolchain of the given
// major.minor version emits this table's generation. A mismatch against
// a binary's recorded build info points at a crafted or patched input.
func (t *LineTable) CompatibleGoVersion(major, minor int) bool {
	if major != 1 {
		return major > 1 && t.version == ver120
	}
	switch t.version {
	case ver12:
		return minor < 16
	case ver116:
		return minor == 16 || minor == 17
	case ver118:
		return minor == 18 || minor == 19
	default:
		return minor >= 20
	}
}

// PtrSize returns the pointer size, in bytes, recorded in the header.
func (t *LineTable) PtrSize() int { return int(t.ptrsize) }

// Funcs returns the functions of the binary in table order. Entries whose
// name cannot be resolved from the name table are skipped.
func (t *LineTable) Funcs() (funcs []Func, err error) {
	defer func() {
		if r := recover(); r != nil {
			funcs, err = nil, fmt.Errorf("%w: %v", ErrCorruptRuntimeData, r)
		}
	}()

	log := logflags.GosymLogger()
	if t.funcNames == nil {
		t.funcNames = make(map[uint32]string)
	}
	funcs = make([]Func, 0, t.nfunctab)
	for i := uint32(0); i < t.nfunctab; i++ {
		entry, funcOff := t.functabEntry(i)
		if funcOff >= uint64(len(t.funcdata)) {
			return nil, fmt.Errorf("%w: func %d record at %#x beyond table end", ErrCorruptRuntimeData, i, funcOff)
		}
		nameOff := t.binary.Uint32(t.funcdata[funcOff+uint64(t.functabFieldSize):])
		name, ok := t.funcName(nameOff)
		if !ok {
			log.Warnf("skipping func %d: unresolvable name at offset %#x", i, nameOff)
			continue
		}
		funcs = append(funcs, Func{Entry: entry, Name: name})
	}
	return funcs, nil
}

// Symbols returns the function symbol table. Sizes are the distance to
// the next entry address, the final entry is sized against the table's
// end marker.
func (t *LineTable) Symbols() (syms []Sym, err error) {
	defer func() {
		if r := recover(); r != nil {
			syms, err = nil, fmt.Errorf("%w: %v", ErrCorruptRuntimeData, r)
		}
	}()

	funcs, err := t.Funcs()
	if err != nil {
		return nil, err
	}
	syms = make([]Sym, len(funcs))
	for i, fn := range funcs {
		end := t.endPC()
		if i+1 < len(funcs) {
			end = funcs[i+1].Entry
		}
		size := uint64(0)
		if end > fn.Entry {
			size = end - fn.Entry
		}
		syms[i] = Sym{Addr: fn.Entry, Size: size, Name: fn.Name, Kind: SymKindFunc}
	}
	return syms, nil
}

// endPC returns the past-the-end address stored in the functab's final
// marker entry.
func (t *LineTable) endPC() uint64 {
	rec := t.functab[2*int(t.nfunctab)*t.functabFieldSize:]
	var end uint64
	if t.functabFieldSize == 4 {
		end = uint64(t.binary.Uint32(rec))
	} else {
		end = t.uintptr(rec)
	}
	if t.version >= ver118 {
		end += t.textStart
	}
	return end
}

// Files returns the unique source file paths recorded in the table, in
// table order. Entries that are not valid UTF-8 are skipped.
func (t *LineTable) Files() (files []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			files, err = nil, fmt.Errorf("%w: %v", ErrCorruptRuntimeData, r)
		}
	}()

	if t.fileSet == nil {
		if err := t.initFileSet(); err != nil {
			return nil, err
		}
	}
	files = make([]string, 0, t.fileSet.Len())
	for el := t.fileSet.Front(); el != nil; el = el.Next() {
		files = append(files, el.Key.(string))
	}
	return files, nil
}

// functabEntry returns the entry address and funcdata offset of the i-th
// functab record.
func (t *LineTable) functabEntry(i uint32) (entry, funcOff uint64) {
	rec := t.functab[2*int(i)*t.functabFieldSize:]
	if t.functabFieldSize == 4 {
		entry = uint64(t.binary.Uint32(rec))
		funcOff = uint64(t.binary.Uint32(rec[4:]))
	} else {
		entry = t.uintptr(rec)
		funcOff = t.uintptr(rec[t.ptrsize:])
	}
	if t.version >= ver118 {
		entry += t.textStart
	}
	return entry, funcOff
}

func (t *LineTable) funcName(off uint32) (string, bool) {
	if s, ok := t.funcNames[off]; ok {
		return s, true
	}
	s, ok := stringAt(t.funcnametab, off)
	if !ok || !utf8.ValidString(s) {
		return "", false
	}
	t.funcNames[off] = s
	return s, true
}

func (t *LineTable) initFileSet() error {
	log := logflags.GosymLogger()
	set := orderedmap.NewOrderedMap()
	if t.version == ver12 {
		// Table of offsets into the pclntab blob, entry 0 is unused.
		for i := uint32(1); i < t.nfiletab; i++ {
			off := t.binary.Uint32(t.filetab[4*i:])
			s, ok := stringAt(t.Data, off)
			if !ok || !utf8.ValidString(s) {
				log.Warnf("skipping file %d: bad string at offset %#x", i, off)
				continue
			}
			set.Set(s, off)
		}
	} else {
		// Consecutive NUL-terminated strings.
		pos := uint32(0)
		for i := uint32(0); i < t.nfiletab; i++ {
			if uint64(pos) >= uint64(len(t.filetab)) {
				return fmt.Errorf("%w: filetab ends after %d of %d entries", ErrCorruptRuntimeData, i, t.nfiletab)
			}
			s, ok := stringAt(t.filetab, pos)
			if !ok {
				return fmt.Errorf("%w: unterminated filetab entry %d", ErrCorruptRuntimeData, i)
			}
			if utf8.ValidString(s) && s != "" {
				set.Set(s, pos)
			} else {
				log.Warnf("skipping file %d: invalid path at offset %#x", i, pos)
			}
			pos += uint32(len(s) + 1)
		}
	}
	t.fileSet = set
	return nil
}

func (t *LineTable) uintptr(b []byte) uint64 {
	if t.ptrsize == 4 {
		return uint64(t.binary.Uint32(b))
	}
	return t.binary.Uint64(b)
}

func stringAt(b []byte, off uint32) (string, bool) {
	if uint64(off) >= uint64(len(b)) {
		return "", false
	}
	i := bytes.IndexByte(b[off:], 0)
	if i < 0 {
		return "", false
	}
	return string(b[off : uint64(off)+uint64(i)]), true
}
