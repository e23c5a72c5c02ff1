package gosym

import (
	"encoding/binary"
	"errors"
	"testing"
)

// buildGo12Table constructs a minimal go1.2 era pclntab with two
// functions and two source files.
func buildGo12Table(bo binary.ByteOrder) []byte {
	buf := make([]byte, 192)
	magic := make([]byte, 4)
	bo.PutUint32(magic, go12magic)
	copy(buf, magic)
	buf[6] = 1 // quantum
	buf[7] = 8 // ptrsize

	bo.PutUint64(buf[8:], 2) // nfunctab
	// functab: (entry, funcoff) pairs plus the end marker
	bo.PutUint64(buf[16:], 0x1000)
	bo.PutUint64(buf[24:], 64)
	bo.PutUint64(buf[32:], 0x2000)
	bo.PutUint64(buf[40:], 80)
	bo.PutUint64(buf[48:], 0x3000)
	bo.PutUint32(buf[56:], 128) // fileoff

	// _func records: entry then nameOff
	bo.PutUint64(buf[64:], 0x1000)
	bo.PutUint32(buf[72:], 96)
	bo.PutUint64(buf[80:], 0x2000)
	bo.PutUint32(buf[88:], 106)

	copy(buf[96:], "main.main\x00")
	copy(buf[106:], "runtime.main\x00")

	// filetab: count then per-index offsets into the table data,
	// index 0 is unused
	bo.PutUint32(buf[128:], 3)
	bo.PutUint32(buf[132:], 160)
	bo.PutUint32(buf[136:], 176)
	copy(buf[160:], "/src/main.go\x00")
	copy(buf[176:], "/src/rt.go\x00")
	return buf
}

// buildGo116Table constructs a minimal go1.16 era pclntab with one
// function and two source files. Unlike go1.18 the functab entries are
// pointer sized and hold absolute addresses.
func buildGo116Table() []byte {
	le := binary.LittleEndian
	buf := make([]byte, 160)
	le.PutUint32(buf, go116magic)
	buf[6] = 1
	buf[7] = 8

	le.PutUint64(buf[8:], 1)   // nfunc
	le.PutUint64(buf[16:], 2)  // nfiles
	le.PutUint64(buf[24:], 64) // funcnametab
	le.PutUint64(buf[32:], 80) // cutab
	le.PutUint64(buf[40:], 88) // filetab
	le.PutUint64(buf[48:], 104) // pctab
	le.PutUint64(buf[56:], 112) // functab

	copy(buf[64:], "main.main\x00")
	copy(buf[88:], "a.go\x00pkg/b.go\x00")

	le.PutUint64(buf[112:], 0x401000) // entry
	le.PutUint64(buf[120:], 24)       // funcoff
	le.PutUint64(buf[128:], 0x402000) // end marker
	// _func: entry then nameOff
	le.PutUint64(buf[136:], 0x401000)
	le.PutUint32(buf[144:], 0)
	return buf
}

// buildGo118Table constructs a minimal go1.18 era pclntab with one
// function and two source files.
func buildGo118Table() []byte {
	le := binary.LittleEndian
	buf := make([]byte, 176)
	le.PutUint32(buf, go118magic)
	buf[6] = 1
	buf[7] = 8

	le.PutUint64(buf[8:], 1)        // nfunc
	le.PutUint64(buf[16:], 2)       // nfiles
	le.PutUint64(buf[24:], 0x400000) // textStart
	le.PutUint64(buf[32:], 96)      // funcnametab
	le.PutUint64(buf[40:], 112)     // cutab
	le.PutUint64(buf[48:], 120)     // filetab
	le.PutUint64(buf[56:], 136)     // pctab
	le.PutUint64(buf[64:], 144)     // functab

	copy(buf[96:], "main.main\x00")
	copy(buf[120:], "a.go\x00pkg/b.go\x00")

	// functab entries are 4-byte offsets relative to textStart
	le.PutUint32(buf[144:], 0x100) // entryoff
	le.PutUint32(buf[148:], 12)    // funcoff
	le.PutUint32(buf[152:], 0x200) // end marker
	// _func: entryOff then nameOff
	le.PutUint32(buf[156:], 0x100)
	le.PutUint32(buf[160:], 0)
	return buf
}

func TestGo12Funcs(t *testing.T) {
	for _, bo := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		tab, err := NewLineTable(buildGo12Table(bo))
		if err != nil {
			t.Fatalf("%v: NewLineTable: %v", bo, err)
		}
		if tab.NumFuncs() != 2 {
			t.Fatalf("%v: NumFuncs = %d, want 2", bo, tab.NumFuncs())
		}
		funcs, err := tab.Funcs()
		if err != nil {
			t.Fatalf("%v: Funcs: %v", bo, err)
		}
		want := []Func{{0x1000, "main.main"}, {0x2000, "runtime.main"}}
		if len(funcs) != len(want) {
			t.Fatalf("%v: got %d funcs, want %d", bo, len(funcs), len(want))
		}
		for i := range want {
			if funcs[i] != want[i] {
				t.Errorf("%v: func %d = %+v, want %+v", bo, i, funcs[i], want[i])
			}
		}
	}
}

func TestGo12Symbols(t *testing.T) {
	tab, err := NewLineTable(buildGo12Table(binary.LittleEndian))
	if err != nil {
		t.Fatal(err)
	}
	syms, err := tab.Symbols()
	if err != nil {
		t.Fatal(err)
	}
	want := []Sym{
		{Addr: 0x1000, Size: 0x1000, Name: "main.main", Kind: SymKindFunc},
		{Addr: 0x2000, Size: 0x1000, Name: "runtime.main", Kind: SymKindFunc},
	}
	if len(syms) != len(want) {
		t.Fatalf("got %d symbols, want %d", len(syms), len(want))
	}
	for i := range want {
		if syms[i] != want[i] {
			t.Errorf("symbol %d = %+v, want %+v", i, syms[i], want[i])
		}
	}
}

func TestGo12Files(t *testing.T) {
	tab, err := NewLineTable(buildGo12Table(binary.LittleEndian))
	if err != nil {
		t.Fatal(err)
	}
	files, err := tab.Files()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/src/main.go", "/src/rt.go"}
	if len(files) != len(want) {
		t.Fatalf("got %d files %v, want %v", len(files), files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("file %d = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestGo116Table(t *testing.T) {
	tab, err := NewLineTable(buildGo116Table())
	if err != nil {
		t.Fatal(err)
	}
	syms, err := tab.Symbols()
	if err != nil {
		t.Fatal(err)
	}
	if len(syms) != 1 {
		t.Fatalf("got %d symbols, want 1", len(syms))
	}
	want := Sym{Addr: 0x401000, Size: 0x1000, Name: "main.main", Kind: SymKindFunc}
	if syms[0] != want {
		t.Errorf("symbol = %+v, want %+v", syms[0], want)
	}

	files, err := tab.Files()
	if err != nil {
		t.Fatal(err)
	}
	wantFiles := []string{"a.go", "pkg/b.go"}
	if len(files) != len(wantFiles) {
		t.Fatalf("got files %v, want %v", files, wantFiles)
	}
	for i := range wantFiles {
		if files[i] != wantFiles[i] {
			t.Errorf("file %d = %q, want %q", i, files[i], wantFiles[i])
		}
	}
}

func TestGo118Table(t *testing.T) {
	tab, err := NewLineTable(buildGo118Table())
	if err != nil {
		t.Fatal(err)
	}
	funcs, err := tab.Funcs()
	if err != nil {
		t.Fatal(err)
	}
	if len(funcs) != 1 {
		t.Fatalf("got %d funcs, want 1", len(funcs))
	}
	if funcs[0].Name != "main.main" {
		t.Errorf("func name = %q, want main.main", funcs[0].Name)
	}
	if funcs[0].Entry != 0x400100 {
		t.Errorf("entry = %#x, want %#x (textStart relative)", funcs[0].Entry, 0x400100)
	}

	files, err := tab.Files()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a.go", "pkg/b.go"}
	if len(files) != len(want) {
		t.Fatalf("got files %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("file %d = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestGo120Magic(t *testing.T) {
	buf := buildGo118Table()
	binary.LittleEndian.PutUint32(buf, go120magic)
	tab, err := NewLineTable(buf)
	if err != nil {
		t.Fatal(err)
	}
	funcs, err := tab.Funcs()
	if err != nil {
		t.Fatal(err)
	}
	if len(funcs) != 1 || funcs[0].Name != "main.main" {
		t.Fatalf("unexpected funcs %v", funcs)
	}
}

func TestCompatibleGoVersion(t *testing.T) {
	tables := map[string]struct {
		data  []byte
		match [][2]int
		wrong [][2]int
	}{
		"go1.2": {
			data:  buildGo12Table(binary.LittleEndian),
			match: [][2]int{{1, 2}, {1, 15}},
			wrong: [][2]int{{1, 16}, {1, 18}, {1, 21}},
		},
		"go1.16": {
			data:  buildGo116Table(),
			match: [][2]int{{1, 16}, {1, 17}},
			wrong: [][2]int{{1, 15}, {1, 18}},
		},
		"go1.18": {
			data:  buildGo118Table(),
			match: [][2]int{{1, 18}, {1, 19}},
			wrong: [][2]int{{1, 17}, {1, 20}},
		},
	}
	for name, tc := range tables {
		tab, err := NewLineTable(tc.data)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		for _, v := range tc.match {
			if !tab.CompatibleGoVersion(v[0], v[1]) {
				t.Errorf("%s table rejected go%d.%d", name, v[0], v[1])
			}
		}
		for _, v := range tc.wrong {
			if tab.CompatibleGoVersion(v[0], v[1]) {
				t.Errorf("%s table accepted go%d.%d", name, v[0], v[1])
			}
		}
	}

	buf := buildGo118Table()
	binary.LittleEndian.PutUint32(buf, go120magic)
	tab, err := NewLineTable(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !tab.CompatibleGoVersion(1, 20) || !tab.CompatibleGoVersion(1, 25) {
		t.Error("go1.20 table rejected later toolchains")
	}
	if tab.CompatibleGoVersion(1, 19) {
		t.Error("go1.20 table accepted go1.19")
	}
}

func TestCorruptTables(t *testing.T) {
	cases := map[string][]byte{
		"empty":     nil,
		"short":     {0xfb, 0xff, 0xff, 0xff, 0, 0, 1, 8},
		"bad magic": append([]byte{0xde, 0xad, 0xbe, 0xef, 0, 0, 1, 8}, make([]byte, 64)...),
		"bad quantum": func() []byte {
			b := buildGo118Table()
			b[6] = 3
			return b
		}(),
		"bad ptrsize": func() []byte {
			b := buildGo118Table()
			b[7] = 7
			return b
		}(),
		"huge nfunc": func() []byte {
			b := buildGo12Table(binary.LittleEndian)
			binary.LittleEndian.PutUint64(b[8:], 1<<20)
			return b
		}(),
		"truncated functab": buildGo12Table(binary.LittleEndian)[:40],
	}
	for name, data := range cases {
		if _, err := NewLineTable(data); !errors.Is(err, ErrCorruptRuntimeData) {
			t.Errorf("%s: err = %v, want ErrCorruptRuntimeData", name, err)
		}
	}
}

func TestCorruptFiletab(t *testing.T) {
	buf := buildGo118Table()
	// Declare more files than the table holds.
	binary.LittleEndian.PutUint64(buf[16:], 1000)
	tab, err := NewLineTable(buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tab.Files(); !errors.Is(err, ErrCorruptRuntimeData) {
		t.Fatalf("Files err = %v, want ErrCorruptRuntimeData", err)
	}
}
