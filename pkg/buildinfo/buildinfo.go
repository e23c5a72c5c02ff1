// Package buildinfo decodes the build information blob the Go linker
// embeds in executables: the toolchain version and, for module builds,
// the main module and its dependency graph.
package buildinfo

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/aboutcode-org/go-inspector/pkg/logflags"
)

// ErrInvalidBuildInfo is returned when the blob fails validation. Decoding
// is all or nothing, a partial result is never returned.
var ErrInvalidBuildInfo = errors.New("invalid build info blob")

// MemReader reads mapped memory of the surrounding executable image. The
// pre-1.18 blob layout stores the version and modinfo as pointers into
// other sections.
type MemReader interface {
	ReadAt(addr, size uint64) ([]byte, error)
}

// Module describes a Go module recorded in the build info.
type Module struct {
	Path    string
	Version string
	Sum     string
	Replace *Module
}

// BuildSetting is a key/value build description line, go1.18 onwards.
type BuildSetting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// BuildInfo is the decoded build information of a Go executable.
type BuildInfo struct {
	GoVersion string
	Path      string
	Main      *Module
	Deps      []*Module
	Settings  []BuildSetting
}

type moduleJSON struct {
	Path        string      `json:"path"`
	Version     string      `json:"version,omitempty"`
	Sum         string      `json:"sum,omitempty"`
	Replacement *moduleJSON `json:"replacement,omitempty"`
}

func (m *Module) toJSON() *moduleJSON {
	if m == nil {
		return nil
	}
	return &moduleJSON{Path: m.Path, Version: m.Version, Sum: m.Sum, Replacement: m.Replace.toJSON()}
}

// MarshalJSON emits the stable output contract: go_version, the main
// module as module_path/module_version, and a dependencies array.
func (bi *BuildInfo) MarshalJSON() ([]byte, error) {
	out := struct {
		GoVersion     string         `json:"go_version"`
		Path          string         `json:"path,omitempty"`
		ModulePath    string         `json:"module_path,omitempty"`
		ModuleVersion string         `json:"module_version,omitempty"`
		ModuleSum     string         `json:"module_sum,omitempty"`
		Dependencies  []*moduleJSON  `json:"dependencies,omitempty"`
		Settings      []BuildSetting `json:"settings,omitempty"`
	}{
		GoVersion: bi.GoVersion,
		Path:      bi.Path,
		Settings:  bi.Settings,
	}
	if bi.Main != nil {
		out.ModulePath = bi.Main.Path
		out.ModuleVersion = bi.Main.Version
		out.ModuleSum = bi.Main.Sum
	}
	for _, dep := range bi.Deps {
		out.Dependencies = append(out.Dependencies, dep.toJSON())
	}
	return json.Marshal(out)
}

const (
	headerSize = 32

	flagEndianMask = 0x1
	flagBigEndian  = 0x1
	// go1.18+ stores the strings inline after the header instead of
	// through pointers.
	flagInlineStrings = 0x2

	// The modinfo produced by the toolchain is framed by two 16-byte
	// sentinel strings and a trailing newline.
	modSentinelSize = 16

	maxStringSize = 1 << 24
)

var magic = []byte("\xff Go buildinf:")

// Decode decodes the build info blob starting at data[0]. mem resolves
// the string pointers of the pre-1.18 layout and may be nil if the caller
// knows the blob is the inline variant.
func Decode(mem MemReader, data []byte) (*BuildInfo, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d byte blob", ErrInvalidBuildInfo, len(data))
	}
	if !bytes.HasPrefix(data, magic) {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidBuildInfo)
	}
	log := logflags.BuildInfoLogger()
	ptrSize := int(data[14])
	flags := data[15]

	var vers, mod string
	if flags&flagInlineStrings != 0 {
		log.Debugf("inline string layout, pointer size %d", ptrSize)
		var ok bool
		var rest []byte
		vers, rest, ok = decodeVarintString(data[headerSize:])
		if !ok {
			return nil, fmt.Errorf("%w: truncated version string", ErrInvalidBuildInfo)
		}
		mod, _, ok = decodeVarintString(rest)
		if !ok {
			return nil, fmt.Errorf("%w: truncated modinfo string", ErrInvalidBuildInfo)
		}
	} else {
		if ptrSize != 4 && ptrSize != 8 {
			return nil, fmt.Errorf("%w: pointer size %d", ErrInvalidBuildInfo, ptrSize)
		}
		if mem == nil {
			return nil, fmt.Errorf("%w: pointer layout needs image access", ErrInvalidBuildInfo)
		}
		var bo binary.ByteOrder = binary.LittleEndian
		if flags&flagEndianMask == flagBigEndian {
			bo = binary.BigEndian
		}
		log.Debugf("pointer string layout, pointer size %d, big endian %v", ptrSize, bo == binary.BigEndian)
		if len(data) < 16+2*ptrSize {
			return nil, fmt.Errorf("%w: truncated pointer header", ErrInvalidBuildInfo)
		}
		var err error
		vers, err = readGoString(mem, bo, ptrSize, readPtr(bo, ptrSize, data[16:]))
		if err != nil {
			return nil, err
		}
		mod, err = readGoString(mem, bo, ptrSize, readPtr(bo, ptrSize, data[16+ptrSize:]))
		if err != nil {
			return nil, err
		}
	}

	if vers == "" || !utf8.ValidString(vers) {
		return nil, fmt.Errorf("%w: missing version string", ErrInvalidBuildInfo)
	}
	// Strip the sentinel framing; anything unframed means the binary was
	// built without module support.
	if len(mod) >= 2*modSentinelSize+1 && mod[len(mod)-modSentinelSize-1] == '\n' {
		mod = mod[modSentinelSize : len(mod)-modSentinelSize]
	} else {
		mod = ""
	}

	bi := &BuildInfo{GoVersion: vers}
	if mod != "" {
		if !utf8.ValidString(mod) {
			return nil, fmt.Errorf("%w: modinfo is not valid UTF-8", ErrInvalidBuildInfo)
		}
		if err := parseModInfo(bi, mod); err != nil {
			return nil, err
		}
	}
	log.Debugf("decoded %s, %d deps", bi.GoVersion, len(bi.Deps))
	return bi, nil
}

func decodeVarintString(b []byte) (string, []byte, bool) {
	n, w := binary.Uvarint(b)
	if w <= 0 || n > maxStringSize || uint64(len(b)-w) < n {
		return "", nil, false
	}
	return string(b[w : uint64(w)+n]), b[uint64(w)+n:], true
}

func readPtr(bo binary.ByteOrder, ptrSize int, b []byte) uint64 {
	if ptrSize == 4 {
		return uint64(bo.Uint32(b))
	}
	return bo.Uint64(b)
}

// readGoString reads a Go string header (pointer, length) at addr and
// then the bytes it points at.
func readGoString(mem MemReader, bo binary.ByteOrder, ptrSize int, addr uint64) (string, error) {
	hdr, err := mem.ReadAt(addr, uint64(2*ptrSize))
	if err != nil {
		return "", fmt.Errorf("%w: string header at %#x: %v", ErrInvalidBuildInfo, addr, err)
	}
	dataAddr := readPtr(bo, ptrSize, hdr)
	dataLen := readPtr(bo, ptrSize, hdr[ptrSize:])
	if dataLen == 0 {
		return "", nil
	}
	if dataLen > maxStringSize {
		return "", fmt.Errorf("%w: %d byte string at %#x", ErrInvalidBuildInfo, dataLen, dataAddr)
	}
	b, err := mem.ReadAt(dataAddr, dataLen)
	if err != nil {
		return "", fmt.Errorf("%w: string data at %#x: %v", ErrInvalidBuildInfo, dataAddr, err)
	}
	return string(b), nil
}

// parseModInfo parses the tab-separated modinfo lines: path, mod, dep,
// the => replacement continuation and the build settings.
func parseModInfo(bi *BuildInfo, mod string) error {
	var last *Module
	for lineNum, line := range strings.Split(mod, "\n") {
		if line == "" {
			continue
		}
		elem := strings.Split(line, "\t")
		switch elem[0] {
		case "path":
			if len(elem) != 2 {
				return modLineError(lineNum, line)
			}
			bi.Path = elem[1]
		case "mod":
			m, err := parseModuleLine(lineNum, line, elem[1:])
			if err != nil {
				return err
			}
			bi.Main = m
			last = m
		case "dep":
			m, err := parseModuleLine(lineNum, line, elem[1:])
			if err != nil {
				return err
			}
			bi.Deps = append(bi.Deps, m)
			last = m
		case "=>":
			if last == nil {
				return modLineError(lineNum, line)
			}
			m, err := parseModuleLine(lineNum, line, elem[1:])
			if err != nil {
				return err
			}
			last.Replace = m
			last = nil
		case "build":
			kv := strings.TrimPrefix(line, "build\t")
			if strings.HasPrefix(kv, `"`) || strings.HasPrefix(kv, "`") {
				var err error
				kv, err = strconv.Unquote(kv)
				if err != nil {
					return modLineError(lineNum, line)
				}
			}
			key, value, found := strings.Cut(kv, "=")
			if !found || key == "" {
				return modLineError(lineNum, line)
			}
			bi.Settings = append(bi.Settings, BuildSetting{Key: key, Value: value})
		}
	}
	return nil
}

func parseModuleLine(lineNum int, line string, elem []string) (*Module, error) {
	if len(elem) != 2 && len(elem) != 3 {
		return nil, modLineError(lineNum, line)
	}
	m := &Module{Path: elem[0], Version: elem[1]}
	if len(elem) == 3 {
		m.Sum = elem[2]
	}
	return m, nil
}

func modLineError(lineNum int, line string) error {
	return fmt.Errorf("%w: malformed modinfo line %d: %q", ErrInvalidBuildInfo, lineNum+1, line)
}
