// Package goruntime locates the Go runtime data structures embedded in an
// executable image: the build info blob and the pclntab. Named sections
// and symbols are tried first, then a bounded magic-number scan over the
// image, so stripped executables are handled too.
package goruntime

import (
	"fmt"
	"sort"

	"rsc.io/binaryregexp"

	"github.com/aboutcode-org/go-inspector/pkg/binfile"
	"github.com/aboutcode-org/go-inspector/pkg/gosym"
	"github.com/aboutcode-org/go-inspector/pkg/logflags"
)

// ByteRange is a chunk of image data and the virtual address it starts at.
type ByteRange struct {
	Addr uint64
	Data []byte
}

// BuildInfoMagic starts the build info blob, 16-byte aligned in a
// writable data section.
var BuildInfoMagic = []byte("\xff Go buildinf:")

const buildInfoAlign = 16

var buildInfoSectionNames = []string{".go.buildinfo", "__go_buildinfo"}

var pclntabSectionNames = []string{".gopclntab", ".data.rel.ro.gopclntab", "__gopclntab"}

// The leading 0xff byte must be spelled as a \xff escape: binaryregexp
// rejects pattern strings that are not valid UTF-8.
var buildInfoRE = binaryregexp.MustCompile(`\xff` + binaryregexp.QuoteMeta(string(BuildInfoMagic[1:])))

// The pclntab header: a generation magic in either byte order, two zero
// bytes, the instruction quantum and the pointer size.
var pclntabRE = binaryregexp.MustCompile(
	`(?:[\xfb\xfa\xf0\xf1]\xff\xff\xff|\xff\xff\xff[\xfb\xfa\xf0\xf1])\x00\x00[\x01\x02\x04][\x04\x08]`)

// Locator finds runtime data structures in executable images.
type Locator struct {
	// MaxScanBytes bounds how many bytes of each section the fallback
	// magic scan examines. Zero means no bound.
	MaxScanBytes uint64
}

// NewLocator returns a Locator with the given scan bound.
func NewLocator(maxScanBytes uint64) *Locator {
	return &Locator{MaxScanBytes: maxScanBytes}
}

// FindBuildInfo returns the build info blob of f, from its magic to the
// end of the enclosing section. It returns (nil, nil) when the image
// carries no blob, which is how non-Go binaries look.
func (l *Locator) FindBuildInfo(f *binfile.File) (*ByteRange, error) {
	log := logflags.LocateLogger()
	for _, name := range buildInfoSectionNames {
		s := f.Section(name)
		if s == nil {
			continue
		}
		data, err := f.SectionData(name)
		if err != nil {
			return nil, fmt.Errorf("reading section %q: %w", name, err)
		}
		log.Debugf("build info in section %q at %#x", name, s.Addr)
		return &ByteRange{Addr: s.Addr, Data: data}, nil
	}

	// No named section: scan writable data for the aligned magic.
	for _, s := range l.scanCandidates(f, true) {
		data, err := l.sectionBytes(f, s)
		if err != nil {
			log.Debugf("skipping unreadable range at %#x: %v", s.Addr, err)
			continue
		}
		off, err := scanAligned(buildInfoRE, data, s.Addr, buildInfoAlign)
		if err != nil {
			return nil, err
		}
		if off >= 0 {
			log.Debugf("build info magic at %#x", s.Addr+uint64(off))
			return &ByteRange{Addr: s.Addr + uint64(off), Data: data[off:]}, nil
		}
	}
	return nil, nil
}

// FindPclntab returns the pclntab of f, from its header to the end of the
// enclosing section. Candidates are validated by parsing their header
// before being accepted. It returns (nil, nil) when no table is found.
func (l *Locator) FindPclntab(f *binfile.File) (*ByteRange, error) {
	log := logflags.LocateLogger()
	for _, name := range pclntabSectionNames {
		s := f.Section(name)
		if s == nil {
			continue
		}
		data, err := f.SectionData(name)
		if err != nil {
			return nil, fmt.Errorf("reading section %q: %w", name, err)
		}
		log.Debugf("pclntab in section %q at %#x", name, s.Addr)
		return &ByteRange{Addr: s.Addr, Data: data}, nil
	}

	// PE keeps no pclntab section, the runtime symbols delimit it.
	if f.Format() == binfile.FormatPE {
		if br, err := pclntabFromSymbols(f); br != nil || err != nil {
			return br, err
		}
	}

	// Stripped image: scan for a plausible header.
	for _, s := range l.scanCandidates(f, false) {
		data, err := l.sectionBytes(f, s)
		if err != nil {
			log.Debugf("skipping unreadable range at %#x: %v", s.Addr, err)
			continue
		}
		from := 0
		for from < len(data) {
			loc := pclntabRE.FindIndex(data[from:])
			if loc == nil {
				break
			}
			off := from + loc[0]
			if off < from {
				return nil, fmt.Errorf("pclntab scan did not advance at %#x", s.Addr+uint64(from))
			}
			if validPclntab(data[off:]) {
				log.Debugf("pclntab magic at %#x", s.Addr+uint64(off))
				return &ByteRange{Addr: s.Addr + uint64(off), Data: data[off:]}, nil
			}
			from = off + 1
		}
	}
	return nil, nil
}

func pclntabFromSymbols(f *binfile.File) (*ByteRange, error) {
	syms, err := f.Symbols()
	if err != nil {
		return nil, err
	}
	start, ok := syms["runtime.pclntab"]
	if !ok {
		return nil, nil
	}
	end, ok := syms["runtime.epclntab"]
	if !ok || end <= start {
		return nil, nil
	}
	data, err := f.ReadAt(start, end-start)
	if err != nil {
		return nil, fmt.Errorf("reading runtime.pclntab: %w", err)
	}
	return &ByteRange{Addr: start, Data: data}, nil
}

// scanCandidates returns the ranges to magic-scan in file-offset order.
// Sections are preferred, loadable segments are the fallback for images
// with stripped section headers.
func (l *Locator) scanCandidates(f *binfile.File, writableOnly bool) []binfile.Section {
	sections := f.Sections()
	if len(sections) == 0 {
		sections = f.Segments()
	}
	var out []binfile.Section
	for _, s := range sections {
		if s.Size == 0 {
			continue
		}
		if writableOnly && !s.Writable {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

func (l *Locator) sectionBytes(f *binfile.File, s binfile.Section) ([]byte, error) {
	size := s.Size
	if l.MaxScanBytes > 0 && size > l.MaxScanBytes {
		size = l.MaxScanBytes
	}
	if s.Name != "" && size == s.Size {
		return f.SectionData(s.Name)
	}
	return f.ReadAt(s.Addr, size)
}

// scanAligned finds the first match of re in data whose virtual address
// is a multiple of align. Returns -1 when there is none.
func scanAligned(re *binaryregexp.Regexp, data []byte, base uint64, align uint64) (int, error) {
	from := 0
	for from < len(data) {
		loc := re.FindIndex(data[from:])
		if loc == nil {
			return -1, nil
		}
		off := from + loc[0]
		if off < from {
			return -1, fmt.Errorf("magic scan did not advance at %#x", base+uint64(from))
		}
		if (base+uint64(off))%align == 0 {
			return off, nil
		}
		from = off + 1
	}
	return -1, nil
}

// validPclntab reports whether data starts with a header that parses and
// declares a sane function count.
func validPclntab(data []byte) bool {
	t, err := gosym.NewLineTable(data)
	if err != nil {
		return false
	}
	n := t.NumFuncs()
	return n > 0 && n < 10_000_000
}
