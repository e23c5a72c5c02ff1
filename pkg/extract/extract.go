// Package extract runs the full metadata extraction pipeline over Go
// executables: container parsing, runtime data location, build info
// decoding and source file path recovery.
package extract

import (
	"crypto/sha256"
	"encoding/json"
	"os"
	"sort"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/aboutcode-org/go-inspector/pkg/binfile"
	"github.com/aboutcode-org/go-inspector/pkg/buildinfo"
	"github.com/aboutcode-org/go-inspector/pkg/config"
	"github.com/aboutcode-org/go-inspector/pkg/goruntime"
	"github.com/aboutcode-org/go-inspector/pkg/gosym"
	"github.com/aboutcode-org/go-inspector/pkg/goversion"
	"github.com/aboutcode-org/go-inspector/pkg/logflags"
)

// Result is the extraction outcome for one executable. A Go binary with
// no recoverable metadata yields an empty result, not an error.
type Result struct {
	BuildInfo *buildinfo.BuildInfo
	FilePaths []string
}

// MarshalJSON emits the result contract: build_info is {} when nothing
// was recovered and file_paths is always an array, never null.
func (r *Result) MarshalJSON() ([]byte, error) {
	out := struct {
		BuildInfo interface{} `json:"build_info"`
		FilePaths []string    `json:"file_paths"`
	}{
		BuildInfo: struct{}{},
		FilePaths: r.FilePaths,
	}
	if r.BuildInfo != nil {
		out.BuildInfo = r.BuildInfo
	}
	if out.FilePaths == nil {
		out.FilePaths = []string{}
	}
	return json.Marshal(out)
}

// Extractor runs extractions, memoizing results by content hash.
type Extractor struct {
	loc   *goruntime.Locator
	cache *lru.Cache
	log   *logrus.Entry
}

// New returns an Extractor configured by conf, which may be nil for
// defaults.
func New(conf *config.Config) *Extractor {
	e := &Extractor{
		loc: goruntime.NewLocator(conf.MaxScanBytesOrDefault()),
		log: logflags.ExtractLogger(),
	}
	if size := conf.CacheSizeOrDefault(); size > 0 {
		// Only fails for non-positive sizes.
		e.cache, _ = lru.New(size)
	}
	return e
}

// ExtractFile extracts metadata from the executable at path.
func (e *Extractor) ExtractFile(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if e.cache == nil {
		return e.ExtractBytes(data)
	}
	key := sha256.Sum256(data)
	if res, ok := e.cache.Get(key); ok {
		e.log.Debugf("cache hit for %s", path)
		return res.(*Result), nil
	}
	res, err := e.ExtractBytes(data)
	if err == nil {
		e.cache.Add(key, res)
	}
	return res, err
}

// ExtractBytes extracts metadata from an executable image held in memory.
func (e *Extractor) ExtractBytes(data []byte) (*Result, error) {
	f, err := binfile.OpenBytes(data)
	if err != nil {
		return nil, err
	}
	return e.Extract(f)
}

// Extract extracts metadata from an open executable image.
func (e *Extractor) Extract(f *binfile.File) (*Result, error) {
	res := &Result{FilePaths: []string{}}

	biRange, err := e.loc.FindBuildInfo(f)
	if err != nil {
		return nil, err
	}
	if biRange != nil {
		bi, err := buildinfo.Decode(f, biRange.Data)
		if err != nil {
			// An unreadable blob downgrades to absent build info, the
			// file paths may still be recoverable.
			e.log.WithError(err).Warn("discarding unreadable build info")
		} else {
			res.BuildInfo = bi
		}
	}

	tabRange, err := e.loc.FindPclntab(f)
	if err != nil {
		return nil, err
	}
	if tabRange == nil {
		if res.BuildInfo == nil {
			e.log.Debug("no Go runtime data found, likely not a Go binary")
		}
		return res, nil
	}
	lt, err := gosym.NewLineTable(tabRange.Data)
	if err != nil {
		return nil, err
	}
	e.checkVersionAgreement(res.BuildInfo, lt)
	// Walking the symbols validates the whole functab, a declared count
	// that reads past the table end must fail the run.
	syms, err := lt.Symbols()
	if err != nil {
		return nil, err
	}
	files, err := lt.Files()
	if err != nil {
		return nil, err
	}
	res.FilePaths = normalizePaths(files)
	e.log.Debugf("recovered %d symbols, %d file paths", len(syms), len(res.FilePaths))
	return res, nil
}

// checkVersionAgreement compares the toolchain version the build info
// claims against the runtime table generation actually found in the
// image. A mismatch means one of the two was tampered with or corrupted,
// which is worth surfacing but not fatal.
func (e *Extractor) checkVersionAgreement(bi *buildinfo.BuildInfo, lt *gosym.LineTable) {
	if bi == nil {
		return
	}
	ver, ok := goversion.Parse(bi.GoVersion)
	if !ok {
		return
	}
	if ver.IsDevel() {
		e.log.Debugf("binary built with development toolchain %q", bi.GoVersion)
		return
	}
	if !lt.CompatibleGoVersion(ver.Major, ver.Minor) {
		e.log.Warnf("build info claims %s but the runtime tables belong to a different Go generation", bi.GoVersion)
	}
}

// normalizePaths drops empty and invalid entries, sorts byte-wise and
// deduplicates.
func normalizePaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" || !utf8.ValidString(p) {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	j := 0
	for i, p := range out {
		if i > 0 && p == out[j-1] {
			continue
		}
		out[j] = p
		j++
	}
	return out[:j]
}
