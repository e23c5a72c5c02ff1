package extract

import (
	"os"

	"github.com/aboutcode-org/go-inspector/pkg/binfile"
)

// IsExecutableBinary reports whether the file at path announces one of
// the supported executable container formats. It is an advisory gate for
// scanners walking large trees, Extract still validates the image itself.
func IsExecutableBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var magic [4]byte
	if _, err := f.ReadAt(magic[:], 0); err != nil {
		return false
	}
	_, ok := binfile.Sniff(magic[:])
	return ok
}
