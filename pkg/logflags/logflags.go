package logflags

import (
	"errors"
	"io"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var binfile = false
var locate = false
var buildinfo = false
var gosym = false
var extract = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Binfile returns true if the executable container layer should log.
func Binfile() bool {
	return binfile
}

// BinfileLogger returns a logger for the executable container layer.
func BinfileLogger() *logrus.Entry {
	return makeLogger(binfile, logrus.Fields{"layer": "binfile"})
}

// Locate returns true if the runtime data locator should log.
func Locate() bool {
	return locate
}

// LocateLogger returns a logger for the runtime data locator.
func LocateLogger() *logrus.Entry {
	return makeLogger(locate, logrus.Fields{"layer": "locate"})
}

// BuildInfo returns true if the build info decoder should log.
func BuildInfo() bool {
	return buildinfo
}

// BuildInfoLogger returns a logger for the build info decoder.
func BuildInfoLogger() *logrus.Entry {
	return makeLogger(buildinfo, logrus.Fields{"layer": "buildinfo"})
}

// Gosym returns true if the symbol table reader should log its
// recoverable errors.
func Gosym() bool {
	return gosym
}

// GosymLogger returns a logger for the symbol table reader.
func GosymLogger() *logrus.Entry {
	return makeLogger(gosym, logrus.Fields{"layer": "gosym"})
}

// Extract returns true if the extraction pipeline should log.
func Extract() bool {
	return extract
}

// ExtractLogger returns a logger for the extraction pipeline.
func ExtractLogger() *logrus.Entry {
	return makeLogger(extract, logrus.Fields{"layer": "extract"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "extract"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "binfile":
			binfile = true
		case "locate":
			locate = true
		case "buildinfo":
			buildinfo = true
		case "gosym":
			gosym = true
		case "extract":
			extract = true
		}
	}
	return nil
}
