package logflags

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func resetFlags() {
	binfile = false
	locate = false
	buildinfo = false
	gosym = false
	extract = false
}

func TestSetup(t *testing.T) {
	defer resetFlags()

	if err := Setup(true, "binfile,gosym"); err != nil {
		t.Fatal(err)
	}
	if !Binfile() || !Gosym() {
		t.Error("requested components not enabled")
	}
	if Locate() || BuildInfo() || Extract() {
		t.Error("unrequested components enabled")
	}
}

func TestSetupDefaultComponent(t *testing.T) {
	defer resetFlags()

	if err := Setup(true, ""); err != nil {
		t.Fatal(err)
	}
	if !Extract() {
		t.Error("default component not enabled")
	}
}

func TestSetupOutputWithoutLog(t *testing.T) {
	defer resetFlags()

	if err := Setup(false, "extract"); err == nil {
		t.Error("expected an error for --log-output without --log")
	}
}

func TestLayerLoggersFollowSetup(t *testing.T) {
	defer resetFlags()

	if err := Setup(true, "binfile,buildinfo"); err != nil {
		t.Fatal(err)
	}
	for name, entry := range map[string]*logrus.Entry{
		"binfile":   BinfileLogger(),
		"buildinfo": BuildInfoLogger(),
	} {
		if entry.Logger.Level != logrus.DebugLevel {
			t.Errorf("%s logger not at debug level after Setup", name)
		}
	}
	for name, entry := range map[string]*logrus.Entry{
		"locate":  LocateLogger(),
		"gosym":   GosymLogger(),
		"extract": ExtractLogger(),
	} {
		if entry.Logger.Level != logrus.PanicLevel {
			t.Errorf("%s logger enabled without being requested", name)
		}
	}
}

func TestMakeLogger(t *testing.T) {
	enabled := makeLogger(true, logrus.Fields{"layer": "test"})
	if enabled.Logger.Level != logrus.DebugLevel {
		t.Errorf("enabled logger level = %v", enabled.Logger.Level)
	}
	disabled := makeLogger(false, logrus.Fields{"layer": "test"})
	if disabled.Logger.Level != logrus.PanicLevel {
		t.Errorf("disabled logger level = %v", disabled.Logger.Level)
	}
}
