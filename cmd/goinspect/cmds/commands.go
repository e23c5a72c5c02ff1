// Package cmds implements the goinspect command line interface.
package cmds

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/procfs"
	"github.com/spf13/cobra"

	"github.com/aboutcode-org/go-inspector/pkg/config"
	"github.com/aboutcode-org/go-inspector/pkg/extract"
	"github.com/aboutcode-org/go-inspector/pkg/logflags"
	"github.com/aboutcode-org/go-inspector/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// attachPid is the process id of a running process whose executable
	// should be scanned.
	attachPid int

	conf *config.Config
)

// New returns an initialized command tree.
func New(c *config.Config) *cobra.Command {
	conf = c

	rootCommand := &cobra.Command{
		Use:   "goinspect",
		Short: "goinspect extracts build metadata from Go binaries.",
		Long: `goinspect reads compiled Go executables (ELF, PE and Mach-O) and
recovers the metadata the toolchain embedded in them: the Go version and
module dependency graph from the build info blob, and the source file
paths from the runtime function tables. Stripped binaries are supported.`,
	}
	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (eg: --log-output=binfile,gosym)
Available components:
  binfile    executable container parsing
  locate     runtime data location and magic scanning
  buildinfo  build info blob decoding
  gosym      function and file table decoding
  extract    the extraction pipeline`)

	scanCommand := &cobra.Command{
		Use:   "scan <binary>...",
		Short: "Extract build metadata from the given Go binaries.",
		Long: `Extract build metadata from the given Go binaries.

Each binary is scanned concurrently and the result is printed as JSON.
For a single binary the result object is printed on its own, for several
the output is an object keyed by path. A binary that is a valid
executable but not a Go program produces an empty result.`,
		RunE: scanCmd,
	}
	scanCommand.Flags().IntVar(&attachPid, "pid", 0, "Scan the executable of the running process with this pid.")
	rootCommand.AddCommand(scanCommand)

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("goinspect\n%s\n", version.GoInspectorVersion)
			fmt.Printf("Build Details: %s\n", version.BuildInfo())
		},
	}
	rootCommand.AddCommand(versionCommand)

	return rootCommand
}

func scanCmd(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	if err := logflags.Setup(log, logOutput); err != nil {
		return err
	}

	targets := args
	if attachPid > 0 {
		exe, err := exeForPid(attachPid)
		if err != nil {
			return fmt.Errorf("cannot resolve executable of pid %d: %w", attachPid, err)
		}
		targets = append(targets, exe)
	}
	if len(targets) == 0 {
		cmd.SilenceUsage = false
		return errors.New("no binaries to scan")
	}

	extractor := extract.New(conf)
	results := make([]*extract.Result, len(targets))
	errs := make([]error, len(targets))

	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = extractor.ExtractFile(targets[i])
		}(i)
	}
	wg.Wait()

	failed := false
	for i, err := range errs {
		if err != nil {
			failed = true
			fmt.Fprintf(os.Stderr, "%s: %v\n", targets[i], err)
		}
	}

	var out []byte
	var err error
	if len(targets) == 1 {
		if results[0] != nil {
			out, err = json.MarshalIndent(results[0], "", "  ")
		}
	} else {
		byPath := make(map[string]*extract.Result, len(targets))
		for i, res := range results {
			if res != nil {
				byPath[targets[i]] = res
			}
		}
		out, err = json.MarshalIndent(byPath, "", "  ")
	}
	if err != nil {
		return err
	}
	if out != nil {
		fmt.Println(string(out))
	}
	if failed {
		return errors.New("some binaries could not be scanned")
	}
	return nil
}

// exeForPid resolves the executable behind a running process through
// /proc. Only meaningful on Linux.
func exeForPid(pid int) (string, error) {
	p, err := procfs.NewProc(pid)
	if err != nil {
		return "", err
	}
	return p.Executable()
}
