package main

import (
	"os"

	"github.com/aboutcode-org/go-inspector/cmd/goinspect/cmds"
	"github.com/aboutcode-org/go-inspector/pkg/config"
)

func main() {
	conf := config.LoadConfig()
	if err := cmds.New(conf).Execute(); err != nil {
		os.Exit(1)
	}
}
